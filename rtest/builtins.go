package rtest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/feather-lang/rpy"
)

// HelpClass is the class of objects returned by the fake help.
const HelpClass = "help_files_with_topic"

func (b *Backend) get(args []any, named map[string]any) (any, error) {
	if len(args) != 1 {
		return nil, &rpy.RError{Call: "get()", Message: "argument \"x\" is missing, with no default"}
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, &rpy.RError{Call: "get()", Message: "invalid first argument"}
	}
	b.mu.Lock()
	b.lookups[name]++
	o, ok := b.symbols[name]
	b.mu.Unlock()
	if !ok {
		return nil, &rpy.RError{Call: "get(" + strconv.Quote(name) + ")", Message: "object '" + name + "' not found"}
	}
	return o, nil
}

func (b *Backend) parse(args []any, named map[string]any) (any, error) {
	text, ok := named["text"].(string)
	if !ok {
		return nil, &rpy.RError{Call: "parse()", Message: "'text' must be a character string"}
	}
	if pr := b.CheckSource(text); pr.Status != rpy.ParseOK {
		msg := pr.Message
		if pr.Status == rpy.ParseIncomplete {
			msg = "unexpected end of input"
		}
		return nil, &rpy.RError{Call: "parse(text = " + strconv.Quote(text) + ")", Message: "<text>:1:1: " + msg}
	}
	return &Obj{b: b, Value: Expr(text)}, nil
}

func (b *Backend) eval(args []any, named map[string]any) (any, error) {
	if len(args) != 1 {
		return nil, &rpy.RError{Call: "eval()", Message: "argument \"expr\" is missing, with no default"}
	}
	var src string
	switch e := args[0].(type) {
	case *Obj:
		x, ok := e.Value.(Expr)
		if !ok {
			return e, nil
		}
		src = string(x)
	case Expr:
		src = string(e)
	default:
		return e, nil
	}

	b.mu.Lock()
	b.evals = append(b.evals, src)
	script, scripted := b.scripts[src]
	o, defined := b.symbols[src]
	b.mu.Unlock()

	switch {
	case scripted:
		return script()
	case defined:
		return o, nil
	case strings.HasPrefix(src, "options(") && strings.HasSuffix(src, ")"):
		b.recordOptions(src[len("options(") : len(src)-1])
		return nil, nil
	case strings.HasPrefix(src, "stop(") && strings.HasSuffix(src, ")"):
		msg := strings.Trim(src[len("stop("):len(src)-1], `"'`)
		return nil, &rpy.RError{Call: "eval(expr)", Message: msg}
	}
	if f, err := strconv.ParseFloat(src, 64); err == nil {
		return f, nil
	}
	if s, err := strconv.Unquote(src); err == nil {
		return s, nil
	}
	return nil, &rpy.RError{Call: "eval(expr)", Message: "object '" + src + "' not found"}
}

// recordOptions stores "a = x, b=y" as raw option strings.
func (b *Backend) recordOptions(list string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, kv := range strings.Split(list, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		b.options[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
}

func (b *Backend) setOptions(args []any, named map[string]any) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range named {
		b.options[k] = v
	}
	return nil, nil
}

func (b *Backend) help(args []any, named map[string]any) (any, error) {
	topic, ok := named["topic"]
	if !ok && len(args) > 0 {
		topic = args[0]
	}
	if topic == nil {
		return nil, &rpy.RError{Call: "help()", Message: "no topic given"}
	}
	return &Obj{b: b, Class: []string{HelpClass}, Value: fmt.Sprint(topic)}, nil
}

func (b *Backend) print(args []any, named map[string]any) (any, error) {
	if len(args) != 1 {
		return nil, &rpy.RError{Call: "print()", Message: "argument \"x\" is missing, with no default"}
	}
	x := args[0]
	text := fmt.Sprint(x)
	if o, ok := x.(*Obj); ok {
		text = fmt.Sprint(o.Value)
		if len(o.Class) == 1 && o.Class[0] == HelpClass {
			text = "help: " + text
		}
	}

	b.mu.Lock()
	b.printed = append(b.printed, x)
	out := b.out
	b.mu.Unlock()
	if out != nil {
		out(text+"\n", false)
	}
	return x, nil
}
