package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/feather-lang/rpy"
	"github.com/peterh/liner"
)

// printHelper evaluates each top-level expression of src in the global
// environment and prints the visible ones, as R's own console does.
const printHelper = `function(src) {
    for (e in parse(text = src)) {
        res <- withVisible(eval(e, envir = globalenv()))
        if (res$visible) print(res$value)
    }
    invisible(NULL)
}`

// prompter reads lines of input. *liner.State implements it.
type prompter interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

// lineEditor is a liner session that saves its history on Close.
type lineEditor struct {
	*liner.State
	history string
}

func newLiner(history string) *lineEditor {
	ln := liner.NewLiner()
	ln.SetCtrlCAborts(true)
	if history != "" {
		if f, err := os.Open(history); err == nil {
			ln.ReadHistory(f)
			f.Close()
		}
	}
	return &lineEditor{State: ln, history: history}
}

func (e *lineEditor) Close() error {
	if e.history != "" {
		if f, err := os.Create(e.history); err == nil {
			e.WriteHistory(f)
			f.Close()
		}
	}
	return e.State.Close()
}

func printer(ctx context.Context, r *rpy.R) (*rpy.Object, error) {
	v, err := r.Eval(rpy.WithMode(ctx, rpy.NoConversion), printHelper)
	if err != nil {
		return nil, err
	}
	fn, ok := v.(*rpy.Object)
	if !ok {
		return nil, &rpy.ConversionError{Value: v, Reason: "print helper is not a function"}
	}
	return fn, nil
}

// evalPrint evaluates src and prints visible values to R's console.
func (o *options) evalPrint(ctx context.Context, r *rpy.R, src string) error {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	show, err := printer(ctx, r)
	if err != nil {
		return err
	}
	_, err = show.Call(ctx, src)
	return err
}

// repl runs an interactive session until end of input or until ctx is
// canceled.
func (o *options) repl(ctx context.Context, r *rpy.R, p prompter) error {
	if c, ok := p.(io.Closer); ok {
		defer c.Close()
	}
	show, err := printer(ctx, r)
	if err != nil {
		return err
	}
	// readline() and menu() prompt through the same editor.
	if err := r.SetInput(ctx, p.Prompt); err != nil {
		return err
	}
	fmt.Fprintln(o.stdout, r)

	var buf strings.Builder
	for ctx.Err() == nil {
		prompt := "> "
		if buf.Len() > 0 {
			prompt = "+ "
		}
		line, err := p.Prompt(prompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			buf.Reset()
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(o.stdout)
			return nil
		case err != nil:
			return err
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(line)
		src := buf.String()
		if strings.TrimSpace(src) == "" {
			buf.Reset()
			continue
		}

		pr, err := r.Check(ctx, src)
		if err != nil {
			return err
		}
		if pr.Status == rpy.ParseIncomplete {
			continue
		}
		buf.Reset()
		p.AppendHistory(src)

		if pr.Status == rpy.ParseError {
			fmt.Fprintf(o.stderr, "Error: %s\n", pr.Message)
			continue
		}
		if _, err := show.Call(ctx, src); err != nil {
			fmt.Fprintln(o.stderr, err)
		}
	}
	return nil
}
