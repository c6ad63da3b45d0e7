// Package rtest provides an in-memory [rpy.Backend] for tests.
//
// The fake backend keeps a symbol table of Go values and Go functions,
// implements the handful of R functions the rpy package relies on (get,
// parse, eval, options, help, print) and records what it was asked to do.
// It also detects overlapping calls, so tests can check that callers
// never drive it from two goroutines at once.
//
//	b := rtest.New()
//	b.Define("x", []float64{1, 2, 3})
//	r, err := rpy.New(b, rpy.Config{NoEventLoop: true})
package rtest

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/feather-lang/rpy"
)

// NA is the fake backend's representation of R's logical NA.
var NA = naValue{}

type naValue struct{}

func (naValue) String() string { return "NA" }

// Func is the Go implementation of a fake R function. Named arguments
// are passed separately from positional ones.
type Func func(args []any, named map[string]any) (any, error)

// Obj is the fake backend's reference to an R object.
type Obj struct {
	b     *Backend
	Name  string
	Class []string
	Value any
	Fn    Func
}

// Call implements rpy.Robj.
func (o *Obj) Call(args ...any) (any, error) {
	o.b.enter()
	defer o.b.leave()
	if o.Fn == nil {
		return nil, &rpy.RError{Call: o.Name + "()", Message: "attempt to apply non-function"}
	}
	var pos []any
	named := map[string]any{}
	for _, a := range args {
		if n, ok := a.(rpy.Named); ok {
			named[n.Name] = n.Value
			continue
		}
		pos = append(pos, a)
	}
	o.b.record(o.Name)
	v, err := o.Fn(pos, named)
	if err != nil {
		return nil, err
	}
	return o.b.convert(v)
}

func (o *Obj) String() string {
	if o.Name != "" {
		return "<rtest " + o.Name + ">"
	}
	return fmt.Sprintf("<rtest %v>", o.Value)
}

// Expr is the value of a parsed expression.
type Expr string

// Backend is a scriptable fake of the R runtime. The zero value is not
// usable; create one with [New].
type Backend struct {
	mu      sync.Mutex
	symbols map[string]*Obj
	scripts map[string]func() (any, error)
	mode    rpy.Mode
	modes   []rpy.Mode
	calls   []string
	lookups map[string]int
	evals   []string
	options map[string]any
	printed []any

	out       rpy.OutputFunc
	in        rpy.InputFunc
	showFiles rpy.ShowFilesFunc

	classConv map[string]rpy.ConvertFunc
	procConv  []procConverter

	// InitErr, if set, is returned by Init.
	InitErr error

	// OnEvents, if set, runs on every ProcessEvents call and its error
	// is returned.
	OnEvents func() error

	initialized bool
	cleaned     bool
	numeric     bool
	events      atomic.Int64
	active      atomic.Int32
	polling     atomic.Bool
	overlaps    atomic.Int64
}

type procConverter struct {
	match rpy.MatchFunc
	fn    rpy.ConvertFunc
}

// New returns a fake backend with R's base symbols defined.
func New() *Backend {
	b := &Backend{
		symbols:   make(map[string]*Obj),
		mode:      rpy.NoDefault,
		scripts:   make(map[string]func() (any, error)),
		lookups:   make(map[string]int),
		options:   make(map[string]any),
		classConv: make(map[string]rpy.ConvertFunc),
	}
	b.Define("T", true)
	b.Define("F", false)
	b.Define("R.version.string", "R version 4.3.1 (2023-06-16)")
	b.DefineFunc("get", b.get)
	b.DefineFunc("parse", b.parse)
	b.DefineFunc("eval", b.eval)
	b.DefineFunc("options", b.setOptions)
	b.DefineFunc("help", b.help)
	b.DefineFunc("print", b.print)
	b.Script("NA", func() (any, error) { return NA, nil })
	b.Script("as.double(NA)", func() (any, error) { return math.NaN(), nil })
	return b
}

// Define binds name to a Go value.
func (b *Backend) Define(name string, v any) *Obj {
	o := &Obj{b: b, Name: name, Value: v}
	b.mu.Lock()
	b.symbols[name] = o
	b.mu.Unlock()
	return o
}

// DefineClass binds name to a value carrying an R class attribute.
func (b *Backend) DefineClass(name string, class []string, v any) *Obj {
	o := b.Define(name, v)
	o.Class = class
	return o
}

// DefineFunc binds name to a Go function.
func (b *Backend) DefineFunc(name string, fn Func) *Obj {
	o := &Obj{b: b, Name: name, Fn: fn}
	b.mu.Lock()
	b.symbols[name] = o
	b.mu.Unlock()
	return o
}

// Undefine removes name from the symbol table.
func (b *Backend) Undefine(name string) {
	b.mu.Lock()
	delete(b.symbols, name)
	b.mu.Unlock()
}

// Script makes eval of the exact source src return fn's result. Sources
// without a script evaluate as symbol lookups.
func (b *Backend) Script(src string, fn func() (any, error)) {
	b.mu.Lock()
	b.scripts[src] = fn
	b.mu.Unlock()
}

// Init implements rpy.Backend.
func (b *Backend) Init(numeric bool) error {
	b.enter()
	defer b.leave()
	if b.InitErr != nil {
		return b.InitErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return errors.New("rtest: already initialized")
	}
	b.initialized = true
	b.numeric = numeric
	return nil
}

// Cleanup implements rpy.Backend.
func (b *Backend) Cleanup() error {
	b.enter()
	defer b.leave()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleaned = true
	return nil
}

// Mode implements rpy.Backend.
func (b *Backend) Mode() rpy.Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mode
}

// SetMode implements rpy.Backend.
func (b *Backend) SetMode(m rpy.Mode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mode = m
	b.modes = append(b.modes, m)
}

// Fun implements rpy.Backend.
func (b *Backend) Fun(name string) (rpy.Robj, error) {
	b.enter()
	defer b.leave()
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.symbols[name]
	if !ok || o.Fn == nil {
		return nil, &rpy.RError{Message: fmt.Sprintf("could not find function %q", name)}
	}
	return o, nil
}

// ProcessEvents implements rpy.Backend.
func (b *Backend) ProcessEvents() error {
	if b.active.Load() > 0 || !b.polling.CompareAndSwap(false, true) {
		b.overlaps.Add(1)
	}
	defer b.polling.Store(false)
	b.events.Add(1)
	if b.OnEvents != nil {
		return b.OnEvents()
	}
	return nil
}

func (b *Backend) SetOutput(fn rpy.OutputFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.out = fn
}

func (b *Backend) SetInput(fn rpy.InputFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.in = fn
}

func (b *Backend) SetShowFiles(fn rpy.ShowFilesFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.showFiles = fn
}

func (b *Backend) Output() rpy.OutputFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out
}

func (b *Backend) Input() rpy.InputFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.in
}

func (b *Backend) ShowFiles() rpy.ShowFilesFunc {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.showFiles
}

// SetClassConverter implements rpy.ConverterTables.
func (b *Backend) SetClassConverter(classes []string, fn rpy.ConvertFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.classConv[strings.Join(classes, ",")] = fn
}

// AddProcConverter implements rpy.ConverterTables.
func (b *Backend) AddProcConverter(match rpy.MatchFunc, fn rpy.ConvertFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.procConv = append(b.procConv, procConverter{match: match, fn: fn})
}

// CheckSource implements rpy.SourceChecker by counting brackets.
func (b *Backend) CheckSource(src string) rpy.ParseResult {
	depth := 0
	for _, c := range src {
		switch c {
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		}
		if depth < 0 {
			return rpy.ParseResult{Status: rpy.ParseError, Message: "unexpected '" + string(c) + "'"}
		}
	}
	if depth > 0 {
		return rpy.ParseResult{Status: rpy.ParseIncomplete}
	}
	return rpy.ParseResult{Status: rpy.ParseOK}
}

// Initialized reports whether Init succeeded.
func (b *Backend) Initialized() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initialized
}

// Numeric reports the flag passed to Init.
func (b *Backend) Numeric() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.numeric
}

// CleanedUp reports whether Cleanup was called.
func (b *Backend) CleanedUp() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleaned
}

// Events returns the number of ProcessEvents calls.
func (b *Backend) Events() int64 { return b.events.Load() }

// Overlaps returns how many times the backend was entered while another
// call was still in progress.
func (b *Backend) Overlaps() int64 { return b.overlaps.Load() }

// Lookups returns how many times get was asked for name.
func (b *Backend) Lookups(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lookups[name]
}

// Calls returns the names of the functions called, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Evaluated returns the sources passed to eval, in order.
func (b *Backend) Evaluated() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.evals...)
}

// ModeHistory returns every mode set, in order.
func (b *Backend) ModeHistory() []rpy.Mode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]rpy.Mode(nil), b.modes...)
}

// Option returns an option set through options().
func (b *Backend) Option(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.options[name]
	return v, ok
}

// Printed returns the values passed to print, in order.
func (b *Backend) Printed() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.printed...)
}

// enter and leave bracket every entry point that drives R. Calls may
// nest (a function calling back into the backend), but event processing
// never does, so an overlap is an event poll that starts while a call is
// active or a call that starts during a poll.
func (b *Backend) enter() {
	b.active.Add(1)
	if b.polling.Load() {
		b.overlaps.Add(1)
	}
}

func (b *Backend) leave() { b.active.Add(-1) }

func (b *Backend) record(name string) {
	b.mu.Lock()
	b.calls = append(b.calls, name)
	b.mu.Unlock()
}
