package rpy

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Version is the version of this package.
const Version = "0.3.0"

// R is the entry point to an embedded R interpreter.
//
// Symbols are resolved lazily through R's "get" function and cached for
// the lifetime of the instance: once a name has been resolved, later
// changes to R's symbol table are not observed for that name.
//
//	r, err := rpy.New(native.New(native.Config{}), rpy.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	v, err := r.Eval(ctx, "sum(1:10)") // 55
type R struct {
	backend Backend
	loop    *Loop
	cfg     Config
	logger  Logger

	mu    sync.Mutex
	cache map[string]any

	get  *Object
	help Func

	// True, False, NA and NaN hold R's TRUE, FALSE, NA and
	// as.double(NA), converted with the mode in effect at startup.
	True  any
	False any
	NA    any
	NaN   any

	closeOnce sync.Once
	closeErr  error
}

// New initializes the backend and returns a ready R instance.
//
// Initialization failures are fatal: the backend is cleaned up and no
// instance is returned.
func New(b Backend, cfg Config) (*R, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	r := &R{
		backend: b,
		cfg:     cfg,
		logger:  cfg.Logger,
		cache:   make(map[string]any),
	}
	r.loop = NewLoop(b, cfg.Interval, cfg.Logger)

	ctx := context.Background()
	started := false
	err := r.loop.Do(ctx, func(ctx context.Context, b Backend) error {
		r.setupConsole(b)
		return r.init(ctx, b, &started)
	})
	if err != nil {
		var cleanup func(Backend) error
		if started {
			cleanup = func(b Backend) error { return b.Cleanup() }
		}
		r.loop.Close(cleanup)
		return nil, err
	}

	if !cfg.NoEventLoop {
		if err := r.loop.Start(); err != nil {
			return nil, err
		}
		r.verbosef("event loop started (interval %s)", cfg.Interval)
	}
	return r, nil
}

func (r *R) init(ctx context.Context, b Backend, started *bool) error {
	r.verbosef("initializing R (numeric=%t)", r.cfg.Numeric)
	if err := b.Init(r.cfg.Numeric); err != nil {
		r.logger.Logf("init failed: %v", err)
		return fmt.Errorf("rpy: init: %w", err)
	}
	*started = true
	b.SetMode(NoDefault)

	// Every later lookup goes through get, so it is bootstrapped with the
	// backend's direct lookup.
	get, err := b.Fun("get")
	if err != nil {
		return fmt.Errorf("rpy: init: resolve get: %w", err)
	}
	r.get = &Object{r: r, obj: get, name: "get"}
	r.cache["get"] = r.get

	if _, err := r.Eval(ctx, "options(error = expression(NULL))"); err != nil {
		return fmt.Errorf("rpy: init: %w", err)
	}

	if r.True, err = r.Get(ctx, "T"); err != nil {
		return fmt.Errorf("rpy: init: %w", err)
	}
	if r.False, err = r.Get(ctx, "F"); err != nil {
		return fmt.Errorf("rpy: init: %w", err)
	}
	if r.NA, err = r.Eval(ctx, "NA"); err != nil {
		return fmt.Errorf("rpy: init: %w", err)
	}
	if r.NaN, err = r.Eval(ctx, "as.double(NA)"); err != nil {
		return fmt.Errorf("rpy: init: %w", err)
	}

	help, err := r.Fn(ctx, "help")
	if err != nil {
		return fmt.Errorf("rpy: init: %w", err)
	}
	r.help = r.WithMode(NoConversion, help.Call)

	if runtime.GOOS == "windows" {
		if _, err := r.Eval(ctx, "options(windowsBuffered=FALSE)"); err != nil {
			return fmt.Errorf("rpy: init: %w", err)
		}
	}

	if !r.cfg.ShowErrorMessages {
		opts, err := r.Fn(ctx, "options")
		if err != nil {
			return fmt.Errorf("rpy: init: %w", err)
		}
		if _, err := opts.Call(ctx, Kw("show.error.messages", false)); err != nil {
			return fmt.Errorf("rpy: init: %w", err)
		}
	}
	r.verbosef("R initialized")
	return nil
}

func (r *R) setupConsole(b Backend) {
	c := NewConsole(r.cfg.Stdin, r.cfg.Stdout, r.cfg.Stderr)
	if !r.cfg.NoConsoleOutput {
		fn := r.cfg.Output
		if fn == nil {
			fn = c.Write
		}
		b.SetOutput(fn)
	} else {
		r.verbosef("skipping console write support")
	}
	if !r.cfg.NoConsoleInput {
		fn := r.cfg.Input
		if fn == nil {
			fn = c.Read
		}
		b.SetInput(fn)
	} else {
		r.verbosef("skipping console read support")
	}
	if runtime.GOOS == "windows" {
		return
	}
	if !r.cfg.NoShowFiles {
		fn := r.cfg.ShowFiles
		if fn == nil {
			fn = c.ShowFiles
		}
		b.SetShowFiles(fn)
	} else {
		r.verbosef("skipping console file viewer support")
	}
}

func (r *R) verbosef(format string, args ...any) {
	if r.cfg.Verbose {
		r.logger.Logf(format, args...)
	}
}

// Get returns the value bound to name in R, resolving it on first use.
//
// The result is converted with the current mode at the time of the first
// lookup and cached; later calls return the cached value, so handles
// compare equal by identity. Lookup errors are returned unchanged and
// are not cached.
func (r *R) Get(ctx context.Context, name string) (any, error) {
	if v, ok := r.cached(name); ok {
		return v, nil
	}

	// The check and the lookup happen under the loop so that a name is
	// resolved at most once.
	var v any
	err := r.loop.Do(ctx, func(ctx context.Context, _ Backend) error {
		if cached, ok := r.cached(name); ok {
			v = cached
			return nil
		}
		out, err := r.get.Call(ctx, name)
		if err != nil {
			return err
		}
		if o, ok := out.(*Object); ok && o.name == "" {
			o.name = name
		}
		r.mu.Lock()
		r.cache[name] = out
		r.mu.Unlock()
		v = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (r *R) cached(name string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.cache[name]
	return v, ok
}

// Attr resolves a Go-friendly name (see [NormalizeName]) and returns its
// value. Dunder-style names return [ErrReservedName].
//
//	r.Attr(ctx, "print_")      // R's print
//	r.Attr(ctx, "row_names__") // R's `row.names<-`
func (r *R) Attr(ctx context.Context, name string) (any, error) {
	if IsReserved(name) {
		return nil, fmt.Errorf("%w: %s", ErrReservedName, name)
	}
	return r.Get(ctx, NormalizeName(name))
}

// Fn is like [R.Get] but requires the value to be an R object handle,
// such as a function.
func (r *R) Fn(ctx context.Context, name string) (*Object, error) {
	v, err := r.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	o, ok := v.(*Object)
	if !ok {
		return nil, &ConversionError{Value: v, Reason: name + " is not an R object"}
	}
	return o, nil
}

// Call resolves name with [R.Attr] and calls it.
func (r *R) Call(ctx context.Context, name string, args ...any) (any, error) {
	v, err := r.Attr(ctx, name)
	if err != nil {
		return nil, err
	}
	o, ok := v.(*Object)
	if !ok {
		return nil, &ConversionError{Value: v, Reason: name + " is not callable"}
	}
	return o.Call(ctx, args...)
}

// Eval parses src as R code and evaluates it in the global environment.
func (r *R) Eval(ctx context.Context, src string) (any, error) {
	parse, err := r.Fn(ctx, "parse")
	if err != nil {
		return nil, err
	}
	eval, err := r.Fn(ctx, "eval")
	if err != nil {
		return nil, err
	}
	form, err := parse.Call(WithMode(ctx, NoConversion), Kw("text", src))
	if err != nil {
		return nil, err
	}
	return eval.Call(ctx, form)
}

// Help looks up R documentation and renders it immediately.
//
// R's help returns an object that is only displayed when printed; Help
// prints it so the page reaches the console.
func (r *R) Help(ctx context.Context, args ...any) error {
	page, err := r.help(ctx, args...)
	if err != nil {
		return err
	}
	v, err := r.Attr(ctx, "print_")
	if err != nil {
		return err
	}
	pr, ok := v.(*Object)
	if !ok {
		return &ConversionError{Value: v, Reason: "print is not callable"}
	}
	_, err = pr.Call(WithMode(ctx, NoConversion), page)
	return err
}

// WithMode wraps fn so that it runs with the conversion mode set to m.
// The previous mode is restored when fn returns, fails or panics.
func (r *R) WithMode(m Mode, fn Func) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		var out any
		err := r.loop.Do(ctx, func(ctx context.Context, b Backend) error {
			return InMode(b, m, func() error {
				var err error
				out, err = fn(WithMode(ctx, m), args...)
				return err
			})
		})
		return out, err
	}
}

// DefaultMode returns the current conversion mode.
func (r *R) DefaultMode(ctx context.Context) (Mode, error) {
	var m Mode
	err := r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		m = b.Mode()
		return nil
	})
	return m, err
}

// SetDefaultMode sets the conversion mode used by calls that do not
// carry their own.
func (r *R) SetDefaultMode(ctx context.Context, m Mode) error {
	if !m.Valid() {
		return fmt.Errorf("%w: invalid mode %d", ErrConfiguration, int(m))
	}
	return r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		b.SetMode(m)
		return nil
	})
}

// SetClassConverter registers fn for R objects whose class attribute
// matches classes. Converters run with [BasicConversion].
func (r *R) SetClassConverter(ctx context.Context, classes []string, fn func(context.Context, *Object) (any, error)) error {
	return r.loop.Do(ctx, func(ctx context.Context, b Backend) error {
		t, ok := b.(ConverterTables)
		if !ok {
			return fmt.Errorf("%w: backend has no class table", ErrUnavailable)
		}
		t.SetClassConverter(classes, r.converter(ctx, b, fn))
		return nil
	})
}

// AddProcConverter registers fn for R objects accepted by match. Both
// functions run with [BasicConversion].
func (r *R) AddProcConverter(ctx context.Context, match func(context.Context, *Object) (bool, error), fn func(context.Context, *Object) (any, error)) error {
	return r.loop.Do(ctx, func(ctx context.Context, b Backend) error {
		t, ok := b.(ConverterTables)
		if !ok {
			return fmt.Errorf("%w: backend has no proc table", ErrUnavailable)
		}
		m := func(obj Robj) (bool, error) {
			var ok bool
			err := InMode(b, BasicConversion, func() error {
				var err error
				ok, err = match(WithMode(ctx, BasicConversion), &Object{r: r, obj: obj})
				return err
			})
			return ok, err
		}
		t.AddProcConverter(m, r.converter(ctx, b, fn))
		return nil
	})
}

// converter adapts fn to the backend. ctx belongs to the loop, so calls
// made by fn on other handles run inline on the worker.
func (r *R) converter(ctx context.Context, b Backend, fn func(context.Context, *Object) (any, error)) ConvertFunc {
	ctx = context.WithoutCancel(ctx)
	return func(obj Robj) (any, error) {
		var out any
		err := InMode(b, BasicConversion, func() error {
			var err error
			out, err = fn(WithMode(ctx, BasicConversion), &Object{r: r, obj: obj})
			return err
		})
		return unwrapValue(out), err
	}
}

// SetOutput replaces the console output callback.
func (r *R) SetOutput(ctx context.Context, fn OutputFunc) error {
	return r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		b.SetOutput(fn)
		return nil
	})
}

// Output returns the console output callback.
func (r *R) Output(ctx context.Context) (OutputFunc, error) {
	var fn OutputFunc
	err := r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		fn = b.Output()
		return nil
	})
	return fn, err
}

// SetInput replaces the console input callback.
func (r *R) SetInput(ctx context.Context, fn InputFunc) error {
	return r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		b.SetInput(fn)
		return nil
	})
}

// Input returns the console input callback.
func (r *R) Input(ctx context.Context) (InputFunc, error) {
	var fn InputFunc
	err := r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		fn = b.Input()
		return nil
	})
	return fn, err
}

// SetShowFiles replaces the callback used by R's file.show.
func (r *R) SetShowFiles(ctx context.Context, fn ShowFilesFunc) error {
	return r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		b.SetShowFiles(fn)
		return nil
	})
}

// ShowFiles returns the callback used by R's file.show.
func (r *R) ShowFiles(ctx context.Context) (ShowFilesFunc, error) {
	var fn ShowFilesFunc
	err := r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		fn = b.ShowFiles()
		return nil
	})
	return fn, err
}

// Check reports whether src is a complete R expression. Backends that
// cannot tell report [ParseOK].
func (r *R) Check(ctx context.Context, src string) (ParseResult, error) {
	var pr ParseResult
	err := r.loop.Do(ctx, func(_ context.Context, b Backend) error {
		if c, ok := b.(SourceChecker); ok {
			pr = c.CheckSource(src)
		}
		return nil
	})
	return pr, err
}

// RVersion returns R.version.string.
func (r *R) RVersion(ctx context.Context) (string, error) {
	v, err := r.Eval(WithMode(ctx, BasicConversion), "R.version.string")
	if err != nil {
		return "", err
	}
	return fmt.Sprint(v), nil
}

func (r *R) String() string {
	v, err := r.RVersion(context.Background())
	if err != nil {
		v = "unknown"
	}
	return fmt.Sprintf("RPy version %s [%s]", Version, v)
}

// Loop returns the event loop serializing access to the backend.
func (r *R) Loop() *Loop { return r.loop }

// Backend returns the backend r was created with. Use it only from
// inside [Loop.Do].
func (r *R) Backend() Backend { return r.backend }

// Close stops the event loop and shuts R down. Close is idempotent.
// Called from inside a request or console callback it returns [ErrBusy]
// and leaves R running.
func (r *R) Close() error {
	if r.loop.inside() {
		return ErrBusy
	}
	r.closeOnce.Do(func() {
		r.closeErr = r.loop.Close(func(b Backend) error { return b.Cleanup() })
	})
	return r.closeErr
}
