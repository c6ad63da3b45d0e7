//go:build rembed && cgo && !windows

package native

/*
#cgo pkg-config: libR
#include "rpy.h"
*/
import "C"

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/cgo"
	"sort"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/feather-lang/rpy"
)

// Available reports whether the R binding is compiled in.
const Available = true

// started guards the process-wide R runtime.
var started atomic.Bool

// Backend drives the R runtime linked into the process.
//
// Like R itself, a Backend is not safe for concurrent use; an [rpy.R]
// serializes every call through its loop.
type Backend struct {
	cfg     Config
	handle  cgo.Handle
	mode    rpy.Mode
	numeric bool
	running bool

	out       rpy.OutputFunc
	in        rpy.InputFunc
	showFiles rpy.ShowFilesFunc

	classConv map[string]rpy.ConvertFunc
	procConv  []procConverter

	// R objects are unreachable from Go once their finalizer runs, but
	// must be released on the R thread.
	relMu    sync.Mutex
	released []C.SEXP
}

type procConverter struct {
	match rpy.MatchFunc
	fn    rpy.ConvertFunc
}

// New returns a backend for cfg. R is started by Init.
func New(cfg Config) *Backend {
	return &Backend{
		cfg:       cfg,
		mode:      rpy.NoDefault,
		classConv: make(map[string]rpy.ConvertFunc),
	}
}

// Init starts R. It fails if R was already started in this process.
func (b *Backend) Init(numeric bool) error {
	cfg, err := b.cfg.resolveEnv()
	if err != nil {
		return err
	}
	if !started.CompareAndSwap(false, true) {
		return errors.New("native: R can only be started once per process")
	}
	os.Setenv("R_HOME", cfg.RHome)
	os.Setenv("R_USER", cfg.RUser)

	argv := make([]*C.char, len(cfg.Args))
	for i, a := range cfg.Args {
		argv[i] = C.CString(a)
	}
	defer func() {
		for _, p := range argv {
			C.free(unsafe.Pointer(p))
		}
	}()

	b.handle = cgo.NewHandle(b)
	C.rpy_handle = C.uintptr_t(b.handle)
	if C.rpy_init(C.int(len(argv)), &argv[0]) != 0 {
		C.rpy_handle = 0
		b.handle.Delete()
		return fmt.Errorf("native: R failed to start from %s", cfg.RHome)
	}
	b.cfg = cfg
	b.numeric = numeric
	b.running = true
	return nil
}

// Cleanup shuts R down.
func (b *Backend) Cleanup() error {
	if !b.running {
		return nil
	}
	b.drain()
	C.rpy_end()
	C.rpy_handle = 0
	b.handle.Delete()
	b.running = false
	return nil
}

func (b *Backend) Mode() rpy.Mode     { return b.mode }
func (b *Backend) SetMode(m rpy.Mode) { b.mode = m }

// Fun resolves name from the global environment.
func (b *Backend) Fun(name string) (rpy.Robj, error) {
	b.drain()
	v := C.rpy_lookup(install(name))
	if v == C.R_UnboundValue || C.Rf_isFunction(v) == 0 {
		return nil, &rpy.RError{Message: fmt.Sprintf("could not find function %q", name)}
	}
	return b.newObj(v), nil
}

// ProcessEvents runs R's pending input handlers once.
func (b *Backend) ProcessEvents() error {
	if !b.running {
		return rpy.ErrClosed
	}
	b.drain()
	C.rpy_process_events()
	return nil
}

func (b *Backend) SetOutput(fn rpy.OutputFunc)       { b.out = fn }
func (b *Backend) Output() rpy.OutputFunc            { return b.out }
func (b *Backend) SetInput(fn rpy.InputFunc)         { b.in = fn }
func (b *Backend) Input() rpy.InputFunc              { return b.in }
func (b *Backend) SetShowFiles(fn rpy.ShowFilesFunc) { b.showFiles = fn }
func (b *Backend) ShowFiles() rpy.ShowFilesFunc      { return b.showFiles }

// SetClassConverter implements rpy.ConverterTables.
func (b *Backend) SetClassConverter(classes []string, fn rpy.ConvertFunc) {
	b.classConv[classKey(classes)] = fn
}

// AddProcConverter implements rpy.ConverterTables.
func (b *Backend) AddProcConverter(match rpy.MatchFunc, fn rpy.ConvertFunc) {
	b.procConv = append(b.procConv, procConverter{match: match, fn: fn})
}

// CheckSource implements rpy.SourceChecker with R's own parser.
func (b *Backend) CheckSource(src string) rpy.ParseResult {
	text := C.Rf_protect(mkString(src))
	var status C.ParseStatus
	C.Rf_protect(C.R_ParseVector(text, -1, &status, C.R_NilValue))
	C.Rf_unprotect(2)

	switch status {
	case C.PARSE_OK, C.PARSE_NULL:
		return rpy.ParseResult{Status: rpy.ParseOK}
	case C.PARSE_INCOMPLETE:
		return rpy.ParseResult{Status: rpy.ParseIncomplete}
	default:
		return rpy.ParseResult{Status: rpy.ParseError, Message: "syntax error"}
	}
}

// Obj is a reference to an R object, protected from R's garbage
// collector until it becomes unreachable from Go.
type Obj struct {
	b    *Backend
	sexp C.SEXP
}

func (b *Backend) newObj(s C.SEXP) *Obj {
	C.R_PreserveObject(s)
	o := &Obj{b: b, sexp: s}
	runtime.SetFinalizer(o, func(o *Obj) { o.b.release(o.sexp) })
	return o
}

func (b *Backend) release(s C.SEXP) {
	b.relMu.Lock()
	b.released = append(b.released, s)
	b.relMu.Unlock()
}

// drain releases objects queued by finalizers. It must run on the
// goroutine driving R.
func (b *Backend) drain() {
	b.relMu.Lock()
	queue := b.released
	b.released = nil
	b.relMu.Unlock()
	if !b.running {
		return
	}
	for _, s := range queue {
		C.R_ReleaseObject(s)
	}
}

// Call evaluates the object applied to args in the global environment.
func (o *Obj) Call(args ...any) (any, error) {
	b := o.b
	if !b.running {
		return nil, rpy.ErrClosed
	}
	b.drain()

	call, err := b.buildCall(o.sexp, args)
	if err != nil {
		return nil, err
	}
	C.Rf_protect(call)
	defer C.Rf_unprotect(1)

	var failed C.int
	res := C.R_tryEval(call, C.R_GlobalEnv, &failed)
	if failed != 0 {
		return nil, b.lastError()
	}
	C.Rf_protect(res)
	defer C.Rf_unprotect(1)
	runtime.KeepAlive(o)
	return b.toGo(res, b.mode)
}

// Type returns R's type name for the object, such as "closure".
func (o *Obj) Type() string {
	return C.GoString(C.Rf_type2char(C.SEXPTYPE(C.TYPEOF(o.sexp))))
}

// Class returns the object's class attribute.
func (o *Obj) Class() []string {
	return classOf(o.sexp)
}

func (o *Obj) String() string {
	if cls := o.Class(); len(cls) > 0 {
		return fmt.Sprintf("<R %s %v>", o.Type(), cls)
	}
	return "<R " + o.Type() + ">"
}

func (b *Backend) buildCall(fn C.SEXP, args []any) (C.SEXP, error) {
	call := C.Rf_protect(C.Rf_allocVector(C.LANGSXP, C.R_xlen_t(len(args)+1)))
	defer C.Rf_unprotect(1)
	C.SETCAR(call, fn)
	cell := C.CDR(call)
	for _, a := range args {
		if n, ok := a.(rpy.Named); ok {
			C.SET_TAG(cell, install(n.Name))
			a = n.Value
		}
		v, err := b.toR(a)
		if err != nil {
			return nil, err
		}
		C.SETCAR(cell, v)
		cell = C.CDR(cell)
	}
	return call, nil
}

func (b *Backend) lastError() error {
	call := C.Rf_protect(C.Rf_lang1(install("geterrmessage")))
	defer C.Rf_unprotect(1)
	var failed C.int
	msg := C.R_tryEval(call, C.R_GlobalEnv, &failed)
	if failed != 0 || C.TYPEOF(msg) != C.STRSXP || C.Rf_xlength(msg) < 1 {
		return &rpy.RError{Message: "unknown R error"}
	}
	return parseError(C.GoString(C.R_CHAR(C.STRING_ELT(msg, 0))))
}

func install(name string) C.SEXP {
	cs := C.CString(name)
	defer C.free(unsafe.Pointer(cs))
	return C.Rf_install(cs)
}

func mkChar(s string) C.SEXP {
	cs := C.CString(s)
	defer C.free(unsafe.Pointer(cs))
	return C.Rf_mkCharLenCE(cs, C.int(len(s)), C.CE_UTF8)
}

func mkString(s string) C.SEXP {
	ch := C.Rf_protect(mkChar(s))
	defer C.Rf_unprotect(1)
	return C.Rf_ScalarString(ch)
}

func classOf(s C.SEXP) []string {
	return stringsOf(C.Rf_getAttrib(s, C.R_ClassSymbol))
}

func stringsOf(s C.SEXP) []string {
	if C.TYPEOF(s) != C.STRSXP {
		return nil
	}
	n := int(C.Rf_xlength(s))
	out := make([]string, n)
	for i := range out {
		out[i] = C.GoString(C.R_CHAR(C.STRING_ELT(s, C.R_xlen_t(i))))
	}
	return out
}

// toR converts a Go value into a new R object. The result is not
// protected; callers attach it before allocating again.
func (b *Backend) toR(v any) (C.SEXP, error) {
	switch x := v.(type) {
	case nil:
		return C.R_NilValue, nil
	case *Obj:
		return x.sexp, nil
	case bool:
		return C.Rf_ScalarLogical(boolInt(x)), nil
	case int:
		if !fitsInteger(int64(x)) {
			return C.Rf_ScalarReal(C.double(x)), nil
		}
		return C.Rf_ScalarInteger(C.int(x)), nil
	case int32:
		if !fitsInteger(int64(x)) {
			return C.Rf_ScalarReal(C.double(x)), nil
		}
		return C.Rf_ScalarInteger(C.int(x)), nil
	case int64:
		return C.Rf_ScalarReal(C.double(x)), nil
	case float64:
		return C.Rf_ScalarReal(C.double(x)), nil
	case string:
		return mkString(x), nil
	case []bool:
		s := C.Rf_protect(C.Rf_allocVector(C.LGLSXP, C.R_xlen_t(len(x))))
		defer C.Rf_unprotect(1)
		dst := unsafe.Slice(C.LOGICAL(s), len(x))
		for i, e := range x {
			dst[i] = boolInt(e)
		}
		return s, nil
	case []int:
		if !intsFit(x) {
			return b.toR(intsToReal(x))
		}
		s := C.Rf_protect(C.Rf_allocVector(C.INTSXP, C.R_xlen_t(len(x))))
		defer C.Rf_unprotect(1)
		dst := unsafe.Slice(C.INTEGER(s), len(x))
		for i, e := range x {
			dst[i] = C.int(e)
		}
		return s, nil
	case []float64:
		s := C.Rf_protect(C.Rf_allocVector(C.REALSXP, C.R_xlen_t(len(x))))
		defer C.Rf_unprotect(1)
		dst := unsafe.Slice(C.REAL(s), len(x))
		for i, e := range x {
			dst[i] = C.double(e)
		}
		return s, nil
	case []string:
		s := C.Rf_protect(C.Rf_allocVector(C.STRSXP, C.R_xlen_t(len(x))))
		defer C.Rf_unprotect(1)
		for i, e := range x {
			C.SET_STRING_ELT(s, C.R_xlen_t(i), mkChar(e))
		}
		return s, nil
	case rpy.Array:
		s, _ := b.toR(x.Data)
		C.Rf_protect(s)
		defer C.Rf_unprotect(1)
		dim, _ := b.toR(x.Dim)
		C.Rf_setAttrib(s, C.R_DimSymbol, dim)
		return s, nil
	case []any:
		s := C.Rf_protect(C.Rf_allocVector(C.VECSXP, C.R_xlen_t(len(x))))
		defer C.Rf_unprotect(1)
		for i, e := range x {
			ev, err := b.toR(e)
			if err != nil {
				return nil, err
			}
			C.SET_VECTOR_ELT(s, C.R_xlen_t(i), ev)
		}
		return s, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]any, len(keys))
		for i, k := range keys {
			vals[i] = x[k]
		}
		s, err := b.toR(vals)
		if err != nil {
			return nil, err
		}
		C.Rf_protect(s)
		defer C.Rf_unprotect(1)
		names, _ := b.toR(keys)
		C.Rf_setAttrib(s, C.R_NamesSymbol, names)
		return s, nil
	}
	if list, ok := reflectList(v); ok {
		return b.toR(list)
	}
	return nil, &rpy.ConversionError{Value: v, Reason: "no R equivalent"}
}

func boolInt(v bool) C.int {
	if v {
		return 1
	}
	return 0
}

// toGo converts an R object according to mode m.
func (b *Backend) toGo(s C.SEXP, m rpy.Mode) (any, error) {
	if m == rpy.NoDefault {
		m = rpy.TopConversion
	}
	if m == rpy.NoConversion || C.Rf_isFunction(s) != 0 {
		return b.newObj(s), nil
	}
	if m >= rpy.ProcConversion && len(b.procConv) > 0 {
		obj := b.newObj(s)
		for _, p := range b.procConv {
			ok, err := p.match(obj)
			if err != nil {
				return nil, err
			}
			if ok {
				return p.fn(obj)
			}
		}
	}
	cls := classOf(s)
	if m >= rpy.ClassConversion && len(cls) > 0 {
		if fn := b.classConv[classKey(cls)]; fn != nil {
			return fn(b.newObj(s))
		}
	}
	if len(cls) > 0 && m >= rpy.BasicConversion {
		return b.newObj(s), nil
	}
	return b.convert(s, m)
}

// convert handles vectors and lists for VectorConversion and
// BasicConversion.
func (b *Backend) convert(s C.SEXP, m rpy.Mode) (any, error) {
	n := int(C.Rf_xlength(s))
	scalar := m >= rpy.BasicConversion && n == 1

	switch C.TYPEOF(s) {
	case C.NILSXP:
		return nil, nil
	case C.LGLSXP:
		src := unsafe.Slice(C.LOGICAL(s), n)
		out := make([]bool, n)
		for i, v := range src {
			if v == C.R_NaInt {
				return b.newObj(s), nil
			}
			out[i] = v != 0
		}
		if scalar {
			return out[0], nil
		}
		return out, nil
	case C.INTSXP:
		if a, ok := b.array(s); ok {
			return a, nil
		}
		src := unsafe.Slice(C.INTEGER(s), n)
		out := make([]int, n)
		for i, v := range src {
			if v == C.R_NaInt {
				return b.newObj(s), nil
			}
			out[i] = int(v)
		}
		if scalar {
			return out[0], nil
		}
		return out, nil
	case C.REALSXP:
		if a, ok := b.array(s); ok {
			return a, nil
		}
		src := unsafe.Slice(C.REAL(s), n)
		out := make([]float64, n)
		for i, v := range src {
			out[i] = float64(v)
		}
		if scalar {
			return out[0], nil
		}
		return out, nil
	case C.STRSXP:
		out := make([]string, n)
		for i := range out {
			e := C.STRING_ELT(s, C.R_xlen_t(i))
			if e == C.R_NaString {
				return b.newObj(s), nil
			}
			out[i] = C.GoString(C.R_CHAR(e))
		}
		if scalar {
			return out[0], nil
		}
		return out, nil
	case C.VECSXP:
		out := make([]any, n)
		for i := range out {
			v, err := b.toGo(C.VECTOR_ELT(s, C.R_xlen_t(i)), m)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		names := stringsOf(C.Rf_getAttrib(s, C.R_NamesSymbol))
		if len(names) != n || m < rpy.BasicConversion {
			return out, nil
		}
		dict := make(map[string]any, n)
		for i, k := range names {
			if k == "" {
				return out, nil
			}
			dict[k] = out[i]
		}
		return dict, nil
	}
	return b.newObj(s), nil
}

// array converts numeric vectors with a dim attribute when numeric
// support is enabled.
func (b *Backend) array(s C.SEXP) (rpy.Array, bool) {
	if !b.numeric {
		return rpy.Array{}, false
	}
	dim := C.Rf_getAttrib(s, C.R_DimSymbol)
	if C.TYPEOF(dim) != C.INTSXP {
		return rpy.Array{}, false
	}
	nd := int(C.Rf_xlength(dim))
	a := rpy.Array{Dim: make([]int, nd)}
	for i, d := range unsafe.Slice(C.INTEGER(dim), nd) {
		a.Dim[i] = int(d)
	}
	n := int(C.Rf_xlength(s))
	a.Data = make([]float64, n)
	if C.TYPEOF(s) == C.INTSXP {
		for i, v := range unsafe.Slice(C.INTEGER(s), n) {
			a.Data[i] = float64(v)
		}
	} else {
		for i, v := range unsafe.Slice(C.REAL(s), n) {
			a.Data[i] = float64(v)
		}
	}
	return a, true
}

func backendFor(h C.uintptr_t) *Backend {
	if h == 0 {
		return nil
	}
	return cgo.Handle(h).Value().(*Backend)
}

//export rpyWriteConsole
func rpyWriteConsole(h C.uintptr_t, buf *C.char, n C.int, otype C.int) {
	text := C.GoStringN(buf, n)
	b := backendFor(h)
	if b == nil || b.out == nil {
		os.Stdout.WriteString(text)
		return
	}
	b.out(text, otype != 0)
}

//export rpyReadConsole
func rpyReadConsole(h C.uintptr_t, prompt *C.char, buf *C.char, n C.int) C.int {
	b := backendFor(h)
	if b == nil || b.in == nil || n < 2 {
		return 0
	}
	line, err := b.in(C.GoString(prompt))
	if err != nil {
		return 0
	}
	line += "\n"
	if len(line) > int(n)-1 {
		line = line[:n-1]
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(buf)), int(n))
	copy(dst, line)
	dst[len(line)] = 0
	return 1
}

//export rpyShowFiles
func rpyShowFiles(h C.uintptr_t, nfile C.int, files **C.char, headers **C.char, title *C.char, del C.int, pager *C.char) C.int {
	b := backendFor(h)
	if b == nil || b.showFiles == nil {
		return 1
	}
	paths := unsafe.Slice(files, int(nfile))
	heads := unsafe.Slice(headers, int(nfile))
	list := make([]rpy.ShowFile, nfile)
	for i := range list {
		list[i] = rpy.ShowFile{Path: C.GoString(paths[i]), Header: C.GoString(heads[i])}
	}
	if err := b.showFiles(list, C.GoString(title), del != 0, C.GoString(pager)); err != nil {
		return 1
	}
	return 0
}

var (
	_ rpy.Backend         = (*Backend)(nil)
	_ rpy.ConverterTables = (*Backend)(nil)
	_ rpy.SourceChecker   = (*Backend)(nil)
)
