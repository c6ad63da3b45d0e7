package rpy

// Backend is the native side of the binding: an R runtime plus the glue
// that converts values between R and Go.
//
// A Backend is not safe for concurrent use. [R] routes every call through
// its [Loop], which guarantees that at most one goroutine drives the
// backend at a time.
type Backend interface {
	ModeSwitcher

	// Init starts the R runtime. numeric enables conversion of R arrays
	// into [Array] values.
	Init(numeric bool) error

	// Cleanup shuts the R runtime down. The backend cannot be reused.
	Cleanup() error

	// Fun resolves name to an R function without going through R's own
	// lookup functions. It is used once to bootstrap "get".
	Fun(name string) (Robj, error)

	// ProcessEvents runs pending R event handlers (graphics devices,
	// Tcl/Tk widgets) once and returns.
	ProcessEvents() error

	SetOutput(fn OutputFunc)
	Output() OutputFunc
	SetInput(fn InputFunc)
	Input() InputFunc
	SetShowFiles(fn ShowFilesFunc)
	ShowFiles() ShowFilesFunc
}

// Robj is a backend-level reference to an R object.
//
// Call invokes the object as a function. Arguments are Go values or
// [Named] pairs; the result is converted according to the backend's
// current mode and is either a plain Go value or another Robj.
type Robj interface {
	Call(args ...any) (any, error)
}

// Named is a named (keyword) argument for an R call.
type Named struct {
	Name  string
	Value any
}

// Kw returns a named argument.
//
//	parse.Call(ctx, rpy.Kw("text", "1 + 1"))
func Kw(name string, v any) Named {
	return Named{Name: name, Value: v}
}

// Array is an R numeric array converted with numeric support enabled.
// Data is in column-major order.
type Array struct {
	Dim  []int
	Data []float64
}

// OutputFunc receives text R writes to its console. isErr is true for
// the error stream.
type OutputFunc func(text string, isErr bool)

// InputFunc supplies a line of console input in reply to prompt.
type InputFunc func(prompt string) (string, error)

// ShowFile is one file passed to R's file.show.
type ShowFile struct {
	Path   string
	Header string
}

// ShowFilesFunc displays files on behalf of R's file.show. When del is
// true the files are removed afterwards.
type ShowFilesFunc func(files []ShowFile, title string, del bool, pager string) error

// ConvertFunc converts an R object into a Go value during class or proc
// conversion.
type ConvertFunc func(obj Robj) (any, error)

// MatchFunc decides whether a proc converter applies to obj.
type MatchFunc func(obj Robj) (bool, error)

// ConverterTables is implemented by backends that support
// [ClassConversion] and [ProcConversion].
type ConverterTables interface {
	SetClassConverter(classes []string, fn ConvertFunc)
	AddProcConverter(match MatchFunc, fn ConvertFunc)
}

// SourceChecker is implemented by backends that can tell whether a piece
// of R source is syntactically complete.
type SourceChecker interface {
	CheckSource(src string) ParseResult
}

// ParseStatus indicates the result of checking R source.
type ParseStatus int

const (
	// ParseOK indicates the source is syntactically complete and valid.
	ParseOK ParseStatus = iota

	// ParseIncomplete indicates the source ends inside an open expression.
	ParseIncomplete

	// ParseError indicates a syntax error.
	ParseError
)

// ParseResult holds the result of checking R source.
type ParseResult struct {
	Status ParseStatus

	// Message contains the parser message if Status is ParseError.
	Message string
}
