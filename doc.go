// Package rpy calls into an embedded R interpreter from Go.
//
// # Overview
//
// rpy wraps a [Backend], the low-level binding to R, with:
//
//   - Attribute-style access to R symbols with Go-friendly name mangling
//   - A cache of looked-up symbols
//   - Scoped conversion modes that are always restored
//   - A background poller that keeps R's event handlers running
//
// The cgo binding lives in the native package. The rtest package provides
// a scriptable fake for tests.
//
// # Quick Start
//
//	import (
//	    "github.com/feather-lang/rpy"
//	    "github.com/feather-lang/rpy/native"
//	)
//
//	func main() {
//	    r, err := rpy.New(native.New(native.Config{}), rpy.Config{})
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    defer r.Close()
//
//	    ctx := context.Background()
//	    v, _ := r.Call(ctx, "mean", []float64{1, 2, 3, 4})
//	    fmt.Println(v) // 2.5
//
//	    v, _ = r.Eval(ctx, "sum(1:10)")
//	    fmt.Println(v) // 55
//	}
//
// # Symbol Names
//
// [R.Attr] maps Go-style names to R names before looking them up:
//
//	as_data_frame -> as.data.frame
//	print_        -> print
//	row_names__   -> row.names<-
//
// A trailing underscore is dropped, a double underscore becomes the
// replacement marker "<-" and any other underscore becomes a dot. See
// [NormalizeName]. Dunder names such as "__len__" are reserved and
// return [ErrReservedName]. [R.Get] uses the name unchanged.
//
// Looked-up values are cached for the life of the instance. A name that
// is redefined in R after its first lookup keeps its cached value.
//
// # Conversion Modes
//
// Every R call converts its result according to the current [Mode]:
//
//	NoConversion     handle to the R object
//	VectorConversion R vectors as Go slices
//	BasicConversion  length-one vectors as scalars
//	ClassConversion  class converters, see R.SetClassConverter
//	ProcConversion   predicate converters, see R.AddProcConverter
//
// [R.WithMode] and [WithMode] apply a mode to a single call. The previous
// mode is restored when the call returns, fails or panics:
//
//	vec := r.WithMode(rpy.VectorConversion, mean.Call)
//	v, _ := vec(ctx, []float64{1.5}) // []float64{1.5}
//
//	v, _ = mean.Call(rpy.WithMode(ctx, rpy.BasicConversion), 1.5) // 1.5
//
// # Event Loop
//
// R is not thread-safe. Every call goes through a [Loop], which runs
// requests and R's event handlers one at a time on a single goroutine.
// When the loop is stopped, requests run on the caller's goroutine, still
// one at a time. Code running inside a request, console callbacks
// included, may call back into the instance.
//
//	r.Loop().Stop()
//	defer r.Loop().Start()
//
// # Errors
//
// R errors are returned as [*RError] and match [ErrR]. Conversion
// failures are [*ConversionError] and match [ErrTypeConversion]. Those
// types and every sentinel in this package match [ErrRPy]. Context errors
// from canceled calls are returned unchanged and do not.
package rpy
