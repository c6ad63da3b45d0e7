package rpy_test

import (
	"context"
	"fmt"

	"github.com/feather-lang/rpy"
	"github.com/feather-lang/rpy/rtest"
)

// newExampleR starts an instance over the fake backend with a few
// definitions used by the examples below.
func newExampleR() *rpy.R {
	b := rtest.New()
	b.Script("sum(1:10)", func() (any, error) { return 55.0, nil })
	b.DefineFunc("mean", func(args []any, _ map[string]any) (any, error) {
		xs, _ := args[0].([]float64)
		total := 0.0
		for _, x := range xs {
			total += x
		}
		return total / float64(len(xs)), nil
	})
	r, err := rpy.New(b, rpy.Config{
		NoEventLoop:    true,
		NoConsoleInput: true,
		NoShowFiles:    true,
		Output:         func(s string, _ bool) { fmt.Print(s) },
	})
	if err != nil {
		panic(err)
	}
	return r
}

func ExampleR_Eval() {
	r := newExampleR()
	defer r.Close()

	v, err := r.Eval(context.Background(), "sum(1:10)")
	fmt.Println(v, err)
	// Output: 55 <nil>
}

// Go-friendly names are translated before R sees them.
func ExampleR_Call() {
	r := newExampleR()
	defer r.Close()

	v, _ := r.Call(context.Background(), "mean", []float64{1, 2, 3, 4})
	fmt.Println(v)
	// Output: 2.5
}

// This example shows how a function can be pinned to a conversion mode.
// In vector mode even a single number comes back as a slice.
func ExampleR_WithMode() {
	r := newExampleR()
	defer r.Close()
	ctx := context.Background()

	mean, _ := r.Fn(ctx, "mean")
	asVector := r.WithMode(rpy.VectorConversion, mean.Call)

	v, _ := mean.Call(ctx, []float64{1, 2})
	fmt.Println(v)
	v, _ = asVector(ctx, []float64{1, 2})
	fmt.Println(v)

	// Output:
	// 1.5
	// [1.5]
}

func ExampleR_Help() {
	r := newExampleR()
	defer r.Close()

	r.Help(context.Background(), "mean")
	// Output: help: mean
}

func ExampleNormalizeName() {
	for _, name := range []string{"print_", "is_na", "row_names__"} {
		fmt.Println(rpy.NormalizeName(name))
	}
	// Output:
	// print
	// is.na
	// row.names<-
}
