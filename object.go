package rpy

import (
	"context"
	"fmt"
)

// Func is a Go-callable R function.
type Func func(ctx context.Context, args ...any) (any, error)

// Object is a handle to an R object obtained through an [R] instance.
//
// Calls made through an Object are serialized by the owning instance's
// [Loop], so an Object may be shared between goroutines.
type Object struct {
	r    *R
	obj  Robj
	name string
}

// Name returns the symbol the object was resolved from, or "" for
// objects returned by calls.
func (o *Object) Name() string { return o.name }

// Raw returns the backend reference.
func (o *Object) Raw() Robj { return o.obj }

// String returns a short description of the handle.
func (o *Object) String() string {
	if o.name != "" {
		return "<Robj " + o.name + ">"
	}
	if s, ok := o.obj.(fmt.Stringer); ok {
		return s.String()
	}
	return "<Robj>"
}

// Call invokes the object as an R function.
//
// Arguments may be Go values, *Object handles or [Named] pairs. If ctx
// carries a mode set with [WithMode], the result is converted with that
// mode and the previous mode is restored before Call returns.
func (o *Object) Call(ctx context.Context, args ...any) (any, error) {
	var out any
	err := o.r.loop.Do(ctx, func(ctx context.Context, b Backend) error {
		call := func() error {
			var err error
			out, err = o.obj.Call(unwrapArgs(args)...)
			return err
		}
		if m, ok := ModeFrom(ctx); ok {
			return InMode(b, m, call)
		}
		return call()
	})
	if err != nil {
		return nil, err
	}
	return o.r.wrap(out), nil
}

// Func returns o.Call as a [Func].
func (o *Object) Func() Func { return o.Call }

// unwrapArgs replaces *Object handles with their backend references so
// the backend only ever sees its own types.
func unwrapArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = unwrapValue(a)
	}
	return out
}

func unwrapValue(v any) any {
	switch val := v.(type) {
	case *Object:
		return val.obj
	case Named:
		return Named{Name: val.Name, Value: unwrapValue(val.Value)}
	case []any:
		return unwrapArgs(val)
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, x := range val {
			m[k] = unwrapValue(x)
		}
		return m
	default:
		return v
	}
}

// wrap turns backend references in a converted result into handles
// owned by r.
func (r *R) wrap(v any) any {
	switch val := v.(type) {
	case *Object:
		return val
	case Robj:
		return &Object{r: r, obj: val}
	case []any:
		out := make([]any, len(val))
		for i, x := range val {
			out[i] = r.wrap(x)
		}
		return out
	case map[string]any:
		m := make(map[string]any, len(val))
		for k, x := range val {
			m[k] = r.wrap(x)
		}
		return m
	default:
		return v
	}
}
