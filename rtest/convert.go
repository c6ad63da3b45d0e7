package rtest

import (
	"strings"

	"github.com/feather-lang/rpy"
)

// convert turns a function result into what R would hand back under the
// current mode.
func (b *Backend) convert(v any) (any, error) {
	m := b.Mode()
	if m == rpy.NoDefault {
		m = rpy.TopConversion
	}

	o, isObj := v.(*Obj)
	if isObj && o.Fn != nil {
		return o, nil
	}
	if m == rpy.NoConversion {
		if isObj {
			return o, nil
		}
		return &Obj{b: b, Value: v}, nil
	}
	if !isObj {
		o = &Obj{b: b, Value: v}
	}
	if _, ok := o.Value.(Expr); ok {
		return o, nil
	}

	b.mu.Lock()
	procs := append([]procConverter(nil), b.procConv...)
	classFn := b.classConv[strings.Join(o.Class, ",")]
	b.mu.Unlock()

	if m >= rpy.ProcConversion {
		for _, p := range procs {
			ok, err := p.match(o)
			if err != nil {
				return nil, err
			}
			if ok {
				return p.fn(o)
			}
		}
	}
	if m >= rpy.ClassConversion && len(o.Class) > 0 && classFn != nil {
		return classFn(o)
	}
	if len(o.Class) > 0 && m >= rpy.BasicConversion {
		// Classed objects without a converter stay objects.
		return o, nil
	}
	if m == rpy.VectorConversion {
		return vector(o.Value), nil
	}
	return basic(o.Value), nil
}

// vector lifts scalars into length-one slices.
func vector(v any) any {
	switch x := v.(type) {
	case bool:
		return []bool{x}
	case int:
		return []int{x}
	case float64:
		return []float64{x}
	case string:
		return []string{x}
	default:
		return v
	}
}

// basic unwraps length-one slices into scalars.
func basic(v any) any {
	switch x := v.(type) {
	case []bool:
		if len(x) == 1 {
			return x[0]
		}
	case []int:
		if len(x) == 1 {
			return x[0]
		}
	case []float64:
		if len(x) == 1 {
			return x[0]
		}
	case []string:
		if len(x) == 1 {
			return x[0]
		}
	}
	return v
}
