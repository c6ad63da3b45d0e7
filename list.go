package rpy

import "reflect"

// AsList unifies R results of length one, which convert to scalars, with
// longer results, which convert to slices. Slices are returned element by
// element; any other value becomes a one-element list. A nil value gives
// an empty list.
func AsList(v any) []any {
	if v == nil {
		return nil
	}
	if l, ok := v.([]any); ok {
		return l
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}
