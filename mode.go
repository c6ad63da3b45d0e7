package rpy

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how R results are converted into Go values.
type Mode int

// Conversion modes, from least to most conversion.
const (
	// NoDefault tells the backend to fall back to the top conversion
	// mode when converting a result.
	NoDefault Mode = -1

	// NoConversion returns every result as an [*Object] handle.
	NoConversion Mode = 0

	// VectorConversion converts atomic vectors into Go slices, even of
	// length one.
	VectorConversion Mode = 1

	// BasicConversion converts length-one vectors into scalars, lists
	// into []any and named lists into map[string]any.
	BasicConversion Mode = 2

	// ClassConversion consults the class converter table before
	// falling back to BasicConversion.
	ClassConversion Mode = 3

	// ProcConversion consults the proc converter table, then the class
	// table, then falls back to BasicConversion.
	ProcConversion Mode = 4

	// TopConversion is the most converting mode.
	TopConversion = ProcConversion
)

var modeNames = map[Mode]string{
	NoDefault:        "NO_DEFAULT",
	NoConversion:     "NO_CONVERSION",
	VectorConversion: "VECTOR_CONVERSION",
	BasicConversion:  "BASIC_CONVERSION",
	ClassConversion:  "CLASS_CONVERSION",
	ProcConversion:   "PROC_CONVERSION",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "Mode(" + strconv.Itoa(int(m)) + ")"
}

// Valid reports whether m is one of the defined modes.
func (m Mode) Valid() bool {
	return m >= NoDefault && m <= TopConversion
}

// ParseMode parses a mode name ("basic", "BASIC_CONVERSION", "top") or
// its integer value.
func ParseMode(s string) (Mode, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		m := Mode(n)
		if !m.Valid() {
			return 0, fmt.Errorf("%w: mode %d out of range", ErrConfiguration, n)
		}
		return m, nil
	}
	key := strings.ToUpper(strings.ReplaceAll(s, "-", "_"))
	key = strings.TrimSuffix(key, "_CONVERSION")
	switch key {
	case "NO_DEFAULT", "DEFAULT":
		return NoDefault, nil
	case "NO", "NONE":
		return NoConversion, nil
	case "VECTOR":
		return VectorConversion, nil
	case "BASIC":
		return BasicConversion, nil
	case "CLASS":
		return ClassConversion, nil
	case "PROC", "TOP":
		return ProcConversion, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrConfiguration, s)
}

// ModeSwitcher reads and writes the process-wide conversion mode.
type ModeSwitcher interface {
	Mode() Mode
	SetMode(Mode)
}

// InMode runs fn with the conversion mode of b set to m and restores the
// previous mode afterwards, including when fn fails or panics.
//
// InMode does not serialize access to b; callers that share a backend
// across goroutines go through [Loop.Do].
func InMode(b ModeSwitcher, m Mode, fn func() error) error {
	saved := b.Mode()
	b.SetMode(m)
	defer b.SetMode(saved)
	return fn()
}

type modeKey struct{}

// WithMode returns a context whose backend calls made through [Object.Call]
// are converted with mode m.
func WithMode(ctx context.Context, m Mode) context.Context {
	return context.WithValue(ctx, modeKey{}, m)
}

// ModeFrom returns the mode stored in ctx by [WithMode].
func ModeFrom(ctx context.Context) (Mode, bool) {
	m, ok := ctx.Value(modeKey{}).(Mode)
	return m, ok
}
