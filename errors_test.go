package rpy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/feather-lang/rpy"
)

func TestErrorKinds(t *testing.T) {
	for _, err := range []error{
		rpy.ErrTypeConversion,
		rpy.ErrR,
		rpy.ErrReservedName,
		rpy.ErrClosed,
		rpy.ErrBusy,
		rpy.ErrConfiguration,
		rpy.ErrUnavailable,
		&rpy.RError{Message: "boom"},
		&rpy.ConversionError{Value: 1, Reason: "no"},
	} {
		if !errors.Is(err, rpy.ErrRPy) {
			t.Errorf("%v does not match ErrRPy", err)
		}
	}
	if errors.Is(rpy.ErrClosed, rpy.ErrR) {
		t.Error("ErrClosed matches ErrR")
	}
	if errors.Is(context.Canceled, rpy.ErrRPy) {
		t.Error("context.Canceled matches ErrRPy")
	}
}
