package rpy

import (
	"errors"
	"fmt"
)

// ErrRPy is the base error kind. Every other sentinel below and every
// *RError and *ConversionError matches it.
var ErrRPy = errors.New("rpy error")

// Sentinel errors for error classification.
var (
	// ErrTypeConversion indicates a value could not be converted between
	// Go and R.
	ErrTypeConversion = kind("rpy: type conversion error")

	// ErrR indicates that evaluated R code itself failed.
	ErrR = kind("rpy: R error")

	// ErrReservedName is returned by [R.Attr] for dunder-style names,
	// which are never forwarded to R.
	ErrReservedName = kind("rpy: reserved name")

	// ErrClosed is returned when using an R or Loop after Close.
	ErrClosed = kind("rpy: closed")

	// ErrBusy is returned by [Loop.Close] and [R.Close] when called
	// from inside a request or console callback.
	ErrBusy = kind("rpy: close called from inside a request")

	// ErrConfiguration indicates an invalid configuration.
	ErrConfiguration = kind("rpy: configuration error")

	// ErrUnavailable is returned by backends that were not compiled in.
	ErrUnavailable = kind("rpy: backend unavailable")
)

// kindError is a sentinel that wraps ErrRPy.
type kindError struct{ msg string }

func kind(msg string) error { return &kindError{msg} }

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return ErrRPy }

// RError is an error raised by the R evaluator.
type RError struct {
	// Call is the deparsed call that failed, if known.
	Call string

	// Message is R's condition message.
	Message string
}

func (e *RError) Error() string {
	if e.Call != "" {
		return fmt.Sprintf("Error in %s : %s", e.Call, e.Message)
	}
	return "Error: " + e.Message
}

// Is reports whether target is ErrR or ErrRPy.
func (e *RError) Is(target error) bool {
	return target == ErrR || target == ErrRPy
}

// ConversionError reports a value that could not cross the Go/R boundary.
type ConversionError struct {
	Value  any
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("rpy: cannot convert %T: %s", e.Value, e.Reason)
}

// Is reports whether target is ErrTypeConversion or ErrRPy.
func (e *ConversionError) Is(target error) bool {
	return target == ErrTypeConversion || target == ErrRPy
}
