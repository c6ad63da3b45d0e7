// Package native binds rpy to the R shared library through cgo.
//
// The binding is compiled only with the rembed build tag on non-Windows
// systems with cgo enabled, and needs libR and its pkg-config file:
//
//	go build -tags rembed ./...
//
// Without the tag, [Backend.Init] fails with [rpy.ErrUnavailable] and
// everything else is inert, so programs can link the package
// unconditionally and fall back at run time.
//
// R keeps process-wide state: only one Backend can be initialized per
// process, and it cannot be initialized again after Cleanup.
package native

import (
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"

	"github.com/feather-lang/rpy"
)

// DefaultArgs is the command line R is started with when Config.Args is
// empty.
var DefaultArgs = []string{"rpy", "--quiet", "--vanilla", "--no-save"}

// Config configures the embedded R runtime.
type Config struct {
	// RHome is R's installation directory. Defaults to $RHOME, then
	// $R_HOME.
	RHome string

	// RUser is R's notion of the user's home directory. Defaults to
	// $R_USER, then $HOME, then the working directory.
	RUser string

	// Args is the command line passed to R. The first element is the
	// program name. Defaults to DefaultArgs.
	Args []string
}

// resolve fills in defaults from the environment.
func (c Config) resolve(lookup func(string) (string, bool), getwd func() (string, error)) (Config, error) {
	env := func(names ...string) string {
		for _, n := range names {
			if v, ok := lookup(n); ok && v != "" {
				return v
			}
		}
		return ""
	}
	if c.RHome == "" {
		c.RHome = env("RHOME", "R_HOME")
	}
	if c.RHome == "" {
		return c, fmt.Errorf("%w: R home directory not set (use RHOME or R_HOME)", rpy.ErrConfiguration)
	}
	if c.RUser == "" {
		c.RUser = env("R_USER", "HOME")
	}
	if c.RUser == "" {
		wd, err := getwd()
		if err != nil {
			return c, fmt.Errorf("%w: R user directory: %v", rpy.ErrConfiguration, err)
		}
		c.RUser = wd
	}
	if len(c.Args) == 0 {
		c.Args = DefaultArgs
	}
	return c, nil
}

func (c Config) resolveEnv() (Config, error) {
	return c.resolve(os.LookupEnv, os.Getwd)
}

// parseError turns the text of R's geterrmessage() into an RError.
//
//	"Error in f(x) : boom\n" -> RError{Call: "f(x)", Message: "boom"}
//	"Error: boom\n"          -> RError{Message: "boom"}
func parseError(text string) *rpy.RError {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "Error in "); ok {
		if call, msg, ok := strings.Cut(rest, " : "); ok {
			return &rpy.RError{Call: strings.TrimSpace(call), Message: strings.TrimSpace(msg)}
		}
		return &rpy.RError{Message: rest}
	}
	text = strings.TrimPrefix(text, "Error:")
	text = strings.TrimSpace(text)
	if text == "" {
		text = "unknown R error"
	}
	return &rpy.RError{Message: text}
}

// classKey is the key of the class converter table.
func classKey(classes []string) string {
	return strings.Join(classes, ",")
}

// fitsInteger reports whether v can be sent to R as an integer. R
// integers are 32 bits wide and reserve math.MinInt32 for NA.
func fitsInteger(v int64) bool {
	return v > math.MinInt32 && v <= math.MaxInt32
}

func intsFit(xs []int) bool {
	for _, x := range xs {
		if !fitsInteger(int64(x)) {
			return false
		}
	}
	return true
}

// intsToReal widens xs for R's double vectors.
func intsToReal(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

// reflectList turns slices, arrays and string-keyed maps of any element
// type into []any or map[string]any so they can be converted element by
// element.
func reflectList(v any) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out, true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, true
	}
	return nil, false
}
