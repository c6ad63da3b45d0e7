package native

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/feather-lang/rpy"
)

func TestConfigResolve(t *testing.T) {
	env := map[string]string{
		"R_HOME": "/usr/lib/R",
		"HOME":   "/home/ada",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	getwd := func() (string, error) { return "/work", nil }

	c, err := Config{}.resolve(lookup, getwd)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if c.RHome != "/usr/lib/R" || c.RUser != "/home/ada" {
		t.Errorf("RHome, RUser = %q, %q", c.RHome, c.RUser)
	}
	if !reflect.DeepEqual(c.Args, DefaultArgs) {
		t.Errorf("Args = %q", c.Args)
	}

	env["RHOME"] = "/opt/R"
	env["R_USER"] = "/home/r"
	c, _ = Config{Args: []string{"x"}}.resolve(lookup, getwd)
	if c.RHome != "/opt/R" || c.RUser != "/home/r" || len(c.Args) != 1 {
		t.Errorf("env precedence: %+v", c)
	}

	c, _ = Config{RHome: "/explicit"}.resolve(lookup, getwd)
	if c.RHome != "/explicit" {
		t.Errorf("RHome = %q", c.RHome)
	}

	delete(env, "R_USER")
	delete(env, "HOME")
	c, _ = Config{}.resolve(lookup, getwd)
	if c.RUser != "/work" {
		t.Errorf("RUser = %q, want working directory", c.RUser)
	}
}

func TestConfigResolveNoHome(t *testing.T) {
	lookup := func(string) (string, bool) { return "", false }
	_, err := Config{}.resolve(lookup, func() (string, error) { return "/", nil })
	if !errors.Is(err, rpy.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		in   string
		want rpy.RError
	}{
		{"Error in f(x) : boom\n", rpy.RError{Call: "f(x)", Message: "boom"}},
		{"Error in log(-1:\"a\") : non-numeric argument to mathematical function\n",
			rpy.RError{Call: `log(-1:"a")`, Message: "non-numeric argument to mathematical function"}},
		{"Error: object 'x' not found\n", rpy.RError{Message: "object 'x' not found"}},
		{"Error in eval(expr) : \n  multi\n", rpy.RError{Call: "eval(expr)", Message: "multi"}},
		{"", rpy.RError{Message: "unknown R error"}},
	}
	for _, tt := range tests {
		got := parseError(tt.in)
		if *got != tt.want {
			t.Errorf("parseError(%q) = %+v, want %+v", tt.in, *got, tt.want)
		}
		if !errors.Is(got, rpy.ErrR) {
			t.Errorf("parseError(%q) does not match ErrR", tt.in)
		}
	}
}

func TestReflectList(t *testing.T) {
	v, ok := reflectList([]int64{1, 2})
	if !ok || !reflect.DeepEqual(v, []any{int64(1), int64(2)}) {
		t.Errorf("slice = %#v, %v", v, ok)
	}
	v, ok = reflectList([2]string{"a", "b"})
	if !ok || !reflect.DeepEqual(v, []any{"a", "b"}) {
		t.Errorf("array = %#v, %v", v, ok)
	}
	v, ok = reflectList(map[string]int{"n": 1})
	if !ok || !reflect.DeepEqual(v, map[string]any{"n": 1}) {
		t.Errorf("map = %#v, %v", v, ok)
	}
	if _, ok := reflectList(map[int]int{1: 1}); ok {
		t.Error("expected maps with non-string keys to be rejected")
	}
	if _, ok := reflectList(struct{}{}); ok {
		t.Error("expected structs to be rejected")
	}
}

func TestClassKey(t *testing.T) {
	if k := classKey([]string{"tbl_df", "data.frame"}); k != "tbl_df,data.frame" {
		t.Errorf("classKey = %q", k)
	}
}

func TestFitsInteger(t *testing.T) {
	tests := []struct {
		in   int64
		want bool
	}{
		{0, true},
		{-1, true},
		{math.MaxInt32, true},
		{math.MinInt32 + 1, true},
		{math.MinInt32, false},
		{math.MaxInt32 + 1, false},
		{1 << 40, false},
		{math.MinInt64, false},
	}
	for _, tt := range tests {
		if got := fitsInteger(tt.in); got != tt.want {
			t.Errorf("fitsInteger(%d) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIntsFit(t *testing.T) {
	if !intsFit([]int{1, -2, math.MaxInt32}) {
		t.Error("expected small ints to fit")
	}
	if !intsFit(nil) {
		t.Error("expected an empty slice to fit")
	}
	if intsFit([]int{1, math.MinInt32}) {
		t.Error("expected NA_integer_ to be rejected")
	}
	if math.MaxInt == math.MaxInt32 {
		t.Skip("int is 32 bits")
	}
	huge := int64(1) << 40
	big := []int{1, int(huge)}
	if intsFit(big) {
		t.Error("expected 1<<40 to be rejected")
	}
	if got := intsToReal(big); !reflect.DeepEqual(got, []float64{1, 1 << 40}) {
		t.Errorf("intsToReal = %v", got)
	}
}
