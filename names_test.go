package rpy_test

import (
	"testing"

	"github.com/feather-lang/rpy"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"help_", "help"},
		{"print_", "print"},
		{"row_names__", "row.names<-"},
		{"foo_bar", "foo.bar"},
		{"is_na", "is.na"},
		{"names__", "names<-"},
		{"dim_names__", "dim.names<-"},
		{"mean", "mean"},
		{"_", "."},
		{"a_", "a"},
		{"", ""},
		{"row.names<-", "row.names<-"},
	}
	for _, tt := range tests {
		if got := rpy.NormalizeName(tt.in); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeNameIdempotent(t *testing.T) {
	for _, name := range []string{"help_", "row_names__", "foo_bar", "x_y_z", "as_data_frame"} {
		once := rpy.NormalizeName(name)
		if twice := rpy.NormalizeName(once); twice != once {
			t.Errorf("NormalizeName(%q) = %q, applied again gives %q", name, once, twice)
		}
	}
}

func TestIsReserved(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"__init__", true},
		{"__repr__", true},
		{"____", true},
		{"__", true},
		{"___", true},
		{"_", false},
		{"__x", false},
		{"row_names__", false},
		{"mean", false},
	}
	for _, tt := range tests {
		if got := rpy.IsReserved(tt.in); got != tt.want {
			t.Errorf("IsReserved(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
