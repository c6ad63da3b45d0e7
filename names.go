package rpy

import "strings"

// IsReserved reports whether name starts and ends with "__", such as
// "__init__" or "__". Reserved names are never looked up in R.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

// NormalizeName translates a Go-friendly identifier into an R name.
//
// A single trailing underscore is dropped, so "print_" names "print". Then
// every "__" becomes the replacement marker "<-" and every remaining "_"
// becomes ".":
//
//	NormalizeName("foo_bar")     // "foo.bar"
//	NormalizeName("row_names__") // "row.names<-"
//
// Names that contain no underscore are returned unchanged.
func NormalizeName(name string) string {
	if n := len(name); n > 1 && name[n-1] == '_' && name[n-2] != '_' {
		name = name[:n-1]
	}
	name = strings.ReplaceAll(name, "__", "<-")
	return strings.ReplaceAll(name, "_", ".")
}
