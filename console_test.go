package rpy_test

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/feather-lang/rpy"
)

func TestConsoleWrite(t *testing.T) {
	var out, errOut bytes.Buffer
	c := rpy.NewConsole(strings.NewReader(""), &out, &errOut)
	c.Write("[1] 55\n", false)
	c.Write("Warning message\n", true)
	if out.String() != "[1] 55\n" {
		t.Errorf("stdout = %q", out.String())
	}
	if errOut.String() != "Warning message\n" {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestConsoleRead(t *testing.T) {
	var out bytes.Buffer
	c := rpy.NewConsole(strings.NewReader("first\r\nsecond\nlast"), &out, io.Discard)

	for _, want := range []string{"first", "second", "last"} {
		line, err := c.Read("> ")
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if line != want {
			t.Errorf("Read = %q, want %q", line, want)
		}
	}
	if _, err := c.Read("> "); err != io.EOF {
		t.Errorf("expected io.EOF at end of input, got %v", err)
	}
	if out.String() != "> > > > " {
		t.Errorf("prompts = %q", out.String())
	}
}

func TestConsoleShowFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	os.WriteFile(a, []byte("alpha\n"), 0o644)
	os.WriteFile(b, []byte("beta\n"), 0o644)

	var out bytes.Buffer
	c := rpy.NewConsole(nil, &out, io.Discard)
	files := []rpy.ShowFile{{Path: a, Header: "A"}, {Path: b}}
	if err := c.ShowFiles(files, "Files", false, ""); err != nil {
		t.Fatalf("ShowFiles failed: %v", err)
	}
	want := "Files\n\nA\n\nalpha\nbeta\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
	if _, err := os.Stat(a); err != nil {
		t.Error("expected files to be kept")
	}

	out.Reset()
	if err := c.ShowFiles(files, "", true, ""); err != nil {
		t.Fatalf("ShowFiles failed: %v", err)
	}
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed", p)
		}
	}
}

func TestConsoleShowFilesMissing(t *testing.T) {
	c := rpy.NewConsole(nil, io.Discard, io.Discard)
	err := c.ShowFiles([]rpy.ShowFile{{Path: filepath.Join(t.TempDir(), "nope")}}, "", false, "")
	if !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}
