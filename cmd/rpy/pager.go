package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/feather-lang/rpy"
	"golang.org/x/term"
)

// pager shows files for R's file.show, which is how help pages reach
// the console.
type pager struct {
	w     io.Writer
	width func() int
}

func newPager(w io.Writer) *pager {
	return &pager{w: w, width: func() int { return termWidth(w) }}
}

// termWidth returns the width of w when it is a terminal, or 80.
func termWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			return width
		}
	}
	return 80
}

// ShowFiles implements rpy.ShowFilesFunc. Files are separated by a rule
// as wide as the terminal.
func (p *pager) ShowFiles(files []rpy.ShowFile, title string, del bool, _ string) error {
	rule := strings.Repeat("-", p.width())
	if title != "" {
		fmt.Fprintf(p.w, "%s\n%s\n", title, rule)
	}
	for i, f := range files {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return err
		}
		if f.Header != "" {
			fmt.Fprintf(p.w, "%s\n\n", f.Header)
		}
		data = stripOverstrike(data)
		p.w.Write(data)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			io.WriteString(p.w, "\n")
		}
		if i < len(files)-1 {
			fmt.Fprintln(p.w, rule)
		}
		if del {
			if err := os.Remove(f.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

// stripOverstrike removes the "x\bx" and "_\bx" sequences R's text help
// uses for bold and underline.
func stripOverstrike(data []byte) []byte {
	if bytes.IndexByte(data, '\b') < 0 {
		return data
	}
	out := make([]byte, 0, len(data))
	for _, c := range data {
		if c == '\b' {
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, c)
	}
	return out
}
