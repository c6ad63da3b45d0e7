package rpy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Console is the default console wiring for R: output is written to
// Stdout or Stderr, input is read a line at a time from Stdin and
// file.show copies files to Stdout.
type Console struct {
	stdout io.Writer
	stderr io.Writer

	mu sync.Mutex
	in *bufio.Reader
}

// NewConsole returns a Console over the given streams. Nil streams fall
// back to the process's standard streams.
func NewConsole(stdin io.Reader, stdout, stderr io.Writer) *Console {
	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Console{stdout: stdout, stderr: stderr, in: bufio.NewReader(stdin)}
}

// Write is an [OutputFunc].
func (c *Console) Write(text string, isErr bool) {
	if isErr {
		io.WriteString(c.stderr, text)
		return
	}
	io.WriteString(c.stdout, text)
}

// Read is an [InputFunc]. It returns the line without its terminator;
// io.EOF is returned only when no input is left.
func (c *Console) Read(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	io.WriteString(c.stdout, prompt)
	line, err := c.in.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	return strings.TrimRight(line, "\r\n"), err
}

// ShowFiles is a [ShowFilesFunc] that copies each file to the output,
// preceded by its header.
func (c *Console) ShowFiles(files []ShowFile, title string, del bool, pager string) error {
	if title != "" {
		fmt.Fprintf(c.stdout, "%s\n\n", title)
	}
	for _, f := range files {
		if f.Header != "" {
			fmt.Fprintf(c.stdout, "%s\n\n", f.Header)
		}
		if err := copyFile(c.stdout, f.Path); err != nil {
			return err
		}
		if del {
			if err := os.Remove(f.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
