//go:build !rembed || !cgo || windows

package native

import (
	"fmt"

	"github.com/feather-lang/rpy"
)

// Backend is the stand-in used when the R binding is not compiled in.
type Backend struct {
	cfg  Config
	mode rpy.Mode

	out       rpy.OutputFunc
	in        rpy.InputFunc
	showFiles rpy.ShowFilesFunc
}

// Available reports whether the R binding is compiled in.
const Available = false

// New returns a backend for cfg. Its Init always fails.
func New(cfg Config) *Backend {
	return &Backend{cfg: cfg, mode: rpy.NoDefault}
}

func (b *Backend) Init(numeric bool) error {
	return fmt.Errorf("%w: rebuild with -tags rembed and cgo enabled", rpy.ErrUnavailable)
}

func (b *Backend) Cleanup() error { return nil }

func (b *Backend) Mode() rpy.Mode     { return b.mode }
func (b *Backend) SetMode(m rpy.Mode) { b.mode = m }

func (b *Backend) Fun(name string) (rpy.Robj, error) {
	return nil, rpy.ErrUnavailable
}

func (b *Backend) ProcessEvents() error { return nil }

func (b *Backend) SetOutput(fn rpy.OutputFunc)       { b.out = fn }
func (b *Backend) Output() rpy.OutputFunc            { return b.out }
func (b *Backend) SetInput(fn rpy.InputFunc)         { b.in = fn }
func (b *Backend) Input() rpy.InputFunc              { return b.in }
func (b *Backend) SetShowFiles(fn rpy.ShowFilesFunc) { b.showFiles = fn }
func (b *Backend) ShowFiles() rpy.ShowFilesFunc      { return b.showFiles }

var _ rpy.Backend = (*Backend)(nil)
