// rpy is an R console backed by the rpy package.
//
// With no arguments it starts an interactive session when stdin is a
// terminal and otherwise evaluates stdin as an R script.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/feather-lang/rpy"
	"github.com/feather-lang/rpy/native"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const historyFile = ".rpy_history"

type options struct {
	mode        string
	rhome       string
	verbose     bool
	numeric     bool
	noEventLoop bool
	interval    time.Duration
	history     string

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// newBackend is replaced in tests.
var newBackend = func(o *options) rpy.Backend {
	return native.New(native.Config{RHome: o.rhome})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd(&options{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "rpy: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(o *options) *cobra.Command {
	home, _ := os.UserHomeDir()

	cmd := &cobra.Command{
		Use:           "rpy",
		Short:         "R console embedded in Go",
		Version:       rpy.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.mode != "" {
				if _, err := rpy.ParseMode(o.mode); err != nil {
					return err
				}
			}
			if o.interval < 0 {
				return fmt.Errorf("%w: --interval must not be negative", rpy.ErrConfiguration)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withR(cmd, func(ctx context.Context, r *rpy.R) error {
				if f, ok := o.stdin.(*os.File); ok && isTerminal(f) {
					return o.repl(ctx, r, newLiner(o.history))
				}
				src, err := io.ReadAll(o.stdin)
				if err != nil {
					return err
				}
				return o.evalPrint(ctx, r, string(src))
			})
		},
	}
	cmd.SetIn(o.stdin)
	cmd.SetOut(o.stdout)
	cmd.SetErr(o.stderr)

	f := cmd.PersistentFlags()
	f.StringVar(&o.mode, "mode", "", "default conversion mode (no, vector, basic, class, proc)")
	f.StringVar(&o.rhome, "rhome", "", "R installation directory (default $RHOME or $R_HOME)")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "log initialization steps")
	f.BoolVar(&o.numeric, "numeric", false, "convert numeric arrays")
	f.BoolVar(&o.noEventLoop, "no-eventloop", false, "do not poll R's event handlers")
	f.DurationVar(&o.interval, "interval", rpy.DefaultInterval, "event loop polling interval")
	f.StringVar(&o.history, "history", filepath.Join(home, historyFile), "REPL history file (empty disables history)")

	cmd.AddCommand(newEvalCmd(o), newRunCmd(o))
	cmd.SetHelpCommand(newHelpCmd(o))
	return cmd
}

func newEvalCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "eval EXPR...",
		Short: "Evaluate an R expression and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withR(cmd, func(ctx context.Context, r *rpy.R) error {
				return o.evalPrint(ctx, r, strings.Join(args, " "))
			})
		},
	}
}

func newRunCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run FILE",
		Short: "Run an R script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withR(cmd, func(ctx context.Context, r *rpy.R) error {
				_, err := r.Call(ctx, "source", args[0])
				return err
			})
		},
	}
}

func newHelpCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "help TOPIC",
		Short: "Show R documentation for a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withR(cmd, func(ctx context.Context, r *rpy.R) error {
				return r.Help(ctx, args[0])
			})
		},
	}
}

// config builds the instance configuration from the environment and the
// flags set on cmd.
func (o *options) config(cmd *cobra.Command) (rpy.Config, error) {
	cfg, err := rpy.ConfigFromEnv()
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("verbose") {
		cfg.Verbose = o.verbose
	}
	if flags.Changed("numeric") {
		cfg.Numeric = o.numeric
	}
	if flags.Changed("no-eventloop") {
		cfg.NoEventLoop = o.noEventLoop
	}
	if flags.Changed("interval") || cfg.Interval == 0 {
		cfg.Interval = o.interval
	}
	cfg.Stdin = o.stdin
	cfg.Stdout = o.stdout
	cfg.Stderr = o.stderr
	cfg.ShowFiles = newPager(o.stdout).ShowFiles
	cfg.Logger = rpy.NewStdLogger(o.stderr)
	return cfg, nil
}

// withR starts R, applies --mode, runs fn and shuts R down.
func (o *options) withR(cmd *cobra.Command, fn func(context.Context, *rpy.R) error) error {
	ctx := cmd.Context()
	cfg, err := o.config(cmd)
	if err != nil {
		return err
	}
	r, err := rpy.New(newBackend(o), cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	if o.mode != "" {
		m, _ := rpy.ParseMode(o.mode)
		if err := r.SetDefaultMode(ctx, m); err != nil {
			return err
		}
	}
	return fn(ctx, r)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
