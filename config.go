package rpy

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds the options of an [R] instance. The zero value is usable.
type Config struct {
	// Numeric enables conversion of R numeric arrays into [Array].
	Numeric bool

	// NoEventLoop disables the background event loop. It is always set
	// on Windows, where R does not need polling.
	NoEventLoop bool

	// Interval is the event loop polling interval.
	// Defaults to DefaultInterval.
	Interval time.Duration

	// ShowErrorMessages keeps R printing error messages to its console in
	// addition to returning them as errors.
	ShowErrorMessages bool

	// NoConsoleOutput, NoConsoleInput and NoShowFiles leave the
	// corresponding console callbacks of the backend untouched.
	NoConsoleOutput bool
	NoConsoleInput  bool
	NoShowFiles     bool

	// Output, Input and ShowFiles override the default console, which
	// uses Stdout, Stderr and Stdin.
	Output    OutputFunc
	Input     InputFunc
	ShowFiles ShowFilesFunc

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Verbose logs each initialization step.
	Verbose bool

	// Logger is an optional logger. Nil discards messages.
	Logger Logger
}

// Validate reports an invalid configuration as ErrConfiguration.
func (c *Config) Validate() error {
	var bad []string
	if c.Interval < 0 {
		bad = append(bad, "Interval must not be negative")
	}
	if c.NoConsoleOutput && c.Output != nil {
		bad = append(bad, "Output set with NoConsoleOutput")
	}
	if c.NoConsoleInput && c.Input != nil {
		bad = append(bad, "Input set with NoConsoleInput")
	}
	if c.NoShowFiles && c.ShowFiles != nil {
		bad = append(bad, "ShowFiles set with NoShowFiles")
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(bad, ", "))
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if runtime.GOOS == "windows" {
		c.NoEventLoop = true
	}
	if c.Stdin == nil {
		c.Stdin = os.Stdin
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}
	if c.Logger == nil {
		c.Logger = nopLogger{}
	}
}

// ConfigFromEnv returns a Config populated from the environment:
//
//	RPY_VERBOSE        Verbose
//	RPY_NUMERIC        Numeric
//	RPY_NO_EVENTLOOP   NoEventLoop
//	RPY_INTERVAL       Interval, as a time.Duration ("500ms")
//	RPY_SHOW_ERRORS    ShowErrorMessages
func ConfigFromEnv() (Config, error) {
	return configFromLookup(os.LookupEnv)
}

func configFromLookup(lookup func(string) (string, bool)) (Config, error) {
	var c Config
	flags := []struct {
		name string
		dst  *bool
	}{
		{"RPY_VERBOSE", &c.Verbose},
		{"RPY_NUMERIC", &c.Numeric},
		{"RPY_NO_EVENTLOOP", &c.NoEventLoop},
		{"RPY_SHOW_ERRORS", &c.ShowErrorMessages},
	}
	for _, f := range flags {
		v, ok := lookup(f.name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q: %v", ErrConfiguration, f.name, v, err)
		}
		*f.dst = b
	}
	if v, ok := lookup("RPY_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: RPY_INTERVAL=%q: %v", ErrConfiguration, v, err)
		}
		c.Interval = d
	}
	return c, c.Validate()
}

// VersionCode turns an R version such as "2.6.2" into the compact code
// "2062" used to name version-specific builds.
func VersionCode(version string) (string, error) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed R version %q", ErrConfiguration, version)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return "", fmt.Errorf("%w: malformed R version %q", ErrConfiguration, version)
		}
		n[i] = v
	}
	return fmt.Sprintf("%1d%02d%1d", n[0], n[1], n[2]), nil
}
