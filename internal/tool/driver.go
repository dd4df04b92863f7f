// Package tool wraps the external password-recovery programs a worker can run.
package tool

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// RunParams describes one cracking run.
type RunParams struct {
	CapturePath    string
	DictionaryPath string
	// OnKey is called with the recovered password, if any.
	OnKey func(password string)
}

// Driver is the narrow interface a worker uses to drive a tool.
type Driver interface {
	Name() string
	Path() string
	// Version is known after a successful Search.
	Version() string
	// Search confirms the binary can be invoked and records its version.
	Search(ctx context.Context) error
	// Benchmark measures throughput in PMK/s.
	Benchmark(ctx context.Context) (int64, error)
	Run(ctx context.Context, params RunParams) error
}

// Runner executes a program and returns its combined output.
type Runner interface {
	Run(ctx context.Context, path string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, path string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, path, args...).CombinedOutput()
}

// profile describes how to talk to one tool.
type profile struct {
	name         string
	binary       string
	versionArgs  []string
	versionRegex *regexp.Regexp
	benchArgs    []string
	benchRegex   *regexp.Regexp
	runArgs      func(p RunParams, outfile string) []string
	keyRegex     *regexp.Regexp
	// outfile tools write recovered keys to a file instead of the console.
	outfile bool
	// exhausted is the exit code meaning the dictionary ran out without a key.
	// Any other non-zero code of an outfile tool is a failure.
	exhausted int
}

// execDriver is a Driver backed by a profile and a Runner.
type execDriver struct {
	profile
	path    string
	version string
	runner  Runner
}

func (d *execDriver) Name() string    { return d.name }
func (d *execDriver) Path() string    { return d.path }
func (d *execDriver) Version() string { return d.version }

func (d *execDriver) Search(ctx context.Context) error {
	out, err := d.runner.Run(ctx, d.path, d.versionArgs...)
	if err != nil {
		var exitErr *exec.ExitError
		// Some tools print their banner and exit non-zero on --help.
		if !errors.As(err, &exitErr) || len(out) == 0 {
			return newError(ErrCodeNotFound, d.name, "cannot execute "+d.path, err)
		}
	}

	m := d.versionRegex.FindSubmatch(out)
	if m == nil {
		return newError(ErrCodeVersion, d.name, "unrecognized version output", nil)
	}
	d.version = string(m[1])
	return nil
}

func (d *execDriver) Benchmark(ctx context.Context) (int64, error) {
	out, err := d.runner.Run(ctx, d.path, d.benchArgs...)
	if err != nil {
		return 0, newError(ErrCodeDie, d.name, "benchmark process failed", err)
	}

	m := d.benchRegex.FindSubmatch(out)
	if m == nil {
		return 0, newError(ErrCodeBenchmark, d.name, "no speed in benchmark output", nil)
	}
	speed, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, newError(ErrCodeBenchmark, d.name, "bad speed "+string(m[1]), err)
	}
	if len(m) > 2 {
		speed *= unitScale(string(m[2]))
	}
	return int64(speed), nil
}

func (d *execDriver) Run(ctx context.Context, params RunParams) error {
	if d.outfile {
		return d.runWithOutfile(ctx, params)
	}

	out, err := d.runner.Run(ctx, d.path, d.runArgs(params, "")...)
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return newError(ErrCodeDie, d.name, "cannot start "+d.path, err)
		}
		// aircrack-ng exits non-zero when the key is not found
	}

	if m := d.keyRegex.FindSubmatch(out); m != nil && params.OnKey != nil {
		params.OnKey(strings.TrimSpace(string(m[1])))
	}
	return nil
}

// runWithOutfile runs a tool that writes keys to a file and reports a key
// only when the tool exits successfully and the file holds one.
func (d *execDriver) runWithOutfile(ctx context.Context, params RunParams) error {
	f, err := os.CreateTemp("", "cherry-"+d.name+"-*.out")
	if err != nil {
		return newError(ErrCodeDie, d.name, "create outfile", err)
	}
	outfile := f.Name()
	_ = f.Close()
	defer os.Remove(outfile)

	if _, err := d.runner.Run(ctx, d.path, d.runArgs(params, outfile)...); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return newError(ErrCodeDie, d.name, "cannot start "+d.path, err)
		}
		if exitErr.ExitCode() == d.exhausted {
			return nil
		}
		return newError(ErrCodeDie, d.name, "run failed", err)
	}

	data, err := os.ReadFile(outfile)
	if err != nil {
		return newError(ErrCodeDie, d.name, "read outfile", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if key := strings.TrimRight(line, "\r"); key != "" {
			if params.OnKey != nil {
				params.OnKey(key)
			}
			return nil
		}
	}
	return nil
}

func unitScale(prefix string) float64 {
	switch strings.ToLower(prefix) {
	case "k":
		return 1e3
	case "m":
		return 1e6
	case "g":
		return 1e9
	default:
		return 1
	}
}
