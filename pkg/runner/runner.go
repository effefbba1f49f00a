package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// DefaultCaptureLimit bounds how much of each output stream is kept in a
// Result. Older output is dropped first.
const DefaultCaptureLimit = 64 * 1024

// Runner executes a process and reports how it exited.
type Runner interface {
	// Run executes argv with dir as the working directory and blocks until
	// the process exits. A non-zero exit status is reported in the Result,
	// not as an error; errors mean the process could not be run at all.
	Run(ctx context.Context, argv []string, dir string) (*Result, error)
}

// Result captures execution details for a single process.
type Result struct {
	Command  []string      `json:"command"`
	Workdir  string        `json:"workdir,omitempty"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether the process exited with status zero.
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0
}

// Exec runs processes on the host.
type Exec struct {
	env          []string
	stdout       io.Writer
	stderr       io.Writer
	captureLimit int
}

// Option configures an Exec runner.
type Option func(*Exec)

// WithEnv appends KEY=VALUE entries to the inherited environment.
func WithEnv(env ...string) Option {
	return func(e *Exec) {
		e.env = append(e.env, env...)
	}
}

// WithOutput streams process output to the given writers in addition to
// capturing it. Nil writers are ignored.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Exec) {
		e.stdout = stdout
		e.stderr = stderr
	}
}

// WithCaptureLimit overrides DefaultCaptureLimit.
func WithCaptureLimit(n int) Option {
	return func(e *Exec) {
		if n > 0 {
			e.captureLimit = n
		}
	}
}

// NewExec creates a host process runner.
func NewExec(opts ...Option) *Exec {
	e := &Exec{captureLimit: DefaultCaptureLimit}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes argv[0] with the remaining elements as arguments.
func (e *Exec) Run(ctx context.Context, argv []string, dir string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("runner requires a command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}

	stdout := newTailBuffer(e.captureLimit)
	stderr := newTailBuffer(e.captureLimit)
	cmd.Stdout = teeTo(stdout, e.stdout)
	cmd.Stderr = teeTo(stderr, e.stderr)

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", argv[0], err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s interrupted: %w", argv[0], ctxErr)
		}
		exitCode = exitErr.ExitCode()
	}

	return &Result{
		Command:  append([]string{}, argv...),
		Workdir:  dir,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}

func teeTo(capture io.Writer, stream io.Writer) io.Writer {
	if stream == nil {
		return capture
	}
	return io.MultiWriter(capture, stream)
}
