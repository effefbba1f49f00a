package driver

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	digest "github.com/opencontainers/go-digest"

	"github.com/zen-systems/partdrive/pkg/fsutil"
	"github.com/zen-systems/partdrive/pkg/part"
	"github.com/zen-systems/partdrive/pkg/runner"
)

// Phase names as reported in results and errors.
const (
	PhasePull    = "pull"
	PhaseBuild   = "build"
	PhaseInstall = "install"
)

// FS is the filesystem the executor stages scripts and installs through.
type FS interface {
	Exists(path string) bool
	IsFile(path string) bool
	IsDir(path string) bool
	CopyFile(src, dst string) error
	CopyTree(src, dst string) error
	RemoveTree(path string) error
	SameFile(a, b string) (bool, error)
	Digest(path string) (digest.Digest, error)
}

// Dirs is the execution context the host supplies for each phase call.
type Dirs struct {
	SourceDir  string
	BuildDir   string
	InstallDir string
}

// StagingMode describes how the build script reached the build directory.
type StagingMode string

const (
	// StagingCopied means the script was copied from the source tree.
	StagingCopied StagingMode = "copied"
	// StagingUnchanged means an identical copy was already staged.
	StagingUnchanged StagingMode = "unchanged"
	// StagingPrestaged means no script exists in the source tree and the
	// build directory is expected to already hold one.
	StagingPrestaged StagingMode = "prestaged"
)

// Staging records the outcome of staging the build script.
type Staging struct {
	Mode   StagingMode   `json:"mode"`
	Source string        `json:"source,omitempty"`
	Path   string        `json:"path"`
	Digest digest.Digest `json:"digest,omitempty"`
}

// InstallResult records where the build output was materialized.
type InstallResult struct {
	Target   string        `json:"target"`
	Replaced bool          `json:"replaced"`
	Duration time.Duration `json:"duration"`
}

// PhaseResult captures what a phase call did. On failure it is returned
// alongside the error with whatever was completed.
type PhaseResult struct {
	Phase    string
	State    State
	Skipped  bool
	Command  *runner.Result
	Staging  *Staging
	Install  *InstallResult
	Duration time.Duration
}

// Executor runs a part's script during pull and build and materializes the
// build output. It holds no state beyond its configuration.
type Executor struct {
	opts   *part.ScriptOptions
	runner runner.Runner
	fs     FS
	logf   func(format string, args ...any)
}

// Option configures an Executor.
type Option func(*Executor)

// WithFS replaces the host filesystem.
func WithFS(fs FS) Option {
	return func(e *Executor) {
		e.fs = fs
	}
}

// WithLogger sets a progress logger.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(e *Executor) {
		if logf != nil {
			e.logf = logf
		}
	}
}

// New creates an executor for validated options.
func New(opts *part.ScriptOptions, r runner.Runner, options ...Option) *Executor {
	e := &Executor{
		opts:   opts,
		runner: r,
		fs:     fsutil.OS{},
		logf:   func(string, ...any) {},
	}
	for _, opt := range options {
		opt(e)
	}
	return e
}

// Options returns the configuration the executor was built with.
func (e *Executor) Options() *part.ScriptOptions {
	return e.opts
}

// RunPull runs the script in place from the source tree when the pull
// stage is enabled.
func (e *Executor) RunPull(ctx context.Context, dirs Dirs) (*PhaseResult, error) {
	if !e.opts.HasStage(part.StagePull) {
		e.logf("pull: stage not enabled, skipping")
		return &PhaseResult{Phase: PhasePull, State: StateIdle, Skipped: true}, nil
	}
	if err := requireDir("source-dir", dirs.SourceDir); err != nil {
		return nil, err
	}
	dirs, err := absDirs(dirs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	script := filepath.Join(dirs.SourceDir, e.opts.Script())
	argv := append([]string{script}, e.opts.PullArguments()...)

	result := &PhaseResult{Phase: PhasePull}
	cmd, err := e.run(ctx, PhasePull, argv, dirs.SourceDir)
	result.Command = cmd
	result.Duration = time.Since(start)
	if err != nil {
		result.State = StateFailed
		return result, err
	}

	result.State = StatePulled
	return result, nil
}

// RunBuild stages the script into the build directory, runs it there and,
// when install is enabled, materializes the build output.
func (e *Executor) RunBuild(ctx context.Context, dirs Dirs) (*PhaseResult, error) {
	if !e.opts.HasStage(part.StageBuild) {
		e.logf("build: stage not enabled, skipping")
		return &PhaseResult{Phase: PhaseBuild, State: StateIdle, Skipped: true}, nil
	}
	if err := requireDir("source-dir", dirs.SourceDir); err != nil {
		return nil, err
	}
	if err := requireDir("build-dir", dirs.BuildDir); err != nil {
		return nil, err
	}
	if e.opts.Install() {
		if err := requireDir("install-dir", dirs.InstallDir); err != nil {
			return nil, err
		}
	}
	dirs, err := absDirs(dirs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := &PhaseResult{Phase: PhaseBuild, State: StateFailed}

	staging, err := e.stage(dirs)
	result.Staging = staging
	if err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	argv := append([]string{staging.Path}, e.opts.BuildArguments()...)
	cmd, err := e.run(ctx, PhaseBuild, argv, dirs.BuildDir)
	result.Command = cmd
	if err != nil {
		result.Duration = time.Since(start)
		return result, err
	}

	result.State = StateBuilt
	if e.opts.Install() {
		installed, err := e.materialize(dirs)
		result.Install = installed
		result.Duration = time.Since(start)
		if err != nil {
			result.State = StateFailed
			return result, err
		}
		result.State = StateInstalled
		return result, nil
	}

	result.Duration = time.Since(start)
	return result, nil
}

// stage places the build script at BuildDir/<script base name>.
//
// When the script exists in the source tree it is copied over any earlier
// copy. When it does not, nothing is copied and the build directory is
// assumed to already hold the script, for instance from a source fetch.
func (e *Executor) stage(dirs Dirs) (*Staging, error) {
	src := filepath.Join(dirs.SourceDir, e.opts.Script())
	dst := filepath.Join(dirs.BuildDir, e.opts.ScriptBase())

	if !e.fs.IsFile(src) {
		e.logf("build: %s not in source tree, running pre-staged %s", e.opts.Script(), dst)
		return &Staging{Mode: StagingPrestaged, Path: dst}, nil
	}

	staging := &Staging{Mode: StagingCopied, Source: src, Path: dst}
	if same, err := e.fs.SameFile(src, dst); err == nil && same {
		staging.Mode = StagingUnchanged
	} else if err := e.fs.CopyFile(src, dst); err != nil {
		return staging, fmt.Errorf("failed to stage script %s: %w", src, err)
	}

	if d, err := e.fs.Digest(dst); err == nil {
		staging.Digest = d
	}
	e.logf("build: staged %s (%s)", dst, staging.Mode)
	return staging, nil
}

// run invokes the runner and converts start failures and non-zero exits
// into a ScriptFailure.
func (e *Executor) run(ctx context.Context, phase string, argv []string, dir string) (*runner.Result, error) {
	e.logf("%s: running %v in %s", phase, argv, dir)

	res, err := e.runner.Run(ctx, argv, dir)
	if err != nil {
		return res, &ScriptFailure{Phase: phase, Command: argv, Dir: dir, ExitCode: -1, Err: err}
	}
	if !res.Succeeded() {
		return res, &ScriptFailure{
			Phase:    phase,
			Command:  argv,
			Dir:      dir,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
		}
	}
	return res, nil
}

// absDirs makes the phase directories absolute. The script path is joined
// onto them and also used as the working directory, so a relative path
// would be resolved twice, and a bare file name would go through $PATH.
func absDirs(dirs Dirs) (Dirs, error) {
	for _, dir := range []*string{&dirs.SourceDir, &dirs.BuildDir, &dirs.InstallDir} {
		if *dir == "" {
			continue
		}
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return Dirs{}, err
		}
		*dir = abs
	}
	return dirs, nil
}

func requireDir(field, dir string) error {
	if dir == "" {
		return &part.ConfigError{Field: field, Msg: "a directory is required"}
	}
	return nil
}
