package driver

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// InstallTarget returns the directory the build output is installed to:
// the install root, or the configured destination below it.
func (e *Executor) InstallTarget(installDir string) string {
	if dest := e.opts.Destination(); dest != "" {
		return filepath.Join(installDir, dest)
	}
	return installDir
}

// Install replaces the install target with a copy of the build directory.
// It runs automatically at the end of a successful RunBuild when install is
// enabled, and may also be called on its own by the host.
//
// Install is not atomic: the previous target is removed before the copy
// starts, so a failure can leave the target missing or partially copied,
// but never a mix of old and new content.
func (e *Executor) Install(_ context.Context, dirs Dirs) (*PhaseResult, error) {
	if err := requireDir("build-dir", dirs.BuildDir); err != nil {
		return nil, err
	}
	if err := requireDir("install-dir", dirs.InstallDir); err != nil {
		return nil, err
	}
	dirs, err := absDirs(dirs)
	if err != nil {
		return nil, err
	}

	result := &PhaseResult{Phase: PhaseInstall, State: StateFailed}
	installed, err := e.materialize(dirs)
	result.Install = installed
	if installed != nil {
		result.Duration = installed.Duration
	}
	if err != nil {
		return result, err
	}

	result.State = StateInstalled
	return result, nil
}

func (e *Executor) materialize(dirs Dirs) (*InstallResult, error) {
	start := time.Now()
	target := e.InstallTarget(dirs.InstallDir)
	result := &InstallResult{Target: target}

	if err := checkOverlap(dirs.BuildDir, target); err != nil {
		return result, &InstallError{Op: "check", Path: target, Err: err}
	}
	if !e.fs.IsDir(dirs.BuildDir) {
		result.Duration = time.Since(start)
		return result, &InstallError{Op: "check", Path: dirs.BuildDir, Err: fs.ErrNotExist}
	}

	if e.fs.Exists(target) {
		e.logf("install: removing existing %s", target)
		if err := e.fs.RemoveTree(target); err != nil {
			result.Duration = time.Since(start)
			return result, &InstallError{Op: "remove", Path: target, Err: err}
		}
		result.Replaced = true
	}

	e.logf("install: copying %s to %s", dirs.BuildDir, target)
	if err := e.fs.CopyTree(dirs.BuildDir, target); err != nil {
		result.Duration = time.Since(start)
		return result, &InstallError{Op: "copy", Path: target, Err: err}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// checkOverlap rejects install targets that would delete the build output
// or copy the build directory into itself.
func checkOverlap(buildDir, target string) error {
	build, err := filepath.Abs(buildDir)
	if err != nil {
		return err
	}
	dest, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	if within(build, dest) {
		return fmt.Errorf("build directory %s is inside the install target", buildDir)
	}
	if within(dest, build) {
		return fmt.Errorf("install target is inside the build directory %s", buildDir)
	}
	return nil
}

// within reports whether path equals root or lies below it.
func within(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
