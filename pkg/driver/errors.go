package driver

import (
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
)

// ScriptFailure reports a script that exited non-zero or could not be
// started. It aborts the remaining phases of the invocation and classifies
// as errdefs.ErrAborted.
type ScriptFailure struct {
	Phase    string
	Command  []string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ScriptFailure) Error() string {
	cmd := strings.Join(e.Command, " ")
	if e.Err != nil {
		return fmt.Sprintf("%s script failed: %s: %v", e.Phase, cmd, e.Err)
	}
	return fmt.Sprintf("%s script failed: %s exited with status %d", e.Phase, cmd, e.ExitCode)
}

func (e *ScriptFailure) Unwrap() error {
	return e.Err
}

// Is makes errdefs.IsAborted recognise script failures.
func (e *ScriptFailure) Is(target error) bool {
	return target == errdefs.ErrAborted
}

// InstallError reports a filesystem failure while materializing the build
// output. The install target may be left empty or partially populated.
type InstallError struct {
	Op   string
	Path string
	Err  error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("install failed: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *InstallError) Unwrap() error {
	return e.Err
}
