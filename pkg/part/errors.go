package part

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// ConfigError reports a missing or invalid declared option. It is raised
// before anything is executed and classifies as errdefs.ErrInvalidArgument.
type ConfigError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := "invalid part configuration"
	if e.Field != "" {
		msg += fmt.Sprintf(": %s", e.Field)
	}
	if e.Msg != "" {
		msg += fmt.Sprintf(": %s", e.Msg)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Is makes errdefs.IsInvalidArgument recognise configuration errors.
func (e *ConfigError) Is(target error) bool {
	return target == errdefs.ErrInvalidArgument
}

func configErrorf(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
