package core

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned when a second run is started on a busy environment.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrRunStopped is returned when a run ends early on a stop signal.
	ErrRunStopped = errors.New("run stopped before completion")
	// ErrNoActiveRun is returned when stopping while nothing runs.
	ErrNoActiveRun = errors.New("no active run")
)

// ConfigurationError reports invalid run parameters. It is fatal and always
// surfaces before the first round executes.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// CollaboratorError wraps a failed or timed-out language model call. Agents
// recover from it locally by degrading to empty text.
type CollaboratorError struct {
	Role Role
	Op   string
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s: collaborator failed: %v", e.Role, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
