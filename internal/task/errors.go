package task

import (
	"errors"
	"fmt"
)

// Error taxonomy. Concrete errors wrap one of these so callers can use errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state")
	ErrValidation      = errors.New("validation error")
	ErrNoTaskAvailable = errors.New("no task available")
	ErrConflict        = errors.New("concurrency conflict")
	ErrHookFailure     = errors.New("hook failure")
)

// HookError reports a blocking hook that failed or timed out.
type HookError struct {
	Hook     string
	ExitCode int
	Output   string
	TimedOut bool
}

func (e *HookError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("hook %s timed out", e.Hook)
	}
	return fmt.Sprintf("hook %s failed with exit code %d", e.Hook, e.ExitCode)
}

// Unwrap lets errors.Is match ErrHookFailure.
func (e *HookError) Unwrap() error { return ErrHookFailure }

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// InvalidStatef wraps ErrInvalidState with a formatted message.
func InvalidStatef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidState)...)
}

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// Forbiddenf wraps ErrForbidden with a formatted message.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}
