package engine

import (
	"errors"
	"fmt"
)

// CommandError reports a request the engine could not run.
//
// Command errors include:
//   - Unknown op: the request names no operation
//   - Bad request: arguments are missing or malformed
//   - Stopped: the engine stopped serving before the request ran
//
// Errors raised by the operation itself (time errors, storage errors) are
// returned as they are, not wrapped in a CommandError.
type CommandError struct {
	// Code identifies the error category.
	Code CommandErrorCode

	// Op is the requested operation.
	Op string

	// Message is a human-readable description.
	Message string
}

// CommandErrorCode categorizes command errors.
type CommandErrorCode string

const (
	// ErrCodeUnknownOp means the request names no operation.
	ErrCodeUnknownOp CommandErrorCode = "UNKNOWN_OP"

	// ErrCodeBadRequest means the request arguments are invalid.
	ErrCodeBadRequest CommandErrorCode = "BAD_REQUEST"

	// ErrCodeStopped means the engine is no longer serving.
	ErrCodeStopped CommandErrorCode = "STOPPED"
)

// Error implements the error interface.
func (e *CommandError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (op=%s)", e.Code, e.Message, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func badRequest(op, format string, args ...any) *CommandError {
	return &CommandError{Code: ErrCodeBadRequest, Op: op, Message: fmt.Sprintf(format, args...)}
}

// ErrStopped is returned by Client.Call once Serve has returned.
var ErrStopped = &CommandError{Code: ErrCodeStopped, Message: "engine is not serving"}

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine is closed")

// IsStopped returns true if err reports that the engine stopped serving.
// Uses errors.As to handle wrapped errors.
func IsStopped(err error) bool {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeStopped
	}
	return false
}

// IsBadRequest returns true if err reports an unknown op or invalid
// arguments.
func IsBadRequest(err error) bool {
	var ce *CommandError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeBadRequest || ce.Code == ErrCodeUnknownOp
	}
	return false
}
