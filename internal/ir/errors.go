package ir

import (
	"errors"
	"fmt"
)

// TimeError represents a failure of a temporal read, write, or cursor move.
//
// Time errors include:
//   - Unset: no value was in effect at the queried time
//   - Out of history: a target precedes a branch's start or its known history
//   - Stale plan: a write through a plan that was already committed or discarded
//   - Branch errors: duplicate, unknown, or self-parented branches
//
// TimeError carries the coordinate involved so callers can report it.
type TimeError struct {
	// Code identifies the error category.
	Code TimeErrorCode

	// Message is a human-readable description.
	Message string

	// Branch, Turn, and Tick locate the failing operation.
	Branch string
	Turn   int64
	Tick   int64
}

// TimeErrorCode categorizes time errors.
type TimeErrorCode string

const (
	// ErrCodeUnset means no value was in effect, either because nothing was
	// ever set or because a tombstone is in effect.
	ErrCodeUnset TimeErrorCode = "UNSET"

	// ErrCodeOutOfHistory means the target coordinate cannot be reached.
	ErrCodeOutOfHistory TimeErrorCode = "OUT_OF_HISTORY"

	// ErrCodeStalePlan means a write went through a closed plan.
	ErrCodeStalePlan TimeErrorCode = "STALE_PLAN"

	// ErrCodeBranchCycle means a branch was asked to be its own parent.
	ErrCodeBranchCycle TimeErrorCode = "BRANCH_CYCLE"

	// ErrCodeDuplicateBranch means the branch id is already registered.
	ErrCodeDuplicateBranch TimeErrorCode = "DUPLICATE_BRANCH"

	// ErrCodeUnknownBranch means the branch id is not registered.
	ErrCodeUnknownBranch TimeErrorCode = "UNKNOWN_BRANCH"

	// ErrCodePlanInPast means a plan tried to write before the branch's
	// high-water mark.
	ErrCodePlanInPast TimeErrorCode = "PLAN_IN_PAST"

	// ErrCodeForwardOnly means advancing mode rejected a cursor move.
	ErrCodeForwardOnly TimeErrorCode = "FORWARD_ONLY"
)

// Error implements the error interface.
func (e *TimeError) Error() string {
	if e.Branch != "" {
		return fmt.Sprintf("%s: %s (at %s@%d.%d)", e.Code, e.Message, e.Branch, e.Turn, e.Tick)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewTimeError creates a TimeError located at t.
func NewTimeError(code TimeErrorCode, t Time, format string, args ...any) *TimeError {
	return &TimeError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Branch:  t.Branch,
		Turn:    t.Turn,
		Tick:    t.Tick,
	}
}

// NewUnsetError reports that key has no value on ref at t.
func NewUnsetError(ref EntityRef, key string, t Time) *TimeError {
	return NewTimeError(ErrCodeUnset, t, "%s has no value for %q", ref, key)
}

// ErrorCode returns the TimeErrorCode of err, or "" if err is not a TimeError.
// Uses errors.As to handle wrapped errors.
func ErrorCode(err error) TimeErrorCode {
	var te *TimeError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

// IsUnset returns true if err reports a missing value.
func IsUnset(err error) bool {
	return ErrorCode(err) == ErrCodeUnset
}

// IsOutOfHistory returns true if err reports an unreachable coordinate.
func IsOutOfHistory(err error) bool {
	return ErrorCode(err) == ErrCodeOutOfHistory
}

// IsStalePlan returns true if err reports a write through a closed plan.
func IsStalePlan(err error) bool {
	return ErrorCode(err) == ErrCodeStalePlan
}

// IsBranchError returns true if err reports a branch registry violation.
func IsBranchError(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeBranchCycle, ErrCodeDuplicateBranch, ErrCodeUnknownBranch:
		return true
	}
	return false
}

// StorageError wraps a failure of the persistence backend.
// The in-memory state is unchanged when a write returns a StorageError.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the backend error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError returns true if err came from the persistence backend.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
