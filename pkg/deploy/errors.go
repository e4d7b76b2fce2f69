package deploy

import (
	"errors"
	"fmt"
	"strings"
)

// FailedAtChange reports the change a deploy or revert run stopped at.
// Changes committed before it remain deployed.
type FailedAtChange struct {
	Change string
	Cause  error
}

func (e *FailedAtChange) Error() string {
	return fmt.Sprintf("run failed at change %q: %v", e.Change, e.Cause)
}

func (e *FailedAtChange) Unwrap() error { return e.Cause }

// VerifyFailure is one failed verification.
type VerifyFailure struct {
	Change string
	Err    error
}

// VerificationError aggregates every failed verification in a run, in
// plan order. Verification never stops at the first failure.
type VerificationError struct {
	Failures []VerifyFailure
}

func (e *VerificationError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Change
	}
	return fmt.Sprintf("verification failed for %d change(s): %s",
		len(e.Failures), strings.Join(names, ", "))
}

// ConflictError reports a change whose declared conflict is currently
// deployed. Detected before the change's script runs.
type ConflictError struct {
	Change   string
	Deployed string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("cannot deploy %q: conflicting change %q is deployed", e.Change, e.Deployed)
}

// StateError reports a run started while another operation on the same
// orchestrator is still active.
type StateError struct {
	Active State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("a %s run is already active", e.Active)
}

// UnknownTargetError reports a deploy or revert boundary that names no
// plan entry.
type UnknownTargetError struct {
	Name string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("plan has no change or tag %q", e.Name)
}

// IsFailedAtChange reports whether err is or wraps a *FailedAtChange.
func IsFailedAtChange(err error) bool {
	var e *FailedAtChange
	return errors.As(err, &e)
}

// IsVerification reports whether err is or wraps a *VerificationError.
func IsVerification(err error) bool {
	var e *VerificationError
	return errors.As(err, &e)
}

// IsConflict reports whether err is or wraps a *ConflictError.
func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}
