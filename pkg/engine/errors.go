package engine

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionError reports a failure to establish or keep a session with
// the target database.
type ConnectionError struct {
	Engine Kind
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: cannot connect to target %q: %v", e.Engine, e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// UnsupportedVersionError reports an engine older than the adapter's
// minimum at connect time, before any script runs.
type UnsupportedVersionError struct {
	Engine  Kind
	Version string
	Minimum string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("%s version %s is not supported; %s or later required",
		e.Engine, e.Version, e.Minimum)
}

// ScriptError wraps the engine's own error text together with the script
// that failed. The orchestrator attaches the change name.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("script %s failed: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// LockHeldError reports that another run holds the target's exclusive
// lock. Runs fail fast instead of queuing.
type LockHeldError struct {
	Target  string
	Timeout time.Duration
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("target %q is locked by another run (waited %s)", e.Target, e.Timeout)
}

// IsLockHeld reports whether err is or wraps a *LockHeldError.
func IsLockHeld(err error) bool {
	var e *LockHeldError
	return errors.As(err, &e)
}

// IsConnection reports whether err is or wraps a *ConnectionError.
func IsConnection(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}

// IsUnsupportedVersion reports whether err is or wraps an
// *UnsupportedVersionError.
func IsUnsupportedVersion(err error) bool {
	var e *UnsupportedVersionError
	return errors.As(err, &e)
}

// IsScript reports whether err is or wraps a *ScriptError.
func IsScript(err error) bool {
	var e *ScriptError
	return errors.As(err, &e)
}
