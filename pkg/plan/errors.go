package plan

import (
	"errors"
	"fmt"
)

// ParseError reports a malformed plan file line. The plan must be fully
// valid before any database contact, so parse failures are fatal to the
// whole invocation.
type ParseError struct {
	File   string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Reason)
}

// DependencyError reports a dependency reference that does not resolve to
// a preceding entry in the plan.
type DependencyError struct {
	Change  string
	Missing string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("change %q depends on unknown change %q", e.Change, e.Missing)
}

// IntegrityError reports a mismatch between a previously recorded entry
// identity and the identity recomputed from current plan content. It
// signals tampering or an out-of-band edit of released history.
type IntegrityError struct {
	Entry    string
	Recorded string
	Computed string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %q: recorded id %s does not match computed id %s",
		e.Entry, e.Recorded, e.Computed)
}

// IsParseError reports whether err is or wraps a *ParseError.
func IsParseError(err error) bool {
	var e *ParseError
	return errors.As(err, &e)
}

// IsDependencyError reports whether err is or wraps a *DependencyError.
func IsDependencyError(err error) bool {
	var e *DependencyError
	return errors.As(err, &e)
}

// IsIntegrityError reports whether err is or wraps an *IntegrityError.
func IsIntegrityError(err error) bool {
	var e *IntegrityError
	return errors.As(err, &e)
}
