package domain

import "fmt"

// ValidationError reports a malformed rule field. Construction and
// update reject the whole change; nothing is partially applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports a missing or failed PIN challenge.
// It is always recoverable; callers must offer retry.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "authorization required: " + e.Reason
}

// EnforcementIOError wraps a process listing or kill failure.
// The scheduler logs these and continues; they never abort a cycle.
type EnforcementIOError struct {
	Op  string
	Err error
}

func (e *EnforcementIOError) Error() string {
	return fmt.Sprintf("enforcement %s failed: %v", e.Op, e.Err)
}

func (e *EnforcementIOError) Unwrap() error { return e.Err }

// PersistenceError wraps a storage read or write failure. A mutation
// is not committed to memory until the store write succeeds.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
