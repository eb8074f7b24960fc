// Package errkind provides the runtime's structured error taxonomy.
//
// None of these ever cross the public API as a returned error: the runtime
// never raises. A *RuntimeError is instead what gets handed to a logger or
// the telemetry span, and what Worker's panic recovery wraps a faulting
// hook/payload in before routing it to the diagnostic channel keyed by
// Location.
package errkind

import (
	"fmt"
	"time"

	"github.com/kart-io/dispatchrt/location"
)

// Kind identifies one of the runtime's non-fatal failure categories.
type Kind string

const (
	// Rejected marks a post/sync call made after a queue or broker has
	// been broken; the call is a silent no-op from the caller's view.
	Rejected Kind = "rejected"
	// BrokenWait marks a wait/wait_for call returning empty because the
	// waiter or the whole broker was broken out from under it.
	BrokenWait Kind = "broken_wait"
	// StaleReference marks a weak reference (broker, pool, or queue)
	// failing to upgrade inside a completion hook.
	StaleReference Kind = "stale_reference"
	// UserTaskFault marks a payload or hook closure that panicked.
	UserTaskFault Kind = "user_task_fault"
)

// RuntimeError is the structured record attached to a Kind.
type RuntimeError struct {
	Kind      Kind
	Message   string
	Loc       location.Location
	Cause     error
	Timestamp time.Time
}

// New builds a RuntimeError of the given kind at the given location.
func New(kind Kind, loc location.Location, msg string) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: msg, Loc: loc, Timestamp: time.Now()}
}

// WithCause attaches an underlying cause (e.g. a recovered panic value
// wrapped as an error) and returns the same error for chaining.
func (e *RuntimeError) WithCause(cause error) *RuntimeError {
	e.Cause = cause
	return e
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Loc.IsZero() {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s (at %s)", e.Kind, e.Message, e.Loc)
}

// Unwrap returns the underlying cause, if any.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// Is matches RuntimeErrors of the same Kind, mirroring NotifyError.Is.
func (e *RuntimeError) Is(target error) bool {
	other, ok := target.(*RuntimeError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}

// Recovered turns a recover() value from a panicking hook or payload into a
// UserTaskFault, the only Kind a panic ever produces.
func Recovered(loc location.Location, r interface{}) *RuntimeError {
	err, ok := r.(error)
	if ok {
		return New(UserTaskFault, loc, "task panicked").WithCause(err)
	}
	return New(UserTaskFault, loc, fmt.Sprintf("task panicked: %v", r))
}
