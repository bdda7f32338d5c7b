package delegation

import "errors"

var (
	// ErrTransientIO marks failures worth retrying with the same context
	// bundle: flaky reads, interrupted writes, recoverable tool hiccups.
	ErrTransientIO = errors.New("transient io failure")

	// ErrDelegateTimeout is returned when a delegate exceeds its execution
	// bound. Timeouts are retried like transient failures; exhaustion fails
	// the task and may escalate.
	ErrDelegateTimeout = errors.New("delegate timed out")

	// ErrConfirmationDeclined is returned when the user rejects a risky
	// operation. The task is cancelled, never retried or escalated.
	ErrConfirmationDeclined = errors.New("confirmation declined")

	// ErrDelegateBusy is returned when a task already has an active
	// delegation; a task is delegated to at most one delegate at a time.
	ErrDelegateBusy = errors.New("delegate busy")

	// ErrNoDelegate is returned when no executable delegate is registered
	// for a capability id.
	ErrNoDelegate = errors.New("no delegate registered")
)
