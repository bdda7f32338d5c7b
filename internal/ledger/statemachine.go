package ledger

import "errors"

var (
	// ErrInvalidTransition is returned for a state change outside the
	// transition table. Never coerced, never recorded.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrChildrenNotTerminal is returned when completing a task whose
	// children are still open.
	ErrChildrenNotTerminal = errors.New("children not terminal")
)

// transitions is the full table of legal state changes. Cancellation from any
// non-terminal state is handled separately in CanTransition.
var transitions = map[Status][]Status{
	StatusPending:              {StatusDelegated},
	StatusDelegated:            {StatusInProgress},
	StatusInProgress:           {StatusAwaitingConfirmation, StatusBlocked, StatusCompleted, StatusFailed},
	StatusAwaitingConfirmation: {StatusInProgress},
	StatusBlocked:              {StatusInProgress},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		// Explicit cancellation is legal from any non-terminal state,
		// including a declined confirmation.
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
