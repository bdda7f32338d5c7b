package ledger

import "testing"

func TestCanTransitionTable(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusDelegated},
		{StatusDelegated, StatusInProgress},
		{StatusInProgress, StatusAwaitingConfirmation},
		{StatusAwaitingConfirmation, StatusInProgress},
		{StatusAwaitingConfirmation, StatusCancelled},
		{StatusInProgress, StatusBlocked},
		{StatusBlocked, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusFailed},
		{StatusPending, StatusCancelled},
		{StatusDelegated, StatusCancelled},
		{StatusBlocked, StatusCancelled},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusInProgress},
		{StatusPending, StatusCompleted},
		{StatusDelegated, StatusCompleted},
		{StatusBlocked, StatusCompleted},
		{StatusBlocked, StatusFailed},
		{StatusAwaitingConfirmation, StatusCompleted},
		{StatusAwaitingConfirmation, StatusFailed},
		{StatusCompleted, StatusInProgress},
		{StatusCompleted, StatusCancelled},
		{StatusFailed, StatusInProgress},
		{StatusCancelled, StatusPending},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusDelegated, StatusInProgress, StatusBlocked, StatusAwaitingConfirmation} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
