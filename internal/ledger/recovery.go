package ledger

import "log/slog"

// Recover reconciles ledger state after an unclean shutdown, staying inside
// the transition table:
//
//   - InProgress tasks lost their delegate; they become Blocked until the
//     orchestrator re-runs them.
//   - Delegated tasks never got an acknowledgement; the handoff is void, so
//     they are cancelled with an audit trail.
//   - AwaitingConfirmation tasks stay put: a confirmation gate is never
//     resolved automatically.
//
// Returns the number of tasks touched.
func Recover(l *Ledger) (int, error) {
	inProgress, err := l.List(ListFilter{Status: StatusInProgress})
	if err != nil {
		return 0, err
	}

	delegated, err := l.List(ListFilter{Status: StatusDelegated})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, t := range inProgress {
		if _, err := l.Transition(t.ID, StatusBlocked, "delegate lost on restart"); err != nil {
			slog.Warn("recovery: block task", "task_id", t.ID, "error", err)
			continue
		}
		recovered++
	}
	for _, t := range delegated {
		if _, err := l.Transition(t.ID, StatusCancelled, "handoff void after restart"); err != nil {
			slog.Warn("recovery: cancel task", "task_id", t.ID, "error", err)
			continue
		}
		recovered++
	}

	if recovered > 0 {
		slog.Info("ledger recovered", "tasks", recovered)
	}
	return recovered, nil
}
