package delegation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgecrew/foreman/internal/ledger"
)

func TestWatchDelegatePicksUpResolvedBundle(t *testing.T) {
	f := newFixture(t)
	f.delegates.Register("worker-docs", NewWatchDelegate(f.ledger, 10*time.Millisecond))
	d := f.delegator(t, Options{})
	task := f.pendingTask(t)

	// An out-of-process specialist resolves the task while the run waits.
	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = f.ledger.Store().WriteBundle(task.ID, ResultBundleName, &ResultBundle{
			TaskID:  task.ID,
			Outcome: OutcomeSuccess,
			Summary: "guide written externally",
		})
	}()

	result, err := d.Run(context.Background(), task.ID, &ContextBundle{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != OutcomeSuccess || result.Summary != "guide written externally" {
		t.Errorf("result: %+v", result)
	}

	got, _ := f.ledger.Get(task.ID)
	if got.Status != ledger.StatusCompleted {
		t.Errorf("status: got %s, want completed", got.Status)
	}
}

func TestWatchDelegateTimesOutUnresolved(t *testing.T) {
	f := newFixture(t)
	f.delegates.Register("worker-docs", NewWatchDelegate(f.ledger, 5*time.Millisecond))
	d := f.delegator(t, Options{Timeout: 30 * time.Millisecond})
	task := f.pendingTask(t)

	_, err := d.Run(context.Background(), task.ID, &ContextBundle{})
	if !errors.Is(err, ErrDelegateTimeout) {
		t.Fatalf("expected ErrDelegateTimeout, got %v", err)
	}

	got, _ := f.ledger.Get(task.ID)
	if got.Status != ledger.StatusFailed {
		t.Errorf("status: got %s, want failed", got.Status)
	}
}
