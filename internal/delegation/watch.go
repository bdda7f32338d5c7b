package delegation

import (
	"context"
	"time"

	"github.com/forgecrew/foreman/internal/ledger"
)

// WatchDelegate bridges out-of-process specialists into the protocol. It
// does no work itself: it waits for a result bundle to appear in the task
// directory, written by whoever actually does the work (`foreman tasks
// resolve`), and hands that bundle back as its own result. Cancellation and
// the execution timeout apply like with any other delegate.
type WatchDelegate struct {
	ledger   *ledger.Ledger
	interval time.Duration
}

// NewWatchDelegate creates a WatchDelegate polling at the given interval.
func NewWatchDelegate(l *ledger.Ledger, interval time.Duration) *WatchDelegate {
	if interval <= 0 {
		interval = time.Second
	}
	return &WatchDelegate{ledger: l, interval: interval}
}

func (w *WatchDelegate) Execute(ctx context.Context, bundle *ContextBundle, _ Session) (*ResultBundle, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		var result ResultBundle
		// The bundle is written atomically, so a successful read is a
		// complete read. Anything invalid is treated as not-yet-resolved.
		if err := w.ledger.Store().ReadBundle(bundle.SourceTaskID, ResultBundleName, &result); err == nil {
			result.TaskID = bundle.SourceTaskID
			if result.Validate() == nil {
				return &result, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
