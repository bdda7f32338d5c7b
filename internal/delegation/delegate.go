package delegation

import (
	"context"
	"fmt"
	"sync"
)

// Decision is a user's answer to a confirmation request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDecline Decision = "decline"
)

// ConfirmRequest describes a risky operation needing user sign-off.
type ConfirmRequest struct {
	TaskID   string
	Question string
	Choices  []string
}

// Session is the delegate-facing handle back into the orchestration layer.
// Delegates use it to pause for confirmation or to report blocking without
// knowing anything about ledgers or buses.
type Session interface {
	// RequestConfirmation suspends the task until the user answers. The
	// task may stay suspended indefinitely; only ctx cancellation unblocks
	// it otherwise.
	RequestConfirmation(ctx context.Context, req ConfirmRequest) (Decision, error)

	// ReportBlocked marks the task blocked with a reason. Work should stop
	// until ReportUnblocked.
	ReportBlocked(reason string) error

	// ReportUnblocked resumes a previously blocked task.
	ReportUnblocked() error
}

// Delegate executes one task from its context bundle. Implementations must
// honor ctx cancellation; a Cancelled outcome is reported via ResultBundle,
// not via error.
type Delegate interface {
	Execute(ctx context.Context, bundle *ContextBundle, session Session) (*ResultBundle, error)
}

// DelegateFunc adapts a function to the Delegate interface.
type DelegateFunc func(ctx context.Context, bundle *ContextBundle, session Session) (*ResultBundle, error)

func (f DelegateFunc) Execute(ctx context.Context, bundle *ContextBundle, session Session) (*ResultBundle, error) {
	return f(ctx, bundle, session)
}

// DelegateRegistry maps capability ids to their executable delegates.
type DelegateRegistry struct {
	mu        sync.RWMutex
	delegates map[string]Delegate
}

func NewDelegateRegistry() *DelegateRegistry {
	return &DelegateRegistry{delegates: make(map[string]Delegate)}
}

// Register binds a delegate to a capability id, replacing any previous one.
func (dr *DelegateRegistry) Register(capabilityID string, d Delegate) {
	dr.mu.Lock()
	defer dr.mu.Unlock()
	dr.delegates[capabilityID] = d
}

// Lookup returns the delegate for a capability id.
func (dr *DelegateRegistry) Lookup(capabilityID string) (Delegate, error) {
	dr.mu.RLock()
	defer dr.mu.RUnlock()
	d, ok := dr.delegates[capabilityID]
	if !ok {
		return nil, fmt.Errorf("%w: capability %s", ErrNoDelegate, capabilityID)
	}
	return d, nil
}
