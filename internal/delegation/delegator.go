package delegation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forgecrew/foreman/internal/capability"
	"github.com/forgecrew/foreman/internal/events"
	"github.com/forgecrew/foreman/internal/ledger"
)

// Confirmer answers confirmation requests. The zero implementation does not
// exist on purpose: without a confirmer, risky operations stay suspended.
type Confirmer interface {
	Ask(ctx context.Context, req ConfirmRequest) (Decision, error)
}

// Options tune the delegation protocol.
type Options struct {
	Timeout    time.Duration // per-execution bound, 0 means none
	MaxRetries int           // default retry bound when a task declares none
}

// Delegator drives the handoff protocol: bundle the context, record the
// handoff in the ledger, run the delegate, apply the result.
type Delegator struct {
	ledger    *ledger.Ledger
	caps      *capability.Registry
	delegates *DelegateRegistry
	confirmer Confirmer
	bus       *events.Bus
	opts      Options
	log       *slog.Logger

	mu     sync.Mutex
	active map[string]struct{} // task ids with a live delegation
}

func NewDelegator(l *ledger.Ledger, caps *capability.Registry, delegates *DelegateRegistry, confirmer Confirmer, bus *events.Bus, opts Options, log *slog.Logger) *Delegator {
	if log == nil {
		log = slog.Default()
	}
	return &Delegator{
		ledger:    l,
		caps:      caps,
		delegates: delegates,
		confirmer: confirmer,
		bus:       bus,
		opts:      opts,
		log:       log.With("component", "delegator"),
		active:    make(map[string]struct{}),
	}
}

// CheckFileRefs verifies every file reference in the bundle against the
// owner's read scope. A delegate never receives refs it cannot read.
func (d *Delegator) CheckFileRefs(owner string, refs []string) error {
	for _, ref := range refs {
		if !d.caps.ValidateScope(owner, ref, false) {
			return fmt.Errorf("%w: %s outside read scope of %s", capability.ErrScopeViolation, ref, owner)
		}
	}
	return nil
}

// Run executes the full protocol for a pending task. It persists the context
// bundle, walks the task through Delegated and InProgress, invokes the
// delegate under the configured timeout, retries transient failures with the
// same bundle, and records the terminal outcome. The returned result is nil
// only when err is non-nil.
func (d *Delegator) Run(ctx context.Context, taskID string, bundle *ContextBundle) (*ResultBundle, error) {
	if err := d.acquire(taskID); err != nil {
		return nil, err
	}
	defer d.release(taskID)

	task, err := d.ledger.Get(taskID)
	if err != nil {
		return nil, err
	}

	delegate, err := d.delegates.Lookup(task.Owner)
	if err != nil {
		return nil, err
	}

	bundle.SourceTaskID = taskID
	if bundle.Objective == "" {
		bundle.Objective = task.Objective
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}
	if err := d.CheckFileRefs(task.Owner, bundle.FileRefs); err != nil {
		return nil, err
	}

	// The bundle is on disk and referenced before the handoff is recorded,
	// so a Delegated task always has a readable context.
	if err := d.ledger.Store().WriteBundle(taskID, ContextBundleName, bundle); err != nil {
		return nil, err
	}
	if err := d.ledger.SetContextRef(taskID, ContextBundleName); err != nil {
		return nil, err
	}
	if _, err := d.ledger.Transition(taskID, ledger.StatusDelegated, "context handed to "+task.Owner); err != nil {
		return nil, err
	}

	maxRetries := task.MaxRetries
	if maxRetries == 0 {
		maxRetries = d.opts.MaxRetries
	}

	var result *ResultBundle
	for attempt := 0; ; attempt++ {
		result, err = d.execute(ctx, taskID, task.Owner, delegate, bundle)
		if err == nil || !retryable(err) || attempt >= maxRetries {
			break
		}
		retries, rerr := d.ledger.IncrementRetries(taskID)
		if rerr != nil {
			return nil, rerr
		}
		d.log.Warn("retrying after transient failure", "task", taskID, "attempt", retries, "error", err)
		d.bus.Publish(events.NewTypedEventForTask(events.SourceDelegation, events.TaskRetriedPayload{
			TaskID:  taskID,
			Attempt: retries,
			Cause:   err.Error(),
		}, taskID))
		// The task stays InProgress across retries; the bundle is reused as-is.
		if lerr := d.ledger.AppendLog(taskID, fmt.Sprintf("retry %d: %s", retries, err)); lerr != nil {
			return nil, lerr
		}
	}
	if err != nil {
		return nil, d.fail(taskID, err)
	}

	return result, d.applyResult(taskID, result)
}

// retryable reports whether an attempt error warrants another attempt
// with the same bundle.
func retryable(err error) bool {
	return errors.Is(err, ErrTransientIO) || errors.Is(err, ErrDelegateTimeout)
}

// execute runs one attempt. The first attempt carries the task from
// Delegated to InProgress; retries arrive already InProgress.
func (d *Delegator) execute(ctx context.Context, taskID, owner string, delegate Delegate, bundle *ContextBundle) (*ResultBundle, error) {
	task, err := d.ledger.Get(taskID)
	if err != nil {
		return nil, err
	}
	session := &ledgerSession{d: d, taskID: taskID}
	if task.Status == ledger.StatusDelegated {
		if _, err := d.ledger.Transition(taskID, ledger.StatusInProgress, "delegate started"); err != nil {
			return nil, err
		}
		// A risky handoff passes through AwaitingConfirmation here, in the
		// protocol, whether or not the delegate would ask on its own. The
		// gate runs on the caller's context: confirmation has no timeout.
		if bundle.Constraints.ConfirmRequired {
			if _, err := session.RequestConfirmation(ctx, ConfirmRequest{
				Question: "proceed with risky operation: " + bundle.Objective,
			}); err != nil {
				return nil, err
			}
		}
	}

	timeout := bundle.Constraints.Timeout
	if timeout == 0 {
		timeout = d.opts.Timeout
	}
	runCtx := events.ContextWithTaskID(ctx, taskID)
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	result, err := delegate.Execute(runCtx, bundle, session)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %s after %s", ErrDelegateTimeout, owner, timeout)
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("delegate %s returned no result", owner)
	}
	result.TaskID = taskID
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result, nil
}

// applyResult persists the result bundle and records the terminal transition.
func (d *Delegator) applyResult(taskID string, result *ResultBundle) error {
	if err := d.ledger.Store().WriteBundle(taskID, ResultBundleName, result); err != nil {
		return err
	}
	if err := d.ledger.SetResultRef(taskID, ResultBundleName); err != nil {
		return err
	}

	switch result.Outcome {
	case OutcomeSuccess:
		_, err := d.ledger.Transition(taskID, ledger.StatusCompleted, result.Summary)
		return err
	case OutcomeFailure:
		_, err := d.ledger.Transition(taskID, ledger.StatusFailed, result.Err)
		return err
	case OutcomeCancelled:
		_, err := d.ledger.Transition(taskID, ledger.StatusCancelled, result.Summary)
		return err
	}
	return fmt.Errorf("apply result %s: unknown outcome %q", taskID, result.Outcome)
}

// fail records a failed attempt after retries are exhausted, preserving the
// original error for the caller.
func (d *Delegator) fail(taskID string, cause error) error {
	outcome := OutcomeFailure
	// User refusals and context cancellation end the task cancelled, not
	// failed: nobody malfunctioned, the work was called off. A decline is
	// already recorded by the session; the task is terminal and stays as-is.
	if errors.Is(cause, context.Canceled) || errors.Is(cause, ErrConfirmationDeclined) {
		outcome = OutcomeCancelled
		if t, gerr := d.ledger.Get(taskID); gerr == nil && t.Status.Terminal() {
			return cause
		}
	}
	result := &ResultBundle{TaskID: taskID, Outcome: outcome, Summary: cause.Error()}
	if outcome == OutcomeFailure {
		result.Summary = ""
		result.Err = cause.Error()
	}
	if err := d.ledger.Store().WriteBundle(taskID, ResultBundleName, result); err != nil {
		d.log.Error("writing failure result", "task", taskID, "error", err)
	} else if err := d.ledger.SetResultRef(taskID, ResultBundleName); err != nil {
		d.log.Error("recording failure result ref", "task", taskID, "error", err)
	}
	if outcome == OutcomeCancelled {
		if _, err := d.ledger.Transition(taskID, ledger.StatusCancelled, cause.Error()); err != nil {
			d.log.Error("recording cancellation", "task", taskID, "error", err)
		}
		return cause
	}

	// A delegate may abort while suspended; only InProgress has an edge to
	// Failed, so resume first.
	if t, gerr := d.ledger.Get(taskID); gerr == nil &&
		(t.Status == ledger.StatusBlocked || t.Status == ledger.StatusAwaitingConfirmation) {
		if _, err := d.ledger.Transition(taskID, ledger.StatusInProgress, "delegate aborted while suspended"); err != nil {
			d.log.Error("resuming aborted task", "task", taskID, "error", err)
		}
	}
	if _, err := d.ledger.Transition(taskID, ledger.StatusFailed, cause.Error()); err != nil {
		d.log.Error("recording failure", "task", taskID, "error", err)
	}
	return cause
}

// acquire guards against two delegations racing on one task. The guard is
// per task id: an owner may serve any number of independent tasks at once.
func (d *Delegator) acquire(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.active[taskID]; ok {
		return fmt.Errorf("%w: task %s already has an active delegation", ErrDelegateBusy, taskID)
	}
	d.active[taskID] = struct{}{}
	return nil
}

func (d *Delegator) release(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.active, taskID)
}

// ledgerSession backs the Session interface with ledger transitions, so
// every pause a delegate takes is visible in the audit log.
type ledgerSession struct {
	d      *Delegator
	taskID string
}

func (s *ledgerSession) RequestConfirmation(ctx context.Context, req ConfirmRequest) (Decision, error) {
	req.TaskID = s.taskID
	if len(req.Choices) == 0 {
		req.Choices = []string{string(DecisionApprove), string(DecisionDecline)}
	}
	if _, err := s.d.ledger.Transition(s.taskID, ledger.StatusAwaitingConfirmation, req.Question); err != nil {
		return "", err
	}
	if s.d.confirmer == nil {
		<-ctx.Done()
		return "", ctx.Err()
	}

	decision, err := s.d.confirmer.Ask(ctx, req)
	if err != nil {
		return "", err
	}
	s.d.bus.Publish(events.NewTypedEventForTask(events.SourceDelegation, events.ConfirmResolvedPayload{
		TaskID:   s.taskID,
		Approved: decision == DecisionApprove,
	}, s.taskID))

	// A decline goes straight to Cancelled; the audit log never shows
	// declined work as in progress.
	if decision == DecisionDecline {
		if _, err := s.d.ledger.Transition(s.taskID, ledger.StatusCancelled, "confirmation declined: "+req.Question); err != nil {
			return "", err
		}
		return decision, fmt.Errorf("%w: %s", ErrConfirmationDeclined, req.Question)
	}
	if _, err := s.d.ledger.Transition(s.taskID, ledger.StatusInProgress, "confirmation: approve"); err != nil {
		return "", err
	}
	return decision, nil
}

func (s *ledgerSession) ReportBlocked(reason string) error {
	_, err := s.d.ledger.Transition(s.taskID, ledger.StatusBlocked, reason)
	return err
}

func (s *ledgerSession) ReportUnblocked() error {
	_, err := s.d.ledger.Transition(s.taskID, ledger.StatusInProgress, "unblocked")
	return err
}
