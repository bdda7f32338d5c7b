package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/forgecrew/foreman/internal/capability"
	"github.com/forgecrew/foreman/internal/delegation"
	"github.com/forgecrew/foreman/internal/events"
	"github.com/forgecrew/foreman/internal/ledger"
)

// Options tune plan execution.
type Options struct {
	MaxConcurrent int // parallel independent nodes, minimum 1
}

// Attempt records one owner's try at a node, for the failure lineage.
type Attempt struct {
	Owner  string
	TaskID string
	Err    error
}

// EscalationError reports a node that failed through its whole escalation
// chain. The lineage is preserved verbatim so nothing gets summarized away
// before it reaches the user.
type EscalationError struct {
	NodeID   string
	Attempts []Attempt
}

func (e *EscalationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %s failed after %d attempt(s):", e.NodeID, len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  %s (%s): %v", a.Owner, a.TaskID, a.Err)
	}
	return b.String()
}

func (e *EscalationError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// RunReport summarizes a finished plan execution.
type RunReport struct {
	RootID    string
	Completed []string          // task ids of completed nodes, in completion order
	Skipped   []string          // node ids never run because a dependency failed
	NodeTasks map[string]string // node id -> final task id
}

// Orchestrator executes plans: it materializes plan nodes as ledger tasks,
// hands them to delegates, runs independent nodes concurrently, and walks
// escalation chains when a delegate fails.
type Orchestrator struct {
	ledger    *ledger.Ledger
	caps      *capability.Registry
	delegator *delegation.Delegator
	bus       *events.Bus
	opts      Options
	log       *slog.Logger
}

func New(l *ledger.Ledger, caps *capability.Registry, d *delegation.Delegator, bus *events.Bus, opts Options, log *slog.Logger) *Orchestrator {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		ledger:    l,
		caps:      caps,
		delegator: d,
		bus:       bus,
		opts:      opts,
		log:       log.With("component", "orchestrator"),
	}
}

// Run executes a plan under a new root task. Nodes whose dependencies are
// satisfied run concurrently up to MaxConcurrent. A node that fails through
// its escalation chain blocks only its dependents: independent siblings run
// to completion, then the root fails with every lineage preserved unchanged.
func (o *Orchestrator) Run(ctx context.Context, objective string, rootTags []string, plan *Plan) (*RunReport, error) {
	root, err := o.ledger.Create("", rootTags, objective, ledger.CreateOptions{
		Classification: capability.ClassCoordinator,
	})
	if err != nil {
		return nil, err
	}
	report := &RunReport{RootID: root.ID, NodeTasks: make(map[string]string, plan.Len())}

	// The root's handoff is the plan itself; it gets a persisted context
	// bundle like any other delegated task.
	rootBundle := &delegation.ContextBundle{SourceTaskID: root.ID, Objective: objective}
	if err := o.ledger.Store().WriteBundle(root.ID, delegation.ContextBundleName, rootBundle); err != nil {
		return report, err
	}
	if err := o.ledger.SetContextRef(root.ID, delegation.ContextBundleName); err != nil {
		return report, err
	}
	if _, err := o.ledger.Transition(root.ID, ledger.StatusDelegated, "plan accepted"); err != nil {
		return report, err
	}
	if _, err := o.ledger.Transition(root.ID, ledger.StatusInProgress, fmt.Sprintf("executing %d node(s)", plan.Len())); err != nil {
		return report, err
	}

	done := make(map[string]bool, plan.Len())
	failed := make(map[string]bool)
	skipped := make(map[string]bool)
	var failures []error
	var mu sync.Mutex

	for {
		// A node downstream of a failure never runs.
		for changed := true; changed; {
			changed = false
			for _, id := range plan.Order() {
				if done[id] || failed[id] || skipped[id] {
					continue
				}
				for _, need := range plan.Node(id).DependsOn {
					if failed[need] || skipped[need] {
						skipped[id] = true
						report.Skipped = append(report.Skipped, id)
						changed = true
						break
					}
				}
			}
		}

		var ready []*PlanNode
		for _, node := range plan.Ready(done) {
			if !failed[node.ID] && !skipped[node.ID] {
				ready = append(ready, node)
			}
		}
		if len(ready) == 0 {
			break
		}
		if len(ready) > o.opts.MaxConcurrent {
			ready = ready[:o.opts.MaxConcurrent]
		}

		var wg sync.WaitGroup
		errs := make([]error, len(ready))
		for i, node := range ready {
			wg.Add(1)
			go func(i int, node *PlanNode) {
				defer wg.Done()
				taskID, err := o.runNode(ctx, root.ID, node)
				mu.Lock()
				defer mu.Unlock()
				report.NodeTasks[node.ID] = taskID
				if err != nil {
					errs[i] = err
					return
				}
				done[node.ID] = true
				report.Completed = append(report.Completed, taskID)
			}(i, node)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				failed[ready[i].ID] = true
				failures = append(failures, err)
			}
		}
		if ctx.Err() != nil {
			return report, o.cancelRun(root.ID, ctx.Err())
		}
	}

	if len(failures) > 0 {
		cause := errors.Join(failures...)
		if _, err := o.ledger.Transition(root.ID, ledger.StatusFailed, cause.Error()); err != nil {
			o.log.Error("failing root", "root", root.ID, "error", err)
		}
		return report, cause
	}

	if _, err := o.ledger.Transition(root.ID, ledger.StatusCompleted, fmt.Sprintf("%d node(s) completed", plan.Len())); err != nil {
		return report, err
	}
	return report, nil
}

// runNode materializes a node as a task and drives it through delegation and
// the escalation chain. It returns the final task id tried, successful or not.
func (o *Orchestrator) runNode(ctx context.Context, rootID string, node *PlanNode) (string, error) {
	task, err := o.ledger.Create(rootID, node.Tags, node.Objective, ledger.CreateOptions{
		Classification: node.Classification,
		MaxRetries:     node.MaxRetries,
	})
	if err != nil {
		return "", err
	}

	bundle := &delegation.ContextBundle{
		Objective:   node.Objective,
		Constraints: delegation.Constraints{ConfirmRequired: node.Risky},
	}

	var lineage []Attempt
	owner := task.Owner
	for {
		result, err := o.delegator.Run(ctx, task.ID, bundle)
		if err == nil {
			switch result.Outcome {
			case delegation.OutcomeSuccess:
				return task.ID, nil
			case delegation.OutcomeCancelled:
				lineage = append(lineage, Attempt{Owner: owner, TaskID: task.ID, Err: fmt.Errorf("delegate %s cancelled: %s", owner, result.Summary)})
				return task.ID, &EscalationError{NodeID: node.ID, Attempts: lineage}
			default:
				err = fmt.Errorf("delegate %s: %s", owner, result.Err)
			}
		}
		lineage = append(lineage, Attempt{Owner: owner, TaskID: task.ID, Err: err})

		// Cancellation and explicit user refusals end the chain: escalating
		// past a declined confirmation would sidestep the user.
		if errors.Is(err, context.Canceled) || errors.Is(err, delegation.ErrConfirmationDeclined) {
			return task.ID, &EscalationError{NodeID: node.ID, Attempts: lineage}
		}

		next, ok := o.nextEscalation(owner, lineage)
		if !ok {
			return task.ID, &EscalationError{NodeID: node.ID, Attempts: lineage}
		}

		o.log.Warn("escalating", "node", node.ID, "from", owner, "to", next, "error", err)
		if err := o.bus.PublishAsync(ctx, events.NewTypedEventForTask(events.SourceOrchestrator, events.TaskEscalatedPayload{
			TaskID: task.ID,
			From:   owner,
			To:     next,
		}, task.ID)); err != nil {
			o.log.Debug("publishing escalation event", "task", task.ID, "error", err)
		}

		// The failed task stays on record; the escalation target gets a
		// fresh task with the same context, handed over verbatim.
		successor, err := o.ledger.Create(rootID, nil, node.Objective, ledger.CreateOptions{
			Owner:      next,
			MaxRetries: node.MaxRetries,
		})
		if err != nil {
			return task.ID, &EscalationError{NodeID: node.ID, Attempts: lineage}
		}
		if err := o.ledger.AppendLog(successor.ID, "escalated from "+task.ID); err != nil {
			o.log.Error("recording escalation lineage", "task", successor.ID, "error", err)
		}
		task, owner = successor, next
	}
}

// nextEscalation picks the first escalation target not already tried.
func (o *Orchestrator) nextEscalation(owner string, tried []Attempt) (string, bool) {
	c, err := o.caps.Get(owner)
	if err != nil {
		return "", false
	}
	for _, target := range c.EscalateTo {
		seen := false
		for _, a := range tried {
			if a.Owner == target {
				seen = true
				break
			}
		}
		if !seen {
			return target, true
		}
	}
	return "", false
}

// cancelRun cascade-cancels the root after the caller's context ended. The
// ledger skips terminal descendants, so finished work keeps its record.
func (o *Orchestrator) cancelRun(rootID string, cause error) error {
	if err := o.ledger.Cancel(rootID, "run cancelled: "+cause.Error()); err != nil {
		o.log.Error("cancelling run", "root", rootID, "error", err)
	}
	return cause
}
