package ledger

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/forgecrew/foreman/internal/capability"
	"github.com/forgecrew/foreman/internal/events"
)

// Ledger is the single shared mutable resource of the orchestration core.
// Every mutation goes through Create / Transition, serialized by the store
// lock; the ledger is append-oriented and terminal tasks are never rewritten.
type Ledger struct {
	fs  *FileStore
	reg *capability.Registry
	bus *events.Bus
}

// New creates a Ledger over baseDir, resolving owners through reg.
func New(baseDir string, reg *capability.Registry, bus *events.Bus) *Ledger {
	return &Ledger{fs: NewFileStore(baseDir), reg: reg, bus: bus}
}

// Store exposes the bundle persistence surface of the underlying file store.
func (l *Ledger) Store() *FileStore {
	return l.fs
}

// Registry returns the capability registry the ledger resolves owners against.
func (l *Ledger) Registry() *capability.Registry {
	return l.reg
}

// Bus returns the event bus the ledger publishes on.
func (l *Ledger) Bus() *events.Bus {
	return l.bus
}

// CreateOptions carries the optional parts of task creation.
type CreateOptions struct {
	Owner          string // explicit capability id, bypasses tag resolution
	Classification capability.Classification
	DependsOn      []string
	MaxRetries     int
}

// Create records a new task. The owner is resolved from the candidate tags via
// the registry; no match is ErrCapabilityNotFound, never a silent default.
func (l *Ledger) Create(parentID string, candidateTags []string, objective string, opts CreateOptions) (*Task, error) {
	owner := opts.Owner
	if owner == "" {
		ranked := l.reg.Find(candidateTags, opts.Classification)
		if len(ranked) == 0 {
			return nil, fmt.Errorf("%w: no capability matches tags %v", capability.ErrCapabilityNotFound, candidateTags)
		}
		owner = ranked[0]
	} else if _, err := l.reg.Get(owner); err != nil {
		return nil, err
	}

	if parentID != "" {
		parent, err := l.Get(parentID)
		if err != nil {
			return nil, fmt.Errorf("parent: %w", err)
		}
		if parent.Status.Terminal() {
			return nil, fmt.Errorf("%w: parent %s is %s", ErrInvalidTransition, parentID, parent.Status)
		}
	}

	now := time.Now()
	t := &Task{
		ID:         GenerateTaskID(),
		ParentID:   parentID,
		Owner:      owner,
		Status:     StatusPending,
		DependsOn:  opts.DependsOn,
		MaxRetries: opts.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
		Objective:  objective,
	}

	l.fs.ds.Lock()
	defer l.fs.ds.Unlock()

	if err := l.fs.write(t); err != nil {
		return nil, err
	}
	if err := l.fs.appendTransition(t.ID, Transition{Ts: now, From: "", To: StatusPending, Evidence: "created"}); err != nil {
		return nil, err
	}

	l.bus.Publish(events.NewTypedEventForTask(events.SourceLedger, events.TaskCreatedPayload{
		TaskID:    t.ID,
		ParentID:  t.ParentID,
		Owner:     t.Owner,
		Objective: t.Objective,
	}, t.ID))

	return t, nil
}

// Get reads a task by id.
func (l *Ledger) Get(id string) (*Task, error) {
	l.fs.ds.RLock()
	defer l.fs.ds.RUnlock()
	return l.fs.read(id)
}

// List returns tasks matching the filter in creation order.
func (l *Ledger) List(filter ListFilter) ([]*Task, error) {
	l.fs.ds.RLock()
	defer l.fs.ds.RUnlock()
	return l.fs.list(filter)
}

// Transition moves a task to a new status, enforcing the state machine.
// Completion additionally requires every child to be terminal. The change is
// atomic per task: record and audit log are updated under the store lock.
func (l *Ledger) Transition(id string, to Status, evidence string) (*Task, error) {
	l.fs.ds.Lock()
	defer l.fs.ds.Unlock()

	t, err := l.fs.read(id)
	if err != nil {
		return nil, err
	}

	if !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s: %s -> %s", ErrInvalidTransition, id, t.Status, to)
	}

	// A task is never Delegated without a readable context: the handoff
	// record must already point at a bundle on disk.
	if to == StatusDelegated {
		if t.ContextRef == "" {
			return nil, fmt.Errorf("%w: %s: delegated without a context bundle", ErrInvalidTransition, id)
		}
		if _, err := os.Stat(l.fs.ds.FilePath(id, t.ContextRef)); err != nil {
			return nil, fmt.Errorf("%w: %s: context ref %s does not resolve", ErrInvalidTransition, id, t.ContextRef)
		}
	}

	if to == StatusCompleted {
		children, err := l.fs.list(ListFilter{ParentID: id})
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			if !child.Status.Terminal() {
				return nil, fmt.Errorf("%w: %s: child %s is %s", ErrChildrenNotTerminal, id, child.ID, child.Status)
			}
		}
	}

	now := time.Now()
	from := t.Status
	t.Status = to
	t.UpdatedAt = now
	if evidence != "" {
		t.Log = append(t.Log, fmt.Sprintf("%s %s -> %s: %s", now.UTC().Format(time.RFC3339), from, to, evidence))
	}

	if err := l.fs.write(t); err != nil {
		return nil, err
	}
	if err := l.fs.appendTransition(id, Transition{Ts: now, From: from, To: to, Evidence: evidence}); err != nil {
		return nil, err
	}

	l.publishTransition(t, from, evidence)
	return t, nil
}

// publishTransition maps a recorded transition onto the bus vocabulary.
func (l *Ledger) publishTransition(t *Task, from Status, evidence string) {
	var payload events.EventPayload
	switch t.Status {
	case StatusDelegated:
		payload = events.TaskDelegatedPayload{TaskID: t.ID, Owner: t.Owner}
	case StatusInProgress:
		switch from {
		case StatusBlocked:
			payload = events.TaskUnblockedPayload{TaskID: t.ID}
		default:
			payload = events.TaskStartedPayload{TaskID: t.ID, Owner: t.Owner}
		}
	case StatusBlocked:
		payload = events.TaskBlockedPayload{TaskID: t.ID, Reason: evidence}
	case StatusAwaitingConfirmation:
		payload = events.ConfirmRequestedPayload{TaskID: t.ID, Question: evidence, Choices: []string{"approve", "decline"}}
	case StatusCompleted:
		payload = events.TaskCompletedPayload{TaskID: t.ID, Summary: evidence}
	case StatusFailed:
		payload = events.TaskFailedPayload{TaskID: t.ID, Error: evidence, RetryCount: t.Retries}
	case StatusCancelled:
		payload = events.TaskCancelledPayload{TaskID: t.ID, Reason: evidence}
	default:
		return
	}
	l.bus.Publish(events.NewTypedEventForTask(events.SourceLedger, payload, t.ID))
}

// SetContextRef records the context bundle pointer. Required before a task can
// be marked Delegated.
func (l *Ledger) SetContextRef(id, ref string) error {
	return l.setRef(id, ref, false)
}

// SetResultRef records the result bundle pointer.
func (l *Ledger) SetResultRef(id, ref string) error {
	return l.setRef(id, ref, true)
}

func (l *Ledger) setRef(id, ref string, result bool) error {
	l.fs.ds.Lock()
	defer l.fs.ds.Unlock()

	t, err := l.fs.read(id)
	if err != nil {
		return err
	}
	if result {
		t.ResultRef = ref
	} else {
		t.ContextRef = ref
	}
	t.UpdatedAt = time.Now()
	return l.fs.write(t)
}

// IncrementRetries bumps the retry counter and returns the new value.
func (l *Ledger) IncrementRetries(id string) (int, error) {
	l.fs.ds.Lock()
	defer l.fs.ds.Unlock()

	t, err := l.fs.read(id)
	if err != nil {
		return 0, err
	}
	t.Retries++
	t.UpdatedAt = time.Now()
	if err := l.fs.write(t); err != nil {
		return 0, err
	}
	return t.Retries, nil
}

// AppendLog adds a free-text entry to the task's running log.
func (l *Ledger) AppendLog(id, entry string) error {
	l.fs.ds.Lock()
	defer l.fs.ds.Unlock()

	t, err := l.fs.read(id)
	if err != nil {
		return err
	}
	t.Log = append(t.Log, entry)
	t.UpdatedAt = time.Now()
	return l.fs.write(t)
}

// QueryTree returns the task and all its descendants, depth-first, siblings
// in creation order. Read-only; used for status reporting.
func (l *Ledger) QueryTree(id string) ([]*Task, error) {
	l.fs.ds.RLock()
	defer l.fs.ds.RUnlock()

	root, err := l.fs.read(id)
	if err != nil {
		return nil, err
	}

	all, err := l.fs.list(ListFilter{})
	if err != nil {
		return nil, err
	}
	children := make(map[string][]*Task)
	for _, t := range all {
		if t.ParentID != "" {
			children[t.ParentID] = append(children[t.ParentID], t)
		}
	}

	var result []*Task
	var walk func(t *Task)
	walk = func(t *Task) {
		result = append(result, t)
		for _, child := range children[t.ID] {
			walk(child)
		}
	}
	walk(root)
	return result, nil
}

// Cancel cancels a task and cascades through its unresolved subtree.
// Already-terminal descendants are left as-is; history is never rewritten.
func (l *Ledger) Cancel(id, reason string) error {
	t, err := l.Get(id)
	if err != nil {
		return err
	}
	if t.Status.Terminal() {
		return nil
	}

	if _, err := l.Transition(id, StatusCancelled, reason); err != nil {
		return err
	}

	children, err := l.List(ListFilter{ParentID: id})
	if err != nil {
		slog.Warn("cancel cascade: list children", "task_id", id, "error", err)
		return nil
	}
	for _, child := range children {
		if child.Status.Terminal() {
			continue
		}
		if err := l.Cancel(child.ID, "parent cancelled"); err != nil {
			slog.Warn("cancel cascade", "task_id", child.ID, "error", err)
		}
	}
	return nil
}

// Transitions returns the full audit history of a task.
func (l *Ledger) Transitions(id string) ([]Transition, error) {
	l.fs.ds.RLock()
	defer l.fs.ds.RUnlock()
	return l.fs.transitionsFor(id)
}

// ReplayStatus rebuilds a task's status purely from its transition log.
// The projection in task.md must agree with it; recovery uses the log as the
// source of truth.
func (l *Ledger) ReplayStatus(id string) (Status, error) {
	trs, err := l.Transitions(id)
	if err != nil {
		return "", err
	}
	if len(trs) == 0 {
		return "", fmt.Errorf("task %s: empty transition log", id)
	}
	return trs[len(trs)-1].To, nil
}
