package ledger

import (
	"errors"
	"strings"
	"testing"

	"github.com/forgecrew/foreman/internal/capability"
	"github.com/forgecrew/foreman/internal/events"
)

func testRegistry(t *testing.T) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry([]*capability.Capability{
		{
			ID:             "worker-docs",
			Classification: capability.ClassWorker,
			Tags:           []string{"docs", "write"},
			ReadScope:      []string{"docs/**"},
			WriteScope:     []string{"docs/**"},
			EscalateTo:     []string{"lead-dev"},
		},
		{
			ID:             "lead-dev",
			Classification: capability.ClassLead,
			Tags:           []string{"code", "review", "write"},
			ReadScope:      []string{"**"},
			WriteScope:     []string{"**"},
		},
	})
	if err != nil {
		t.Fatalf("test registry: %v", err)
	}
	return reg
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	return New(t.TempDir(), testRegistry(t), bus)
}

func TestCreateResolvesOwner(t *testing.T) {
	l := newTestLedger(t)

	task, err := l.Create("", []string{"docs"}, "write the install guide", CreateOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Owner != "worker-docs" {
		t.Errorf("owner: got %q, want worker-docs", task.Owner)
	}
	if task.Status != StatusPending {
		t.Errorf("status: got %q, want pending", task.Status)
	}
	if !strings.HasPrefix(task.ID, "task_") {
		t.Errorf("id: got %q", task.ID)
	}
}

func TestCreateCapabilityNotFound(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Create("", []string{"deploy"}, "ship it", CreateOptions{})
	if !errors.Is(err, capability.ErrCapabilityNotFound) {
		t.Fatalf("expected ErrCapabilityNotFound, got %v", err)
	}
}

func TestTransitionEnforcesTable(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.Create("", []string{"docs"}, "objective", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// Pending -> InProgress skips Delegated
	if _, err := l.Transition(task.ID, StatusInProgress, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	prepareHandoff(t, l, task.ID)
	for _, step := range []Status{StatusDelegated, StatusInProgress, StatusCompleted} {
		if _, err := l.Transition(task.ID, step, "step"); err != nil {
			t.Fatalf("Transition to %s: %v", step, err)
		}
	}

	// Terminal tasks accept nothing: result re-application is rejected, not
	// double-applied.
	if _, err := l.Transition(task.ID, StatusCompleted, "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on terminal, got %v", err)
	}
}

func TestCompleteRequiresTerminalChildren(t *testing.T) {
	l := newTestLedger(t)
	root, err := l.Create("", []string{"docs"}, "root", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	child, err := l.Create(root.ID, []string{"docs"}, "child", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	mustTransition(t, l, root.ID, StatusDelegated, StatusInProgress)

	if _, err := l.Transition(root.ID, StatusCompleted, ""); !errors.Is(err, ErrChildrenNotTerminal) {
		t.Fatalf("expected ErrChildrenNotTerminal, got %v", err)
	}

	mustTransition(t, l, child.ID, StatusDelegated, StatusInProgress, StatusCompleted)

	if _, err := l.Transition(root.ID, StatusCompleted, ""); err != nil {
		t.Fatalf("complete with terminal children: %v", err)
	}
}

// prepareHandoff persists a minimal context bundle so the task may be
// marked Delegated.
func prepareHandoff(t *testing.T, l *Ledger, id string) {
	t.Helper()
	if err := l.Store().WriteBundle(id, "context.json", map[string]string{"objective": "test"}); err != nil {
		t.Fatalf("write context bundle: %v", err)
	}
	if err := l.SetContextRef(id, "context.json"); err != nil {
		t.Fatalf("set context ref: %v", err)
	}
}

func mustTransition(t *testing.T, l *Ledger, id string, steps ...Status) {
	t.Helper()
	for _, s := range steps {
		if s == StatusDelegated {
			prepareHandoff(t, l, id)
		}
		if _, err := l.Transition(id, s, ""); err != nil {
			t.Fatalf("transition %s to %s: %v", id, s, err)
		}
	}
}

func TestDelegatedRequiresContextRef(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.Create("", []string{"docs"}, "objective", CreateOptions{})
	if err != nil {
		t.Fatal(err)
	}

	// No bundle on disk, no context_ref: the handoff must be rejected.
	if _, err := l.Transition(task.ID, StatusDelegated, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	// A dangling ref is just as bad as a missing one.
	if err := l.SetContextRef(task.ID, "context.json"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Transition(task.ID, StatusDelegated, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for dangling ref, got %v", err)
	}

	prepareHandoff(t, l, task.ID)
	if _, err := l.Transition(task.ID, StatusDelegated, ""); err != nil {
		t.Fatalf("delegating with a persisted bundle: %v", err)
	}
}

func TestQueryTreeOrder(t *testing.T) {
	l := newTestLedger(t)
	root, _ := l.Create("", []string{"docs"}, "root", CreateOptions{})
	c1, _ := l.Create(root.ID, []string{"docs"}, "first child", CreateOptions{})
	c2, _ := l.Create(root.ID, []string{"docs"}, "second child", CreateOptions{})
	g1, _ := l.Create(c1.ID, []string{"docs"}, "grandchild", CreateOptions{})

	tree, err := l.QueryTree(root.ID)
	if err != nil {
		t.Fatalf("QueryTree: %v", err)
	}

	wantOrder := []string{root.ID, c1.ID, g1.ID, c2.ID}
	if len(tree) != len(wantOrder) {
		t.Fatalf("tree size: got %d, want %d", len(tree), len(wantOrder))
	}
	for i, want := range wantOrder {
		if tree[i].ID != want {
			t.Errorf("tree[%d]: got %s, want %s", i, tree[i].ID, want)
		}
	}
}

func TestCancelCascades(t *testing.T) {
	l := newTestLedger(t)
	root, _ := l.Create("", []string{"docs"}, "root", CreateOptions{})
	open, _ := l.Create(root.ID, []string{"docs"}, "open child", CreateOptions{})
	done, _ := l.Create(root.ID, []string{"docs"}, "done child", CreateOptions{})
	mustTransition(t, l, done.ID, StatusDelegated, StatusInProgress, StatusCompleted)

	if err := l.Cancel(root.ID, "user abort"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	for id, want := range map[string]Status{
		root.ID: StatusCancelled,
		open.ID: StatusCancelled,
		done.ID: StatusCompleted, // history is not rewritten
	} {
		got, err := l.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != want {
			t.Errorf("task %s: got %s, want %s", id, got.Status, want)
		}
	}
}

func TestTaskRecordRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	task, err := l.Create("", []string{"docs"}, "Write the guide.\n\nCover installation and upgrades.", CreateOptions{
		DependsOn:  []string{"task_0000000000000001_aaaa"},
		MaxRetries: 2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.AppendLog(task.ID, "picked up by worker"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	got, err := l.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Objective != task.Objective {
		t.Errorf("objective round-trip: got %q, want %q", got.Objective, task.Objective)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != task.DependsOn[0] {
		t.Errorf("depends_on round-trip: got %v", got.DependsOn)
	}
	if got.MaxRetries != 2 {
		t.Errorf("max_retries round-trip: got %d", got.MaxRetries)
	}
	if len(got.Log) != 1 || got.Log[0] != "picked up by worker" {
		t.Errorf("log round-trip: got %v", got.Log)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Errorf("created_at round-trip: got %v, want %v", got.CreatedAt, task.CreatedAt)
	}
}

func TestReplayStatusMatchesProjection(t *testing.T) {
	l := newTestLedger(t)
	task, _ := l.Create("", []string{"docs"}, "objective", CreateOptions{})
	mustTransition(t, l, task.ID, StatusDelegated, StatusInProgress, StatusBlocked, StatusInProgress, StatusCompleted)

	replayed, err := l.ReplayStatus(task.ID)
	if err != nil {
		t.Fatalf("ReplayStatus: %v", err)
	}
	current, _ := l.Get(task.ID)
	if replayed != current.Status {
		t.Errorf("projection mismatch: log says %s, record says %s", replayed, current.Status)
	}

	trs, err := l.Transitions(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	// created + 5 transitions
	if len(trs) != 6 {
		t.Fatalf("transition count: got %d, want 6", len(trs))
	}
	for _, tr := range trs[1:] {
		if !CanTransition(tr.From, tr.To) {
			t.Errorf("out-of-table transition recorded: %s -> %s", tr.From, tr.To)
		}
	}
}

func TestSiblingCreationOrderPreserved(t *testing.T) {
	l := newTestLedger(t)
	root, _ := l.Create("", []string{"docs"}, "root", CreateOptions{})

	var ids []string
	for i := 0; i < 5; i++ {
		c, err := l.Create(root.ID, []string{"docs"}, "child", CreateOptions{})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.ID)
	}

	children, err := l.List(ListFilter{ParentID: root.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 5 {
		t.Fatalf("children: got %d, want 5", len(children))
	}
	for i, c := range children {
		if c.ID != ids[i] {
			t.Fatalf("order: position %d got %s, want %s", i, c.ID, ids[i])
		}
	}
}

func TestRecover(t *testing.T) {
	l := newTestLedger(t)

	inProgress, _ := l.Create("", []string{"docs"}, "was running", CreateOptions{})
	mustTransition(t, l, inProgress.ID, StatusDelegated, StatusInProgress)

	delegated, _ := l.Create("", []string{"docs"}, "was handed off", CreateOptions{})
	mustTransition(t, l, delegated.ID, StatusDelegated)

	waiting, _ := l.Create("", []string{"docs"}, "waiting on human", CreateOptions{})
	mustTransition(t, l, waiting.ID, StatusDelegated, StatusInProgress, StatusAwaitingConfirmation)

	n, err := Recover(l)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 2 {
		t.Errorf("recovered: got %d, want 2", n)
	}

	for id, want := range map[string]Status{
		inProgress.ID: StatusBlocked,
		delegated.ID:  StatusCancelled,
		waiting.ID:    StatusAwaitingConfirmation, // never auto-resolved
	} {
		got, _ := l.Get(id)
		if got.Status != want {
			t.Errorf("task %s: got %s, want %s", id, got.Status, want)
		}
	}
}
