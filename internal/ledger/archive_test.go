package ledger

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenArchive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func terminalTask(id string) *Task {
	return &Task{
		ID:        id,
		Owner:     "worker-docs",
		Status:    StatusCompleted,
		Objective: "write the guide",
		CreatedAt: time.Now().UTC(),
	}
}

func TestArchiveRejectsNonTerminal(t *testing.T) {
	a := newTestArchive(t)
	task := terminalTask("task_0000000000000001_aaaa")
	task.Status = StatusInProgress

	if err := a.ArchiveTask(task, nil); err == nil {
		t.Fatal("expected error archiving non-terminal task")
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	a := newTestArchive(t)
	task := terminalTask("task_0000000000000002_bbbb")
	history := []Transition{
		{Ts: time.Now().UTC(), From: "", To: StatusPending, Evidence: "created"},
		{Ts: time.Now().UTC(), From: StatusPending, To: StatusDelegated, Evidence: "handed off"},
	}

	if err := a.ArchiveTask(task, history); err != nil {
		t.Fatalf("ArchiveTask: %v", err)
	}

	listed, err := a.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed: got %d, want 1", len(listed))
	}
	if listed[0].ID != task.ID || listed[0].Status != StatusCompleted {
		t.Errorf("listed row: %+v", listed[0])
	}

	trs, err := a.History(task.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(trs) != 2 {
		t.Fatalf("history: got %d entries, want 2", len(trs))
	}
	if trs[1].To != StatusDelegated || trs[1].Evidence != "handed off" {
		t.Errorf("history[1]: %+v", trs[1])
	}
}

func TestArchiveIdempotent(t *testing.T) {
	a := newTestArchive(t)
	task := terminalTask("task_0000000000000003_cccc")
	history := []Transition{{Ts: time.Now().UTC(), To: StatusPending, Evidence: "created"}}

	if err := a.ArchiveTask(task, history); err != nil {
		t.Fatal(err)
	}
	if err := a.ArchiveTask(task, history); err != nil {
		t.Fatalf("re-archive: %v", err)
	}

	trs, err := a.History(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) != 1 {
		t.Errorf("history duplicated on re-archive: got %d entries", len(trs))
	}
}
