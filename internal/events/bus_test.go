package events

import (
	"sync"
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	var received []Event

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	}, EventTaskCreated)

	bus.Publish(NewTypedEvent(SourceLedger, TaskCreatedPayload{TaskID: "t1", Objective: "hello"}))
	bus.Publish(NewTypedEvent(SourceLedger, TaskStartedPayload{TaskID: "t1", Owner: "worker-docs"}))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != EventTaskCreated {
		t.Errorf("expected task.created, got %s", received[0].Type)
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	var mu sync.Mutex
	count := 0

	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	bus.Publish(NewTypedEvent(SourceLedger, TaskCreatedPayload{TaskID: "t1"}))
	bus.Publish(NewTypedEvent(SourceDelegation, TaskDelegatedPayload{TaskID: "t1", Owner: "worker-docs"}))

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewBus(64)
	defer bus.Close()

	bus.Publish(NewTypedEvent(SourceLedger, TaskCreatedPayload{TaskID: "t1"}))
	bus.Publish(NewTypedEvent(SourceLedger, TaskCompletedPayload{TaskID: "t1"}))

	deadline := time.After(2 * time.Second)
	for len(bus.History(10)) < 2 {
		select {
		case <-deadline:
			t.Fatalf("history: got %d events, want 2", len(bus.History(10)))
		case <-time.After(5 * time.Millisecond):
		}
	}

	events := bus.History(1)
	if len(events) != 1 || events[0].Type != EventTaskCompleted {
		t.Errorf("History(1): got %+v", events)
	}
}

func TestRingBuffer(t *testing.T) {
	rb := NewRingBuffer(3)

	for i := 0; i < 5; i++ {
		rb.Add(NewTypedEvent(SourceLedger, TaskCreatedPayload{TaskID: "t"}))
	}

	events := rb.Get(10)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
}

func TestExtractPayload(t *testing.T) {
	e := NewTypedEventForTask(SourceDelegation, TaskFailedPayload{
		TaskID:     "t1",
		Error:      "transient io",
		RetryCount: 1,
		WillRetry:  true,
	}, "t1")

	if e.TaskID != "t1" {
		t.Errorf("TaskID: got %q", e.TaskID)
	}

	p, ok := ExtractPayload[TaskFailedPayload](e)
	if !ok {
		t.Fatal("ExtractPayload failed")
	}
	if p.Error != "transient io" || !p.WillRetry {
		t.Errorf("payload round-trip: got %+v", p)
	}
}
