package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK LIFECYCLE EVENTS
// =============================================================================

type TaskCreatedPayload struct {
	TaskID    string `json:"task_id"`
	ParentID  string `json:"parent_id,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Objective string `json:"objective"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskDelegatedPayload struct {
	TaskID string `json:"task_id"`
	Owner  string `json:"owner"`
}

func (TaskDelegatedPayload) EventType() EventType { return EventTaskDelegated }

type TaskStartedPayload struct {
	TaskID string `json:"task_id"`
	Owner  string `json:"owner"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskBlockedPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

func (TaskBlockedPayload) EventType() EventType { return EventTaskBlocked }

type TaskUnblockedPayload struct {
	TaskID string `json:"task_id"`
}

func (TaskUnblockedPayload) EventType() EventType { return EventTaskUnblocked }

type TaskCompletedPayload struct {
	TaskID   string        `json:"task_id"`
	Summary  string        `json:"summary,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID     string `json:"task_id"`
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
	WillRetry  bool   `json:"will_retry"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskCancelledPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

type TaskRetriedPayload struct {
	TaskID  string `json:"task_id"`
	Attempt int    `json:"attempt"`
	Cause   string `json:"cause"`
}

func (TaskRetriedPayload) EventType() EventType { return EventTaskRetried }

type TaskEscalatedPayload struct {
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

func (TaskEscalatedPayload) EventType() EventType { return EventTaskEscalated }

// =============================================================================
// CONFIRMATION EVENTS
// =============================================================================

type ConfirmRequestedPayload struct {
	TaskID   string   `json:"task_id"`
	Question string   `json:"question"`
	Choices  []string `json:"choices"`
}

func (ConfirmRequestedPayload) EventType() EventType { return EventConfirmRequested }

type ConfirmResolvedPayload struct {
	TaskID   string `json:"task_id"`
	Approved bool   `json:"approved"`
}

func (ConfirmResolvedPayload) EventType() EventType { return EventConfirmResolved }

// =============================================================================
// REGISTRY EVENTS
// =============================================================================

type RegistryLoadedPayload struct {
	Artifact     string `json:"artifact"`
	Capabilities int    `json:"capabilities"`
}

func (RegistryLoadedPayload) EventType() EventType { return EventRegistryLoaded }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventForTask(source EventSource, payload EventPayload, taskID string) Event {
	return Event{
		ID:        generateEventID(),
		TaskID:    taskID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload unmarshals an event payload back into its typed form.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
