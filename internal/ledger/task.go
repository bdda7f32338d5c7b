// Package ledger maintains the canonical, file-backed record of every task
// and enforces the delegation state machine over it.
package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending              Status = "pending"
	StatusDelegated            Status = "delegated"
	StatusInProgress           Status = "in_progress"
	StatusBlocked              Status = "blocked"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is one unit of delegated work.
type Task struct {
	ID         string    `toml:"id" json:"id"`
	ParentID   string    `toml:"parent_id,omitempty" json:"parent_id,omitempty"`
	Owner      string    `toml:"owner" json:"owner"` // owning capability id
	Status     Status    `toml:"status" json:"status"`
	DependsOn  []string  `toml:"depends_on,omitempty" json:"depends_on,omitempty"`
	ContextRef string    `toml:"context_ref,omitempty" json:"context_ref,omitempty"`
	ResultRef  string    `toml:"result_ref,omitempty" json:"result_ref,omitempty"`
	Retries    int       `toml:"retries" json:"retries"`
	MaxRetries int       `toml:"max_retries" json:"max_retries"`
	CreatedAt  time.Time `toml:"created_at" json:"created_at"`
	UpdatedAt  time.Time `toml:"updated_at" json:"updated_at"`

	// Objective and Log form the free-text document body, not front matter.
	Objective string   `toml:"-" json:"objective"`
	Log       []string `toml:"-" json:"log,omitempty"`
}

// Transition is one recorded state change. The per-task transition log is
// append-only; the current status is a projection over it.
type Transition struct {
	Ts       time.Time `json:"ts"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Evidence string    `json:"evidence,omitempty"`
}

// ListFilter defines criteria for filtering task lists.
type ListFilter struct {
	Status    Status
	ParentID  string
	Owner     string
	RootsOnly bool // only tasks without a parent
}

// GenerateTaskID creates a unique, monotonic-orderable task identifier.
// The fixed-width hex timestamp prefix makes lexical order match creation order.
func GenerateTaskID() string {
	u := uuid.New().String()
	return fmt.Sprintf("task_%016x_%s", time.Now().UnixNano(), strings.ReplaceAll(u[:8], "-", ""))
}
