package delegation

import (
	"fmt"
	"time"
)

// Bundle file names inside a task directory.
const (
	ContextBundleName = "context.json"
	ResultBundleName  = "result.json"
)

// Constraints bound a delegate's execution.
type Constraints struct {
	ConfirmRequired bool          `json:"confirm_required,omitempty"`
	Timeout         time.Duration `json:"timeout,omitempty"`
}

// ContextBundle is the complete working context handed to a delegate. A
// delegate sees only its bundle, never the coordinator's conversation, so
// the bundle must be self-contained.
type ContextBundle struct {
	SourceTaskID string            `json:"source_task_id"`
	Objective    string            `json:"objective"`
	Payload      map[string]string `json:"payload,omitempty"`
	FileRefs     []string          `json:"file_refs,omitempty"`
	Constraints  Constraints       `json:"constraints"`
}

// Validate rejects bundles that would leave a delegate without enough to act.
func (b *ContextBundle) Validate() error {
	if b.SourceTaskID == "" {
		return fmt.Errorf("context bundle: missing source task id")
	}
	if b.Objective == "" {
		return fmt.Errorf("context bundle: missing objective")
	}
	return nil
}

// Outcome classifies a delegate's result.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// ResultBundle is what a delegate returns on completion, failure, or
// cancellation.
type ResultBundle struct {
	TaskID    string   `json:"task_id"`
	Outcome   Outcome  `json:"outcome"`
	Summary   string   `json:"summary,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	Err       string   `json:"error,omitempty"`
}

// Validate enforces the result contract: success carries a summary, failure
// carries an error.
func (r *ResultBundle) Validate() error {
	switch r.Outcome {
	case OutcomeSuccess:
		if r.Summary == "" {
			return fmt.Errorf("result bundle %s: success without summary", r.TaskID)
		}
	case OutcomeFailure:
		if r.Err == "" {
			return fmt.Errorf("result bundle %s: failure without error", r.TaskID)
		}
	case OutcomeCancelled:
	default:
		return fmt.Errorf("result bundle %s: unknown outcome %q", r.TaskID, r.Outcome)
	}
	return nil
}
