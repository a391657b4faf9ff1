package dispatch

import (
	"errors"
	"time"

	"wabulk/internal/audit"
	"wabulk/internal/contacts"
	"wabulk/internal/phone"
)

var (
	ErrNoSession = errors.New("dispatch: no channel session")
	ErrNoTasks   = errors.New("dispatch: no recipients")
)

// SkippedReason marks tasks that never started because the run was cancelled.
const SkippedReason = "skipped: run cancelled"

// Task is one recipient and the message to send.
type Task struct {
	Recipient phone.Number `json:"recipient"`
	Payload   Payload      `json:"payload"`
}

// NewTasks builds one task per number, keeping order and duplicates.
func NewTasks(numbers []phone.Number, p Payload) []Task {
	out := make([]Task, len(numbers))
	for i, n := range numbers {
		out[i] = Task{Recipient: n, Payload: p}
	}
	return out
}

// OutcomeStatus is the per-recipient result.
type OutcomeStatus string

const (
	Success OutcomeStatus = "success"
	Failure OutcomeStatus = "failure"
)

// Outcome is the result of one task.
type Outcome struct {
	Recipient phone.Number  `json:"recipient"`
	Kind      audit.Kind    `json:"kind"`
	Status    OutcomeStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Attempts  int           `json:"attempts"`
	Skipped   bool          `json:"skipped,omitempty"`
	// Session names the channel that handled the task.
	Session    string        `json:"session,omitempty"`
	AuditError string        `json:"audit_error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}

// Classification summarizes a run.
type Classification string

const (
	AllSucceeded Classification = "all-succeeded"
	AllFailed    Classification = "all-failed"
	Partial      Classification = "partial"
)

// Classify returns the classification of outcomes. An empty slice counts as all-failed.
func Classify(outcomes []Outcome) Classification {
	var ok int
	for _, o := range outcomes {
		if o.Status == Success {
			ok++
		}
	}
	switch {
	case ok == len(outcomes) && ok > 0:
		return AllSucceeded
	case ok == 0:
		return AllFailed
	default:
		return Partial
	}
}

// RunReport is everything a caller needs to know about one run.
type RunReport struct {
	ID             string                   `json:"id"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
	Classification Classification           `json:"classification"`
	Outcomes       []Outcome                `json:"outcomes"`
	Rejected       []contacts.RejectedEntry `json:"rejected"`
	Succeeded      int                      `json:"succeeded"`
	Failed         int                      `json:"failed"`
	Skipped        int                      `json:"skipped"`
	AuditFailures  int                      `json:"audit_failures"`
	Cancelled      bool                     `json:"cancelled"`
}

func (r *RunReport) tally() {
	r.Succeeded, r.Failed, r.Skipped, r.AuditFailures = 0, 0, 0, 0
	for _, o := range r.Outcomes {
		if o.Status == Success {
			r.Succeeded++
		} else {
			r.Failed++
		}
		if o.Skipped {
			r.Skipped++
		}
		if o.AuditError != "" {
			r.AuditFailures++
		}
	}
	r.Cancelled = r.Skipped > 0
	r.Classification = Classify(r.Outcomes)
}
