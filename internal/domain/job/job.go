// Package job defines the durable queue Job record: one named-queue job
// with attempts, backoff, and ownership tracked across its lease
// lifecycle.
package job

import (
	"encoding/json"
	"time"
)

// State is the job's lifecycle state.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Queue names.
const (
	QueueIndexing   = "indexing"
	QueueGeneration = "generation"
)

// Job names within each queue.
const (
	NameIndexFull        = "index-repo"
	NameIndexIncremental = "incremental-index"
	NameGenerate         = "generate"
	NameProcess          = "process" // generic name used by queue-mechanics tests
)

// Options configures retry/backoff/idempotency behaviour at enqueue time.
type Options struct {
	JobID      string        // caller-supplied idempotency key; empty means generate one
	Attempts   int           // default 3
	Backoff    time.Duration // initial exponential backoff, default 2s
	Delay      time.Duration // delay before the job becomes eligible
	OwnerID    string        // user id the job is scoped to, for status-lookup authorization
}

// Job is a durable queue record.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Backoff      time.Duration   `json:"backoff"`
	Progress     int             `json:"progress"`
	State        State           `json:"state"`
	Result       json.RawMessage `json:"result,omitempty"`
	FailedReason string          `json:"failed_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	RunAt        time.Time       `json:"run_at"`
	OwnerUserID  string          `json:"owner_user_id,omitempty"`
}

// IsTerminal reports whether State is a final state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// NextBackoff computes the exponential backoff delay before the next
// retry, given the attempt number just exhausted (1-indexed) and the
// job's configured initial backoff.
func NextBackoff(initial time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		initial = 2 * time.Second
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
