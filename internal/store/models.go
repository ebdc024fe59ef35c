// Package store contains the run ledger for boltrunner.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Outcome is how a single run request ended.
type Outcome string

const (
	OutcomePending           Outcome = "pending"
	OutcomeSucceeded         Outcome = "succeeded"
	OutcomeDispatchFailed    Outcome = "dispatch_failed"
	OutcomeStartTimeout      Outcome = "start_timeout"
	OutcomeCompletionTimeout Outcome = "completion_timeout"
	OutcomeLogsFailed        Outcome = "logs_failed"
	OutcomeCancelled         Outcome = "cancelled"
	OutcomeFailed            Outcome = "failed"
)

// Attempt records one processing attempt of a run request.
type Attempt struct {
	ID          uuid.UUID
	BatchID     uuid.UUID
	Index       int
	Owner       string
	Repo        string
	Workflow    string
	Ref         string
	ArtifactDir string
	TriggeredAt time.Time

	// Set once correlation succeeds.
	RunID  *int64
	RunURL string

	// Set once the run reached a terminal state.
	Status     string
	Conclusion string

	Outcome    Outcome
	Error      string
	FinishedAt *time.Time
}
