package github

import (
	"encoding/json"
	"time"

	"boltrunner/pkg/api"
)

// Run statuses reported by GitHub. Only StatusCompleted is terminal in the
// current API; the conclusion-like values are accepted as terminal statuses
// too because older payloads reported them there.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

var terminalStatuses = map[string]bool{
	StatusCompleted: true,
	"success":       true,
	"failure":       true,
	"cancelled":     true,
	"timed_out":     true,
	"skipped":       true,
	"neutral":       true,
}

// IsTerminal reports whether a run status means the run will not change again.
func IsTerminal(status string) bool {
	return terminalStatuses[status]
}

// RunHandle identifies the single remote run bound to a dispatch.
type RunHandle struct {
	ID        int64
	URL       string
	CreatedAt time.Time
}

// RunResult is a snapshot of a run's state.
type RunResult struct {
	Status     string
	Conclusion string
	// Run holds the decoded summary fields.
	Run api.WorkflowRun
	// Raw is the unmodified JSON payload returned by GitHub.
	Raw json.RawMessage
}

// Terminal reports whether the run has finished.
func (r RunResult) Terminal() bool {
	return IsTerminal(r.Status)
}
