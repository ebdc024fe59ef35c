// Package api contains the GitHub Actions REST JSON request/response structs.
// This package is shared between the CLI and the Remote-CI client.
package api

// CreatedAtLayout is the timestamp format GitHub uses for created_at fields.
const CreatedAtLayout = "2006-01-02T15:04:05Z"

// WorkflowDispatchRequest is the request body for
// POST /repos/{owner}/{repo}/actions/workflows/{workflow_id}/dispatches.
type WorkflowDispatchRequest struct {
	Ref    string         `json:"ref"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// WorkflowRun is a run summary as returned by the listing and detail endpoints.
// Only the fields this project reads are declared; the raw payload is kept
// separately when it has to be persisted.
type WorkflowRun struct {
	ID           int64  `json:"id"`
	Name         string `json:"name,omitempty"`
	HTMLURL      string `json:"html_url"`
	Status       string `json:"status"`
	Conclusion   string `json:"conclusion"`
	Event        string `json:"event,omitempty"`
	HeadBranch   string `json:"head_branch,omitempty"`
	HeadSHA      string `json:"head_sha,omitempty"`
	RunNumber    int    `json:"run_number,omitempty"`
	RunAttempt   int    `json:"run_attempt,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at,omitempty"`
	RunStartedAt string `json:"run_started_at,omitempty"`
}

// WorkflowRunsResponse is the response body of
// GET /repos/{owner}/{repo}/actions/workflows/{workflow_id}/runs.
type WorkflowRunsResponse struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []WorkflowRun `json:"workflow_runs"`
}

// ErrorResponse is GitHub's standard error body.
type ErrorResponse struct {
	Message          string `json:"message"`
	DocumentationURL string `json:"documentation_url,omitempty"`
}
