// Package github implements the Remote-CI client for GitHub Actions: dispatching
// workflows, correlating a dispatch with the run it created, awaiting
// completion and downloading logs.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	boltlog "boltrunner/internal/logger"
	"boltrunner/internal/poll"
	"boltrunner/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	userAgent      = "boltrunner"

	// Progress is logged every N attempts of each polling loop.
	startProgressEvery      = 10
	completionProgressEvery = 6
)

// ClientConfig holds configuration for the GitHub client.
type ClientConfig struct {
	BaseURL     string
	Token       string
	HTTPTimeout time.Duration // default: 30s

	StartPolicy      poll.Policy   // default: every 5s for 2m
	CompletionPolicy poll.Policy   // default: every 10s for 20m
	SkewTolerance    time.Duration // default: 10s
	PerPage          int           // default: 5

	RateLimit float64 // requests per second (default: 5)
	RateBurst int     // default: 5
}

// Client is a thin GitHub Actions REST client. It is safe to reuse across
// requests; the token is fixed at construction.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewClient creates a new client. It fails only when the token is missing.
func NewClient(config ClientConfig, logger *slog.Logger) (*Client, error) {
	if config.Token == "" {
		return nil, ErrMissingToken
	}

	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	// Ensure no trailing slash
	for len(config.BaseURL) > 0 && config.BaseURL[len(config.BaseURL)-1] == '/' {
		config.BaseURL = config.BaseURL[:len(config.BaseURL)-1]
	}

	if config.HTTPTimeout <= 0 {
		config.HTTPTimeout = 30 * time.Second
	}
	if config.StartPolicy.Interval <= 0 {
		config.StartPolicy.Interval = 5 * time.Second
	}
	if config.StartPolicy.Timeout <= 0 {
		config.StartPolicy.Timeout = 2 * time.Minute
	}
	if config.CompletionPolicy.Interval <= 0 {
		config.CompletionPolicy.Interval = 10 * time.Second
	}
	if config.CompletionPolicy.Timeout <= 0 {
		config.CompletionPolicy.Timeout = 20 * time.Minute
	}
	if config.SkewTolerance <= 0 {
		config.SkewTolerance = 10 * time.Second
	}
	if config.PerPage <= 0 {
		config.PerPage = 5
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 5
	}
	if config.RateBurst <= 0 {
		config.RateBurst = 5
	}

	if logger == nil {
		logger = boltlog.Discard()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.HTTPTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		logger:  logger,
		tracer:  otel.Tracer("github-client"),
	}, nil
}

// Config returns the effective configuration after defaults were applied.
func (c *Client) Config() ClientConfig {
	return c.config
}

// Dispatch sends POST .../workflows/{workflow}/dispatches. GitHub answers 204
// without a run ID; any other status is returned as a KindAPI error.
func (c *Client) Dispatch(ctx context.Context, owner, repo, workflow, ref string, inputs map[string]any) error {
	ctx, span := c.tracer.Start(ctx, "github.dispatch", trace.WithAttributes(
		attribute.String("github.owner", owner),
		attribute.String("github.repo", repo),
		attribute.String("github.workflow", workflow),
		attribute.String("github.ref", ref),
	))
	defer span.End()

	payload := api.WorkflowDispatchRequest{Ref: ref}
	if len(inputs) > 0 {
		payload.Inputs = inputs
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &Error{Kind: KindDecode, Op: "dispatch", Err: err}
	}

	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(workflow))

	resp, err := c.do(ctx, http.MethodPost, path, nil, bytes.NewReader(body))
	if err != nil {
		recordSpanError(span, err)
		return wrapTransport("dispatch", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := newAPIError("dispatch", resp.StatusCode, respBody)
		recordSpanError(span, apiErr)
		return apiErr
	}

	return nil
}

// FindStartedRun discovers the run created by a dispatch issued at triggerTime.
// It polls the workflow's run listing (filtered by branch and the
// workflow_dispatch event) and binds the first listed run created no earlier
// than triggerTime minus the skew tolerance. Request failures are logged and
// retried on the next interval. The boolean is false when the start policy's
// timeout elapses first.
func (c *Client) FindStartedRun(ctx context.Context, owner, repo, workflow, ref string, triggerTime time.Time) (RunHandle, bool) {
	ctx, span := c.tracer.Start(ctx, "github.find_started_run", trace.WithAttributes(
		attribute.String("github.owner", owner),
		attribute.String("github.repo", repo),
		attribute.String("github.workflow", workflow),
		attribute.String("github.ref", ref),
	))
	defer span.End()

	triggerTime = triggerTime.UTC()
	started := time.Now()
	log := c.logger.With("owner", owner, "repo", repo, "workflow", workflow)

	handle, found := poll.Until(ctx, c.config.StartPolicy, func(ctx context.Context, attempt int) (RunHandle, bool) {
		if attempt%startProgressEvery == 0 {
			log.Info("Waiting for run start...",
				"attempt", attempt,
				"elapsed", time.Since(started).Round(time.Second).String())
		}

		runs, err := c.listDispatchRuns(ctx, owner, repo, workflow, ref)
		if err != nil {
			log.Warn("Error checking for run start", "attempt", attempt, "error", err)
			return RunHandle{}, false
		}

		return SelectRun(runs, triggerTime, c.config.SkewTolerance)
	})

	span.SetAttributes(attribute.Bool("github.run_found", found))
	if found {
		span.SetAttributes(attribute.Int64("github.run_id", handle.ID))
	}
	return handle, found
}

// SelectRun returns the first run, in listed order, whose creation time is not
// earlier than triggerTime - skew. GitHub lists newest first, so ties inside
// the window resolve to the newest run. Entries with a missing or unparseable
// created_at are ignored.
func SelectRun(runs []api.WorkflowRun, triggerTime time.Time, skew time.Duration) (RunHandle, bool) {
	earliest := triggerTime.Add(-skew)
	for _, run := range runs {
		if run.CreatedAt == "" {
			continue
		}
		createdAt, err := time.Parse(api.CreatedAtLayout, run.CreatedAt)
		if err != nil {
			continue
		}
		if !createdAt.Before(earliest) {
			return RunHandle{ID: run.ID, URL: run.HTMLURL, CreatedAt: createdAt}, true
		}
	}
	return RunHandle{}, false
}

// AwaitCompletion polls the run until its status is terminal. Any failed poll
// counts as "not yet". The boolean is false when the completion policy's
// timeout elapses first.
func (c *Client) AwaitCompletion(ctx context.Context, owner, repo string, runID int64) (RunResult, bool) {
	ctx, span := c.tracer.Start(ctx, "github.await_completion", trace.WithAttributes(
		attribute.String("github.owner", owner),
		attribute.String("github.repo", repo),
		attribute.Int64("github.run_id", runID),
	))
	defer span.End()

	started := time.Now()
	log := c.logger.With("owner", owner, "repo", repo, "run_id", runID)

	result, found := poll.Until(ctx, c.config.CompletionPolicy, func(ctx context.Context, attempt int) (RunResult, bool) {
		if attempt%completionProgressEvery == 0 {
			log.Info("Waiting for completion...",
				"attempt", attempt,
				"elapsed", time.Since(started).Round(time.Second).String())
		}

		result, err := c.GetRun(ctx, owner, repo, runID)
		if err != nil {
			log.Debug("Run status unavailable", "attempt", attempt, "error", err)
			return RunResult{}, false
		}
		return result, result.Terminal()
	})

	span.SetAttributes(attribute.Bool("github.run_completed", found))
	if found {
		span.SetAttributes(
			attribute.String("github.status", result.Status),
			attribute.String("github.conclusion", result.Conclusion),
		)
	}
	return result, found
}

// GetRun fetches a single run. Anything other than 200 is a KindAPI error.
func (c *Client) GetRun(ctx context.Context, owner, repo string, runID int64) (RunResult, error) {
	ctx, span := c.tracer.Start(ctx, "github.get_run", trace.WithAttributes(
		attribute.String("github.owner", owner),
		attribute.String("github.repo", repo),
		attribute.Int64("github.run_id", runID),
	))
	defer span.End()

	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d", url.PathEscape(owner), url.PathEscape(repo), runID)

	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		recordSpanError(span, err)
		return RunResult{}, wrapTransport("get run", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		readErr := &Error{Kind: KindTransport, Op: "get run", Err: err}
		recordSpanError(span, readErr)
		return RunResult{}, readErr
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := newAPIError("get run", resp.StatusCode, respBody)
		recordSpanError(span, apiErr)
		return RunResult{}, apiErr
	}

	var run api.WorkflowRun
	if err := json.Unmarshal(respBody, &run); err != nil {
		decodeErr := &Error{Kind: KindDecode, Op: "get run", Err: err}
		recordSpanError(span, decodeErr)
		return RunResult{}, decodeErr
	}

	return RunResult{
		Status:     run.Status,
		Conclusion: run.Conclusion,
		Run:        run,
		Raw:        json.RawMessage(respBody),
	}, nil
}

// FetchLogs downloads the run's log archive into destDir/{repo}_{runID}.zip and
// returns the file path. Redirects are followed.
func (c *Client) FetchLogs(ctx context.Context, owner, repo string, runID int64, destDir string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "github.fetch_logs", trace.WithAttributes(
		attribute.String("github.owner", owner),
		attribute.String("github.repo", repo),
		attribute.Int64("github.run_id", runID),
	))
	defer span.End()

	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d/logs", url.PathEscape(owner), url.PathEscape(repo), runID)

	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		recordSpanError(span, err)
		return "", wrapTransport("fetch logs", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		apiErr := newAPIError("fetch logs", resp.StatusCode, respBody)
		recordSpanError(span, apiErr)
		return "", apiErr
	}

	filePath := filepath.Join(destDir, fmt.Sprintf("%s_%d.zip", repo, runID))
	if err := writeFile(filePath, resp.Body); err != nil {
		ioErr := &Error{Kind: KindIO, Op: "fetch logs", Err: err}
		recordSpanError(span, ioErr)
		return "", ioErr
	}

	return filePath, nil
}

func (c *Client) listDispatchRuns(ctx context.Context, owner, repo, workflow, ref string) ([]api.WorkflowRun, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/runs",
		url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(workflow))

	query := url.Values{}
	query.Set("branch", ref)
	query.Set("event", "workflow_dispatch")
	query.Set("per_page", strconv.Itoa(c.config.PerPage))

	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, wrapTransport("list runs", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, newAPIError("list runs", resp.StatusCode, respBody)
	}

	var result api.WorkflowRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &Error{Kind: KindDecode, Op: "list runs", Err: err}
	}

	return result.WorkflowRuns, nil
}

// do waits for the rate limiter, then sends an authenticated request.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := c.config.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.config.Token))
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func wrapTransport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
