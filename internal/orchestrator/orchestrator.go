// Package orchestrator drives a batch of run requests through dispatch,
// correlation, completion and log retrieval, one request at a time.
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"boltrunner/internal/artifacts"
	"boltrunner/internal/github"
	"boltrunner/internal/logger"
	"boltrunner/internal/measurement"
	"boltrunner/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// BatchDirLayout names the per-batch directory under the log root.
	BatchDirLayout = "2006-01-02_15-04-05"

	// MetadataFile holds the final run payload.
	MetadataFile = "run_metadata.json"
)

var (
	ErrNilClient         = errors.New("orchestrator: CI client is required")
	ErrStartTimeout      = errors.New("no workflow run appeared before the start timeout")
	ErrCompletionTimeout = errors.New("workflow run did not finish before the completion timeout")
)

// CIClient is the remote CI surface the orchestrator needs.
type CIClient interface {
	Dispatch(ctx context.Context, owner, repo, workflow, ref string, inputs map[string]any) error
	FindStartedRun(ctx context.Context, owner, repo, workflow, ref string, triggerTime time.Time) (github.RunHandle, bool)
	AwaitCompletion(ctx context.Context, owner, repo string, runID int64) (github.RunResult, bool)
	FetchLogs(ctx context.Context, owner, repo string, runID int64, destDir string) (string, error)
}

// SessionFactory builds the measurement session for one artifact directory.
type SessionFactory func(dir string) measurement.Session

// Config holds configuration for the orchestrator.
type Config struct {
	LogDir        string        // default: logs
	LedgerTimeout time.Duration // default: 5s, bounds each ledger write
}

// Result describes how one request ended.
type Result struct {
	Index       int
	Request     RunRequest
	AttemptID   uuid.UUID
	ArtifactDir string
	RunID       int64
	RunURL      string
	Status      string
	Conclusion  string
	Outcome     store.Outcome
	Err         error
	Duration    time.Duration
}

// Summary is returned by Run.
type Summary struct {
	BatchID  uuid.UUID
	BatchDir string
	Results  []Result
	// Skipped counts invalid requests that were never dispatched.
	Skipped int
}

// Count returns how many results ended with outcome.
func (s Summary) Count(outcome store.Outcome) int {
	n := 0
	for _, r := range s.Results {
		if r.Outcome == outcome {
			n++
		}
	}
	return n
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

func WithSessionFactory(f SessionFactory) Option {
	return func(o *Orchestrator) { o.sessions = f }
}

func WithLedger(l store.Ledger) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

func WithPublisher(p artifacts.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs batches sequentially. It is not safe for concurrent Run calls.
type Orchestrator struct {
	client    CIClient
	config    Config
	sessions  SessionFactory
	ledger    store.Ledger
	publisher artifacts.Publisher
	logger    *slog.Logger
	now       func() time.Time

	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates an orchestrator. Without options it measures nothing, keeps no
// ledger and publishes nothing.
func New(client CIClient, config Config, opts ...Option) *Orchestrator {
	if config.LogDir == "" {
		config.LogDir = "logs"
	}
	if config.LedgerTimeout <= 0 {
		config.LedgerTimeout = 5 * time.Second
	}

	o := &Orchestrator{
		client:    client,
		config:    config,
		sessions:  func(string) measurement.Session { return measurement.Nop{} },
		ledger:    store.NopLedger{},
		publisher: artifacts.NopPublisher{},
		logger:    logger.Discard(),
		now:       time.Now,
		tracer:    otel.Tracer("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}

	meter := otel.Meter("orchestrator")
	o.requests, _ = meter.Int64Counter("boltrunner_requests_total",
		metric.WithDescription("Run requests processed, by outcome"))
	o.duration, _ = meter.Float64Histogram("boltrunner_request_duration_seconds",
		metric.WithDescription("Wall time spent on one run request"),
		metric.WithUnit("s"))

	return o
}

// Run processes every request in order. Per-request failures are logged and
// reported in the summary; only setup failures are returned as errors.
func (o *Orchestrator) Run(ctx context.Context, batch []RunRequest) (Summary, error) {
	if o.client == nil {
		return Summary{}, ErrNilClient
	}

	summary := Summary{
		BatchID:  uuid.New(),
		BatchDir: filepath.Join(o.config.LogDir, o.now().Format(BatchDirLayout)),
	}
	if err := os.MkdirAll(summary.BatchDir, 0o755); err != nil {
		return summary, fmt.Errorf("failed to create batch directory: %w", err)
	}

	o.logger.Info("starting batch", "batch_id", summary.BatchID, "dir", summary.BatchDir, "requests", len(batch))

	for i, req := range batch {
		if err := req.Validate(); err != nil {
			o.logger.Warn("skipping run request", "index", i, "error", err)
			summary.Skipped++
			continue
		}

		if ctx.Err() != nil {
			summary.Results = append(summary.Results, Result{
				Index:   i,
				Request: req,
				Outcome: store.OutcomeCancelled,
				Err:     ctx.Err(),
			})
			o.requests.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", string(store.OutcomeCancelled))))
			continue
		}

		summary.Results = append(summary.Results, o.processRequest(ctx, summary, i, req))
	}

	o.logger.Info("batch finished",
		"batch_id", summary.BatchID,
		"succeeded", summary.Count(store.OutcomeSucceeded),
		"requests", len(summary.Results),
		"skipped", summary.Skipped,
	)
	return summary, nil
}

func (o *Orchestrator) processRequest(ctx context.Context, summary Summary, index int, req RunRequest) Result {
	started := o.now()
	attemptID := uuid.New()

	ctx = logger.WithAttemptID(ctx, attemptID.String())
	log := logger.FromContext(ctx, o.logger).With("owner", req.Owner, "repo", req.Repo, "workflow", req.Workflow)

	ctx, span := o.tracer.Start(ctx, "orchestrator.request", trace.WithAttributes(
		attribute.String("attempt.id", attemptID.String()),
		attribute.String("github.owner", req.Owner),
		attribute.String("github.repo", req.Repo),
		attribute.String("github.workflow", req.Workflow),
		attribute.String("github.ref", req.Ref),
	))
	defer span.End()

	dir := filepath.Join(summary.BatchDir, req.DirName(index))
	result := Result{Index: index, Request: req, AttemptID: attemptID, ArtifactDir: dir}

	attempt := &store.Attempt{
		ID:          attemptID,
		BatchID:     summary.BatchID,
		Index:       index,
		Owner:       req.Owner,
		Repo:        req.Repo,
		Workflow:    req.Workflow,
		Ref:         req.Ref,
		ArtifactDir: dir,
		Outcome:     store.OutcomePending,
	}

	recorded := false
	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Outcome, result.Err = store.OutcomeFailed, fmt.Errorf("failed to create artifact directory: %w", err)
		log.Error("failed to create artifact directory", "dir", dir, "error", err)
	} else {
		log.Info("processing run request", "index", index, "dir", dir)
		result.Outcome, result.Err = o.execute(ctx, log, dir, req, attempt, &recorded)

		if err := o.publisher.Publish(ctx, dir, filepath.ToSlash(filepath.Join(filepath.Base(summary.BatchDir), filepath.Base(dir)))); err != nil {
			log.Error("failed to publish artifacts", "error", err)
		}
	}

	if attempt.RunID != nil {
		result.RunID = *attempt.RunID
	}
	result.RunURL = attempt.RunURL
	result.Status = attempt.Status
	result.Conclusion = attempt.Conclusion
	result.Duration = o.now().Sub(started)

	if recorded {
		finished := o.now().UTC()
		attempt.Outcome = result.Outcome
		attempt.FinishedAt = &finished
		if result.Err != nil {
			attempt.Error = result.Err.Error()
		}
		ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.LedgerTimeout)
		if err := o.ledger.RecordOutcome(ledgerCtx, attempt); err != nil {
			log.Error("failed to record attempt outcome", "error", err)
		}
		cancel()
	}

	if result.Err != nil {
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, string(result.Outcome))
	}
	span.SetAttributes(attribute.String("outcome", string(result.Outcome)), attribute.Int64("github.run_id", result.RunID))

	outcomeAttr := metric.WithAttributes(attribute.String("outcome", string(result.Outcome)))
	o.requests.Add(context.WithoutCancel(ctx), 1, outcomeAttr)
	o.duration.Record(context.WithoutCancel(ctx), result.Duration.Seconds(), outcomeAttr)

	log.Info("run request finished", "outcome", result.Outcome, "run_id", result.RunID, "duration", result.Duration.String())
	return result
}

// execute brackets dispatch through log retrieval with a measurement session.
// The session is stopped on every path, panics included.
func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, dir string, req RunRequest, attempt *store.Attempt, recorded *bool) (outcome store.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing run request", "panic", r)
			outcome, err = store.OutcomeFailed, fmt.Errorf("panic: %v", r)
		}
	}()

	session := o.sessions(dir)
	defer session.Stop(context.WithoutCancel(ctx))
	session.Start(ctx)

	attempt.TriggeredAt = o.now().UTC()
	ledgerCtx, cancel := context.WithTimeout(ctx, o.config.LedgerTimeout)
	if err := o.ledger.RecordDispatch(ledgerCtx, attempt); err != nil {
		log.Error("failed to record dispatch", "error", err)
	} else {
		*recorded = true
	}
	cancel()

	// The ledger write must not widen the correlation window.
	attempt.TriggeredAt = o.now().UTC()
	if err := o.client.Dispatch(ctx, req.Owner, req.Repo, req.Workflow, req.Ref, req.Inputs); err != nil {
		log.Error("failed to dispatch workflow", "ref", req.Ref, "error", err)
		return store.OutcomeDispatchFailed, err
	}
	log.Info("workflow dispatched", "ref", req.Ref, "trigger_time", attempt.TriggeredAt.Format(time.RFC3339))

	handle, ok := o.client.FindStartedRun(ctx, req.Owner, req.Repo, req.Workflow, req.Ref, attempt.TriggeredAt)
	if !ok {
		if ctx.Err() != nil {
			return store.OutcomeCancelled, ctx.Err()
		}
		log.Error("could not find the started workflow run; make sure the workflow has a workflow_dispatch trigger", "ref", req.Ref)
		return store.OutcomeStartTimeout, ErrStartTimeout
	}

	runID := handle.ID
	attempt.RunID = &runID
	attempt.RunURL = handle.URL
	log.Info("workflow run started", "run_id", runID, "url", handle.URL)

	result, ok := o.client.AwaitCompletion(ctx, req.Owner, req.Repo, runID)
	if !ok {
		if ctx.Err() != nil {
			return store.OutcomeCancelled, ctx.Err()
		}
		log.Error("workflow run did not complete in time", "run_id", runID)
		return store.OutcomeCompletionTimeout, ErrCompletionTimeout
	}
	attempt.Status = result.Status
	attempt.Conclusion = result.Conclusion
	log.Info("workflow run completed", "run_id", runID, "status", result.Status, "conclusion", result.Conclusion)

	if err := writeRunMetadata(dir, result); err != nil {
		log.Error("failed to write run metadata", "error", err)
	}

	path, err := o.client.FetchLogs(ctx, req.Owner, req.Repo, runID, dir)
	if err != nil {
		log.Error("failed to download run logs", "run_id", runID, "error", err)
		return store.OutcomeLogsFailed, err
	}
	log.Info("run logs saved", "path", path)

	return store.OutcomeSucceeded, nil
}

// writeRunMetadata stores the run payload pretty-printed with two-space indentation.
func writeRunMetadata(dir string, result github.RunResult) error {
	var buf bytes.Buffer
	if len(result.Raw) > 0 {
		if err := json.Indent(&buf, result.Raw, "", "  "); err != nil {
			return fmt.Errorf("failed to format run metadata: %w", err)
		}
	} else {
		data, err := json.MarshalIndent(result.Run, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode run metadata: %w", err)
		}
		buf.Write(data)
	}
	buf.WriteByte('\n')

	return os.WriteFile(filepath.Join(dir, MetadataFile), buf.Bytes(), 0o644)
}
