package observability

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"boltrunner/internal/github"
	"boltrunner/internal/logger"
	"boltrunner/internal/orchestrator"
	"boltrunner/internal/store"
)

// fakeCI completes every dispatch immediately with a successful run.
type fakeCI struct{}

func (fakeCI) Dispatch(ctx context.Context, owner, repo, workflow, ref string, inputs map[string]any) error {
	return nil
}

func (fakeCI) FindStartedRun(ctx context.Context, owner, repo, workflow, ref string, triggerTime time.Time) (github.RunHandle, bool) {
	return github.RunHandle{ID: 7, CreatedAt: triggerTime}, true
}

func (fakeCI) AwaitCompletion(ctx context.Context, owner, repo string, runID int64) (github.RunResult, bool) {
	return github.RunResult{
		Status:     "completed",
		Conclusion: "success",
		Raw:        json.RawMessage(`{"id":7,"status":"completed","conclusion":"success"}`),
	}, true
}

func (fakeCI) FetchLogs(ctx context.Context, owner, repo string, runID int64, destDir string) (string, error) {
	return destDir + "/logs.zip", nil
}

func initMetrics(t *testing.T) http.Handler {
	t.Helper()
	handler, shutdown, err := InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics failed: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	})
	return handler
}

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
	}
	return rr.Body.String()
}

func TestInitMetrics_ExportsRequestInstruments(t *testing.T) {
	handler := initMetrics(t)

	o := orchestrator.New(fakeCI{}, orchestrator.Config{LogDir: t.TempDir()}, orchestrator.WithLogger(logger.Discard()))
	summary, err := o.Run(context.Background(), []orchestrator.RunRequest{
		{Owner: "a", Repo: "b", Workflow: "ci.yml", Ref: "main"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Count(store.OutcomeSucceeded) != 1 {
		t.Fatalf("expected one succeeded request, got %+v", summary.Results)
	}

	body := scrape(t, handler)
	for _, want := range []string{
		"boltrunner_requests_total{",
		"boltrunner_request_duration_seconds_bucket{",
		`outcome="succeeded"`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %s in output, got:\n%s", want, body)
		}
	}
}

func TestInitMetrics_NoRequestsNoSeries(t *testing.T) {
	handler := initMetrics(t)

	body := scrape(t, handler)
	if strings.Contains(body, "boltrunner_requests_total{") {
		t.Errorf("expected no request series before any run, got:\n%s", body)
	}
}

func TestServeMetrics_ServesHealthAndMetrics(t *testing.T) {
	handler := initMetrics(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve a port: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ServeMetrics(ctx, addr, handler, logger.Discard())

	var resp *http.Response
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/healthz")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("metrics server never came up: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Errorf("unexpected /healthz response %d %s", resp.StatusCode, body)
	}

	resp, err = http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected /metrics to return 200, got %d", resp.StatusCode)
	}
}

func TestServeMetrics_EmptyAddrIsNoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Must return without starting anything.
	ServeMetrics(ctx, "", http.NotFoundHandler(), logger.Discard())
}
