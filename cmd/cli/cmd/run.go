package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"boltrunner/internal/artifacts"
	"boltrunner/internal/measurement"
	"boltrunner/internal/observability"
	"boltrunner/internal/orchestrator"
	"boltrunner/internal/store"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch a batch of workflows and wait for each run",
	Long: `Dispatch every request in the batch one after another. For each request
boltctl finds the run the dispatch created, waits for it to finish, saves
run_metadata.json and the log archive, and records a measurement session,
all under BOLT_LOG_DIR/<batch timestamp>/<repo>_<workflow>_<n>.

The batch comes from --batch (JSON or YAML) or the WORKFLOW_CONFIG variable.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		batch, err := loadBatch(cmd, cfg.WorkflowConfig)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			log.Warn("no workflows to run: set WORKFLOW_CONFIG or pass --batch")
			cmd.Println("Nothing to run.")
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracer, err := observability.InitTracer(ctx, observability.ServiceName, cfg.OTELEndpoint)
		if err != nil {
			return err
		}
		defer shutdownWithTimeout(shutdownTracer)

		if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
			handler, shutdownMetrics, err := observability.InitMetrics()
			if err != nil {
				return err
			}
			defer shutdownWithTimeout(shutdownMetrics)
			observability.ServeMetrics(ctx, addr, handler, log)
		}

		client, err := NewGitHubClient(cfg, log)
		if err != nil {
			return err
		}

		opts := []orchestrator.Option{
			orchestrator.WithLogger(log),
			orchestrator.WithSessionFactory(func(dir string) measurement.Session {
				mcfg := measurement.DefaultConfig(runtime.GOOS)
				mcfg.Interval = cfg.MeasurementInterval
				return measurement.New(dir, mcfg, log)
			}),
		}

		if cfg.DatabaseURL != "" {
			ledger, closeLedger, err := openLedger(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer closeLedger()
			opts = append(opts, orchestrator.WithLedger(ledger))
		}

		artifactCfg := artifacts.Config(cfg.Artifacts)
		if artifactCfg.Enabled() {
			publisher, err := artifacts.NewMinIOPublisher(ctx, artifactCfg, log)
			if err != nil {
				return err
			}
			opts = append(opts, orchestrator.WithPublisher(publisher))
		}

		summary, err := orchestrator.New(client, orchestrator.Config{LogDir: cfg.LogDir}, opts...).Run(ctx, batch)
		if err != nil {
			return err
		}

		printSummary(cmd, summary)
		return nil
	},
}

func loadBatch(cmd *cobra.Command, inline string) ([]orchestrator.RunRequest, error) {
	if path, _ := cmd.Flags().GetString("batch"); path != "" {
		return orchestrator.LoadBatchFile(path)
	}
	if inline == "" {
		return nil, nil
	}
	return orchestrator.ParseBatch([]byte(inline))
}

func shutdownWithTimeout(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}

func printSummary(cmd *cobra.Command, summary orchestrator.Summary) {
	cmd.Printf("%sBatch %s%s\n", colorBold, summary.BatchID, colorReset)
	cmd.Printf("%sArtifacts:%s %s\n", colorDim, colorReset, summary.BatchDir)
	cmd.Println("──────────────────────────────")

	for _, r := range summary.Results {
		line := fmt.Sprintf("%s/%s %s", r.Request.Owner, r.Request.Repo, r.Request.Workflow)
		if r.RunID != 0 {
			line += fmt.Sprintf(" (run %d)", r.RunID)
		}
		cmd.Printf("%s %s  %s\n", outcomeIcon(r.Outcome), line, colorizeOutcome(r.Outcome))
		if r.Err != nil {
			cmd.Printf("   %s%s%s\n", colorDim, r.Err, colorReset)
		}
	}

	if summary.Skipped > 0 {
		cmd.Printf("%s%d invalid request(s) skipped%s\n", colorYellow, summary.Skipped, colorReset)
	}
	cmd.Printf("%d/%d succeeded\n", summary.Count(store.OutcomeSucceeded), len(summary.Results))
}

func init() {
	workflowCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("batch", "b", "", "batch file (.json, .yaml or .yml); overrides WORKFLOW_CONFIG")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while the batch runs (e.g. :9090)")
}
