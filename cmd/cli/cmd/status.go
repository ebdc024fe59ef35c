package cmd

import (
	"fmt"
	"time"

	"boltrunner/internal/github"
	"boltrunner/internal/store"
	"boltrunner/pkg/api"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [owner/repo] [run_id]",
	Short: "Get status of a workflow run",
	Long:  `Retrieve the current state of a GitHub Actions run, including its status (queued, in_progress, completed), conclusion, branch and timestamps.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, repo, runID, err := parseRunRef(args[0], args[1])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		client, err := NewGitHubClient(cfg, newLogger(cfg))
		if err != nil {
			return err
		}

		result, err := client.GetRun(cmd.Context(), owner, repo, runID)
		if err != nil {
			cmd.Printf("Failed to get run: %v\n", err)
			return err
		}

		printStatus(cmd, result)
		return nil
	},
}

func printStatus(cmd *cobra.Command, result github.RunResult) {
	run := result.Run
	state := runState(result)

	cmd.Printf("%s %sWorkflow Run%s\n", statusIcon(state), colorBold, colorReset)
	cmd.Println("──────────────────────────────")

	cmd.Printf("%sID:%s          %d\n", colorDim, colorReset, run.ID)
	if run.Name != "" {
		cmd.Printf("%sWorkflow:%s    %s\n", colorDim, colorReset, run.Name)
	}
	cmd.Printf("%sStatus:%s      %s\n", colorDim, colorReset, colorizeStatus(result.Status, state))

	if result.Conclusion != "" {
		cmd.Printf("%sConclusion:%s  %s\n", colorDim, colorReset, colorizeStatus(result.Conclusion, state))
	} else {
		cmd.Printf("%sConclusion:%s  -\n", colorDim, colorReset)
	}

	if run.HeadBranch != "" {
		cmd.Printf("%sBranch:%s      %s\n", colorDim, colorReset, run.HeadBranch)
	}
	if run.RunAttempt > 0 {
		cmd.Printf("%sAttempt:%s     %d\n", colorDim, colorReset, run.RunAttempt)
	}

	created := parseAPITime(run.CreatedAt)
	updated := parseAPITime(run.UpdatedAt)
	cmd.Printf("%sCreated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(created))

	if result.Terminal() && created != nil && updated != nil {
		cmd.Printf("%sFinished:%s    %s %s(%s)%s\n", colorDim, colorReset,
			formatTimeWithRelative(updated),
			colorCyan, formatDuration(updated.Sub(*created)), colorReset)
	} else {
		cmd.Printf("%sUpdated:%s     %s\n", colorDim, colorReset, formatTimeWithRelative(updated))
	}

	if run.HTMLURL != "" {
		cmd.Printf("%sURL:%s         %s\n", colorDim, colorReset, run.HTMLURL)
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// runState collapses status and conclusion into one display state.
func runState(result github.RunResult) string {
	if !result.Terminal() {
		return result.Status
	}
	switch result.Conclusion {
	case "success":
		return "success"
	case "", "neutral", "skipped":
		return "neutral"
	default:
		return "failure"
	}
}

func statusIcon(state string) string {
	switch state {
	case "success":
		return colorGreen + "✓" + colorReset
	case "failure":
		return colorRed + "✗" + colorReset
	case github.StatusInProgress:
		return colorYellow + "⏳" + colorReset
	case github.StatusQueued, "waiting", "requested", "pending":
		return colorCyan + "◯" + colorReset
	default:
		return "•"
	}
}

func colorizeStatus(text, state string) string {
	switch state {
	case "success":
		return colorGreen + text + colorReset
	case "failure":
		return colorRed + text + colorReset
	case github.StatusInProgress:
		return colorYellow + text + colorReset
	case github.StatusQueued, "waiting", "requested", "pending":
		return colorCyan + text + colorReset
	default:
		return text
	}
}

func outcomeIcon(outcome store.Outcome) string {
	switch outcome {
	case store.OutcomeSucceeded:
		return statusIcon("success")
	case store.OutcomeCancelled, store.OutcomePending:
		return statusIcon("")
	default:
		return statusIcon("failure")
	}
}

func colorizeOutcome(outcome store.Outcome) string {
	switch outcome {
	case store.OutcomeSucceeded:
		return colorizeStatus(string(outcome), "success")
	case store.OutcomeCancelled, store.OutcomePending:
		return string(outcome)
	default:
		return colorizeStatus(string(outcome), "failure")
	}
}

func parseAPITime(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(api.CreatedAtLayout, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339, value)
		if err != nil {
			return nil
		}
	}
	return &t
}

func formatTimeWithRelative(t *time.Time) string {
	if t == nil {
		return "-"
	}
	relative := relativeTime(*t)
	return fmt.Sprintf("%s %s(%s ago)%s", t.Format("Mon, 02 Jan 2006 15:04:05 MST"), colorDim, relative, colorReset)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	} else {
		days := int(duration.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func init() {
	workflowCmd.AddCommand(statusCmd)
}
