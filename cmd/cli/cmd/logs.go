package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var logsOutDir string

var logsCmd = &cobra.Command{
	Use:   "logs [owner/repo] [run_id]",
	Short: "Download the log archive of a workflow run",
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

		if err := os.MkdirAll(logsOutDir, 0o755); err != nil {
			return err
		}

		path, err := client.FetchLogs(cmd.Context(), owner, repo, runID, logsOutDir)
		if err != nil {
			cmd.Printf("Error fetching logs: %v\n", err)
			return err
		}

		cmd.Printf("Logs saved to %s\n", path)
		return nil
	},
}

func init() {
	workflowCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVarP(&logsOutDir, "out", "o", ".", "directory to write {repo}_{run_id}.zip into")
}
