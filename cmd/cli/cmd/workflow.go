package cmd

import "github.com/spf13/cobra"

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Dispatch and inspect GitHub Actions workflow runs",
}

func init() {
	rootCmd.AddCommand(workflowCmd)
}
