package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"boltrunner/internal/store"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent run attempts from the ledger",
	Long:  `Show the most recent dispatch attempts recorded in the PostgreSQL ledger, newest first. Requires DATABASE_URL.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("database_url is required (env: DATABASE_URL)")
		}

		limit, _ := cmd.Flags().GetInt("limit")
		names, _ := cmd.Flags().GetStringSlice("outcome")
		outcomes := make([]store.Outcome, len(names))
		for i, n := range names {
			outcomes[i] = store.Outcome(n)
		}

		ledger, closeLedger, err := openLedger(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer closeLedger()

		attempts, err := ledger.ListAttempts(cmd.Context(), limit, outcomes...)
		if err != nil {
			cmd.Printf("Error fetching history: %s\n", err)
			return err
		}

		if len(attempts) == 0 {
			cmd.Println("No attempts recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "ATTEMPT ID\tREPOSITORY\tWORKFLOW\tRUN ID\tOUTCOME\tCONCLUSION\tTRIGGERED AT\tERROR")
		for _, a := range attempts {
			runID := "-"
			if a.RunID != nil {
				runID = strconv.FormatInt(*a.RunID, 10)
			}
			errMsg := a.Error
			// Truncate long error messages for the table view
			if len(errMsg) > 50 {
				errMsg = errMsg[:47] + "..."
			}

			fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				a.ID,
				a.Owner, a.Repo,
				a.Workflow,
				runID,
				a.Outcome,
				a.Conclusion,
				a.TriggeredAt.Format(time.RFC3339),
				errMsg,
			)
		}
		w.Flush()
		return nil
	},
}

func init() {
	workflowCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntP("limit", "l", 20, "number of attempts to show")
	historyCmd.Flags().StringSlice("outcome", nil, "only show these outcomes (e.g. start_timeout,completion_timeout)")
}
