package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "boltctl",
	Short: "boltctl dispatches GitHub Actions workflows and collects their logs",
	Long: `boltctl is the command-line interface for boltrunner.

boltrunner dispatches GitHub Actions workflows, binds each dispatch to the run
it produced, waits for the run to finish and downloads its logs. Every run is
bracketed by a measurement session that records execution time, CPU usage and,
on Linux, RAPL energy counters.

Common workflows:

  Run a batch from the WORKFLOW_CONFIG environment variable:
    WORKFLOW_CONFIG='[{"owner":"me","repo":"app","workflow":"ci.yml"}]' boltctl workflow run

  Run a batch from a file:
    boltctl workflow run --batch runs.yaml

  Check a run:
    boltctl workflow status me/app 123456789

  Download a run's logs:
    boltctl workflow logs me/app 123456789 --out ./logs

  List recent attempts (requires DATABASE_URL):
    boltctl workflow history --limit 20

Configuration:
  Settings come from the environment, a .env file in the working directory,
  or the file given with --config:
    GITHUB_TOKEN       Token used as a Bearer credential
    GITHUB_API_URL     API endpoint (default: https://api.github.com)
    WORKFLOW_CONFIG    JSON array of run requests
    BOLT_LOG_DIR       Root of the artifact directories (default: logs)`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	// Flags may also come from BOLT_TOKEN / BOLT_API_URL.
	viper.SetEnvPrefix("BOLT")
	viper.AutomaticEnv()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, YAML or dotenv (default is ./.env when present)")

	rootCmd.PersistentFlags().String("api-url", "", "GitHub API URL (overrides GITHUB_API_URL)")
	viper.BindPFlag("api_url", rootCmd.PersistentFlags().Lookup("api-url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "GitHub token (overrides GITHUB_TOKEN)")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
