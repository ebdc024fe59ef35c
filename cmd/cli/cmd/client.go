package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"boltrunner/internal/config"
	"boltrunner/internal/github"
	"boltrunner/internal/logger"
	"boltrunner/internal/poll"
	"boltrunner/internal/store"
	"boltrunner/internal/store/postgres"

	"github.com/spf13/viper"
)

// loadConfig reads the application config and applies the --token and --api-url overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(viper.GetString("token")); token != "" {
		cfg.GitHubToken = token
	}
	if apiURL := viper.GetString("api_url"); apiURL != "" {
		cfg.GitHubAPIURL = apiURL
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logger.NewWithLevel(os.Stdout, logger.ParseLevel(cfg.LogLevel))
}

// NewGitHubClient builds the GitHub client from the loaded configuration.
func NewGitHubClient(cfg *config.Config, log *slog.Logger) (*github.Client, error) {
	return github.NewClient(github.ClientConfig{
		BaseURL:          cfg.GitHubAPIURL,
		Token:            cfg.GitHubToken,
		StartPolicy:      poll.Policy{Interval: cfg.StartInterval, Timeout: cfg.StartTimeout},
		CompletionPolicy: poll.Policy{Interval: cfg.CompletionInterval, Timeout: cfg.CompletionTimeout},
		SkewTolerance:    cfg.SkewTolerance,
		RateLimit:        cfg.RateLimit,
	}, log)
}

// openLedger connects to the run ledger. Tests replace it.
var openLedger = func(ctx context.Context, databaseURL string) (store.Ledger, func() error, error) {
	s, err := postgres.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

// parseRunRef splits "owner/repo" and a numeric run id.
func parseRunRef(repoArg, runArg string) (owner, repo string, runID int64, err error) {
	parts := strings.Split(repoArg, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("invalid repository %q, expected owner/repo", repoArg)
	}
	runID, err = strconv.ParseInt(runArg, 10, 64)
	if err != nil || runID <= 0 {
		return "", "", 0, fmt.Errorf("invalid run id %q", runArg)
	}
	return parts[0], parts[1], runID, nil
}
