package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func resetViper() {
	viper.Reset()
	viper.SetEnvPrefix("BOLT")
	viper.AutomaticEnv()
}

// clearAppEnv isolates a test from the developer's environment.
func clearAppEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GITHUB_TOKEN", "GITHUB_API_URL", "WORKFLOW_CONFIG", "BOLT_LOG_DIR",
		"DATABASE_URL", "OTEL_EXPORTER_OTLP_ENDPOINT", "ARTIFACT_S3_ENDPOINT",
		"BOLT_TOKEN", "BOLT_API_URL",
	} {
		t.Setenv(key, "")
	}
	cfgFile = ""
}

func TestRootCommand_EnvVarBinding(t *testing.T) {
	resetViper()
	clearAppEnv(t)

	t.Setenv("BOLT_TOKEN", "env-token-value")
	t.Setenv("BOLT_API_URL", "http://custom-url:8080")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.GitHubToken != "env-token-value" {
		t.Errorf("expected token from BOLT_TOKEN, got: %s", cfg.GitHubToken)
	}
	if cfg.GitHubAPIURL != "http://custom-url:8080" {
		t.Errorf("expected api url from BOLT_API_URL, got: %s", cfg.GitHubAPIURL)
	}
}

func TestRootCommand_FlagOverridesGitHubToken(t *testing.T) {
	resetViper()
	clearAppEnv(t)

	t.Setenv("GITHUB_TOKEN", "from-env")
	viper.Set("token", "from-flag")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.GitHubToken != "from-flag" {
		t.Errorf("expected flag to win, got: %s", cfg.GitHubToken)
	}
}

func TestRootCommand_ExecuteReturnsNoError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"--help"})

	if err := rootCmd.Execute(); err != nil {
		t.Errorf("root command should execute without error: %v", err)
	}
}

func TestRootCommand_HasWorkflowSubcommands(t *testing.T) {
	want := map[string]bool{"run": false, "status": false, "logs": false, "history": false}
	for _, c := range workflowCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected 'workflow %s' to be registered", name)
		}
	}
}

func TestExecute_ReturnsError(t *testing.T) {
	resetViper()

	rootCmd.SetArgs([]string{"unknown-command-xyz"})

	if err := Execute(); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRootCommand_CustomConfigFile(t *testing.T) {
	resetViper()
	clearAppEnv(t)

	path := filepath.Join(t.TempDir(), "boltctl.yaml")
	if err := os.WriteFile(path, []byte("github_api_url: http://custom-from-config:9999\ngithub_token: config-token\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfgFile = path
	defer func() { cfgFile = "" }()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.GitHubAPIURL != "http://custom-from-config:9999" {
		t.Errorf("expected api url from config file, got: %s", cfg.GitHubAPIURL)
	}
	if cfg.GitHubToken != "config-token" {
		t.Errorf("expected token from config file, got: %s", cfg.GitHubToken)
	}
}

func TestParseRunRef(t *testing.T) {
	tests := []struct {
		repo, run string
		wantErr   bool
	}{
		{"a/b", "42", false},
		{"a", "42", true},
		{"a/b/c", "42", true},
		{"/b", "42", true},
		{"a/b", "abc", true},
		{"a/b", "-1", true},
	}
	for _, tt := range tests {
		owner, repo, runID, err := parseRunRef(tt.repo, tt.run)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseRunRef(%q, %q) error = %v, wantErr %v", tt.repo, tt.run, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && (owner != "a" || repo != "b" || runID != 42) {
			t.Errorf("parseRunRef(%q, %q) = %s, %s, %d", tt.repo, tt.run, owner, repo, runID)
		}
	}
}
