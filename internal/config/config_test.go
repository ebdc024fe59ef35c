package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		KeyGitHubToken, KeyGitHubAPIURL, KeyWorkflowConfig, KeyLogDir,
		KeyStartInterval, KeyStartTimeout, KeyCompletionInterval, KeyCompletionTimeout,
		KeySkewTolerance, KeyRateLimit, KeyMeasurementInterval, KeyLogLevel,
		KeyDatabaseURL, KeyOTELEndpoint, KeyArtifactEndpoint, KeyArtifactUseSSL,
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GitHubAPIURL != "https://api.github.com" {
		t.Errorf("expected default API URL, got %s", cfg.GitHubAPIURL)
	}
	if cfg.LogDir != "logs" {
		t.Errorf("expected LogDir logs, got %s", cfg.LogDir)
	}
	if cfg.StartInterval != 5*time.Second || cfg.StartTimeout != 2*time.Minute {
		t.Errorf("unexpected start policy %v/%v", cfg.StartInterval, cfg.StartTimeout)
	}
	if cfg.CompletionInterval != 10*time.Second || cfg.CompletionTimeout != 20*time.Minute {
		t.Errorf("unexpected completion policy %v/%v", cfg.CompletionInterval, cfg.CompletionTimeout)
	}
	if cfg.SkewTolerance != 10*time.Second {
		t.Errorf("expected SkewTolerance 10s, got %v", cfg.SkewTolerance)
	}
	if cfg.RateLimit != 5 {
		t.Errorf("expected RateLimit 5, got %v", cfg.RateLimit)
	}
	if cfg.MeasurementInterval != time.Second {
		t.Errorf("expected MeasurementInterval 1s, got %v", cfg.MeasurementInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel info, got %s", cfg.LogLevel)
	}
	if cfg.GitHubToken != "" || cfg.DatabaseURL != "" || cfg.Artifacts.Endpoint != "" {
		t.Errorf("expected optional settings to be empty, got %+v", cfg)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyGitHubToken, " ghp_secret ")
	t.Setenv(KeyWorkflowConfig, `[{"owner":"a","repo":"b","workflow":"ci.yml"}]`)
	t.Setenv(KeyStartTimeout, "30s")
	t.Setenv(KeyRateLimit, "2.5")
	t.Setenv(KeyLogLevel, "DEBUG")
	t.Setenv(KeyDatabaseURL, "postgres://custom/db")
	t.Setenv(KeyOTELEndpoint, "otel-collector:4317")
	t.Setenv(KeyArtifactEndpoint, "minio:9000")
	t.Setenv(KeyArtifactUseSSL, "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GitHubToken != "ghp_secret" {
		t.Errorf("expected trimmed token, got %q", cfg.GitHubToken)
	}
	if !strings.Contains(cfg.WorkflowConfig, `"workflow":"ci.yml"`) {
		t.Errorf("unexpected WorkflowConfig %s", cfg.WorkflowConfig)
	}
	if cfg.StartTimeout != 30*time.Second {
		t.Errorf("expected StartTimeout 30s, got %v", cfg.StartTimeout)
	}
	if cfg.RateLimit != 2.5 {
		t.Errorf("expected RateLimit 2.5, got %v", cfg.RateLimit)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel debug, got %s", cfg.LogLevel)
	}
	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint from env, got %s", cfg.OTELEndpoint)
	}
	if cfg.Artifacts.Endpoint != "minio:9000" || !cfg.Artifacts.UseSSL {
		t.Errorf("unexpected artifact config %+v", cfg.Artifacts)
	}
}

func TestLoad_InvalidDurationNamesKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyCompletionInterval, "ten seconds")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), KeyCompletionInterval) {
		t.Errorf("expected error to name %s, got %v", KeyCompletionInterval, err)
	}
}

func TestLoad_InvalidRateLimit(t *testing.T) {
	clearEnv(t)
	t.Setenv(KeyRateLimit, "0")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), KeyRateLimit) {
		t.Errorf("expected error naming %s, got %v", KeyRateLimit, err)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "boltrunner.yaml")
	content := `
github_token: "from-file"
bolt_log_dir: "/var/boltrunner"
bolt_start_interval: "1s"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GitHubToken != "from-file" {
		t.Errorf("expected token from config file, got %s", cfg.GitHubToken)
	}
	if cfg.LogDir != "/var/boltrunner" {
		t.Errorf("expected LogDir from config file, got %s", cfg.LogDir)
	}
	if cfg.StartInterval != time.Second {
		t.Errorf("expected StartInterval 1s, got %v", cfg.StartInterval)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	content := "GITHUB_TOKEN=dotenv-token\nBOLT_SKEW_TOLERANCE=20s\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.GitHubToken != "dotenv-token" {
		t.Errorf("expected token from .env, got %s", cfg.GitHubToken)
	}
	if cfg.SkewTolerance != 20*time.Second {
		t.Errorf("expected SkewTolerance 20s, got %v", cfg.SkewTolerance)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "boltrunner.yaml")
	if err := os.WriteFile(path, []byte(`github_token: "from-file"`), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv(KeyGitHubToken, "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHubToken != "from-env" {
		t.Errorf("expected env to override file, got %s", cfg.GitHubToken)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	clearEnv(t)

	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("expected error for nonexistent config file")
	}
}
