// Package config loads boltrunner settings from an optional file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Keys, matching the environment variable names.
const (
	KeyGitHubToken         = "GITHUB_TOKEN"
	KeyGitHubAPIURL        = "GITHUB_API_URL"
	KeyWorkflowConfig      = "WORKFLOW_CONFIG"
	KeyLogDir              = "BOLT_LOG_DIR"
	KeyStartInterval       = "BOLT_START_INTERVAL"
	KeyStartTimeout        = "BOLT_START_TIMEOUT"
	KeyCompletionInterval  = "BOLT_COMPLETION_INTERVAL"
	KeyCompletionTimeout   = "BOLT_COMPLETION_TIMEOUT"
	KeySkewTolerance       = "BOLT_SKEW_TOLERANCE"
	KeyRateLimit           = "BOLT_RATE_LIMIT"
	KeyMeasurementInterval = "BOLT_MEASUREMENT_INTERVAL"
	KeyLogLevel            = "BOLT_LOG_LEVEL"
	KeyDatabaseURL         = "DATABASE_URL"
	KeyOTELEndpoint        = "OTEL_EXPORTER_OTLP_ENDPOINT"
	KeyArtifactEndpoint    = "ARTIFACT_S3_ENDPOINT"
	KeyArtifactAccessKey   = "ARTIFACT_S3_ACCESS_KEY"
	KeyArtifactSecretKey   = "ARTIFACT_S3_SECRET_KEY"
	KeyArtifactBucket      = "ARTIFACT_S3_BUCKET"
	KeyArtifactRegion      = "ARTIFACT_S3_REGION"
	KeyArtifactUseSSL      = "ARTIFACT_S3_USE_SSL"
)

// DefaultEnvFile is read when no config file is given and it exists in the working directory.
const DefaultEnvFile = ".env"

// Config holds all configuration values for boltrunner.
type Config struct {
	GitHubToken  string
	GitHubAPIURL string

	// WorkflowConfig is the inline JSON batch.
	WorkflowConfig string

	// LogDir is the root under which batch directories are created.
	LogDir string

	StartInterval      time.Duration
	StartTimeout       time.Duration
	CompletionInterval time.Duration
	CompletionTimeout  time.Duration
	SkewTolerance      time.Duration

	// RateLimit is the GitHub request budget in requests per second.
	RateLimit float64

	MeasurementInterval time.Duration
	LogLevel            string

	// DatabaseURL enables the PostgreSQL run ledger when set.
	DatabaseURL string

	OTELEndpoint string

	Artifacts ArtifactConfig
}

// ArtifactConfig enables artifact publication when Endpoint is set.
type ArtifactConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyGitHubToken, "")
	v.SetDefault(KeyGitHubAPIURL, "https://api.github.com")
	v.SetDefault(KeyWorkflowConfig, "")
	v.SetDefault(KeyLogDir, "logs")
	v.SetDefault(KeyStartInterval, "5s")
	v.SetDefault(KeyStartTimeout, "2m")
	v.SetDefault(KeyCompletionInterval, "10s")
	v.SetDefault(KeyCompletionTimeout, "20m")
	v.SetDefault(KeySkewTolerance, "10s")
	v.SetDefault(KeyRateLimit, "5")
	v.SetDefault(KeyMeasurementInterval, "1s")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyDatabaseURL, "")
	v.SetDefault(KeyOTELEndpoint, "")
	v.SetDefault(KeyArtifactEndpoint, "")
	v.SetDefault(KeyArtifactAccessKey, "")
	v.SetDefault(KeyArtifactSecretKey, "")
	v.SetDefault(KeyArtifactBucket, "boltrunner-artifacts")
	v.SetDefault(KeyArtifactRegion, "")
	v.SetDefault(KeyArtifactUseSSL, "false")
}

// Load reads configuration from path (YAML or dotenv) and the environment.
// Environment variables take precedence over the file. An empty path falls
// back to ./.env when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path == "" {
		if _, err := os.Stat(DefaultEnvFile); err == nil {
			path = DefaultEnvFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if isDotEnv(path) {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	p := parser{v: v}
	cfg := &Config{
		GitHubToken:         strings.TrimSpace(v.GetString(KeyGitHubToken)),
		GitHubAPIURL:        v.GetString(KeyGitHubAPIURL),
		WorkflowConfig:      v.GetString(KeyWorkflowConfig),
		LogDir:              v.GetString(KeyLogDir),
		StartInterval:       p.duration(KeyStartInterval),
		StartTimeout:        p.duration(KeyStartTimeout),
		CompletionInterval:  p.duration(KeyCompletionInterval),
		CompletionTimeout:   p.duration(KeyCompletionTimeout),
		SkewTolerance:       p.duration(KeySkewTolerance),
		RateLimit:           p.float(KeyRateLimit),
		MeasurementInterval: p.duration(KeyMeasurementInterval),
		LogLevel:            strings.ToLower(v.GetString(KeyLogLevel)),
		DatabaseURL:         v.GetString(KeyDatabaseURL),
		OTELEndpoint:        v.GetString(KeyOTELEndpoint),
		Artifacts: ArtifactConfig{
			Endpoint:  v.GetString(KeyArtifactEndpoint),
			AccessKey: v.GetString(KeyArtifactAccessKey),
			SecretKey: v.GetString(KeyArtifactSecretKey),
			Bucket:    v.GetString(KeyArtifactBucket),
			Region:    v.GetString(KeyArtifactRegion),
			UseSSL:    p.bool(KeyArtifactUseSSL),
		},
	}
	if p.err != nil {
		return nil, p.err
	}

	if cfg.LogDir == "" {
		return nil, errors.New("log directory must not be empty (env: BOLT_LOG_DIR)")
	}
	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("invalid %s: must be positive", KeyRateLimit)
	}

	return cfg, nil
}

func isDotEnv(path string) bool {
	base := filepath.Base(path)
	return base == ".env" || filepath.Ext(base) == ".env"
}

// parser remembers the first invalid value so Load can report it by key.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) duration(key string) time.Duration {
	raw := strings.TrimSpace(p.v.GetString(key))
	d, err := time.ParseDuration(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	if err == nil && d <= 0 && p.err == nil {
		p.err = fmt.Errorf("invalid %s: must be positive", key)
	}
	return d
}

func (p *parser) float(key string) float64 {
	raw := strings.TrimSpace(p.v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return f
}

func (p *parser) bool(key string) bool {
	raw := strings.TrimSpace(p.v.GetString(key))
	b, err := strconv.ParseBool(raw)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return b
}
