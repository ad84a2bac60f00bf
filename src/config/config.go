// Package config provides configuration management for relayci.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultArtifactDir    = ".relayci/artifacts"
	DefaultStepTimeout    = 30 * time.Minute
	DefaultListenAddr     = ":8080"
	DefaultPyPIRepository = "https://upload.pypi.org/legacy/"
)

// DefaultEnvPassthrough lists host variables visible to step commands unless overridden.
var DefaultEnvPassthrough = []string{"PATH", "HOME", "LANG", "TMPDIR"}

// Config holds the application configuration.
type Config struct {
	// WorkflowPath points at a workflow YAML file. Empty selects the built-in release workflow.
	WorkflowPath string
	// WorkDir is the source tree the first stage runs in.
	WorkDir string
	// ArtifactDir is where the file relay keeps artifacts in local mode.
	ArtifactDir string
	// StepTimeout bounds every step that does not declare its own timeout.
	StepTimeout time.Duration
	// EnvPassthrough is the allowlist of host environment variables passed to steps.
	EnvPassthrough []string

	// RedpandaBrokers enables distributed mode when non-empty.
	RedpandaBrokers []string
	// PostgresDSN backs the run store and artifact relay in distributed mode.
	PostgresDSN string

	ListenAddr    string
	WebhookSecret string

	// PyPIRepository is the upload endpoint used by the publish stage.
	PyPIRepository string
	// PyPIToken is a static API token, used when trusted publishing is unavailable.
	PyPIToken string

	Debug bool
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// Load builds a Config from the given lookup function.
func Load(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		WorkflowPath:   strings.TrimSpace(getenv("RELAYCI_WORKFLOW")),
		WorkDir:        strings.TrimSpace(getenv("RELAYCI_WORKDIR")),
		ArtifactDir:    strings.TrimSpace(getenv("RELAYCI_ARTIFACT_DIR")),
		StepTimeout:    DefaultStepTimeout,
		EnvPassthrough: DefaultEnvPassthrough,
		PostgresDSN:    strings.TrimSpace(getenv("POSTGRES_DSN")),
		ListenAddr:     strings.TrimSpace(getenv("RELAYCI_LISTEN_ADDR")),
		WebhookSecret:  getenv("RELAYCI_WEBHOOK_SECRET"),
		PyPIRepository: strings.TrimSpace(getenv("PYPI_REPOSITORY_URL")),
		PyPIToken:      strings.TrimSpace(getenv("PYPI_API_TOKEN")),
	}

	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.WorkDir = wd
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = DefaultArtifactDir
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.PyPIRepository == "" {
		cfg.PyPIRepository = DefaultPyPIRepository
	}

	if raw := strings.TrimSpace(getenv("RELAYCI_STEP_TIMEOUT")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("RELAYCI_STEP_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("RELAYCI_STEP_TIMEOUT must be positive, got %s", raw)
		}
		cfg.StepTimeout = d
	}

	if raw := getenv("RELAYCI_ENV_PASSTHROUGH"); strings.TrimSpace(raw) != "" {
		cfg.EnvPassthrough = splitList(raw)
	}
	cfg.RedpandaBrokers = splitList(getenv("REDPANDA_BROKERS"))

	if raw := strings.TrimSpace(getenv("RELAYCI_DEBUG")); raw != "" {
		debug, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("RELAYCI_DEBUG: %w", err)
		}
		cfg.Debug = debug
	}

	if len(cfg.RedpandaBrokers) > 0 && cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN environment variable is required when REDPANDA_BROKERS is set")
	}

	return cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics on error.
// This is useful for initialization in main() where configuration errors should be fatal.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
