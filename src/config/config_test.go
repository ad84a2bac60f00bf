package config

import (
	"testing"
	"time"
)

func envMap(vars map[string]string) func(string) string {
	return func(key string) string { return vars[key] }
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load(envMap(map[string]string{"RELAYCI_WORKDIR": "/src"}))
		if err != nil {
			t.Fatalf("Load() unexpected error: %v", err)
		}

		if cfg.WorkDir != "/src" {
			t.Errorf("WorkDir = %q, want %q", cfg.WorkDir, "/src")
		}
		if cfg.ArtifactDir != DefaultArtifactDir {
			t.Errorf("ArtifactDir = %q, want %q", cfg.ArtifactDir, DefaultArtifactDir)
		}
		if cfg.StepTimeout != DefaultStepTimeout {
			t.Errorf("StepTimeout = %v, want %v", cfg.StepTimeout, DefaultStepTimeout)
		}
		if len(cfg.RedpandaBrokers) != 0 {
			t.Errorf("RedpandaBrokers = %v, want empty", cfg.RedpandaBrokers)
		}
		if cfg.PyPIRepository != DefaultPyPIRepository {
			t.Errorf("PyPIRepository = %q, want default", cfg.PyPIRepository)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		cfg, err := Load(envMap(map[string]string{
			"RELAYCI_WORKDIR":         "/src",
			"RELAYCI_STEP_TIMEOUT":    "90s",
			"RELAYCI_ENV_PASSTHROUGH": "PATH, PYTHONPATH ,",
			"REDPANDA_BROKERS":        "broker1:9092,broker2:9092",
			"POSTGRES_DSN":            "postgres://relayci@localhost/relayci",
			"RELAYCI_DEBUG":           "true",
		}))
		if err != nil {
			t.Fatalf("Load() unexpected error: %v", err)
		}

		if cfg.StepTimeout != 90*time.Second {
			t.Errorf("StepTimeout = %v, want 90s", cfg.StepTimeout)
		}
		if len(cfg.EnvPassthrough) != 2 || cfg.EnvPassthrough[1] != "PYTHONPATH" {
			t.Errorf("EnvPassthrough = %v, want [PATH PYTHONPATH]", cfg.EnvPassthrough)
		}
		if len(cfg.RedpandaBrokers) != 2 {
			t.Errorf("RedpandaBrokers = %v, want 2 entries", cfg.RedpandaBrokers)
		}
		if !cfg.Debug {
			t.Error("Debug = false, want true")
		}
	})

	tests := []struct {
		name string
		vars map[string]string
	}{
		{name: "bad timeout", vars: map[string]string{"RELAYCI_STEP_TIMEOUT": "soon"}},
		{name: "negative timeout", vars: map[string]string{"RELAYCI_STEP_TIMEOUT": "-1s"}},
		{name: "bad debug flag", vars: map[string]string{"RELAYCI_DEBUG": "maybe"}},
		{name: "brokers without postgres", vars: map[string]string{"REDPANDA_BROKERS": "localhost:19092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.vars["RELAYCI_WORKDIR"] = "/src"
			if _, err := Load(envMap(tt.vars)); err == nil {
				t.Error("Load() expected error, got nil")
			}
		})
	}
}
