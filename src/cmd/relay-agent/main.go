// Package main provides the standalone relay agent binary. It runs queued
// pipeline runs in distributed mode.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"relayci/src/config"
	"relayci/src/logger"
	"relayci/src/pipeline"
	"relayci/src/workflow"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	if pipeline.DetectMode(cfg) != pipeline.DistributedMode {
		fmt.Fprintln(os.Stderr, "ERROR: REDPANDA_BROKERS environment variable is required for relay agent")
		fmt.Fprintln(os.Stderr, "Example: export REDPANDA_BROKERS=localhost:19092")
		os.Exit(1)
	}
	if cfg.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "ERROR: POSTGRES_DSN environment variable is required for relay agent")
		os.Exit(1)
	}

	log := logger.NewConsoleLogger().SetDebug(cfg.Debug)

	log.Info("Starting relayci Relay Agent")
	log.Info("Redpanda brokers: %v", cfg.RedpandaBrokers)

	wf, err := workflow.Load(cfg.WorkflowPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workflow: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backends, err := pipeline.OpenBackends(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect backends: %v\n", err)
		os.Exit(1)
	}
	defer backends.Close()

	p, err := pipeline.NewFromConfig(cfg, wf, backends, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create pipeline: %v\n", err)
		os.Exit(1)
	}

	agent := pipeline.NewAgent(backends.Broker, p, log)

	log.Info("Relay agent started, workflow %q, waiting for run requests...", wf.Name)
	if err := agent.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Agent error: %v\n", err)
		os.Exit(1)
	}

	log.Info("Relay agent stopped")
}
