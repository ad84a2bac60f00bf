// Package main provides the MCP server entry point for relayci. It lets MCP
// clients evaluate triggers and, in distributed mode, inspect runs.
package main

import (
	"context"
	"log"

	"relayci/src/config"
	"relayci/src/mcp"
	"relayci/src/pipeline"
	"relayci/src/store"
	"relayci/src/trigger"
	"relayci/src/workflow"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	wf, err := workflow.Load(cfg.WorkflowPath)
	if err != nil {
		log.Fatalf("Failed to load workflow: %v", err)
	}
	evaluator, err := trigger.NewEvaluator(wf)
	if err != nil {
		log.Fatalf("Invalid workflow: %v", err)
	}

	// Run records outlive a process only in Postgres.
	var st store.Store
	if pipeline.DetectMode(cfg) == pipeline.DistributedMode && cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresStore(cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to prepare schema: %v", err)
		}
		st = pg
	}

	// Serve over stdin/stdout (stdio transport)
	if err := mcp.NewServer(evaluator, st).Run(); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
