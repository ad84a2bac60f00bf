package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"relayci/src/contracts"
	"relayci/src/store"
	"relayci/src/trigger"
)

// Version is reported to MCP clients during initialization.
const Version = "1.0.0"

// Server is the MCP server for relayci.
type Server struct {
	mcpServer *server.MCPServer
	evaluator *trigger.Evaluator
	store     store.Store
}

// NewServer creates a new MCP server. st may be nil, in which case only
// evaluate_trigger is registered.
func NewServer(evaluator *trigger.Evaluator, st store.Store) *Server {
	s := server.NewMCPServer(
		"relayci",
		Version,
		server.WithToolCapabilities(true),
	)

	srv := &Server{
		mcpServer: s,
		evaluator: evaluator,
		store:     st,
	}
	srv.registerTools()

	return srv
}

func (s *Server) registerTools() {
	evaluateTool := mcp.NewTool("evaluate_trigger",
		mcp.WithDescription("Evaluate a repository event against the workflow and report which stages would run and why the others are skipped. Nothing is executed."),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Event kind: release, pull_request or push"),
			mcp.Enum(string(contracts.KindRelease), string(contracts.KindPullRequest), string(contracts.KindPush)),
		),
		mcp.WithString("ref",
			mcp.Required(),
			mcp.Description("Git ref, e.g. refs/tags/v1.2.0 or refs/heads/main"),
		),
		mcp.WithString("action",
			mcp.Description("Event action, e.g. published for releases"),
		),
	)
	s.mcpServer.AddTool(evaluateTool, s.handleEvaluateTrigger)

	if s.store == nil {
		return
	}

	statusTool := mcp.NewTool("get_run_status",
		mcp.WithDescription("Get the status of a pipeline run with its steps. Failed steps include the tail of their output."),
		mcp.WithString("run_id",
			mcp.Required(),
			mcp.Description("Run ID"),
		),
		mcp.WithNumber("output_lines",
			mcp.Description("Lines of failed step output to include (default: 40)"),
		),
	)

	listTool := mcp.NewTool("list_runs",
		mcp.WithDescription("List the most recent pipeline runs, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Max runs to return (default: 10)"),
		),
	)

	s.mcpServer.AddTool(statusTool, s.handleGetRunStatus)
	s.mcpServer.AddTool(listTool, s.handleListRuns)
}

// Run starts the MCP server on stdio.
func (s *Server) Run() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) handleEvaluateTrigger(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := contracts.ParseEventKind(request.GetString("kind", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ev := contracts.EventDescriptor{
		Kind:   kind,
		Ref:    request.GetString("ref", ""),
		Action: request.GetString("action", ""),
	}
	plan, err := s.evaluator.Evaluate(ev)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	skipped := plan.Skipped
	if skipped == nil {
		skipped = []string{}
	}
	return jsonResult(PlanResponse{
		Event:    ev.String(),
		Accepted: plan.Accepted,
		Eligible: plan.EligibleNames(),
		Skipped:  skipped,
		Reasons:  plan.Reasons,
	})
}

func (s *Server) handleGetRunStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID := request.GetString("run_id", "")
	if runID == "" {
		return mcp.NewToolResultError("run_id parameter is required"), nil
	}
	outputLines := request.GetInt("output_lines", defaultOutputLines)

	run, err := s.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", runID)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load run: %v", err)), nil
	}

	steps, err := s.store.GetStepResults(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load steps: %v", err)), nil
	}

	resp := RunResponse{
		RunID:       run.RunID,
		Event:       run.Event.String(),
		Status:      run.Status,
		FailedStage: run.FailedStage,
		Error:       run.Error,
		CreatedAt:   run.CreatedAt.UTC().Format(time.RFC3339),
		Steps:       make([]StepSummary, 0, len(steps)),
	}
	if run.CompletedAt != nil {
		resp.CompletedAt = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	for _, step := range steps {
		summary := StepSummary{
			Stage:    step.Stage,
			Index:    step.Index,
			Name:     step.Name,
			Status:   step.Status,
			ExitCode: step.ExitCode,
			Duration: step.Duration.Round(time.Millisecond).String(),
		}
		if step.Status == contracts.StateFailed {
			summary.Output = compactOutput(step.Output, outputLines)
		}
		resp.Steps = append(resp.Steps, summary)
	}

	return jsonResult(resp)
}

func (s *Server) handleListRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	if limit < 1 {
		return mcp.NewToolResultError("limit must be positive"), nil
	}

	runs, err := s.store.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list runs: %v", err)), nil
	}

	entries := make([]RunListEntry, 0, len(runs))
	for _, run := range runs {
		entries = append(entries, RunListEntry{
			RunID:     run.RunID,
			Event:     run.Event.String(),
			Status:    run.Status,
			CreatedAt: run.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return jsonResult(entries)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal response: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
