// Package mcp exposes trigger evaluation and run status to LLM clients over
// the Model Context Protocol.
package mcp

import "relayci/src/contracts"

// PlanResponse is the evaluate_trigger result.
type PlanResponse struct {
	Event    string            `json:"event"`
	Accepted bool              `json:"accepted"`
	Eligible []string          `json:"eligible"`
	Skipped  []string          `json:"skipped"`
	Reasons  map[string]string `json:"reasons,omitempty"`
}

// RunResponse is the get_run_status result.
type RunResponse struct {
	RunID       string             `json:"run_id"`
	Event       string             `json:"event"`
	Status      contracts.RunState `json:"status"`
	FailedStage string             `json:"failed_stage,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   string             `json:"created_at"`
	CompletedAt string             `json:"completed_at,omitempty"`
	Steps       []StepSummary      `json:"steps"`
}

// StepSummary is one step of a run. Output is only included for failed steps.
type StepSummary struct {
	Stage    string             `json:"stage"`
	Index    int                `json:"index"`
	Name     string             `json:"name"`
	Status   contracts.RunState `json:"status"`
	ExitCode int                `json:"exit_code"`
	Duration string             `json:"duration"`
	Output   string             `json:"output,omitempty"`
}

// RunListEntry is one row of the list_runs result.
type RunListEntry struct {
	RunID     string             `json:"run_id"`
	Event     string             `json:"event"`
	Status    contracts.RunState `json:"status"`
	CreatedAt string             `json:"created_at"`
}
