// Package contracts defines the message and record types shared by relayci components.
package contracts

import "time"

// RunState is the lifecycle state of a run or stage.
type RunState string

const (
	StatePending   RunState = "pending"
	StateRunning   RunState = "running"
	StateSucceeded RunState = "succeeded"
	StateFailed    RunState = "failed"
	StateSkipped   RunState = "skipped"
)

// Terminal reports whether no further transitions are expected.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateSkipped
}

// RunRequest asks an agent to execute a pipeline run.
// Published to: relayci.runs.requests
// Key: {run_id}
type RunRequest struct {
	RunID     string          `json:"run_id"`
	Event     EventDescriptor `json:"event"`
	Timestamp string          `json:"timestamp"`
}

// RunStatus is the persisted record of a single pipeline run.
type RunStatus struct {
	RunID       string          `json:"run_id"`
	Event       EventDescriptor `json:"event"`
	Status      RunState        `json:"status"`
	FailedStage string          `json:"failed_stage,omitempty"`
	FailedStep  int             `json:"failed_step"` // -1 when no step failed
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StepResult records the outcome of one executed (or skipped) step.
type StepResult struct {
	RunID    string        `json:"run_id"`
	Stage    string        `json:"stage"`
	Index    int           `json:"index"`
	Name     string        `json:"name"`
	Status   RunState      `json:"status"`
	ExitCode int           `json:"exit_code"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunEventType names the kind of progress notification carried by a RunEvent.
type RunEventType string

const (
	EventRunStarted     RunEventType = "run_started"
	EventStageStarted   RunEventType = "stage_started"
	EventStageSkipped   RunEventType = "stage_skipped"
	EventStageFinished  RunEventType = "stage_finished"
	EventStepStarted    RunEventType = "step_started"
	EventStepFinished   RunEventType = "step_finished"
	EventArtifactStored RunEventType = "artifact_stored"
	EventRunFinished    RunEventType = "run_finished"
)

// RunEvent is a progress notification for a run.
// Published to: relayci.runs.events
// Key: {run_id}
type RunEvent struct {
	RunID     string       `json:"run_id"`
	Type      RunEventType `json:"type"`
	Stage     string       `json:"stage,omitempty"`
	Step      string       `json:"step,omitempty"`
	StepIndex int          `json:"step_index,omitempty"`
	Status    RunState     `json:"status,omitempty"`
	Message   string       `json:"message,omitempty"`
	Timestamp string       `json:"timestamp"`
}

// Topic names used on the message broker.
const (
	// TopicRunRequests carries RunRequest messages consumed by agents.
	TopicRunRequests = "relayci.runs.requests"

	// TopicRunEvents carries RunEvent progress notifications.
	TopicRunEvents = "relayci.runs.events"
)
