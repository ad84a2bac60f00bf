package pipeline

import (
	"context"
	"time"

	"relayci/src/broker"
	"relayci/src/contracts"
	"relayci/src/runner"
	"relayci/src/trigger"
	"relayci/src/workflow"
)

// StageOutcome is what happened to one stage of a run.
type StageOutcome struct {
	Name   string             `json:"name"`
	Status contracts.RunState `json:"status"`
	// Reason explains a skipped or failed stage.
	Reason string                 `json:"reason,omitempty"`
	Steps  []contracts.StepResult `json:"steps,omitempty"`
	// Artifact is the name of the artifact this stage stored, if any.
	Artifact string        `json:"artifact,omitempty"`
	Duration time.Duration `json:"duration"`
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID    string                    `json:"run_id"`
	Event    contracts.EventDescriptor `json:"event"`
	Plan     trigger.Plan              `json:"plan"`
	Status   contracts.RunState        `json:"status"`
	Stages   []StageOutcome            `json:"stages"`
	Duration time.Duration             `json:"duration"`

	// Failure is set when a stage stopped at a failing step.
	Failure *runner.StageFailed `json:"-"`
	Err     error               `json:"-"`
}

// Stage returns the outcome of the named stage.
func (r *RunResult) Stage(name string) (StageOutcome, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageOutcome{}, false
}

// Ran reports whether the named stage executed any step.
func (r *RunResult) Ran(name string) bool {
	s, ok := r.Stage(name)
	return ok && (s.Status == contracts.StateSucceeded || s.Status == contracts.StateFailed) && len(s.Steps) > 0
}

// eventPublishTimeout bounds how long a slow event consumer can hold up a run.
const eventPublishTimeout = 5 * time.Second

// recorder persists step results and publishes progress events for one run.
// The runner calls it from the run's goroutine only.
type recorder struct {
	ctx     context.Context
	p       *Pipeline
	runID   string
	byStage map[string][]contracts.StepResult
}

func newRecorder(ctx context.Context, p *Pipeline, runID string) *recorder {
	return &recorder{
		ctx:     context.WithoutCancel(ctx),
		p:       p,
		runID:   runID,
		byStage: make(map[string][]contracts.StepResult),
	}
}

func (r *recorder) StepStarted(stage string, index int, step workflow.Step) {
	r.event(contracts.RunEvent{
		Type:      contracts.EventStepStarted,
		Stage:     stage,
		Step:      step.DisplayName(),
		StepIndex: index,
		Status:    contracts.StateRunning,
	})
}

func (r *recorder) StepFinished(stage string, result contracts.StepResult) {
	result.RunID = r.runID
	r.byStage[stage] = append(r.byStage[stage], result)

	if err := r.p.opts.Store.SaveStepResult(r.ctx, &result); err != nil {
		r.p.log.Warn("[Pipeline] Run %s: failed to save result of %s step %d: %v", r.runID, stage, result.Index, err)
	}
	r.event(contracts.RunEvent{
		Type:      contracts.EventStepFinished,
		Stage:     stage,
		Step:      result.Name,
		StepIndex: result.Index,
		Status:    result.Status,
	})
}

func (r *recorder) steps(stage string) []contracts.StepResult {
	return r.byStage[stage]
}

// event publishes a RunEvent keyed by run id. Broker failures never fail a run.
func (r *recorder) event(ev contracts.RunEvent) {
	if r.p.opts.Broker == nil {
		return
	}
	ev.RunID = r.runID
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

	ctx, cancel := context.WithTimeout(r.ctx, eventPublishTimeout)
	defer cancel()
	if err := broker.PublishJSON(ctx, r.p.opts.Broker, contracts.TopicRunEvents, r.runID, ev); err != nil {
		r.p.log.Warn("[Pipeline] Run %s: failed to publish %s event: %v", r.runID, ev.Type, err)
	}
}
