// Package pipeline runs a workflow for one triggering event: it gates on the
// trigger, runs the eligible stages in order, and hands artifacts from one
// stage to the next through the relay.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"relayci/src/broker"
	"relayci/src/contracts"
	"relayci/src/credentials"
	"relayci/src/logger"
	"relayci/src/publish"
	"relayci/src/relay"
	"relayci/src/runner"
	"relayci/src/store"
	"relayci/src/trigger"
	"relayci/src/workflow"
)

// CredentialResolver returns the provider for a stage's declared credential set.
type CredentialResolver func(name string) (credentials.Provider, error)

// Options configures a Pipeline. Workflow, Relay and Store are required.
type Options struct {
	Workflow *workflow.Workflow
	Relay    relay.Relay
	Store    store.Store
	// Broker receives RunEvents. Nil disables progress events.
	Broker      broker.Broker
	Executor    *runner.Executor
	Credentials CredentialResolver
	Logger      logger.Logger

	// SourceDir is the working directory of stages that consume no artifact.
	SourceDir string
	// ScratchDir holds the fresh working directories of consuming stages. Defaults to os.TempDir().
	ScratchDir  string
	StepTimeout time.Duration
	// Env is visible to every step.
	Env map[string]string
}

// Pipeline executes runs. Each call to Run is independent; a Pipeline may
// serve many runs but executes each one on the calling goroutine.
type Pipeline struct {
	opts      Options
	evaluator *trigger.Evaluator
	order     []workflow.Stage
	log       logger.Logger
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	evaluator, err := trigger.NewEvaluator(opts.Workflow)
	if err != nil {
		return nil, err
	}
	if opts.Relay == nil {
		return nil, errors.New("pipeline: relay is required")
	}
	if opts.Store == nil {
		return nil, errors.New("pipeline: store is required")
	}
	if opts.Executor == nil {
		opts.Executor = runner.NewExecutor(nil)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewSilentLogger()
	}
	if opts.SourceDir == "" {
		opts.SourceDir = "."
	}
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}

	order, err := opts.Workflow.Order()
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		opts:      opts,
		evaluator: evaluator,
		order:     order,
		log:       opts.Logger,
	}, nil
}

// Evaluator exposes the trigger evaluator the pipeline gates on.
func (p *Pipeline) Evaluator() *trigger.Evaluator {
	return p.evaluator
}

// Store exposes the run record store.
func (p *Pipeline) Store() store.Store {
	return p.opts.Store
}

// Relay exposes the artifact relay.
func (p *Pipeline) Relay() relay.Relay {
	return p.opts.Relay
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// NewRunRequest builds a request for ev with a fresh run id.
func NewRunRequest(ev contracts.EventDescriptor) contracts.RunRequest {
	return contracts.RunRequest{
		RunID:     NewRunID(),
		Event:     ev,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Run executes one run to completion. A malformed event aborts before any
// record is created. A stage failure stops the run: no later stage runs, and
// the returned result describes what happened alongside the error.
func (p *Pipeline) Run(ctx context.Context, req contracts.RunRequest) (*RunResult, error) {
	if req.RunID == "" {
		req.RunID = NewRunID()
	}

	plan, err := p.evaluator.Evaluate(req.Event)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rec := newRecorder(ctx, p, req.RunID)
	result := &RunResult{RunID: req.RunID, Event: req.Event, Plan: plan, Status: contracts.StateRunning}

	status := &contracts.RunStatus{
		RunID:      req.RunID,
		Event:      req.Event,
		Status:     contracts.StateRunning,
		FailedStep: -1,
		CreatedAt:  start.UTC(),
	}
	if err := p.opts.Store.CreateRun(ctx, status); err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}
	// A queued run already has a pending record.
	if err := p.opts.Store.UpdateRun(ctx, status); err != nil {
		return nil, fmt.Errorf("update run record: %w", err)
	}
	p.log.Info("[Pipeline] Run %s started for %s (eligible: %v)", req.RunID, req.Event, plan.EligibleNames())
	rec.event(contracts.RunEvent{Type: contracts.EventRunStarted, Status: contracts.StateRunning, Message: req.Event.String()})

	var runErr error
	for _, stage := range p.order {
		if runErr != nil {
			result.Stages = append(result.Stages, StageOutcome{
				Name:   stage.Name,
				Status: contracts.StateSkipped,
				Reason: fmt.Sprintf("not run: stage %s failed", status.FailedStage),
			})
			continue
		}

		if !plan.Has(stage.Name) {
			reason := plan.Reasons[stage.Name]
			p.log.Info("[Pipeline] Run %s: skipping stage %s: %s", req.RunID, stage.Name, reason)
			result.Stages = append(result.Stages, StageOutcome{Name: stage.Name, Status: contracts.StateSkipped, Reason: reason})
			rec.event(contracts.RunEvent{Type: contracts.EventStageSkipped, Stage: stage.Name, Status: contracts.StateSkipped, Message: reason})
			continue
		}

		outcome, err := p.runStage(ctx, req, stage, rec)
		result.Stages = append(result.Stages, outcome)
		if err != nil {
			runErr = err
			status.FailedStage = stage.Name
			var failed *runner.StageFailed
			if errors.As(err, &failed) {
				status.FailedStep = failed.StepIndex
				result.Failure = failed
			}
		}
	}

	result.Duration = time.Since(start)
	result.Err = runErr
	switch {
	case runErr != nil:
		result.Status = contracts.StateFailed
		status.Error = runErr.Error()
	case plan.Empty():
		result.Status = contracts.StateSkipped
	default:
		result.Status = contracts.StateSucceeded
	}
	status.Status = result.Status

	// The record is finished even when ctx was cancelled mid-run.
	finishCtx := context.WithoutCancel(ctx)
	completed := time.Now().UTC()
	status.CompletedAt = &completed
	if err := p.opts.Store.UpdateRun(finishCtx, status); err != nil {
		p.log.Error("[Pipeline] Run %s: failed to finish run record: %v", req.RunID, err)
	}
	rec.event(contracts.RunEvent{Type: contracts.EventRunFinished, Status: result.Status, Message: status.Error})

	if runErr != nil {
		p.log.Error("[Pipeline] Run %s failed in stage %s: %v", req.RunID, status.FailedStage, runErr)
		return result, runErr
	}
	p.log.Info("[Pipeline] Run %s %s in %s", req.RunID, result.Status, result.Duration.Round(time.Millisecond))
	return result, nil
}

// runStage prepares the working directory and credentials for one eligible
// stage, runs it, and relays its artifact on success.
func (p *Pipeline) runStage(ctx context.Context, req contracts.RunRequest, stage workflow.Stage, rec *recorder) (StageOutcome, error) {
	start := time.Now()
	outcome := StageOutcome{Name: stage.Name, Status: contracts.StateRunning}
	rec.event(contracts.RunEvent{Type: contracts.EventStageStarted, Stage: stage.Name, Status: contracts.StateRunning})

	fail := func(err error) (StageOutcome, error) {
		outcome.Status = contracts.StateFailed
		outcome.Reason = err.Error()
		outcome.Steps = rec.steps(stage.Name)
		outcome.Duration = time.Since(start)
		rec.event(contracts.RunEvent{Type: contracts.EventStageFinished, Stage: stage.Name, Status: contracts.StateFailed, Message: err.Error()})
		return outcome, err
	}

	workDir := p.opts.SourceDir
	if stage.Consumes != "" {
		dir, cleanup, err := p.prepareConsumer(ctx, req.RunID, stage)
		if err != nil {
			return fail(err)
		}
		defer cleanup()
		workDir = dir
	}

	ectx := runner.ExecContext{
		WorkDir: workDir,
		Env:     copyEnv(p.opts.Env),
		Timeout: p.opts.StepTimeout,
		Event:   req.Event,
	}

	if stage.Credentials != "" {
		creds, err := p.acquire(ctx, stage)
		if err != nil {
			return fail(err)
		}
		for k, v := range creds.Env() {
			ectx.Env[k] = v
		}
		ectx.Secrets = append(ectx.Secrets, creds.Secrets()...)
	}

	res, err := runner.New(p.opts.Executor, p.log, rec).RunStage(ctx, stage, ectx)
	if err != nil {
		if stage.Credentials != "" {
			err = publish.Classify(err)
		}
		return fail(err)
	}

	if stage.Artifact != "" {
		if err := p.relayOutputs(ctx, req.RunID, stage, res); err != nil {
			return fail(err)
		}
		outcome.Artifact = stage.Artifact
		rec.event(contracts.RunEvent{Type: contracts.EventArtifactStored, Stage: stage.Name, Message: stage.Artifact})
	}

	outcome.Status = contracts.StateSucceeded
	outcome.Steps = rec.steps(stage.Name)
	outcome.Duration = time.Since(start)
	rec.event(contracts.RunEvent{Type: contracts.EventStageFinished, Stage: stage.Name, Status: contracts.StateSucceeded})
	return outcome, nil
}

// prepareConsumer creates a fresh working directory holding the artifact the
// stage consumes, as stored earlier in the same run.
func (p *Pipeline) prepareConsumer(ctx context.Context, runID string, stage workflow.Stage) (string, func(), error) {
	artifact, err := p.opts.Relay.Retrieve(ctx, runID, stage.Consumes)
	if err != nil {
		return "", nil, fmt.Errorf("stage %s: retrieve artifact %s: %w", stage.Name, stage.Consumes, err)
	}
	if stage.Credentials == credentials.PyPI {
		if err := publish.Verify(artifact); err != nil {
			return "", nil, err
		}
	}

	dir, err := os.MkdirTemp(p.opts.ScratchDir, "relayci-"+stage.Name+"-")
	if err != nil {
		return "", nil, fmt.Errorf("stage %s: create workdir: %w", stage.Name, err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			p.log.Warn("[Pipeline] Failed to remove workdir %s: %v", dir, err)
		}
	}

	written, err := relay.Extract(artifact, dir)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("stage %s: extract artifact %s: %w", stage.Name, stage.Consumes, err)
	}
	p.log.Info("[Pipeline] Stage %s: extracted %d file(s) from artifact %s", stage.Name, len(written), stage.Consumes)
	return dir, cleanup, nil
}

// acquire fetches credentials for a stage right before it runs.
func (p *Pipeline) acquire(ctx context.Context, stage workflow.Stage) (*credentials.Credentials, error) {
	if p.opts.Credentials == nil {
		return nil, &contracts.ConfigurationError{Field: "credentials", Reason: fmt.Sprintf("stage %s declares credentials %q but no provider is configured", stage.Name, stage.Credentials)}
	}
	provider, err := p.opts.Credentials(stage.Credentials)
	if err != nil {
		return nil, err
	}
	creds, err := provider.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("stage %s: acquire %s credentials: %w", stage.Name, stage.Credentials, err)
	}
	p.log.Info("[Pipeline] Stage %s: acquired %s credentials via %s", stage.Name, stage.Credentials, provider.Name())
	return creds, nil
}

// relayOutputs collects the stage outputs and stores them. The pipeline keeps
// no reference to the artifact once the relay accepted it.
func (p *Pipeline) relayOutputs(ctx context.Context, runID string, stage workflow.Stage, res *runner.StageResult) error {
	artifact, err := relay.Collect(ctx, res.WorkDir, stage.Artifact, res.Outputs)
	if err != nil {
		return fmt.Errorf("stage %s: collect artifact %s: %w", stage.Name, stage.Artifact, err)
	}
	files, size := len(artifact.Files), artifact.Size()
	if err := p.opts.Relay.Store(ctx, runID, artifact); err != nil {
		return fmt.Errorf("stage %s: store artifact %s: %w", stage.Name, stage.Artifact, err)
	}
	p.log.Info("[Pipeline] Stage %s: stored artifact %s (%d file(s), %d bytes)", stage.Name, stage.Artifact, files, size)
	return nil
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}
