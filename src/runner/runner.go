// Package runner executes the steps of a stage, in order, stopping at the first failure.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relayci/src/contracts"
	"relayci/src/junit"
	"relayci/src/logger"
	"relayci/src/sanitize"
	"relayci/src/workflow"
)

// maxStoredOutput bounds the output kept on a StepResult. StageFailed keeps it all.
const maxStoredOutput = 64 << 10

// ExecContext is everything a stage sees of the outside world.
type ExecContext struct {
	WorkDir string
	Env     map[string]string
	// Timeout applies to steps that do not declare their own.
	Timeout time.Duration
	Event   contracts.EventDescriptor
	// Secrets are masked in captured output.
	Secrets []string
}

// Observer is notified as steps start and finish.
type Observer interface {
	StepStarted(stage string, index int, step workflow.Step)
	StepFinished(stage string, result contracts.StepResult)
}

// StageResult describes a stage that completed all of its steps.
type StageResult struct {
	Stage   string
	WorkDir string
	Steps   []contracts.StepResult
	// Outputs are the declared output paths, relative to WorkDir, all present on disk.
	Outputs  []string
	Duration time.Duration
}

// StageFailed reports the step that stopped a stage.
type StageFailed struct {
	Stage     string
	StepIndex int
	StepName  string
	ExitCode  int
	TimedOut  bool
	// Output is the failing step's sanitized output.
	Output       string
	TestFailures []junit.TestFailure
	// Reason is set when the stage failed for something other than an exit code.
	Reason string
}

func (e *StageFailed) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("stage %s failed at step %d (%s): %s", e.Stage, e.StepIndex, e.StepName, e.Reason)
	case e.TimedOut:
		return fmt.Sprintf("stage %s failed at step %d (%s): timed out", e.Stage, e.StepIndex, e.StepName)
	default:
		return fmt.Sprintf("stage %s failed at step %d (%s): exit code %d", e.Stage, e.StepIndex, e.StepName, e.ExitCode)
	}
}

// Runner runs stages.
type Runner struct {
	exec     *Executor
	log      logger.Logger
	observer Observer
}

// New creates a Runner. observer may be nil.
func New(exec *Executor, log logger.Logger, observer Observer) *Runner {
	if exec == nil {
		exec = NewExecutor(nil)
	}
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &Runner{exec: exec, log: log, observer: observer}
}

// RunStage runs the steps of stage one at a time. A nonzero exit stops the
// stage immediately with a *StageFailed; side effects of earlier steps are left
// in place. Any other error means the stage could not be run at all.
func (r *Runner) RunStage(ctx context.Context, stage workflow.Stage, ectx ExecContext) (*StageResult, error) {
	if len(stage.Steps) == 0 {
		return nil, &contracts.ConfigurationError{Field: "stages." + stage.Name + ".steps", Reason: "stage has no steps"}
	}
	workDir, err := filepath.Abs(ectx.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir for stage %s: %w", stage.Name, err)
	}
	if info, err := os.Stat(workDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workdir for stage %s is not a directory: %s", stage.Name, workDir)
	}

	start := time.Now()
	result := &StageResult{Stage: stage.Name, WorkDir: workDir}
	r.log.Info("[Runner] Stage %s: %d step(s) in %s", stage.Name, len(stage.Steps), workDir)

	for i, step := range stage.Steps {
		name := step.DisplayName()
		if !step.If.Matches(ectx.Event) {
			r.log.Info("[Runner] Stage %s step %d (%s): skipped, condition %q does not hold", stage.Name, i, name, step.If)
			skipped := contracts.StepResult{Stage: stage.Name, Index: i, Name: name, Status: contracts.StateSkipped}
			result.Steps = append(result.Steps, skipped)
			r.notifyStarted(stage.Name, i, step)
			r.notifyFinished(stage.Name, skipped)
			continue
		}

		r.notifyStarted(stage.Name, i, step)
		r.log.Info("[Runner] Stage %s step %d: %s", stage.Name, i, name)

		timeout := time.Duration(step.Timeout)
		if timeout == 0 {
			timeout = ectx.Timeout
		}
		env := stepEnv(ectx, stage, step, workDir)

		res, err := r.exec.Execute(ctx, step.Run, workDir, env, timeout)
		if err != nil {
			return nil, fmt.Errorf("stage %s step %d (%s): %w", stage.Name, i, name, err)
		}

		output := sanitize.Output(string(res.Output), ectx.Secrets)
		stepResult := contracts.StepResult{
			Stage:    stage.Name,
			Index:    i,
			Name:     name,
			Status:   contracts.StateSucceeded,
			ExitCode: res.ExitCode,
			Output:   tail(output, maxStoredOutput),
			Duration: res.Duration,
		}
		if res.ExitCode != 0 || res.TimedOut {
			stepResult.Status = contracts.StateFailed
		}
		result.Steps = append(result.Steps, stepResult)
		r.notifyFinished(stage.Name, stepResult)

		if stepResult.Status == contracts.StateFailed {
			failed := &StageFailed{
				Stage:     stage.Name,
				StepIndex: i,
				StepName:  name,
				ExitCode:  res.ExitCode,
				TimedOut:  res.TimedOut,
				Output:    output,
			}
			if step.JUnit != "" {
				failed.TestFailures = r.testFailures(workDir, step.JUnit)
			}
			r.log.Error("[Runner] %v", failed)
			return nil, failed
		}
		r.log.Debug("[Runner] Stage %s step %d finished in %s", stage.Name, i, res.Duration.Round(time.Millisecond))
	}

	outputs, err := checkOutputs(workDir, stage.Outputs)
	if err != nil {
		last := len(stage.Steps) - 1
		return nil, &StageFailed{
			Stage:     stage.Name,
			StepIndex: last,
			StepName:  stage.Steps[last].DisplayName(),
			Reason:    err.Error(),
		}
	}
	result.Outputs = outputs
	result.Duration = time.Since(start)
	r.log.Info("[Runner] Stage %s succeeded in %s", stage.Name, result.Duration.Round(time.Millisecond))
	return result, nil
}

func (r *Runner) notifyStarted(stage string, index int, step workflow.Step) {
	if r.observer != nil {
		r.observer.StepStarted(stage, index, step)
	}
}

func (r *Runner) notifyFinished(stage string, result contracts.StepResult) {
	if r.observer != nil {
		r.observer.StepFinished(stage, result)
	}
}

func (r *Runner) testFailures(workDir, report string) []junit.TestFailure {
	path := report
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, report)
	}
	failures, err := junit.ParseFile(path)
	if err != nil {
		if errors.Is(err, junit.ErrNoReport) {
			r.log.Debug("[Runner] No junit report at %s", path)
		} else {
			r.log.Warn("[Runner] Could not read junit report %s: %v", path, err)
		}
		return nil
	}
	return failures
}

// stepEnv layers, lowest first: event variables, the execution context, stage env, step env.
func stepEnv(ectx ExecContext, stage workflow.Stage, step workflow.Step, workDir string) map[string]string {
	env := map[string]string{
		"CI":                "true",
		"RELAYCI":           "true",
		"RELAYCI_STAGE":     stage.Name,
		"RELAYCI_WORKDIR":   workDir,
		"RELAYCI_EVENT":     string(ectx.Event.Kind),
		"RELAYCI_REF":       ectx.Event.Ref,
		"RELAYCI_REF_NAME":  refName(ectx.Event),
		"RELAYCI_EVENT_SHA": ectx.Event.SHA,
	}
	if ectx.Event.Action != "" {
		env["RELAYCI_EVENT_ACTION"] = ectx.Event.Action
	}
	for _, layer := range []map[string]string{ectx.Env, stage.Env, step.Env} {
		for k, v := range layer {
			env[k] = v
		}
	}
	return env
}

func refName(ev contracts.EventDescriptor) string {
	if tag := ev.TagName(); tag != "" {
		return tag
	}
	if branch := ev.BranchName(); branch != "" {
		return branch
	}
	return ev.Ref
}

// checkOutputs verifies every declared output exists.
func checkOutputs(workDir string, outputs []string) ([]string, error) {
	var missing []string
	resolved := make([]string, 0, len(outputs))
	for _, out := range outputs {
		rel := filepath.Clean(out)
		if _, err := os.Stat(filepath.Join(workDir, rel)); err != nil {
			missing = append(missing, out)
			continue
		}
		resolved = append(resolved, rel)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("declared output(s) not produced: %s", strings.Join(missing, ", "))
	}
	return resolved, nil
}

func tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[len(s)-max:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i < len(cut)-1 {
		cut = cut[i+1:]
	}
	return "... (truncated)\n" + cut
}
