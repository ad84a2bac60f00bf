// Demo program that replays a scripted release run through the relayci watcher.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"relayci/src/broker"
	"relayci/src/contracts"
	"relayci/src/pipeline"
	"relayci/src/runner"
	"relayci/src/tui"
)

const demoRunID = "demo-run"

func main() {
	brk := broker.NewInMemoryBroker()
	defer brk.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := brk.Subscribe(ctx, contracts.TopicRunEvents, "demo")
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
		os.Exit(1)
	}

	fail := len(os.Args) > 1 && os.Args[1] == "--fail"
	result, err := tui.Watch(ctx, demoRunID, []string{"build", "publish"}, events, func(ctx context.Context) (*pipeline.RunResult, error) {
		return replay(ctx, brk, fail)
	})
	if err != nil && result == nil {
		fmt.Fprintf(os.Stderr, "demo: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(tui.RenderSummary(result))
}

// replay publishes the events of a release run with a short pause between
// steps, then returns the matching result.
func replay(ctx context.Context, brk broker.Broker, fail bool) (*pipeline.RunResult, error) {
	publish := func(ev contracts.RunEvent) {
		ev.RunID = demoRunID
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
		data, _ := json.Marshal(ev)
		brk.Publish(ctx, contracts.TopicRunEvents, demoRunID, data)
	}
	pause := func(d time.Duration) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	event := contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0", Action: "published"}
	publish(contracts.RunEvent{Type: contracts.EventRunStarted, Status: contracts.StateRunning, Message: event.String()})

	buildSteps := []string{"Install dependencies", "Run tests", "Build package"}
	publish(contracts.RunEvent{Type: contracts.EventStageStarted, Stage: "build", Status: contracts.StateRunning})
	for i, name := range buildSteps {
		publish(contracts.RunEvent{Type: contracts.EventStepStarted, Stage: "build", Step: name, StepIndex: i, Status: contracts.StateRunning})
		if err := pause(900 * time.Millisecond); err != nil {
			return nil, err
		}
		publish(contracts.RunEvent{Type: contracts.EventStepFinished, Stage: "build", Step: name, StepIndex: i, Status: contracts.StateSucceeded})
	}
	publish(contracts.RunEvent{Type: contracts.EventArtifactStored, Stage: "build", Message: "dist"})
	publish(contracts.RunEvent{Type: contracts.EventStageFinished, Stage: "build", Status: contracts.StateSucceeded})

	publish(contracts.RunEvent{Type: contracts.EventStageStarted, Stage: "publish", Status: contracts.StateRunning})
	publish(contracts.RunEvent{Type: contracts.EventStepStarted, Stage: "publish", Step: "Publish to PyPI", Status: contracts.StateRunning})
	if err := pause(1200 * time.Millisecond); err != nil {
		return nil, err
	}

	result := &pipeline.RunResult{
		RunID:    demoRunID,
		Event:    event,
		Status:   contracts.StateSucceeded,
		Duration: 4 * time.Second,
		Stages: []pipeline.StageOutcome{
			{Name: "build", Status: contracts.StateSucceeded, Artifact: "dist", Duration: 2700 * time.Millisecond,
				Steps: make([]contracts.StepResult, len(buildSteps))},
			{Name: "publish", Status: contracts.StateSucceeded, Duration: 1200 * time.Millisecond,
				Steps: make([]contracts.StepResult, 1)},
		},
	}

	status := contracts.StateSucceeded
	if fail {
		status = contracts.StateFailed
		result.Status = status
		result.Stages[1].Status = status
		result.Failure = &runner.StageFailed{
			Stage:    "publish",
			StepName: "Publish to PyPI",
			ExitCode: 1,
			Output: "Uploading distributions to https://upload.pypi.org/legacy/\n" +
				"Uploading relayci-1.2.0-py3-none-any.whl\n" +
				"WARNING  Error during upload. Retry with the --verbose option for more details.\n" +
				"ERROR    HTTPError: 400 Bad Request from https://upload.pypi.org/legacy/\n" +
				"         File already exists ('relayci-1.2.0-py3-none-any.whl').",
		}
		result.Err = result.Failure
	}
	publish(contracts.RunEvent{Type: contracts.EventStepFinished, Stage: "publish", Step: "Publish to PyPI", Status: status})
	publish(contracts.RunEvent{Type: contracts.EventStageFinished, Stage: "publish", Status: status})
	publish(contracts.RunEvent{Type: contracts.EventRunFinished, Status: status})
	return result, result.Err
}
