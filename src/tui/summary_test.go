package tui

import (
	"errors"
	"strings"
	"testing"

	"relayci/src/contracts"
	"relayci/src/junit"
	"relayci/src/pipeline"
)

func TestRenderSummary_Succeeded(t *testing.T) {
	result := &pipeline.RunResult{
		RunID:  "run-1",
		Event:  contracts.EventDescriptor{Kind: contracts.KindPush, Ref: "refs/heads/main"},
		Status: contracts.StateSucceeded,
		Stages: []pipeline.StageOutcome{
			{Name: "build", Status: contracts.StateSucceeded, Artifact: "dist",
				Steps: []contracts.StepResult{{Name: "Build package", Status: contracts.StateSucceeded}}},
			{Name: "publish", Status: contracts.StateSkipped, Reason: "condition tag not met"},
		},
	}

	out := RenderSummary(result)
	for _, want := range []string{"run-1", "SUCCEEDED", "build", "artifact dist", "publish", "skipped: condition tag not met"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Output") {
		t.Errorf("successful summary should not show output:\n%s", out)
	}
}

func TestRenderSummary_Failed(t *testing.T) {
	result := failedResult()
	result.Err = errors.New("Version already published\n\nHint: bump the version")
	result.Failure.TestFailures = []junit.TestFailure{
		{ClassName: "tests.test_api", Name: "test_upload", Message: "assert 403 == 200"},
	}

	out := RenderSummary(result)
	for _, want := range []string{
		"FAILED",
		"Stage publish failed at step 0: Publish to PyPI",
		"Hint: bump the version",
		"1 failing tests",
		"tests.test_api::test_upload: assert 403 == 200",
		"File already exists.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRenderSummary_Nil(t *testing.T) {
	if got := RenderSummary(nil); got != "" {
		t.Errorf("RenderSummary(nil) = %q, expected empty", got)
	}
}
