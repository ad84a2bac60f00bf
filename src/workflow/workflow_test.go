package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"relayci/src/contracts"
)

const sampleYAML = `
name: sample
on:
  push:
    branches: [main, "release/*"]
  pull_request:
    types: [opened, synchronize]
stages:
  - name: lint
    steps:
      - run: make lint
  - name: test
    needs: [lint]
    steps:
      - name: unit
        run: make test
        timeout: 5m
    outputs: [coverage.out]
    artifact: coverage
  - name: report
    needs: [test]
    if: branch:main && event:push
    consumes: coverage
    steps:
      - run: cat coverage.out
`

func TestParse(t *testing.T) {
	wf, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if wf.Name != "sample" {
		t.Errorf("Name = %q, want sample", wf.Name)
	}
	if len(wf.Stages) != 3 {
		t.Fatalf("len(Stages) = %d, want 3", len(wf.Stages))
	}
	if got := time.Duration(wf.Stages[1].Steps[0].Timeout); got != 5*time.Minute {
		t.Errorf("Timeout = %v, want 5m", got)
	}
	if got := wf.Stages[0].Steps[0].DisplayName(); got != "make lint" {
		t.Errorf("DisplayName() = %q, want %q", got, "make lint")
	}
	if got := wf.Stages[2].If.String(); got != "branch:main && event:push" {
		t.Errorf("If = %q", got)
	}
	if wf.On.Release != nil {
		t.Error("Release trigger should be unset")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "empty", yaml: "  \n", want: "empty"},
		{name: "no triggers", yaml: "stages:\n  - name: a\n    steps:\n      - run: x\n", want: "trigger"},
		{name: "no stages", yaml: "on: [push]\n", want: "at least one stage"},
		{name: "unknown trigger", yaml: "on: [schedule]\nstages:\n  - name: a\n    steps:\n      - run: x\n", want: "schedule"},
		{name: "missing run", yaml: "on: [push]\nstages:\n  - name: a\n    steps:\n      - name: nothing\n", want: "run is required"},
		{name: "duplicate stage", yaml: "on: [push]\nstages:\n  - name: a\n    steps: [{run: x}]\n  - name: a\n    steps: [{run: y}]\n", want: "duplicate"},
		{name: "unknown need", yaml: "on: [push]\nstages:\n  - name: a\n    needs: [b]\n    steps: [{run: x}]\n", want: "unknown stage"},
		{name: "cycle", yaml: "on: [push]\nstages:\n  - name: a\n    needs: [b]\n    steps: [{run: x}]\n  - name: b\n    needs: [a]\n    steps: [{run: y}]\n", want: "cycle"},
		{name: "bad condition", yaml: "on: [push]\nstages:\n  - name: a\n    if: sometimes\n    steps: [{run: x}]\n", want: "unknown clause"},
		{name: "artifact without outputs", yaml: "on: [push]\nstages:\n  - name: a\n    artifact: dist\n    steps: [{run: x}]\n", want: "without outputs"},
		{name: "consumes unknown artifact", yaml: "on: [push]\nstages:\n  - name: a\n    consumes: dist\n    steps: [{run: x}]\n", want: "no stage produces"},
		{name: "consumes without needs", yaml: "on: [push]\nstages:\n  - name: a\n    outputs: [d]\n    artifact: dist\n    steps: [{run: x}]\n  - name: b\n    consumes: dist\n    steps: [{run: y}]\n", want: "does not need"},
		{name: "absolute output", yaml: "on: [push]\nstages:\n  - name: a\n    outputs: [/etc]\n    steps: [{run: x}]\n", want: "relative"},
		{name: "unknown field", yaml: "on: [push]\nstages:\n  - name: a\n    stepz: []\n    steps: [{run: x}]\n", want: "stepz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() expected error, got nil")
			}
			var cfgErr *contracts.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Errorf("Parse() returned %T, want *ConfigurationError", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Parse() error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestOrder(t *testing.T) {
	wf := &Workflow{
		On: Triggers{Push: &EventFilter{}},
		Stages: []Stage{
			{Name: "publish", Needs: []string{"build", "docs"}, Steps: []Step{{Run: "p"}}},
			{Name: "docs", Steps: []Step{{Run: "d"}}},
			{Name: "build", Steps: []Step{{Run: "b"}}},
		},
	}

	stages, err := wf.Order()
	if err != nil {
		t.Fatalf("Order() error = %v", err)
	}

	var names []string
	for _, s := range stages {
		names = append(names, s.Name)
	}
	if got := strings.Join(names, ","); got != "docs,build,publish" {
		t.Errorf("Order() = %s, want docs,build,publish", got)
	}
}

func TestDefault(t *testing.T) {
	wf := Default()

	for _, kind := range []contracts.EventKind{contracts.KindRelease, contracts.KindPullRequest, contracts.KindPush} {
		found := false
		for _, k := range wf.On.Kinds() {
			if k == kind {
				found = true
			}
		}
		if !found {
			t.Errorf("default workflow does not trigger on %s", kind)
		}
	}

	build, ok := wf.Stage("build")
	if !ok {
		t.Fatal("default workflow has no build stage")
	}
	if build.Artifact != "dist" || len(build.Outputs) != 1 || build.Outputs[0] != "dist" {
		t.Errorf("build stage outputs = %v artifact = %q", build.Outputs, build.Artifact)
	}

	publish, ok := wf.Stage("publish")
	if !ok {
		t.Fatal("default workflow has no publish stage")
	}
	if publish.Consumes != "dist" || publish.Credentials != "pypi" {
		t.Errorf("publish stage consumes = %q credentials = %q", publish.Consumes, publish.Credentials)
	}
	if publish.If.Matches(contracts.EventDescriptor{Kind: contracts.KindPush, Ref: "refs/heads/main"}) {
		t.Error("publish condition holds for a branch ref")
	}
	if !publish.If.Matches(contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0"}) {
		t.Error("publish condition fails for a tag ref")
	}
}

func TestLoad(t *testing.T) {
	wf, err := Load("")
	if err != nil || wf.Name != "release" {
		t.Fatalf("Load(\"\") = %v, %v; want built-in workflow", wf, err)
	}

	path := filepath.Join(t.TempDir(), "relayci.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	wf, err = Load(path)
	if err != nil {
		t.Fatalf("Load(%s) error = %v", path, err)
	}
	if wf.Name != "sample" {
		t.Errorf("Name = %q, want sample", wf.Name)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}
