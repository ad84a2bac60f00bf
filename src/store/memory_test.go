package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"relayci/src/contracts"
)

func newRun(id string, created time.Time) *contracts.RunStatus {
	return &contracts.RunStatus{
		RunID:      id,
		Event:      contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0"},
		Status:     contracts.StatePending,
		FailedStep: -1,
		CreatedAt:  created,
	}
}

func TestMemoryStore_CreateAndGetRun(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	created := time.Now().UTC()

	if err := store.CreateRun(ctx, newRun("run-1", created)); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	run, err := store.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != contracts.StatePending {
		t.Errorf("Expected status pending, got %s", run.Status)
	}
	if run.Event.Ref != "refs/tags/v1.2.0" {
		t.Errorf("Expected ref refs/tags/v1.2.0, got %s", run.Event.Ref)
	}

	// Creating again does not reset the record.
	run.Status = contracts.StateRunning
	if err := store.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}
	if err := store.CreateRun(ctx, newRun("run-1", created)); err != nil {
		t.Fatalf("CreateRun (again) failed: %v", err)
	}
	again, _ := store.GetRun(ctx, "run-1")
	if again.Status != contracts.StateRunning {
		t.Errorf("Expected status running after duplicate create, got %s", again.Status)
	}
}

func TestMemoryStore_UpdateRun(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	created := time.Now().Add(-time.Minute)
	store.CreateRun(ctx, newRun("run-1", created))

	done := time.Now()
	update := &contracts.RunStatus{
		RunID:       "run-1",
		Status:      contracts.StateFailed,
		FailedStage: "build",
		FailedStep:  1,
		Error:       "exit code 1",
		CompletedAt: &done,
	}
	if err := store.UpdateRun(ctx, update); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	run, _ := store.GetRun(ctx, "run-1")
	if run.Status != contracts.StateFailed || run.FailedStage != "build" || run.FailedStep != 1 {
		t.Errorf("Unexpected run after update: %+v", run)
	}
	if !run.CreatedAt.Equal(created) {
		t.Errorf("UpdateRun must keep CreatedAt, got %v", run.CreatedAt)
	}

	// Mutating the returned copy must not affect the store.
	run.Status = contracts.StateSucceeded
	stored, _ := store.GetRun(ctx, "run-1")
	if stored.Status != contracts.StateFailed {
		t.Error("GetRun returned a shared record")
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun: expected ErrRunNotFound, got %v", err)
	}
	if err := store.UpdateRun(ctx, newRun("missing", time.Now())); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("UpdateRun: expected ErrRunNotFound, got %v", err)
	}
	if err := store.SaveStepResult(ctx, &contracts.StepResult{RunID: "missing"}); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("SaveStepResult: expected ErrRunNotFound, got %v", err)
	}
	if _, err := store.GetStepResults(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetStepResults: expected ErrRunNotFound, got %v", err)
	}
}

func TestMemoryStore_StepResults(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.CreateRun(ctx, newRun("run-1", time.Now()))

	results := []contracts.StepResult{
		{RunID: "run-1", Stage: "build", Index: 0, Name: "Install dependencies", Status: contracts.StateRunning},
		{RunID: "run-1", Stage: "build", Index: 1, Name: "Run tests", Status: contracts.StateSucceeded},
		{RunID: "run-1", Stage: "publish", Index: 0, Name: "Publish to PyPI", Status: contracts.StateSucceeded},
		// Replaces the first entry in place.
		{RunID: "run-1", Stage: "build", Index: 0, Name: "Install dependencies", Status: contracts.StateSucceeded, Duration: time.Second},
	}
	for i := range results {
		if err := store.SaveStepResult(ctx, &results[i]); err != nil {
			t.Fatalf("SaveStepResult failed: %v", err)
		}
	}

	got, err := store.GetStepResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetStepResults failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 step results, got %d", len(got))
	}
	if got[0].Status != contracts.StateSucceeded || got[0].Duration != time.Second {
		t.Errorf("Expected replaced first step, got %+v", got[0])
	}
	if got[2].Stage != "publish" {
		t.Errorf("Expected save order to be kept, got %+v", got)
	}
}

func TestMemoryStore_ListRuns(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()
	store.CreateRun(ctx, newRun("old", base.Add(-2*time.Hour)))
	store.CreateRun(ctx, newRun("new", base))
	store.CreateRun(ctx, newRun("mid", base.Add(-time.Hour)))

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "new" || runs[1].RunID != "mid" {
		t.Errorf("Unexpected order: %+v", runs)
	}

	all, _ := store.ListRuns(ctx, 0)
	if len(all) != 3 {
		t.Errorf("Expected 3 runs, got %d", len(all))
	}
}
