// Package store defines the interface for persisting run records.
package store

import (
	"context"
	"errors"

	"relayci/src/contracts"
)

// ErrRunNotFound is returned when no record exists for a run id.
var ErrRunNotFound = errors.New("run not found")

// Store defines the interface for persisting run status and step results.
type Store interface {
	// CreateRun inserts a new run record. Creating an existing run is a no-op.
	CreateRun(ctx context.Context, run *contracts.RunStatus) error

	// UpdateRun replaces the mutable fields of an existing run.
	UpdateRun(ctx context.Context, run *contracts.RunStatus) error

	// GetRun returns the run record.
	GetRun(ctx context.Context, runID string) (*contracts.RunStatus, error)

	// ListRuns returns up to limit runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]contracts.RunStatus, error)

	// SaveStepResult records the outcome of one step. Saving the same
	// (run, stage, index) again replaces the earlier result.
	SaveStepResult(ctx context.Context, result *contracts.StepResult) error

	// GetStepResults returns the step results of a run in execution order.
	GetStepResults(ctx context.Context, runID string) ([]contracts.StepResult, error)

	// Close closes the store connection
	Close() error
}
