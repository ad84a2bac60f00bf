//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayci/src/contracts"
	"relayci/src/pipeline"
	"relayci/src/relay"
	"relayci/src/store"
)

func openPostgres(t *testing.T) *store.PostgresStore {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set, skipping integration test")
	}

	pg, err := store.NewPostgresStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })
	require.NoError(t, pg.EnsureSchema(context.Background()))
	return pg
}

func TestPostgresStore_RunLifecycle(t *testing.T) {
	pg := openPostgres(t)
	ctx := context.Background()
	runID := pipeline.NewRunID()

	created := time.Now().UTC().Truncate(time.Millisecond)
	run := &contracts.RunStatus{
		RunID:      runID,
		Event:      contracts.EventDescriptor{Kind: contracts.KindRelease, Ref: "refs/tags/v1.2.0", Action: "published"},
		Status:     contracts.StatePending,
		FailedStep: -1,
		CreatedAt:  created,
	}
	require.NoError(t, pg.CreateRun(ctx, run))
	// A second create for the same run is a no-op.
	require.NoError(t, pg.CreateRun(ctx, run))

	require.NoError(t, pg.SaveStepResult(ctx, &contracts.StepResult{
		RunID: runID, Stage: "build", Index: 0, Name: "Build package",
		Status: contracts.StateSucceeded, Output: "built", Duration: 2 * time.Second,
	}))
	require.NoError(t, pg.SaveStepResult(ctx, &contracts.StepResult{
		RunID: runID, Stage: "publish", Index: 0, Name: "Publish to PyPI",
		Status: contracts.StateFailed, ExitCode: 1, Output: "HTTPError: 403 Forbidden",
	}))

	done := time.Now().UTC()
	run.Status = contracts.StateFailed
	run.FailedStage = "publish"
	run.FailedStep = 0
	run.Error = "publish rejected"
	run.CompletedAt = &done
	require.NoError(t, pg.UpdateRun(ctx, run))

	got, err := pg.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateFailed, got.Status)
	assert.Equal(t, "publish", got.FailedStage)
	assert.Equal(t, run.Event, got.Event)
	assert.NotNil(t, got.CompletedAt)

	steps, err := pg.GetStepResults(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "build", steps[0].Stage)
	assert.Equal(t, 1, steps[1].ExitCode)

	runs, err := pg.ListRuns(ctx, 50)
	require.NoError(t, err)
	found := false
	for _, r := range runs {
		if r.RunID == runID {
			found = true
		}
	}
	assert.True(t, found, "ListRuns should include the new run")

	_, err = pg.GetRun(ctx, pipeline.NewRunID())
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestPostgresRelay_StoreRetrieve(t *testing.T) {
	pg := openPostgres(t)
	ctx := context.Background()

	r := relay.NewPostgresRelay(pg.DB())
	require.NoError(t, r.EnsureSchema(ctx))

	runID := pipeline.NewRunID()
	artifact := &contracts.Artifact{
		Name: "dist",
		Files: []contracts.ArtifactFile{
			{Path: "dist/relayci-1.2.0-py3-none-any.whl", Mode: 0o644, Content: []byte("wheel bytes")},
			{Path: "dist/relayci-1.2.0.tar.gz", Mode: 0o644, Content: []byte("sdist bytes")},
		},
	}

	_, err := r.Retrieve(ctx, runID, "dist")
	assert.ErrorIs(t, err, relay.ErrArtifactNotFound)

	require.NoError(t, r.Store(ctx, runID, artifact))
	assert.ErrorIs(t, r.Store(ctx, runID, artifact), relay.ErrAlreadyStored)

	got, err := r.Retrieve(ctx, runID, "dist")
	require.NoError(t, err)
	assert.Equal(t, artifact.Digest(), got.Digest())
	assert.ElementsMatch(t, artifact.Paths(), got.Paths())
}
