package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/engine"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/store"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

var _ engine.Recorder = (*store.DB)(nil)

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	require.NoError(t, db.RunStarted(ctx, "compendium", "run-1"))

	rec, err := db.Run(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "compendium", rec.Pipeline)
	require.Equal(t, store.StatusRunning, rec.Status)
	require.False(t, rec.StartedAt.IsZero())
	require.True(t, rec.FinishedAt.IsZero())

	stages := []engine.StageResult{
		{Name: "scan", Transformer: "ingest", Success: true, Duration: 120 * time.Millisecond},
		{Name: "hash", Transformer: "ingest", Success: false, Err: errors.New("process: boom"), Duration: 5 * time.Millisecond},
		{Name: "archive", Transformer: "publish", Skipped: true, Success: true},
	}
	for _, st := range stages {
		require.NoError(t, db.StageFinished(ctx, "run-1", st))
	}

	ec := unit.NewExecutionContext("compendium", "run-1")
	ec.AddItems(7)
	ec.AddError("stage ingest/hash: process: boom")
	require.NoError(t, db.RunFinished(ctx, "run-1", &engine.PipelineResult{
		Pipeline: "compendium",
		RunID:    "run-1",
		Success:  false,
		Context:  ec,
	}))

	rec, err = db.Run(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, rec.Status)
	require.Equal(t, int64(7), rec.Items)
	require.Equal(t, int64(1), rec.ErrorCount)
	require.False(t, rec.FinishedAt.IsZero())

	history, err := db.StageHistory(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, history, 3)

	require.Equal(t, store.StatusSucceeded, history[0].Status)
	require.Equal(t, "ingest", history[0].Transformer)
	require.Equal(t, "scan", history[0].Stage)
	require.Equal(t, 120*time.Millisecond, history[0].Duration)
	require.Empty(t, history[0].Error)

	require.Equal(t, store.StatusFailed, history[1].Status)
	require.Contains(t, history[1].Error, "boom")

	require.Equal(t, store.StatusSkipped, history[2].Status)
	require.Empty(t, history[2].Error)
}

func TestRunSucceeded(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	require.NoError(t, db.RunStarted(ctx, "compendium", "run-ok"))
	require.NoError(t, db.RunFinished(ctx, "run-ok", &engine.PipelineResult{
		Pipeline: "compendium",
		RunID:    "run-ok",
		Success:  true,
		Context:  unit.NewExecutionContext("compendium", "run-ok"),
	}))

	rec, err := db.Run(ctx, "run-ok")
	require.NoError(t, err)
	require.Equal(t, store.StatusSucceeded, rec.Status)
	require.Zero(t, rec.ErrorCount)
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)

	require.NoError(t, db.RunStarted(ctx, "compendium", "a-first"))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, db.RunStarted(ctx, "compendium", "b-second"))

	runs, err := db.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b-second", runs[0].ID)
	require.Equal(t, "a-first", runs[1].ID)
}

func TestRunNotFound(t *testing.T) {
	db := openStore(t)

	_, err := db.Run(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestRunFinishedUnknownRun(t *testing.T) {
	db := openStore(t)

	err := db.RunFinished(context.Background(), "missing", &engine.PipelineResult{Success: true})
	require.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestStageHistoryEmpty(t *testing.T) {
	db := openStore(t)

	history, err := db.StageHistory(context.Background(), "missing")
	require.NoError(t, err)
	require.Empty(t, history)
}
