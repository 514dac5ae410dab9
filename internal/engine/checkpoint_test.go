package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/engine"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

func sampleResult() *engine.PipelineResult {
	ec := unit.NewExecutionContext("compendium", "run-7")
	ec.AddItems(42)
	ec.AddError("stage convert/stage2: conversion failed")
	ec.AddWarning("3 files skipped")

	return &engine.PipelineResult{
		Pipeline: "compendium",
		RunID:    "run-7",
		Success:  false,
		Context:  ec,
	}
}

func TestNewCheckpoint(t *testing.T) {
	cp := engine.NewCheckpoint("nightly", sampleResult())

	require.Equal(t, "nightly", cp.ID)
	require.Equal(t, "compendium", cp.Pipeline)
	require.Equal(t, "run-7", cp.RunID)
	require.False(t, cp.Success)
	require.False(t, cp.CreatedAt.IsZero())
	require.EqualValues(t, 42, cp.Summary.ItemsProcessed)
	require.Len(t, cp.Summary.Errors, 1)
	require.Len(t, cp.Summary.Warnings, 1)
}

func TestNewCheckpointDefaultsIDToRunID(t *testing.T) {
	cp := engine.NewCheckpoint("", sampleResult())
	require.Equal(t, "run-7", cp.ID)
}

func TestFileStoreRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoints")
	store := engine.NewFileStore(dir)
	ctx := context.Background()

	saved := engine.NewCheckpoint("nightly", sampleResult())
	location, err := store.Save(ctx, saved)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "nightly.json"), location)

	loaded, err := store.Load(ctx, "nightly")
	require.NoError(t, err)
	require.Equal(t, saved.ID, loaded.ID)
	require.Equal(t, saved.Pipeline, loaded.Pipeline)
	require.Equal(t, saved.RunID, loaded.RunID)
	require.Equal(t, saved.Success, loaded.Success)
	require.Equal(t, saved.Summary, loaded.Summary)
	require.True(t, saved.CreatedAt.Equal(loaded.CreatedAt))

	// The temp file used for the atomic write is gone.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileStoreRequiresID(t *testing.T) {
	store := engine.NewFileStore(t.TempDir())
	_, err := store.Save(context.Background(), engine.Checkpoint{})
	require.Error(t, err)
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := engine.NewFileStore(t.TempDir())
	_, err := store.Load(context.Background(), "ghost")
	require.Error(t, err)
}

func TestSaveCheckpointDisabled(t *testing.T) {
	h := newHarness()
	eng := newEngine(t, h, twoPhaseSpec())

	result, err := eng.Execute(context.Background(), engine.RunOptions{})
	require.NoError(t, err)

	_, err = eng.SaveCheckpoint(context.Background(), "nightly", result)
	require.ErrorIs(t, err, engine.ErrCheckpointingDisabled)
}

func TestSaveCheckpointWritesToSpecDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cp")

	h := newHarness()
	p := twoPhaseSpec()
	p.Checkpoints.Enabled = true
	p.Checkpoints.Dir = dir
	eng := newEngine(t, h, p)

	result, err := eng.Execute(context.Background(), engine.RunOptions{})
	require.NoError(t, err)

	location, err := eng.SaveCheckpoint(context.Background(), "nightly", result)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "nightly.json"), location)

	loaded, err := engine.NewFileStore(dir).Load(context.Background(), "nightly")
	require.NoError(t, err)
	require.Equal(t, "compendium", loaded.Pipeline)
	require.True(t, loaded.Success)
	require.EqualValues(t, 3, loaded.Summary.ItemsProcessed)
}

func TestSaveCheckpointCustomStore(t *testing.T) {
	h := newHarness()
	p := twoPhaseSpec()
	p.Checkpoints.Enabled = true

	captured := &capturingStore{}
	eng := engine.New(newRegistry(h)).WithLogger(quietLogger()).WithCheckpointStore(captured)
	require.NoError(t, eng.UseSpec(p))
	require.NoError(t, eng.BuildGraph())

	result, err := eng.Execute(context.Background(), engine.RunOptions{})
	require.NoError(t, err)

	location, err := eng.SaveCheckpoint(context.Background(), "", result)
	require.NoError(t, err)
	require.Equal(t, "mem://"+result.RunID, location)
	require.Equal(t, result.RunID, captured.saved.ID)
}

type capturingStore struct {
	saved engine.Checkpoint
}

func (s *capturingStore) Save(_ context.Context, cp engine.Checkpoint) (string, error) {
	s.saved = cp
	return "mem://" + cp.ID, nil
}

func (s *capturingStore) Load(_ context.Context, id string) (engine.Checkpoint, error) {
	return s.saved, nil
}
