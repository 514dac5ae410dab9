package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrCheckpointingDisabled is returned by SaveCheckpoint when the loaded
// specification does not enable checkpoints. Callers typically log it and
// move on.
var ErrCheckpointingDisabled = errors.New("checkpointing disabled for pipeline")

// Summary condenses a run context into the counts and messages worth keeping
// after the run is gone.
type Summary struct {
	ItemsProcessed int64    `json:"items_processed"`
	Errors         []string `json:"errors,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Checkpoint is an immutable, timestamped snapshot of a completed run's
// outcome. Checkpoints are observational: the engine never resumes from one,
// it resumes from a named stage.
type Checkpoint struct {
	ID        string    `json:"id"`
	Pipeline  string    `json:"pipeline"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Success   bool      `json:"success"`
	Summary   Summary   `json:"summary"`
}

// NewCheckpoint derives a checkpoint from a run result. An empty id defaults
// to the result's run id.
func NewCheckpoint(id string, res *PipelineResult) Checkpoint {
	if id == "" {
		id = res.RunID
	}
	cp := Checkpoint{
		ID:        id,
		Pipeline:  res.Pipeline,
		RunID:     res.RunID,
		CreatedAt: time.Now().UTC(),
		Success:   res.Success,
	}
	if res.Context != nil {
		cp.Summary = Summary{
			ItemsProcessed: res.Context.ItemsProcessed(),
			Errors:         res.Context.Errors(),
			Warnings:       res.Context.Warnings(),
		}
	}
	return cp
}

// CheckpointStore persists and retrieves checkpoint records. Save returns
// the location the record was written to (a file path, an object key).
type CheckpointStore interface {
	Save(ctx context.Context, cp Checkpoint) (string, error)
	Load(ctx context.Context, id string) (Checkpoint, error)
}

// FileStore persists checkpoints as JSON files named <id>.json under a
// directory. Writes go through a temp file and rename, so a crashed write
// never leaves a truncated checkpoint behind.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes cp to <dir>/<id>.json and returns that path.
func (s *FileStore) Save(_ context.Context, cp Checkpoint) (string, error) {
	if cp.ID == "" {
		return "", errors.New("checkpoint id is required")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create checkpoint dir %s: %w", s.dir, err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal checkpoint %s: %w", cp.ID, err)
	}

	dst := s.path(cp.ID)
	tmp, err := os.CreateTemp(s.dir, cp.ID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create checkpoint temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write checkpoint %s: %w", cp.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close checkpoint %s: %w", cp.ID, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("rename checkpoint %s: %w", cp.ID, err)
	}
	return dst, nil
}

// Load reads the checkpoint saved under id.
func (s *FileStore) Load(_ context.Context, id string) (Checkpoint, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", id, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint %s: %w", id, err)
	}
	return cp, nil
}
