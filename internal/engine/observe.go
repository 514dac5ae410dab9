package engine

import (
	"context"
	"time"
)

// Event types published to an EventSink over the course of a run.
const (
	EventRunStarted    = "run_started"
	EventStageFinished = "stage_finished"
	EventRunFinished   = "run_finished"
)

// Event is a lifecycle notification for external consumers. Transformer and
// Stage are empty for run-level events; Err is empty unless the subject
// failed.
type Event struct {
	RunID       string    `json:"run_id"`
	Pipeline    string    `json:"pipeline"`
	Transformer string    `json:"transformer,omitempty"`
	Stage       string    `json:"stage,omitempty"`
	Type        string    `json:"type"`
	Err         string    `json:"error,omitempty"`
	Items       int64     `json:"items"`
	At          time.Time `json:"at"`
}

// EventSink publishes run lifecycle events to an external system. Publish
// failures are logged and never fail the run.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Recorder persists run bookkeeping: one row per run plus per-stage
// progress. Recorder failures are logged and never fail the run.
type Recorder interface {
	RunStarted(ctx context.Context, pipeline, runID string) error
	StageFinished(ctx context.Context, runID string, res StageResult) error
	RunFinished(ctx context.Context, runID string, res *PipelineResult) error
}

// StageMetrics is one stage-duration observation.
type StageMetrics struct {
	RunID       string
	Pipeline    string
	Transformer string
	Stage       string
	Success     bool
	Duration    time.Duration
	At          time.Time
}

// MetricsSink collects stage observations during a run and ships them in
// Flush once the run ends. Observe must be cheap; it runs on the execution
// path.
type MetricsSink interface {
	Observe(m StageMetrics)
	Flush(ctx context.Context) error
}
