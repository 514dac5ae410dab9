package engine

import (
	"log/slog"
	"time"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

// StageResult is the outcome of one stage within one run. A stage is either
// executed (Success/Err/Duration are meaningful) or skipped (by resume, by an
// earlier failure in its transformer, or by cancellation).
type StageResult struct {
	Name        string
	Transformer string
	Skipped     bool
	Success     bool
	Err         error
	Duration    time.Duration
}

// TransformerResult groups the stage results of one transformer. A skipped
// transformer carries no stage results and never touched the run context.
type TransformerResult struct {
	Name    string
	Skipped bool
	Success bool
	Stages  []StageResult
}

// PipelineResult is the immutable outcome of one run. Success is true only
// when every executed stage succeeded and the run context recorded no
// errors.
type PipelineResult struct {
	Pipeline     string
	RunID        string
	DryRun       bool
	Success      bool
	Transformers []TransformerResult
	Context      *unit.ExecutionContext
	Elapsed      time.Duration
}

// FailedStages returns every executed stage that failed, in execution order.
func (r *PipelineResult) FailedStages() []StageResult {
	var failed []StageResult
	for _, tr := range r.Transformers {
		for _, st := range tr.Stages {
			if !st.Skipped && !st.Success {
				failed = append(failed, st)
			}
		}
	}
	return failed
}

// ExecutedStages returns the number of stages that actually ran.
func (r *PipelineResult) ExecutedStages() int {
	n := 0
	for _, tr := range r.Transformers {
		for _, st := range tr.Stages {
			if !st.Skipped {
				n++
			}
		}
	}
	return n
}

// LogValue implements slog.LogValuer for structured logging.
func (r *PipelineResult) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("pipeline", r.Pipeline),
		slog.String("run_id", r.RunID),
		slog.Bool("success", r.Success),
		slog.Bool("dry_run", r.DryRun),
		slog.Int("executed_stages", r.ExecutedStages()),
		slog.Int("failed_stages", len(r.FailedStages())),
		slog.Duration("elapsed", r.Elapsed),
	}
	if r.Context != nil {
		attrs = append(attrs,
			slog.Int64("items", r.Context.ItemsProcessed()),
			slog.Int("errors", len(r.Context.Errors())),
			slog.Int("warnings", len(r.Context.Warnings())),
		)
	}
	return slog.GroupValue(attrs...)
}
