package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/registry"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/unit"
)

// State tracks the lifecycle of one engine run.
type State int

const (
	StateUnloaded State = iota
	StateSpecLoaded
	StateGraphBuilt
	StateDryRunValidated
	StateExecuting
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateSpecLoaded:
		return "spec_loaded"
	case StateGraphBuilt:
		return "graph_built"
	case StateDryRunValidated:
		return "dry_run_validated"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrSpecNotLoaded means BuildGraph was called before any spec was loaded.
	ErrSpecNotLoaded = errors.New("pipeline spec not loaded")

	// ErrGraphNotBuilt means Execute was called before BuildGraph.
	ErrGraphNotBuilt = errors.New("pipeline graph not built")

	// ErrExecutionInProgress means a lifecycle method was called while a run
	// was underway.
	ErrExecutionInProgress = errors.New("pipeline execution in progress")

	// ErrRunCompleted means the engine already finished its run. Engines are
	// single-shot; build a new one for another run.
	ErrRunCompleted = errors.New("pipeline run already completed")

	// ErrStartNotFound means the resume target names no transformer or stage.
	ErrStartNotFound = errors.New("start target not found")
)

// RunOptions select how Execute walks the graph.
type RunOptions struct {
	// StartFrom names where execution begins: a transformer name, a stage
	// name, or "transformer/stage". Everything declared before the target is
	// skipped and leaves no trace in the run context.
	StartFrom string

	// StageOnly runs just the StartFrom stage instead of resuming from it.
	StageOnly bool

	// DryRun validates the graph wiring without invoking any unit.
	DryRun bool

	// MaxWorkers seeds the run context's worker-count hint. Stage-level
	// max_workers config wins over this value; zero leaves unit defaults in
	// place.
	MaxWorkers int
}

// Engine loads a pipeline specification, builds the runtime graph, and
// executes it. One engine serves one run: Unloaded through Completed.
// Lifecycle methods are safe to call from multiple goroutines, but the
// expected usage is a single caller driving load, build, execute, and
// checkpoint in order.
type Engine struct {
	registry *registry.Registry
	logger   *slog.Logger

	checkpoints CheckpointStore
	recorder    Recorder
	events      EventSink
	metrics     MetricsSink

	mu    sync.Mutex
	state State
	spec  *spec.PipelineSpec
	graph *Pipeline
}

// New creates an engine resolving units through reg. A nil reg means the
// process-wide default registry.
func New(reg *registry.Registry) *Engine {
	if reg == nil {
		reg = registry.Default()
	}
	return &Engine{
		registry: reg,
		logger:   slog.Default(),
		state:    StateUnloaded,
	}
}

// WithLogger overrides the engine's logger. Chainable.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	if logger != nil {
		e.logger = logger
	}
	return e
}

// WithCheckpointStore overrides where SaveCheckpoint persists records.
// Without it, checkpoints go to a FileStore under the spec's checkpoint dir.
// Chainable.
func (e *Engine) WithCheckpointStore(store CheckpointStore) *Engine {
	if store != nil {
		e.checkpoints = store
	}
	return e
}

// WithRecorder attaches run bookkeeping. Chainable.
func (e *Engine) WithRecorder(r Recorder) *Engine {
	if r != nil {
		e.recorder = r
	}
	return e
}

// WithEventSink attaches lifecycle event publishing. Chainable.
func (e *Engine) WithEventSink(s EventSink) *Engine {
	if s != nil {
		e.events = s
	}
	return e
}

// WithMetrics attaches stage-duration collection. Chainable.
func (e *Engine) WithMetrics(m MetricsSink) *Engine {
	if m != nil {
		e.metrics = m
	}
	return e
}

// State returns the engine's lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Spec returns the loaded specification, or nil before LoadSpec/UseSpec.
func (e *Engine) Spec() *spec.PipelineSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spec
}

// LoadSpec reads, parses, and validates the specification at path.
func (e *Engine) LoadSpec(path string) error {
	p, err := spec.Load(path)
	if err != nil {
		return err
	}
	return e.UseSpec(p)
}

// LoadSpecBytes parses and validates an in-memory specification document.
func (e *Engine) LoadSpecBytes(data []byte) error {
	p, err := spec.Parse(data)
	if err != nil {
		return err
	}
	return e.UseSpec(p)
}

// UseSpec adopts an already-constructed specification. The spec is validated
// and any previously built graph is discarded.
func (e *Engine) UseSpec(p *spec.PipelineSpec) error {
	if p == nil {
		return fmt.Errorf("%w: nil spec", spec.ErrMalformed)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateExecuting {
		return ErrExecutionInProgress
	}
	e.spec = p
	e.graph = nil
	e.state = StateSpecLoaded
	e.logger.Debug("pipeline spec loaded",
		"pipeline", p.Name,
		"version", p.Version,
		"transformers", len(p.Transformers),
	)
	return nil
}

// BuildGraph resolves every unit reference in the loaded spec into a runtime
// graph. The first unresolvable unit aborts the build and the engine stays
// in its previous state.
func (e *Engine) BuildGraph() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateUnloaded:
		return ErrSpecNotLoaded
	case StateExecuting:
		return ErrExecutionInProgress
	case StateCompleted:
		return ErrRunCompleted
	}

	g, err := buildPipeline(e.spec, e.registry)
	if err != nil {
		return fmt.Errorf("build pipeline graph: %w", err)
	}
	e.graph = g
	e.state = StateGraphBuilt
	e.logger.Info("pipeline graph built",
		"pipeline", e.spec.Name,
		"transformers", len(g.Transformers),
		"stages", g.StageCount(),
	)
	return nil
}

// Execute runs the built graph. Pre-execution problems (wrong lifecycle
// state, unknown resume target) return an error and no result. Once
// execution starts, stage failures accumulate in the result instead of
// aborting: a failed stage skips the rest of its own transformer, later
// transformers still run, and Success reports whether anything went wrong.
func (e *Engine) Execute(ctx context.Context, opts RunOptions) (*PipelineResult, error) {
	e.mu.Lock()
	switch {
	case e.graph == nil:
		e.mu.Unlock()
		return nil, ErrGraphNotBuilt
	case e.state == StateExecuting:
		e.mu.Unlock()
		return nil, ErrExecutionInProgress
	case e.state == StateCompleted:
		e.mu.Unlock()
		return nil, ErrRunCompleted
	}
	graph := e.graph
	e.mu.Unlock()

	if opts.DryRun {
		return e.dryRun(graph), nil
	}

	startTi, startSi := 0, 0
	if opts.StartFrom != "" {
		var err error
		startTi, startSi, err = graph.findStart(opts.StartFrom)
		if err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	if e.state == StateExecuting {
		e.mu.Unlock()
		return nil, ErrExecutionInProgress
	}
	e.state = StateExecuting
	e.mu.Unlock()

	result := e.run(ctx, graph, opts, startTi, startSi)

	e.mu.Lock()
	e.state = StateCompleted
	e.mu.Unlock()

	return result, nil
}

// dryRun validates wiring only. No unit's Process or Postprocess runs.
func (e *Engine) dryRun(graph *Pipeline) *PipelineResult {
	runID := uuid.NewString()
	ec := unit.NewExecutionContext(graph.Spec.Name, runID)

	problems := graph.Validate()
	for _, p := range problems {
		ec.AddError(p)
	}

	e.mu.Lock()
	if e.state == StateGraphBuilt {
		e.state = StateDryRunValidated
	}
	e.mu.Unlock()

	result := &PipelineResult{
		Pipeline: graph.Spec.Name,
		RunID:    runID,
		DryRun:   true,
		Success:  len(problems) == 0,
		Context:  ec,
		Elapsed:  ec.Elapsed(),
	}
	e.logger.Info("dry run validated", "result", result)
	return result
}

func (e *Engine) run(ctx context.Context, graph *Pipeline, opts RunOptions, startTi, startSi int) *PipelineResult {
	started := time.Now()
	runID := uuid.NewString()
	ec := unit.NewExecutionContext(graph.Spec.Name, runID)
	ec.SetMeta(unit.MetaParallel, graph.Spec.Parallel)
	if opts.MaxWorkers > 0 {
		ec.SetMeta(unit.MetaMaxWorkers, opts.MaxWorkers)
	}

	e.logger.Info("pipeline run starting",
		"pipeline", graph.Spec.Name,
		"run_id", runID,
		"parallel", graph.Spec.Parallel,
		"start_from", opts.StartFrom,
		"stage_only", opts.StageOnly,
	)
	e.notifyRunStarted(ctx, graph.Spec.Name, runID)

	result := &PipelineResult{
		Pipeline:     graph.Spec.Name,
		RunID:        runID,
		Transformers: make([]TransformerResult, 0, len(graph.Transformers)),
		Context:      ec,
	}

	// The envelope threads through every executed stage; metadata merges
	// forward so later stages see keys set by earlier ones.
	payload := any(nil)
	meta := map[string]any{}
	cancelled := false
	allStagesOK := true

	for ti, tr := range graph.Transformers {
		if ti < startTi || (opts.StageOnly && ti != startTi) {
			result.Transformers = append(result.Transformers, TransformerResult{
				Name:    tr.Spec.Name,
				Skipped: true,
				Success: true,
			})
			continue
		}

		trRes := TransformerResult{
			Name:    tr.Spec.Name,
			Success: true,
			Stages:  make([]StageResult, 0, len(tr.Stages)),
		}
		abortRest := false

		for si, st := range tr.Stages {
			skip := abortRest || cancelled
			if ti == startTi && si < startSi {
				skip = true
			}
			if opts.StageOnly && !(ti == startTi && si == startSi) {
				skip = true
			}
			if !skip && !cancelled && ctx.Err() != nil {
				cancelled = true
				ec.Errorf("run cancelled: %v", ctx.Err())
				skip = true
			}
			if skip {
				trRes.Stages = append(trRes.Stages, StageResult{
					Name:        st.Spec.Name,
					Transformer: tr.Spec.Name,
					Skipped:     true,
					Success:     true,
				})
				continue
			}

			out, stRes := e.runStage(ctx, tr, st, unit.Input{Payload: payload, Metadata: meta}, ec)
			trRes.Stages = append(trRes.Stages, stRes)
			e.notifyStageFinished(ctx, runID, graph.Spec.Name, stRes, ec)

			if !stRes.Success {
				trRes.Success = false
				allStagesOK = false
				abortRest = true
				continue
			}

			payload = out.Payload
			for k, v := range out.Metadata {
				meta[k] = v
			}
		}

		result.Transformers = append(result.Transformers, trRes)
	}

	result.Elapsed = time.Since(started)
	result.Success = allStagesOK && len(ec.Errors()) == 0

	if result.Success {
		e.logger.Info("pipeline run complete", "result", result)
	} else {
		e.logger.Error("pipeline run failed", "result", result)
	}
	e.notifyRunFinished(ctx, runID, result, ec)

	return result
}

// runStage executes one stage: input validation, Process, Postprocess,
// output validation. A unit failure or panic marks the stage failed and is
// recorded in the run context; validation failures are warnings unless the
// unit marked them fatal.
func (e *Engine) runStage(ctx context.Context, tr *Transformer, st *TransformerStage, in unit.Input, ec *unit.ExecutionContext) (unit.Output, StageResult) {
	started := time.Now()
	name := tr.Spec.Name + "/" + st.Spec.Name
	e.logger.Debug("stage starting", "stage", name, "context", ec)

	out, err := e.invokeStage(ctx, st, in, ec)

	res := StageResult{
		Name:        st.Spec.Name,
		Transformer: tr.Spec.Name,
		Success:     err == nil,
		Err:         err,
		Duration:    time.Since(started),
	}
	if err != nil {
		ec.Errorf("stage %s: %v", name, err)
		e.logger.Error("stage failed", "stage", name, "error", err, "duration", res.Duration)
	} else {
		e.logger.Debug("stage complete", "stage", name, "duration", res.Duration)
	}
	return out, res
}

func (e *Engine) invokeStage(ctx context.Context, st *TransformerStage, in unit.Input, ec *unit.ExecutionContext) (out unit.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit panic: %v", r)
		}
	}()

	name := st.Spec.Name
	if iv, ok := st.Processor.(unit.InputValidator); ok {
		if verr := iv.ValidateInput(in); verr != nil {
			if unit.IsFatal(verr) {
				return unit.Output{}, fmt.Errorf("validate input: %w", verr)
			}
			ec.Warnf("stage %s input validation: %v", name, verr)
		}
	}

	out, err = st.Processor.Process(ctx, in, ec)
	if err != nil {
		return unit.Output{}, fmt.Errorf("process: %w", err)
	}

	if ov, ok := st.Processor.(unit.OutputValidator); ok {
		if verr := ov.ValidateOutput(out); verr != nil {
			if unit.IsFatal(verr) {
				return unit.Output{}, fmt.Errorf("validate output: %w", verr)
			}
			ec.Warnf("stage %s output validation: %v", name, verr)
		}
	}

	out, err = st.PostProcessor.Postprocess(ctx, out, ec)
	if err != nil {
		return unit.Output{}, fmt.Errorf("postprocess: %w", err)
	}

	if ov, ok := st.PostProcessor.(unit.OutputValidator); ok {
		if verr := ov.ValidateOutput(out); verr != nil {
			if unit.IsFatal(verr) {
				return unit.Output{}, fmt.Errorf("validate postprocessed output: %w", verr)
			}
			ec.Warnf("stage %s postprocessed output validation: %v", name, verr)
		}
	}

	return out, nil
}

// SaveCheckpoint persists a snapshot of result under id. An empty id
// defaults to the result's run id. Returns the storage location written.
// Reports ErrCheckpointingDisabled when the spec does not enable
// checkpoints.
func (e *Engine) SaveCheckpoint(ctx context.Context, id string, result *PipelineResult) (string, error) {
	if result == nil {
		return "", errors.New("save checkpoint: nil result")
	}

	e.mu.Lock()
	sp := e.spec
	store := e.checkpoints
	e.mu.Unlock()

	if sp == nil {
		return "", ErrSpecNotLoaded
	}
	if !sp.Checkpoints.Enabled {
		return "", fmt.Errorf("%w: %s", ErrCheckpointingDisabled, sp.Name)
	}
	if store == nil {
		store = NewFileStore(sp.Checkpoints.Dir)
	}

	cp := NewCheckpoint(id, result)
	location, err := store.Save(ctx, cp)
	if err != nil {
		return "", fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
	}
	e.logger.Info("checkpoint saved",
		"checkpoint", cp.ID,
		"pipeline", cp.Pipeline,
		"success", cp.Success,
		"location", location,
	)
	return location, nil
}

func (e *Engine) notifyRunStarted(ctx context.Context, pipeline, runID string) {
	if e.recorder != nil {
		if err := e.recorder.RunStarted(ctx, pipeline, runID); err != nil {
			e.logger.Warn("recorder run-started failed", "run_id", runID, "error", err)
		}
	}
	if e.events != nil {
		ev := Event{
			RunID:    runID,
			Pipeline: pipeline,
			Type:     EventRunStarted,
			At:       time.Now().UTC(),
		}
		if err := e.events.Publish(ctx, ev); err != nil {
			e.logger.Warn("event publish failed", "type", ev.Type, "run_id", runID, "error", err)
		}
	}
}

func (e *Engine) notifyStageFinished(ctx context.Context, runID, pipeline string, res StageResult, ec *unit.ExecutionContext) {
	if e.recorder != nil {
		if err := e.recorder.StageFinished(ctx, runID, res); err != nil {
			e.logger.Warn("recorder stage-finished failed", "run_id", runID, "stage", res.Name, "error", err)
		}
	}
	if e.events != nil {
		ev := Event{
			RunID:       runID,
			Pipeline:    pipeline,
			Transformer: res.Transformer,
			Stage:       res.Name,
			Type:        EventStageFinished,
			Items:       ec.ItemsProcessed(),
			At:          time.Now().UTC(),
		}
		if res.Err != nil {
			ev.Err = res.Err.Error()
		}
		if err := e.events.Publish(ctx, ev); err != nil {
			e.logger.Warn("event publish failed", "type", ev.Type, "run_id", runID, "error", err)
		}
	}
	if e.metrics != nil {
		e.metrics.Observe(StageMetrics{
			RunID:       runID,
			Pipeline:    pipeline,
			Transformer: res.Transformer,
			Stage:       res.Name,
			Success:     res.Success,
			Duration:    res.Duration,
			At:          time.Now().UTC(),
		})
	}
}

func (e *Engine) notifyRunFinished(ctx context.Context, runID string, result *PipelineResult, ec *unit.ExecutionContext) {
	if e.recorder != nil {
		if err := e.recorder.RunFinished(ctx, runID, result); err != nil {
			e.logger.Warn("recorder run-finished failed", "run_id", runID, "error", err)
		}
	}
	if e.events != nil {
		ev := Event{
			RunID:    runID,
			Pipeline: result.Pipeline,
			Type:     EventRunFinished,
			Items:    ec.ItemsProcessed(),
			At:       time.Now().UTC(),
		}
		if !result.Success {
			ev.Err = fmt.Sprintf("%d errors recorded", len(ec.Errors()))
		}
		if err := e.events.Publish(ctx, ev); err != nil {
			e.logger.Warn("event publish failed", "type", ev.Type, "run_id", runID, "error", err)
		}
	}
	if e.metrics != nil {
		if err := e.metrics.Flush(ctx); err != nil {
			e.logger.Warn("metrics flush failed", "run_id", runID, "error", err)
		}
	}
}
