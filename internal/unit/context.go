package unit

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Well-known metadata keys the engine seeds into every execution context.
// Units consult them to pick their own execution strategy.
const (
	MetaParallel   = "parallel"
	MetaMaxWorkers = "max_workers"
)

// ExecutionContext is the shared state of one pipeline run. Every unit in
// every stage receives the same instance, so all methods are safe for
// concurrent use. Counters are monotonic; errors and warnings are
// append-only.
type ExecutionContext struct {
	pipeline string
	runID    string
	started  time.Time

	items atomic.Int64

	mu       sync.RWMutex
	errors   []string
	warnings []string
	meta     map[string]any
}

// NewExecutionContext creates the context for a run of the named pipeline.
func NewExecutionContext(pipeline, runID string) *ExecutionContext {
	return &ExecutionContext{
		pipeline: pipeline,
		runID:    runID,
		started:  time.Now(),
		meta:     make(map[string]any),
	}
}

// Pipeline returns the name of the pipeline being run.
func (ec *ExecutionContext) Pipeline() string { return ec.pipeline }

// RunID returns the unique identifier of this run.
func (ec *ExecutionContext) RunID() string { return ec.runID }

// AddItems increments the processed-item counter by n.
func (ec *ExecutionContext) AddItems(n int64) {
	ec.items.Add(n)
}

// ItemsProcessed returns the current processed-item count.
func (ec *ExecutionContext) ItemsProcessed() int64 {
	return ec.items.Load()
}

// AddError records a non-fatal error message.
func (ec *ExecutionContext) AddError(msg string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.errors = append(ec.errors, msg)
}

// Errorf records a formatted non-fatal error message.
func (ec *ExecutionContext) Errorf(format string, args ...any) {
	ec.AddError(fmt.Sprintf(format, args...))
}

// AddWarning records a warning message.
func (ec *ExecutionContext) AddWarning(msg string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.warnings = append(ec.warnings, msg)
}

// Warnf records a formatted warning message.
func (ec *ExecutionContext) Warnf(format string, args ...any) {
	ec.AddWarning(fmt.Sprintf(format, args...))
}

// Errors returns a copy of the recorded error messages.
func (ec *ExecutionContext) Errors() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]string, len(ec.errors))
	copy(out, ec.errors)
	return out
}

// Warnings returns a copy of the recorded warning messages.
func (ec *ExecutionContext) Warnings() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]string, len(ec.warnings))
	copy(out, ec.warnings)
	return out
}

// SetMeta stores a metadata value under key.
func (ec *ExecutionContext) SetMeta(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.meta[key] = value
}

// Meta returns the metadata value for key, if set.
func (ec *ExecutionContext) Meta(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.meta[key]
	return v, ok
}

// ParallelEnabled reports whether the run was started with parallel
// execution turned on.
func (ec *ExecutionContext) ParallelEnabled() bool {
	v, ok := ec.Meta(MetaParallel)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MaxWorkers returns the run's global worker-count override, or def when no
// override was set.
func (ec *ExecutionContext) MaxWorkers(def int) int {
	v, ok := ec.Meta(MetaMaxWorkers)
	if !ok {
		return def
	}
	if n, ok := v.(int); ok && n > 0 {
		return n
	}
	return def
}

// Elapsed returns the time since the context was created.
func (ec *ExecutionContext) Elapsed() time.Duration {
	return time.Since(ec.started)
}

// LogValue lets the context be logged as a structured group.
func (ec *ExecutionContext) LogValue() slog.Value {
	ec.mu.RLock()
	errs := len(ec.errors)
	warns := len(ec.warnings)
	ec.mu.RUnlock()
	return slog.GroupValue(
		slog.String("pipeline", ec.pipeline),
		slog.String("run_id", ec.runID),
		slog.Int64("items", ec.items.Load()),
		slog.Int("errors", errs),
		slog.Int("warnings", warns),
		slog.Duration("elapsed", ec.Elapsed()),
	)
}
