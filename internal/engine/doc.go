// Package engine orchestrates staged pipeline execution: it loads a
// declarative specification, resolves every stage's units through a
// registry, and runs the resulting graph sequentially while a shared
// execution context accumulates counts, warnings, and errors.
//
// # Quick Start
//
// Describe the pipeline in YAML:
//
//	name: compendium
//	version: 1.0.0
//	parallel: true
//	checkpoints:
//	  enabled: true
//	  dir: ./checkpoints
//	transformers:
//	  - name: ingest
//	    stages:
//	      - name: scan
//	        processor:
//	          name: scanner
//	          impl:
//	            name: file_scan
//	          config:
//	            root: ./data
//	            pattern: "*.json"
//	      - name: hash
//	        processor:
//	          name: hasher
//	          impl:
//	            name: digest
//	        postprocessor:
//	          name: archiver
//	          impl:
//	            name: json_archive
//	          config:
//	            dir: ./out
//
// Register unit implementations (built-ins self-register in init), then
// load, build, and execute:
//
//	eng := engine.New(nil) // nil means the default registry
//	if err := eng.LoadSpec("pipeline.yaml"); err != nil {
//	    return err
//	}
//	if err := eng.BuildGraph(); err != nil {
//	    return err
//	}
//	result, err := eng.Execute(ctx, engine.RunOptions{})
//	if err != nil {
//	    return err
//	}
//	if !result.Success {
//	    for _, st := range result.FailedStages() {
//	        slog.Error("stage failed", "stage", st.Transformer+"/"+st.Name, "error", st.Err)
//	    }
//	}
//
// # Failure Semantics
//
// Malformed specs and unresolvable units abort LoadSpec/BuildGraph before
// anything runs. Once execution starts, a stage failure is contained: it is
// recorded in the run context, the rest of that transformer's stages are
// skipped, and later transformers still execute. The result reports overall
// success only when every executed stage succeeded and the context holds no
// errors.
//
// # Dry Run and Resume
//
// A dry run checks that every stage resolved without invoking any unit:
//
//	result, err := eng.Execute(ctx, engine.RunOptions{DryRun: true})
//
// Resume skips everything declared before a named target. The target may be
// a transformer, a stage, or a qualified "transformer/stage":
//
//	result, err := eng.Execute(ctx, engine.RunOptions{StartFrom: "ingest/hash"})
//
// StageOnly narrows execution to exactly the named stage:
//
//	result, err := eng.Execute(ctx, engine.RunOptions{StartFrom: "hash", StageOnly: true})
//
// # Checkpoints
//
// A checkpoint is an immutable snapshot of a result, saved on request after
// a run. It is observational only; resuming is always by stage name.
//
//	if result.Success {
//	    location, err := eng.SaveCheckpoint(ctx, "nightly", result)
//	    if errors.Is(err, engine.ErrCheckpointingDisabled) {
//	        slog.Info("checkpointing disabled, skipping")
//	    }
//	}
//
// By default checkpoints are JSON files under the spec's checkpoint dir;
// WithCheckpointStore swaps in another store (an object-store backend lives
// in internal/storage).
//
// # Observers
//
// Run bookkeeping, lifecycle events, and stage metrics attach through
// chainable builders and are all optional:
//
//	eng := engine.New(nil).
//	    WithLogger(logger).
//	    WithRecorder(runStore).   // e.g. internal/store (SQLite)
//	    WithEventSink(eventSink). // e.g. internal/events (Kafka)
//	    WithMetrics(metricsSink)  // e.g. internal/metrics (ClickHouse)
//
// Observer failures are logged and never affect the run outcome.
package engine
