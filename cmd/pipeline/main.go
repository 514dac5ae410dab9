// Command pipeline loads a YAML pipeline specification, resolves its units,
// and executes it. Integrations (run history, events, metrics, object-store
// checkpoints) are wired from environment variables when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/engine"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/events"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/metrics"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/registry"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/spec"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/storage"
	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/store"
	_ "github.com/cory-johannsen/darksun-pf2e-sub001/internal/units"
	"github.com/cory-johannsen/darksun-pf2e-sub001/pkg/graceful"
)

type options struct {
	config     string
	startFrom  string
	stage      string
	dryRun     bool
	parallel   string
	workers    int
	checkpoint string
	plugins    string
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "pipeline.yaml", "path to the pipeline specification")
	flag.StringVar(&opts.startFrom, "start-from", "", "resume from a transformer, stage, or transformer/stage")
	flag.StringVar(&opts.stage, "stage", "", "run exactly one stage instead of the whole pipeline")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "validate the pipeline wiring without running any unit")
	flag.StringVar(&opts.parallel, "parallel", "", "override the spec's parallel flag: on or off")
	flag.IntVar(&opts.workers, "workers", 0, "worker-count hint for parallel units")
	flag.StringVar(&opts.checkpoint, "checkpoint", "", "save a checkpoint under this id after the run")
	flag.StringVar(&opts.plugins, "plugins", "", "directory to scan for *_unit.so plugins")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel()}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found, using process environment")
	}

	ctx, cancel := graceful.Context(context.Background())
	defer cancel()

	ok, err := run(ctx, logger, opts)
	if err != nil {
		logger.Error("pipeline aborted", "error", err)
		os.Exit(1)
	}
	if !ok {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, opts options) (bool, error) {
	if opts.stage != "" && opts.startFrom != "" {
		return false, errors.New("-stage and -start-from are mutually exclusive")
	}

	sp, err := spec.Load(opts.config)
	if err != nil {
		return false, err
	}
	switch opts.parallel {
	case "":
	case "on":
		sp.SetParallel(true)
	case "off":
		sp.SetParallel(false)
	default:
		return false, fmt.Errorf("invalid -parallel value %q, want on or off", opts.parallel)
	}

	reg := registry.Default().WithLogger(logger)
	if opts.plugins != "" {
		if err := reg.Discover(opts.plugins); err != nil {
			return false, fmt.Errorf("discover plugins: %w", err)
		}
	}

	eng := engine.New(reg).WithLogger(logger)

	if dbPath := os.Getenv("PIPELINE_DB"); dbPath != "" {
		recorder, err := store.Open(dbPath)
		if err != nil {
			return false, err
		}
		defer recorder.Close()
		eng.WithRecorder(recorder.WithLogger(logger))
		logger.Info("run history enabled", "db", dbPath)
	}

	if broker, topic := os.Getenv("KAFKA_BROKER"), os.Getenv("KAFKA_TOPIC"); broker != "" && topic != "" {
		sink := events.NewKafkaSink(broker, topic).WithLogger(logger)
		defer sink.Close()
		eng.WithEventSink(sink)
		logger.Info("event publishing enabled", "broker", broker, "topic", topic)
	}

	if addr := os.Getenv("CLICKHOUSE_ADDR"); addr != "" {
		sink, err := metrics.NewClickHouseSink(ctx, metrics.Options{
			Addr:     addr,
			Database: os.Getenv("CLICKHOUSE_DB"),
			Username: os.Getenv("CLICKHOUSE_USER"),
			Password: os.Getenv("CLICKHOUSE_PASSWORD"),
		})
		if err != nil {
			return false, err
		}
		defer sink.Close()
		eng.WithMetrics(sink.WithLogger(logger))
		logger.Info("stage metrics enabled", "addr", addr)
	}

	if bucket := os.Getenv("CHECKPOINT_BUCKET"); bucket != "" {
		cpStore, err := storage.NewObjectStore(bucket, sp.Name)
		if err != nil {
			return false, err
		}
		if err := cpStore.EnsureBucket(ctx); err != nil {
			return false, err
		}
		eng.WithCheckpointStore(cpStore.WithLogger(logger))
		logger.Info("object checkpoint store enabled", "bucket", bucket)
	}

	if err := eng.UseSpec(sp); err != nil {
		return false, err
	}
	if err := eng.BuildGraph(); err != nil {
		return false, err
	}

	runOpts := engine.RunOptions{
		StartFrom:  opts.startFrom,
		DryRun:     opts.dryRun,
		MaxWorkers: opts.workers,
	}
	if opts.stage != "" {
		runOpts.StartFrom = opts.stage
		runOpts.StageOnly = true
	}

	res, err := eng.Execute(ctx, runOpts)
	if err != nil {
		return false, err
	}

	if opts.checkpoint != "" && !opts.dryRun {
		if _, err := eng.SaveCheckpoint(ctx, opts.checkpoint, res); err != nil {
			if !errors.Is(err, engine.ErrCheckpointingDisabled) {
				return res.Success, err
			}
			logger.Warn("checkpoint not saved", "error", err)
		}
	}

	return res.Success, nil
}

func logLevel() slog.Level {
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
