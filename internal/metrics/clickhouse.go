// Package metrics ships per-stage timings to ClickHouse.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/engine"
)

// Table is the ClickHouse table stage metrics are written to.
const Table = "pipeline_stage_metrics"

const ddl = `
CREATE TABLE IF NOT EXISTS ` + Table + ` (
	run_id String,
	pipeline String,
	transformer String,
	stage String,
	success UInt8,
	duration_ms Float64,
	at DateTime
) ENGINE = MergeTree()
ORDER BY (pipeline, transformer, stage, at)
`

const insert = `INSERT INTO ` + Table +
	` (run_id, pipeline, transformer, stage, success, duration_ms, at) VALUES`

// appender is the slice of driver.Batch the sink uses.
type appender interface {
	Append(v ...any) error
	Send() error
}

// inserter is the slice of driver.Conn the sink uses. Tests substitute an
// in-memory implementation.
type inserter interface {
	exec(ctx context.Context, query string) error
	prepareBatch(ctx context.Context, query string) (appender, error)
	close() error
}

type chConn struct {
	conn driver.Conn
}

func (c chConn) exec(ctx context.Context, query string) error {
	return c.conn.Exec(ctx, query)
}

func (c chConn) prepareBatch(ctx context.Context, query string) (appender, error) {
	return c.conn.PrepareBatch(ctx, query)
}

func (c chConn) close() error { return c.conn.Close() }

// Options configure the ClickHouse connection.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseSink buffers stage observations in memory and writes them as one
// prepared batch per flush. It implements engine.MetricsSink.
type ClickHouseSink struct {
	conn   inserter
	logger *slog.Logger

	mu  sync.Mutex
	buf []engine.StageMetrics
}

// NewClickHouseSink dials ClickHouse and ensures the metrics table exists.
func NewClickHouseSink(ctx context.Context, opts Options) (*ClickHouseSink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", opts.Addr, err)
	}

	s := &ClickHouseSink{conn: chConn{conn: conn}, logger: slog.Default()}
	if err := s.conn.exec(ctx, ddl); err != nil {
		s.conn.close()
		return nil, fmt.Errorf("ensure metrics table: %w", err)
	}
	return s, nil
}

// WithLogger overrides the sink's logger. Chainable.
func (s *ClickHouseSink) WithLogger(logger *slog.Logger) *ClickHouseSink {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Observe appends one stage observation to the buffer. Safe for concurrent
// use.
func (s *ClickHouseSink) Observe(m engine.StageMetrics) {
	s.mu.Lock()
	s.buf = append(s.buf, m)
	s.mu.Unlock()
}

// Buffered reports how many observations await the next flush.
func (s *ClickHouseSink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Flush writes the buffered observations in one batch and clears the buffer.
// An empty buffer is a no-op. On failure the drained observations are
// dropped, not retried.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	s.mu.Lock()
	rows := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	batch, err := s.conn.prepareBatch(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare metrics batch: %w", err)
	}
	for _, m := range rows {
		var success uint8
		if m.Success {
			success = 1
		}
		if err := batch.Append(
			m.RunID,
			m.Pipeline,
			m.Transformer,
			m.Stage,
			success,
			float64(m.Duration.Milliseconds()),
			m.At,
		); err != nil {
			return fmt.Errorf("append metric %s/%s: %w", m.Transformer, m.Stage, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send metrics batch: %w", err)
	}

	s.logger.Debug("stage metrics flushed", "rows", len(rows))
	return nil
}

// Close releases the ClickHouse connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.close()
}
