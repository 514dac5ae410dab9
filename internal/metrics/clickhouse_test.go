package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/engine"
)

var _ engine.MetricsSink = (*ClickHouseSink)(nil)

type fakeBatch struct {
	rows    [][]any
	sendErr error
	sent    bool
}

func (b *fakeBatch) Append(v ...any) error {
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = true
	return nil
}

type fakeConn struct {
	batch      *fakeBatch
	prepares   int
	prepareErr error
	closed     bool
}

func (c *fakeConn) exec(context.Context, string) error { return nil }

func (c *fakeConn) prepareBatch(context.Context, string) (appender, error) {
	c.prepares++
	if c.prepareErr != nil {
		return nil, c.prepareErr
	}
	return c.batch, nil
}

func (c *fakeConn) close() error {
	c.closed = true
	return nil
}

func newTestSink(conn inserter) *ClickHouseSink {
	return &ClickHouseSink{
		conn:   conn,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestFlushWritesBufferedRows(t *testing.T) {
	fc := &fakeConn{batch: &fakeBatch{}}
	sink := newTestSink(fc)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sink.Observe(engine.StageMetrics{
		RunID:       "run-1",
		Pipeline:    "compendium",
		Transformer: "ingest",
		Stage:       "scan",
		Success:     true,
		Duration:    150 * time.Millisecond,
		At:          at,
	})
	sink.Observe(engine.StageMetrics{
		RunID:       "run-1",
		Pipeline:    "compendium",
		Transformer: "ingest",
		Stage:       "hash",
		Success:     false,
		Duration:    7 * time.Millisecond,
		At:          at,
	})
	require.Equal(t, 2, sink.Buffered())

	require.NoError(t, sink.Flush(context.Background()))
	require.Zero(t, sink.Buffered())
	require.True(t, fc.batch.sent)
	require.Len(t, fc.batch.rows, 2)

	require.Equal(t,
		[]any{"run-1", "compendium", "ingest", "scan", uint8(1), float64(150), at},
		fc.batch.rows[0])
	require.Equal(t,
		[]any{"run-1", "compendium", "ingest", "hash", uint8(0), float64(7), at},
		fc.batch.rows[1])
}

func TestFlushEmptyBufferIsNoop(t *testing.T) {
	fc := &fakeConn{batch: &fakeBatch{}}
	sink := newTestSink(fc)

	require.NoError(t, sink.Flush(context.Background()))
	require.Zero(t, fc.prepares)
}

func TestFlushPrepareFailure(t *testing.T) {
	boom := errors.New("connection refused")
	fc := &fakeConn{prepareErr: boom}
	sink := newTestSink(fc)

	sink.Observe(engine.StageMetrics{Stage: "scan"})
	require.ErrorIs(t, sink.Flush(context.Background()), boom)

	// Drained observations are dropped, not retried.
	require.Zero(t, sink.Buffered())
}

func TestFlushSendFailure(t *testing.T) {
	boom := errors.New("table read only")
	fc := &fakeConn{batch: &fakeBatch{sendErr: boom}}
	sink := newTestSink(fc)

	sink.Observe(engine.StageMetrics{Stage: "scan"})
	require.ErrorIs(t, sink.Flush(context.Background()), boom)
}

func TestObserveConcurrent(t *testing.T) {
	sink := newTestSink(&fakeConn{batch: &fakeBatch{}})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				sink.Observe(engine.StageMetrics{Stage: "scan"})
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 400, sink.Buffered())
}

func TestCloseReleasesConnection(t *testing.T) {
	fc := &fakeConn{}
	sink := newTestSink(fc)

	require.NoError(t, sink.Close())
	require.True(t, fc.closed)
}
