// Package events publishes run lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/cory-johannsen/darksun-pf2e-sub001/internal/engine"
)

// Writer is the slice of kafka.Writer the sink needs. It exists so tests can
// substitute an in-memory writer.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes engine events as JSON messages keyed by run id, so
// every event of a run lands on the same partition in order. It implements
// engine.EventSink.
type KafkaSink struct {
	writer Writer
	logger *slog.Logger
}

// NewKafkaSink returns a sink writing to topic on the given broker.
func NewKafkaSink(broker, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaSink{writer: w, logger: slog.Default()}
}

// NewKafkaSinkWithWriter wraps an existing writer.
func NewKafkaSinkWithWriter(w Writer) *KafkaSink {
	return &KafkaSink{writer: w, logger: slog.Default()}
}

// WithLogger overrides the sink's logger. Chainable.
func (s *KafkaSink) WithLogger(logger *slog.Logger) *KafkaSink {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Publish sends one event.
func (s *KafkaSink) Publish(ctx context.Context, ev engine.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(ev.RunID),
		Value: value,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish event %s: %w", ev.Type, err)
	}
	s.logger.Debug("event published", "type", ev.Type, "run_id", ev.RunID)
	return nil
}

// Close flushes and closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
