package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of *kafka.Writer used by Kafka.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka forwards samples to a topic as JSON, keyed by the first index.
type Kafka struct {
	w messageWriter
}

// NewKafka returns a sink with an async writer; WriteSample never waits for
// the broker.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Async:        true,
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}}
}

func (k *Kafka) WriteSample(ctx context.Context, s Sample) error {
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sample: %w", err)
	}
	msg := kafka.Message{Value: value}
	if len(s.Indexes) > 0 {
		msg.Key = []byte(s.Indexes[0])
		msg.Headers = append(msg.Headers, kafka.Header{Key: "event_type", Value: []byte(s.Indexes[0])})
	}
	if id := s.blob(2); id != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "event_id", Value: []byte(id)})
	}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes pending messages.
func (k *Kafka) Close() error { return k.w.Close() }

// SplitBrokers parses a comma-separated broker list.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
