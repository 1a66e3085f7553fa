// Package telemetry receives fire-and-forget samples about published events.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
)

// Sample is one analytics data point. For published events Indexes holds
// the event type, Blobs holds type, source and id, and Doubles holds a
// single count of 1.
type Sample struct {
	Indexes []string  `json:"indexes"`
	Blobs   []string  `json:"blobs"`
	Doubles []float64 `json:"doubles"`
}

// blob returns Blobs[i] or "" when absent.
func (s Sample) blob(i int) string {
	if i < len(s.Blobs) {
		return s.Blobs[i]
	}
	return ""
}

// value returns Doubles[0], defaulting to 1.
func (s Sample) value() float64 {
	if len(s.Doubles) > 0 {
		return s.Doubles[0]
	}
	return 1
}

// Sink accepts samples.
type Sink interface {
	WriteSample(ctx context.Context, s Sample) error
}

// Noop discards samples.
type Noop struct{}

func (Noop) WriteSample(context.Context, Sample) error { return nil }

// Log writes samples to a structured logger at debug level.
type Log struct {
	Logger *slog.Logger
}

func (l Log) WriteSample(ctx context.Context, s Sample) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "telemetry sample", "indexes", s.Indexes, "blobs", s.Blobs, "doubles", s.Doubles)
	return nil
}

// Multi writes each sample to every sink and joins their errors.
type Multi []Sink

func (m Multi) WriteSample(ctx context.Context, s Sample) error {
	var errs []error
	for _, sink := range m {
		if err := sink.WriteSample(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
