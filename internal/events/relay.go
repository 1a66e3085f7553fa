package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

// Mirror publishes accepted events for other instances.
type Mirror struct {
	pub    Publisher
	origin string
}

// NewMirror returns a Mirror that stamps envelopes with origin.
func NewMirror(pub Publisher, origin string) *Mirror {
	return &Mirror{pub: pub, origin: origin}
}

// Origin returns the instance id stamped on outgoing envelopes.
func (m *Mirror) Origin() string { return m.origin }

// Mirror publishes e on its type subject.
func (m *Mirror) Mirror(ctx context.Context, e *model.Event) error {
	return m.pub.Publish(ctx, Subject(e.Type), Envelope{Origin: m.origin, Event: e})
}

// Broadcaster is the part of the broadcast coordinator the relay feeds.
type Broadcaster interface {
	Broadcast(ctx context.Context, e *model.Event) error
}

// Relay forwards events mirrored by other instances into the local
// coordinator.
type Relay struct {
	sub    Subscriber
	origin string
	target Broadcaster
	logger *slog.Logger
}

// NewRelay returns a relay that ignores envelopes stamped with origin.
func NewRelay(sub Subscriber, origin string, target Broadcaster, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{sub: sub, origin: origin, target: target, logger: logger}
}

// Run consumes mirrored events until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	ch, cancel, err := r.sub.Subscribe(AllSubjects)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, data)
		}
	}
}

func (r *Relay) handle(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		r.logger.Warn("relay: dropping malformed envelope", "error", err)
		return
	}
	if env.Event == nil || env.Origin == r.origin {
		return
	}
	if err := r.target.Broadcast(ctx, env.Event); err != nil {
		r.logger.Warn("relay: broadcast failed", "event", env.Event.ID, "origin", env.Origin, "error", err)
	}
}
