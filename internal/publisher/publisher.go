// Package publisher is the entry point for events: it records them, fans
// them out to live subscribers and enqueues webhook deliveries. It also
// owns webhook registration.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/alfredjeanlab/eventhub/internal/idempotency"
	"github.com/alfredjeanlab/eventhub/internal/idgen"
	"github.com/alfredjeanlab/eventhub/internal/metrics"
	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/queue"
	"github.com/alfredjeanlab/eventhub/internal/store"
	"github.com/alfredjeanlab/eventhub/internal/telemetry"
	"github.com/alfredjeanlab/eventhub/internal/webhook"
)

const tracerName = "github.com/alfredjeanlab/eventhub/internal/publisher"

// Broadcaster delivers an event to live subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, e *model.Event) error
}

// Mirror forwards an accepted event to other instances.
type Mirror interface {
	Mirror(ctx context.Context, e *model.Event) error
}

// Deps are the collaborators of a Publisher. Store, Coordinator and Queue
// are required.
type Deps struct {
	Store       store.Store
	Namespace   string
	Coordinator Broadcaster
	Queue       queue.Sender
	Telemetry   telemetry.Sink
	Mirror      Mirror
	Idempotency idempotency.Store
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// Publisher is stateless apart from its injected collaborators and is safe
// for concurrent use.
type Publisher struct {
	store       store.Store
	ns          string
	webhooks    *webhook.Repo
	coordinator Broadcaster
	queue       queue.Sender
	telemetry   telemetry.Sink
	mirror      Mirror
	idem        idempotency.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
	tracer      trace.Tracer
}

// New returns a Publisher wired to deps.
func New(deps Deps) *Publisher {
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.Noop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Publisher{
		store:       deps.Store,
		ns:          deps.Namespace,
		webhooks:    webhook.NewRepo(deps.Store, deps.Namespace),
		coordinator: deps.Coordinator,
		queue:       deps.Queue,
		telemetry:   deps.Telemetry,
		mirror:      deps.Mirror,
		idem:        deps.Idempotency,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
		tracer:      otel.Tracer(tracerName),
	}
}

// Webhooks exposes the webhook repository shared with the dispatcher.
func (p *Publisher) Webhooks() *webhook.Repo { return p.webhooks }

// Publish validates in, records the event and fans it out. Any failure
// after validation is returned as a *model.PublishError naming the step.
//
// With an IdempotencyKey, a repeated call reuses the event ID bound on the
// first call. If that publish completed, the stored event is returned with
// no fan-out. If it failed after storing, only the fan-out is repeated.
func (p *Publisher) Publish(ctx context.Context, in model.PublishInput) (_ *model.Event, err error) {
	if err := model.ValidatePublishInput(&in); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "publisher.publish", trace.WithAttributes(
		attribute.String("event.type", in.Type),
		attribute.String("event.source", in.Source),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	event, stored, done, err := p.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("event.id", event.ID), attribute.Bool("event.replayed", stored))
	if done {
		return event, nil
	}

	if !stored {
		if event, err = p.persist(ctx, event); err != nil {
			return nil, p.fail(model.StepPersist, event.ID, err)
		}
	}

	if err := p.telemetry.WriteSample(ctx, telemetry.Sample{
		Indexes: []string{event.Type},
		Blobs:   []string{event.Type, event.Source, event.ID},
		Doubles: []float64{1},
	}); err != nil {
		return nil, p.fail(model.StepTelemetry, event.ID, err)
	}

	if err := p.coordinator.Broadcast(ctx, event); err != nil {
		return nil, p.fail(model.StepBroadcast, event.ID, err)
	}

	if p.mirror != nil {
		if err := p.mirror.Mirror(ctx, event); err != nil {
			p.logger.Warn("failed to mirror event", "event", event.ID, "error", err)
		}
	}

	if err := p.enqueueDeliveries(ctx, event); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" && p.idem != nil {
		if err := p.idem.Complete(ctx, in.IdempotencyKey, event.ID); err != nil {
			// The event is out; a retry will repeat the fan-out.
			p.logger.Warn("failed to record idempotent publish", "event", event.ID, "error", err)
		}
	}
	return event, nil
}

// prepare assigns the event ID, consulting the idempotency store when a key
// is given. stored reports that the returned event is already persisted and
// done that its fan-out already completed.
func (p *Publisher) prepare(ctx context.Context, in model.PublishInput) (event *model.Event, stored, done bool, err error) {
	id, err := idgen.EventID()
	if err != nil {
		return nil, false, false, p.fail(model.StepPersist, "", fmt.Errorf("generate event id: %w", err))
	}

	if in.IdempotencyKey != "" && p.idem != nil {
		bound, fresh, err := p.idem.Claim(ctx, in.IdempotencyKey, id)
		if err != nil {
			return nil, false, false, p.fail(model.StepPersist, "", fmt.Errorf("claim idempotency key: %w", err))
		}
		if !fresh {
			id = bound
			existing, err := p.getEvent(ctx, id)
			switch {
			case err == nil:
				completed, cerr := p.idem.Completed(ctx, in.IdempotencyKey, id)
				if cerr != nil {
					return nil, false, false, p.fail(model.StepPersist, id, fmt.Errorf("read idempotency key: %w", cerr))
				}
				p.logger.Debug("replaying stored event for idempotency key", "event", id, "completed", completed)
				return existing, true, completed, nil
			case !errors.Is(err, store.ErrNotFound):
				return nil, false, false, p.fail(model.StepPersist, id, err)
			}
		}
	}

	return &model.Event{
		ID:        id,
		Type:      in.Type,
		Source:    in.Source,
		Payload:   in.Payload,
		Timestamp: p.now().UTC(),
		Metadata:  in.Metadata,
	}, false, false, nil
}

// persist stores e. A conflicting ID means a concurrent retry with the same
// idempotency key won; its record is returned instead.
func (p *Publisher) persist(ctx context.Context, e *model.Event) (*model.Event, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return e, fmt.Errorf("encode event: %w", err)
	}
	err = p.store.Create(ctx, p.ns, store.TypeEvent, e.ID, data)
	if errors.Is(err, store.ErrConflict) {
		if existing, gerr := p.getEvent(ctx, e.ID); gerr == nil {
			return existing, nil
		}
	}
	if err != nil {
		return e, &model.PersistenceError{Op: "create event", Err: err}
	}
	return e, nil
}

// enqueueDeliveries sends one job per active webhook subscribed to the
// event's type. Webhooks registered or changed concurrently may or may not
// be seen. Every match is attempted; failures are joined.
func (p *Publisher) enqueueDeliveries(ctx context.Context, e *model.Event) error {
	hooks, err := p.webhooks.List(ctx)
	if err != nil {
		return p.fail(model.StepWebhooks, e.ID, &model.PersistenceError{Op: "list webhooks", Err: err})
	}

	var errs []error
	for _, w := range hooks {
		if !w.Subscribes(e.Type) {
			continue
		}
		job := &model.WebhookDelivery{
			DeliveryID: uuid.NewString(),
			WebhookID:  w.ID,
			EventID:    e.ID,
			Event:      e,
			URL:        w.URL,
			Secret:     w.Secret,
		}
		if err := p.queue.Send(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", w.ID, err))
		}
	}
	if len(errs) > 0 {
		return p.fail(model.StepEnqueue, e.ID, errors.Join(errs...))
	}
	return nil
}

func (p *Publisher) fail(step, eventID string, err error) error {
	if p.metrics != nil {
		p.metrics.PublishErrors.WithLabelValues(step).Inc()
	}
	p.logger.Error("publish failed", "step", step, "event", eventID, "error", err)
	return &model.PublishError{Step: step, EventID: eventID, Err: err}
}

func (p *Publisher) getEvent(ctx context.Context, id string) (*model.Event, error) {
	rec, err := p.store.Get(ctx, p.ns, id)
	if err != nil {
		return nil, err
	}
	if rec.Type != store.TypeEvent {
		return nil, store.ErrNotFound
	}
	return decodeEvent(rec)
}

func decodeEvent(rec *store.Record) (*model.Event, error) {
	var e model.Event
	if err := json.Unmarshal(rec.Data, &e); err != nil {
		return nil, fmt.Errorf("decode event %s: %w", rec.ID, err)
	}
	return &e, nil
}
