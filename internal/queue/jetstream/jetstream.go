// Package jetstream is a queue.Queue on a NATS JetStream work-queue stream.
// Redelivery and the attempt limit are enforced by the server.
package jetstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/queue"
)

// Config names the stream and consumer used for webhook deliveries.
type Config struct {
	Stream    string
	Subject   string
	Durable   string
	BatchSize int
	FetchWait time.Duration
	AckWait   time.Duration
	Retry     queue.RetryPolicy
	Logger    *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Stream == "" {
		c.Stream = "EVENTHUB_DELIVERIES"
	}
	if c.Subject == "" {
		c.Subject = "eventhub.delivery"
	}
	if c.Durable == "" {
		c.Durable = "eventhub-dispatcher"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.FetchWait <= 0 {
		c.FetchWait = time.Second
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	c.Retry = c.Retry.WithDefaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Queue publishes jobs to a work-queue stream and pulls them with a durable
// consumer.
type Queue struct {
	cfg      Config
	js       jetstream.JetStream
	consumer jetstream.Consumer
	closed   atomic.Bool
}

var _ queue.Queue = (*Queue)(nil)

// New ensures the stream and consumer exist on nc's JetStream context.
func New(ctx context.Context, nc *nats.Conn, cfg Config) (*Queue, error) {
	cfg.setDefaults()
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Subject},
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream: create stream %s: %w", cfg.Stream, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.Retry.MaxAttempts,
		FilterSubject: cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream: create consumer %s: %w", cfg.Durable, err)
	}

	return &Queue{cfg: cfg, js: js, consumer: consumer}, nil
}

// Send publishes job. The delivery id doubles as the JetStream message id,
// so a repeated Send within the duplicate window is stored once.
func (q *Queue) Send(ctx context.Context, job *model.WebhookDelivery) error {
	if q.closed.Load() {
		return queue.ErrClosed
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jetstream: encode job: %w", err)
	}
	if _, err := q.js.Publish(ctx, q.cfg.Subject, data, jetstream.WithMsgID(job.DeliveryID)); err != nil {
		return fmt.Errorf("jetstream: publish: %w", err)
	}
	return nil
}

// Consume pulls batches until ctx is done or the queue is closed.
func (q *Queue) Consume(ctx context.Context, h queue.Handler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if q.closed.Load() {
			return queue.ErrClosed
		}

		batch, err := q.consumer.Fetch(q.cfg.BatchSize, jetstream.FetchMaxWait(q.cfg.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, jetstream.ErrConsumerDeleted) {
				return err
			}
			q.cfg.Logger.Warn("jetstream: fetch failed", "error", err)
			if !sleep(ctx, q.cfg.FetchWait) {
				return nil
			}
			continue
		}

		var msgs []queue.Message
		for raw := range batch.Messages() {
			m, err := q.decode(raw)
			if err != nil {
				q.cfg.Logger.Error("jetstream: dropping undecodable job", "error", err)
				_ = raw.Term()
				continue
			}
			msgs = append(msgs, m)
		}
		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			q.cfg.Logger.Debug("jetstream: batch ended early", "error", err)
		}
		if len(msgs) > 0 {
			h(ctx, msgs)
		}
	}
}

// Close stops Send and Consume. The connection belongs to the caller.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}

func (q *Queue) decode(raw jetstream.Msg) (*message, error) {
	var job model.WebhookDelivery
	if err := json.Unmarshal(raw.Data(), &job); err != nil {
		return nil, err
	}
	attempt := 1
	if md, err := raw.Metadata(); err == nil {
		attempt = int(md.NumDelivered)
	}
	job.Attempt = attempt
	return &message{raw: raw, job: &job, attempt: attempt, q: q}, nil
}

type message struct {
	raw     jetstream.Msg
	job     *model.WebhookDelivery
	attempt int
	q       *Queue
}

func (m *message) Job() *model.WebhookDelivery { return m.job }

func (m *message) Attempt() int { return m.attempt }

func (m *message) Ack() error { return m.raw.Ack() }

func (m *message) Retry() error {
	if m.q.cfg.Retry.Exhausted(m.attempt) {
		m.q.cfg.Logger.Error("jetstream: delivery exhausted retries",
			"delivery", m.job.DeliveryID, "webhook", m.job.WebhookID, "attempts", m.attempt)
		return m.raw.Term()
	}
	return m.raw.NakWithDelay(m.q.cfg.Retry.Backoff(m.attempt))
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
