// Package rabbitmq is a queue.Queue on RabbitMQ.
//
// Jobs live on a durable work queue and are consumed with manual acks. A
// retry republishes the job to a companion retry queue with a per-message
// TTL equal to the backoff; when it expires RabbitMQ dead-letters it back
// onto the work queue. Jobs that exhaust their attempts are parked on a
// dead-letter queue.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/queue"
)

// attemptHeader carries the 1-based attempt number of a job.
const attemptHeader = "x-attempt"

// Config names the queues and connection.
type Config struct {
	URL         string
	Queue       string
	Prefetch    int
	BatchSize   int
	ConnTimeout time.Duration
	Retry       queue.RetryPolicy
	Logger      *slog.Logger
}

func (c *Config) setDefaults() {
	if c.Queue == "" {
		c.Queue = "eventhub.deliveries"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Prefetch < c.BatchSize {
		c.Prefetch = c.BatchSize
	}
	if c.ConnTimeout <= 0 {
		c.ConnTimeout = 10 * time.Second
	}
	c.Retry = c.Retry.WithDefaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func (c *Config) retryQueue() string { return c.Queue + ".retry" }
func (c *Config) deadQueue() string  { return c.Queue + ".dead" }

// Queue is a RabbitMQ-backed delivery queue.
type Queue struct {
	cfg  Config
	conn *amqp.Connection

	pubMu sync.Mutex
	pub   *amqp.Channel

	closeOnce sync.Once
}

var _ queue.Queue = (*Queue)(nil)

// Dial connects and declares the work, retry and dead-letter queues.
func Dial(cfg Config) (*Queue, error) {
	cfg.setDefaults()
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq: url required")
	}
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Properties: amqp.Table{"product": "eventhub"},
		Dial:       amqp.DefaultDial(cfg.ConnTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := declare(ch, &cfg); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Queue{cfg: cfg, conn: conn, pub: ch}, nil
}

func declare(ch *amqp.Channel, cfg *Config) error {
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", cfg.Queue, err)
	}
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": cfg.Queue,
	}
	if _, err := ch.QueueDeclare(cfg.retryQueue(), true, false, false, false, retryArgs); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", cfg.retryQueue(), err)
	}
	if _, err := ch.QueueDeclare(cfg.deadQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq: declare %s: %w", cfg.deadQueue(), err)
	}
	return nil
}

// Send publishes job as a persistent message on the work queue.
func (q *Queue) Send(ctx context.Context, job *model.WebhookDelivery) error {
	return q.publish(ctx, q.cfg.Queue, job, 1, 0)
}

func (q *Queue) publish(ctx context.Context, routingKey string, job *model.WebhookDelivery, attempt int, ttl time.Duration) error {
	if q.conn.IsClosed() {
		return queue.ErrClosed
	}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("rabbitmq: encode job: %w", err)
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    job.DeliveryID,
		Timestamp:    time.Now(),
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
		Body:         body,
	}
	if ttl > 0 {
		msg.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	if err := q.pub.PublishWithContext(ctx, "", routingKey, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// Consume delivers batches of up to BatchSize until ctx is done.
func (q *Queue) Consume(ctx context.Context, h queue.Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		if q.conn.IsClosed() {
			return queue.ErrClosed
		}
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: qos: %w", err)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume: %w", err)
	}

	for {
		var first amqp.Delivery
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case first, ok = <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return queue.ErrClosed
			}
		}

		batch := []queue.Message{q.newMessage(first)}
	fill:
		for len(batch) < q.cfg.BatchSize {
			select {
			case d, ok := <-deliveries:
				if !ok {
					break fill
				}
				batch = append(batch, q.newMessage(d))
			default:
				break fill
			}
		}
		h(ctx, filterDecoded(q.cfg.Logger, batch))
	}
}

// Close closes the connection; running consumers stop.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		err = q.conn.Close()
	})
	return err
}

// attemptOf reads the attempt header, defaulting to 1.
func attemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 1
}

type message struct {
	q        *Queue
	delivery amqp.Delivery
	job      *model.WebhookDelivery
	attempt  int
	err      error
}

func (q *Queue) newMessage(d amqp.Delivery) *message {
	m := &message{q: q, delivery: d, attempt: attemptOf(d.Headers)}
	var job model.WebhookDelivery
	if err := json.Unmarshal(d.Body, &job); err != nil {
		m.err = err
		return m
	}
	job.Attempt = m.attempt
	m.job = &job
	return m
}

// filterDecoded rejects messages whose body could not be decoded.
func filterDecoded(logger *slog.Logger, batch []queue.Message) []queue.Message {
	out := batch[:0]
	for _, qm := range batch {
		m := qm.(*message)
		if m.err != nil {
			logger.Error("rabbitmq: dropping undecodable job", "error", m.err)
			_ = m.delivery.Reject(false)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (m *message) Job() *model.WebhookDelivery { return m.job }

func (m *message) Attempt() int { return m.attempt }

func (m *message) Ack() error { return m.delivery.Ack(false) }

// Retry republishes the job onto the retry queue (or the dead-letter queue
// once exhausted) and acks the original. If the republish fails the
// original is requeued instead.
func (m *message) Retry() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &m.q.cfg
	var err error
	if cfg.Retry.Exhausted(m.attempt) {
		cfg.Logger.Error("rabbitmq: delivery exhausted retries",
			"delivery", m.job.DeliveryID, "webhook", m.job.WebhookID, "attempts", m.attempt)
		err = m.q.publish(ctx, cfg.deadQueue(), m.job, m.attempt, 0)
	} else {
		err = m.q.publish(ctx, cfg.retryQueue(), m.job, m.attempt+1, cfg.Retry.Backoff(m.attempt))
	}
	if err != nil {
		cfg.Logger.Warn("rabbitmq: retry republish failed, requeueing", "delivery", m.job.DeliveryID, "error", err)
		return m.delivery.Nack(false, true)
	}
	return m.delivery.Ack(false)
}
