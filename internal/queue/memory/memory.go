// Package memory is an in-process queue.Queue with backoff and an attempt
// limit. Jobs do not survive a restart.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/queue"
)

// Options configures a Queue.
type Options struct {
	Capacity  int
	BatchSize int
	Retry     queue.RetryPolicy
	Logger    *slog.Logger
}

type envelope struct {
	job     *model.WebhookDelivery
	attempt int
}

// Queue is a buffered-channel work queue.
type Queue struct {
	ch        chan envelope
	batchSize int
	retry     queue.RetryPolicy
	logger    *slog.Logger

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	dead []*model.WebhookDelivery
}

var _ queue.Queue = (*Queue)(nil)

// New returns an empty queue.
func New(opts Options) *Queue {
	if opts.Capacity <= 0 {
		opts.Capacity = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Queue{
		ch:        make(chan envelope, opts.Capacity),
		batchSize: opts.BatchSize,
		retry:     opts.Retry.WithDefaults(),
		logger:    opts.Logger,
		done:      make(chan struct{}),
	}
}

// Send enqueues job, blocking while the queue is full.
func (q *Queue) Send(ctx context.Context, job *model.WebhookDelivery) error {
	return q.enqueue(ctx, envelope{job: job, attempt: 1})
}

func (q *Queue) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}
	select {
	case q.ch <- env:
		return nil
	case <-q.done:
		return queue.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume hands batches to h until ctx is done or the queue is closed.
// Batches are processed one at a time.
func (q *Queue) Consume(ctx context.Context, h queue.Handler) error {
	for {
		var first envelope
		select {
		case <-ctx.Done():
			return nil
		case <-q.done:
			return queue.ErrClosed
		case first = <-q.ch:
		}

		batch := []queue.Message{q.newMessage(first)}
	fill:
		for len(batch) < q.batchSize {
			select {
			case env := <-q.ch:
				batch = append(batch, q.newMessage(env))
			default:
				break fill
			}
		}

		h(ctx, batch)

		for _, m := range batch {
			msg := m.(*message)
			if msg.settle(stateNone) == stateNone {
				q.logger.Warn("queue: message not settled by handler, retrying", "delivery", msg.env.job.DeliveryID)
				q.scheduleRetry(msg.env)
			}
		}
	}
}

// Len reports the number of jobs waiting for a consumer.
func (q *Queue) Len() int { return len(q.ch) }

// DeadLetters returns jobs that exhausted their attempts.
func (q *Queue) DeadLetters() []*model.WebhookDelivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*model.WebhookDelivery, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close stops Send and Consume. Pending jobs are discarded.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}

func (q *Queue) scheduleRetry(env envelope) {
	if q.retry.Exhausted(env.attempt) {
		q.mu.Lock()
		q.dead = append(q.dead, env.job)
		q.mu.Unlock()
		q.logger.Error("queue: delivery exhausted retries",
			"delivery", env.job.DeliveryID, "webhook", env.job.WebhookID, "attempts", env.attempt)
		return
	}
	delay := q.retry.Backoff(env.attempt)
	next := envelope{job: env.job, attempt: env.attempt + 1}
	time.AfterFunc(delay, func() {
		if err := q.enqueue(context.Background(), next); err != nil {
			q.logger.Debug("queue: dropping retry", "delivery", env.job.DeliveryID, "error", err)
		}
	})
}

const (
	stateNone = iota
	stateAcked
	stateRetried
)

type message struct {
	q   *Queue
	env envelope

	mu    sync.Mutex
	state int
}

func (q *Queue) newMessage(env envelope) *message {
	return &message{q: q, env: env}
}

// settle moves the message to state if it has not been settled yet and
// returns the previous state.
func (m *message) settle(state int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	if prev == stateNone {
		m.state = state
	}
	return prev
}

func (m *message) Job() *model.WebhookDelivery { return m.env.job }

func (m *message) Attempt() int { return m.env.attempt }

func (m *message) Ack() error {
	m.settle(stateAcked)
	return nil
}

func (m *message) Retry() error {
	if m.settle(stateRetried) == stateNone {
		m.q.scheduleRetry(m.env)
	}
	return nil
}
