// Package queue defines the durable work queue that carries webhook
// deliveries from the publisher to the dispatcher.
//
// Delivery is at-least-once: a job is handed to a Handler until it is
// acknowledged or the backend's attempt limit is reached.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

// ErrClosed is returned by Send and Consume after the queue is closed.
var ErrClosed = errors.New("queue: closed")

// Message is one received job.
type Message interface {
	Job() *model.WebhookDelivery
	// Attempt is the 1-based delivery count of this job.
	Attempt() int
	// Ack marks the job done.
	Ack() error
	// Retry asks for redelivery after the backend's backoff. Once the
	// attempt limit is reached the job is dead-lettered instead.
	Retry() error
}

// Handler processes a batch of messages. Each message must be acked or
// retried; messages left untouched are redelivered.
type Handler func(ctx context.Context, batch []Message)

// Sender enqueues jobs.
type Sender interface {
	Send(ctx context.Context, job *model.WebhookDelivery) error
}

// Consumer feeds batches to a Handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// Queue is a Sender and Consumer over one backend.
type Queue interface {
	Sender
	Consumer
	Close() error
}

// RetryPolicy controls redelivery.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a backend is configured without one.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 8,
	BaseDelay:   time.Second,
	MaxDelay:    5 * time.Minute,
}

// WithDefaults fills unset fields from DefaultRetryPolicy.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return p
}

// Backoff returns the delay before redelivering a job that failed on
// attempt (1-based): BaseDelay doubled per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Exhausted reports whether attempt is the last one allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
