package model

import "fmt"

// NotFoundError reports a missing resource by kind and id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// PersistenceError wraps a failure returned by the record store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Publish steps reported by PublishError.
const (
	StepPersist   = "persist"
	StepTelemetry = "telemetry"
	StepBroadcast = "broadcast"
	StepWebhooks  = "webhooks"
	StepEnqueue   = "enqueue"
)

// PublishError reports that a publish did not complete. EventID is set when
// an ID had been assigned, so the caller can correlate a retry.
type PublishError struct {
	Step    string
	EventID string
	Err     error
}

func (e *PublishError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("publish event %s: %s: %v", e.EventID, e.Step, e.Err)
	}
	return fmt.Sprintf("publish: %s: %v", e.Step, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// DeliveryError reports a failed webhook POST: either a non-2xx status or a
// transport error. It stays inside the dispatcher and only drives retries.
type DeliveryError struct {
	WebhookID  string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver to webhook %s: %v", e.WebhookID, e.Err)
	}
	return fmt.Sprintf("deliver to webhook %s: unexpected status %d", e.WebhookID, e.StatusCode)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
