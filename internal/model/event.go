package model

import "time"

// Event is an immutable, timestamped domain fact. Events are created only by
// the publisher and never mutated afterwards.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PublishInput is the caller-supplied part of an Event.
type PublishInput struct {
	Type     string         `json:"type"`
	Source   string         `json:"source"`
	Payload  map[string]any `json:"payload"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// IdempotencyKey, when set, makes retries of the same publish reuse the
	// event ID assigned on the first attempt.
	IdempotencyKey string `json:"-"`
}
