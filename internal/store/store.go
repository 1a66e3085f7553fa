// Package store defines the generic record store the hub persists events
// and webhooks in.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Namespaced record types.
const (
	TypeEvent          = "event"
	TypeWebhook        = "webhook"
	TypeWebhookTrigger = "webhook_trigger"
)

var (
	// ErrNotFound is returned by Get and Update when no record has the id.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by Create when the id is already taken.
	ErrConflict = errors.New("record already exists")
)

// Record is one stored document.
type Record struct {
	Namespace string
	Type      string
	ID        string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListOptions bounds a List call. A Limit of zero means no limit.
type ListOptions struct {
	Limit int
}

// Store is a namespaced CRUD store of opaque JSON documents keyed by id.
type Store interface {
	Create(ctx context.Context, ns, typ, id string, data []byte) error
	Get(ctx context.Context, ns, id string) (*Record, error)
	Update(ctx context.Context, ns, id string, data []byte) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, ns, id string) error
	// List returns records of one type, newest first by id.
	List(ctx context.Context, ns, typ string, opts ListOptions) ([]*Record, error)

	Close() error
}
