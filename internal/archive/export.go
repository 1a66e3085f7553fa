package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/store"
	"github.com/alfredjeanlab/eventhub/internal/webhook"
)

const formatVersion = "1"

// header is the first JSONL line of an export.
type header struct {
	Version      string    `json:"version"`
	Type         string    `json:"type"`
	Namespace    string    `json:"namespace"`
	Timestamp    time.Time `json:"timestamp"`
	EventCount   int       `json:"event_count"`
	WebhookCount int       `json:"webhook_count"`
}

// line is every other JSONL line, discriminated by Type.
type line struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type snapshot struct {
	namespace string
	events    []*store.Record
	webhooks  []*model.WebhookView
}

func takeSnapshot(ctx context.Context, s store.Store, namespace string, limit int) (*snapshot, error) {
	events, err := s.List(ctx, namespace, store.TypeEvent, store.ListOptions{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	hooks, err := webhook.NewRepo(s, namespace).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	snap := &snapshot{namespace: namespace, events: events}
	for _, wh := range hooks {
		snap.webhooks = append(snap.webhooks, wh.Redacted())
	}
	return snap, nil
}

// digest identifies the content of the snapshot, independent of when it
// was taken. Events are immutable, so their ids stand in for their bodies.
func (s *snapshot) digest() string {
	h := sha256.New()
	for _, e := range s.events {
		fmt.Fprintln(h, e.ID)
	}
	enc := json.NewEncoder(h)
	for _, wh := range s.webhooks {
		_ = enc.Encode(wh)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *snapshot) encode(w io.Writer, now time.Time) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{
		Version:      formatVersion,
		Type:         "header",
		Namespace:    s.namespace,
		Timestamp:    now.UTC(),
		EventCount:   len(s.events),
		WebhookCount: len(s.webhooks),
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	for _, rec := range s.events {
		if err := enc.Encode(line{Type: store.TypeEvent, Data: json.RawMessage(rec.Data)}); err != nil {
			return fmt.Errorf("encode event %s: %w", rec.ID, err)
		}
	}
	for _, wh := range s.webhooks {
		if err := enc.Encode(line{Type: store.TypeWebhook, Data: wh}); err != nil {
			return fmt.Errorf("encode webhook %s: %w", wh.ID, err)
		}
	}
	return nil
}

// ExportJSONL writes a header, then up to limit of the most recent events
// (newest first) and every webhook in namespace as JSONL to w. Webhook
// secrets are not exported.
func ExportJSONL(ctx context.Context, s store.Store, namespace string, limit int, w io.Writer) error {
	snap, err := takeSnapshot(ctx, s, namespace, limit)
	if err != nil {
		return err
	}
	return snap.encode(w, time.Now())
}
