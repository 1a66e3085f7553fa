package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/store"
)

// Repo persists webhooks as JSON records in one store namespace.
//
// lastTriggeredAt lives in a separate webhook_trigger record so stamping it
// never rewrites, and never reverts, the webhook's own fields.
type Repo struct {
	store store.Store
	ns    string
}

// NewRepo returns a Repo over s.
func NewRepo(s store.Store, namespace string) *Repo {
	return &Repo{store: s, ns: namespace}
}

// trigger is the stored form of a webhook's last successful delivery.
type trigger struct {
	WebhookID string    `json:"webhookId"`
	At        time.Time `json:"at"`
}

func triggerID(webhookID string) string { return "trg_" + webhookID }

func (r *Repo) Create(ctx context.Context, w *model.Webhook) error {
	data, err := encode(w)
	if err != nil {
		return err
	}
	return r.store.Create(ctx, r.ns, store.TypeWebhook, w.ID, data)
}

// Get returns the webhook or an error wrapping store.ErrNotFound.
func (r *Repo) Get(ctx context.Context, id string) (*model.Webhook, error) {
	rec, err := r.store.Get(ctx, r.ns, id)
	if err != nil {
		return nil, err
	}
	if rec.Type != store.TypeWebhook {
		return nil, store.ErrNotFound
	}
	w, err := decode(rec)
	if err != nil {
		return nil, err
	}
	t, err := r.getTrigger(ctx, id)
	if err != nil {
		return nil, err
	}
	if t != nil {
		at := t.At
		w.LastTriggeredAt = &at
	}
	return w, nil
}

func (r *Repo) List(ctx context.Context) ([]*model.Webhook, error) {
	recs, err := r.store.List(ctx, r.ns, store.TypeWebhook, store.ListOptions{})
	if err != nil {
		return nil, err
	}
	triggers, err := r.store.List(ctx, r.ns, store.TypeWebhookTrigger, store.ListOptions{})
	if err != nil {
		return nil, err
	}
	last := make(map[string]time.Time, len(triggers))
	for _, rec := range triggers {
		var t trigger
		if err := json.Unmarshal(rec.Data, &t); err != nil {
			return nil, fmt.Errorf("decode webhook trigger %s: %w", rec.ID, err)
		}
		last[t.WebhookID] = t.At
	}

	out := make([]*model.Webhook, 0, len(recs))
	for _, rec := range recs {
		w, err := decode(rec)
		if err != nil {
			return nil, err
		}
		if at, ok := last[w.ID]; ok {
			w.LastTriggeredAt = &at
		}
		out = append(out, w)
	}
	return out, nil
}

// Update replaces the webhook's own fields. LastTriggeredAt is ignored.
func (r *Repo) Update(ctx context.Context, w *model.Webhook) error {
	data, err := encode(w)
	if err != nil {
		return err
	}
	return r.store.Update(ctx, r.ns, w.ID, data)
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, r.ns, id); err != nil {
		return err
	}
	return r.store.Delete(ctx, r.ns, triggerID(id))
}

// MarkTriggered stamps lastTriggeredAt without touching the webhook record.
// Concurrent stamps race; the last write wins.
func (r *Repo) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	rec, err := r.store.Get(ctx, r.ns, id)
	if err != nil {
		return err
	}
	if rec.Type != store.TypeWebhook {
		return store.ErrNotFound
	}

	data, err := json.Marshal(trigger{WebhookID: id, At: at.UTC()})
	if err != nil {
		return fmt.Errorf("encode webhook trigger: %w", err)
	}
	tid := triggerID(id)
	err = r.store.Update(ctx, r.ns, tid, data)
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	err = r.store.Create(ctx, r.ns, store.TypeWebhookTrigger, tid, data)
	if errors.Is(err, store.ErrConflict) {
		return r.store.Update(ctx, r.ns, tid, data)
	}
	return err
}

func (r *Repo) getTrigger(ctx context.Context, id string) (*trigger, error) {
	rec, err := r.store.Get(ctx, r.ns, triggerID(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Type != store.TypeWebhookTrigger {
		return nil, nil
	}
	var t trigger
	if err := json.Unmarshal(rec.Data, &t); err != nil {
		return nil, fmt.Errorf("decode webhook trigger %s: %w", rec.ID, err)
	}
	return &t, nil
}

func encode(w *model.Webhook) ([]byte, error) {
	stored := *w
	stored.LastTriggeredAt = nil
	data, err := json.Marshal(&stored)
	if err != nil {
		return nil, fmt.Errorf("encode webhook: %w", err)
	}
	return data, nil
}

func decode(rec *store.Record) (*model.Webhook, error) {
	var w model.Webhook
	if err := json.Unmarshal(rec.Data, &w); err != nil {
		return nil, fmt.Errorf("decode webhook %s: %w", rec.ID, err)
	}
	return &w, nil
}
