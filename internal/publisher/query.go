package publisher

import (
	"context"
	"errors"

	"github.com/alfredjeanlab/eventhub/internal/idgen"
	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/store"
)

// GetEvents loads up to f.Limit of the most recent events, newest first, and
// then applies the type, source and time range filters. Filtering happens
// after the limit, so a narrow filter can return fewer than Limit events.
func (p *Publisher) GetEvents(ctx context.Context, f model.EventFilter) ([]*model.Event, error) {
	recs, err := p.store.List(ctx, p.ns, store.TypeEvent, store.ListOptions{Limit: f.EffectiveLimit()})
	if err != nil {
		return nil, &model.PersistenceError{Op: "list events", Err: err}
	}
	out := make([]*model.Event, 0, len(recs))
	for _, rec := range recs {
		e, err := decodeEvent(rec)
		if err != nil {
			p.logger.Warn("skipping undecodable event", "id", rec.ID, "error", err)
			continue
		}
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// RegisterWebhook creates an active webhook and returns its ID.
func (p *Publisher) RegisterWebhook(ctx context.Context, url string, events []string, secret string) (string, error) {
	if err := model.ValidateWebhook(url, events); err != nil {
		return "", err
	}
	id, err := idgen.WebhookID()
	if err != nil {
		return "", err
	}
	w := &model.Webhook{
		ID:        id,
		URL:       url,
		Events:    events,
		Secret:    secret,
		Active:    true,
		CreatedAt: p.now().UTC(),
	}
	if err := p.webhooks.Create(ctx, w); err != nil {
		return "", &model.PersistenceError{Op: "create webhook", Err: err}
	}
	p.logger.Info("webhook registered", "webhook", id, "url", url, "events", events)
	return id, nil
}

// GetWebhook returns the webhook, or nil with no error when it does not exist.
func (p *Publisher) GetWebhook(ctx context.Context, id string) (*model.Webhook, error) {
	w, err := p.webhooks.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &model.PersistenceError{Op: "get webhook", Err: err}
	}
	return w, nil
}

// UpdateWebhook merges patch into the stored webhook and stamps UpdatedAt.
func (p *Publisher) UpdateWebhook(ctx context.Context, id string, patch model.WebhookPatch) error {
	if err := model.ValidateWebhookPatch(&patch); err != nil {
		return err
	}
	w, err := p.GetWebhook(ctx, id)
	if err != nil {
		return err
	}
	if w == nil {
		return &model.NotFoundError{Kind: "webhook", ID: id}
	}
	patch.Apply(w)
	now := p.now().UTC()
	w.UpdatedAt = &now
	if err := p.webhooks.Update(ctx, w); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &model.NotFoundError{Kind: "webhook", ID: id}
		}
		return &model.PersistenceError{Op: "update webhook", Err: err}
	}
	return nil
}

// DeleteWebhook removes the webhook. Deleting an unknown ID succeeds.
// Jobs already enqueued for it are still delivered.
func (p *Publisher) DeleteWebhook(ctx context.Context, id string) error {
	if err := p.webhooks.Delete(ctx, id); err != nil {
		return &model.PersistenceError{Op: "delete webhook", Err: err}
	}
	return nil
}

func (p *Publisher) ListWebhooks(ctx context.Context) ([]*model.Webhook, error) {
	hooks, err := p.webhooks.List(ctx)
	if err != nil {
		return nil, &model.PersistenceError{Op: "list webhooks", Err: err}
	}
	return hooks, nil
}
