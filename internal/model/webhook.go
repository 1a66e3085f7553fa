package model

import (
	"slices"
	"time"
)

// Webhook is an externally registered endpoint that receives signed event
// payloads for the event types it lists.
type Webhook struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	Events          []string   `json:"events"`
	Secret          string     `json:"secret,omitempty"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
}

// Subscribes reports whether the webhook is active and lists eventType.
func (w *Webhook) Subscribes(eventType string) bool {
	return w.Active && slices.Contains(w.Events, eventType)
}

// Redacted returns a copy safe to render over the API: the secret is
// replaced by HasSecret.
func (w *Webhook) Redacted() *WebhookView {
	return &WebhookView{
		ID:              w.ID,
		URL:             w.URL,
		Events:          w.Events,
		HasSecret:       w.Secret != "",
		Active:          w.Active,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
		LastTriggeredAt: w.LastTriggeredAt,
	}
}

// WebhookView is the API representation of a Webhook.
type WebhookView struct {
	ID              string     `json:"id"`
	URL             string     `json:"url"`
	Events          []string   `json:"events"`
	HasSecret       bool       `json:"hasSecret"`
	Active          bool       `json:"active"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
	LastTriggeredAt *time.Time `json:"lastTriggeredAt,omitempty"`
}

// WebhookPatch is a partial update. Nil fields are left unchanged.
type WebhookPatch struct {
	URL    *string   `json:"url,omitempty"`
	Events *[]string `json:"events,omitempty"`
	Secret *string   `json:"secret,omitempty"`
	Active *bool     `json:"active,omitempty"`
}

// Apply merges the non-nil fields of p into w.
func (p WebhookPatch) Apply(w *Webhook) {
	if p.URL != nil {
		w.URL = *p.URL
	}
	if p.Events != nil {
		w.Events = slices.Clone(*p.Events)
	}
	if p.Secret != nil {
		w.Secret = *p.Secret
	}
	if p.Active != nil {
		w.Active = *p.Active
	}
}
