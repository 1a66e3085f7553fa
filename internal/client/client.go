// Package client is the HTTP/JSON client for the eventhub API used by the
// hub CLI.
package client

import (
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

// EventsQuery selects events for Events. Zero fields are omitted.
type EventsQuery struct {
	Type   string
	Source string
	Since  *time.Time
	Until  *time.Time
	Limit  int
}

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Events []*model.Event `json:"events"`
	Count  int            `json:"count"`
}

// RegisterWebhookRequest is the body of POST /webhooks.
type RegisterWebhookRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// StreamFrame is one decoded data frame from GET /stream.
type StreamFrame struct {
	Type  string       `json:"type"`
	Event *model.Event `json:"event,omitempty"`
}

// Stats mirrors GET /stats.
type Stats struct {
	SubscriptionCount  int            `json:"subscriptionCount"`
	CountsByTypeFilter map[string]int `json:"countsByTypeFilter"`
}
