package model

// WebhookDelivery is a queue job: one event bound for one webhook. The queue
// may hand the same job out more than once; DeliveryID stays stable across
// redeliveries so receivers and logs can correlate attempts.
type WebhookDelivery struct {
	DeliveryID string `json:"deliveryId"`
	WebhookID  string `json:"webhookId"`
	EventID    string `json:"eventId"`
	Event      *Event `json:"event"`
	URL        string `json:"url"`
	Secret     string `json:"secret,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
}
