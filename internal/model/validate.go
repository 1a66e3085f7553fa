package model

import (
	"net/url"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}

// ValidatePublishInput checks that type, source and payload are present.
// Payload contents are not inspected.
func ValidatePublishInput(in *PublishInput) error {
	var ve ValidationError
	if strings.TrimSpace(in.Type) == "" {
		ve.add("type", "is required")
	}
	if strings.TrimSpace(in.Source) == "" {
		ve.add("source", "is required")
	}
	if in.Payload == nil {
		ve.add("payload", "is required")
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateWebhookURL checks that raw is an absolute http or https URL.
func ValidateWebhookURL(raw string) error {
	var ve ValidationError
	validateURL(&ve, raw)
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateWebhook checks a webhook registration.
func ValidateWebhook(rawURL string, events []string) error {
	var ve ValidationError
	validateURL(&ve, rawURL)
	validateEventTypes(&ve, events)
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidateWebhookPatch checks the fields present on a patch.
func ValidateWebhookPatch(p *WebhookPatch) error {
	var ve ValidationError
	if p.URL != nil {
		validateURL(&ve, *p.URL)
	}
	if p.Events != nil {
		validateEventTypes(&ve, *p.Events)
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func validateURL(ve *ValidationError, raw string) {
	if strings.TrimSpace(raw) == "" {
		ve.add("url", "is required")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		ve.add("url", "must be an absolute URL")
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		ve.add("url", "scheme must be http or https")
	}
}

func validateEventTypes(ve *ValidationError, events []string) {
	if len(events) == 0 {
		ve.add("events", "must list at least one event type")
		return
	}
	for _, t := range events {
		if strings.TrimSpace(t) == "" {
			ve.add("events", "must not contain empty event types")
			return
		}
	}
}
