package model

import "time"

// DefaultEventLimit is the number of events returned when EventFilter.Limit is unset.
const DefaultEventLimit = 100

// EventFilter holds criteria for querying events and for live subscriptions.
// A zero field matches everything for that dimension.
type EventFilter struct {
	Type   string     `json:"type,omitempty"`
	Source string     `json:"source,omitempty"`
	Since  *time.Time `json:"since,omitempty"`
	Until  *time.Time `json:"until,omitempty"`
	Limit  int        `json:"limit,omitempty"` // only used by queries
}

// Matches reports whether e satisfies every dimension set on f.
// Since and Until are inclusive.
func (f EventFilter) Matches(e *Event) bool {
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

// EffectiveLimit returns Limit, or DefaultEventLimit when Limit is not positive.
func (f EventFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultEventLimit
	}
	return f.Limit
}
