// Package events mirrors published events onto NATS so that every hub
// instance can feed them to its own live stream subscribers.
package events

import (
	"context"
	"strings"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

// SubjectPrefix is the NATS subject root for mirrored events. Each event is
// published on SubjectPrefix + "." + its type.
const SubjectPrefix = "eventhub.event"

// AllSubjects matches every mirrored event.
const AllSubjects = SubjectPrefix + ".>"

// Envelope is the wire form of a mirrored event. Origin identifies the
// instance that accepted the publish so it can skip its own echoes.
type Envelope struct {
	Origin string       `json:"origin"`
	Event  *model.Event `json:"event"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Subject returns the NATS subject for an event type. Characters that NATS
// reserves inside a token are replaced.
func Subject(eventType string) string {
	r := strings.NewReplacer(" ", "_", "\t", "_", "*", "_", ">", "_")
	t := r.Replace(eventType)
	if t == "" {
		t = "_"
	}
	return SubjectPrefix + "." + t
}
