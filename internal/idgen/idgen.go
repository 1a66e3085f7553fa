// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"
	"sync"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the kinds of IDs the hub hands out.
const (
	EventPrefix        = "evt_"
	WebhookPrefix      = "wh_"
	SubscriptionPrefix = "sub_"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// suffixLength is the random tail appended to event IDs after the time component.
const suffixLength = 8

// Generate returns a new unique ID with the given prefix.
func Generate(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// WebhookID returns a new webhook ID.
func WebhookID() (string, error) { return Generate(WebhookPrefix) }

// SubscriptionID returns a new live-stream subscription ID.
func SubscriptionID() (string, error) { return Generate(SubscriptionPrefix) }

var clock = struct {
	sync.Mutex
	last int64
}{}

// EventID returns an ID whose lexicographic order follows creation order
// within this process: a fixed-width hex nanosecond timestamp, forced to be
// strictly increasing, followed by a random suffix.
func EventID() (string, error) {
	return eventIDAt(time.Now())
}

func eventIDAt(now time.Time) (string, error) {
	clock.Lock()
	n := now.UnixNano()
	if n <= clock.last {
		n = clock.last + 1
	}
	clock.last = n
	clock.Unlock()

	suffix, err := nanoid.Generate(Alphabet, suffixLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return fmt.Sprintf("%s%016x_%s", EventPrefix, uint64(n), suffix), nil
}
