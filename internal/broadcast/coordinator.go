// Package broadcast fans published events out to live stream subscribers.
//
// A Coordinator is a single-owner actor: one goroutine holds the
// subscription table and every operation (subscribe, broadcast, removal,
// stats, close) is a command processed in arrival order. Each subscription
// has a bounded frame buffer; a subscriber whose buffer is full when an
// event arrives is treated as disconnected and removed.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/idgen"
	"github.com/alfredjeanlab/eventhub/internal/model"
)

const (
	// DefaultBufferSize is the per-subscription frame buffer.
	DefaultBufferSize = 64

	// DefaultKeepAlive is how often Serve writes a keepalive comment.
	DefaultKeepAlive = 30 * time.Second

	// UnfilteredKey is the Stats bucket for subscriptions without a type filter.
	UnfilteredKey = "*"
)

var (
	// ErrClosed is returned by operations on a closed Coordinator.
	ErrClosed = errors.New("broadcast: coordinator closed")
	// ErrDropped is returned by Serve when the subscriber fell behind and
	// was removed.
	ErrDropped = errors.New("broadcast: slow subscriber dropped")
)

var (
	connectedFrame = []byte("data: {\"type\":\"connected\"}\n\n")
	keepAliveFrame = []byte(": keepalive\n\n")
)

// Options configures a Coordinator.
type Options struct {
	BufferSize int
	KeepAlive  time.Duration
	Logger     *slog.Logger
}

// Stats is a point-in-time view of a coordinator's subscriptions.
type Stats struct {
	SubscriptionCount  int            `json:"subscriptionCount"`
	CountsByTypeFilter map[string]int `json:"countsByTypeFilter"`
}

// Coordinator owns the subscriptions for one topic.
type Coordinator struct {
	topic      string
	bufferSize int
	keepAlive  time.Duration
	logger     *slog.Logger

	cmds    chan func()
	quit    chan struct{}
	stopped chan struct{}
	closing chan struct{} // guards quit against double close

	// owned by the run goroutine
	subs map[string]*Subscription
}

// NewCoordinator starts a coordinator actor for topic.
func NewCoordinator(topic string, opts Options) *Coordinator {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Coordinator{
		topic:      topic,
		bufferSize: opts.BufferSize,
		keepAlive:  opts.KeepAlive,
		logger:     opts.Logger.With("topic", topic),
		cmds:       make(chan func()),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		closing:    make(chan struct{}, 1),
		subs:       make(map[string]*Subscription),
	}
	go c.run()
	return c
}

// Topic returns the coordinator's topic name.
func (c *Coordinator) Topic() string { return c.topic }

func (c *Coordinator) run() {
	defer close(c.stopped)
	for {
		select {
		case cmd := <-c.cmds:
			cmd()
		case <-c.quit:
			for id, sub := range c.subs {
				delete(c.subs, id)
				close(sub.done)
			}
			return
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(finished) }:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Subscribe registers a new subscription with optional filters. The
// connected handshake is queued before Subscribe returns, so it is always
// the first frame the subscriber sees.
func (c *Coordinator) Subscribe(ctx context.Context, filters *model.EventFilter) (*Subscription, error) {
	id, err := idgen.SubscriptionID()
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		id:      id,
		filters: filters,
		frames:  make(chan []byte, c.bufferSize),
		done:    make(chan struct{}),
		coord:   c,
	}
	err = c.do(ctx, func() {
		sub.frames <- connectedFrame
		c.subs[id] = sub
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("subscription opened", "subscription", id)
	return sub, nil
}

// Broadcast enqueues one event frame for every subscription whose filters
// match. Subscribers that cannot accept the frame are removed. Broadcast
// returns once every matching subscription has been visited; it fails only
// when the coordinator is closed or ctx ends first.
func (c *Coordinator) Broadcast(ctx context.Context, e *model.Event) error {
	frame, err := eventFrame(e)
	if err != nil {
		return err
	}
	return c.do(ctx, func() {
		for id, sub := range c.subs {
			if !MatchesFilters(e, sub.filters) {
				continue
			}
			select {
			case sub.frames <- frame:
			default:
				c.logger.Warn("dropping slow subscriber", "subscription", id, "event", e.ID)
				sub.dropped = true
				c.removeLocked(id)
			}
		}
	})
}

// Stats reports the number of open subscriptions grouped by type filter.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := c.do(ctx, func() {
		st.SubscriptionCount = len(c.subs)
		st.CountsByTypeFilter = make(map[string]int)
		for _, sub := range c.subs {
			key := UnfilteredKey
			if sub.filters != nil && sub.filters.Type != "" {
				key = sub.filters.Type
			}
			st.CountsByTypeFilter[key]++
		}
	})
	return st, err
}

// Close stops the actor and closes every open subscription. It is safe to
// call more than once.
func (c *Coordinator) Close() {
	select {
	case c.closing <- struct{}{}:
		close(c.quit)
	default:
	}
	<-c.stopped
}

// remove deletes a subscription. It is a no-op when the coordinator has
// already stopped.
func (c *Coordinator) remove(id string) {
	_ = c.do(context.Background(), func() { c.removeLocked(id) })
}

func (c *Coordinator) removeLocked(id string) {
	sub, ok := c.subs[id]
	if !ok {
		return
	}
	delete(c.subs, id)
	close(sub.done)
	c.logger.Debug("subscription closed", "subscription", id)
}

// MatchesFilters reports whether e passes filters. A nil filter matches
// everything; within a filter, unset fields match everything.
func MatchesFilters(e *model.Event, filters *model.EventFilter) bool {
	if filters == nil {
		return true
	}
	return filters.Matches(e)
}

func eventFrame(e *model.Event) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Type  string       `json:"type"`
		Event *model.Event `json:"event"`
	}{Type: "event", Event: e})
	if err != nil {
		return nil, fmt.Errorf("encode event frame: %w", err)
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
