package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/model"
)

// chanSink records frames on a channel.
type chanSink struct {
	frames chan string
}

func newChanSink() *chanSink { return &chanSink{frames: make(chan string, 256)} }

func (s *chanSink) WriteFrame(frame []byte) error {
	s.frames <- string(frame)
	return nil
}

func (s *chanSink) next(t *testing.T) string {
	t.Helper()
	select {
	case f := <-s.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

func (s *chanSink) expectNone(t *testing.T) {
	t.Helper()
	select {
	case f := <-s.frames:
		t.Fatalf("expected no frame, got %q", f)
	case <-time.After(50 * time.Millisecond):
	}
}

// decodeEvent parses an event frame and returns the embedded event.
func decodeEvent(t *testing.T, frame string) *model.Event {
	t.Helper()
	if !strings.HasPrefix(frame, "data: ") || !strings.HasSuffix(frame, "\n\n") {
		t.Fatalf("malformed frame %q", frame)
	}
	var msg struct {
		Type  string       `json:"type"`
		Event *model.Event `json:"event"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &msg); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if msg.Type != "event" {
		t.Fatalf("expected type=event, got %q", msg.Type)
	}
	return msg.Event
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c := NewCoordinator("test", opts)
	t.Cleanup(c.Close)
	return c
}

// serve starts Serve in the background and returns a channel that receives its result.
func serve(ctx context.Context, sub *Subscription, sink Sink) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- sub.Serve(ctx, sink) }()
	return errc
}

func event(id, typ, source string) *model.Event {
	return &model.Event{ID: id, Type: typ, Source: source, Payload: map[string]any{}, Timestamp: time.Now().UTC()}
}

func TestCoordinator_HandshakeFirst(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := c.Subscribe(ctx, nil)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !strings.HasPrefix(sub.ID(), "sub_") {
		t.Errorf("unexpected subscription id %q", sub.ID())
	}
	sink := newChanSink()
	serve(ctx, sub, sink)

	if got := sink.next(t); got != "data: {\"type\":\"connected\"}\n\n" {
		t.Fatalf("expected connected handshake, got %q", got)
	}
}

func TestCoordinator_FilterIsolation(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subA, _ := c.Subscribe(ctx, &model.EventFilter{Type: "a"})
	subB, _ := c.Subscribe(ctx, &model.EventFilter{Type: "b"})
	subAll, _ := c.Subscribe(ctx, nil)
	sinkA, sinkB, sinkAll := newChanSink(), newChanSink(), newChanSink()
	serve(ctx, subA, sinkA)
	serve(ctx, subB, sinkB)
	serve(ctx, subAll, sinkAll)
	for _, s := range []*chanSink{sinkA, sinkB, sinkAll} {
		s.next(t) // handshake
	}

	if err := c.Broadcast(ctx, event("e1", "a", "src")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	if got := decodeEvent(t, sinkA.next(t)); got.ID != "e1" {
		t.Fatalf("expected e1 on A, got %q", got.ID)
	}
	if got := decodeEvent(t, sinkAll.next(t)); got.ID != "e1" {
		t.Fatalf("expected e1 on unfiltered, got %q", got.ID)
	}
	sinkB.expectNone(t)
}

func TestCoordinator_InOrderExactlyOnce(t *testing.T) {
	c := newTestCoordinator(t, Options{BufferSize: 128})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 100
	sinks := make([]*chanSink, 3)
	for i := range sinks {
		sub, err := c.Subscribe(ctx, nil)
		if err != nil {
			t.Fatal(err)
		}
		sinks[i] = newChanSink()
		serve(ctx, sub, sinks[i])
		sinks[i].next(t)
	}

	for i := 0; i < n; i++ {
		if err := c.Broadcast(ctx, event(fmt.Sprintf("e%03d", i), "t", "s")); err != nil {
			t.Fatal(err)
		}
	}

	for si, sink := range sinks {
		for i := 0; i < n; i++ {
			want := fmt.Sprintf("e%03d", i)
			if got := decodeEvent(t, sink.next(t)); got.ID != want {
				t.Fatalf("sink %d: expected %s, got %s", si, want, got.ID)
			}
		}
		sink.expectNone(t)
	}
}

func TestCoordinator_FailingSinkRemoved(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bad, _ := c.Subscribe(ctx, nil)
	good, _ := c.Subscribe(ctx, nil)

	writeErr := errors.New("broken pipe")
	badErr := serve(ctx, bad, SinkFunc(func([]byte) error { return writeErr }))
	goodSink := newChanSink()
	serve(ctx, good, goodSink)
	goodSink.next(t)

	select {
	case err := <-badErr:
		if !errors.Is(err, writeErr) {
			t.Fatalf("expected write error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failing subscription did not stop")
	}
	select {
	case <-bad.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("failing subscription was not removed")
	}

	if err := c.Broadcast(ctx, event("e1", "t", "s")); err != nil {
		t.Fatalf("Broadcast must not fail because of a dead subscriber: %v", err)
	}
	if got := decodeEvent(t, goodSink.next(t)); got.ID != "e1" {
		t.Fatalf("expected e1, got %s", got.ID)
	}

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.SubscriptionCount != 1 {
		t.Fatalf("expected 1 subscription, got %d", st.SubscriptionCount)
	}
}

func TestCoordinator_SlowSubscriberDropped(t *testing.T) {
	c := newTestCoordinator(t, Options{BufferSize: 3})
	ctx := context.Background()

	slow, _ := c.Subscribe(ctx, nil) // never served; handshake fills one slot
	fast, _ := c.Subscribe(ctx, nil)
	fastSink := newChanSink()
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serve(fctx, fast, fastSink)
	fastSink.next(t)

	for i := 0; i < 3; i++ {
		if err := c.Broadcast(ctx, event(fmt.Sprintf("e%d", i), "t", "s")); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow subscription was not dropped")
	}
	if err := slow.Serve(ctx, newChanSink()); !errors.Is(err, ErrDropped) {
		t.Fatalf("expected ErrDropped from a dropped subscription, got %v", err)
	}
	for i := 0; i < 3; i++ {
		if got := decodeEvent(t, fastSink.next(t)); got.ID != fmt.Sprintf("e%d", i) {
			t.Fatalf("fast subscriber missed event %d: got %s", i, got.ID)
		}
	}
}

func TestCoordinator_Stats(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	ctx := context.Background()

	_, _ = c.Subscribe(ctx, nil)
	_, _ = c.Subscribe(ctx, &model.EventFilter{Source: "only-source"})
	_, _ = c.Subscribe(ctx, &model.EventFilter{Type: "a"})
	_, _ = c.Subscribe(ctx, &model.EventFilter{Type: "a"})
	_, _ = c.Subscribe(ctx, &model.EventFilter{Type: "b"})

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.SubscriptionCount != 5 {
		t.Fatalf("expected 5 subscriptions, got %d", st.SubscriptionCount)
	}
	for key, want := range map[string]int{UnfilteredKey: 2, "a": 2, "b": 1} {
		if got := st.CountsByTypeFilter[key]; got != want {
			t.Errorf("CountsByTypeFilter[%q] = %d, want %d", key, got, want)
		}
	}
}

func TestSubscription_CancelRemoves(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	sub, _ := c.Subscribe(ctx, nil)
	errc := serve(ctx, sub, newChanSink())
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("expected nil on cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	<-sub.Done()

	st, _ := c.Stats(context.Background())
	if st.SubscriptionCount != 0 {
		t.Fatalf("expected 0 subscriptions, got %d", st.SubscriptionCount)
	}
}

func TestSubscription_KeepAlive(t *testing.T) {
	c := newTestCoordinator(t, Options{KeepAlive: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, _ := c.Subscribe(ctx, nil)
	sink := newChanSink()
	serve(ctx, sub, sink)
	sink.next(t) // handshake

	if got := sink.next(t); got != ": keepalive\n\n" {
		t.Fatalf("expected keepalive comment, got %q", got)
	}
}

func TestCoordinator_Close(t *testing.T) {
	c := NewCoordinator("test", Options{})
	ctx := context.Background()

	sub, _ := c.Subscribe(ctx, nil)
	sink := newChanSink()
	errc := serve(ctx, sub, sink)

	c.Close()
	c.Close() // idempotent

	select {
	case <-errc:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
	if got := sink.next(t); !strings.Contains(got, "connected") {
		t.Fatalf("expected queued handshake to be drained, got %q", got)
	}

	if _, err := c.Subscribe(ctx, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Subscribe, got %v", err)
	}
	if err := c.Broadcast(ctx, event("e", "t", "s")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Broadcast, got %v", err)
	}
}

func TestCoordinator_ConcurrentBroadcast(t *testing.T) {
	c := newTestCoordinator(t, Options{BufferSize: 1024})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, _ := c.Subscribe(ctx, nil)
	sink := newChanSink()
	sink.frames = make(chan string, 1024)
	serve(ctx, sub, sink)
	sink.next(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = c.Broadcast(ctx, event(fmt.Sprintf("w%d-%d", w, i), "t", "s"))
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[string]bool)
	lastPerWorker := make(map[byte]int)
	for i := 0; i < 200; i++ {
		e := decodeEvent(t, sink.next(t))
		if seen[e.ID] {
			t.Fatalf("duplicate delivery of %s", e.ID)
		}
		seen[e.ID] = true
		var w, n int
		fmt.Sscanf(e.ID, "w%d-%d", &w, &n)
		if prev, ok := lastPerWorker[byte(w)]; ok && n <= prev {
			t.Fatalf("worker %d events out of order: %d after %d", w, n, prev)
		}
		lastPerWorker[byte(w)] = n
	}
}

func TestMatchesFilters(t *testing.T) {
	e := event("e1", "a", "src")
	if !MatchesFilters(e, nil) {
		t.Error("nil filter should match")
	}
	if !MatchesFilters(e, &model.EventFilter{}) {
		t.Error("empty filter should match")
	}
	if MatchesFilters(e, &model.EventFilter{Source: "other"}) {
		t.Error("source mismatch should not match")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Options{})
	a := r.Get(DefaultTopic)
	if a == nil || r.Get(DefaultTopic) != a {
		t.Fatal("expected the same coordinator for the same topic")
	}
	if b := r.Get("other"); b == a {
		t.Fatal("expected distinct coordinators per topic")
	}
	if len(r.Topics()) != 2 {
		t.Fatalf("expected 2 topics, got %v", r.Topics())
	}
	r.Close()
	if r.Get(DefaultTopic) != nil {
		t.Fatal("expected nil after Close")
	}
	if _, err := a.Subscribe(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected coordinator closed, got %v", err)
	}
}
