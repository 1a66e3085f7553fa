package jetstream

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/queue"
)

// startTestJetStream starts an embedded NATS server with JetStream enabled.
func startTestJetStream(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &natsserver.Options{Host: "127.0.0.1", Port: -1, JetStream: true, StoreDir: t.TempDir()}
	srv, err := natsserver.NewServer(opts)
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func newTestQueue(t *testing.T, retry queue.RetryPolicy) *Queue {
	t.Helper()
	nc := startTestJetStream(t)
	q, err := New(context.Background(), nc, Config{
		FetchWait: 100 * time.Millisecond,
		Retry:     retry,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func runConsumer(t *testing.T, q *Queue, h queue.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, h)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestQueue_SendConsumeAck(t *testing.T) {
	q := newTestQueue(t, queue.RetryPolicy{})

	got := make(chan *model.WebhookDelivery, 1)
	runConsumer(t, q, func(_ context.Context, batch []queue.Message) {
		for _, m := range batch {
			_ = m.Ack()
			got <- m.Job()
		}
	})

	job := &model.WebhookDelivery{
		DeliveryID: "d1", WebhookID: "wh_1", EventID: "evt_1", URL: "https://example.com",
		Event: &model.Event{ID: "evt_1", Type: "user.created", Source: "auth", Payload: map[string]any{"k": "v"}},
	}
	if err := q.Send(context.Background(), job); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case j := <-got:
		if j.DeliveryID != "d1" || j.Event == nil || j.Event.Type != "user.created" {
			t.Fatalf("unexpected job %+v", j)
		}
		if j.Attempt != 1 {
			t.Fatalf("expected attempt 1, got %d", j.Attempt)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job")
	}
}

func TestQueue_RetryRedelivers(t *testing.T) {
	q := newTestQueue(t, queue.RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond})

	attempts := make(chan int, 8)
	runConsumer(t, q, func(_ context.Context, batch []queue.Message) {
		for _, m := range batch {
			attempts <- m.Attempt()
			if m.Attempt() < 2 {
				_ = m.Retry()
			} else {
				_ = m.Ack()
			}
		}
	})

	if err := q.Send(context.Background(), &model.WebhookDelivery{DeliveryID: "d2"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	for want := 1; want <= 2; want++ {
		select {
		case got := <-attempts:
			if got != want {
				t.Fatalf("expected attempt %d, got %d", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for attempt %d", want)
		}
	}
}

func TestQueue_SendAfterClose(t *testing.T) {
	q := newTestQueue(t, queue.RetryPolicy{})
	_ = q.Close()
	if err := q.Send(context.Background(), &model.WebhookDelivery{DeliveryID: "d3"}); err != queue.ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
