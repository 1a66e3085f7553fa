package main

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alfredjeanlab/eventhub/internal/broadcast"
	"github.com/alfredjeanlab/eventhub/internal/config"
	"github.com/alfredjeanlab/eventhub/internal/idempotency"
	"github.com/alfredjeanlab/eventhub/internal/metrics"
	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/publisher"
	qmemory "github.com/alfredjeanlab/eventhub/internal/queue/memory"
	"github.com/alfredjeanlab/eventhub/internal/server"
	"github.com/alfredjeanlab/eventhub/internal/store/memory"
	"github.com/alfredjeanlab/eventhub/internal/store/sqlite"
	"github.com/alfredjeanlab/eventhub/internal/telemetry"
	"github.com/alfredjeanlab/eventhub/internal/webhook"
)

func TestOpenStore(t *testing.T) {
	cfg := config.Defaults()
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*memory.Store); !ok {
		t.Errorf("default store = %T, want *memory.Store", st)
	}
	st.Close()

	cfg.StoreDriver = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(t.TempDir(), "hub.db")
	st, err = openStore(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := st.(*sqlite.Store); !ok {
		t.Errorf("sqlite store = %T", st)
	}
	st.Close()

	cfg.StoreDriver = "mongo"
	if _, err := openStore(context.Background(), cfg); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestOpenQueue(t *testing.T) {
	cfg := config.Defaults()
	q, err := openQueue(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := q.(*qmemory.Queue); !ok {
		t.Errorf("default queue = %T", q)
	}
	q.Close()

	cfg.QueueDriver = config.QueueJetStream
	if _, err := openQueue(context.Background(), cfg, nil, nil); err == nil {
		t.Error("jetstream without NATS should fail")
	}
	cfg.QueueDriver = "sqs"
	if _, err := openQueue(context.Background(), cfg, nil, nil); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := config.Defaults()
	cfg.QueueMaxAttempts = 3
	cfg.QueueBaseDelay = 2 * time.Second
	cfg.QueueMaxDelay = time.Minute
	p := retryPolicy(cfg)
	if p.MaxAttempts != 3 || p.BaseDelay != 2*time.Second || p.MaxDelay != time.Minute {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestOpenIdempotency(t *testing.T) {
	cfg := config.Defaults()
	if _, ok := openIdempotency(cfg, discardLogger()).(*idempotency.Memory); !ok {
		t.Error("expected in-memory idempotency store without redis")
	}
	cfg.RedisAddr = "localhost:6379"
	if _, ok := openIdempotency(cfg, discardLogger()).(*idempotency.Redis); !ok {
		t.Error("expected redis idempotency store")
	}
}

func TestOpenTelemetry(t *testing.T) {
	cfg := config.Defaults()
	sink, closeFn, err := openTelemetry(cfg, metrics.New(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if multi, ok := sink.(telemetry.Multi); !ok || len(multi) != 1 {
		t.Errorf("default sinks = %#v, want prometheus only", sink)
	}

	cfg.LogSamples = true
	cfg.KafkaBrokers = "localhost:9092"
	sink, closeFn, err = openTelemetry(cfg, metrics.New(), discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()
	if multi, ok := sink.(telemetry.Multi); !ok || len(multi) != 3 {
		t.Errorf("sinks = %#v, want prometheus, kafka and log", sink)
	}
}

func TestNewArchiveScheduler_Disabled(t *testing.T) {
	cfg := config.Defaults()
	if s := newArchiveScheduler(context.Background(), cfg, memory.New(), discardLogger()); s != nil {
		t.Error("scheduler should be nil without an interval")
	}
	cfg.ArchiveInterval = time.Minute
	if s := newArchiveScheduler(context.Background(), cfg, memory.New(), discardLogger()); s != nil {
		t.Error("scheduler should be nil without a destination")
	}
}

func TestClosersRunInReverse(t *testing.T) {
	var order []int
	var c closers
	c.add(func() { order = append(order, 1) })
	c.add(func() { order = append(order, 2) })
	c.run()
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("order = %v", order)
	}
}

// TestCLIAgainstServer drives the client commands against an in-process hub.
func TestCLIAgainstServer(t *testing.T) {
	coord := broadcast.NewCoordinator(broadcast.DefaultTopic, broadcast.Options{})
	t.Cleanup(coord.Close)
	q := qmemory.New(qmemory.Options{})
	t.Cleanup(func() { q.Close() })
	m := metrics.New()
	pub := publisher.New(publisher.Deps{
		Store:       memory.New(),
		Namespace:   "cli",
		Coordinator: coord,
		Queue:       q,
		Idempotency: idempotency.NewMemory(time.Hour),
		Metrics:     m,
	})
	srv := httptest.NewServer(server.New(pub, coord, m, discardLogger()).Handler("tok"))
	t.Cleanup(srv.Close)

	run := func(args ...string) error {
		rootCmd.SetArgs(append([]string{"--http-url", srv.URL, "--token", "tok", "--no-color"}, args...))
		return rootCmd.Execute()
	}

	if err := run("health"); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := run("webhook", "add", "https://example.com/hook", "-e", "user.created", "--secret", "s3cr3t"); err != nil {
		t.Fatalf("webhook add: %v", err)
	}
	for range 2 {
		if err := run("publish", "user.created", "-s", "signup", "-p", `{"id":"u_1"}`, "-m", "region=eu", "--idempotency-key", "k1"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	events, err := pub.GetEvents(context.Background(), model.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (idempotency key reused)", len(events))
	}
	e := events[0]
	if e.Type != "user.created" || e.Source != "signup" || e.Payload["id"] != "u_1" || e.Metadata["region"] != "eu" {
		t.Errorf("unexpected event %+v", e)
	}
	if q.Len() == 0 {
		t.Error("expected a delivery job for the registered webhook")
	}

	hooks, err := pub.ListWebhooks(context.Background())
	if err != nil || len(hooks) != 1 {
		t.Fatalf("webhooks = %v, %v", hooks, err)
	}
	if err := run("webhook", "update", hooks[0].ID, "--disable"); err != nil {
		t.Fatalf("webhook update: %v", err)
	}
	got, _ := pub.GetWebhook(context.Background(), hooks[0].ID)
	if got == nil || got.Active {
		t.Errorf("webhook should be inactive, got %+v", got)
	}

	for _, args := range [][]string{
		{"events", "-t", "user.created"},
		{"webhook", "list"},
		{"webhook", "show", hooks[0].ID},
		{"stats"},
	} {
		if err := run(args...); err != nil {
			t.Errorf("%v: %v", args, err)
		}
	}

	if err := run("webhook", "rm", hooks[0].ID); err != nil {
		t.Fatalf("webhook rm: %v", err)
	}
	if got, _ := pub.GetWebhook(context.Background(), hooks[0].ID); got != nil {
		t.Error("webhook should be deleted")
	}
	if err := run("webhook", "show", hooks[0].ID); err == nil {
		t.Error("show of a deleted webhook should fail")
	}
}

func TestVerifyCommand(t *testing.T) {
	body := []byte(`{"event":{"id":"evt_1"}}`)
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetArgs([]string{"--no-color", "verify", "--secret", "s3cr3t", "--signature", webhook.Sign("s3cr3t", body), path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	rootCmd.SetArgs([]string{"--no-color", "verify", "--secret", "other", "--signature", webhook.Sign("s3cr3t", body), path})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected mismatch error")
	}
}
