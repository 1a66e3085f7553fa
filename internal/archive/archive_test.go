package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alfredjeanlab/eventhub/internal/model"
	"github.com/alfredjeanlab/eventhub/internal/store"
	"github.com/alfredjeanlab/eventhub/internal/store/memory"
)

// mockDestination records calls to Write.
type mockDestination struct {
	writes atomic.Int64
	last   atomic.Value // []byte
	err    error
}

func (d *mockDestination) Write(_ context.Context, data []byte) error {
	d.writes.Add(1)
	cp := make([]byte, len(data))
	copy(cp, data)
	d.last.Store(cp)
	return d.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seed(t *testing.T, s store.Store, events int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < events; i++ {
		e := model.Event{
			ID:        "evt_" + string(rune('a'+i)),
			Type:      "user.created",
			Source:    "auth",
			Payload:   map[string]any{"n": i},
			Timestamp: time.Now().UTC(),
		}
		data, _ := json.Marshal(e)
		if err := s.Create(ctx, "ns", store.TypeEvent, e.ID, data); err != nil {
			t.Fatal(err)
		}
	}
	wh := model.Webhook{ID: "wh_1", URL: "https://example.com", Events: []string{"user.created"}, Secret: "s3cret", Active: true}
	data, _ := json.Marshal(wh)
	if err := s.Create(ctx, "ns", store.TypeWebhook, wh.ID, data); err != nil {
		t.Fatal(err)
	}
}

func nonEmptyLines(s string) []string {
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			lines = append(lines, sc.Text())
		}
	}
	return lines
}

func TestExportJSONL(t *testing.T) {
	s := memory.New()
	seed(t, s, 3)

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), s, "ns", 2, &buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, "s3cret") {
		t.Fatal("webhook secret must not be archived")
	}

	lines := nonEmptyLines(out)
	// 1 header + 2 events (limit) + 1 webhook
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), out)
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatal(err)
	}
	if h.Type != "header" || h.EventCount != 2 || h.WebhookCount != 1 || h.Namespace != "ns" {
		t.Fatalf("unexpected header %+v", h)
	}

	var first struct {
		Type string      `json:"type"`
		Data model.Event `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &first); err != nil {
		t.Fatal(err)
	}
	if first.Type != store.TypeEvent || first.Data.ID != "evt_c" {
		t.Fatalf("expected newest event first, got %+v", first)
	}

	var hook struct {
		Type string            `json:"type"`
		Data model.WebhookView `json:"data"`
	}
	if err := json.Unmarshal([]byte(lines[3]), &hook); err != nil {
		t.Fatal(err)
	}
	if hook.Type != store.TypeWebhook || !hook.Data.HasSecret {
		t.Fatalf("unexpected webhook line %+v", hook)
	}
}

func addEvent(t *testing.T, s store.Store, id string) {
	t.Helper()
	data, _ := json.Marshal(model.Event{ID: id, Type: "user.created", Source: "auth", Timestamp: time.Now().UTC()})
	if err := s.Create(context.Background(), "ns", store.TypeEvent, id, data); err != nil {
		t.Fatal(err)
	}
}

func waitWrites(d *mockDestination, n int64) bool {
	deadline := time.Now().Add(2 * time.Second)
	for d.writes.Load() < n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	return d.writes.Load() >= n
}

func TestSchedulerStartStop(t *testing.T) {
	s := memory.New()
	seed(t, s, 1)
	dest := &mockDestination{}

	sched := NewScheduler(s, []Destination{dest}, Options{Namespace: "ns", Limit: 100, Interval: 20 * time.Millisecond, Logger: testLogger()})
	sched.Start()
	defer sched.Stop()

	if !waitWrites(dest, 1) {
		t.Fatal("initial export was not written")
	}
	data, ok := dest.last.Load().([]byte)
	if !ok || len(nonEmptyLines(string(data))) != 3 {
		t.Fatalf("expected header, event and webhook lines, got %q", data)
	}

	addEvent(t, s, "evt_z")
	if !waitWrites(dest, 2) {
		t.Fatal("new event did not trigger another export")
	}
}

func TestSchedulerStop_NoStart(t *testing.T) {
	sched := NewScheduler(memory.New(), nil, Options{Namespace: "ns"})
	// Stop without Start should not panic.
	sched.Stop()
}

func TestRunOnce_SkipsUnchanged(t *testing.T) {
	s := memory.New()
	seed(t, s, 2)
	dest := &mockDestination{}
	sched := NewScheduler(s, []Destination{dest}, Options{Namespace: "ns", Limit: 10, Logger: testLogger()})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := sched.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if got := dest.writes.Load(); got != 1 {
		t.Fatalf("expected 1 write for unchanged content, got %d", got)
	}

	// A webhook change alone is enough to export again.
	wh := model.Webhook{ID: "wh_1", URL: "https://example.com/v2", Events: []string{"user.created"}, Active: false}
	data, _ := json.Marshal(wh)
	if err := s.Update(ctx, "ns", "wh_1", data); err != nil {
		t.Fatal(err)
	}
	if err := sched.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if got := dest.writes.Load(); got != 2 {
		t.Fatalf("expected a second write after webhook change, got %d", got)
	}
}

func TestRunOnce_FailingDestinationDoesNotStopOthers(t *testing.T) {
	s := memory.New()
	seed(t, s, 1)
	bad := &mockDestination{err: errors.New("bucket gone")}
	good := &mockDestination{}
	sched := NewScheduler(s, []Destination{bad, good}, Options{Namespace: "ns", Limit: 10, Logger: testLogger()})

	err := sched.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Fatalf("expected joined destination error, got %v", err)
	}
	if bad.writes.Load() != 1 || good.writes.Load() != 1 {
		t.Fatalf("expected both destinations written once, got %d and %d", bad.writes.Load(), good.writes.Load())
	}

	// Failed exports are retried even though nothing changed.
	_ = sched.RunOnce(context.Background())
	if bad.writes.Load() != 2 {
		t.Fatalf("expected retry after failure, got %d writes", bad.writes.Load())
	}
}

// fakeS3 records PutObject calls.
type fakeS3 struct {
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Destination_Write(t *testing.T) {
	fake := &fakeS3{}
	d := newS3Destination(fake, "backups", "eventhub/events.jsonl")

	if err := d.Write(context.Background(), []byte("{}\n")); err != nil {
		t.Fatal(err)
	}
	in := fake.inputs[0]
	if aws.ToString(in.Bucket) != "backups" || aws.ToString(in.Key) != "eventhub/events.jsonl" {
		t.Fatalf("unexpected target %s/%s", aws.ToString(in.Bucket), aws.ToString(in.Key))
	}
	if aws.ToString(in.ContentType) != "application/x-ndjson" || string(fake.bodies[0]) != "{}\n" {
		t.Fatalf("unexpected object %q %q", aws.ToString(in.ContentType), fake.bodies[0])
	}
}

func TestS3Destination_PrefixKey(t *testing.T) {
	fake := &fakeS3{}
	d := newS3Destination(fake, "backups", "eventhub/")
	d.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }

	if err := d.Write(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if got := aws.ToString(fake.inputs[0].Key); got != "eventhub/20240501T123000Z.jsonl" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestS3Destination_Error(t *testing.T) {
	fake := &fakeS3{err: errors.New("access denied")}
	d := newS3Destination(fake, "b", "k")
	if err := d.Write(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
