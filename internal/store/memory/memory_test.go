package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/alfredjeanlab/eventhub/internal/store"
)

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.Create(ctx, "ns", store.TypeWebhook, "wh1", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, "ns", store.TypeWebhook, "wh1", []byte(`{}`)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	rec, err := s.Get(ctx, "ns", "wh1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(rec.Data) != `{"a":1}` || rec.Type != store.TypeWebhook {
		t.Fatalf("unexpected record %+v", rec)
	}

	if err := s.Update(ctx, "ns", "wh1", []byte(`{"a":2}`)); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rec, _ = s.Get(ctx, "ns", "wh1")
	if string(rec.Data) != `{"a":2}` {
		t.Fatalf("expected updated data, got %s", rec.Data)
	}

	if err := s.Delete(ctx, "ns", "wh1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "ns", "wh1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "ns", "wh1"); err != nil {
		t.Fatalf("deleting a missing record should succeed, got %v", err)
	}
}

func TestStore_UpdateMissing(t *testing.T) {
	if err := New().Update(context.Background(), "ns", "nope", nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"b", "a", "d", "c"} {
		if err := s.Create(ctx, "ns", store.TypeEvent, id, []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.Create(ctx, "ns", store.TypeWebhook, "z", []byte(`{}`))
	_ = s.Create(ctx, "other", store.TypeEvent, "e", []byte(`{}`))

	recs, err := s.List(ctx, "ns", store.TypeEvent, store.ListOptions{Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range recs {
		got = append(got, r.ID)
	}
	if len(got) != 3 || got[0] != "d" || got[1] != "c" || got[2] != "b" {
		t.Fatalf("expected [d c b], got %v", got)
	}

	all, _ := s.List(ctx, "ns", store.TypeEvent, store.ListOptions{})
	if len(all) != 4 {
		t.Fatalf("expected 4 events without limit, got %d", len(all))
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Create(ctx, "ns", store.TypeEvent, "e1", []byte(`{"x":1}`))
	rec, _ := s.Get(ctx, "ns", "e1")
	rec.Data[0] = 'X'
	again, _ := s.Get(ctx, "ns", "e1")
	if string(again.Data) != `{"x":1}` {
		t.Fatalf("stored data mutated through returned record: %s", again.Data)
	}
}
