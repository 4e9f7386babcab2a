package callstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elderme-design/elderme-server/internal/callstore"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s callstore.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"CA1", "CA2", "CA3"} {
		err := s.Start(ctx, callstore.Record{
			ID:        id,
			StreamID:  "MZ" + id,
			Caller:    map[string]string{"resident": "room-" + id},
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}

	rec, err := s.Get(ctx, "CA2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.Active() || rec.StreamID != "MZCA2" || rec.Caller["resident"] != "room-CA2" {
		t.Errorf("Get = %+v", rec)
	}

	end := base.Add(5 * time.Minute)
	if err := s.Finish(ctx, "CA2", end, 4, 1); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	rec, err = s.Get(ctx, "CA2")
	if err != nil {
		t.Fatalf("Get after Finish: %v", err)
	}
	if rec.Active() || !rec.EndedAt.Equal(end) || rec.Turns != 4 || rec.Nudges != 1 {
		t.Errorf("finished record = %+v", rec)
	}
	if d := rec.Duration(); d != 4*time.Minute {
		t.Errorf("Duration = %v, want 4m", d)
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "CA3" || recent[1].ID != "CA2" {
		ids := make([]string, len(recent))
		for i, r := range recent {
			ids[i] = r.ID
		}
		t.Errorf("Recent(2) = %v, want [CA3 CA2]", ids)
	}

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, callstore.ErrNotFound) {
		t.Errorf("Get unknown: err = %v, want ErrNotFound", err)
	}
	if err := s.Finish(ctx, "nope", end, 0, 0); !errors.Is(err, callstore.ErrNotFound) {
		t.Errorf("Finish unknown: err = %v, want ErrNotFound", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	s := callstore.NewMemoryStore()
	defer s.Close()
	exerciseStore(t, s)
}

func TestMemoryStore_CallerMapIsCopied(t *testing.T) {
	s := callstore.NewMemoryStore()
	caller := map[string]string{"resident": "a"}
	if err := s.Start(context.Background(), callstore.Record{ID: "CA1", Caller: caller}); err != nil {
		t.Fatal(err)
	}
	caller["resident"] = "changed"

	rec, _ := s.Get(context.Background(), "CA1")
	if rec.Caller["resident"] != "a" {
		t.Errorf("stored caller mutated through the caller's map: %v", rec.Caller)
	}
}

func TestMemoryStore_RestartReplaces(t *testing.T) {
	ctx := context.Background()
	s := callstore.NewMemoryStore()
	_ = s.Start(ctx, callstore.Record{ID: "CA1", StreamID: "old"})
	_ = s.Finish(ctx, "CA1", time.Now(), 3, 0)
	_ = s.Start(ctx, callstore.Record{ID: "CA1", StreamID: "new"})

	rec, err := s.Get(ctx, "CA1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.StreamID != "new" || !rec.Active() || rec.Turns != 0 {
		t.Errorf("record after restart = %+v", rec)
	}
}
