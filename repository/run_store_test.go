package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/krshsl/cascprep/models"
	goredis "github.com/redis/go-redis/v9"
)

func sampleRun(id string) *models.ExamRun {
	return &models.ExamRun{
		ID:     id,
		UserID: "u1",
		Stations: []models.Station{
			{ID: "s1", Title: "One", Scenario: "a", Circuit: models.CircuitMorning, DurationSec: 670},
			{ID: "s2", Title: "Two", Scenario: "b", Circuit: models.CircuitMorning, DurationSec: 670},
		},
		StartedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func exerciseRunStore(t *testing.T, store RunStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	if err := store.Save(ctx, sampleRun("r1")); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := store.AppendTurn(ctx, "r1", 1, models.Turn{Role: models.RoleUser, Content: "Hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	run, err := store.AppendTurn(ctx, "r1", 1, models.Turn{Role: models.RoleAssistant, Content: "Hi doctor"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if got := len(run.Transcripts[1]); got != 2 {
		t.Fatalf("expected 2 turns, got %d", got)
	}

	if _, err := store.AppendTurn(ctx, "r1", 5, models.Turn{Role: models.RoleUser, Content: "x"}); !errors.Is(err, ErrStationOutOfRange) {
		t.Fatalf("expected ErrStationOutOfRange, got %v", err)
	}

	loaded, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Transcripts[1][1].Content != "Hi doctor" {
		t.Fatalf("unexpected transcript: %+v", loaded.Transcripts)
	}

	if err := store.Delete(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "r1"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected run to be gone, got %v", err)
	}
}

func TestMemoryRunStore(t *testing.T) {
	exerciseRunStore(t, NewMemoryRunStore(time.Hour))
}

func TestMemoryRunStoreExpires(t *testing.T) {
	store := NewMemoryRunStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }

	if err := store.Save(context.Background(), sampleRun("r2")); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Minute)
	if _, err := store.Get(context.Background(), "r2"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected expired run, got %v", err)
	}
}

func TestMemoryRunStoreSweepsOnSave(t *testing.T) {
	store := NewMemoryRunStore(time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	for _, id := range []string{"old1", "old2"} {
		if err := store.Save(ctx, sampleRun(id)); err != nil {
			t.Fatal(err)
		}
	}
	now = now.Add(2 * time.Minute)
	if err := store.Save(ctx, sampleRun("fresh")); err != nil {
		t.Fatal(err)
	}
	if n := store.Len(); n != 1 {
		t.Fatalf("expected only the fresh run to remain, got %d", n)
	}
	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Fatalf("fresh run: %v", err)
	}
}

func TestRedisRunStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	exerciseRunStore(t, NewRedisRunStore(rdb, time.Hour))
}

func TestRedisRunStoreTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	store := NewRedisRunStore(rdb, 10*time.Minute)
	ctx := context.Background()

	if err := store.Save(ctx, sampleRun("r3")); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL(runKey("r3")); ttl != 10*time.Minute {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(11 * time.Minute)
	if _, err := store.Get(ctx, "r3"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected expired run, got %v", err)
	}
}
