package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/roadpulse/roadpulse/internal/cache/redisstore"
)

func testStore(t *testing.T, opts ...Option) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cli, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { _ = cli.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(cli, "test", log, opts...)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return s, mr
}

func TestSetGet_FreshRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, CategoryTraffic, "bbox:1", []byte(`{"n":1}`), "TomTom"); err != nil {
		t.Fatalf("set: %v", err)
	}

	lk, ok, err := s.Get(ctx, CategoryTraffic, "bbox:1", false)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !lk.Fresh {
		t.Fatalf("entry just written should be fresh")
	}
	if string(lk.Value) != `{"n":1}` {
		t.Fatalf("value=%s", lk.Value)
	}
	if lk.Source != "TomTom" {
		t.Fatalf("source=%q", lk.Source)
	}
}

func TestGet_MissingKey(t *testing.T) {
	s, _ := testStore(t)

	_, ok, err := s.Get(context.Background(), CategoryWeather, "nope", true)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestGet_StaleWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := s.Set(ctx, CategoryTraffic, "bbox:2", []byte(`{"n":2}`), "HERE"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// traffic TTL is 5m; 6m later the entry is stale
	now = now.Add(6 * time.Minute)

	if _, ok, err := s.Get(ctx, CategoryTraffic, "bbox:2", false); err != nil || ok {
		t.Fatalf("stale entry without allowStale: ok=%v err=%v", ok, err)
	}

	lk, ok, err := s.Get(ctx, CategoryTraffic, "bbox:2", true)
	if err != nil || !ok {
		t.Fatalf("stale read: ok=%v err=%v", ok, err)
	}
	if lk.Fresh {
		t.Fatalf("entry past TTL should read Fresh=false")
	}
	if lk.Age != 6*time.Minute {
		t.Fatalf("age=%v", lk.Age)
	}
	if lk.Source != "HERE" {
		t.Fatalf("source=%q", lk.Source)
	}
}

func TestTTLOverrides(t *testing.T) {
	s, _ := testStore(t, WithTTLOverrides(map[Category]time.Duration{
		CategoryTraffic: time.Minute,
	}))

	if got := s.TTL(CategoryTraffic); got != time.Minute {
		t.Fatalf("traffic ttl=%v", got)
	}
	if got := s.TTL(CategoryWeather); got != 30*time.Minute {
		t.Fatalf("weather ttl=%v", got)
	}
	if got := s.TTL(CategoryMapTiles); got != 7*24*time.Hour {
		t.Fatalf("tiles ttl=%v", got)
	}
}

func TestSet_OverwritesAndRefreshes(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := s.Set(ctx, CategoryWeather, "now", []byte(`{"v":1}`), "OpenWeather"); err != nil {
		t.Fatalf("set: %v", err)
	}
	now = now.Add(45 * time.Minute) // past the 30m weather TTL
	if err := s.Set(ctx, CategoryWeather, "now", []byte(`{"v":2}`), "OpenWeather"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	lk, ok, err := s.Get(ctx, CategoryWeather, "now", false)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !lk.Fresh || string(lk.Value) != `{"v":2}` {
		t.Fatalf("fresh=%v value=%s", lk.Fresh, lk.Value)
	}
}

func TestGet_CorruptEntryDropped(t *testing.T) {
	s, mr := testStore(t)
	ctx := context.Background()

	rk := s.redisKey(CategoryRadar, "zone:9")
	if err := mr.Set(rk, "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, ok, err := s.Get(ctx, CategoryRadar, "zone:9", true); err != nil || ok {
		t.Fatalf("corrupt entry: ok=%v err=%v", ok, err)
	}
	if mr.Exists(rk) {
		t.Fatalf("corrupt entry should be deleted")
	}
}

func TestPurgeOlderThan_Idempotent(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, _ := testStore(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := s.Set(ctx, CategoryTraffic, "old", []byte(`{}`), "TomTom"); err != nil {
		t.Fatalf("set old: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if err := s.Set(ctx, CategoryTraffic, "new", []byte(`{}`), "TomTom"); err != nil {
		t.Fatalf("set new: %v", err)
	}

	n, err := s.PurgeOlderThan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d entries, want 1", n)
	}

	// no writes since; second run removes nothing
	n, err = s.PurgeOlderThan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("purge again: %v", err)
	}
	if n != 0 {
		t.Fatalf("second purge removed %d entries", n)
	}

	if _, ok, _ := s.Get(ctx, CategoryTraffic, "old", true); ok {
		t.Fatalf("purged entry still readable")
	}
	if _, ok, _ := s.Get(ctx, CategoryTraffic, "new", true); !ok {
		t.Fatalf("recent entry removed by purge")
	}
}

func TestClearAll(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	_ = s.Set(ctx, CategoryTraffic, "a", []byte(`{}`), "x")
	_ = s.Set(ctx, CategoryWeather, "b", []byte(`{}`), "x")

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Get(ctx, CategoryTraffic, "a", true); ok {
		t.Fatalf("entry survived ClearAll")
	}
}
