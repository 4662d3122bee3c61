// Package cache implements the time-boxed key/value store with explicit
// stale-read semantics that backs the provider failover path.
//
// Entries live in Redis past their freshness window: freshness is judged
// from the timestamp embedded in the stored entry, not from Redis expiry,
// so an expired entry can still be served as a stale fallback until the
// purge schedule removes it. A small in-process LRU mirrors recent reads to
// keep the fusion engine's hot path off the network.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roadpulse/roadpulse/internal/cache/keys"
	"github.com/roadpulse/roadpulse/internal/cache/redisstore"
	"github.com/roadpulse/roadpulse/internal/observability"
)

type Category string

const (
	CategoryMapTiles Category = "mapTiles"
	CategoryTraffic  Category = "traffic"
	CategoryRadar    Category = "radar"
	CategoryWeather  Category = "weather"
)

// ErrWriteFailed marks persistence failures (e.g. storage quota). Callers
// log it and keep going; a fetch that succeeded is still usable even when
// caching it failed.
var ErrWriteFailed = errors.New("cache write failed")

func defaultTTLs() map[Category]time.Duration {
	return map[Category]time.Duration{
		CategoryTraffic:  5 * time.Minute,
		CategoryWeather:  30 * time.Minute,
		CategoryRadar:    24 * time.Hour,
		CategoryMapTiles: 7 * 24 * time.Hour,
	}
}

// entryRecord is the serialized cache entry. Entries are immutable once
// stored; Set always writes a new record.
type entryRecord struct {
	Data       json.RawMessage `json:"data"`
	StoredAtMs int64           `json:"storedAtMs"`
	Source     string          `json:"source"`
}

// Lookup is the result of a Get. Value is a copy owned by the caller.
type Lookup struct {
	Value    []byte
	Source   string
	StoredAt time.Time
	Age      time.Duration
	Fresh    bool
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithTTLOverrides(ovr map[Category]time.Duration) Option {
	return func(s *Store) {
		for c, d := range ovr {
			if d > 0 {
				s.ttls[c] = d
			}
		}
	}
}

func WithMirrorSize(n int) Option {
	return func(s *Store) { s.mirrorSize = n }
}

type Store struct {
	cli        *redisstore.Client
	prefix     string
	ttls       map[Category]time.Duration
	mirror     *lru.Cache[string, entryRecord]
	mirrorSize int
	now        func() time.Time
	log        *slog.Logger
}

func New(cli *redisstore.Client, prefix string, log *slog.Logger, opts ...Option) (*Store, error) {
	if cli == nil {
		return nil, errors.New("cache: redis client is required")
	}
	if prefix == "" {
		prefix = "roadpulse"
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		cli:        cli,
		prefix:     prefix,
		ttls:       defaultTTLs(),
		mirrorSize: 512,
		now:        time.Now,
		log:        log,
	}
	for _, f := range opts {
		f(s)
	}
	m, err := lru.New[string, entryRecord](s.mirrorSize)
	if err != nil {
		return nil, fmt.Errorf("cache: mirror: %w", err)
	}
	s.mirror = m
	return s, nil
}

func (s *Store) TTL(cat Category) time.Duration {
	if d, ok := s.ttls[cat]; ok {
		return d
	}
	return 5 * time.Minute
}

// retention controls how long Redis keeps an entry beyond its freshness
// window so stale reads remain possible until the purge schedule runs.
func (s *Store) retention(cat Category) time.Duration {
	r := 2 * s.TTL(cat)
	if r < 48*time.Hour {
		r = 48 * time.Hour
	}
	return r
}

func (s *Store) redisKey(cat Category, key string) string {
	return keys.Key(s.prefix, string(cat), key)
}

// Get returns the entry for (category, key). With allowStale=false an entry
// past its TTL reads as absent; with allowStale=true it is returned with
// Fresh=false.
func (s *Store) Get(ctx context.Context, cat Category, key string, allowStale bool) (Lookup, bool, error) {
	rk := s.redisKey(cat, key)

	rec, ok := s.mirror.Get(rk)
	if !ok {
		raw, found, err := s.cli.Get(ctx, rk)
		if err != nil {
			return Lookup{}, false, fmt.Errorf("cache get %q: %w", rk, err)
		}
		if !found {
			observability.IncCacheResult(string(cat), "miss")
			return Lookup{}, false, nil
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			// Unreadable entry; drop it rather than serving garbage.
			s.log.Warn("cache entry corrupt, deleting", "key", rk, "err", err)
			_ = s.cli.Del(ctx, rk)
			observability.IncCacheResult(string(cat), "miss")
			return Lookup{}, false, nil
		}
		s.mirror.Add(rk, rec)
	}

	storedAt := time.UnixMilli(rec.StoredAtMs)
	age := s.now().Sub(storedAt)
	fresh := age <= s.TTL(cat)

	if !fresh && !allowStale {
		observability.IncCacheResult(string(cat), "miss")
		return Lookup{}, false, nil
	}

	outcome := "fresh"
	if !fresh {
		outcome = "stale"
	}
	observability.IncCacheResult(string(cat), outcome)

	return Lookup{
		Value:    append([]byte(nil), rec.Data...),
		Source:   rec.Source,
		StoredAt: storedAt,
		Age:      age,
		Fresh:    fresh,
	}, true, nil
}

// Set stores value under (category, key). value must be valid JSON.
func (s *Store) Set(ctx context.Context, cat Category, key string, value []byte, source string) error {
	rec := entryRecord{
		Data:       json.RawMessage(value),
		StoredAtMs: s.now().UnixMilli(),
		Source:     source,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal entry: %v", ErrWriteFailed, err)
	}

	rk := s.redisKey(cat, key)
	if err := s.cli.Set(ctx, rk, raw, s.retention(cat)); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	s.mirror.Add(rk, rec)
	return nil
}

func (s *Store) Delete(ctx context.Context, cat Category, key string) error {
	rk := s.redisKey(cat, key)
	s.mirror.Remove(rk)
	if err := s.cli.Del(ctx, rk); err != nil {
		return fmt.Errorf("cache delete %q: %w", rk, err)
	}
	return nil
}

// PurgeOlderThan removes every entry stored more than maxAge ago, across all
// categories, and returns how many were removed. Running it again with no
// writes in between is a no-op.
func (s *Store) PurgeOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	ks, err := s.cli.ScanKeys(ctx, s.prefix+"_*")
	if err != nil {
		return 0, fmt.Errorf("cache purge scan: %w", err)
	}
	if len(ks) == 0 {
		return 0, nil
	}

	vals, err := s.cli.MGet(ctx, ks)
	if err != nil {
		return 0, fmt.Errorf("cache purge read: %w", err)
	}

	cutoff := s.now().Add(-maxAge).UnixMilli()
	var expired []string
	for k, raw := range vals {
		var rec entryRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			expired = append(expired, k) // unreadable, remove
			continue
		}
		if rec.StoredAtMs < cutoff {
			expired = append(expired, k)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.cli.Del(ctx, expired...); err != nil {
		return 0, fmt.Errorf("cache purge delete: %w", err)
	}
	for _, k := range expired {
		s.mirror.Remove(k)
	}
	return len(expired), nil
}

func (s *Store) ClearAll(ctx context.Context) error {
	ks, err := s.cli.ScanKeys(ctx, s.prefix+"_*")
	if err != nil {
		return fmt.Errorf("cache clear scan: %w", err)
	}
	if len(ks) > 0 {
		if err := s.cli.Del(ctx, ks...); err != nil {
			return fmt.Errorf("cache clear delete: %w", err)
		}
	}
	s.mirror.Purge()
	return nil
}
