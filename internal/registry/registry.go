// Package registry owns the ordered provider chains per region and runs the
// cache-then-failover protocol over them.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/roadpulse/roadpulse/internal/cache"
	"github.com/roadpulse/roadpulse/internal/events"
	"github.com/roadpulse/roadpulse/internal/health"
	"github.com/roadpulse/roadpulse/internal/observability"
	"github.com/roadpulse/roadpulse/internal/providers"
)

type Region string

// ProviderSet holds the ordered failover chains for one region. The mock
// provider is always last, so no chain is ever empty.
type ProviderSet struct {
	Traffic []providers.TrafficProvider
	Weather []providers.WeatherProvider
	Radar   []providers.RadarProvider
	Tiles   []providers.TileProvider
}

// AllProvidersFailedError surfaces only when every provider in the chain
// failed and no cache entry, fresh or stale, rescued the request.
type AllProvidersFailedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("%s: all providers failed after %d attempts: %v", e.Operation, e.Attempts, e.Last)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.Last }

type Registry struct {
	tracker *health.Tracker
	store   *cache.Store
	bus     *events.Bus
	log     *slog.Logger
	retry   health.RetryConfig
	creds   providers.Credentials
	httpc   *http.Client
	h3Res   int

	mu   sync.Mutex
	sets map[Region]*ProviderSet
}

type Config struct {
	Credentials providers.Credentials
	Retry       health.RetryConfig
	H3Res       int
}

func New(cfg Config, tracker *health.Tracker, store *cache.Store, bus *events.Bus, httpc *http.Client, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = health.DefaultRetryConfig()
	}
	if cfg.H3Res <= 0 || cfg.H3Res > 15 {
		cfg.H3Res = 7
	}
	return &Registry{
		tracker: tracker,
		store:   store,
		bus:     bus,
		log:     log,
		retry:   cfg.Retry,
		creds:   cfg.Credentials,
		httpc:   httpc,
		h3Res:   cfg.H3Res,
		sets:    map[Region]*ProviderSet{},
	}
}

// ProvidersFor builds the chains for a region once and memoizes them.
// A provider whose construction fails (missing credential) is omitted.
func (r *Registry) ProvidersFor(region Region) *ProviderSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.sets[region]; ok {
		return set
	}
	set := r.buildSet(region)
	r.sets[region] = set
	return set
}

func (r *Registry) buildSet(region Region) *ProviderSet {
	set := &ProviderSet{}
	mock := providers.NewMock()

	tomtom, ttErr := providers.NewTomTom(r.creds.TomTomKey, r.httpc)
	if ttErr != nil {
		r.log.Info("provider disabled", "provider", "tomtom", "reason", ttErr)
	}
	here, hErr := providers.NewHERE(r.creds.HereKey, r.httpc)
	if hErr != nil {
		r.log.Info("provider disabled", "provider", "here", "reason", hErr)
	}
	ow, owErr := providers.NewOpenWeather(r.creds.OpenWeatherKey, r.httpc)
	if owErr != nil {
		r.log.Info("provider disabled", "provider", "openweather", "reason", owErr)
	}

	// HERE has better coverage in Europe; everywhere else TomTom leads.
	europeFirst := strings.HasPrefix(strings.ToUpper(string(region)), "EU")

	addTraffic := func(p providers.TrafficProvider, err error) {
		if err == nil {
			set.Traffic = append(set.Traffic, p)
		}
	}
	if europeFirst {
		addTraffic(here, hErr)
		addTraffic(tomtom, ttErr)
	} else {
		addTraffic(tomtom, ttErr)
		addTraffic(here, hErr)
	}
	set.Traffic = append(set.Traffic, mock)

	if owErr == nil {
		set.Weather = append(set.Weather, ow)
	}
	set.Weather = append(set.Weather, mock)

	set.Radar = append(set.Radar, mock)

	if ttErr == nil {
		set.Tiles = append(set.Tiles, tomtom)
	}
	set.Tiles = append(set.Tiles, mock)

	return set
}

// Options ties a failover call to a cache slot. Nil skips caching.
type Options struct {
	CacheKey string
	Category cache.Category
}

// Outcome reports where the data came from and what it cost to get.
type Outcome[T any] struct {
	Data         T
	Source       string
	UsedFallback bool
	Attempts     int
}

// WithFailover runs op across the ordered chain: fresh cache short-circuit,
// then providers in order through the health tracker, caching the first
// success, then a stale-cache rescue, then AllProvidersFailedError.
func WithFailover[P providers.Provider, T any](
	ctx context.Context,
	r *Registry,
	provs []P,
	operation string,
	op func(context.Context, P) (T, error),
	opts *Options,
) (Outcome[T], error) {
	var zero Outcome[T]

	if out, ok := cacheLookup[T](ctx, r, opts, operation, false); ok {
		return out, nil
	}

	var (
		lastErr  error
		attempts int
	)
	for i, p := range provs {
		val, info, err := health.Run(ctx, r.tracker, p.Name(), operation, r.retry,
			func(c context.Context) (T, error) { return op(c, p) })
		attempts += info.Attempts
		if err != nil {
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			lastErr = err
			r.log.Debug("provider failed, advancing chain",
				"operation", operation, "provider", p.Name(), "err", err)
			continue
		}

		if opts != nil && opts.CacheKey != "" {
			if raw, merr := json.Marshal(val); merr == nil {
				if serr := r.store.Set(ctx, opts.Category, opts.CacheKey, raw, p.Name()); serr != nil {
					// A fetch that succeeded is still returned even if caching failed.
					r.log.Warn("cache write after fetch failed",
						"operation", operation, "key", opts.CacheKey, "err", serr)
				}
			}
		}

		if i > 0 {
			observability.IncFailover(operation)
			cause := ""
			if lastErr != nil {
				cause = lastErr.Error()
			}
			r.bus.Publish(events.Event{
				Kind: events.KindFailover,
				Failover: &events.Failover{
					Operation: operation,
					From:      provs[0].Name(),
					To:        p.Name(),
					Latency:   info.Latency,
					Reason:    cause,
				},
			})
		}

		return Outcome[T]{
			Data:         val,
			Source:       p.Name(),
			UsedFallback: i > 0,
			Attempts:     attempts,
		}, nil
	}

	if out, ok := cacheLookup[T](ctx, r, opts, operation, true); ok {
		out.Attempts = attempts
		return out, nil
	}

	if r.bus != nil {
		msg := ""
		if lastErr != nil {
			msg = lastErr.Error()
		}
		r.bus.Publish(events.Event{
			Kind: events.KindAllProvidersOut,
			Exhausted: &events.ProvidersExhausted{
				Operation: operation,
				Attempts:  attempts,
				LastError: msg,
			},
		})
	}
	return zero, &AllProvidersFailedError{Operation: operation, Attempts: attempts, Last: lastErr}
}

// cacheLookup reads the configured cache slot. With stale=true it accepts
// entries past TTL and announces the degraded read on the bus.
func cacheLookup[T any](ctx context.Context, r *Registry, opts *Options, operation string, stale bool) (Outcome[T], bool) {
	var zero Outcome[T]
	if opts == nil || opts.CacheKey == "" || r.store == nil {
		return zero, false
	}
	lk, ok, err := r.store.Get(ctx, opts.Category, opts.CacheKey, stale)
	if err != nil {
		r.log.Warn("cache lookup failed", "operation", operation, "key", opts.CacheKey, "err", err)
		return zero, false
	}
	if !ok {
		return zero, false
	}

	var val T
	if err := json.Unmarshal(lk.Value, &val); err != nil {
		r.log.Warn("cache entry undecodable", "operation", operation, "key", opts.CacheKey, "err", err)
		return zero, false
	}

	source := fmt.Sprintf("Cache(%s)", lk.Source)
	if !lk.Fresh {
		source = fmt.Sprintf("Cache(Stale, %s)", lk.Source)
		r.bus.Publish(events.Event{
			Kind: events.KindDegradedData,
			Degraded: &events.DegradedData{
				Operation:  operation,
				Source:     lk.Source,
				AgeMinutes: int(lk.Age.Minutes()),
			},
		})
	}
	return Outcome[T]{
		Data:         val,
		Source:       source,
		UsedFallback: !lk.Fresh,
	}, true
}
