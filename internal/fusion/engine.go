package fusion

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roadpulse/roadpulse/internal/cache"
	"github.com/roadpulse/roadpulse/internal/events"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/model"
	"github.com/roadpulse/roadpulse/internal/observability"
)

// DataSource is what the engine needs from the provider layer. The second
// return value names where the data came from (provider or cache tag).
type DataSource interface {
	Flow(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficFlow, string, error)
	Incidents(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficIncident, string, error)
	Weather(ctx context.Context, lat, lng float64) (model.WeatherNow, string, error)
}

type Config struct {
	PollGood     time.Duration
	PollDegraded time.Duration
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPatterns(p PatternSource) Option {
	return func(e *Engine) { e.pat = p }
}

// WithSnapshotStore enables snapshot persistence so a restarted process can
// serve the last known segments before its first successful cycle.
func WithSnapshotStore(s *cache.Store) Option {
	return func(e *Engine) { e.store = s }
}

type Engine struct {
	src   DataSource
	pat   PatternSource
	bus   *events.Bus
	store *cache.Store
	log   *slog.Logger
	now   func() time.Time

	pollGood     time.Duration
	pollDegraded time.Duration

	mu       sync.RWMutex
	segments map[string]model.TrafficSegment
	snapshot map[string]model.TrafficSegment
	offline  bool
	quality  model.NetworkQuality
	snapKey  string

	inFlight  atomic.Bool
	qualityCh chan struct{}

	startMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewEngine(src DataSource, bus *events.Bus, cfg Config, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollGood <= 0 {
		cfg.PollGood = 60 * time.Second
	}
	if cfg.PollDegraded <= 0 {
		cfg.PollDegraded = 180 * time.Second
	}
	e := &Engine{
		src:          src,
		pat:          StaticPatterns{},
		bus:          bus,
		log:          log,
		now:          time.Now,
		pollGood:     cfg.PollGood,
		pollDegraded: cfg.PollDegraded,
		segments:     map[string]model.TrafficSegment{},
		qualityCh:    make(chan struct{}, 1),
	}
	for _, f := range opts {
		f(e)
	}
	return e
}

// StartMonitoring begins the polling loop for the bounding box: one cycle
// immediately, then on a timer re-armed whenever network quality changes.
func (e *Engine) StartMonitoring(bbox model.BoundingBox) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.cancel != nil {
		return errors.New("fusion: monitoring already started")
	}

	e.mu.Lock()
	e.snapKey = "snapshot:" + bbox.String()
	e.mu.Unlock()
	e.loadSnapshot()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(ctx, bbox)
	return nil
}

// StopMonitoring clears the polling timer. An in-flight cycle finishes on
// its own and its result is discarded.
func (e *Engine) StopMonitoring() {
	e.startMu.Lock()
	defer e.startMu.Unlock()
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel = nil
	e.done = nil
}

// SetNetworkQuality feeds the external network monitor's signal in and
// re-arms the polling timer.
func (e *Engine) SetNetworkQuality(q model.NetworkQuality) {
	e.mu.Lock()
	changed := e.quality != q
	e.quality = q
	e.mu.Unlock()
	if !changed {
		return
	}
	select {
	case e.qualityCh <- struct{}{}:
	default:
	}
}

func (e *Engine) Quality() model.NetworkQuality {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.quality
}

func (e *Engine) period() time.Duration {
	if e.Quality() == model.NetworkGood {
		return e.pollGood
	}
	return e.pollDegraded
}

func (e *Engine) loop(ctx context.Context, bbox model.BoundingBox) {
	defer close(e.done)

	e.runCycle(ctx, bbox)

	timer := time.NewTimer(e.period())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			e.runCycle(ctx, bbox)
			timer.Reset(e.period())
		case <-e.qualityCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(e.period())
		}
	}
}

// runCycle executes one fusion cycle. Overlapping triggers are dropped, not
// queued.
func (e *Engine) runCycle(ctx context.Context, bbox model.BoundingBox) {
	if !e.inFlight.CompareAndSwap(false, true) {
		observability.IncFusionCycle("skipped")
		return
	}
	defer e.inFlight.Store(false)

	if e.Quality() == model.NetworkOffline {
		e.enterOffline()
		observability.IncFusionCycle("offline")
		return
	}
	e.exitOffline()

	center := bbox.Center()
	var (
		wg      sync.WaitGroup
		flows   []model.TrafficFlow
		incs    []model.TrafficIncident
		weather model.WeatherNow

		flowErr, incErr, wErr error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		flows, _, flowErr = e.src.Flow(ctx, bbox)
	}()
	go func() {
		defer wg.Done()
		incs, _, incErr = e.src.Incidents(ctx, bbox)
	}()
	go func() {
		defer wg.Done()
		weather, _, wErr = e.src.Weather(ctx, center.Lat, center.Lng)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		// Monitoring stopped mid-cycle; discard the result.
		return
	}
	if err := errors.Join(flowErr, incErr, wErr); err != nil {
		// Keep serving the previous snapshot rather than clearing state.
		e.log.Warn("fusion cycle failed, keeping last snapshot", "err", err)
		observability.IncFusionCycle("error")
		return
	}

	now := e.now()
	updated := make([]model.TrafficSegment, 0, len(flows))
	for _, fl := range flows {
		updated = append(updated, Fuse(fl, incs, &weather, now, e.pat))
	}

	e.mu.Lock()
	for _, seg := range updated {
		e.segments[seg.ID] = seg
	}
	e.snapshot = copySegments(e.segments)
	total := len(e.segments)
	e.mu.Unlock()

	e.persistSnapshot(ctx)

	for i := range updated {
		seg := updated[i].Clone()
		e.bus.Publish(events.Event{Kind: events.KindSegmentUpdate, Segment: &seg})
	}
	observability.SetFusionSegments(total)
	observability.IncFusionCycle("ok")
	e.log.Debug("fusion cycle complete",
		"flows", len(flows), "incidents", len(incs), "segments", total)
}

// enterOffline restores the last known snapshot into the live map and
// announces the transition exactly once, however many cycles run offline.
func (e *Engine) enterOffline() {
	e.mu.Lock()
	if e.offline {
		e.mu.Unlock()
		return
	}
	e.offline = true
	if len(e.snapshot) > 0 {
		e.segments = copySegments(e.snapshot)
	}
	e.mu.Unlock()

	e.log.Warn("network offline, serving last known snapshot")
	e.bus.Publish(events.Event{Kind: events.KindOfflineEntered})
}

func (e *Engine) exitOffline() {
	e.mu.Lock()
	if !e.offline {
		e.mu.Unlock()
		return
	}
	e.offline = false
	e.mu.Unlock()

	e.log.Info("network recovered")
	e.bus.Publish(events.Event{Kind: events.KindOfflineRecover})
}

func (e *Engine) persistSnapshot(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.mu.RLock()
	key := e.snapKey
	raw, err := json.Marshal(e.snapshot)
	e.mu.RUnlock()
	if err != nil || key == "" {
		return
	}
	if err := e.store.Set(ctx, cache.CategoryTraffic, key, raw, "fusion"); err != nil {
		e.log.Warn("snapshot persist failed", "err", err)
	}
}

// loadSnapshot warm-starts from the persisted snapshot, stale or not.
func (e *Engine) loadSnapshot() {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.mu.RLock()
	key := e.snapKey
	e.mu.RUnlock()

	lk, ok, err := e.store.Get(ctx, cache.CategoryTraffic, key, true)
	if err != nil || !ok {
		return
	}
	var snap map[string]model.TrafficSegment
	if err := json.Unmarshal(lk.Value, &snap); err != nil {
		return
	}
	e.mu.Lock()
	e.snapshot = snap
	if len(e.segments) == 0 {
		e.segments = copySegments(snap)
	}
	e.mu.Unlock()
	e.log.Info("restored segment snapshot", "segments", len(snap), "age", lk.Age)
}

// Segment returns a copy of one segment by id.
func (e *Engine) Segment(id string) (model.TrafficSegment, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	seg, ok := e.segments[id]
	if !ok {
		return model.TrafficSegment{}, false
	}
	return seg.Clone(), true
}

// Segments returns copies of all segments, ordered by id.
func (e *Engine) Segments() []model.TrafficSegment {
	e.mu.RLock()
	out := make([]model.TrafficSegment, 0, len(e.segments))
	for _, seg := range e.segments {
		out = append(out, seg.Clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IncidentsNear returns the distinct incidents within radiusM of pt,
// ordered nearest first.
func (e *Engine) IncidentsNear(pt model.LatLng, radiusM float64) []model.TrafficIncident {
	type scored struct {
		in model.TrafficIncident
		d  float64
	}
	seen := map[string]bool{}
	var hits []scored

	e.mu.RLock()
	for _, seg := range e.segments {
		for _, in := range seg.Incidents {
			if seen[in.ID] {
				continue
			}
			d := geo.Distance(pt, in.Location)
			if d <= radiusM {
				seen[in.ID] = true
				hits = append(hits, scored{in: in, d: d})
			}
		}
	}
	e.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].d < hits[j].d })
	out := make([]model.TrafficIncident, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.in)
	}
	return out
}

func copySegments(m map[string]model.TrafficSegment) map[string]model.TrafficSegment {
	out := make(map[string]model.TrafficSegment, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
