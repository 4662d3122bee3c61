// Package netmon classifies network quality by probing well known
// endpoints and feeds the result to the fusion engine.
package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/roadpulse/roadpulse/internal/model"
)

// Sink receives quality transitions. The fusion engine implements it.
type Sink interface {
	SetNetworkQuality(q model.NetworkQuality)
}

type Config struct {
	ProbeURL     string
	Interval     time.Duration
	WeakAbove    time.Duration // probe latency above this means weak
	FailsOffline int           // consecutive probe failures before offline
}

type Monitor struct {
	cfg    Config
	sink   Sink
	httpc  *http.Client
	log    *slog.Logger
	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	failures int
	last     model.NetworkQuality
}

func New(cfg Config, sink Sink, httpc *http.Client, log *slog.Logger) *Monitor {
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = "https://www.google.com/generate_204"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.WeakAbove <= 0 {
		cfg.WeakAbove = 1500 * time.Millisecond
	}
	if cfg.FailsOffline <= 0 {
		cfg.FailsOffline = 2
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 5 * time.Second}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		cfg:   cfg,
		sink:  sink,
		httpc: httpc,
		log:   log,
		now:   time.Now,
		last:  model.NetworkGood,
	}
}

func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx)
}

func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		m.probe(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	start := m.now()
	err := m.doProbe(ctx)
	latency := m.now().Sub(start)

	m.mu.Lock()
	if err != nil {
		m.failures++
	} else {
		m.failures = 0
	}
	q := m.classify(latency, err)
	changed := q != m.last
	m.last = q
	m.mu.Unlock()

	if changed {
		m.log.Info("network quality changed", "quality", q, "latency", latency)
		m.sink.SetNetworkQuality(q)
	}
}

func (m *Monitor) classify(latency time.Duration, err error) model.NetworkQuality {
	switch {
	case err != nil && m.failures >= m.cfg.FailsOffline:
		return model.NetworkOffline
	case err != nil:
		return model.NetworkWeak
	case latency > m.cfg.WeakAbove:
		return model.NetworkWeak
	default:
		return model.NetworkGood
	}
}

func (m *Monitor) doProbe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.cfg.ProbeURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.httpc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
