package netmon

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/roadpulse/roadpulse/internal/model"
)

type recordingSink struct {
	mu  sync.Mutex
	got []model.NetworkQuality
}

func (s *recordingSink) SetNetworkQuality(q model.NetworkQuality) {
	s.mu.Lock()
	s.got = append(s.got, q)
	s.mu.Unlock()
}

func (s *recordingSink) last() (model.NetworkQuality, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		return 0, false
	}
	return s.got[len(s.got)-1], true
}

func testMonitor(t *testing.T, url string, sink Sink) *Monitor {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{ProbeURL: url, FailsOffline: 2}, sink, nil, log)
}

func TestProbe_FailureDegradesThenGoesOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.Close() // every probe now fails

	sink := &recordingSink{}
	m := testMonitor(t, srv.URL, sink)

	m.probe(context.Background())
	if q, ok := sink.last(); !ok || q != model.NetworkWeak {
		t.Fatalf("after one failure: %v ok=%v", q, ok)
	}
	m.probe(context.Background())
	if q, _ := sink.last(); q != model.NetworkOffline {
		t.Fatalf("after repeated failures: %v", q)
	}
}

func TestProbe_RecoveryReportsGoodOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	m := testMonitor(t, "http://127.0.0.1:1", sink) // unreachable

	m.probe(context.Background())
	m.probe(context.Background())
	if q, _ := sink.last(); q != model.NetworkOffline {
		t.Fatalf("setup: %v", q)
	}

	// endpoint comes back
	m.cfg.ProbeURL = srv.URL
	m.probe(context.Background())
	if q, _ := sink.last(); q != model.NetworkGood {
		t.Fatalf("after recovery: %v", q)
	}

	// steady state produces no further transitions
	sink.mu.Lock()
	n := len(sink.got)
	sink.mu.Unlock()
	m.probe(context.Background())
	m.probe(context.Background())
	sink.mu.Lock()
	extra := len(sink.got) - n
	sink.mu.Unlock()
	if extra != 0 {
		t.Fatalf("steady probes produced %d extra transitions", extra)
	}
}

func TestClassify_SlowProbeIsWeak(t *testing.T) {
	sink := &recordingSink{}
	m := testMonitor(t, "http://example.invalid", sink)

	if q := m.classify(2*time.Second, nil); q != model.NetworkWeak {
		t.Fatalf("slow probe: %v", q)
	}
	if q := m.classify(50*time.Millisecond, nil); q != model.NetworkGood {
		t.Fatalf("fast probe: %v", q)
	}
}
