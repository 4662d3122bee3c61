// Package events carries outbound notifications to UI, voice and routing
// collaborators. One tagged event type is dispatched synchronously to every
// registered handler; handlers must not block.
package events

import (
	"sync"
	"time"

	"github.com/roadpulse/roadpulse/internal/model"
)

type Kind string

const (
	KindFailover        Kind = "failover"
	KindBreakerOpen     Kind = "breaker_open"
	KindDegradedData    Kind = "degraded_data"
	KindSegmentUpdate   Kind = "segment_update"
	KindOfflineEntered  Kind = "offline_entered"
	KindOfflineRecover  Kind = "offline_recovered"
	KindAllProvidersOut Kind = "all_providers_failed"
)

type Failover struct {
	Operation string        `json:"operation"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Latency   time.Duration `json:"latencyMs"`
	Reason    string        `json:"reason"`
}

type BreakerOpen struct {
	Provider     string        `json:"provider"`
	FailureCount int           `json:"failureCount"`
	Cooldown     time.Duration `json:"cooldownMs"`
}

type DegradedData struct {
	Operation  string `json:"operation"`
	Source     string `json:"source"`
	AgeMinutes int    `json:"ageMinutes"`
}

type ProvidersExhausted struct {
	Operation string `json:"operation"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"lastError"`
}

type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Failover     *Failover             `json:"failover,omitempty"`
	BreakerOpen  *BreakerOpen          `json:"breakerOpen,omitempty"`
	Degraded     *DegradedData         `json:"degraded,omitempty"`
	Segment      *model.TrafficSegment `json:"segment,omitempty"`
	Exhausted    *ProvidersExhausted   `json:"exhausted,omitempty"`
}

type Handler func(Event)

// Bus fans events out to registered handlers. A single instance is built at
// process start and handed to every component that emits or observes events.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	now      func() time.Time
}

func NewBus() *Bus {
	return &Bus{now: time.Now}
}

func (b *Bus) Subscribe(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.mu.RLock()
	hs := b.handlers
	b.mu.RUnlock()
	for _, h := range hs {
		h(ev)
	}
}
