package events

import (
	"testing"
	"time"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()
	var a, b int
	bus.Subscribe(func(Event) { a++ })
	bus.Subscribe(func(Event) { b++ })

	bus.Publish(Event{Kind: KindFailover})
	bus.Publish(Event{Kind: KindBreakerOpen})

	if a != 2 || b != 2 {
		t.Fatalf("a=%d b=%d", a, b)
	}
}

func TestBus_StampsTime(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	bus := NewBus()
	bus.now = func() time.Time { return fixed }

	var got Event
	bus.Subscribe(func(ev Event) { got = ev })

	bus.Publish(Event{Kind: KindOfflineEntered})
	if !got.Time.Equal(fixed) {
		t.Fatalf("time=%v", got.Time)
	}

	// an explicit timestamp is preserved
	explicit := fixed.Add(-time.Hour)
	bus.Publish(Event{Kind: KindOfflineRecover, Time: explicit})
	if !got.Time.Equal(explicit) {
		t.Fatalf("explicit time overwritten: %v", got.Time)
	}
}

func TestBus_NilHandlerIgnored(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(nil)
	bus.Publish(Event{Kind: KindFailover}) // must not panic
}
