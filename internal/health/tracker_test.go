package health

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/roadpulse/roadpulse/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		AttemptTimeout:    time.Second,
		InitialBackoff:    500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Second,
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

var errBoom = errors.New("boom")

func failingOp(calls *int) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		*calls++
		return "", errBoom
	}
}

func TestRun_SuccessFirstAttempt(t *testing.T) {
	tr := NewTracker(nil, testLogger(), WithSleeper(noSleep))

	got, info, err := Run(context.Background(), tr, "TomTom", "flow", fastRetry(3),
		func(context.Context) (string, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != "ok" || info.Attempts != 1 {
		t.Fatalf("got=%q attempts=%d", got, info.Attempts)
	}
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	tr := NewTracker(nil, testLogger(), WithSleeper(noSleep))

	calls := 0
	got, info, err := Run(context.Background(), tr, "TomTom", "flow", fastRetry(3),
		func(context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errBoom
			}
			return "ok", nil
		})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got != "ok" || info.Attempts != 3 {
		t.Fatalf("got=%q attempts=%d", got, info.Attempts)
	}

	// a successful call counts as zero failures
	if b, ok := tr.State("TomTom"); ok && b.ConsecutiveFailures != 0 {
		t.Fatalf("failures=%d after success", b.ConsecutiveFailures)
	}
}

func TestRun_ExhaustionWrapsLastError(t *testing.T) {
	tr := NewTracker(nil, testLogger(), WithSleeper(noSleep))

	calls := 0
	_, info, err := Run(context.Background(), tr, "HERE", "flow", fastRetry(3), failingOp(&calls))
	if calls != 3 || info.Attempts != 3 {
		t.Fatalf("calls=%d attempts=%d", calls, info.Attempts)
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err=%v, want ErrRetriesExhausted", err)
	}
	if !errors.Is(err, errBoom) {
		t.Fatalf("underlying error lost: %v", err)
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) || ex.Provider != "HERE" || ex.Attempts != 3 {
		t.Fatalf("exhausted=%+v", ex)
	}
}

func TestRun_BackoffSequence(t *testing.T) {
	var waits []time.Duration
	tr := NewTracker(nil, testLogger(),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		}))

	calls := 0
	_, _, _ = Run(context.Background(), tr, "TomTom", "flow", fastRetry(3), failingOp(&calls))

	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits=%v", waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("wait[%d]=%v want %v", i, waits[i], want[i])
		}
	}
}

func TestBackoffDelay_Capped(t *testing.T) {
	cfg := DefaultRetryConfig()
	if d := backoffDelay(cfg, 1); d != 500*time.Millisecond {
		t.Fatalf("attempt 1: %v", d)
	}
	if d := backoffDelay(cfg, 5); d != 5*time.Second {
		t.Fatalf("attempt 5 should cap at max: %v", d)
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	bus := events.NewBus()
	var opened []events.Event
	bus.Subscribe(func(ev events.Event) {
		if ev.Kind == events.KindBreakerOpen {
			opened = append(opened, ev)
		}
	})
	tr := NewTracker(bus, testLogger(), WithSleeper(noSleep))

	// each exhausted Run is one failure; three open the breaker
	for i := 0; i < 3; i++ {
		calls := 0
		_, _, err := Run(context.Background(), tr, "TomTom", "flow", fastRetry(1), failingOp(&calls))
		if !errors.Is(err, ErrRetriesExhausted) {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	b, ok := tr.State("TomTom")
	if !ok || !b.Open || b.ConsecutiveFailures != 3 {
		t.Fatalf("breaker=%+v", b)
	}
	if len(opened) != 1 {
		t.Fatalf("breaker_open events=%d", len(opened))
	}
	if opened[0].BreakerOpen.FailureCount != 3 {
		t.Fatalf("event=%+v", opened[0].BreakerOpen)
	}

	// open breaker rejects without invoking the operation
	calls := 0
	_, _, err := Run(context.Background(), tr, "TomTom", "flow", fastRetry(3), failingOp(&calls))
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err=%v, want ErrCircuitOpen", err)
	}
	if calls != 0 {
		t.Fatalf("operation invoked through an open breaker")
	}
}

func TestBreaker_CooldownReadmitsAndResets(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(nil, testLogger(),
		WithClock(func() time.Time { return now }),
		WithSleeper(noSleep))

	for i := 0; i < 3; i++ {
		calls := 0
		_, _, _ = Run(context.Background(), tr, "HERE", "flow", fastRetry(1), failingOp(&calls))
	}
	if b, _ := tr.State("HERE"); !b.Open {
		t.Fatalf("breaker should be open")
	}

	// before the cooldown, still rejected
	now = now.Add(29 * time.Second)
	if _, _, err := Run(context.Background(), tr, "HERE", "flow", fastRetry(1),
		func(context.Context) (string, error) { return "ok", nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err=%v before cooldown", err)
	}

	// after the cooldown the next call goes through with a clean counter
	now = now.Add(2 * time.Second)
	got, _, err := Run(context.Background(), tr, "HERE", "flow", fastRetry(1),
		func(context.Context) (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("got=%q err=%v after cooldown", got, err)
	}
	b, _ := tr.State("HERE")
	if b.Open || b.ConsecutiveFailures != 0 {
		t.Fatalf("breaker=%+v after reset", b)
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	tr := NewTracker(nil, testLogger(), WithSleeper(noSleep))

	for i := 0; i < 2; i++ {
		calls := 0
		_, _, _ = Run(context.Background(), tr, "TomTom", "flow", fastRetry(1), failingOp(&calls))
	}
	_, _, err := Run(context.Background(), tr, "TomTom", "flow", fastRetry(1),
		func(context.Context) (string, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// two more failures stay below the threshold
	for i := 0; i < 2; i++ {
		calls := 0
		_, _, _ = Run(context.Background(), tr, "TomTom", "flow", fastRetry(1), failingOp(&calls))
	}
	if b, _ := tr.State("TomTom"); b.Open {
		t.Fatalf("breaker opened after counter reset: %+v", b)
	}
}

func TestRunAttempt_Timeout(t *testing.T) {
	tr := NewTracker(nil, testLogger(), WithSleeper(noSleep))

	cfg := fastRetry(1)
	cfg.AttemptTimeout = 20 * time.Millisecond

	_, _, err := Run(context.Background(), tr, "TomTom", "flow", cfg,
		func(context.Context) (string, error) {
			time.Sleep(200 * time.Millisecond)
			return "ok", nil
		})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err=%v", err)
	}
	if !errors.Is(err, ErrAttemptTimeout) {
		t.Fatalf("timeout not classified: %v", err)
	}
}

func TestRun_CancelledContextStopsRetrying(t *testing.T) {
	tr := NewTracker(nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, _, err := Run(ctx, tr, "TomTom", "flow", fastRetry(3),
		func(context.Context) (string, error) {
			calls++
			cancel()
			return "", errBoom
		})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d after cancellation", calls)
	}
}
