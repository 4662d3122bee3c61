// Package health wraps single-provider operations with timeout, retry with
// exponential backoff, and a per-provider circuit breaker.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roadpulse/roadpulse/internal/events"
	"github.com/roadpulse/roadpulse/internal/observability"
)

var (
	// ErrCircuitOpen rejects a call without attempting the operation.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrRetriesExhausted marks a call that used up every attempt.
	ErrRetriesExhausted = errors.New("all retries exhausted")

	// ErrAttemptTimeout classifies a single attempt that lost the race
	// against its timer. Never surfaces past Run.
	ErrAttemptTimeout = errors.New("provider attempt timed out")
)

// ExhaustedError carries the last underlying error after all retries.
type ExhaustedError struct {
	Provider string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("provider %s: all %d attempts failed: %v", e.Provider, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// RetryConfig bounds one Run call, independent of breaker state.
type RetryConfig struct {
	MaxAttempts       int
	AttemptTimeout    time.Duration
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		AttemptTimeout:    5 * time.Second,
		InitialBackoff:    500 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxBackoff:        5 * time.Second,
	}
}

// Breaker is the per-provider breaker state. Closed until the failure
// threshold is hit; Open rejects calls until the cooldown elapses, then the
// next call re-enters Closed with a zeroed counter (no half-open probe).
type Breaker struct {
	ConsecutiveFailures int
	LastFailure         time.Time
	Open                bool
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithSleeper replaces the inter-attempt wait, letting tests observe the
// backoff sequence without real delays.
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(t *Tracker) { t.sleep = sleep }
}

func WithFailureThreshold(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

func WithCooldown(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

type Tracker struct {
	mu       sync.Mutex
	breakers map[string]*Breaker

	threshold int
	cooldown  time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	bus   *events.Bus
	log   *slog.Logger
}

func NewTracker(bus *events.Bus, log *slog.Logger, opts ...Option) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{
		breakers:  map[string]*Breaker{},
		threshold: 3,
		cooldown:  30 * time.Second,
		now:       time.Now,
		sleep:     sleepCtx,
		bus:       bus,
		log:       log,
	}
	for _, f := range opts {
		f(t)
	}
	return t
}

// State returns a copy of the breaker state for a provider.
func (t *Tracker) State(provider string) (Breaker, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.breakers[provider]
	if !ok {
		return Breaker{}, false
	}
	return *b, true
}

// admit decides whether a call may proceed. An open breaker whose cooldown
// has elapsed resets to closed and the call is attempted normally.
func (t *Tracker) admit(provider string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.breakers[provider]
	if !ok || !b.Open {
		return nil
	}
	if t.now().Sub(b.LastFailure) >= t.cooldown {
		b.Open = false
		b.ConsecutiveFailures = 0
		return nil
	}
	return fmt.Errorf("provider %s: %w", provider, ErrCircuitOpen)
}

func (t *Tracker) recordSuccess(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[provider]; ok {
		b.ConsecutiveFailures = 0
	}
}

// recordFailure counts one failed call (all retries used). Reaching the
// threshold opens the breaker.
func (t *Tracker) recordFailure(provider string) {
	t.mu.Lock()
	b, ok := t.breakers[provider]
	if !ok {
		b = &Breaker{}
		t.breakers[provider] = b
	}
	b.ConsecutiveFailures++
	b.LastFailure = t.now()
	opened := false
	if !b.Open && b.ConsecutiveFailures >= t.threshold {
		b.Open = true
		opened = true
	}
	failures := b.ConsecutiveFailures
	t.mu.Unlock()

	if opened {
		observability.IncBreakerOpen(provider)
		t.log.Warn("circuit breaker opened",
			"provider", provider, "failures", failures, "cooldown", t.cooldown)
		if t.bus != nil {
			t.bus.Publish(events.Event{
				Kind: events.KindBreakerOpen,
				BreakerOpen: &events.BreakerOpen{
					Provider:     provider,
					FailureCount: failures,
					Cooldown:     t.cooldown,
				},
			})
		}
	}
}

// RunInfo reports what one Run call cost.
type RunInfo struct {
	Latency  time.Duration
	Attempts int
}

// Run executes op for the named provider under the tracker's breaker and
// the given retry policy. Each attempt races op against a timer; a timer
// win abandons the attempt (the in-flight call is not aborted unless op
// honors its context) and feeds the retry loop.
func Run[T any](ctx context.Context, t *Tracker, provider, operation string, cfg RetryConfig, op func(context.Context) (T, error)) (T, RunInfo, error) {
	var zero T

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	if err := t.admit(provider); err != nil {
		return zero, RunInfo{}, err
	}

	start := t.now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		val, err := runAttempt(ctx, cfg.AttemptTimeout, op)
		if err == nil {
			t.recordSuccess(provider)
			info := RunInfo{Latency: t.now().Sub(start), Attempts: attempt}
			observability.ObserveProviderOp(provider, operation, nil, info.Latency.Seconds())
			return val, info, nil
		}
		if ctx.Err() != nil {
			return zero, RunInfo{Latency: t.now().Sub(start), Attempts: attempt}, ctx.Err()
		}
		lastErr = err

		if attempt == cfg.MaxAttempts {
			break
		}
		if err := t.sleep(ctx, backoffDelay(cfg, attempt)); err != nil {
			return zero, RunInfo{Latency: t.now().Sub(start), Attempts: attempt}, err
		}
	}

	t.recordFailure(provider)
	info := RunInfo{Latency: t.now().Sub(start), Attempts: cfg.MaxAttempts}
	observability.ObserveProviderOp(provider, operation, lastErr, info.Latency.Seconds())
	return zero, info, &ExhaustedError{
		Provider: provider,
		Attempts: cfg.MaxAttempts,
		Last:     lastErr,
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := op(attemptCtx)
		ch <- outcome{val: v, err: err}
	}()

	select {
	case out := <-ch:
		return out.val, out.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrAttemptTimeout, timeout)
	}
}

// backoffDelay returns the wait after the given 1-based failed attempt:
// min(initial * multiplier^(attempt-1), max).
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= cfg.BackoffMultiplier
	}
	if cfg.MaxBackoff > 0 && d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	return time.Duration(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
