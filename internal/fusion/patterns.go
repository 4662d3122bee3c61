// Package fusion turns raw provider output into congestion-scored,
// risk-tagged traffic segments on a periodic polling loop.
package fusion

import "time"

// PatternSource supplies the expected congestion level for a point in time.
// The engine only compares values at two instants, so any model that can
// answer "how bad is traffic usually at time t" plugs in here.
type PatternSource interface {
	Expected(t time.Time) float64
}

// StaticPatterns is a fixed time-of-day/day-of-week heuristic. It is a
// placeholder for a learned model; keep it deterministic.
type StaticPatterns struct{}

func (StaticPatterns) Expected(t time.Time) float64 {
	h := t.Hour()
	wd := t.Weekday()
	weekend := wd == time.Saturday || wd == time.Sunday

	switch {
	case !weekend && isRushHour(h):
		return 60
	case !weekend && h >= 10 && h <= 15:
		return 35
	case weekend && h >= 10 && h <= 16:
		return 40
	default:
		return 20
	}
}

func isRushHour(h int) bool {
	return (h >= 7 && h <= 9) || (h >= 16 && h <= 19)
}
