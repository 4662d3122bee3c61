package fusion

import (
	"math"
	"time"

	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/model"
)

const (
	incidentMatchRadiusM = 500.0
	maxWeatherImpact     = 30
	predictionHorizon    = 30 * time.Minute
)

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// baseCongestion derives a 0-100 score from how far current speed falls
// below free flow.
func baseCongestion(speedKmh, freeFlowKmh float64) int {
	if freeFlowKmh <= 0 {
		return 0
	}
	ratio := speedKmh / freeFlowKmh
	return clamp(int(math.Round((1-ratio)*100)), 0, 100)
}

// weatherImpact is an additive congestion penalty, capped at 30.
func weatherImpact(w *model.WeatherNow) int {
	if w == nil {
		return 0
	}
	impact := 0
	switch w.Condition {
	case model.WeatherRain:
		impact += 10
	case model.WeatherSnow:
		impact += 20
	case model.WeatherFog:
		impact += 15
	case model.WeatherStorm:
		impact += 25
	}
	if w.WindSpeedKmh > 50 {
		impact += 10
	}
	if w.VisibilityM > 0 && w.VisibilityM < 1000 {
		impact += 15
	}
	if impact > maxWeatherImpact {
		impact = maxWeatherImpact
	}
	return impact
}

// predictCongestion extrapolates the score half a pattern step ahead:
// clamp(congestion + 0.5*(future-current)*weatherFactor, 0, 100), where bad
// weather amplifies the pattern delta.
func predictCongestion(congestion int, now time.Time, w *model.WeatherNow, pat PatternSource) int {
	current := pat.Expected(now)
	future := pat.Expected(now.Add(predictionHorizon))

	factor := 1.0
	if w != nil && (w.Condition == model.WeatherRain || w.Condition == model.WeatherSnow) {
		factor = 1.15
	}
	predicted := float64(congestion) + 0.5*(future-current)*factor
	return clamp(int(math.Round(predicted)), 0, 100)
}

// matchIncidents returns the incidents within the match radius of any
// coordinate on the flow's path.
func matchIncidents(path []model.LatLng, incidents []model.TrafficIncident) []model.TrafficIncident {
	var out []model.TrafficIncident
	for _, in := range incidents {
		if d := geo.DistanceToPath(in.Location, path); d >= 0 && d <= incidentMatchRadiusM {
			out = append(out, in)
		}
	}
	return out
}

// riskTags derives the segment's tag set: congestion level, one tag per
// distinct incident type, weather condition, and rush hour.
func riskTags(congestion int, incidents []model.TrafficIncident, w *model.WeatherNow, now time.Time) []string {
	var tags []string
	seen := map[string]bool{}
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	if congestion >= 70 {
		add("high_congestion")
	}
	for _, in := range incidents {
		add(string(in.Type))
	}
	if w != nil && w.Condition != model.WeatherClear && w.Condition != model.WeatherClouds {
		add(string(w.Condition))
	}
	wd := now.Weekday()
	if wd != time.Saturday && wd != time.Sunday && isRushHour(now.Hour()) {
		add("rush_hour")
	}
	return tags
}

// Fuse combines one flow record with incidents and weather into a complete
// segment. The result always satisfies 0 <= congestion, prediction <= 100.
func Fuse(flow model.TrafficFlow, incidents []model.TrafficIncident, w *model.WeatherNow, now time.Time, pat PatternSource) model.TrafficSegment {
	congestion := clamp(baseCongestion(flow.SpeedKmh, flow.FreeFlowKmh)+weatherImpact(w), 0, 100)
	matched := matchIncidents(flow.Path, incidents)

	return model.TrafficSegment{
		ID:                  flow.ID,
		Path:                append([]model.LatLng(nil), flow.Path...),
		Congestion:          congestion,
		PredictedCongestion: predictCongestion(congestion, now, w, pat),
		SpeedKmh:            flow.SpeedKmh,
		FreeFlowKmh:         flow.FreeFlowKmh,
		Incidents:           matched,
		RiskTags:            riskTags(congestion, matched, w, now),
		LastUpdated:         now,
	}
}
