// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BoundingBox is a rectangular geographic area in EPSG:4326 degrees.
type BoundingBox struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

func (b BoundingBox) Center() LatLng {
	return LatLng{
		Lat: (b.MinLat + b.MaxLat) / 2,
		Lng: (b.MinLng + b.MaxLng) / 2,
	}
}

// String representation used in cache keys and logs.
func (b BoundingBox) String() string {
	return fmt.Sprintf("%.5f,%.5f,%.5f,%.5f", b.MinLat, b.MinLng, b.MaxLat, b.MaxLng)
}

type NetworkQuality int

const (
	NetworkGood NetworkQuality = iota
	NetworkWeak
	NetworkOffline
)

func (q NetworkQuality) String() string {
	switch q {
	case NetworkWeak:
		return "weak"
	case NetworkOffline:
		return "offline"
	default:
		return "good"
	}
}

// TrafficFlow is one provider-normalized flow record for a stretch of road.
type TrafficFlow struct {
	ID          string   `json:"id"`
	Path        []LatLng `json:"path"`
	SpeedKmh    float64  `json:"speedKmh"`
	FreeFlowKmh float64  `json:"freeFlowKmh"`
}

type IncidentType string

const (
	IncidentAccident     IncidentType = "accident"
	IncidentConstruction IncidentType = "construction"
	IncidentClosure      IncidentType = "closure"
	IncidentCongestion   IncidentType = "congestion"
	IncidentWeather      IncidentType = "weather"
	IncidentOther        IncidentType = "other"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

type TrafficIncident struct {
	ID           string       `json:"id"`
	Type         IncidentType `json:"type"`
	Severity     Severity     `json:"severity"`
	Location     LatLng       `json:"location"`
	DelayMinutes int          `json:"delayMinutes"`
	Description  string       `json:"description,omitempty"`
}

type WeatherCondition string

const (
	WeatherClear  WeatherCondition = "clear"
	WeatherRain   WeatherCondition = "rain"
	WeatherSnow   WeatherCondition = "snow"
	WeatherFog    WeatherCondition = "fog"
	WeatherStorm  WeatherCondition = "storm"
	WeatherClouds WeatherCondition = "clouds"
)

// WeatherNow is the current-conditions reading used for congestion weighting.
type WeatherNow struct {
	Condition       WeatherCondition `json:"condition"`
	WindSpeedKmh    float64          `json:"windSpeedKmh"`
	PrecipitationMm float64          `json:"precipitationMm"`
	VisibilityM     float64          `json:"visibilityM"`
	Timestamp       time.Time        `json:"timestamp"`
}

type SpeedCamera struct {
	ID            string  `json:"id"`
	Location      LatLng  `json:"location"`
	SpeedLimitKmh float64 `json:"speedLimitKmh,omitempty"`
	Kind          string  `json:"kind,omitempty"`
}

// TrafficSegment is the fusion engine's output unit. Entries are replaced
// whole on every cycle; readers always see a complete segment.
type TrafficSegment struct {
	ID                  string            `json:"id"`
	Path                []LatLng          `json:"path"`
	Congestion          int               `json:"congestion"`
	PredictedCongestion int               `json:"predictedCongestion"`
	SpeedKmh            float64           `json:"speedKmh"`
	FreeFlowKmh         float64           `json:"freeFlowKmh"`
	Incidents           []TrafficIncident `json:"incidents,omitempty"`
	RiskTags            []string          `json:"riskTags,omitempty"`
	LastUpdated         time.Time         `json:"lastUpdated"`
}

// Clone returns a deep copy so callers never alias engine-owned slices.
func (s TrafficSegment) Clone() TrafficSegment {
	out := s
	if s.Path != nil {
		out.Path = append([]LatLng(nil), s.Path...)
	}
	if s.Incidents != nil {
		out.Incidents = append([]TrafficIncident(nil), s.Incidents...)
	}
	if s.RiskTags != nil {
		out.RiskTags = append([]string(nil), s.RiskTags...)
	}
	return out
}
