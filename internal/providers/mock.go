package providers

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/roadpulse/roadpulse/internal/model"
)

// Mock is the no-credential offline provider appended to the end of every
// failover chain so a chain never empties. It synthesizes deterministic
// records from the requested geography alone.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (*Mock) Name() string { return "mock" }

func (*Mock) Flow(_ context.Context, bbox model.BoundingBox) ([]model.TrafficFlow, error) {
	c := bbox.Center()
	// Two synthetic corridors across the box, speeds keyed to coordinates so
	// repeated calls for the same box agree.
	seed := math.Abs(math.Sin(c.Lat*13.7 + c.Lng*7.3))
	flows := []model.TrafficFlow{
		{
			ID: fmt.Sprintf("mock:diag:%s", bbox.String()),
			Path: []model.LatLng{
				{Lat: bbox.MinLat, Lng: bbox.MinLng},
				{Lat: c.Lat, Lng: c.Lng},
				{Lat: bbox.MaxLat, Lng: bbox.MaxLng},
			},
			SpeedKmh:    30 + 40*seed,
			FreeFlowKmh: 80,
		},
		{
			ID: fmt.Sprintf("mock:cross:%s", bbox.String()),
			Path: []model.LatLng{
				{Lat: bbox.MaxLat, Lng: bbox.MinLng},
				{Lat: c.Lat, Lng: c.Lng},
				{Lat: bbox.MinLat, Lng: bbox.MaxLng},
			},
			SpeedKmh:    20 + 30*seed,
			FreeFlowKmh: 60,
		},
	}
	return flows, nil
}

func (*Mock) Incidents(_ context.Context, _ model.BoundingBox) ([]model.TrafficIncident, error) {
	return nil, nil
}

func (*Mock) Now(_ context.Context, _, _ float64) (model.WeatherNow, error) {
	return model.WeatherNow{
		Condition:   model.WeatherClear,
		VisibilityM: 10000,
		Timestamp:   time.Now().UTC(),
	}, nil
}

func (*Mock) Cameras(_ context.Context, _ model.BoundingBox) ([]model.SpeedCamera, error) {
	return nil, nil
}

func (*Mock) Tile(_ context.Context, z, x, y int) ([]byte, error) {
	// A 1x1 transparent PNG placeholder tile.
	return []byte(fmt.Sprintf("mock-tile-%d-%d-%d", z, x, y)), nil
}
