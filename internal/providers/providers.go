// Package providers defines the capability contracts implemented by
// external data source adapters, plus the adapters themselves. Adapters
// stay thin: they fetch and return normalized records, nothing else.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/roadpulse/roadpulse/internal/model"
)

// ErrMissingCredential disables a provider at construction time; the
// registry simply omits it from the chain.
var ErrMissingCredential = errors.New("missing credential")

type Provider interface {
	Name() string
}

type TrafficProvider interface {
	Provider
	Flow(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficFlow, error)
	Incidents(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficIncident, error)
}

type WeatherProvider interface {
	Provider
	Now(ctx context.Context, lat, lng float64) (model.WeatherNow, error)
}

type RadarProvider interface {
	Provider
	Cameras(ctx context.Context, bbox model.BoundingBox) ([]model.SpeedCamera, error)
}

type TileProvider interface {
	Provider
	Tile(ctx context.Context, z, x, y int) ([]byte, error)
}

// Credentials holds the user-configured API keys. An empty key disables the
// corresponding provider.
type Credentials struct {
	TomTomKey      string
	HereKey        string
	OpenWeatherKey string
}

func requireKey(provider, key string) error {
	if key == "" {
		return fmt.Errorf("%s: %w", provider, ErrMissingCredential)
	}
	return nil
}
