package registry

import (
	"context"
	"fmt"

	"github.com/roadpulse/roadpulse/internal/cache"
	"github.com/roadpulse/roadpulse/internal/cache/keys"
	"github.com/roadpulse/roadpulse/internal/geo"
	"github.com/roadpulse/roadpulse/internal/model"
	"github.com/roadpulse/roadpulse/internal/providers"
)

// Facade exposes the typed fetch operations the fusion engine and HTTP
// surface consume. Every call goes through the failover protocol with an
// H3-derived cache key, so two queries for the same area share cache slots.
type Facade struct {
	reg    *Registry
	region Region
}

func (r *Registry) Facade(region Region) *Facade {
	return &Facade{reg: r, region: region}
}

func (f *Facade) areaKey(prefix string, bbox model.BoundingBox) string {
	cells, err := geo.CellsForBBox(bbox, f.reg.h3Res)
	if err != nil {
		// Degenerate boxes still get a usable (if coarser) key.
		return prefix + ":" + bbox.String()
	}
	return prefix + ":" + keys.AreaKey(cells)
}

func (f *Facade) Flow(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficFlow, string, error) {
	set := f.reg.ProvidersFor(f.region)
	out, err := WithFailover(ctx, f.reg, set.Traffic, "traffic.flow",
		func(c context.Context, p providers.TrafficProvider) ([]model.TrafficFlow, error) {
			return p.Flow(c, bbox)
		},
		&Options{CacheKey: f.areaKey("flow", bbox), Category: cache.CategoryTraffic})
	if err != nil {
		return nil, "", err
	}
	return out.Data, out.Source, nil
}

func (f *Facade) Incidents(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficIncident, string, error) {
	set := f.reg.ProvidersFor(f.region)
	out, err := WithFailover(ctx, f.reg, set.Traffic, "traffic.incidents",
		func(c context.Context, p providers.TrafficProvider) ([]model.TrafficIncident, error) {
			return p.Incidents(c, bbox)
		},
		&Options{CacheKey: f.areaKey("incidents", bbox), Category: cache.CategoryTraffic})
	if err != nil {
		return nil, "", err
	}
	return out.Data, out.Source, nil
}

func (f *Facade) Weather(ctx context.Context, lat, lng float64) (model.WeatherNow, string, error) {
	set := f.reg.ProvidersFor(f.region)
	key := fmt.Sprintf("now:%.3f,%.3f", lat, lng)
	out, err := WithFailover(ctx, f.reg, set.Weather, "weather.now",
		func(c context.Context, p providers.WeatherProvider) (model.WeatherNow, error) {
			return p.Now(c, lat, lng)
		},
		&Options{CacheKey: key, Category: cache.CategoryWeather})
	if err != nil {
		return model.WeatherNow{}, "", err
	}
	return out.Data, out.Source, nil
}

func (f *Facade) Cameras(ctx context.Context, bbox model.BoundingBox) ([]model.SpeedCamera, string, error) {
	set := f.reg.ProvidersFor(f.region)
	out, err := WithFailover(ctx, f.reg, set.Radar, "radar.cameras",
		func(c context.Context, p providers.RadarProvider) ([]model.SpeedCamera, error) {
			return p.Cameras(c, bbox)
		},
		&Options{CacheKey: f.areaKey("cameras", bbox), Category: cache.CategoryRadar})
	if err != nil {
		return nil, "", err
	}
	return out.Data, out.Source, nil
}

func (f *Facade) Tile(ctx context.Context, z, x, y int) ([]byte, string, error) {
	set := f.reg.ProvidersFor(f.region)
	key := fmt.Sprintf("tile:%d/%d/%d", z, x, y)
	out, err := WithFailover(ctx, f.reg, set.Tiles, "tiles.fetch",
		func(c context.Context, p providers.TileProvider) ([]byte, error) {
			return p.Tile(c, z, x, y)
		},
		&Options{CacheKey: key, Category: cache.CategoryMapTiles})
	if err != nil {
		return nil, "", err
	}
	return out.Data, out.Source, nil
}
