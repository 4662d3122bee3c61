package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/roadpulse/roadpulse/internal/model"
)

// TomTom serves traffic flow, incidents and raster map tiles.
type TomTom struct {
	key     string
	baseURL string
	httpc   *http.Client
}

func NewTomTom(key string, httpc *http.Client) (*TomTom, error) {
	if err := requireKey("tomtom", key); err != nil {
		return nil, err
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &TomTom{
		key:     key,
		baseURL: "https://api.tomtom.com",
		httpc:   httpc,
	}, nil
}

func (p *TomTom) Name() string { return "tomtom" }

func (p *TomTom) Flow(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficFlow, error) {
	c := bbox.Center()
	q := url.Values{}
	q.Set("point", fmt.Sprintf("%f,%f", c.Lat, c.Lng))
	q.Set("key", p.key)
	u := p.baseURL + "/traffic/services/4/flowSegmentData/absolute/10/json?" + q.Encode()

	var payload struct {
		FlowSegmentData struct {
			CurrentSpeed  float64 `json:"currentSpeed"`
			FreeFlowSpeed float64 `json:"freeFlowSpeed"`
			Coordinates   struct {
				Coordinate []struct {
					Latitude  float64 `json:"latitude"`
					Longitude float64 `json:"longitude"`
				} `json:"coordinate"`
			} `json:"coordinates"`
		} `json:"flowSegmentData"`
	}
	if err := p.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}

	seg := payload.FlowSegmentData
	path := make([]model.LatLng, 0, len(seg.Coordinates.Coordinate))
	for _, c := range seg.Coordinates.Coordinate {
		path = append(path, model.LatLng{Lat: c.Latitude, Lng: c.Longitude})
	}
	if len(path) == 0 {
		return nil, nil
	}
	return []model.TrafficFlow{{
		ID:          fmt.Sprintf("tomtom:%s", bbox.String()),
		Path:        path,
		SpeedKmh:    seg.CurrentSpeed,
		FreeFlowKmh: seg.FreeFlowSpeed,
	}}, nil
}

func (p *TomTom) Incidents(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficIncident, error) {
	q := url.Values{}
	q.Set("bbox", fmt.Sprintf("%f,%f,%f,%f", bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat))
	q.Set("key", p.key)
	u := p.baseURL + "/traffic/services/5/incidentDetails?" + q.Encode()

	var payload struct {
		Incidents []struct {
			Properties struct {
				ID            string  `json:"id"`
				IconCategory  int     `json:"iconCategory"`
				MagnitudeOfDelay int  `json:"magnitudeOfDelay"`
				DelaySeconds  float64 `json:"delay"`
				Description   string  `json:"description"`
			} `json:"properties"`
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"incidents"`
	}
	if err := p.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}

	out := make([]model.TrafficIncident, 0, len(payload.Incidents))
	for _, in := range payload.Incidents {
		loc := model.LatLng{}
		if len(in.Geometry.Coordinates) >= 2 {
			loc = model.LatLng{Lat: in.Geometry.Coordinates[1], Lng: in.Geometry.Coordinates[0]}
		}
		out = append(out, model.TrafficIncident{
			ID:           in.Properties.ID,
			Type:         tomtomIncidentType(in.Properties.IconCategory),
			Severity:     tomtomSeverity(in.Properties.MagnitudeOfDelay),
			Location:     loc,
			DelayMinutes: int(in.Properties.DelaySeconds / 60),
			Description:  in.Properties.Description,
		})
	}
	return out, nil
}

func (p *TomTom) Tile(ctx context.Context, z, x, y int) ([]byte, error) {
	u := fmt.Sprintf("%s/map/1/tile/basic/main/%d/%d/%d.png?key=%s", p.baseURL, z, x, y, p.key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("tomtom tile request: %w", err)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tomtom tile fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("tomtom tile status=%d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (p *TomTom) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("tomtom request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("tomtom fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("tomtom status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("tomtom decode: %w", err)
	}
	return nil
}

func tomtomIncidentType(iconCategory int) model.IncidentType {
	switch iconCategory {
	case 1:
		return model.IncidentAccident
	case 7, 9:
		return model.IncidentConstruction
	case 8:
		return model.IncidentClosure
	case 6:
		return model.IncidentCongestion
	case 2, 3, 4, 5, 10, 11:
		return model.IncidentWeather
	default:
		return model.IncidentOther
	}
}

func tomtomSeverity(magnitude int) model.Severity {
	switch {
	case magnitude >= 3:
		return model.SeveritySevere
	case magnitude == 2:
		return model.SeverityModerate
	default:
		return model.SeverityLow
	}
}
