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

// HERE serves traffic flow and incidents.
type HERE struct {
	key     string
	baseURL string
	httpc   *http.Client
}

func NewHERE(key string, httpc *http.Client) (*HERE, error) {
	if err := requireKey("here", key); err != nil {
		return nil, err
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &HERE{
		key:     key,
		baseURL: "https://data.traffic.hereapi.com/v7",
		httpc:   httpc,
	}, nil
}

func (p *HERE) Name() string { return "here" }

func (p *HERE) Flow(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficFlow, error) {
	q := url.Values{}
	q.Set("in", fmt.Sprintf("bbox:%f,%f,%f,%f", bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat))
	q.Set("locationReferencing", "shape")
	q.Set("apiKey", p.key)

	var payload struct {
		Results []struct {
			Location struct {
				Shape struct {
					Links []struct {
						Points []struct {
							Lat float64 `json:"lat"`
							Lng float64 `json:"lng"`
						} `json:"points"`
					} `json:"links"`
				} `json:"shape"`
			} `json:"location"`
			CurrentFlow struct {
				Speed         float64 `json:"speed"`
				FreeFlow      float64 `json:"freeFlow"`
			} `json:"currentFlow"`
		} `json:"results"`
	}
	if err := p.getJSON(ctx, p.baseURL+"/flow?"+q.Encode(), &payload); err != nil {
		return nil, err
	}

	out := make([]model.TrafficFlow, 0, len(payload.Results))
	for i, r := range payload.Results {
		var path []model.LatLng
		for _, l := range r.Location.Shape.Links {
			for _, pt := range l.Points {
				path = append(path, model.LatLng{Lat: pt.Lat, Lng: pt.Lng})
			}
		}
		if len(path) == 0 {
			continue
		}
		out = append(out, model.TrafficFlow{
			ID:          fmt.Sprintf("here:%s:%d", bbox.String(), i),
			Path:        path,
			SpeedKmh:    r.CurrentFlow.Speed * 3.6,
			FreeFlowKmh: r.CurrentFlow.FreeFlow * 3.6,
		})
	}
	return out, nil
}

func (p *HERE) Incidents(ctx context.Context, bbox model.BoundingBox) ([]model.TrafficIncident, error) {
	q := url.Values{}
	q.Set("in", fmt.Sprintf("bbox:%f,%f,%f,%f", bbox.MinLng, bbox.MinLat, bbox.MaxLng, bbox.MaxLat))
	q.Set("locationReferencing", "shape")
	q.Set("apiKey", p.key)

	var payload struct {
		Results []struct {
			IncidentDetails struct {
				ID          string `json:"id"`
				Type        string `json:"type"`
				Criticality string `json:"criticality"`
				Description struct {
					Value string `json:"value"`
				} `json:"description"`
			} `json:"incidentDetails"`
			Location struct {
				Shape struct {
					Links []struct {
						Points []struct {
							Lat float64 `json:"lat"`
							Lng float64 `json:"lng"`
						} `json:"points"`
					} `json:"links"`
				} `json:"shape"`
			} `json:"location"`
		} `json:"results"`
	}
	if err := p.getJSON(ctx, p.baseURL+"/incidents?"+q.Encode(), &payload); err != nil {
		return nil, err
	}

	out := make([]model.TrafficIncident, 0, len(payload.Results))
	for _, r := range payload.Results {
		loc := model.LatLng{}
		for _, l := range r.Location.Shape.Links {
			if len(l.Points) > 0 {
				loc = model.LatLng{Lat: l.Points[0].Lat, Lng: l.Points[0].Lng}
				break
			}
		}
		out = append(out, model.TrafficIncident{
			ID:          r.IncidentDetails.ID,
			Type:        hereIncidentType(r.IncidentDetails.Type),
			Severity:    hereSeverity(r.IncidentDetails.Criticality),
			Location:    loc,
			Description: r.IncidentDetails.Description.Value,
		})
	}
	return out, nil
}

func (p *HERE) getJSON(ctx context.Context, u string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("here request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("here fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("here status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("here decode: %w", err)
	}
	return nil
}

func hereIncidentType(t string) model.IncidentType {
	switch strings.ToLower(t) {
	case "accident":
		return model.IncidentAccident
	case "construction", "roadworks":
		return model.IncidentConstruction
	case "roadclosure", "closure":
		return model.IncidentClosure
	case "congestion":
		return model.IncidentCongestion
	case "weather":
		return model.IncidentWeather
	default:
		return model.IncidentOther
	}
}

func hereSeverity(c string) model.Severity {
	switch strings.ToLower(c) {
	case "critical", "major":
		return model.SeveritySevere
	case "minor":
		return model.SeverityModerate
	default:
		return model.SeverityLow
	}
}
