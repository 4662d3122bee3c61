package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roadpulse/roadpulse/internal/model"
)

// OpenWeather serves current conditions.
type OpenWeather struct {
	key     string
	baseURL string
	httpc   *http.Client
}

func NewOpenWeather(key string, httpc *http.Client) (*OpenWeather, error) {
	if err := requireKey("openweather", key); err != nil {
		return nil, err
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &OpenWeather{
		key:     key,
		baseURL: "https://api.openweathermap.org/data/2.5/weather",
		httpc:   httpc,
	}, nil
}

func (p *OpenWeather) Name() string { return "openweather" }

func (p *OpenWeather) Now(ctx context.Context, lat, lng float64) (model.WeatherNow, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lng))
	q.Set("units", "metric")
	q.Set("appid", p.key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return model.WeatherNow{}, fmt.Errorf("openweather request: %w", err)
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return model.WeatherNow{}, fmt.Errorf("openweather fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return model.WeatherNow{}, fmt.Errorf("openweather status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var payload struct {
		Weather []struct {
			Main string `json:"main"`
		} `json:"weather"`
		Wind struct {
			Speed float64 `json:"speed"` // m/s
		} `json:"wind"`
		Rain struct {
			OneHour float64 `json:"1h"`
		} `json:"rain"`
		Snow struct {
			OneHour float64 `json:"1h"`
		} `json:"snow"`
		Visibility float64 `json:"visibility"`
		Dt         int64   `json:"dt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return model.WeatherNow{}, fmt.Errorf("openweather decode: %w", err)
	}

	cond := model.WeatherClear
	if len(payload.Weather) > 0 {
		cond = openWeatherCondition(payload.Weather[0].Main)
	}
	precip := payload.Rain.OneHour
	if payload.Snow.OneHour > precip {
		precip = payload.Snow.OneHour
	}
	ts := time.Unix(payload.Dt, 0).UTC()
	if payload.Dt == 0 {
		ts = time.Now().UTC()
	}

	return model.WeatherNow{
		Condition:       cond,
		WindSpeedKmh:    payload.Wind.Speed * 3.6,
		PrecipitationMm: precip,
		VisibilityM:     payload.Visibility,
		Timestamp:       ts,
	}, nil
}

func openWeatherCondition(main string) model.WeatherCondition {
	switch strings.ToLower(main) {
	case "rain", "drizzle":
		return model.WeatherRain
	case "snow":
		return model.WeatherSnow
	case "fog", "mist", "haze":
		return model.WeatherFog
	case "thunderstorm":
		return model.WeatherStorm
	case "clouds":
		return model.WeatherClouds
	default:
		return model.WeatherClear
	}
}
