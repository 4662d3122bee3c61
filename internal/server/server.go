// Package server exposes the fused segment state over a small read-only
// HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roadpulse/roadpulse/internal/model"
	"github.com/roadpulse/roadpulse/internal/observability"
)

// SegmentSource is the read side of the fusion engine.
type SegmentSource interface {
	Segments() []model.TrafficSegment
	Segment(id string) (model.TrafficSegment, bool)
	IncidentsNear(pt model.LatLng, radiusM float64) []model.TrafficIncident
	Quality() model.NetworkQuality
}

// ProviderSource serves reads that go through the failover registry rather
// than the engine's in-memory state.
type ProviderSource interface {
	Cameras(ctx context.Context, bbox model.BoundingBox) ([]model.SpeedCamera, string, error)
	Tile(ctx context.Context, z, x, y int) ([]byte, string, error)
}

func NewRouter(logger *slog.Logger, segs SegmentSource, provs ProviderSource, bbox model.BoundingBox) http.Handler {
	r := chi.NewRouter()
	r.Use(Recover())
	r.Use(Logging(logger))
	r.Use(CORS())

	r.Get("/healthz", handleHealth(segs))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/v1/segments", handleSegments(segs))
	r.Get("/v1/segments/{id}", handleSegment(segs))
	r.Get("/v1/incidents", handleIncidents(segs))
	r.Get("/v1/cameras", handleCameras(provs, bbox))
	r.Get("/v1/tiles/{z}/{x}/{y}", handleTile(provs))
	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func handleHealth(segs SegmentSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"network": segs.Quality().String(),
		})
	}
}

func handleSegments(segs SegmentSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		out := segs.Segments()
		writeJSON(w, http.StatusOK, out)
		observability.ObserveHTTP(r.Method, "/v1/segments", http.StatusOK, time.Since(start).Seconds())
	}
}

func handleSegment(segs SegmentSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := chi.URLParam(r, "id")
		seg, ok := segs.Segment(id)
		code := http.StatusOK
		if !ok {
			code = http.StatusNotFound
			http.Error(w, "unknown segment", code)
		} else {
			writeJSON(w, code, seg)
		}
		observability.ObserveHTTP(r.Method, "/v1/segments/{id}", code, time.Since(start).Seconds())
	}
}

func handleIncidents(segs SegmentSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lat, latErr := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
		lng, lngErr := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
		if latErr != nil || lngErr != nil {
			http.Error(w, "lat and lng are required", http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/v1/incidents", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}
		radius := 1000.0
		if raw := r.URL.Query().Get("radius"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil || v <= 0 {
				http.Error(w, "invalid radius", http.StatusBadRequest)
				observability.ObserveHTTP(r.Method, "/v1/incidents", http.StatusBadRequest, time.Since(start).Seconds())
				return
			}
			radius = v
		}

		out := segs.IncidentsNear(model.LatLng{Lat: lat, Lng: lng}, radius)
		if out == nil {
			out = []model.TrafficIncident{}
		}
		writeJSON(w, http.StatusOK, out)
		observability.ObserveHTTP(r.Method, "/v1/incidents", http.StatusOK, time.Since(start).Seconds())
	}
}

func handleCameras(cams ProviderSource, bbox model.BoundingBox) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		out, source, err := cams.Cameras(r.Context(), bbox)
		if err != nil {
			http.Error(w, "speed cameras unavailable", http.StatusServiceUnavailable)
			observability.ObserveHTTP(r.Method, "/v1/cameras", http.StatusServiceUnavailable, time.Since(start).Seconds())
			return
		}
		w.Header().Set("X-Data-Source", source)
		if out == nil {
			out = []model.SpeedCamera{}
		}
		writeJSON(w, http.StatusOK, out)
		observability.ObserveHTTP(r.Method, "/v1/cameras", http.StatusOK, time.Since(start).Seconds())
	}
}

func handleTile(tiles ProviderSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		z, zErr := strconv.Atoi(chi.URLParam(r, "z"))
		x, xErr := strconv.Atoi(chi.URLParam(r, "x"))
		y, yErr := strconv.Atoi(chi.URLParam(r, "y"))
		if zErr != nil || xErr != nil || yErr != nil || z < 0 || z > 22 {
			http.Error(w, "invalid tile coordinates", http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/v1/tiles", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		data, source, err := tiles.Tile(r.Context(), z, x, y)
		if err != nil {
			http.Error(w, "tile unavailable", http.StatusServiceUnavailable)
			observability.ObserveHTTP(r.Method, "/v1/tiles", http.StatusServiceUnavailable, time.Since(start).Seconds())
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-Data-Source", source)
		_, _ = w.Write(data)
		observability.ObserveHTTP(r.Method, "/v1/tiles", http.StatusOK, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
