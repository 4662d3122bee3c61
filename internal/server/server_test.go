package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/roadpulse/roadpulse/internal/model"
)

type fakeSegments struct {
	segs map[string]model.TrafficSegment
	incs []model.TrafficIncident
}

func (f *fakeSegments) Segments() []model.TrafficSegment {
	out := make([]model.TrafficSegment, 0, len(f.segs))
	for _, s := range f.segs {
		out = append(out, s)
	}
	return out
}

func (f *fakeSegments) Segment(id string) (model.TrafficSegment, bool) {
	s, ok := f.segs[id]
	return s, ok
}

func (f *fakeSegments) IncidentsNear(model.LatLng, float64) []model.TrafficIncident {
	return f.incs
}

func (f *fakeSegments) Quality() model.NetworkQuality { return model.NetworkGood }

type fakeProviders struct {
	cams []model.SpeedCamera
	tile []byte
	err  error
}

func (f *fakeProviders) Cameras(context.Context, model.BoundingBox) ([]model.SpeedCamera, string, error) {
	return f.cams, "mock", f.err
}

func (f *fakeProviders) Tile(context.Context, int, int, int) ([]byte, string, error) {
	return f.tile, "mock", f.err
}

func testRouter(segs SegmentSource, provs ProviderSource) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(log, segs, provs, model.BoundingBox{})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSegmentsEndpoint(t *testing.T) {
	h := testRouter(&fakeSegments{segs: map[string]model.TrafficSegment{
		"s1": {ID: "s1", Congestion: 42},
	}}, &fakeProviders{})

	rr := get(t, h, "/v1/segments")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var out []model.TrafficSegment
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != "s1" || out[0].Congestion != 42 {
		t.Fatalf("body=%+v", out)
	}
}

func TestSegmentByID(t *testing.T) {
	h := testRouter(&fakeSegments{segs: map[string]model.TrafficSegment{
		"s1": {ID: "s1"},
	}}, &fakeProviders{})

	if rr := get(t, h, "/v1/segments/s1"); rr.Code != http.StatusOK {
		t.Fatalf("known id status=%d", rr.Code)
	}
	if rr := get(t, h, "/v1/segments/nope"); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown id status=%d", rr.Code)
	}
}

func TestIncidentsEndpoint_Validation(t *testing.T) {
	h := testRouter(&fakeSegments{}, &fakeProviders{})

	if rr := get(t, h, "/v1/incidents"); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing coords status=%d", rr.Code)
	}
	if rr := get(t, h, "/v1/incidents?lat=40.7&lng=-74.0&radius=-5"); rr.Code != http.StatusBadRequest {
		t.Fatalf("negative radius status=%d", rr.Code)
	}
	rr := get(t, h, "/v1/incidents?lat=40.7&lng=-74.0")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if rr.Body.String() != "[]\n" {
		t.Fatalf("empty result should encode as [], got %q", rr.Body.String())
	}
}

func TestCamerasEndpoint(t *testing.T) {
	h := testRouter(&fakeSegments{}, &fakeProviders{
		cams: []model.SpeedCamera{{ID: "c1"}},
	})

	rr := get(t, h, "/v1/cameras")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("X-Data-Source"); got != "mock" {
		t.Fatalf("source header=%q", got)
	}

	broken := testRouter(&fakeSegments{}, &fakeProviders{err: errors.New("down")})
	if rr := get(t, broken, "/v1/cameras"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("failure status=%d", rr.Code)
	}
}

func TestTilesEndpoint(t *testing.T) {
	h := testRouter(&fakeSegments{}, &fakeProviders{tile: []byte("png-bytes")})

	rr := get(t, h, "/v1/tiles/12/1204/1539")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); got != "image/png" {
		t.Fatalf("content type=%q", got)
	}
	if rr.Body.String() != "png-bytes" {
		t.Fatalf("body=%q", rr.Body.String())
	}

	if rr := get(t, h, "/v1/tiles/zz/1/2"); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad coords status=%d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := testRouter(&fakeSegments{}, &fakeProviders{})

	rr := get(t, h, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["network"] != "good" {
		t.Fatalf("body=%v", body)
	}
}
