package geo

import (
	"math"
	"testing"

	"github.com/roadpulse/roadpulse/internal/model"
)

func TestDistance_KnownPair(t *testing.T) {
	// Times Square to Grand Central, roughly 1.1 km
	a := model.LatLng{Lat: 40.7580, Lng: -73.9855}
	b := model.LatLng{Lat: 40.7527, Lng: -73.9772}
	d := Distance(a, b)
	if d < 850 || d > 1000 {
		t.Fatalf("distance=%v m", d)
	}
}

func TestDistance_ZeroForSamePoint(t *testing.T) {
	p := model.LatLng{Lat: 59.3293, Lng: 18.0686}
	if d := Distance(p, p); math.Abs(d) > 0.01 {
		t.Fatalf("distance=%v", d)
	}
}

func TestDistance_Symmetric(t *testing.T) {
	a := model.LatLng{Lat: 40.0, Lng: -74.0}
	b := model.LatLng{Lat: 41.0, Lng: -73.0}
	if math.Abs(Distance(a, b)-Distance(b, a)) > 1e-6 {
		t.Fatalf("distance not symmetric")
	}
}

func TestDistanceToPath(t *testing.T) {
	path := []model.LatLng{
		{Lat: 40.7000, Lng: -74.0000},
		{Lat: 40.7100, Lng: -74.0000},
		{Lat: 40.7200, Lng: -74.0000},
	}
	pt := model.LatLng{Lat: 40.7105, Lng: -74.0000}

	d := DistanceToPath(pt, path)
	want := Distance(pt, path[1])
	if math.Abs(d-want) > 1e-6 {
		t.Fatalf("d=%v want nearest vertex %v", d, want)
	}

	if d := DistanceToPath(pt, nil); d >= 0 {
		t.Fatalf("empty path should report no distance, got %v", d)
	}
}

func TestCellsForBBox_StableOrder(t *testing.T) {
	bb := model.BoundingBox{MinLat: 40.70, MinLng: -74.02, MaxLat: 40.78, MaxLng: -73.94}

	a, err := CellsForBBox(bb, 7)
	if err != nil {
		t.Fatalf("cells: %v", err)
	}
	if len(a) == 0 {
		t.Fatalf("no cells for a city-sized box")
	}
	b, err := CellsForBBox(bb, 7)
	if err != nil {
		t.Fatalf("cells again: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("cover size changed: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("cell order unstable at %d", i)
		}
	}
}

func TestCellsForBBox_TinyBoxFallsBackToCenterCell(t *testing.T) {
	bb := model.BoundingBox{
		MinLat: 40.71280, MinLng: -74.00600,
		MaxLat: 40.71281, MaxLng: -74.00599,
	}
	cells, err := CellsForBBox(bb, 7)
	if err != nil {
		t.Fatalf("cells: %v", err)
	}
	if len(cells) != 1 {
		t.Fatalf("tiny box cover=%d cells", len(cells))
	}

	anchor, err := AnchorCell(bb, 7)
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if cells[0] != anchor {
		t.Fatalf("fallback cell %s != anchor %s", cells[0], anchor)
	}
}

func TestCellsForBBox_ResolutionBounds(t *testing.T) {
	bb := model.BoundingBox{MinLat: 40.70, MinLng: -74.02, MaxLat: 40.78, MaxLng: -73.94}
	if _, err := CellsForBBox(bb, 16); err == nil {
		t.Fatalf("resolution 16 accepted")
	}
	if _, err := AnchorCell(bb, -1); err == nil {
		t.Fatalf("resolution -1 accepted")
	}
}
