package geo

import (
	"fmt"
	"sort"

	h3 "github.com/uber/h3-go/v4"

	"github.com/roadpulse/roadpulse/internal/model"
)

// CellsForBBox maps a bounding box to the H3 cells covering it at the given
// resolution. The result is sorted so the same box always yields the same
// cell sequence, which keeps derived cache keys stable.
func CellsForBBox(bb model.BoundingBox, res int) ([]string, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("h3 resolution out of range: %d", res)
	}
	outer := h3.GeoLoop{
		{Lat: bb.MinLat, Lng: bb.MinLng},
		{Lat: bb.MinLat, Lng: bb.MaxLng},
		{Lat: bb.MaxLat, Lng: bb.MaxLng},
		{Lat: bb.MaxLat, Lng: bb.MinLng},
	}
	poly := h3.GeoPolygon{GeoLoop: outer}
	cells, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polygon to cells: %w", err)
	}
	if len(cells) == 0 {
		// Box smaller than one cell; fall back to the cell under its center.
		c, err := h3.LatLngToCell(h3.LatLng{Lat: bb.Center().Lat, Lng: bb.Center().Lng}, res)
		if err != nil {
			return nil, fmt.Errorf("h3 center cell: %w", err)
		}
		cells = []h3.Cell{c}
	}
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	sort.Strings(out)
	return out, nil
}

// AnchorCell returns the single H3 cell containing the center of the box,
// used as a human-readable prefix in area cache keys.
func AnchorCell(bb model.BoundingBox, res int) (string, error) {
	if res < 0 || res > 15 {
		return "", fmt.Errorf("h3 resolution out of range: %d", res)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: bb.Center().Lat, Lng: bb.Center().Lng}, res)
	if err != nil {
		return "", fmt.Errorf("h3 center cell: %w", err)
	}
	return c.String(), nil
}
