// Package boundary loads sampling regions from Nominatim search results or
// GeoJSON files.
package boundary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/CU-BIC/S3/internal/sampler"
)

// place is one Nominatim search result requested with polygon_geojson=1.
type place struct {
	DisplayName string          `json:"display_name"`
	BoundingBox []string        `json:"boundingbox"`
	GeoJSON     json.RawMessage `json:"geojson"`
}

// Load reads path and builds a Region. A JSON array is treated as Nominatim
// results and index selects the entry; anything else is parsed as GeoJSON.
func Load(path string, index int) (*sampler.Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read boundary %s: %w", path, err)
	}
	region, err := Parse(data, index)
	if err != nil {
		return nil, fmt.Errorf("boundary %s: %w", path, err)
	}
	return region, nil
}

// Parse dispatches on the document shape.
func Parse(data []byte, index int) (*sampler.Region, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return ParseNominatim(trimmed, index)
	}
	return ParseGeoJSON(trimmed)
}

// ParseNominatim builds a Region from the index-th search result. The box is
// the result's boundingbox widened to cover the polygon, since Nominatim
// rounds it to seven decimals.
func ParseNominatim(data []byte, index int) (*sampler.Region, error) {
	var places []place
	if err := json.Unmarshal(data, &places); err != nil {
		return nil, fmt.Errorf("decode nominatim results: %w", err)
	}
	if index < 0 || index >= len(places) {
		return nil, fmt.Errorf("result index %d out of range for %d results", index, len(places))
	}
	p := places[index]
	if len(p.BoundingBox) != 4 {
		return nil, fmt.Errorf("result %q has %d boundingbox values, want 4", p.DisplayName, len(p.BoundingBox))
	}
	var v [4]float64
	for i, s := range p.BoundingBox {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parse boundingbox[%d] %q: %w", i, s, err)
		}
		v[i] = f
	}
	if len(p.GeoJSON) == 0 {
		return nil, fmt.Errorf("result %q has no geojson; search with polygon_geojson=1", p.DisplayName)
	}
	geom, err := geojson.UnmarshalGeometry(p.GeoJSON)
	if err != nil {
		return nil, fmt.Errorf("decode geojson of %q: %w", p.DisplayName, err)
	}
	poly, err := largestPolygon(polygonsOf(geom.Coordinates))
	if err != nil {
		return nil, err
	}

	bound := poly.Bound()
	bbox := sampler.BoundingBox{
		MinLat: math.Min(v[0], bound.Min.Lat()),
		MaxLat: math.Max(v[1], bound.Max.Lat()),
		MinLng: math.Min(v[2], bound.Min.Lon()),
		MaxLng: math.Max(v[3], bound.Max.Lon()),
	}
	return sampler.NewRegion(bbox, closed(poly[0]), holes(poly)...)
}

// ParseGeoJSON accepts a FeatureCollection, a Feature, or a bare geometry and
// uses the largest polygon found. Its holes become exclusions.
func ParseGeoJSON(data []byte) (*sampler.Region, error) {
	polys, err := decodePolygons(data)
	if err != nil {
		return nil, err
	}
	poly, err := largestPolygon(polys)
	if err != nil {
		return nil, err
	}
	return sampler.NewRegionFromRing(closed(poly[0]), holes(poly)...)
}

// LoadExclusions reads GeoJSON files and returns the outer ring of every
// polygon in them.
func LoadExclusions(paths ...string) ([]orb.Ring, error) {
	var rings []orb.Ring
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read exclusion %s: %w", path, err)
		}
		polys, err := decodePolygons(data)
		if err != nil {
			return nil, fmt.Errorf("exclusion %s: %w", path, err)
		}
		for _, p := range polys {
			if len(p) > 0 {
				rings = append(rings, closed(p[0]))
			}
		}
	}
	return rings, nil
}

func decodePolygons(data []byte) ([]orb.Polygon, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("decode feature collection: %w", err)
		}
		var polys []orb.Polygon
		for _, f := range fc.Features {
			polys = append(polys, polygonsOf(f.Geometry)...)
		}
		return polys, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("decode feature: %w", err)
		}
		return polygonsOf(f.Geometry), nil
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		return polygonsOf(g.Coordinates), nil
	}
}

func polygonsOf(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return append([]orb.Polygon(nil), v...)
	case orb.Ring:
		return []orb.Polygon{{v}}
	case orb.Collection:
		var out []orb.Polygon
		for _, inner := range v {
			out = append(out, polygonsOf(inner)...)
		}
		return out
	default:
		return nil
	}
}

func largestPolygon(polys []orb.Polygon) (orb.Polygon, error) {
	var best orb.Polygon
	bestArea := -1.0
	for _, p := range polys {
		if len(p) == 0 {
			continue
		}
		if a := math.Abs(planar.Area(p[0])); a > bestArea {
			best, bestArea = p, a
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no polygon found")
	}
	return best, nil
}

func holes(p orb.Polygon) []orb.Ring {
	out := make([]orb.Ring, 0, len(p)-1)
	for _, h := range p[1:] {
		out = append(out, closed(h))
	}
	return out
}

func closed(r orb.Ring) orb.Ring {
	if len(r) > 0 && !r.Closed() {
		r = append(r.Clone(), r[0])
	}
	return r
}
