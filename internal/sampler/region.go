package sampler

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/CU-BIC/S3/internal/geo"
)

// Direction names a bounding-box corner.
type Direction string

// Supported corners.
const (
	NW Direction = "NW"
	NE Direction = "NE"
	SW Direction = "SW"
	SE Direction = "SE"
)

// containment slack for vertices that sit exactly on a box edge after float parsing.
const bboxEpsilon = 1e-9

// BoundingBox is an inclusive latitude/longitude range.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Contains is an inclusive range check on both axes.
func (b BoundingBox) Contains(p geo.LatLng) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

func (b BoundingBox) validate() error {
	for _, v := range []float64{b.MinLat, b.MaxLat, b.MinLng, b.MaxLng} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &RegionValidationError{Reason: "bounding box has non-finite bounds"}
		}
	}
	if b.MinLat > b.MaxLat {
		return &RegionValidationError{Reason: fmt.Sprintf("min_lat %v > max_lat %v", b.MinLat, b.MaxLat)}
	}
	if b.MinLng > b.MaxLng {
		return &RegionValidationError{Reason: fmt.Sprintf("min_lng %v > max_lng %v", b.MinLng, b.MaxLng)}
	}
	if b.MinLat < -90 || b.MaxLat > 90 {
		return &RegionValidationError{Reason: "latitude outside [-90, 90]"}
	}
	if b.MinLng < -180 || b.MaxLng > 180 {
		return &RegionValidationError{Reason: "longitude outside [-180, 180]"}
	}
	return nil
}

// Region is an immutable sampling area: a bounding box, a closed outer ring of
// (lng, lat) vertices, and optional exclusion rings cut out of it.
type Region struct {
	bbox       BoundingBox
	outer      orb.Ring
	exclusions []orb.Ring
}

// NewRegion validates and builds a Region. The ring must be closed, have at
// least three distinct vertices, and lie inside bbox.
func NewRegion(bbox BoundingBox, ring orb.Ring, exclusions ...orb.Ring) (*Region, error) {
	if err := bbox.validate(); err != nil {
		return nil, err
	}
	if err := validateRing("polygon", ring); err != nil {
		return nil, err
	}
	for _, p := range ring {
		if !bbox.containsWithSlack(p) {
			return nil, &RegionValidationError{
				Reason: fmt.Sprintf("vertex (%v, %v) lies outside the bounding box", p.Lat(), p.Lon()),
			}
		}
	}
	excl := make([]orb.Ring, 0, len(exclusions))
	for i, r := range exclusions {
		if err := validateRing(fmt.Sprintf("exclusion %d", i), r); err != nil {
			return nil, err
		}
		excl = append(excl, r.Clone())
	}
	return &Region{bbox: bbox, outer: ring.Clone(), exclusions: excl}, nil
}

// NewRegionFromRing derives the bounding box from the ring's extent.
func NewRegionFromRing(ring orb.Ring, exclusions ...orb.Ring) (*Region, error) {
	if len(ring) == 0 {
		return nil, &RegionValidationError{Reason: "polygon is empty"}
	}
	bound := ring.Bound()
	bbox := BoundingBox{
		MinLat: bound.Min.Lat(),
		MaxLat: bound.Max.Lat(),
		MinLng: bound.Min.Lon(),
		MaxLng: bound.Max.Lon(),
	}
	return NewRegion(bbox, ring, exclusions...)
}

// WithExclusions returns a copy of r with additional exclusion rings.
func (r *Region) WithExclusions(exclusions ...orb.Ring) (*Region, error) {
	all := append(append([]orb.Ring(nil), r.exclusions...), exclusions...)
	return NewRegion(r.bbox, r.outer, all...)
}

// BoundingBox returns the region's box.
func (r *Region) BoundingBox() BoundingBox { return r.bbox }

// Ring returns a copy of the outer ring.
func (r *Region) Ring() orb.Ring { return r.outer.Clone() }

// Exclusions returns copies of the exclusion rings.
func (r *Region) Exclusions() []orb.Ring {
	out := make([]orb.Ring, len(r.exclusions))
	for i, e := range r.exclusions {
		out[i] = e.Clone()
	}
	return out
}

// ContainsBoundingBox is the O(1) inclusive box test.
func (r *Region) ContainsBoundingBox(p geo.LatLng) bool {
	return r.bbox.Contains(p)
}

// ContainsPolygon tests the outer ring (boundary counts as inside) and then
// rejects points that fall in any exclusion ring.
func (r *Region) ContainsPolygon(p geo.LatLng) bool {
	pt := orb.Point{p.Lng, p.Lat}
	if !planar.RingContains(r.outer, pt) {
		return false
	}
	for _, e := range r.exclusions {
		if planar.RingContains(e, pt) {
			return false
		}
	}
	return true
}

// Contains applies the box test before the polygon test.
func (r *Region) Contains(p geo.LatLng) bool {
	return r.ContainsBoundingBox(p) && r.ContainsPolygon(p)
}

// Corner returns one of the four bounding-box extremes.
func (r *Region) Corner(d Direction) (geo.LatLng, error) {
	switch d {
	case NW:
		return geo.LatLng{Lat: r.bbox.MaxLat, Lng: r.bbox.MinLng}, nil
	case NE:
		return geo.LatLng{Lat: r.bbox.MaxLat, Lng: r.bbox.MaxLng}, nil
	case SW:
		return geo.LatLng{Lat: r.bbox.MinLat, Lng: r.bbox.MinLng}, nil
	case SE:
		return geo.LatLng{Lat: r.bbox.MinLat, Lng: r.bbox.MaxLng}, nil
	default:
		return geo.LatLng{}, &InvalidDirectionError{Direction: d}
	}
}

func (b BoundingBox) containsWithSlack(p orb.Point) bool {
	return p.Lat() >= b.MinLat-bboxEpsilon && p.Lat() <= b.MaxLat+bboxEpsilon &&
		p.Lon() >= b.MinLng-bboxEpsilon && p.Lon() <= b.MaxLng+bboxEpsilon
}

func validateRing(name string, ring orb.Ring) error {
	if len(ring) == 0 {
		return &RegionValidationError{Reason: name + " is empty"}
	}
	if !ring.Closed() {
		return &RegionValidationError{Reason: name + " ring is not closed"}
	}
	distinct := make(map[orb.Point]struct{}, len(ring))
	for _, p := range ring {
		if math.IsNaN(p[0]) || math.IsNaN(p[1]) {
			return &RegionValidationError{Reason: name + " has a NaN vertex"}
		}
		distinct[p] = struct{}{}
	}
	if len(distinct) < 3 {
		return &RegionValidationError{
			Reason: fmt.Sprintf("%s has %d distinct vertices, need at least 3", name, len(distinct)),
		}
	}
	return nil
}
