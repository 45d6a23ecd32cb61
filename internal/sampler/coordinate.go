package sampler

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/CU-BIC/S3/internal/geo"
)

// Coordinate is a sampled grid point. Lat and Lng are its identity; the derived
// classification and enrichment fields are each written at most once.
type Coordinate struct {
	Lat float64
	Lng float64

	inPolygon *bool
	inWater   *bool
	snapped   *geo.LatLng
	panorama  *PanoramaRecord
}

// NewCoordinate returns a Coordinate with no derived fields set.
func NewCoordinate(lat, lng float64) Coordinate {
	return Coordinate{Lat: lat, Lng: lng}
}

// LatLng returns the identity position.
func (c Coordinate) LatLng() geo.LatLng {
	return geo.LatLng{Lat: c.Lat, Lng: c.Lng}
}

// InPolygon reports the region membership flag and whether it has been set.
func (c Coordinate) InPolygon() (value bool, ok bool) {
	if c.inPolygon == nil {
		return false, false
	}
	return *c.inPolygon, true
}

// SetInPolygon records region membership.
func (c *Coordinate) SetInPolygon(v bool) error {
	if c.inPolygon != nil {
		return fmt.Errorf("in_polygon: %w", ErrFieldAlreadySet)
	}
	c.inPolygon = &v
	return nil
}

// InWater reports the obstruction flag and whether it has been set.
func (c Coordinate) InWater() (value bool, ok bool) {
	if c.inWater == nil {
		return false, false
	}
	return *c.inWater, true
}

// SetInWater records the obstruction verdict.
func (c *Coordinate) SetInWater(v bool) error {
	if c.inWater != nil {
		return fmt.Errorf("in_water: %w", ErrFieldAlreadySet)
	}
	c.inWater = &v
	return nil
}

// Snapped returns the snapped position, if any.
func (c Coordinate) Snapped() (geo.LatLng, bool) {
	if c.snapped == nil {
		return geo.LatLng{}, false
	}
	return *c.snapped, true
}

// SetSnapped records the snapped position.
func (c *Coordinate) SetSnapped(p geo.LatLng) error {
	if c.snapped != nil {
		return fmt.Errorf("snapped: %w", ErrFieldAlreadySet)
	}
	c.snapped = &p
	return nil
}

// Panorama returns a copy of the panorama record, if any.
func (c Coordinate) Panorama() (PanoramaRecord, bool) {
	if c.panorama == nil {
		return PanoramaRecord{}, false
	}
	return c.panorama.Clone(), true
}

// SetPanorama records the panorama found near the snapped position.
func (c *Coordinate) SetPanorama(p PanoramaRecord) error {
	if c.panorama != nil {
		return fmt.Errorf("panorama: %w", ErrFieldAlreadySet)
	}
	rec := p.Clone()
	c.panorama = &rec
	return nil
}

// SetImages attaches stored image references to the panorama record.
func (c *Coordinate) SetImages(refs []ImageRef) error {
	if c.panorama == nil {
		return fmt.Errorf("images: panorama not set")
	}
	if c.panorama.Images != nil {
		return fmt.Errorf("images: %w", ErrFieldAlreadySet)
	}
	c.panorama.Images = append(make([]ImageRef, 0, len(refs)), refs...)
	return nil
}

// Clone returns a copy that shares no derived-field storage with c.
func (c Coordinate) Clone() Coordinate {
	out := Coordinate{Lat: c.Lat, Lng: c.Lng}
	if c.inPolygon != nil {
		v := *c.inPolygon
		out.inPolygon = &v
	}
	if c.inWater != nil {
		v := *c.inWater
		out.inWater = &v
	}
	if c.snapped != nil {
		v := *c.snapped
		out.snapped = &v
	}
	if c.panorama != nil {
		v := c.panorama.Clone()
		out.panorama = &v
	}
	return out
}

// String renders the position with six decimals.
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(c.Lng, 'f', 6, 64)
}

type coordinateJSON struct {
	Lat       float64         `json:"lat"`
	Lng       float64         `json:"lng"`
	InPolygon *bool           `json:"in_polygon,omitempty"`
	InWater   *bool           `json:"in_water,omitempty"`
	Snapped   *geo.LatLng     `json:"snapped,omitempty"`
	Panorama  *PanoramaRecord `json:"panorama,omitempty"`
}

// MarshalJSON renders identity and derived fields; unset fields are omitted.
func (c Coordinate) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(coordinateJSON{
		Lat:       c.Lat,
		Lng:       c.Lng,
		InPolygon: c.inPolygon,
		InWater:   c.inWater,
		Snapped:   c.snapped,
		Panorama:  c.panorama,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal coordinate: %w", err)
	}
	return data, nil
}

// UnmarshalJSON restores a coordinate previously written by MarshalJSON.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var raw coordinateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal coordinate: %w", err)
	}
	*c = Coordinate{
		Lat:       raw.Lat,
		Lng:       raw.Lng,
		inPolygon: raw.InPolygon,
		inWater:   raw.InWater,
		snapped:   raw.Snapped,
		panorama:  raw.Panorama,
	}
	return nil
}

// PanoramaLink is a neighbouring panorama reachable from a record.
type PanoramaLink struct {
	PanoID  string  `json:"pano_id"`
	Heading float64 `json:"heading"`
}

// ImageRef points at a stored image for one heading.
type ImageRef struct {
	Heading float64 `json:"heading"`
	URI     string  `json:"uri"`
}

// PanoramaRecord describes imagery available near a snapped point.
type PanoramaRecord struct {
	PanoID    string         `json:"pano_id"`
	Location  geo.LatLng     `json:"location"`
	Date      string         `json:"date,omitempty"`
	Copyright string         `json:"copyright,omitempty"`
	Links     []PanoramaLink `json:"links,omitempty"`
	Images    []ImageRef     `json:"images,omitempty"`
}

// Clone deep-copies the record.
func (p PanoramaRecord) Clone() PanoramaRecord {
	out := p
	if p.Links != nil {
		out.Links = append([]PanoramaLink(nil), p.Links...)
	}
	if p.Images != nil {
		out.Images = append(make([]ImageRef, 0, len(p.Images)), p.Images...)
	}
	return out
}

// ReferenceHeading is the heading of the first link, or 0 when the record has none.
func (p PanoramaRecord) ReferenceHeading() float64 {
	if len(p.Links) == 0 {
		return 0
	}
	return p.Links[0].Heading
}

// Headings returns count evenly spaced headings starting at reference, each in [0, 360).
func Headings(reference float64, count int) []float64 {
	if count <= 0 {
		return nil
	}
	out := make([]float64, count)
	step := 360 / float64(count)
	for i := range count {
		out[i] = geo.NormalizeBearing(reference + float64(i)*step)
	}
	return out
}

// ValidHeadingCount reports whether n is one of the supported fan-out sizes.
func ValidHeadingCount(n int) bool {
	return n == 1 || n == 2 || n == 4
}
