package sampler

import (
	"fmt"
	"math"

	"github.com/CU-BIC/S3/internal/geo"
)

// lngTolerance absorbs rounding in a due-south step; a pole crossing shifts
// longitude by 180 degrees.
const lngTolerance = 1e-9

// Cursor walks the region's bounding box in a west-to-east, north-to-south
// raster at a fixed step distance. While not done its position is always
// inside the box; once done it stays done.
type Cursor struct {
	region   *Region
	step     float64
	position geo.LatLng
	done     bool
}

// NewCursor starts a walk at the region's NW corner.
func NewCursor(region *Region, stepDistance float64) (*Cursor, error) {
	if region == nil {
		return nil, fmt.Errorf("region is required")
	}
	start, err := region.Corner(NW)
	if err != nil {
		return nil, err
	}
	return NewCursorAt(region, stepDistance, start)
}

// NewCursorAt starts a walk at an arbitrary point inside the bounding box,
// used to resume an interrupted run.
func NewCursorAt(region *Region, stepDistance float64, start geo.LatLng) (*Cursor, error) {
	if region == nil {
		return nil, fmt.Errorf("region is required")
	}
	if !(stepDistance > 0) || math.IsInf(stepDistance, 0) {
		return nil, fmt.Errorf("step distance must be > 0, got %v", stepDistance)
	}
	if !region.ContainsBoundingBox(start) {
		return nil, fmt.Errorf("start point (%v, %v) is outside the bounding box", start.Lat, start.Lng)
	}
	return &Cursor{region: region, step: stepDistance, position: start}, nil
}

// Position returns a fresh Coordinate for the current grid point.
func (c *Cursor) Position() Coordinate {
	return NewCoordinate(c.position.Lat, c.position.Lng)
}

// Done reports whether the walk has finished.
func (c *Cursor) Done() bool { return c.done }

// StepDistance returns the grid spacing in metres.
func (c *Cursor) StepDistance() float64 { return c.step }

// Step advances one grid point: east within the row, otherwise a carriage
// return to the start of the next row south, otherwise done.
//
// Longitude strictly increases within a row and latitude strictly decreases
// between rows. A step that crosses a pole or the antimeridian breaks that
// and ends the row or the walk.
func (c *Cursor) Step() {
	if c.done {
		return
	}
	east := geo.Destination(c.position, geo.East, c.step)
	if east.Lng > c.position.Lng && c.region.ContainsBoundingBox(east) {
		c.position = east
		return
	}
	west := geo.LatLng{Lat: c.position.Lat, Lng: c.region.bbox.MinLng}
	southwest := geo.Destination(west, geo.South, c.step)
	if southwest.Lat < c.position.Lat && math.Abs(southwest.Lng-west.Lng) < lngTolerance && c.region.ContainsBoundingBox(southwest) {
		c.position = southwest
		return
	}
	c.done = true
}

// Clone returns an independent cursor in the same state, used for checkpoints.
func (c *Cursor) Clone() *Cursor {
	cp := *c
	return &cp
}

// CountGridPoints walks a throwaway cursor to count how many grid points a run
// over region at stepDistance visits.
func CountGridPoints(region *Region, stepDistance float64) (int, error) {
	cur, err := NewCursor(region, stepDistance)
	if err != nil {
		return 0, err
	}
	n := 0
	for !cur.Done() {
		n++
		cur.Step()
	}
	return n, nil
}
