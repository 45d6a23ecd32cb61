package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CU-BIC/S3/internal/geo"
)

func walk(t *testing.T, c *Cursor) []geo.LatLng {
	t.Helper()
	var out []geo.LatLng
	for i := 0; !c.Done(); i++ {
		require.Less(t, i, 1_000_000, "cursor did not terminate")
		out = append(out, c.Position().LatLng())
		c.Step()
	}
	return out
}

func TestCursorRasterOrder(t *testing.T) {
	t.Parallel()

	r := testRegion(t, 45.0, 45.006, -75.01, -75.0)
	c, err := NewCursor(r, 500)
	require.NoError(t, err)

	pts := walk(t, c)
	require.Len(t, pts, 4)

	nw, _ := r.Corner(NW)
	assert.Equal(t, nw, pts[0])

	// East step along the first row.
	assert.InDelta(t, 500, geo.Distance(pts[0], pts[1]), 1e-6)
	assert.Greater(t, pts[1].Lng, pts[0].Lng)
	assert.InDelta(t, pts[0].Lat, pts[1].Lat, 1e-6)

	// Carriage return: western edge, one step south of the previous row.
	assert.Equal(t, -75.01, pts[2].Lng)
	assert.Equal(t, geo.Destination(geo.LatLng{Lat: pts[1].Lat, Lng: -75.01}, geo.South, 500), pts[2])

	assert.InDelta(t, 500, geo.Distance(pts[2], pts[3]), 1e-6)
	for _, p := range pts {
		assert.True(t, r.ContainsBoundingBox(p))
	}
	assert.True(t, c.Done())
}

func TestCursorTallerBoxHasThreeRows(t *testing.T) {
	t.Parallel()

	// 0.01 degrees of latitude fits two 500 m steps, so three rows of two points.
	r := testRegion(t, 45.0, 45.01, -75.01, -75.0)
	c, err := NewCursor(r, 500)
	require.NoError(t, err)

	pts := walk(t, c)
	require.Len(t, pts, 6)
	assert.Equal(t, -75.01, pts[2].Lng)
	assert.Equal(t, -75.01, pts[4].Lng)
	assert.Less(t, pts[4].Lat, pts[2].Lat)
}

func TestCursorTerminatesAtPole(t *testing.T) {
	t.Parallel()

	// A south carriage return from near -90 would cross the pole and come back
	// at a higher latitude with its longitude flipped.
	r := testRegion(t, -90, -89.9, -180, 180)
	c, err := NewCursor(r, 10_000)
	require.NoError(t, err)

	pts := walk(t, c)
	require.NotEmpty(t, pts)
	for _, p := range pts {
		assert.True(t, r.ContainsBoundingBox(p))
	}
	assert.InDelta(t, -89.9, pts[0].Lat, 1e-9)
	assert.Less(t, pts[len(pts)-1].Lat, pts[0].Lat)

	n, err := CountGridPoints(r, 10_000)
	require.NoError(t, err)
	assert.Equal(t, len(pts), n)
}

func TestCursorRowAtPrimeMeridian(t *testing.T) {
	t.Parallel()

	r := testRegion(t, 51.0, 51.006, 0, 0.01)
	c, err := NewCursor(r, 500)
	require.NoError(t, err)

	pts := walk(t, c)
	require.Len(t, pts, 4)
	assert.InDelta(t, 0, pts[2].Lng, 1e-12)
}

func TestCursorIsDeterministic(t *testing.T) {
	t.Parallel()

	r := testRegion(t, 45.0, 45.05, -75.05, -75.0)
	a, err := NewCursor(r, 333)
	require.NoError(t, err)
	b, err := NewCursor(r, 333)
	require.NoError(t, err)

	assert.Equal(t, walk(t, a), walk(t, b))
}

func TestCursorTerminatesForManySteps(t *testing.T) {
	t.Parallel()

	r := testRegion(t, -1, 1, 179, 180)
	for _, step := range []float64{1_000, 10_000, 100_000, 1_000_000} {
		c, err := NewCursor(r, step)
		require.NoError(t, err)
		pts := walk(t, c)
		assert.NotEmpty(t, pts)
		assert.True(t, c.Done())
	}
}

func TestCursorDoneIsMonotonic(t *testing.T) {
	t.Parallel()

	r := testRegion(t, 0, 0.001, 0, 0.001)
	c, err := NewCursor(r, 10_000)
	require.NoError(t, err)

	c.Step()
	require.True(t, c.Done())
	last := c.Position()
	c.Step()
	assert.True(t, c.Done())
	assert.Equal(t, last, c.Position())
}

func TestCursorCloneIsIndependent(t *testing.T) {
	t.Parallel()

	r := testRegion(t, 45.0, 45.006, -75.01, -75.0)
	c, err := NewCursor(r, 500)
	require.NoError(t, err)

	snapshot := c.Clone()
	c.Step()
	c.Step()
	assert.NotEqual(t, c.Position(), snapshot.Position())

	nw, _ := r.Corner(NW)
	assert.Equal(t, nw, snapshot.Position().LatLng())
}

func TestNewCursorRejectsBadInput(t *testing.T) {
	t.Parallel()

	r := testRegion(t, 0, 1, 0, 1)
	for _, step := range []float64{0, -5} {
		_, err := NewCursor(r, step)
		assert.Error(t, err)
	}
	_, err := NewCursorAt(r, 10, geo.LatLng{Lat: 2, Lng: 0.5})
	assert.Error(t, err)
	_, err = NewCursor(nil, 10)
	assert.Error(t, err)
}

func TestNewCursorAtResumes(t *testing.T) {
	t.Parallel()

	r := testRegion(t, 45.0, 45.006, -75.01, -75.0)
	full, err := NewCursor(r, 500)
	require.NoError(t, err)
	all := walk(t, full)

	resumed, err := NewCursorAt(r, 500, all[2])
	require.NoError(t, err)
	assert.Equal(t, all[2:], walk(t, resumed))
}

func TestCountGridPoints(t *testing.T) {
	t.Parallel()

	n, err := CountGridPoints(testRegion(t, 45.0, 45.006, -75.01, -75.0), 500)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = CountGridPoints(testRegion(t, 0, 1, 0, 1), 0)
	assert.Error(t, err)
}
