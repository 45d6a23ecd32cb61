package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CU-BIC/S3/internal/cache/memory"
	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/sampler"
)

type countingObstruction struct {
	calls int
	err   error
}

func (c *countingObstruction) IsObstructed(_ context.Context, p sampler.Coordinate, _ string) (bool, error) {
	c.calls++
	return p.Lat > 45, c.err
}

type countingPanorama struct {
	calls int
}

func (c *countingPanorama) Lookup(_ context.Context, p geo.LatLng, _ float64, _ string) (*sampler.PanoramaRecord, error) {
	c.calls++
	if p.Lat < 0 {
		return nil, nil
	}
	return &sampler.PanoramaRecord{PanoID: "abc", Location: p}, nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("down")
}

func (brokenStore) Set(context.Context, string, string, time.Duration) error {
	return errors.New("down")
}

func TestObstructionCachesVerdicts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	next := &countingObstruction{}
	o := NewObstruction(next, memory.New(16), time.Hour, nil)

	for range 3 {
		obstructed, err := o.IsObstructed(ctx, sampler.NewCoordinate(46, -75), "k")
		require.NoError(t, err)
		assert.True(t, obstructed)

		obstructed, err = o.IsObstructed(ctx, sampler.NewCoordinate(44, -75), "k")
		require.NoError(t, err)
		assert.False(t, obstructed)
	}
	assert.Equal(t, 2, next.calls)
}

func TestObstructionDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	next := &countingObstruction{err: &sampler.QuotaExceededError{Service: sampler.ServiceObstruction}}
	o := NewObstruction(next, memory.New(16), time.Hour, nil)

	_, err := o.IsObstructed(ctx, sampler.NewCoordinate(46, -75), "k")
	require.ErrorIs(t, err, sampler.ErrQuotaExceeded)

	next.err = nil
	_, err = o.IsObstructed(ctx, sampler.NewCoordinate(46, -75), "k")
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestObstructionFallsThroughBrokenStore(t *testing.T) {
	t.Parallel()

	next := &countingObstruction{}
	o := NewObstruction(next, brokenStore{}, time.Hour, nil)
	obstructed, err := o.IsObstructed(context.Background(), sampler.NewCoordinate(46, -75), "k")
	require.NoError(t, err)
	assert.True(t, obstructed)
	assert.Equal(t, 1, next.calls)
}

func TestPanoramaCachesRecordsAndAbsence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	next := &countingPanorama{}
	p := NewPanorama(next, memory.New(16), time.Hour, nil)

	here := geo.LatLng{Lat: 45.1, Lng: -75.2}
	for range 2 {
		rec, err := p.Lookup(ctx, here, 50, "k")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "abc", rec.PanoID)
		assert.Equal(t, here, rec.Location)

		rec, err = p.Lookup(ctx, geo.LatLng{Lat: -1, Lng: 0}, 50, "k")
		require.NoError(t, err)
		assert.Nil(t, rec)
	}
	assert.Equal(t, 2, next.calls)

	// A different radius is a different question.
	_, err := p.Lookup(ctx, here, 100, "k")
	require.NoError(t, err)
	assert.Equal(t, 3, next.calls)
}

func TestKeys(t *testing.T) {
	t.Parallel()

	p := geo.LatLng{Lat: 45.12345678, Lng: -75.1}
	assert.Equal(t, "obstruction:45.123457:-75.100000", ObstructionKey(p))
	assert.Equal(t, "panorama:45.123457:-75.100000:50", PanoramaKey(p, 50))
}
