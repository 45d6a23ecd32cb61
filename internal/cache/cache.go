// Package cache memoizes per-point service answers. Grid points are
// deterministic, so a resumed or repeated run over the same region asks the
// same questions; cached verdicts skip the paid calls.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/logging"
	"github.com/CU-BIC/S3/internal/metrics"
	"github.com/CU-BIC/S3/internal/sampler"
)

// Store is a string key/value cache with per-entry expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

const (
	obstructedValue = "1"
	clearValue      = "0"
	absentValue     = "null"
)

// ObstructionKey quantizes a point to six decimals (about 0.1 m).
func ObstructionKey(p geo.LatLng) string {
	return fmt.Sprintf("obstruction:%.6f:%.6f", p.Lat, p.Lng)
}

// PanoramaKey includes the search radius since it changes the answer.
func PanoramaKey(p geo.LatLng, radiusMeters float64) string {
	return fmt.Sprintf("panorama:%.6f:%.6f:%g", p.Lat, p.Lng, radiusMeters)
}

// Obstruction decorates an ObstructionService with a verdict cache. Cache
// failures are logged and fall through to the service; service errors are
// never cached.
type Obstruction struct {
	next   sampler.ObstructionService
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewObstruction wraps next.
func NewObstruction(next sampler.ObstructionService, store Store, ttl time.Duration, logger *zap.Logger) *Obstruction {
	metrics.Init()
	return &Obstruction{next: next, store: store, ttl: ttl, logger: logging.OrNop(logger)}
}

// IsObstructed answers from the cache when possible.
func (o *Obstruction) IsObstructed(ctx context.Context, point sampler.Coordinate, credential string) (bool, error) {
	key := ObstructionKey(point.LatLng())
	if v, ok, err := o.store.Get(ctx, key); err != nil {
		o.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok && (v == obstructedValue || v == clearValue) {
		metrics.ObserveCacheLookup(true)
		return v == obstructedValue, nil
	}
	metrics.ObserveCacheLookup(false)

	obstructed, err := o.next.IsObstructed(ctx, point, credential)
	if err != nil {
		return false, err
	}
	value := clearValue
	if obstructed {
		value = obstructedValue
	}
	if err := o.store.Set(ctx, key, value, o.ttl); err != nil {
		o.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return obstructed, nil
}

// Panorama decorates a PanoramaService. Absent imagery is cached too.
type Panorama struct {
	next   sampler.PanoramaService
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewPanorama wraps next.
func NewPanorama(next sampler.PanoramaService, store Store, ttl time.Duration, logger *zap.Logger) *Panorama {
	metrics.Init()
	return &Panorama{next: next, store: store, ttl: ttl, logger: logging.OrNop(logger)}
}

// Lookup answers from the cache when possible.
func (p *Panorama) Lookup(ctx context.Context, point geo.LatLng, radiusMeters float64, credential string) (*sampler.PanoramaRecord, error) {
	key := PanoramaKey(point, radiusMeters)
	if v, ok, err := p.store.Get(ctx, key); err != nil {
		p.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		if v == absentValue {
			metrics.ObserveCacheLookup(true)
			return nil, nil
		}
		var rec sampler.PanoramaRecord
		if err := json.Unmarshal([]byte(v), &rec); err == nil {
			metrics.ObserveCacheLookup(true)
			return &rec, nil
		}
		p.logger.Warn("discarding malformed cache entry", zap.String("key", key))
	}
	metrics.ObserveCacheLookup(false)

	rec, err := p.next.Lookup(ctx, point, radiusMeters, credential)
	if err != nil {
		return nil, err
	}
	value := absentValue
	if rec != nil {
		b, err := json.Marshal(rec)
		if err != nil {
			return rec, nil
		}
		value = string(b)
	}
	if err := p.store.Set(ctx, key, value, p.ttl); err != nil {
		p.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return rec, nil
}
