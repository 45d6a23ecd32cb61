package sampler

import (
	"context"
	"io"
	"time"

	"github.com/CU-BIC/S3/internal/geo"
)

// SnapResult maps one snapped position back to the index of the input point it
// belongs to. Snapped is nil when the service had no match for that point.
type SnapResult struct {
	OriginalIndex int
	Snapped       *geo.LatLng
}

// SnapService corrects a batch of points to the nearest road in one call.
type SnapService interface {
	Snap(ctx context.Context, points []Coordinate, credential string) ([]SnapResult, error)
}

// ObstructionService decides whether a point is unsuitable for imagery.
type ObstructionService interface {
	IsObstructed(ctx context.Context, point Coordinate, credential string) (bool, error)
}

// PanoramaService finds imagery near a point. A nil record with a nil error
// means no imagery is available there.
type PanoramaService interface {
	Lookup(ctx context.Context, point geo.LatLng, radiusMeters float64, credential string) (*PanoramaRecord, error)
}

// ImageService streams one image of a point at a heading. Callers close the stream.
type ImageService interface {
	Fetch(ctx context.Context, point geo.LatLng, heading float64, credential string) (io.ReadCloser, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Sink receives committed batches in checkpoint order and the final summary.
type Sink interface {
	PersistBatch(ctx context.Context, record BatchRecord) error
	Finalize(ctx context.Context, summary Summary) error
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RateLimiter paces calls per key.
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
