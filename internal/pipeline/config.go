package pipeline

import (
	"fmt"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/sampler"
)

const (
	// DefaultBatchCapacity matches the per-request point limit of the snap service.
	DefaultBatchCapacity = 100
	// DefaultSearchRadius is the panorama lookup radius in metres.
	DefaultSearchRadius = 50.0
	// DefaultImagePrefix names image objects when no prefix is configured.
	DefaultImagePrefix = "s3"

	defaultImageConcurrency = 2
)

// Config controls a collection run.
type Config struct {
	// BatchCapacity bounds the points per snap request.
	BatchCapacity int
	// StepDistance is the grid spacing in metres.
	StepDistance float64
	// SearchRadius is the panorama lookup radius in metres.
	SearchRadius float64
	// Headings is the number of images per panorama: 1, 2, or 4.
	Headings int
	Mode     sampler.Mode
	// ImagePrefix is the leading path element and file name prefix of stored images.
	ImagePrefix string
	// Pipelined overlaps traversal of the next batch with the flush of the current one.
	Pipelined bool
	// ImageConcurrency bounds concurrent heading downloads per panorama.
	ImageConcurrency int
	// Start resumes the walk from a grid point instead of the NW corner.
	Start *geo.LatLng
}

func (c Config) withDefaults() Config {
	if c.BatchCapacity == 0 {
		c.BatchCapacity = DefaultBatchCapacity
	}
	if c.SearchRadius == 0 {
		c.SearchRadius = DefaultSearchRadius
	}
	if c.Headings == 0 {
		c.Headings = 1
	}
	if c.Mode == "" {
		c.Mode = sampler.ModeImages
	}
	if c.ImagePrefix == "" {
		c.ImagePrefix = DefaultImagePrefix
	}
	if c.ImageConcurrency <= 0 {
		c.ImageConcurrency = defaultImageConcurrency
	}
	return c
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.BatchCapacity <= 0 {
		return fmt.Errorf("batch_capacity must be > 0")
	}
	if !(c.StepDistance > 0) {
		return fmt.Errorf("step_distance_m must be > 0")
	}
	if c.SearchRadius <= 0 {
		return fmt.Errorf("search_radius_m must be > 0")
	}
	if !sampler.ValidHeadingCount(c.Headings) {
		return fmt.Errorf("headings must be 1, 2, or 4, got %d", c.Headings)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("mode must be %q or %q, got %q", sampler.ModeImages, sampler.ModePanoramas, c.Mode)
	}
	return nil
}
