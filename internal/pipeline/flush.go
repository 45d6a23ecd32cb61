package pipeline

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/CU-BIC/S3/internal/geo"
	"github.com/CU-BIC/S3/internal/metrics"
	"github.com/CU-BIC/S3/internal/sampler"
)

// flush enriches every point of a full batch: one snap call for the batch,
// one panorama lookup per snapped point, and in images mode the heading images.
func (p *Pipeline) flush(ctx context.Context, c *cycle) (err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.flush", trace.WithAttributes(
		attribute.Int("cycle", c.seq),
		attribute.Int("points", c.batch.Len()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := p.snap(ctx, c); err != nil {
		return err
	}
	if err := p.lookupPanoramas(ctx, c); err != nil {
		return err
	}
	if p.cfg.Mode == sampler.ModeImages {
		return p.fetchImages(ctx, c)
	}
	return nil
}

func (p *Pipeline) snap(ctx context.Context, c *cycle) error {
	points := c.batch.Items()
	var results []sampler.SnapResult
	err := p.call(ctx, sampler.ServiceSnap, func(ctx context.Context) error {
		var err error
		results, err = p.services.Snap.Snap(ctx, points, c.credential)
		return err
	})
	if err != nil {
		return err
	}

	for _, res := range results {
		if res.OriginalIndex < 0 || res.OriginalIndex >= len(points) {
			return &sampler.TransportError{
				Service: sampler.ServiceSnap,
				Err:     fmt.Errorf("result index %d out of range for %d points", res.OriginalIndex, len(points)),
			}
		}
		if res.Snapped == nil {
			continue
		}
		item := c.batch.Item(res.OriginalIndex)
		// Several road matches may map to one input point; the first wins.
		if _, ok := item.Snapped(); ok {
			continue
		}
		if err := item.SetSnapped(*res.Snapped); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) lookupPanoramas(ctx context.Context, c *cycle) error {
	for i := range c.batch.Len() {
		item := c.batch.Item(i)
		snapped, ok := item.Snapped()
		if !ok {
			continue
		}
		var record *sampler.PanoramaRecord
		err := p.call(ctx, sampler.ServicePanorama, func(ctx context.Context) error {
			var err error
			record, err = p.services.Panorama.Lookup(ctx, snapped, p.cfg.SearchRadius, c.credential)
			return err
		})
		if err != nil {
			return err
		}
		if record == nil {
			continue
		}
		if record.Location == (geo.LatLng{}) {
			record.Location = snapped
		}
		if err := item.SetPanorama(*record); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) fetchImages(ctx context.Context, c *cycle) error {
	for i := range c.batch.Len() {
		item := c.batch.Item(i)
		pano, ok := item.Panorama()
		if !ok {
			continue
		}
		refs, err := p.fetchHeadings(ctx, pano, c.credential)
		if err != nil {
			return err
		}
		if err := item.SetImages(refs); err != nil {
			return err
		}
	}
	return nil
}

// fetchHeadings downloads and stores one image per heading, bounded by
// ImageConcurrency. Refs keep heading order.
func (p *Pipeline) fetchHeadings(ctx context.Context, pano sampler.PanoramaRecord, credential string) ([]sampler.ImageRef, error) {
	headings := sampler.Headings(pano.ReferenceHeading(), p.cfg.Headings)
	refs := make([]sampler.ImageRef, len(headings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.ImageConcurrency)
	for i, heading := range headings {
		g.Go(func() error {
			uri, err := p.storeImage(gctx, pano.Location, heading, credential)
			if err != nil {
				return err
			}
			refs[i] = sampler.ImageRef{Heading: heading, URI: uri}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

func (p *Pipeline) storeImage(ctx context.Context, at geo.LatLng, heading float64, credential string) (string, error) {
	var body io.ReadCloser
	err := p.call(ctx, sampler.ServiceImage, func(ctx context.Context) error {
		var err error
		body, err = p.services.Image.Fetch(ctx, at, heading, credential)
		return err
	})
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	uri, err := p.blobs.PutObject(ctx, ImagePath(p.cfg.ImagePrefix, at, heading), "image/jpeg", body)
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	metrics.ObserveImage()
	return uri, nil
}

// ImagePath names a stored image: <prefix>/images/<prefix>_<lat>_<lng>_<heading>.jpg.
func ImagePath(prefix string, at geo.LatLng, heading float64) string {
	name := prefix + "_" +
		strconv.FormatFloat(at.Lat, 'f', 6, 64) + "_" +
		strconv.FormatFloat(at.Lng, 'f', 6, 64) + "_" +
		strconv.FormatFloat(heading, 'f', -1, 64) + ".jpg"
	return path.Join(prefix, "images", name)
}
