// Package pipeline drives a collection run: it walks the region grid, filters
// points, enriches full batches through the external services, and commits
// them to the sinks. A quota failure anywhere in a cycle rotates the credential
// and replays the cycle from its checkpoint.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/clock/system"
	"github.com/CU-BIC/S3/internal/id/uuid"
	"github.com/CU-BIC/S3/internal/logging"
	"github.com/CU-BIC/S3/internal/metrics"
	"github.com/CU-BIC/S3/internal/sampler"
)

const tracerName = "github.com/CU-BIC/S3/internal/pipeline"

// ErrAlreadyRunning is returned when Run is called on a busy pipeline.
var ErrAlreadyRunning = errors.New("pipeline is already running")

// Services groups the external service adapters.
type Services struct {
	Snap        sampler.SnapService
	Obstruction sampler.ObstructionService
	Panorama    sampler.PanoramaService
	// Image is only required in images mode.
	Image sampler.ImageService
}

// Dependencies groups the ports the pipeline writes to and paces itself with.
type Dependencies struct {
	// Blobs stores downloaded images. Required in images mode.
	Blobs sampler.BlobStore
	Sink  sampler.Sink
	// Limiter is optional.
	Limiter sampler.RateLimiter
	Clock   sampler.Clock
	IDs     sampler.IDGenerator
}

// Pipeline owns one region, one credential ring, and the service adapters.
type Pipeline struct {
	region   *sampler.Region
	ring     *sampler.CredentialRing
	services Services
	blobs    sampler.BlobStore
	sink     sampler.Sink
	limiter  sampler.RateLimiter
	clock    sampler.Clock
	ids      sampler.IDGenerator
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer

	running atomic.Bool

	mu       sync.Mutex
	progress sampler.Progress

	// onRestore observes every checkpoint restore. Tests only.
	onRestore func(cursor *sampler.Cursor, batch *sampler.Batch)
}

// New validates the configuration and wires a pipeline.
func New(region *sampler.Region, ring *sampler.CredentialRing, services Services, deps Dependencies, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if region == nil {
		return nil, errors.New("region is required")
	}
	if ring == nil {
		return nil, errors.New("credential ring is required")
	}
	if services.Snap == nil || services.Obstruction == nil || services.Panorama == nil {
		return nil, errors.New("snap, obstruction, and panorama services are required")
	}
	if cfg.Mode == sampler.ModeImages && (services.Image == nil || deps.Blobs == nil) {
		return nil, errors.New("images mode requires an image service and a blob store")
	}
	if cfg.Start != nil && !region.ContainsBoundingBox(*cfg.Start) {
		return nil, fmt.Errorf("start position %v lies outside the bounding box", *cfg.Start)
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = uuid.New()
	}
	metrics.Init()

	return &Pipeline{
		region:   region,
		ring:     ring,
		services: services,
		blobs:    deps.Blobs,
		sink:     deps.Sink,
		limiter:  deps.Limiter,
		clock:    deps.Clock,
		ids:      deps.IDs,
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		tracer:   otel.Tracer(tracerName),
	}, nil
}

// Config returns the effective configuration after defaults.
func (p *Pipeline) Config() Config { return p.cfg }

// Progress returns a snapshot of the current or most recent run.
func (p *Pipeline) Progress() sampler.Progress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// run is the mutable state of a single Run call. Only the loop goroutine
// touches it.
type run struct {
	id        string
	cursor    *sampler.Cursor
	batch     *sampler.Batch
	processed *sampler.Batch
	rejected  []sampler.Coordinate
	visited   int
	batches   int
	rotations int
	rollbacks int
	cycles    int
	startedAt time.Time
}

type checkpoint struct {
	cursor *sampler.Cursor
	batch  *sampler.Batch
}

// cycle is one fill of the in-progress batch plus its pending flush.
type cycle struct {
	seq        int
	checkpoint checkpoint
	credential string
	batch      *sampler.Batch
	rejected   []sampler.Coordinate
	visited    int

	result  chan error
	settled bool
	err     error
}

func (c *cycle) wait() error {
	if !c.settled {
		c.err = <-c.result
		c.settled = true
	}
	return c.err
}

// Run walks the whole region and returns the final summary. Cancellation is
// observed between cycles; a cycle in flight always runs to its commit or
// rollback. The returned error is nil only for a completed run.
func (p *Pipeline) Run(ctx context.Context) (sampler.Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return sampler.Summary{}, ErrAlreadyRunning
	}
	defer p.running.Store(false)

	r, err := p.start()
	if err != nil {
		return sampler.Summary{}, err
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", r.id),
		attribute.Float64("step_m", p.cfg.StepDistance),
		attribute.Int("batch_capacity", p.cfg.BatchCapacity),
	))
	defer span.End()

	runErr := p.loop(ctx, r)
	if runErr != nil {
		span.RecordError(runErr)
	}
	return p.finish(ctx, r, runErr)
}

func (p *Pipeline) start() (*run, error) {
	id, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	var cursor *sampler.Cursor
	if p.cfg.Start != nil {
		cursor, err = sampler.NewCursorAt(p.region, p.cfg.StepDistance, *p.cfg.Start)
	} else {
		cursor, err = sampler.NewCursor(p.region, p.cfg.StepDistance)
	}
	if err != nil {
		return nil, err
	}
	batch, err := sampler.NewBatch(p.cfg.BatchCapacity)
	if err != nil {
		return nil, err
	}
	processed, err := sampler.NewBatch(sampler.Unbounded)
	if err != nil {
		return nil, err
	}
	estimate, err := sampler.CountGridPoints(p.region, p.cfg.StepDistance)
	if err != nil {
		return nil, err
	}

	r := &run{
		id:        id,
		cursor:    cursor,
		batch:     batch,
		processed: processed,
		startedAt: p.clock.Now(),
	}

	p.mu.Lock()
	p.progress = sampler.Progress{
		RunID:           id,
		Status:          sampler.RunStatusRunning,
		Position:        cursor.Position().LatLng(),
		CredentialIndex: p.ring.Index(),
		EstimatedTotal:  estimate,
	}
	p.mu.Unlock()

	p.logger.Info("run started",
		zap.String("run_id", id),
		zap.Int("estimated_points", estimate),
		zap.Float64("step_m", p.cfg.StepDistance),
		zap.Int("batch_capacity", p.cfg.BatchCapacity),
		zap.String("mode", string(p.cfg.Mode)),
		zap.Int("credentials", p.ring.Len()),
		zap.Bool("pipelined", p.cfg.Pipelined),
	)
	return r, nil
}

// loop alternates fill and flush until the cursor is done. In pipelined mode
// the flush of cycle N overlaps the fill of cycle N+1; cycle N+1 is discarded
// and replayed if cycle N fails on quota.
func (p *Pipeline) loop(ctx context.Context, r *run) error {
	work := context.WithoutCancel(ctx)
	var pending *cycle

	for {
		var next *cycle
		var fillErr error
		if !r.cursor.Done() && ctx.Err() == nil {
			next, fillErr = p.fill(work, r)
		}

		if pending != nil {
			err := pending.wait()
			switch {
			case err == nil:
				if cerr := p.commit(work, r, pending); cerr != nil {
					return cerr
				}
			case sampler.IsQuota(err):
				if rerr := p.rotate(r, err); rerr != nil {
					return rerr
				}
				p.restore(r, pending.checkpoint)
				pending = nil
				continue
			default:
				return err
			}
			pending = nil
		}

		if fillErr != nil {
			if !sampler.IsQuota(fillErr) {
				return fillErr
			}
			if err := p.rotate(r, fillErr); err != nil {
				return err
			}
			p.restore(r, next.checkpoint)
			continue
		}

		if next == nil {
			if r.cursor.Done() {
				return nil
			}
			return ctx.Err()
		}

		if next.batch.Len() == 0 {
			if err := p.commit(work, r, next); err != nil {
				return err
			}
			continue
		}

		p.dispatch(work, next)
		if p.cfg.Pipelined {
			pending = next
			continue
		}

		err := next.wait()
		switch {
		case err == nil:
			if cerr := p.commit(work, r, next); cerr != nil {
				return cerr
			}
		case sampler.IsQuota(err):
			if rerr := p.rotate(r, err); rerr != nil {
				return rerr
			}
			p.restore(r, next.checkpoint)
		default:
			return err
		}
	}
}

// fill walks the cursor until the in-progress batch is full or the grid is
// exhausted. Each point is checked against the bounding box, then the
// polygon, then the obstruction service.
func (p *Pipeline) fill(ctx context.Context, r *run) (*cycle, error) {
	r.cycles++
	c := &cycle{
		seq:        r.cycles,
		checkpoint: checkpoint{cursor: r.cursor.Clone(), batch: r.batch.Clone()},
		credential: p.ring.Current(),
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.cycle", trace.WithAttributes(attribute.Int("cycle", c.seq)))
	defer span.End()

	for !r.cursor.Done() && !r.batch.IsFull() {
		point := r.cursor.Position()
		accepted, err := p.evaluate(ctx, &point, c.credential)
		if err != nil {
			span.RecordError(err)
			return c, err
		}
		c.visited++
		if accepted {
			if err := r.batch.Add(point); err != nil {
				return c, err
			}
		} else {
			c.rejected = append(c.rejected, point)
		}
		r.cursor.Step()
	}

	c.batch = r.batch
	r.batch = c.checkpoint.batch.Clone()
	span.SetAttributes(attribute.Int("accepted", c.batch.Len()), attribute.Int("visited", c.visited))
	p.setPosition(r)
	return c, nil
}

func (p *Pipeline) evaluate(ctx context.Context, point *sampler.Coordinate, credential string) (bool, error) {
	ll := point.LatLng()
	if !p.region.ContainsBoundingBox(ll) {
		return false, point.SetInPolygon(false)
	}
	inside := p.region.ContainsPolygon(ll)
	if err := point.SetInPolygon(inside); err != nil {
		return false, err
	}
	if !inside {
		return false, nil
	}

	var obstructed bool
	err := p.call(ctx, sampler.ServiceObstruction, func(ctx context.Context) error {
		var err error
		obstructed, err = p.services.Obstruction.IsObstructed(ctx, *point, credential)
		return err
	})
	if err != nil {
		return false, err
	}
	if err := point.SetInWater(obstructed); err != nil {
		return false, err
	}
	return !obstructed, nil
}

func (p *Pipeline) dispatch(ctx context.Context, c *cycle) {
	c.result = make(chan error, 1)
	if !p.cfg.Pipelined {
		c.result <- p.flush(ctx, c)
		return
	}
	go func() {
		c.result <- p.flush(ctx, c)
	}()
}

// call paces, times, and classifies one external service call.
func (p *Pipeline) call(ctx context.Context, service string, fn func(context.Context) error) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, service); err != nil {
			return fmt.Errorf("%s: rate limit wait: %w", service, err)
		}
	}
	start := time.Now()
	err := sampler.Classify(service, fn(ctx))
	outcome := "ok"
	switch {
	case err == nil:
	case sampler.IsQuota(err):
		outcome = "quota"
	default:
		outcome = "error"
	}
	metrics.ObserveServiceCall(service, outcome, time.Since(start))
	return err
}

func (p *Pipeline) commit(ctx context.Context, r *run, c *cycle) error {
	record := sampler.BatchRecord{
		RunID:       r.id,
		Sequence:    r.batches + 1,
		Accepted:    c.batch.Items(),
		Rejected:    cloneCoordinates(c.rejected),
		Visited:     c.visited,
		PersistedAt: p.clock.Now(),
	}
	if p.sink != nil {
		if err := p.sink.PersistBatch(ctx, record); err != nil {
			return fmt.Errorf("persist batch %d: %w", record.Sequence, err)
		}
	}
	if err := r.processed.Merge(c.batch); err != nil {
		return err
	}
	c.batch.Clear()
	r.rejected = append(r.rejected, c.rejected...)
	r.visited += c.visited
	r.batches = record.Sequence

	metrics.ObserveBatch()
	metrics.ObservePoints("accepted", len(record.Accepted))
	metrics.ObservePoints("rejected", len(record.Rejected))
	p.logger.Info("batch committed",
		zap.String("run_id", r.id),
		zap.Int("sequence", record.Sequence),
		zap.Int("accepted", len(record.Accepted)),
		zap.Int("rejected", len(record.Rejected)),
		zap.Int("total_processed", r.processed.Len()),
	)
	p.setCounters(r)
	return nil
}

func (p *Pipeline) rotate(r *run, cause error) error {
	service := "unknown"
	var quota *sampler.QuotaExceededError
	if errors.As(cause, &quota) {
		service = quota.Service
	}
	previous := p.ring.Fingerprint()
	if _, err := p.ring.Rotate(); err != nil {
		p.logger.Error("credential ring exhausted",
			zap.String("run_id", r.id),
			zap.String("service", service),
			zap.String("credential", previous),
			zap.Error(cause),
		)
		return fmt.Errorf("rotate credential after %s quota: %w", service, err)
	}
	r.rotations++
	metrics.ObserveRotation(service)
	p.logger.Warn("quota exceeded, rotated credential",
		zap.String("run_id", r.id),
		zap.String("service", service),
		zap.String("previous", previous),
		zap.String("credential", p.ring.Fingerprint()),
		zap.Int("index", p.ring.Index()),
	)
	return nil
}

// restore rewinds the cursor and in-progress batch to cp. Any cycle filled
// after cp is discarded with it.
func (p *Pipeline) restore(r *run, cp checkpoint) {
	r.cursor = cp.cursor.Clone()
	r.batch = cp.batch.Clone()
	r.rollbacks++
	metrics.ObserveRollback()
	p.logger.Debug("restored checkpoint",
		zap.String("run_id", r.id),
		zap.Stringer("position", r.cursor.Position()),
	)
	p.setCounters(r)
	if p.onRestore != nil {
		p.onRestore(r.cursor.Clone(), r.batch.Clone())
	}
}

func (p *Pipeline) finish(ctx context.Context, r *run, runErr error) (sampler.Summary, error) {
	summary := sampler.Summary{
		RunID:        r.id,
		Status:       sampler.RunStatusCompleted,
		Processed:    r.processed.Items(),
		Rejected:     cloneCoordinates(r.rejected),
		TotalVisited: r.visited,
		Batches:      r.batches,
		Rotations:    r.rotations,
		Rollbacks:    r.rollbacks,
		StartedAt:    r.startedAt,
		FinishedAt:   p.clock.Now(),
	}
	switch {
	case runErr == nil:
	case ctx.Err() != nil && errors.Is(runErr, ctx.Err()):
		summary.Status = sampler.RunStatusCanceled
		summary.Reason = runErr.Error()
	default:
		summary.Status = sampler.RunStatusFailed
		summary.Reason = runErr.Error()
	}

	if p.sink != nil {
		if err := p.sink.Finalize(context.WithoutCancel(ctx), summary); err != nil {
			p.logger.Error("finalize failed", zap.String("run_id", r.id), zap.Error(err))
			runErr = errors.Join(runErr, fmt.Errorf("finalize: %w", err))
		}
	}

	metrics.ObserveRun(string(summary.Status))
	p.mu.Lock()
	p.progress.Status = summary.Status
	p.mu.Unlock()

	fields := []zap.Field{
		zap.String("run_id", r.id),
		zap.String("status", string(summary.Status)),
		zap.Int("processed", len(summary.Processed)),
		zap.Int("rejected", len(summary.Rejected)),
		zap.Int("visited", summary.TotalVisited),
		zap.Int("batches", summary.Batches),
		zap.Int("rotations", summary.Rotations),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	}
	if runErr != nil {
		p.logger.Error("run stopped", append(fields, zap.Error(runErr))...)
	} else {
		p.logger.Info("run completed", fields...)
	}
	return summary, runErr
}

func (p *Pipeline) setPosition(r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress.Position = r.cursor.Position().LatLng()
}

func (p *Pipeline) setCounters(r *run) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress.Position = r.cursor.Position().LatLng()
	p.progress.Visited = r.visited
	p.progress.Accepted = r.processed.Len()
	p.progress.Rejected = len(r.rejected)
	p.progress.Batches = r.batches
	p.progress.Rotations = r.rotations
	p.progress.Rollbacks = r.rollbacks
	p.progress.CredentialIndex = p.ring.Index()
}

func cloneCoordinates(in []sampler.Coordinate) []sampler.Coordinate {
	if in == nil {
		return nil
	}
	out := make([]sampler.Coordinate, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
