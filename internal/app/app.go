// Package app initializes and holds the long-lived services of a sampling
// run, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	pubsubapi "cloud.google.com/go/pubsub/v2"
	gcsapi "cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/CU-BIC/S3/internal/api"
	"github.com/CU-BIC/S3/internal/boundary"
	"github.com/CU-BIC/S3/internal/cache"
	cachememory "github.com/CU-BIC/S3/internal/cache/memory"
	cacheredis "github.com/CU-BIC/S3/internal/cache/redis"
	"github.com/CU-BIC/S3/internal/config"
	"github.com/CU-BIC/S3/internal/credentials"
	"github.com/CU-BIC/S3/internal/logging"
	"github.com/CU-BIC/S3/internal/output"
	"github.com/CU-BIC/S3/internal/pipeline"
	"github.com/CU-BIC/S3/internal/policy/ratelimit"
	"github.com/CU-BIC/S3/internal/provider/google"
	pubsubpublisher "github.com/CU-BIC/S3/internal/publisher/pubsub"
	"github.com/CU-BIC/S3/internal/sampler"
	"github.com/CU-BIC/S3/internal/storage/gcs"
	"github.com/CU-BIC/S3/internal/storage/local"
	"github.com/CU-BIC/S3/internal/storage/memory"
	"github.com/CU-BIC/S3/internal/storage/postgres"
	"github.com/CU-BIC/S3/internal/telemetry"
)

// App holds the shared services of one process: blob storage, sinks, the
// Google adapters behind their caches, the rate limiter, and tracing.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	blobs    sampler.BlobStore
	sink     sampler.Sink
	services pipeline.Services
	limiter  *ratelimit.Limiter
	tracer   *sdktrace.TracerProvider
	server   *api.Server

	closers []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

type options struct {
	httpClient *http.Client
	blobs      sampler.BlobStore
	publisher  sampler.Publisher
	cacheStore cache.Store
}

// Option overrides a service that New would otherwise build from config.
type Option func(*options)

// WithHTTPClient sets the client used by the Google adapters.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithBlobStore replaces the configured storage backend.
func WithBlobStore(b sampler.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p sampler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithCacheStore replaces the configured cache backend.
func WithCacheStore(s cache.Store) Option {
	return func(o *options) { o.cacheStore = s }
}

// New builds every service named by cfg. It fails fast; services already
// opened are closed before returning an error.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a = &App{cfg: cfg, logger: logging.OrNop(logger)}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	a.logger.Info("initializing application services")

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp
	a.addCloser("tracer", tp.Shutdown)

	if a.blobs = o.blobs; a.blobs == nil {
		if a.blobs, err = a.openBlobStore(ctx); err != nil {
			return nil, err
		}
	}

	store := o.cacheStore
	if store == nil {
		if store, err = a.openCache(); err != nil {
			return nil, err
		}
	}

	a.services = a.buildServices(o.httpClient, store)
	a.limiter = ratelimit.New(cfg.RateLimit)

	sinks := []sampler.Sink{output.NewArtifactSink(a.blobs, "", a.logger)}
	if cfg.DB.DSN != "" {
		ps, err := a.openPointStore(ctx)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ps)
	}
	publisher := o.publisher
	if publisher == nil && cfg.PubSub.ProjectID != "" {
		if publisher, err = a.openPublisher(ctx); err != nil {
			return nil, err
		}
	}
	if publisher != nil {
		sinks = append(sinks, output.NewPublishSink(publisher, output.Topics{
			Batches: cfg.PubSub.BatchTopic,
			Runs:    cfg.PubSub.RunTopic,
		}, a.logger))
	}
	a.sink = output.NewMultiSink(sinks...)

	if cfg.Server.Enabled {
		a.server = api.NewServer(nil, a.logger)
	}

	a.logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("cache", cfg.Cache.Backend),
		zap.Int("sinks", len(sinks)),
	)
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// BlobStore returns the configured blob store.
func (a *App) BlobStore() sampler.BlobStore { return a.blobs }

// Server returns the status server, or nil when it is disabled.
func (a *App) Server() *api.Server { return a.server }

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) openBlobStore(ctx context.Context) (sampler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.Destination})
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		a.logger.Info("using local storage", zap.String("dir", store.BaseDir()))
		return store, nil
	case config.StorageGCS:
		client, err := gcsapi.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.addCloser("gcs", func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.GCSPrefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		a.logger.Info("using gcs storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		return store, nil
	case config.StorageMemory:
		a.logger.Warn("using in-memory storage; artifacts are discarded on exit")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", a.cfg.Storage.Backend)
	}
}

func (a *App) openCache() (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case config.CacheNone:
		return nil, nil
	case config.CacheMemory:
		return cachememory.New(a.cfg.Cache.Capacity), nil
	case config.CacheRedis:
		client := cacheredis.Open(a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
		a.addCloser("redis", func(context.Context) error { return client.Close() })
		return cacheredis.New(client, a.cfg.Cache.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", a.cfg.Cache.Backend)
	}
}

func (a *App) buildServices(hc *http.Client, store cache.Store) pipeline.Services {
	g := a.cfg.Google
	var opts []google.Option
	if hc != nil {
		opts = append(opts, google.WithHTTPClient(hc))
	}
	opts = append(opts, google.WithRetryPolicy(google.NewExponentialRetryPolicy(
		g.MaxRetries,
		time.Duration(g.BackoffInitialMs)*time.Millisecond,
		time.Duration(g.BackoffMaxMs)*time.Millisecond,
	)))
	client := google.New(google.Config{
		RoadsURL:    g.RoadsURL,
		MapsURL:     g.MapsURL,
		Timeout:     a.cfg.GoogleTimeout(),
		ImageWidth:  g.ImageWidth,
		ImageHeight: g.ImageHeight,
		FOV:         g.FOV,
		Pitch:       g.Pitch,
	}, a.logger, opts...)

	services := pipeline.Services{
		Snap:        client,
		Obstruction: client,
		Panorama:    client,
		Image:       client,
	}
	if store != nil {
		services.Obstruction = cache.NewObstruction(client, store, a.cfg.Cache.TTL, a.logger)
		services.Panorama = cache.NewPanorama(client, store, a.cfg.Cache.TTL, a.logger)
	}
	return services
}

func (a *App) openPointStore(ctx context.Context) (*postgres.PointStore, error) {
	db := a.cfg.DB
	ps, err := postgres.NewPointStore(ctx, postgres.Config{
		DSN:             db.DSN,
		PointsTable:     db.PointsTable,
		RunsTable:       db.RunsTable,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("init point store: %w", err)
	}
	a.addCloser("postgres", func(context.Context) error {
		ps.Close()
		return nil
	})
	if db.EnsureSchema {
		if err := ps.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	a.logger.Info("postgres sink enabled", zap.String("points_table", db.PointsTable))
	return ps, nil
}

func (a *App) openPublisher(ctx context.Context) (sampler.Publisher, error) {
	client, err := pubsubapi.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	a.addCloser("pubsub", func(context.Context) error {
		pub.Stop()
		return client.Close()
	})
	a.logger.Info("pubsub sink enabled",
		zap.String("batch_topic", a.cfg.PubSub.BatchTopic),
		zap.String("run_topic", a.cfg.PubSub.RunTopic),
	)
	return pub, nil
}

// Region loads the configured boundary and exclusion polygons.
func (a *App) Region() (*sampler.Region, error) {
	return LoadRegion(a.cfg.Region)
}

// LoadRegion builds a Region from a boundary file plus exclusion files.
func LoadRegion(cfg config.RegionConfig) (*sampler.Region, error) {
	if cfg.Boundary == "" {
		return nil, errors.New("region.boundary is required")
	}
	region, err := boundary.Load(cfg.Boundary, cfg.Index)
	if err != nil {
		return nil, err
	}
	if len(cfg.Exclusions) == 0 {
		return region, nil
	}
	rings, err := boundary.LoadExclusions(cfg.Exclusions...)
	if err != nil {
		return nil, err
	}
	return region.WithExclusions(rings...)
}

// CredentialRing resolves the configured keys into a ring.
func (a *App) CredentialRing() (*sampler.CredentialRing, error) {
	keys, err := credentials.Resolve(credentials.ParseList(a.cfg.Credentials.Keys), a.cfg.Credentials.File)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	ring, err := sampler.NewCredentialRing(keys)
	if err != nil {
		return nil, fmt.Errorf("credentials: %w", err)
	}
	return ring, nil
}

// NewPipeline wires a pipeline for region and ring from the shared services.
func (a *App) NewPipeline(region *sampler.Region, ring *sampler.CredentialRing) (*pipeline.Pipeline, error) {
	s := a.cfg.Sampler
	start, err := s.StartPoint()
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(region, ring, a.services, pipeline.Dependencies{
		Blobs:   a.blobs,
		Sink:    a.sink,
		Limiter: a.limiter,
	}, pipeline.Config{
		BatchCapacity:    s.BatchCapacity,
		StepDistance:     s.StepDistance,
		SearchRadius:     s.SearchRadius,
		Headings:         s.Headings,
		Mode:             sampler.Mode(s.Mode),
		ImagePrefix:      s.Prefix,
		Pipelined:        s.Pipelined,
		ImageConcurrency: s.ImageConcurrency,
		Start:            start,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("init pipeline: %w", err)
	}
	return p, nil
}

// Run loads the region and credentials, serves status while the pipeline
// runs, and returns the run summary.
func (a *App) Run(ctx context.Context) (sampler.Summary, error) {
	region, err := a.Region()
	if err != nil {
		return sampler.Summary{}, err
	}
	ring, err := a.CredentialRing()
	if err != nil {
		return sampler.Summary{}, err
	}
	p, err := a.NewPipeline(region, ring)
	if err != nil {
		return sampler.Summary{}, err
	}

	if a.server == nil {
		return p.Run(ctx)
	}

	a.server.SetProgress(p)
	srvCtx, stop := context.WithCancel(ctx)
	srvErr := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(a.cfg.Server.Port)
		srvErr <- api.ListenAndServe(srvCtx, addr, a.server.Handler(), a.cfg.ShutdownTimeout(), a.logger)
	}()

	summary, runErr := p.Run(ctx)
	stop()
	if err := <-srvErr; err != nil {
		a.logger.Warn("status server failed", zap.Error(err))
	}
	return summary, runErr
}

// Close shuts services down in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	// Sync fails on terminals; nothing useful can be done about it.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

// Estimate is the grid size of a region at a step distance.
type Estimate struct {
	BoundingBox  sampler.BoundingBox
	StepDistance float64
	GridPoints   int
}

// EstimateGrid counts the grid points the cursor would visit.
func EstimateGrid(region *sampler.Region, step float64) (Estimate, error) {
	n, err := sampler.CountGridPoints(region, step)
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{BoundingBox: region.BoundingBox(), StepDistance: step, GridPoints: n}, nil
}
