// Package postgres persists sample points and run summaries in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/CU-BIC/S3/internal/sampler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	PointsTable     string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// PointStore implements sampler.Sink. Each batch is written in one
// transaction so a failed commit leaves no partial batch behind.
type PointStore struct {
	pool   pool
	points string
	runs   string
}

// NewPointStore connects a pool using cfg.
func NewPointStore(ctx context.Context, cfg Config) (*PointStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewPointStoreWithPool(p, cfg.PointsTable, cfg.RunsTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewPointStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPointStoreWithPool(p pool, pointsTable, runsTable string) (*PointStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if pointsTable == "" {
		pointsTable = "sample_points"
	}
	if runsTable == "" {
		runsTable = "sample_runs"
	}
	for _, name := range []string{pointsTable, runsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &PointStore{pool: p, points: pointsTable, runs: runsTable}, nil
}

// Close releases the underlying pool resources.
func (s *PointStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates both tables if they do not exist.
func (s *PointStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	run_id        TEXT NOT NULL,
	sequence      INTEGER NOT NULL,
	ordinal       INTEGER NOT NULL,
	latitude      DOUBLE PRECISION NOT NULL,
	longitude     DOUBLE PRECISION NOT NULL,
	accepted      BOOLEAN NOT NULL,
	in_polygon    BOOLEAN,
	in_water      BOOLEAN,
	snapped_lat   DOUBLE PRECISION,
	snapped_lng   DOUBLE PRECISION,
	pano_id       TEXT,
	panorama      JSONB,
	persisted_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, sequence, ordinal)
);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id         TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	reason         TEXT,
	processed      INTEGER NOT NULL,
	rejected       INTEGER NOT NULL,
	total_visited  INTEGER NOT NULL,
	batches        INTEGER NOT NULL,
	rotations      INTEGER NOT NULL,
	rollbacks      INTEGER NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ NOT NULL
);`, s.points, s.runs)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PersistBatch inserts accepted then rejected points of one committed batch.
func (s *PointStore) PersistBatch(ctx context.Context, record sampler.BatchRecord) (err error) {
	if record.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch %d: %w", record.Sequence, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
			}
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, sequence, ordinal, latitude, longitude, accepted,
	in_polygon, in_water, snapped_lat, snapped_lng, pano_id, panorama, persisted_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, s.points)

	ordinal := 0
	insert := func(c sampler.Coordinate, accepted bool) error {
		args, err := pointArgs(c)
		if err != nil {
			return err
		}
		head := []any{record.RunID, record.Sequence, ordinal, c.Lat, c.Lng, accepted}
		if _, err := tx.Exec(ctx, query, append(append(head, args...), record.PersistedAt)...); err != nil {
			return fmt.Errorf("insert point %d of batch %d: %w", ordinal, record.Sequence, err)
		}
		ordinal++
		return nil
	}
	for _, c := range record.Accepted {
		if err := insert(c, true); err != nil {
			return err
		}
	}
	for _, c := range record.Rejected {
		if err := insert(c, false); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch %d: %w", record.Sequence, err)
	}
	return nil
}

// Finalize upserts the run summary row.
func (s *PointStore) Finalize(ctx context.Context, summary sampler.Summary) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id, status, reason, processed, rejected, total_visited,
	batches, rotations, rollbacks, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (run_id) DO UPDATE SET
	status = EXCLUDED.status,
	reason = EXCLUDED.reason,
	processed = EXCLUDED.processed,
	rejected = EXCLUDED.rejected,
	total_visited = EXCLUDED.total_visited,
	batches = EXCLUDED.batches,
	rotations = EXCLUDED.rotations,
	rollbacks = EXCLUDED.rollbacks,
	finished_at = EXCLUDED.finished_at`, s.runs)

	var reason any
	if summary.Reason != "" {
		reason = summary.Reason
	}
	_, err := s.pool.Exec(ctx, query,
		summary.RunID,
		string(summary.Status),
		reason,
		len(summary.Processed),
		len(summary.Rejected),
		summary.TotalVisited,
		summary.Batches,
		summary.Rotations,
		summary.Rollbacks,
		summary.StartedAt,
		summary.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", summary.RunID, err)
	}
	return nil
}

// pointArgs returns in_polygon, in_water, snapped_lat, snapped_lng, pano_id,
// panorama; unset fields are NULL.
func pointArgs(c sampler.Coordinate) ([]any, error) {
	args := make([]any, 6)
	if v, ok := c.InPolygon(); ok {
		args[0] = v
	}
	if v, ok := c.InWater(); ok {
		args[1] = v
	}
	if v, ok := c.Snapped(); ok {
		args[2], args[3] = v.Lat, v.Lng
	}
	if pano, ok := c.Panorama(); ok {
		raw, err := json.Marshal(pano)
		if err != nil {
			return nil, fmt.Errorf("marshal panorama: %w", err)
		}
		args[4], args[5] = pano.PanoID, raw
	}
	return args, nil
}
