// Package store is the geospatial persistence layer. It is the sole owner
// of SQL and of geometry encoding: geometries cross the boundary as GeoJSON
// and every spatial operation (clipping, simplification, distance) runs
// inside PostGIS.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/transitatlas/isochrone-cache/internal/config"
	"github.com/transitatlas/isochrone-cache/internal/model"
	"github.com/transitatlas/isochrone-cache/internal/observability"
)

type Store struct {
	db      *sqlx.DB
	logger  *slog.Logger
	cutoffs []int

	// data is static outside batch mode, so the band extent is computed
	// once and then read lock-free
	boundsOnce sync.Once
	bounds     *model.BBox
	boundsErr  error
}

// Open connects, configures the pool, and pings.
func Open(ctx context.Context, cfg config.DBCfg, cutoffs []int, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(db, cutoffs, logger), nil
}

// New wraps an existing connection; used by tests with sqlmock.
func New(db *sqlx.DB, cutoffs []int, logger *slog.Logger) *Store {
	if len(cutoffs) == 0 {
		cutoffs = model.DefaultCutoffs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger, cutoffs: cutoffs}
}

func (s *Store) Cutoffs() []int { return s.cutoffs }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

func observe(op string, start time.Time, err error) {
	observability.ObserveStoreOp(op, err, time.Since(start).Seconds())
}

// DataBounds returns the extent of all band geometries, memoised after the
// first read. ok is false when no bands exist yet.
func (s *Store) DataBounds(ctx context.Context) (bbox model.BBox, ok bool, err error) {
	s.boundsOnce.Do(func() {
		const q = `
SELECT ST_XMin(e.extent), ST_YMin(e.extent), ST_XMax(e.extent), ST_YMax(e.extent)
FROM (SELECT ST_Extent(geometry) AS extent FROM isochrone_bands) e
WHERE e.extent IS NOT NULL`
		start := time.Now()
		var minLng, minLat, maxLng, maxLat float64
		row := s.db.QueryRowContext(ctx, q)
		scanErr := row.Scan(&minLng, &minLat, &maxLng, &maxLat)
		observe("data_bounds", start, ignoreNoRows(scanErr))
		if scanErr != nil {
			if isNoRows(scanErr) {
				return
			}
			s.boundsErr = fmt.Errorf("data bounds: %w", scanErr)
			return
		}
		s.bounds = &model.BBox{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: maxLng}
	})
	if s.boundsErr != nil {
		return model.BBox{}, false, s.boundsErr
	}
	if s.bounds == nil {
		return model.BBox{}, false, nil
	}
	return *s.bounds, true, nil
}
