package store

import (
	"context"
	"fmt"
	"time"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

// Stats assembles the /api/stats payload: total origin count, per-mode
// band-row counts with timestamp range, and per-status counters under the
// given cache key.
func (s *Store) Stats(ctx context.Context, key model.CacheKey) (*model.Stats, error) {
	start := time.Now()
	var err error
	defer func() { observe("stats", start, err) }()

	var total int64
	if err = s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM intersections`); err != nil {
		err = fmt.Errorf("count intersections: %w", err)
		return nil, err
	}

	const modeQ = `
SELECT mode, COUNT(*) AS bands, MIN(computed_at) AS oldest, MAX(computed_at) AS newest
FROM isochrone_bands
GROUP BY mode
ORDER BY mode`

	rows, qerr := s.db.QueryContext(ctx, modeQ)
	if qerr != nil {
		err = fmt.Errorf("per-mode stats: %w", qerr)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var byMode []model.ModeStats
	for rows.Next() {
		var ms model.ModeStats
		if err = rows.Scan(&ms.Mode, &ms.Bands, &ms.Oldest, &ms.Newest); err != nil {
			err = fmt.Errorf("scan mode stats: %w", err)
			return nil, err
		}
		byMode = append(byMode, ms)
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterate mode stats: %w", err)
		return nil, err
	}

	byStatus, serr := s.StatusCounts(ctx, key)
	if serr != nil {
		err = serr
		return nil, err
	}

	return &model.Stats{
		Intersections: total,
		ByMode:        byMode,
		ByStatus:      byStatus,
	}, nil
}
