package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

const getPendingSQL = `
SELECT i.id, i.osm_node_id, i.name, i.lat, i.lng, i.borough, i.sample_group
FROM intersections i
LEFT JOIN batch_status bs
  ON bs.intersection_id = i.id AND bs.mode = $1 AND bs.departure_time = $2 AND bs.day_type = $3
LEFT JOIN LATERAL (
    SELECT COUNT(*) AS n
    FROM isochrone_bands b
    WHERE b.origin_id = i.id AND b.mode = $1 AND b.departure_time = $2 AND b.day_type = $3
) bands ON true
WHERE i.borough = ANY($4)
  AND (   bs.intersection_id IS NULL
       OR (bs.status IN ('pending', 'completed') AND bands.n < $5)
       OR (bs.status = 'processing' AND bs.started_at < now() - $6 * interval '1 second'))
ORDER BY array_position($4, i.borough), i.id
LIMIT $7`

// GetPending selects up to limit origins still owed bands under the cache
// key, in borough priority order with id tiebreak. A completed origin with
// fewer band rows than cutoffs is re-queued; a processing row older than
// the stale horizon is treated as pending again (crash recovery). failed
// rows stay out until ResetFailed.
func (s *Store) GetPending(ctx context.Context, key model.CacheKey, boroughs []string, staleHorizon time.Duration, limit int) ([]model.Origin, error) {
	if len(boroughs) == 0 {
		boroughs = model.PriorityBoroughs()
	}
	start := time.Now()
	var origins []model.Origin
	err := s.db.SelectContext(ctx, &origins, getPendingSQL,
		key.Mode, key.Departure, key.DayType,
		pq.Array(boroughs), len(s.cutoffs), staleHorizon.Seconds(), limit)
	observe("get_pending", start, err)
	if err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}
	return origins, nil
}

const upsertStatusSQL = `
INSERT INTO batch_status (intersection_id, mode, departure_time, day_type, status, started_at, completed_at, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (intersection_id, mode, departure_time, day_type)
DO UPDATE SET status        = EXCLUDED.status,
              started_at    = COALESCE(EXCLUDED.started_at, batch_status.started_at),
              completed_at  = EXCLUDED.completed_at,
              error_message = EXCLUDED.error_message`

// MarkProcessing stamps started_at = now and clears any previous outcome.
func (s *Store) MarkProcessing(ctx context.Context, originID int64, key model.CacheKey) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, upsertStatusSQL,
		originID, key.Mode, key.Departure, key.DayType,
		model.StatusProcessing, time.Now().UTC(), nil, nil)
	observe("mark_processing", start, err)
	if err != nil {
		return fmt.Errorf("mark processing origin %d: %w", originID, err)
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, originID int64, key model.CacheKey) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, upsertStatusSQL,
		originID, key.Mode, key.Departure, key.DayType,
		model.StatusCompleted, nil, time.Now().UTC(), nil)
	observe("mark_completed", start, err)
	if err != nil {
		return fmt.Errorf("mark completed origin %d: %w", originID, err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, originID int64, key model.CacheKey, reason string) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, upsertStatusSQL,
		originID, key.Mode, key.Departure, key.DayType,
		model.StatusFailed, nil, time.Now().UTC(), reason)
	observe("mark_failed", start, err)
	if err != nil {
		return fmt.Errorf("mark failed origin %d: %w", originID, err)
	}
	return nil
}

// ResetFailed moves all failed rows for a cache key back to pending,
// clearing error state. Operator action behind the batch CLI's retry.
func (s *Store) ResetFailed(ctx context.Context, key model.CacheKey) (int64, error) {
	const q = `
UPDATE batch_status
SET status = 'pending', started_at = NULL, completed_at = NULL, error_message = NULL
WHERE mode = $1 AND departure_time = $2 AND day_type = $3 AND status = 'failed'`

	start := time.Now()
	res, err := s.db.ExecContext(ctx, q, key.Mode, key.Departure, key.DayType)
	observe("reset_failed", start, err)
	if err != nil {
		return 0, fmt.Errorf("reset failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset failed rows: %w", err)
	}
	return n, nil
}

// ResetForRecompute re-queues completed and failed origins after a routing
// graph rebuild. An empty filter set re-queues the whole cache key; origin
// ids and boroughs narrow the sweep.
func (s *Store) ResetForRecompute(ctx context.Context, key model.CacheKey, originIDs []int64, boroughs []string) (int64, error) {
	const q = `
UPDATE batch_status bs
SET status = 'pending', started_at = NULL, completed_at = NULL, error_message = NULL
FROM intersections i
WHERE i.id = bs.intersection_id
  AND bs.mode = $1 AND bs.departure_time = $2 AND bs.day_type = $3
  AND bs.status IN ('completed', 'failed')
  AND (cardinality($4::bigint[]) = 0 OR bs.intersection_id = ANY($4))
  AND (cardinality($5::text[]) = 0 OR i.borough = ANY($5))`

	if originIDs == nil {
		originIDs = []int64{}
	}
	if boroughs == nil {
		boroughs = []string{}
	}
	start := time.Now()
	res, err := s.db.ExecContext(ctx, q,
		key.Mode, key.Departure, key.DayType, pq.Array(originIDs), pq.Array(boroughs))
	observe("reset_for_recompute", start, err)
	if err != nil {
		return 0, fmt.Errorf("reset for recompute: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset for recompute rows: %w", err)
	}
	return n, nil
}

// StatusCounts returns per-status counters under the cache key.
func (s *Store) StatusCounts(ctx context.Context, key model.CacheKey) (map[model.BatchStatus]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM batch_status
WHERE mode = $1 AND departure_time = $2 AND day_type = $3
GROUP BY status`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, key.Mode, key.Departure, key.DayType)
	observe("status_counts", start, err)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[model.BatchStatus]int{}
	for rows.Next() {
		var st model.BatchStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return out, nil
}

// CachedCount counts origins holding the full band set under the cache key.
func (s *Store) CachedCount(ctx context.Context, key model.CacheKey) (int64, error) {
	const q = `
SELECT COUNT(*) FROM (
    SELECT b.origin_id
    FROM isochrone_bands b
    WHERE b.mode = $1 AND b.departure_time = $2 AND b.day_type = $3
    GROUP BY b.origin_id
    HAVING COUNT(*) >= $4
) full_origins`

	start := time.Now()
	var n int64
	err := s.db.GetContext(ctx, &n, q, key.Mode, key.Departure, key.DayType, len(s.cutoffs))
	observe("cached_count", start, err)
	if err != nil {
		return 0, fmt.Errorf("cached count: %w", err)
	}
	return n, nil
}

// TotalOrigins counts intersections inside the prioritised boroughs.
func (s *Store) TotalOrigins(ctx context.Context, boroughs []string) (int64, error) {
	if len(boroughs) == 0 {
		boroughs = model.PriorityBoroughs()
	}
	start := time.Now()
	var n int64
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM intersections WHERE borough = ANY($1)`, pq.Array(boroughs))
	observe("total_origins", start, err)
	if err != nil {
		return 0, fmt.Errorf("total origins: %w", err)
	}
	return n, nil
}
