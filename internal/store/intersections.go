package store

import (
	"context"
	"fmt"
	"time"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

// IntersectionsInViewport lists origins inside the bounding box with an
// is_computed flag derived from a 30-minute band row under the cache key.
// sampleGroup, when non-nil, filters to one quarter of the origins for
// sparse rendering at low zoom.
func (s *Store) IntersectionsInViewport(ctx context.Context, bbox model.BBox, limit int, key model.CacheKey, sampleGroup *int) ([]model.Origin, error) {
	const q = `
SELECT i.id, i.osm_node_id, i.name, i.lat, i.lng, i.borough, i.sample_group,
       EXISTS (
           SELECT 1 FROM isochrone_bands b
           WHERE b.origin_id = i.id
             AND b.mode = $5 AND b.departure_time = $6 AND b.day_type = $7
             AND b.cutoff_minutes = 30
       ) AS is_computed
FROM intersections i
WHERE i.lat BETWEEN $1 AND $2
  AND i.lng BETWEEN $3 AND $4
  AND ($8::int IS NULL OR i.sample_group = $8)
ORDER BY i.id
LIMIT $9`

	start := time.Now()
	var origins []model.Origin
	err := s.db.SelectContext(ctx, &origins, q,
		bbox.MinLat, bbox.MaxLat, bbox.MinLng, bbox.MaxLng,
		key.Mode, key.Departure, key.DayType,
		sampleGroup, limit)
	observe("intersections_in_viewport", start, err)
	if err != nil {
		return nil, fmt.Errorf("intersections in viewport: %w", err)
	}
	return origins, nil
}

// StopsInViewport lists transit stops inside the bounding box.
func (s *Store) StopsInViewport(ctx context.Context, bbox model.BBox, limit int) ([]model.Stop, error) {
	const q = `
SELECT id, gtfs_stop_id, stop_name, lat, lng, stop_type, agency
FROM transit_stops
WHERE lat BETWEEN $1 AND $2
  AND lng BETWEEN $3 AND $4
ORDER BY id
LIMIT $5`

	start := time.Now()
	var stops []model.Stop
	err := s.db.SelectContext(ctx, &stops, q,
		bbox.MinLat, bbox.MaxLat, bbox.MinLng, bbox.MaxLng, limit)
	observe("stops_in_viewport", start, err)
	if err != nil {
		return nil, fmt.Errorf("stops in viewport: %w", err)
	}
	return stops, nil
}

// StopsNearby lists transit stops within radius meters of a point, nearest
// first.
func (s *Store) StopsNearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]model.Stop, error) {
	const q = `
SELECT id, gtfs_stop_id, stop_name, lat, lng, stop_type, agency
FROM transit_stops
WHERE ST_DWithin(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
ORDER BY ST_Distance(geom, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography)
LIMIT $4`

	start := time.Now()
	var stops []model.Stop
	err := s.db.SelectContext(ctx, &stops, q, lng, lat, radiusMeters, limit)
	observe("stops_nearby", start, err)
	if err != nil {
		return nil, fmt.Errorf("stops nearby: %w", err)
	}
	return stops, nil
}
