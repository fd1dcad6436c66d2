package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

// simplifyTolerance is ~11m in degrees, applied to band geometry before
// serialisation to cap payload size.
const simplifyTolerance = 0.0001

const saveBandSQL = `
INSERT INTO isochrone_bands
    (origin_id, mode, departure_time, day_type, cutoff_minutes, geometry, geometry_unclipped, computed_at)
SELECT $1, $2, $3, $4, $5,
       CASE WHEN clipped.geom IS NULL OR ST_IsEmpty(clipped.geom)
            THEN raw.geom ELSE clipped.geom END,
       raw.geom,
       now()
FROM (SELECT ST_SetSRID(ST_GeomFromGeoJSON($6), 4326) AS geom) raw
LEFT JOIN LATERAL (
    SELECT ST_CollectionExtract(ST_MakeValid(ST_Intersection(raw.geom, lb.geometry)), 3) AS geom
    FROM land_boundary lb
    LIMIT 1
) clipped ON true
ON CONFLICT (origin_id, mode, departure_time, day_type, cutoff_minutes)
DO UPDATE SET geometry           = EXCLUDED.geometry,
              geometry_unclipped = EXCLUDED.geometry_unclipped,
              computed_at        = EXCLUDED.computed_at`

// SaveIsochrone upserts one row per band. The stored geometry is the input
// clipped to the land boundary; when that intersection is null or empty the
// raw input is stored verbatim. geometry_unclipped always keeps the raw
// input. Bands are written as independent upserts in cutoff order, so an
// interruption leaves a partial set that GetPending re-queues.
func (s *Store) SaveIsochrone(ctx context.Context, originID int64, key model.CacheKey, bands model.BandSet) error {
	cutoffs := make([]int, 0, len(bands))
	for c := range bands {
		cutoffs = append(cutoffs, c)
	}
	sort.Ints(cutoffs)

	start := time.Now()
	var err error
	defer func() { observe("save_isochrone", start, err) }()

	for _, cutoff := range cutoffs {
		_, err = s.db.ExecContext(ctx, saveBandSQL,
			originID, key.Mode, key.Departure, key.DayType, cutoff, string(bands[cutoff]))
		if err != nil {
			err = fmt.Errorf("save band %d for origin %d: %w", cutoff, originID, err)
			return err
		}
	}
	return nil
}

// bandColumns renders one pivot column per cutoff.
func bandColumns(cutoffs []int) string {
	cols := make([]string, 0, len(cutoffs))
	for _, c := range cutoffs {
		cols = append(cols, fmt.Sprintf(
			"MAX(CASE WHEN b.cutoff_minutes = %d THEN ST_AsGeoJSON(ST_SimplifyPreserveTopology(b.geometry, %g)) END) AS iso_%d",
			c, simplifyTolerance, c))
	}
	return strings.Join(cols, ",\n       ")
}

// NearestWithIsochrone finds the nearest origin having any band under the
// cache key and returns it with its full band set pivoted in one
// round-trip. A nil origin means cache miss.
func (s *Store) NearestWithIsochrone(ctx context.Context, lat, lng float64, key model.CacheKey) (*model.Origin, model.BandSet, error) {
	q := fmt.Sprintf(`
SELECT i.id, i.osm_node_id, i.name, i.lat, i.lng, i.borough, i.sample_group,
       %s
FROM intersections i
JOIN isochrone_bands b
  ON b.origin_id = i.id AND b.mode = $1 AND b.departure_time = $2 AND b.day_type = $3
GROUP BY i.id, i.osm_node_id, i.name, i.lat, i.lng, i.borough, i.sample_group
ORDER BY ST_Distance(i.geom, ST_SetSRID(ST_MakePoint($4, $5), 4326)::geography)
LIMIT 1`, bandColumns(s.cutoffs))

	start := time.Now()
	row := s.db.QueryRowContext(ctx, q, key.Mode, key.Departure, key.DayType, lng, lat)

	var o model.Origin
	bandDest := make([]sql.NullString, len(s.cutoffs))
	dest := []any{&o.ID, &o.OSMNodeID, &o.Name, &o.Lat, &o.Lng, &o.Borough, &o.SampleGroup}
	for i := range bandDest {
		dest = append(dest, &bandDest[i])
	}
	err := row.Scan(dest...)
	observe("nearest_with_isochrone", start, ignoreNoRows(err))
	if err != nil {
		if isNoRows(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("nearest with isochrone: %w", err)
	}

	bands := model.BandSet{}
	for i, c := range s.cutoffs {
		if bandDest[i].Valid {
			bands[c] = json.RawMessage(bandDest[i].String)
		}
	}
	return &o, bands, nil
}

// CachedIsochrone returns the band set for a specific origin, or nil when
// none exists under the cache key.
func (s *Store) CachedIsochrone(ctx context.Context, originID int64, key model.CacheKey) (model.BandSet, error) {
	const q = `
SELECT b.cutoff_minutes,
       ST_AsGeoJSON(ST_SimplifyPreserveTopology(b.geometry, $5))
FROM isochrone_bands b
WHERE b.origin_id = $1 AND b.mode = $2 AND b.departure_time = $3 AND b.day_type = $4
ORDER BY b.cutoff_minutes`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, originID, key.Mode, key.Departure, key.DayType, simplifyTolerance)
	observe("cached_isochrone", start, err)
	if err != nil {
		return nil, fmt.Errorf("cached isochrone: %w", err)
	}
	defer func() { _ = rows.Close() }()

	bands := model.BandSet{}
	for rows.Next() {
		var cutoff int
		var geomJSON string
		if err := rows.Scan(&cutoff, &geomJSON); err != nil {
			return nil, fmt.Errorf("scan band: %w", err)
		}
		bands[cutoff] = json.RawMessage(geomJSON)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bands: %w", err)
	}
	if len(bands) == 0 {
		return nil, nil
	}
	return bands, nil
}

// NearestWithBothModes finds the nearest origin holding bands under BOTH
// compare modes for the given departure and day type, returning both band
// sets keyed by mode. Used by the compare view.
func (s *Store) NearestWithBothModes(ctx context.Context, lat, lng float64, departure string, dayType model.DayType) (*model.Origin, map[model.Mode]model.BandSet, error) {
	const q = `
WITH eligible AS (
    SELECT b.origin_id
    FROM isochrone_bands b
    WHERE b.departure_time = $1 AND b.day_type = $2 AND b.mode IN ($3, $4)
    GROUP BY b.origin_id
    HAVING COUNT(DISTINCT b.mode) = 2
), nearest AS (
    SELECT i.id, i.osm_node_id, i.name, i.lat, i.lng, i.borough, i.sample_group
    FROM intersections i
    JOIN eligible e ON e.origin_id = i.id
    ORDER BY ST_Distance(i.geom, ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography)
    LIMIT 1
)
SELECT n.id, n.osm_node_id, n.name, n.lat, n.lng, n.borough, n.sample_group,
       b.mode, b.cutoff_minutes,
       ST_AsGeoJSON(ST_SimplifyPreserveTopology(b.geometry, $7))
FROM nearest n
JOIN isochrone_bands b ON b.origin_id = n.id
WHERE b.departure_time = $1 AND b.day_type = $2 AND b.mode IN ($3, $4)
ORDER BY b.mode, b.cutoff_minutes`

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q,
		departure, dayType, model.ModeTransit, model.ModeBike, lng, lat, simplifyTolerance)
	observe("nearest_with_both_modes", start, err)
	if err != nil {
		return nil, nil, fmt.Errorf("nearest with both modes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var origin *model.Origin
	byMode := map[model.Mode]model.BandSet{}
	for rows.Next() {
		var o model.Origin
		var mode model.Mode
		var cutoff int
		var geomJSON string
		if err := rows.Scan(&o.ID, &o.OSMNodeID, &o.Name, &o.Lat, &o.Lng, &o.Borough, &o.SampleGroup,
			&mode, &cutoff, &geomJSON); err != nil {
			return nil, nil, fmt.Errorf("scan compare band: %w", err)
		}
		if origin == nil {
			origin = &o
		}
		if byMode[mode] == nil {
			byMode[mode] = model.BandSet{}
		}
		byMode[mode][cutoff] = json.RawMessage(geomJSON)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate compare bands: %w", err)
	}
	if origin == nil {
		return nil, nil, nil
	}
	return origin, byMode, nil
}
