// Package geo holds the small amount of geometry handling done in-process.
// All clipping and simplification happens inside PostGIS; the pipeline only
// needs to decode worker output, detect empty polygons, and count distinct
// shapes.
package geo

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Decode parses a GeoJSON geometry.
func Decode(raw json.RawMessage) (geom.T, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("empty geometry")
	}
	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}
	return g, nil
}

// IsEmpty reports whether a GeoJSON geometry carries no coordinates. An
// undecodable geometry counts as empty: the worker produced nothing usable.
func IsEmpty(raw json.RawMessage) bool {
	g, err := Decode(raw)
	if err != nil {
		return true
	}
	return len(g.FlatCoords()) == 0
}

// DistinctCount returns how many geometrically distinct shapes appear in
// the given set, comparing canonical re-encodings. Undecodable entries are
// skipped.
func DistinctCount(raws []json.RawMessage) int {
	seen := make(map[string]struct{}, len(raws))
	for _, raw := range raws {
		g, err := Decode(raw)
		if err != nil {
			continue
		}
		canon, err := geojson.Marshal(g)
		if err != nil {
			continue
		}
		seen[string(canon)] = struct{}{}
	}
	return len(seen)
}
