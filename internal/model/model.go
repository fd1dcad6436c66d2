// Package model defines core domain types shared across the service.
package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Mode is a travel mode the routing fleet can compute isochrones for.
type Mode string

const (
	ModeTransit     Mode = "transit"
	ModeTransitBike Mode = "transit-bike"
	ModeBike        Mode = "bike"
	ModeWalk        Mode = "walk"
)

func Modes() []Mode {
	return []Mode{ModeTransit, ModeTransitBike, ModeBike, ModeWalk}
}

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTransit:
		return ModeTransit, nil
	case ModeTransitBike, "transit+bike":
		return ModeTransitBike, nil
	case ModeBike:
		return ModeBike, nil
	case ModeWalk:
		return ModeWalk, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// DayType selects one calendar-date class inside the routing graph's
// validity window.
type DayType string

const (
	DayWeekday  DayType = "weekday"
	DaySaturday DayType = "saturday"
	DaySunday   DayType = "sunday"
)

func DayTypes() []DayType {
	return []DayType{DayWeekday, DaySaturday, DaySunday}
}

func ParseDayType(s string) (DayType, error) {
	switch DayType(strings.ToLower(strings.TrimSpace(s))) {
	case DayWeekday:
		return DayWeekday, nil
	case DaySaturday:
		return DaySaturday, nil
	case DaySunday:
		return DaySunday, nil
	default:
		return "", fmt.Errorf("unknown day type %q", s)
	}
}

var departureRe = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]:[0-5][0-9]$`)

// ParseDeparture validates an HH:MM:SS time-of-day string.
func ParseDeparture(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !departureRe.MatchString(s) {
		return "", fmt.Errorf("departure time must be HH:MM:SS, got %q", s)
	}
	return s, nil
}

// CacheKey is the non-origin identity of a computation request. Together
// with an origin id it addresses one full band set.
type CacheKey struct {
	Mode      Mode
	Departure string // HH:MM:SS
	DayType   DayType
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s@%s/%s", k.Mode, k.Departure, k.DayType)
}

// DefaultCutoffs is the canonical cutoff set in minutes. A fully cached
// origin has exactly one band row per cutoff.
func DefaultCutoffs() []int {
	return []int{15, 30, 45, 60, 90, 120, 150, 180}
}

// MaxCutoff returns the largest cutoff, whose band must be non-empty for a
// computation to count as successful.
func MaxCutoff(cutoffs []int) int {
	maxC := 0
	for _, c := range cutoffs {
		if c > maxC {
			maxC = c
		}
	}
	return maxC
}

// BandSet maps cutoff minutes to a GeoJSON geometry.
type BandSet map[int]json.RawMessage

// Origin is one street intersection; immutable after ingest.
type Origin struct {
	ID          int64   `db:"id" json:"id"`
	OSMNodeID   int64   `db:"osm_node_id" json:"osm_node_id"`
	Name        string  `db:"name" json:"name"`
	Lat         float64 `db:"lat" json:"lat"`
	Lng         float64 `db:"lng" json:"lng"`
	Borough     string  `db:"borough" json:"borough"`
	SampleGroup int     `db:"sample_group" json:"sample_group"`
	IsComputed  bool    `db:"is_computed" json:"is_computed"`
}

// Stop is a transit stop served raw by the query layer.
type Stop struct {
	ID         int64   `db:"id" json:"id"`
	GTFSStopID string  `db:"gtfs_stop_id" json:"gtfs_stop_id"`
	Name       string  `db:"stop_name" json:"stop_name"`
	Lat        float64 `db:"lat" json:"lat"`
	Lng        float64 `db:"lng" json:"lng"`
	StopType   string  `db:"stop_type" json:"stop_type"`
	Agency     string  `db:"agency" json:"agency"`
}

// BatchStatus is the per-(origin, cache key) state machine value.
type BatchStatus string

const (
	StatusPending    BatchStatus = "pending"
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
	StatusFailed     BatchStatus = "failed"
)

// ErrEmptyIsochrone is the recorded failure reason when the largest band
// comes back with no reachable area (truncated search).
const ErrEmptyIsochrone = "Empty isochrone - no reachable area"

// PriorityBoroughs is the default region ordering for batch selection,
// densest and most queried first.
func PriorityBoroughs() []string {
	return []string{"Manhattan", "Brooklyn", "Queens", "Bronx", "Staten Island"}
}

// ModeStats summarises band rows for one mode.
type ModeStats struct {
	Mode   Mode       `json:"mode"`
	Bands  int64      `json:"bands"`
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}

// Stats is the /api/stats payload.
type Stats struct {
	Intersections int64               `json:"intersections"`
	ByMode        []ModeStats         `json:"by_mode"`
	ByStatus      map[BatchStatus]int `json:"by_status"`
}

// BBox is a lat/lng bounding box (EPSG:4326).
type BBox struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", b.MinLng, b.MinLat, b.MaxLng, b.MaxLat)
}
