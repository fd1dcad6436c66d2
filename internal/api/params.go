package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

// Query defaults match the batch CLI so a plain click hits the bands the
// default batch run produced.
const (
	defaultMode      = model.ModeTransit
	defaultDeparture = "10:00:00"
	defaultDayType   = model.DayWeekday

	defaultViewportLimit = 500
	defaultNearbyRadius  = 500.0
	defaultNearbyLimit   = 50
)

// modeCompare asks for both transit and bike band sets from one origin.
const modeCompare = "compare"

func parseFloatParam(r *http.Request, name string) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return f, nil
}

func parseLatLng(r *http.Request) (lat, lng float64, err error) {
	lat, err = parseFloatParam(r, "lat")
	if err != nil {
		return 0, 0, err
	}
	lng, err = parseFloatParam(r, "lng")
	if err != nil {
		return 0, 0, err
	}
	if lat < -90 || lat > 90 {
		return 0, 0, errors.New("lat must be in [-90,90]")
	}
	if lng < -180 || lng > 180 {
		return 0, 0, errors.New("lng must be in [-180,180]")
	}
	return lat, lng, nil
}

// parseTimeAndDay reads time/dayType with CLI-aligned defaults.
func parseTimeAndDay(r *http.Request) (string, model.DayType, error) {
	dep, day := defaultDeparture, defaultDayType

	if raw := strings.TrimSpace(r.URL.Query().Get("time")); raw != "" {
		d, err := model.ParseDeparture(raw)
		if err != nil {
			return "", "", err
		}
		dep = d
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("dayType")); raw != "" {
		d, err := model.ParseDayType(raw)
		if err != nil {
			return "", "", err
		}
		day = d
	}
	return dep, day, nil
}

// parseCacheKey reads mode/time/dayType with CLI-aligned defaults.
func parseCacheKey(r *http.Request) (model.CacheKey, error) {
	key := model.CacheKey{Mode: defaultMode}

	if raw := strings.TrimSpace(r.URL.Query().Get("mode")); raw != "" {
		mode, err := model.ParseMode(raw)
		if err != nil {
			return model.CacheKey{}, err
		}
		key.Mode = mode
	}
	dep, day, err := parseTimeAndDay(r)
	if err != nil {
		return model.CacheKey{}, err
	}
	key.Departure, key.DayType = dep, day
	return key, nil
}

func parseViewport(r *http.Request) (model.BBox, error) {
	minLat, err := parseFloatParam(r, "minLat")
	if err != nil {
		return model.BBox{}, err
	}
	maxLat, err := parseFloatParam(r, "maxLat")
	if err != nil {
		return model.BBox{}, err
	}
	minLng, err := parseFloatParam(r, "minLng")
	if err != nil {
		return model.BBox{}, err
	}
	maxLng, err := parseFloatParam(r, "maxLng")
	if err != nil {
		return model.BBox{}, err
	}
	if maxLat <= minLat || maxLng <= minLng {
		return model.BBox{}, errors.New("viewport must satisfy maxLat>minLat and maxLng>minLng")
	}
	return model.BBox{MinLat: minLat, MinLng: minLng, MaxLat: maxLat, MaxLng: maxLng}, nil
}

func parseLimit(r *http.Request, def, max int) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// parseSampleGroup returns nil when the filter is absent or malformed.
func parseSampleGroup(r *http.Request) *int {
	raw := strings.TrimSpace(r.URL.Query().Get("sampleGroup"))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil
	}
	return &n
}
