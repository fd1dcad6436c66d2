package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/transitatlas/isochrone-cache/internal/model"
)

// errNoCacheHit keeps misses out of the response cache.
var errNoCacheHit = errors.New("no cached isochrone for this location")

// bandsPayload keys each band as isochrone_<cutoff>m for the map frontend.
func bandsPayload(bands model.BandSet) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(bands))
	for cutoff, geom := range bands {
		out[fmt.Sprintf("isochrone_%dm", cutoff)] = geom
	}
	return out
}

type clickResponse struct {
	Intersection *model.Origin              `json:"intersection"`
	Isochrone    map[string]json.RawMessage `json:"isochrone"`
	Source       string                     `json:"source"`
}

type compareResponse struct {
	Intersection *model.Origin                         `json:"intersection"`
	Isochrone    map[string]map[string]json.RawMessage `json:"isochrone"`
	Source       string                                `json:"source"`
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := parseLatLng(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("mode")), modeCompare) {
		s.handleCompare(w, r, lat, lng)
		return
	}

	key, err := parseCacheKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fill := func(ctx context.Context) ([]byte, error) {
		origin, bands, err := s.store.NearestWithIsochrone(ctx, lat, lng, key)
		if err != nil {
			return nil, err
		}
		if origin == nil || len(bands) == 0 {
			return nil, errNoCacheHit
		}
		return json.Marshal(clickResponse{
			Intersection: origin,
			Isochrone:    bandsPayload(bands),
			Source:       "cache",
		})
	}

	s.serveCached(w, r, lat, lng, key, fill)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request, lat, lng float64) {
	dep, day, err := parseTimeAndDay(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fill := func(ctx context.Context) ([]byte, error) {
		origin, byMode, err := s.store.NearestWithBothModes(ctx, lat, lng, dep, day)
		if err != nil {
			return nil, err
		}
		if origin == nil || len(byMode) == 0 {
			return nil, errNoCacheHit
		}
		iso := make(map[string]map[string]json.RawMessage, len(byMode))
		for mode, bands := range byMode {
			iso[string(mode)] = bandsPayload(bands)
		}
		return json.Marshal(compareResponse{
			Intersection: origin,
			Isochrone:    iso,
			Source:       "cache",
		})
	}

	// compare spans two modes, so the cache key carries the pseudo-mode
	cacheKey := model.CacheKey{Mode: model.Mode(modeCompare), Departure: dep, DayType: day}
	s.serveCached(w, r, lat, lng, cacheKey, fill)
}

// serveCached runs fill through the response cache when one is configured,
// otherwise straight against the store. Misses are never cached.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, lat, lng float64, key model.CacheKey, fill func(context.Context) ([]byte, error)) {
	var (
		body []byte
		err  error
	)
	if s.rc != nil {
		if ck, kerr := s.rc.Key(lat, lng, key); kerr == nil {
			body, err = s.rc.GetOrFill(r.Context(), ck, fill)
		} else {
			s.logger.Warn("response cache key failed, bypassing", "err", kerr)
			body, err = fill(r.Context())
		}
	} else {
		body, err = fill(r.Context())
	}

	switch {
	case errors.Is(err, errNoCacheHit):
		http.Error(w, err.Error(), http.StatusNotFound)
	case err != nil:
		s.logger.Error("click lookup failed", "err", err, "key", key.String())
		http.Error(w, "internal server error", http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

type isochroneResponse struct {
	Isochrone map[string]json.RawMessage `json:"isochrone"`
	Source    string                     `json:"source"`
}

func (s *Server) handleIsochroneByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid intersection id", http.StatusBadRequest)
		return
	}
	key, err := parseCacheKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bands, err := s.store.CachedIsochrone(r.Context(), id, key)
	if err != nil {
		s.logger.Error("isochrone lookup failed", "err", err, "origin_id", id)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if len(bands) == 0 {
		http.Error(w, "no cached isochrone for this intersection", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, isochroneResponse{Isochrone: bandsPayload(bands), Source: "cache"})
}

func (s *Server) handleIntersectionsViewport(w http.ResponseWriter, r *http.Request) {
	bbox, err := parseViewport(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key, err := parseCacheKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := parseLimit(r, defaultViewportLimit, 5000)

	origins, err := s.store.IntersectionsInViewport(r.Context(), bbox, limit, key, parseSampleGroup(r))
	if err != nil {
		s.logger.Error("viewport lookup failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"intersections": origins,
		"count":         len(origins),
	})
}

func (s *Server) handleStopsViewport(w http.ResponseWriter, r *http.Request) {
	bbox, err := parseViewport(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := parseLimit(r, defaultViewportLimit, 5000)

	stops, err := s.store.StopsInViewport(r.Context(), bbox, limit)
	if err != nil {
		s.logger.Error("stops viewport lookup failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stops": stops, "count": len(stops)})
}

func (s *Server) handleStopsNearby(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := parseLatLng(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	radius := defaultNearbyRadius
	if raw := strings.TrimSpace(r.URL.Query().Get("radius")); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0 {
			http.Error(w, fmt.Sprintf("invalid radius: %q", raw), http.StatusBadRequest)
			return
		}
		radius = f
	}
	limit := parseLimit(r, defaultNearbyLimit, 500)

	stops, err := s.store.StopsNearby(r.Context(), lat, lng, radius, limit)
	if err != nil {
		s.logger.Error("stops nearby lookup failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stops": stops, "count": len(stops)})
}

func (s *Server) handleModes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"modes":     model.Modes(),
		"day_types": model.DayTypes(),
		"cutoffs":   s.store.Cutoffs(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	key, err := parseCacheKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	stats, err := s.store.Stats(r.Context(), key)
	if err != nil {
		s.logger.Error("stats lookup failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
