// Package api is the read-only query layer over the isochrone cache.
// Nothing here computes isochrones; every endpoint serves what the batch
// pipeline already persisted.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/transitatlas/isochrone-cache/internal/middleware"
	"github.com/transitatlas/isochrone-cache/internal/model"
	"github.com/transitatlas/isochrone-cache/internal/observability"
)

// Store is the slice of the cache store the query layer reads from.
type Store interface {
	NearestWithIsochrone(ctx context.Context, lat, lng float64, key model.CacheKey) (*model.Origin, model.BandSet, error)
	CachedIsochrone(ctx context.Context, originID int64, key model.CacheKey) (model.BandSet, error)
	NearestWithBothModes(ctx context.Context, lat, lng float64, departure string, dayType model.DayType) (*model.Origin, map[model.Mode]model.BandSet, error)
	IntersectionsInViewport(ctx context.Context, bbox model.BBox, limit int, key model.CacheKey, sampleGroup *int) ([]model.Origin, error)
	StopsInViewport(ctx context.Context, bbox model.BBox, limit int) ([]model.Stop, error)
	StopsNearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]model.Stop, error)
	Stats(ctx context.Context, key model.CacheKey) (*model.Stats, error)
	Ping(ctx context.Context) error
	Cutoffs() []int
}

// ResponseCache is the optional serving-side cache for click lookups.
type ResponseCache interface {
	Key(lat, lng float64, key model.CacheKey) (string, error)
	GetOrFill(ctx context.Context, key string, fill func(context.Context) ([]byte, error)) ([]byte, error)
}

type Server struct {
	addr   string
	logger *slog.Logger
	store  Store
	rc     ResponseCache // nil disables response caching
}

func New(addr string, logger *slog.Logger, store Store, rc ResponseCache) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, logger: logger, store: store, rc: rc}
}

// Routes builds the full HTTP surface, including /metrics.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(s.logger))
	r.Use(middleware.Logging(s.logger))
	r.Use(middleware.CORS())

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/api/click", s.instrument("/api/click", s.handleClick))
	r.Get("/api/isochrone/{id}", s.instrument("/api/isochrone/{id}", s.handleIsochroneByID))
	r.Get("/api/intersections/viewport", s.instrument("/api/intersections/viewport", s.handleIntersectionsViewport))
	r.Get("/api/transit/stops/viewport", s.instrument("/api/transit/stops/viewport", s.handleStopsViewport))
	r.Get("/api/transit/stops/nearby", s.instrument("/api/transit/stops/nearby", s.handleStopsNearby))
	r.Get("/api/modes", s.instrument("/api/modes", s.handleModes))
	r.Get("/api/stats", s.instrument("/api/stats", s.handleStats))
	r.Get("/api/health", s.instrument("/api/health", s.handleHealth))

	return r
}

// Run serves until ctx is cancelled, then drains with a shutdown grace.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listen", "addr", s.addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "err", err)
	}
}
