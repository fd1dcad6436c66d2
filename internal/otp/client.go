// Package otp speaks the routing workers' isochrone wire protocol.
package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/transitatlas/isochrone-cache/internal/geo"
	"github.com/transitatlas/isochrone-cache/internal/model"
	"github.com/transitatlas/isochrone-cache/internal/observability"
)

const isochronePath = "/otp/traveltime/isochrone"

// Client is a stateless wrapper over a single routing-worker endpoint per
// call. It does not retry; retry policy belongs to the orchestrator.
type Client struct {
	http     *http.Client
	logger   *slog.Logger
	cutoffs  []int
	dates    map[model.DayType]string
	tzOffset string
}

type Config struct {
	HTTP     *http.Client
	Logger   *slog.Logger
	Cutoffs  []int
	Dates    map[model.DayType]string
	TZOffset string
}

func NewClient(cfg Config) *Client {
	cutoffs := cfg.Cutoffs
	if len(cutoffs) == 0 {
		cutoffs = model.DefaultCutoffs()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:     cfg.HTTP,
		logger:   logger,
		cutoffs:  cutoffs,
		dates:    cfg.Dates,
		tzOffset: cfg.TZOffset,
	}
}

// Request identifies one isochrone computation against one worker.
type Request struct {
	Lat, Lng  float64
	Key       model.CacheKey
	WorkerURL string
}

// ComputeIsochrones issues a single multi-cutoff request first. Some workers
// have a defect where the SPT projection collapses to one shape across all
// cutoffs; when fewer than two distinct geometries come back the client
// falls back to one request per cutoff in parallel, tolerating individual
// failures. The merged result holds only the cutoffs that succeeded.
func (c *Client) ComputeIsochrones(ctx context.Context, req Request) (model.BandSet, error) {
	start := time.Now()
	bands, err := c.fetch(ctx, req, c.cutoffs)
	observability.ObserveRoutingRequest("multi", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("worker %s: %s", req.WorkerURL, err)
	}

	if len(c.cutoffs) > 1 && distinctBands(bands) < 2 {
		c.logger.Warn("multi-cutoff response collapsed, falling back to per-cutoff requests",
			"worker", req.WorkerURL, "cutoffs", len(c.cutoffs), "distinct", distinctBands(bands))
		return c.fetchPerCutoff(ctx, req)
	}
	return bands, nil
}

// one goroutine per cutoff; failed cutoffs are dropped, not fatal
func (c *Client) fetchPerCutoff(ctx context.Context, req Request) (model.BandSet, error) {
	var mu sync.Mutex
	merged := model.BandSet{}
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, cutoff := range c.cutoffs {
		cutoff := cutoff
		g.Go(func() error {
			start := time.Now()
			bands, err := c.fetch(gctx, req, []int{cutoff})
			observability.ObserveRoutingRequest("single", err, time.Since(start).Seconds())

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				c.logger.Warn("per-cutoff request failed",
					"worker", req.WorkerURL, "cutoff", cutoff, "err", err.Error())
				return nil
			}
			for k, v := range bands {
				merged[k] = v
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(merged) == 0 {
		return nil, fmt.Errorf("worker %s: all %d per-cutoff requests failed", req.WorkerURL, failures)
	}
	if failures > 0 {
		c.logger.Warn("per-cutoff fallback returned a partial band set",
			"worker", req.WorkerURL, "failed", failures, "got", len(merged))
	}
	return merged, nil
}

func (c *Client) fetch(ctx context.Context, req Request, cutoffs []int) (model.BandSet, error) {
	u, err := c.buildURL(req, cutoffs)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("status=%d body=%q", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return parseFeatureCollection(body)
}

func (c *Client) buildURL(req Request, cutoffs []int) (string, error) {
	date, ok := c.dates[req.Key.DayType]
	if !ok {
		return "", fmt.Errorf("no calendar date configured for day type %q", req.Key.DayType)
	}

	q := url.Values{}
	q.Set("batch", "true")
	q.Set("location", fmt.Sprintf("%f,%f", req.Lat, req.Lng))
	q.Set("time", fmt.Sprintf("%sT%s%s", date, req.Key.Departure, c.tzOffset))
	for _, cutoff := range cutoffs {
		q.Add("cutoff", fmt.Sprintf("PT%dM", cutoff))
	}
	if err := addModeParams(q, req.Key.Mode); err != nil {
		return "", err
	}

	return strings.TrimRight(req.WorkerURL, "/") + isochronePath + "?" + q.Encode(), nil
}

// translate mode into the worker's parameter vocabulary
func addModeParams(q url.Values, mode model.Mode) error {
	switch mode {
	case model.ModeTransit:
		q.Set("modes", "TRANSIT,WALK")
	case model.ModeTransitBike:
		q.Set("modes", "TRANSIT")
		q.Set("accessModes", "BIKE")
		q.Set("egressModes", "BIKE")
	case model.ModeBike:
		q.Set("modes", "BIKE")
	case model.ModeWalk:
		q.Set("modes", "WALK")
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
	return nil
}

type feature struct {
	Geometry   json.RawMessage `json:"geometry"`
	Properties struct {
		Time string `json:"time"`
	} `json:"properties"`
}

type featureCollection struct {
	Features []feature `json:"features"`
}

// parseFeatureCollection merges features into cutoff-minute keys. The
// worker reports properties.time as a decimal string of seconds.
func parseFeatureCollection(body []byte) (model.BandSet, error) {
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("empty feature collection")
	}

	bands := model.BandSet{}
	for _, f := range fc.Features {
		secs, err := strconv.Atoi(strings.TrimSpace(f.Properties.Time))
		if err != nil {
			return nil, fmt.Errorf("malformed feature properties: time=%q", f.Properties.Time)
		}
		bands[secs/60] = f.Geometry
	}
	return bands, nil
}

func distinctBands(bands model.BandSet) int {
	geoms := make([]json.RawMessage, 0, len(bands))
	for _, g := range bands {
		geoms = append(geoms, g)
	}
	return geo.DistinctCount(geoms)
}
