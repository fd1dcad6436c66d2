package otp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Fleet is the static ordered list of routing-worker base URLs. Ordering is
// load-bearing: the orchestrator assigns origin i to Worker(i) so repeated
// attempts land on the same worker and its routing caches stay warm.
type Fleet struct {
	urls          []string
	health        *http.Client
	healthTimeout time.Duration
}

func NewFleet(urls []string, healthTimeout time.Duration) (*Fleet, error) {
	cleaned := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u != "" {
			cleaned = append(cleaned, u)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("fleet: at least one worker URL is required")
	}
	if healthTimeout <= 0 {
		healthTimeout = 5 * time.Second
	}
	return &Fleet{
		urls:          cleaned,
		health:        &http.Client{Timeout: healthTimeout},
		healthTimeout: healthTimeout,
	}, nil
}

func (f *Fleet) Size() int { return len(f.urls) }

// Worker returns the base URL for index i, wrapping modulo fleet size.
func (f *Fleet) Worker(i int) string {
	if i < 0 {
		i = -i
	}
	return f.urls[i%len(f.urls)]
}

// HealthCheck probes the first worker's root path and reports a single
// boolean for the whole fleet.
func (f *Fleet) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, f.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.urls[0]+"/", nil)
	if err != nil {
		return false
	}
	resp, err := f.health.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

// WaitReady polls the health check until it passes or attempts run out.
// The routing graph takes minutes to load on first start.
func (f *Fleet) WaitReady(ctx context.Context, attempts int, interval time.Duration, logger *slog.Logger) error {
	if attempts <= 0 {
		attempts = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	for i := 1; i <= attempts; i++ {
		if f.HealthCheck(ctx) {
			logger.Info("routing fleet ready", "attempt", i, "workers", len(f.urls))
			return nil
		}
		logger.Info("routing fleet not ready, retrying",
			"attempt", i, "max_attempts", attempts, "interval", interval.String())
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for fleet: %w", ctx.Err())
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("routing fleet not healthy after %d attempts", attempts)
}
