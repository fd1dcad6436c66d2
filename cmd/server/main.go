// Command server runs the read-only isochrone query API.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/transitatlas/isochrone-cache/internal/api"
	"github.com/transitatlas/isochrone-cache/internal/config"
	"github.com/transitatlas/isochrone-cache/internal/invalidation/kafkaconsumer"
	"github.com/transitatlas/isochrone-cache/internal/logger"
	"github.com/transitatlas/isochrone-cache/internal/observability"
	"github.com/transitatlas/isochrone-cache/internal/rescache"
	"github.com/transitatlas/isochrone-cache/internal/store"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	appLog.Info("starting server", "addr", cfg.Addr, "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DB, cfg.Cutoffs, appLog)
	if err != nil {
		appLog.Error("store open failed", "err", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	if err := st.Migrate(ctx); err != nil {
		appLog.Error("migrations failed", "err", err)
		return 1
	}

	if bb, ok, err := st.DataBounds(ctx); err != nil {
		appLog.Warn("data bounds unavailable", "err", err)
	} else if ok {
		appLog.Info("data coverage", "bbox", bb.String())
	}

	var (
		rc    api.ResponseCache
		cache *rescache.Cache
	)
	if cfg.ResCacheSize > 0 {
		cache, err = rescache.New(ctx, rescache.Config{
			Size:      cfg.ResCacheSize,
			TTL:       cfg.ResCacheTTL,
			H3Res:     cfg.ResCacheH3Res,
			RedisAddr: cfg.RedisAddr,
			Logger:    appLog,
		})
		if err != nil && cfg.RedisAddr != "" {
			// redis down is not fatal, fall back to the in-process tier
			appLog.Warn("redis unavailable, running L1-only response cache", "err", err)
			cache, err = rescache.New(ctx, rescache.Config{
				Size:   cfg.ResCacheSize,
				TTL:    cfg.ResCacheTTL,
				H3Res:  cfg.ResCacheH3Res,
				Logger: appLog,
			})
		}
		if err != nil {
			appLog.Error("response cache init failed", "err", err)
			return 1
		}
		defer func() { _ = cache.Close() }()
		rc = cache
	}

	if cfg.Invalidation.Enabled {
		var purger kafkaconsumer.Purger
		if cache != nil {
			purger = cache
		}
		consumer := kafkaconsumer.New(kafkaconsumer.Config{
			Brokers: cfg.Invalidation.Brokers,
			Topic:   cfg.Invalidation.Topic,
			GroupID: cfg.Invalidation.GroupID,
		}, appLog, st, purger)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	srv := api.New(cfg.Addr, appLog, st, rc)
	if err := srv.Run(ctx); err != nil {
		appLog.Error("server error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
