// Command batch drives the isochrone precomputation pipeline.
//
//	batch <command> [mode] [time] [day-type] [parallelism]
//
// Commands: run, status, retry, migrate, help.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/transitatlas/isochrone-cache/internal/batch"
	"github.com/transitatlas/isochrone-cache/internal/config"
	"github.com/transitatlas/isochrone-cache/internal/httpclient"
	"github.com/transitatlas/isochrone-cache/internal/logger"
	"github.com/transitatlas/isochrone-cache/internal/model"
	"github.com/transitatlas/isochrone-cache/internal/observability"
	"github.com/transitatlas/isochrone-cache/internal/otp"
	"github.com/transitatlas/isochrone-cache/internal/store"
)

var Version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := "help"
	if len(args) > 0 {
		cmd = strings.ToLower(strings.TrimSpace(args[0]))
	}
	if cmd == "help" {
		usage()
		return 0
	}

	cfg := config.Load()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "batch",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	observability.ExposeBuildInfo(Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.DB, cfg.Cutoffs, appLog)
	if err != nil {
		appLog.Error("store open failed", "err", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	if cmd == "migrate" {
		if err := st.Migrate(ctx); err != nil {
			appLog.Error("migrations failed", "err", err)
			return 1
		}
		fmt.Println("migrations applied")
		return 0
	}

	key, parallelism, err := parseKeyArgs(args[1:], cfg.Parallelism)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		usage()
		return 1
	}

	switch cmd {
	case "status":
		return status(ctx, st, key)
	case "retry":
		n, err := st.ResetFailed(ctx, key)
		if err != nil {
			appLog.Error("retry failed", "err", err)
			return 1
		}
		fmt.Printf("re-queued %d failed origins for %s\n", n, key)
		return 0
	case "run":
		return runBatches(ctx, cfg, appLog, st, key, parallelism)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		return 1
	}
}

func runBatches(ctx context.Context, cfg config.Config, appLog *slog.Logger, st *store.Store, key model.CacheKey, parallelism int) int {
	fleet, err := otp.NewFleet(cfg.WorkerURLs, cfg.HealthTimeout)
	if err != nil {
		appLog.Error("fleet setup failed", "err", err)
		return 1
	}
	if err := fleet.WaitReady(ctx, cfg.WaitAttempts, cfg.WaitInterval, appLog); err != nil {
		appLog.Error("routing fleet never became healthy", "err", err)
		return 1
	}

	client := otp.NewClient(otp.Config{
		HTTP:     httpclient.NewOutbound(cfg.OTPTimeout, cfg.OTPMaxPerWorker, cfg.OTPMaxIdleConns),
		Logger:   appLog,
		Cutoffs:  cfg.Cutoffs,
		Dates:    cfg.DayTypeDates,
		TZOffset: cfg.TZOffset,
	})

	orch := batch.New(st, client, fleet, appLog, batch.Options{
		BatchSize:    cfg.BatchSize,
		Parallelism:  parallelism,
		StaleHorizon: cfg.StaleHorizon,
		Boroughs:     cfg.PriorityBoroughs,
		Cutoffs:      cfg.Cutoffs,
	})

	if err := orch.RunLoop(ctx, key, cfg.MaxBatches); err != nil {
		appLog.Error("batch run failed", "err", err)
		return 1
	}
	return 0
}

func status(ctx context.Context, st *store.Store, key model.CacheKey) int {
	counts, err := st.StatusCounts(ctx, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status failed:", err)
		return 1
	}
	cached, err := st.CachedCount(ctx, key)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status failed:", err)
		return 1
	}
	total, err := st.TotalOrigins(ctx, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status failed:", err)
		return 1
	}

	fmt.Printf("cache key: %s\n", key)
	fmt.Printf("fully cached: %d/%d\n", cached, total)
	for _, s := range []model.BatchStatus{model.StatusPending, model.StatusProcessing, model.StatusCompleted, model.StatusFailed} {
		fmt.Printf("%-12s %d\n", s, counts[s])
	}
	return 0
}

// parseKeyArgs reads the positional [mode] [time] [day-type] [parallelism]
// arguments, defaulting to transit 10:00:00 weekday and the configured
// parallelism.
func parseKeyArgs(args []string, defaultParallelism int) (model.CacheKey, int, error) {
	key := model.CacheKey{
		Mode:      model.ModeTransit,
		Departure: "10:00:00",
		DayType:   model.DayWeekday,
	}
	parallelism := defaultParallelism

	var err error
	if len(args) > 0 {
		if key.Mode, err = model.ParseMode(args[0]); err != nil {
			return model.CacheKey{}, 0, err
		}
	}
	if len(args) > 1 {
		if key.Departure, err = model.ParseDeparture(args[1]); err != nil {
			return model.CacheKey{}, 0, err
		}
	}
	if len(args) > 2 {
		if key.DayType, err = model.ParseDayType(args[2]); err != nil {
			return model.CacheKey{}, 0, err
		}
	}
	if len(args) > 3 {
		n, err := strconv.Atoi(args[3])
		if err != nil || n <= 0 {
			return model.CacheKey{}, 0, fmt.Errorf("invalid parallelism %q", args[3])
		}
		parallelism = n
	}
	return key, parallelism, nil
}

func usage() {
	fmt.Println(`usage: batch <command> [mode] [time] [day-type] [parallelism]

commands:
  run      precompute isochrones for the given cache key
  status   show queue progress for the given cache key
  retry    re-queue failed origins for the given cache key
  migrate  apply database migrations
  help     show this message

defaults: transit 10:00:00 weekday, parallelism from BATCH_PARALLELISM`)
}
