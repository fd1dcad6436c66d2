// Package kafkaconsumer consumes graph-rebuild invalidation events and
// re-queues the affected origins for recomputation.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/transitatlas/isochrone-cache/internal/invalidation"
	"github.com/transitatlas/isochrone-cache/internal/model"
	"github.com/transitatlas/isochrone-cache/internal/observability"
)

type Resetter interface {
	ResetForRecompute(ctx context.Context, key model.CacheKey, originIDs []int64, boroughs []string) (int64, error)
}

type Purger interface {
	Purge(ctx context.Context) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	store  Resetter
	cache  Purger // nil when the response cache is disabled
}

func New(cfg Config, logger *slog.Logger, store Resetter, cache Purger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg.withDefaults(), logger: logger, store: store, cache: cache}
}

// Start joins the consumer group and processes events until ctx ends.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil {
		return errors.New("kafkaconsumer: missing store dependency")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{consumer: c, logger: c.logger}

	c.logger.Info("invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne handles a single invalidation event: re-queue the matching
// origins, then drop the serving-side response cache so stale bands stop
// being served.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncInvalidationEvent("decode_error")
		return fmt.Errorf("%w: json decode: %v", errDropEvent, err)
	}

	key, err := ev.CacheKey()
	if err != nil {
		observability.IncInvalidationEvent("rejected")
		return fmt.Errorf("%w: event key: %v", errDropEvent, err)
	}

	n, err := c.store.ResetForRecompute(ctx, key, ev.OriginIDs, ev.Boroughs)
	if err != nil {
		observability.IncInvalidationEvent("reset_error")
		return fmt.Errorf("reset for recompute: %w", err)
	}

	if c.cache != nil {
		if err := c.cache.Purge(ctx); err != nil {
			observability.IncInvalidationEvent("purge_error")
			return fmt.Errorf("purge response cache: %w", err)
		}
	}

	observability.IncInvalidationEvent("ok")
	c.logger.Info("invalidation processed",
		"key", key.String(), "origins_reset", n,
		"origin_ids", len(ev.OriginIDs), "boroughs", len(ev.Boroughs))
	return nil
}
