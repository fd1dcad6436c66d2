// Package rescache is the serving-side read-through cache for click
// lookups. Clicks are bucketed to an H3 cell so nearby points share an
// entry; the store is only consulted once per cell thanks to singleflight.
// L1 is an in-process LRU, L2 an optional redis tier shared across
// replicas.
package rescache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	h3 "github.com/uber/h3-go/v4"
	"golang.org/x/sync/singleflight"

	"github.com/transitatlas/isochrone-cache/internal/model"
	"github.com/transitatlas/isochrone-cache/internal/observability"
)

const keyPrefix = "iso:"

type Config struct {
	Size      int
	TTL       time.Duration
	H3Res     int
	RedisAddr string // empty disables the L2 tier
	Logger    *slog.Logger
}

type Cache struct {
	l1     *lru.Cache[string, []byte]
	rdb    *redis.Client
	ttl    time.Duration
	h3Res  int
	logger *slog.Logger
	group  singleflight.Group
}

func New(ctx context.Context, cfg Config) (*Cache, error) {
	size := cfg.Size
	if size <= 0 {
		size = 4096
	}
	l1, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("lru: %w", err)
	}

	h3Res := cfg.H3Res
	if h3Res <= 0 || h3Res > 15 {
		h3Res = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{l1: l1, ttl: cfg.TTL, h3Res: h3Res, logger: logger}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			PoolSize:     64,
			MinIdleConns: 4,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  time.Second,
			WriteTimeout: time.Second,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		c.rdb = rdb
	}
	return c, nil
}

// Key buckets a click to an H3 cell and hashes the full lookup identity.
// The readable cell/mode segments make cache contents greppable; the hash
// suffix guards against any segment ambiguity.
func (c *Cache) Key(lat, lng float64, key model.CacheKey) (string, error) {
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), c.h3Res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	ident := fmt.Sprintf("%s|%s|%s|%s", cell.String(), key.Mode, key.Departure, key.DayType)
	return fmt.Sprintf("%s%s:%s:%016x", keyPrefix, cell.String(), key.Mode, xxhash.Sum64String(ident)), nil
}

// GetOrFill returns the cached payload for key, consulting L1 then L2,
// and falls through to fill on miss. Concurrent misses for one key share a
// single fill. Cache-tier errors degrade to the fill path, never fail the
// request.
func (c *Cache) GetOrFill(ctx context.Context, key string, fill func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.l1.Get(key); ok {
		observability.IncResponseCache("l1", "hit")
		return v, nil
	}
	observability.IncResponseCache("l1", "miss")

	if c.rdb != nil {
		v, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			observability.IncResponseCache("l2", "hit")
			c.l1.Add(key, v)
			return v, nil
		case errors.Is(err, redis.Nil):
			observability.IncResponseCache("l2", "miss")
		default:
			observability.IncResponseCache("l2", "error")
			c.logger.Warn("redis get failed, falling through", "err", err)
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		body, err := fill(ctx)
		if err != nil {
			return nil, err
		}
		c.l1.Add(key, body)
		if c.rdb != nil {
			if err := c.rdb.Set(ctx, key, body, c.ttl).Err(); err != nil {
				c.logger.Warn("redis set failed", "err", err)
			}
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Purge drops every cached response: the whole L1 and all prefixed keys in
// L2. Called when invalidation events land.
func (c *Cache) Purge(ctx context.Context) error {
	c.l1.Purge()
	if c.rdb == nil {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, keyPrefix+"*", 512).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del %d keys: %w", len(keys), err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *Cache) Close() error {
	if c.rdb == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil && !strings.Contains(err.Error(), "closed") {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
