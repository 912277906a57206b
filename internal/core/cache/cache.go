// Package cache provides a Redis read-through cache in front of a
// ports.Catalog.
//
// Rule sets and collection indexes change rarely and are read on every
// checkout evaluation. Entries expire after a TTL; imports call Invalidate so
// the next read sees the new data. Concurrent misses for the same shop share
// one backing load. Redis errors never fail a read: the cache degrades to
// the backing catalog and logs a warning.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/solatis/autogift/internal/ports"
	"github.com/solatis/autogift/internal/types"
)

const (
	keyPrefix = "autogift:"

	defaultLoadTimeout = 10 * time.Second
)

// RedisClient is the subset of *redis.Client used by the cache.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Catalog caches a backing ports.Catalog in Redis.
type Catalog struct {
	client      RedisClient
	backing     ports.Catalog
	ttl         time.Duration
	loadTimeout time.Duration
	logger      *slog.Logger
	group       singleflight.Group
}

var _ ports.Catalog = (*Catalog)(nil)

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger for degraded-mode warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoadTimeout bounds a shared backing load. The load runs detached from
// any single caller's context, so this is its only deadline.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Catalog) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// New creates a caching catalog. ttl must be positive.
func New(client RedisClient, backing ports.Catalog, ttl time.Duration, opts ...Option) *Catalog {
	c := &Catalog{
		client:      client,
		backing:     backing,
		ttl:         ttl,
		loadTimeout: defaultLoadTimeout,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// NewRedisClient connects to redisURL (redis://host:port/db). A non-empty
// password overrides any password in the URL.
func NewRedisClient(ctx context.Context, redisURL, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func rulesKey(shopID string) string { return keyPrefix + "rules:" + shopID }
func indexKey(shopID string) string { return keyPrefix + "index:" + shopID }

// Rules implements ports.Catalog.
func (c *Catalog) Rules(ctx context.Context, shopID string) ([]types.Rule, error) {
	var out []types.Rule
	err := c.readThrough(ctx, rulesKey(shopID), &out, func(ctx context.Context) (any, error) {
		return c.backing.Rules(ctx, shopID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Index implements ports.Catalog.
func (c *Catalog) Index(ctx context.Context, shopID string) (*types.CollectionIndex, error) {
	out := types.NewCollectionIndex(nil)
	err := c.readThrough(ctx, indexKey(shopID), out, func(ctx context.Context) (any, error) {
		return c.backing.Index(ctx, shopID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Invalidate drops cached entries for shopID.
func (c *Catalog) Invalidate(ctx context.Context, shopID string) error {
	if err := c.client.Del(ctx, rulesKey(shopID), indexKey(shopID)).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", shopID, err)
	}
	return nil
}

// readThrough decodes key into dest, loading and storing it on a miss.
//
// Concurrent misses share one load. The load keeps the first caller's values
// but not its cancellation; each caller waits only as long as its own ctx.
func (c *Catalog) readThrough(ctx context.Context, key string, dest any, load func(context.Context) (any, error)) error {
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		jsonErr := json.Unmarshal(data, dest)
		if jsonErr == nil {
			return nil
		}
		c.logger.Warn("discarding undecodable cache entry", "key", key, "error", jsonErr)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("cache read failed, using backing store", "key", key, "error", err)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		value, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if err := c.client.Set(loadCtx, key, encoded, c.ttl).Err(); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
		return encoded, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}
