package odds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultMatchesTTL = 30 * time.Second
	defaultCycleTTL   = 5 * time.Second
)

// Cache is a read-through redis cache in front of another Source.
// Redis failures never fail a read; the wrapped source answers instead.
type Cache struct {
	src        Source
	rdb        redis.Cmdable
	matchesTTL time.Duration
	cycleTTL   time.Duration
	prefix     string
	log        *zap.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithTTL sets the expiry of cached match lists and of the current cycle id.
func WithTTL(matches, cycle time.Duration) CacheOption {
	return func(c *Cache) {
		c.matchesTTL = matches
		c.cycleTTL = cycle
	}
}

// WithKeyPrefix sets the redis key prefix.
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(log *zap.Logger) CacheOption {
	return func(c *Cache) {
		c.log = log
	}
}

// NewCache wraps src with a redis cache.
func NewCache(src Source, rdb redis.Cmdable, opts ...CacheOption) *Cache {
	c := &Cache{
		src:        src,
		rdb:        rdb,
		matchesTTL: defaultMatchesTTL,
		cycleTTL:   defaultCycleTTL,
		prefix:     "oddyssey",
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) cycleKey() string { return c.prefix + ":cycle:current" }

func (c *Cache) matchesKey(cycle CycleID) string {
	return fmt.Sprintf("%s:matches:%d", c.prefix, cycle)
}

// CurrentCycleID implements Source.
func (c *Cache) CurrentCycleID(ctx context.Context) (CycleID, error) {
	raw, err := c.rdb.Get(ctx, c.cycleKey()).Result()
	if err == nil {
		if v, perr := strconv.ParseUint(raw, 10, 64); perr == nil {
			return CycleID(v), nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("cycle cache read failed", zap.Error(err))
	}

	cycle, err := c.src.CurrentCycleID(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.rdb.Set(ctx, c.cycleKey(), strconv.FormatUint(uint64(cycle), 10), c.cycleTTL).Err(); err != nil {
		c.log.Warn("cycle cache write failed", zap.Error(err))
	}
	return cycle, nil
}

// CycleMatches implements Source.
func (c *Cache) CycleMatches(ctx context.Context, cycle CycleID) ([]Match, error) {
	key := c.matchesKey(cycle)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var matches []Match
		if jerr := json.Unmarshal(raw, &matches); jerr == nil {
			return matches, nil
		}
		c.log.Warn("dropping undecodable cache entry", zap.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("matches cache read failed", zap.String("key", key), zap.Error(err))
	}

	matches, err := c.src.CycleMatches(ctx, cycle)
	if err != nil {
		return nil, err
	}
	b, err := json.Marshal(matches)
	if err != nil {
		return matches, nil
	}
	if err := c.rdb.Set(ctx, key, b, c.matchesTTL).Err(); err != nil {
		c.log.Warn("matches cache write failed", zap.String("key", key), zap.Error(err))
	}
	return matches, nil
}

// Invalidate drops the cached entries of a cycle and the current cycle id.
func (c *Cache) Invalidate(ctx context.Context, cycle CycleID) error {
	return c.rdb.Del(ctx, c.cycleKey(), c.matchesKey(cycle)).Err()
}
