package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ErrCompanyNotFound is returned when no tenant exists for the requested id.
var ErrCompanyNotFound = errors.New("company not found")

// Source loads the authoritative company document, typically from the
// document store. Implementations must be safe for concurrent use.
type Source interface {
	LoadCompany(ctx context.Context, companyID string) (*Company, error)
}

// InvalidateChannel is the redis pub/sub channel the admin surface publishes
// company ids on after a config update.
const InvalidateChannel = "tenant-config-invalidate"

// defaultTTL bounds staleness for tenants whose invalidation message is lost.
const defaultTTL = 60 * time.Second

// Cache is a redis-backed read-through cache for hot tenant config. Reads
// within the TTL hit redis; misses fall through to the [Source] under a
// singleflight group so concurrent turns for the same tenant issue one load.
//
// Cache is safe for concurrent use.
type Cache struct {
	rdb     *redis.Client
	source  Source
	ttl     time.Duration
	channel string
	group   singleflight.Group
}

// CacheOption configures a [Cache] during construction.
type CacheOption func(*Cache)

// WithTTL overrides the default 60 second cache TTL.
func WithTTL(d time.Duration) CacheOption {
	return func(c *Cache) { c.ttl = d }
}

// WithChannel overrides the invalidation pub/sub channel name.
func WithChannel(name string) CacheOption {
	return func(c *Cache) {
		if name != "" {
			c.channel = name
		}
	}
}

// NewCache creates a Cache over rdb and source. Call [Cache.Subscribe] to
// honour admin-surface invalidations.
func NewCache(rdb *redis.Client, source Source, opts ...CacheOption) *Cache {
	c := &Cache{rdb: rdb, source: source, ttl: defaultTTL, channel: InvalidateChannel}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get returns the company document for companyID, from cache when fresh.
// Redis failures degrade to a direct source load; they never fail the turn.
func (c *Cache) Get(ctx context.Context, companyID string) (*Company, error) {
	if companyID == "" {
		return nil, fmt.Errorf("tenant cache: %w: empty company id", ErrCompanyNotFound)
	}

	key := cacheKey(companyID)
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var company Company
			if jsonErr := json.Unmarshal(raw, &company); jsonErr == nil {
				return &company, nil
			}
			// Corrupt cache entry: drop it and reload.
			_ = c.rdb.Del(ctx, key).Err()
		} else if !errors.Is(err, redis.Nil) {
			slog.Warn("tenant cache: redis get failed, loading from source",
				"company_id", companyID, "err", err)
		}
	}

	v, err, _ := c.group.Do(companyID, func() (any, error) {
		company, err := c.source.LoadCompany(ctx, companyID)
		if err != nil {
			return nil, err
		}
		precomputeVariants(company)
		c.fill(ctx, key, company)
		return company, nil
	})
	if err != nil {
		return nil, fmt.Errorf("tenant cache: load %q: %w", companyID, err)
	}
	return v.(*Company), nil
}

// Invalidate removes the cached document for companyID.
func (c *Cache) Invalidate(ctx context.Context, companyID string) {
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, cacheKey(companyID)).Err(); err != nil {
		slog.Warn("tenant cache: invalidate failed", "company_id", companyID, "err", err)
	}
}

// Subscribe listens on the invalidation channel and evicts published company ids
// until ctx is cancelled. It runs in the calling goroutine; start it with go.
func (c *Cache) Subscribe(ctx context.Context) {
	if c.rdb == nil {
		return
	}
	sub := c.rdb.Subscribe(ctx, c.channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.Invalidate(ctx, msg.Payload)
			slog.Debug("tenant cache: invalidated", "company_id", msg.Payload)
		}
	}
}

// precomputeVariants fills the spelling-variant lookup map when the admin
// surface has not stored one. The quadratic scan runs once per cache fill;
// turns only ever do O(1) lookups against the cached map.
func precomputeVariants(company *Company) {
	nv := &company.FrontDesk.NameVariants
	if !nv.Enabled || len(nv.PrecomputedMap) > 0 {
		return
	}
	nv.PrecomputedMap = PrecomputeVariantMap(*nv, company.FrontDesk.CommonFirstNames)
}

// fill writes the loaded document to redis, best-effort.
func (c *Cache) fill(ctx context.Context, key string, company *Company) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(company)
	if err != nil {
		slog.Warn("tenant cache: marshal for fill failed", "key", key, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		slog.Warn("tenant cache: fill failed", "key", key, "err", err)
	}
}

func cacheKey(companyID string) string {
	return "tenant:config:" + companyID
}
