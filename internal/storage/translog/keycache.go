package translog

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/envelope"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/storage/keyfile"
	"github.com/yndnr/cloudlock-go/internal/telemetry/logger"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

// Key cache defaults.
const (
	DefaultCacheCapacity = 1000
	DefaultCacheTTL      = 60 * time.Minute
)

// KeySource supplies the master key hierarchy.
type KeySource interface {
	Hierarchy() (*kek.Hierarchy, error)
}

// KeyCache holds the OneShotAead key of each shard. Entries expire after a
// period without access. Concurrent misses for one shard resolve the key
// file once.
type KeyCache struct {
	keys    KeySource
	cache   *ttlcache.Cache[string, adaptive.Cipher]
	group   singleflight.Group
	metrics *metric.Registry
}

// CacheOption configures a KeyCache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	capacity uint64
	ttl      time.Duration
	metrics  *metric.Registry
}

// WithCapacity bounds the number of cached shard keys.
func WithCapacity(n uint64) CacheOption {
	return func(o *cacheOptions) { o.capacity = n }
}

// WithTTL sets the idle expiry of a cached key.
func WithTTL(d time.Duration) CacheOption {
	return func(o *cacheOptions) { o.ttl = d }
}

// WithCacheMetrics records hits and misses.
func WithCacheMetrics(m *metric.Registry) CacheOption {
	return func(o *cacheOptions) { o.metrics = m }
}

// NewKeyCache creates a cache and starts its expiry loop. Call Close to stop it.
func NewKeyCache(keys KeySource, opts ...CacheOption) *KeyCache {
	o := cacheOptions{capacity: DefaultCacheCapacity, ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&o)
	}
	c := &KeyCache{
		keys: keys,
		cache: ttlcache.New[string, adaptive.Cipher](
			ttlcache.WithTTL[string, adaptive.Cipher](o.ttl),
			ttlcache.WithCapacity[string, adaptive.Cipher](o.capacity),
		),
		metrics: o.metrics,
	}
	go c.cache.Start()
	return c
}

// KeyPath returns the key file of a shard whose log lives in dir.
func KeyPath(dir string) string {
	return filepath.Join(dir, keyfile.TranslogKeyName)
}

// Get returns the shard key, loading or minting the key file in dir on a miss.
func (c *KeyCache) Get(ctx context.Context, shard domain.ShardID, dir string) (adaptive.Cipher, error) {
	id := shard.String()
	if item := c.cache.Get(id); item != nil {
		c.metrics.TranslogCache(true)
		return item.Value(), nil
	}
	c.metrics.TranslogCache(false)

	v, err, _ := c.group.Do(id, func() (any, error) {
		if item := c.cache.Get(id); item != nil {
			return item.Value(), nil
		}
		h, err := c.keys.Hierarchy()
		if err != nil {
			return nil, err
		}
		key, created, err := keyfile.Resolve(ctx, KeyPath(dir), h, envelope.ModeOneShotAead)
		if err != nil {
			return nil, fmt.Errorf("translog: shard %s key: %w", id, err)
		}
		aead, err := key.AEAD()
		if err != nil {
			return nil, err
		}
		if created {
			logger.L(ctx).Info("created shard key", "component", "translog", "shard", id)
		}
		c.cache.Set(id, aead, ttlcache.DefaultTTL)
		return aead, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(adaptive.Cipher), nil
}

// Invalidate drops the cached key of a shard.
func (c *KeyCache) Invalidate(shard domain.ShardID) {
	c.cache.Delete(shard.String())
}

// Len returns the number of cached keys.
func (c *KeyCache) Len() int { return c.cache.Len() }

// Close stops the expiry loop and drops all keys.
func (c *KeyCache) Close() {
	c.cache.Stop()
	c.cache.DeleteAll()
}
