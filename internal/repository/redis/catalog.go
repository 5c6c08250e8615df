// Package redis caches descriptor lookups in front of a slower catalog.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"charasync/internal/domain"
	"charasync/internal/domain/ports"
	"charasync/internal/metrics"
)

const redisCachePrefix = "charasync:descriptor:"

const DefaultTTL = 24 * time.Hour

// CachedCatalog is a read-through cache. Cache failures degrade to the
// backing catalog; a nil backing catalog makes Redis the only store.
type CachedCatalog struct {
	client  *redis.Client
	backing ports.DescriptorCatalog
	ttl     time.Duration
	logger  *slog.Logger
}

func NewCachedCatalog(client *redis.Client, backing ports.DescriptorCatalog, ttl time.Duration, logger *slog.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedCatalog{client: client, backing: backing, ttl: ttl, logger: logger}
}

func (c *CachedCatalog) Get(ctx context.Context, hash domain.ContentHash) (domain.SwarmDescriptor, bool, error) {
	desc, ok, err := c.getCached(ctx, hash)
	if err != nil {
		c.logger.Warn("descriptor cache read failed", slog.String("hash", hash.Short()), slog.String("error", err.Error()))
	}
	if ok {
		metrics.CatalogLookupsTotal.WithLabelValues("redis", "hit").Inc()
		return desc, true, nil
	}
	metrics.CatalogLookupsTotal.WithLabelValues("redis", "miss").Inc()
	if c.backing == nil {
		return domain.SwarmDescriptor{}, false, nil
	}

	desc, ok, err = c.backing.Get(ctx, hash)
	if err != nil || !ok {
		return desc, ok, err
	}
	if err := c.setCached(ctx, desc); err != nil {
		c.logger.Warn("descriptor cache write failed", slog.String("hash", hash.Short()), slog.String("error", err.Error()))
	}
	return desc, true, nil
}

// Put writes through to the backing catalog first.
func (c *CachedCatalog) Put(ctx context.Context, desc domain.SwarmDescriptor) error {
	if c.backing != nil {
		if err := c.backing.Put(ctx, desc); err != nil {
			return err
		}
	}
	err := c.setCached(ctx, desc)
	if err != nil && c.backing != nil {
		c.logger.Warn("descriptor cache write failed", slog.String("hash", desc.Hash.Short()), slog.String("error", err.Error()))
		return nil
	}
	return err
}

// Ping checks Redis and, when it can be pinged, the backing catalog.
func (c *CachedCatalog) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if p, ok := c.backing.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *CachedCatalog) invalidate(ctx context.Context, hash domain.ContentHash) {
	if err := c.client.Del(ctx, redisCachePrefix+hash.String()).Err(); err != nil {
		c.logger.Warn("descriptor cache invalidate failed", slog.String("hash", hash.Short()), slog.String("error", err.Error()))
	}
}

func (c *CachedCatalog) getCached(ctx context.Context, hash domain.ContentHash) (domain.SwarmDescriptor, bool, error) {
	data, err := c.client.Get(ctx, redisCachePrefix+hash.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SwarmDescriptor{}, false, nil
		}
		return domain.SwarmDescriptor{}, false, err
	}
	// Corrupt or foreign entries are dropped so the next read refills them.
	var desc domain.SwarmDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		c.invalidate(ctx, hash)
		return domain.SwarmDescriptor{}, false, err
	}
	if desc.Hash != hash {
		c.invalidate(ctx, hash)
		return domain.SwarmDescriptor{}, false, nil
	}
	return desc, true, nil
}

func (c *CachedCatalog) setCached(ctx context.Context, desc domain.SwarmDescriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisCachePrefix+desc.Hash.String(), data, c.ttl).Err()
}

var _ ports.DescriptorCatalog = (*CachedCatalog)(nil)
