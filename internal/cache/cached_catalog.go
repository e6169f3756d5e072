package cache

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
	"github.com/prajwalbharadwajbm/bidbeacon/internal/repository"
)

// CachedCatalog wraps a product store with read-through caching
type CachedCatalog struct {
	store  repository.ProductStore
	cache  Cache
	ttl    time.Duration
	logger log.Logger
}

// NewCachedCatalog creates a new cached catalog
func NewCachedCatalog(store repository.ProductStore, cache Cache, ttl time.Duration, logger log.Logger) *CachedCatalog {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &CachedCatalog{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: log.With(logger, "component", "catalog_cache"),
	}
}

// GetProductQualities serves cached entries and loads the rest from the
// store in one query. A cache failure falls through to the store.
func (c *CachedCatalog) GetProductQualities(ctx context.Context, productIDs []string) (map[string]models.ProductQuality, error) {
	out := make(map[string]models.ProductQuality, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}

	cached, err := c.cache.GetProducts(ctx, productIDs)
	if err != nil {
		level.Warn(c.logger).Log("msg", "product cache read failed", "err", err)
	}

	var missing []string
	for _, id := range productIDs {
		entry, ok := cached[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if entry.Known {
			out[id] = entry.Product
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.store.GetProductQualities(ctx, missing)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]Entry, len(missing))
	for _, id := range missing {
		p, known := loaded[id]
		entries[id] = Entry{Product: p, Known: known}
		if known {
			out[id] = p
		}
	}
	if err := c.cache.SetProducts(ctx, entries, c.ttl); err != nil {
		level.Warn(c.logger).Log("msg", "product cache write failed", "err", err)
	}

	return out, nil
}

// UpsertProductQuality writes through to the store and drops the cached entry
func (c *CachedCatalog) UpsertProductQuality(ctx context.Context, p models.ProductQuality) error {
	if err := c.store.UpsertProductQuality(ctx, p); err != nil {
		return err
	}
	if err := c.cache.Invalidate(ctx, p.ProductID); err != nil {
		level.Warn(c.logger).Log("msg", "product cache invalidation failed", "product_id", p.ProductID, "err", err)
	}
	return nil
}

// InvalidateCache clears all cached data
func (c *CachedCatalog) InvalidateCache(ctx context.Context) error {
	return c.cache.InvalidateAll(ctx)
}

// GetCacheStats returns cache performance statistics
func (c *CachedCatalog) GetCacheStats() CacheStats {
	return c.cache.GetStats()
}
