package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/prajwalbharadwajbm/bidbeacon/internal/models"
)

// Cache defines the interface for product quality caching
type Cache interface {
	// GetProducts returns the cached entries among ids. Ids without an entry
	// are absent from the map.
	GetProducts(ctx context.Context, ids []string) (map[string]Entry, error)
	SetProducts(ctx context.Context, entries map[string]Entry, ttl time.Duration) error

	// Cache management
	Invalidate(ctx context.Context, ids ...string) error
	InvalidateAll(ctx context.Context) error
	GetStats() CacheStats
	HealthCheck(ctx context.Context) CacheHealth
}

// Entry is one cached catalog lookup. Known is false when the catalog has no
// row for the product, so repeated misses stay off the database.
type Entry struct {
	Product models.ProductQuality `json:"product"`
	Known   bool                  `json:"known"`
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits        int64
	Misses      int64
	Errors      int64
	HitRatio    float64
	TotalOps    int64
	LastUpdated time.Time
}

// CacheHealth reports the state of each tier
type CacheHealth struct {
	Overall  string
	Uptime   time.Duration
	LastTest time.Time
	Memory   TierHealth
	Redis    TierHealth
}

// TierHealth describes one cache tier
type TierHealth struct {
	Enabled   bool
	Status    string
	Connected bool
	Size      int
	MaxSize   int
	UtilPct   float64
	Error     string
}

// HybridCache keeps catalog signals in process memory and, when a Redis
// client is supplied, in Redis so every instance shares the warm set
type HybridCache struct {
	memoryCache *memoryCache
	redisCache  *redisCache
	config      CacheConfig
	startedAt   time.Time
	stats       CacheStats
	mu          sync.RWMutex
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	DefaultTTL      time.Duration
	MemoryCacheSize int
	EnableMemory    bool
	KeyPrefix       string
}

// NewHybridCache creates a new hybrid cache. client may be nil for a
// memory-only cache.
func NewHybridCache(config CacheConfig, client redis.UniversalClient) *HybridCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "bidbeacon:product"
	}
	hc := &HybridCache{
		config:    config,
		startedAt: time.Now(),
		stats: CacheStats{
			LastUpdated: time.Now(),
		},
	}

	if config.EnableMemory {
		hc.memoryCache = newMemoryCache(config.MemoryCacheSize)
	}
	if client != nil {
		hc.redisCache = newRedisCache(client, config.KeyPrefix)
	}

	return hc
}

// GetProducts looks in memory first, then fetches the remainder from Redis
// in one round trip and warms memory with what it finds
func (hc *HybridCache) GetProducts(ctx context.Context, ids []string) (map[string]Entry, error) {
	found := make(map[string]Entry, len(ids))
	remaining := ids

	if hc.memoryCache != nil {
		remaining = remaining[:0:0]
		for _, id := range ids {
			if entry, ok := hc.memoryCache.get(id); ok {
				found[id] = entry
				continue
			}
			remaining = append(remaining, id)
		}
	}

	if hc.redisCache != nil && len(remaining) > 0 {
		fromRedis, err := hc.redisCache.getProducts(ctx, remaining)
		if err != nil {
			hc.recordError()
			hc.recordLookups(len(found), len(ids)-len(found))
			return found, err
		}
		for id, entry := range fromRedis {
			found[id] = entry
			if hc.memoryCache != nil {
				hc.memoryCache.set(id, entry, hc.config.DefaultTTL)
			}
		}
	}

	hc.recordLookups(len(found), len(ids)-len(found))
	return found, nil
}

// SetProducts stores entries in both tiers
func (hc *HybridCache) SetProducts(ctx context.Context, entries map[string]Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = hc.config.DefaultTTL
	}

	if hc.memoryCache != nil {
		for id, entry := range entries {
			hc.memoryCache.set(id, entry, ttl)
		}
	}

	if hc.redisCache != nil {
		if err := hc.redisCache.setProducts(ctx, entries, ttl); err != nil {
			hc.recordError()
			return fmt.Errorf("cache store error: %w", err)
		}
	}

	return nil
}

// Invalidate drops the given products from both tiers
func (hc *HybridCache) Invalidate(ctx context.Context, ids ...string) error {
	if hc.memoryCache != nil {
		hc.memoryCache.delete(ids...)
	}
	if hc.redisCache != nil {
		if err := hc.redisCache.delete(ctx, ids...); err != nil {
			return fmt.Errorf("cache invalidation error: %w", err)
		}
	}
	return nil
}

// InvalidateAll clears all caches
func (hc *HybridCache) InvalidateAll(ctx context.Context) error {
	if hc.memoryCache != nil {
		hc.memoryCache.clear()
	}
	if hc.redisCache != nil {
		if err := hc.redisCache.clear(ctx); err != nil {
			return fmt.Errorf("cache invalidation error: %w", err)
		}
	}
	return nil
}

// GetStats returns cache statistics
func (hc *HybridCache) GetStats() CacheStats {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	stats := hc.stats
	if stats.TotalOps > 0 {
		stats.HitRatio = float64(stats.Hits) / float64(stats.TotalOps)
	}
	return stats
}

// HealthCheck reports each tier. A failing Redis tier degrades the cache,
// it never makes it unhealthy, since memory and the store still answer.
func (hc *HybridCache) HealthCheck(ctx context.Context) CacheHealth {
	health := CacheHealth{
		Overall:  "healthy",
		Uptime:   time.Since(hc.startedAt),
		LastTest: time.Now(),
		Memory:   TierHealth{Status: "disabled"},
		Redis:    TierHealth{Status: "disabled"},
	}

	if hc.memoryCache != nil {
		size := hc.memoryCache.size()
		health.Memory = TierHealth{
			Enabled: true,
			Status:  "healthy",
			Size:    size,
			MaxSize: hc.memoryCache.maxSize,
		}
		if hc.memoryCache.maxSize > 0 {
			health.Memory.UtilPct = float64(size) / float64(hc.memoryCache.maxSize) * 100
		}
	}

	if hc.redisCache != nil {
		health.Redis = TierHealth{Enabled: true, Status: "healthy", Connected: true}
		if err := hc.redisCache.healthCheck(ctx); err != nil {
			health.Redis.Status = "unhealthy"
			health.Redis.Connected = false
			health.Redis.Error = err.Error()
			health.Overall = "degraded"
		}
	}

	return health
}

// Close stops background cleanup
func (hc *HybridCache) Close() {
	if hc.memoryCache != nil {
		hc.memoryCache.close()
	}
}

func (hc *HybridCache) recordLookups(hits, misses int) {
	hc.mu.Lock()
	hc.stats.Hits += int64(hits)
	hc.stats.Misses += int64(misses)
	hc.stats.TotalOps += int64(hits + misses)
	hc.stats.LastUpdated = time.Now()
	hc.mu.Unlock()
}

func (hc *HybridCache) recordError() {
	hc.mu.Lock()
	hc.stats.Errors++
	hc.mu.Unlock()
}
