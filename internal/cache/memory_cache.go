package cache

import (
	"sync"
	"time"
)

// cacheItem represents a cached entry with expiration
type cacheItem struct {
	entry     Entry
	expiresAt time.Time
}

func (ci *cacheItem) isExpired(now time.Time) bool {
	return now.After(ci.expiresAt)
}

// memoryCache implements in-memory caching with TTL
type memoryCache struct {
	items    map[string]*cacheItem
	mu       sync.RWMutex
	maxSize  int
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func newMemoryCache(maxSize int) *memoryCache {
	mc := &memoryCache{
		items:    make(map[string]*cacheItem),
		maxSize:  maxSize,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}

	go mc.cleanup()

	return mc
}

func (mc *memoryCache) get(key string) (Entry, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	item, exists := mc.items[key]
	if !exists || item.isExpired(mc.now()) {
		return Entry{}, false
	}
	return item.entry, true
}

func (mc *memoryCache) set(key string, entry Entry, ttl time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.items[key] = &cacheItem{
		entry:     entry,
		expiresAt: mc.now().Add(ttl),
	}

	mc.evictIfNeeded()
}

func (mc *memoryCache) delete(keys ...string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	for _, key := range keys {
		delete(mc.items, key)
	}
}

func (mc *memoryCache) clear() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.items = make(map[string]*cacheItem)
}

// evictIfNeeded removes expired items, then the soonest to expire while
// still over maxSize. Caller holds the lock.
func (mc *memoryCache) evictIfNeeded() {
	if mc.maxSize <= 0 || len(mc.items) <= mc.maxSize {
		return
	}

	now := mc.now()
	for key, item := range mc.items {
		if item.isExpired(now) {
			delete(mc.items, key)
		}
	}

	for len(mc.items) > mc.maxSize {
		var oldestKey string
		var oldest time.Time
		for key, item := range mc.items {
			if oldestKey == "" || item.expiresAt.Before(oldest) {
				oldestKey, oldest = key, item.expiresAt
			}
		}
		delete(mc.items, oldestKey)
	}
}

// cleanup periodically removes expired items
func (mc *memoryCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.mu.Lock()
			now := mc.now()
			for key, item := range mc.items {
				if item.isExpired(now) {
					delete(mc.items, key)
				}
			}
			mc.mu.Unlock()
		case <-mc.stopChan:
			return
		}
	}
}

func (mc *memoryCache) close() {
	mc.stopOnce.Do(func() { close(mc.stopChan) })
}

func (mc *memoryCache) size() int {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	return len(mc.items)
}
