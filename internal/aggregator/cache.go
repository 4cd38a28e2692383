package aggregator

import (
	"container/list"
	"sync"
	"time"

	"github.com/clubmetrics/districtrun/internal/model"
	"github.com/clubmetrics/districtrun/internal/telemetry"
)

const cacheType = "district"

// DistrictCache is a small LRU with per-entry TTL in front of the
// snapshot store's district reads. Lookup, insert, and evict are atomic
// per key; concurrent reads of the same key race freely.
type DistrictCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*list.Element
	order    *list.List

	hits, misses, evictions uint64

	now func() time.Time
}

type cacheEntry struct {
	key       string
	stats     *model.DistrictStatistics
	expiresAt time.Time
}

// CacheStats is a point-in-time counter snapshot.
type CacheStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// NewDistrictCache creates a cache holding at most capacity entries,
// each valid for ttl.
func NewDistrictCache(capacity int, ttl time.Duration) *DistrictCache {
	return &DistrictCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached statistics for key, expiring stale entries.
func (c *DistrictCache) Get(key string) (*model.DistrictStatistics, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		telemetry.RecordCacheMiss(cacheType)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		c.evictions++
		telemetry.RecordCacheMiss(cacheType)
		telemetry.RecordCacheEviction(cacheType)
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	telemetry.RecordCacheHit(cacheType)
	return entry.stats, true
}

// Put inserts or refreshes an entry, evicting the least recently used
// one when the cache is full.
func (c *DistrictCache) Put(key string, stats *model.DistrictStatistics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)
	if elem, ok := c.entries[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.stats = stats
		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)
		return
	}

	for c.capacity > 0 && c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
		telemetry.RecordCacheEviction(cacheType)
	}

	elem := c.order.PushFront(&cacheEntry{key: key, stats: stats, expiresAt: expiresAt})
	c.entries[key] = elem
}

// Stats returns the counter snapshot.
func (c *DistrictCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      c.order.Len(),
	}
}

func (c *DistrictCache) removeLocked(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	c.order.Remove(elem)
	delete(c.entries, entry.key)
}
