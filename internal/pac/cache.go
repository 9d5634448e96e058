package pac

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/edvin/pacgate/internal/metrics"
	"github.com/edvin/pacgate/internal/model"
)

// Cache holds the latest compiled document per device. A version bump changes
// the cache key, so stale entries are replaced on the next fetch; storing one
// document per device keeps the cache bounded by the device count. Token
// rotation does not touch the cache because rotation does not change rules.
type Cache struct {
	mu    sync.RWMutex
	docs  map[string]Document
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{docs: map[string]Document{}}
}

// Get returns the compiled document for a device at the given version,
// compiling on a miss. Concurrent misses for the same key are collapsed into
// a single compilation.
func (c *Cache) Get(deviceID, version string, rules func() []model.Rule) Document {
	key := CacheKey(deviceID, version)

	c.mu.RLock()
	doc, ok := c.docs[deviceID]
	c.mu.RUnlock()
	if ok && doc.Key == key {
		metrics.PACCompileCacheHits.Inc()
		return doc
	}

	metrics.PACCompileCacheMisses.Inc()
	v, _, _ := c.group.Do(key, func() (any, error) {
		doc := Compile(deviceID, rules(), version)
		c.mu.Lock()
		c.docs[deviceID] = doc
		c.mu.Unlock()
		return doc, nil
	})
	return v.(Document)
}

// Forget drops the cached document for a device, for use when the device is
// deleted.
func (c *Cache) Forget(deviceID string) {
	c.mu.Lock()
	delete(c.docs, deviceID)
	c.mu.Unlock()
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}
