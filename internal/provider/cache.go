package provider

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/robfig/cron/v3"
)

const (
	cacheMax          = 1000
	cacheTTL          = 600 * time.Second
	cacheCleanupCron  = "@every 120s"
	cacheCleanupAbove = 800
)

// adapterCache wraps an expirable LRU with the spec.md §4.6 cleanup
// policy (a periodic tick that clears the cache entirely once it grows
// past 800 entries) and a conditional-disable flag (USE_CACHE=false
// makes get always miss and set a no-op).
type adapterCache struct {
	mu      sync.Mutex
	lru     *expirable.LRU[string, any]
	enabled bool
	cron    *cron.Cron
}

func newAdapterCache(enabled bool) *adapterCache {
	c := &adapterCache{
		lru:     expirable.NewLRU[string, any](cacheMax, nil, cacheTTL),
		enabled: enabled,
	}
	if enabled {
		c.cron = cron.New()
		c.cron.AddFunc(cacheCleanupCron, c.cleanupTick)
		c.cron.Start()
	}
	return c
}

func (c *adapterCache) cleanupTick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru.Len() > cacheCleanupAbove {
		c.lru.Purge()
	}
}

func (c *adapterCache) get(key string) (any, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

func (c *adapterCache) set(key string, value any) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

func (c *adapterCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

func (c *adapterCache) stop() {
	if c.cron != nil {
		c.cron.Stop()
	}
}
