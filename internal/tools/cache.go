package tools

import (
	"sync"
	"sync/atomic"
	"time"
)

// DescriptorCache is a TTL cache with stale-while-revalidate for descriptors
// fetched from a remote source. Reads go through sync.Map.
type DescriptorCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
	now   func() time.Time
}

type cacheEntry struct {
	desc       *Descriptor // nil records a known-missing tool
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheResult is the outcome of a cache lookup.
type CacheResult struct {
	Descriptor   *Descriptor
	Hit          bool // fresh or stale value present
	NeedsRefresh bool // stale; this caller owns the refresh
}

// NewDescriptorCache creates a cache with the given TTL.
func NewDescriptorCache(ttl time.Duration) *DescriptorCache {
	return &DescriptorCache{ttl: ttl, now: time.Now}
}

// Get never blocks. Expired entries are returned with NeedsRefresh set for
// exactly one caller until the entry is replaced.
func (c *DescriptorCache) Get(toolID string) CacheResult {
	val, ok := c.store.Load(toolID)
	if !ok {
		return CacheResult{}
	}
	e := val.(*cacheEntry)
	if c.now().Before(e.expiresAt) {
		return CacheResult{Descriptor: e.desc, Hit: true}
	}
	return CacheResult{
		Descriptor:   e.desc,
		Hit:          true,
		NeedsRefresh: e.refreshing.CompareAndSwap(false, true),
	}
}

// Set stores d with a fresh TTL. A nil d is a negative entry.
func (c *DescriptorCache) Set(toolID string, d *Descriptor) {
	c.store.Store(toolID, &cacheEntry{desc: d, expiresAt: c.now().Add(c.ttl)})
}

// Delete drops the entry for toolID.
func (c *DescriptorCache) Delete(toolID string) {
	c.store.Delete(toolID)
}
