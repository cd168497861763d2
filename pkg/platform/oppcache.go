package platform

import (
	lru "github.com/hashicorp/golang-lru/simplelru"

	"github.com/fillien/schedsim/pkg/simtime"
)

// lruCeilCache memoizes ClockDomain.CeilToMode(f) lookups. Every DVFS
// policy evaluation (PowerAware/FFA/CSF, per spec.md §4.10) re-derives a
// target frequency and rounds it up to the nearest OPP; with a handful of
// domains and a bounded set of requested targets this turns a repeated
// binary search into a cache hit in steady state. Grounded on
// storageBase.lruCache in the teacher's server/storage_service.go.
type lruCeilCache struct {
	cache *lru.LRU
}

func newLRUCeilCache(size int) *lruCeilCache {
	l, _ := lru.NewLRU(size, nil)
	return &lruCeilCache{cache: l}
}

func (c *lruCeilCache) get(f simtime.Frequency) (simtime.Frequency, bool) {
	if c == nil || c.cache == nil {
		return 0, false
	}
	v, ok := c.cache.Get(f)
	if !ok {
		return 0, false
	}
	return v.(simtime.Frequency), true
}

func (c *lruCeilCache) put(f, result simtime.Frequency) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Add(f, result)
}

func (c *lruCeilCache) clear() {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Purge()
}
