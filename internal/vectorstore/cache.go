package vectorstore

import (
	"sync"

	"github.com/dgraph-io/ristretto"

	"github.com/engramdb/engram/internal/model"
)

// Cache is the point-lookup cache keyed by memory id, holding every sector
// vector for that id. Writers invalidate entries rather than update them,
// so a reader can never observe a partially-written row set.
type Cache interface {
	Get(memoryID string) ([]*model.VectorRecord, bool)
	Set(memoryID string, recs []*model.VectorRecord)
	Del(memoryID string)
	Clear()
	Close()
}

// RistrettoCache is the production Cache backed by dgraph-io/ristretto.
type RistrettoCache struct {
	c *ristretto.Cache
}

// NewRistrettoCache sizes the cache for roughly maxEntries memory ids.
func NewRistrettoCache(maxEntries int64) (*RistrettoCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoCache{c: c}, nil
}

func (r *RistrettoCache) Get(memoryID string) ([]*model.VectorRecord, bool) {
	v, ok := r.c.Get(memoryID)
	if !ok {
		return nil, false
	}
	recs, ok := v.([]*model.VectorRecord)
	return recs, ok
}

func (r *RistrettoCache) Set(memoryID string, recs []*model.VectorRecord) {
	r.c.Set(memoryID, recs, 1)
}

func (r *RistrettoCache) Del(memoryID string) { r.c.Del(memoryID) }
func (r *RistrettoCache) Clear()              { r.c.Clear() }
func (r *RistrettoCache) Close()              { r.c.Close() }

// MapCache is a plain mutex-guarded cache without eviction, used in tests
// and small single-process deployments.
type MapCache struct {
	mu sync.RWMutex
	m  map[string][]*model.VectorRecord
}

func NewMapCache() *MapCache {
	return &MapCache{m: make(map[string][]*model.VectorRecord)}
}

func (c *MapCache) Get(memoryID string) ([]*model.VectorRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	recs, ok := c.m[memoryID]
	return recs, ok
}

func (c *MapCache) Set(memoryID string, recs []*model.VectorRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[memoryID] = recs
}

func (c *MapCache) Del(memoryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, memoryID)
}

func (c *MapCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[string][]*model.VectorRecord)
}

func (c *MapCache) Close() {}
