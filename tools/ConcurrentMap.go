package tools

import (
	"sync"
)

// ConcurrentMap is a map guarded by a RWMutex
type ConcurrentMap[K comparable, V any] struct {
	m map[K]V
	sync.RWMutex
}

func NewConcurrentMap[K comparable, V any]() *ConcurrentMap[K, V] {
	return &ConcurrentMap[K, V]{
		m:       make(map[K]V),
		RWMutex: sync.RWMutex{},
	}
}

func (c *ConcurrentMap[K, V]) Get(k K) (V, bool) {
	c.RLock()
	defer c.RUnlock()
	v, ok := c.m[k]
	return v, ok
}

func (c *ConcurrentMap[K, V]) GetOrDefault(k K, def V) V {
	c.RLock()
	defer c.RUnlock()
	v, ok := c.m[k]
	if !ok {
		return def
	}
	return v
}

func (c *ConcurrentMap[K, V]) Set(k K, v V) {
	c.Lock()
	defer c.Unlock()
	c.m[k] = v
}

func (c *ConcurrentMap[K, V]) DoAndSet(k K, do func(V, bool) V) {
	c.Lock()
	defer c.Unlock()
	v, ok := c.m[k]
	newV := do(v, ok)
	c.m[k] = newV
}

// Delete removes the key from the map
func (c *ConcurrentMap[K, V]) Delete(k K) {
	c.Lock()
	defer c.Unlock()
	delete(c.m, k)
}

// Snapshot returns a copy of the map, leaving out the given keys
func (c *ConcurrentMap[K, V]) Snapshot(exclude ...K) map[K]V {
	c.RLock()
	defer c.RUnlock()
	out := make(map[K]V, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	for _, k := range exclude {
		delete(out, k)
	}
	return out
}
