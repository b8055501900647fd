// Package cache implements the broker's version-stamped product cache.
package cache

import (
	"encoding/json"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/monto-broker/broker/internal/metrics"
	"github.com/monto-broker/broker/internal/model"
)

// Dep is one recorded dependency of a cache entry: the dependency's
// identifier and the version it had when this entry was produced.
type Dep struct {
	ID      model.ProductIdentifier
	Version uint64
}

// entry is a single slot in the cache, keyed by ProductIdentifier.
type entry struct {
	valid   bool
	version uint64
	value   json.RawMessage
	deps    []Dep
}

// Watcher is the subset of FsWatcher the cache needs: registering a path for
// change notification. Implemented by *watcher.FsWatcher.
type Watcher interface {
	Watch(path string)
}

// ProductCache stores computed products keyed by (name, language, path),
// with version-stamped dependency bookkeeping for lazy invalidation.
//
// Called concurrently from request handlers and from the broker's
// invalidation goroutine (see package broker); every method holds mu for its
// whole duration, so operations are serialized.
type ProductCache struct {
	mu      sync.Mutex
	entries map[model.ProductIdentifier]*entry
	watcher Watcher

	// accel is a pure accelerator: a bounded LRU mirror of recently-read
	// valid entries. It is never authoritative — a miss here always falls
	// through to entries, and every put/invalidate updates or purges it
	// in lockstep, so it can never serve a value entries disagrees with.
	accel *lru.Cache[model.ProductIdentifier, cachedValue]

	metrics *metrics.Registry
}

type cachedValue struct {
	value   json.RawMessage
	version uint64
}

// New creates an empty ProductCache. watcher and m may both be nil in tests.
func New(watcher Watcher, m *metrics.Registry) *ProductCache {
	accel, _ := lru.New[model.ProductIdentifier, cachedValue](1024)
	return &ProductCache{
		entries: make(map[model.ProductIdentifier]*entry),
		watcher: watcher,
		accel:   accel,
		metrics: m,
	}
}

// Put inserts or replaces the entry for product.Identifier(). The new
// version is old_version+1, or 1 if no prior entry existed. deps records
// the dependency versions at the moment of this put, creating Invalid
// placeholder entries for any dependency not yet known.
func (c *ProductCache) Put(product model.Product, deps []model.ProductIdentifier) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := product.Identifier()
	resolvedDeps := make([]Dep, 0, len(deps))
	for _, depID := range deps {
		depEntry, ok := c.entries[depID]
		if !ok {
			depEntry = &entry{valid: false, version: 0}
			c.entries[depID] = depEntry
		}
		resolvedDeps = append(resolvedDeps, Dep{ID: depID, Version: depEntry.version})
	}

	e, ok := c.entries[id]
	var version uint64 = 1
	if ok {
		version = e.version + 1
	} else {
		e = &entry{}
		c.entries[id] = e
	}
	e.valid = true
	e.version = version
	e.value = product.Value
	e.deps = resolvedDeps

	if c.accel != nil {
		c.accel.Add(id, cachedValue{value: product.Value, version: version})
	}
	if c.watcher != nil {
		c.watcher.Watch(id.Path)
	}
	if c.metrics != nil {
		c.metrics.Cache.Puts.Inc()
	}
	return version
}

// Get returns the entry's value and version if the entry is Valid and every
// recorded dependency still has the version it had at put-time. Otherwise
// returns ok=false without side effects.
func (c *ProductCache) Get(id model.ProductIdentifier) (value json.RawMessage, version uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cv, hit := c.accel.Get(id); hit {
		if e, exists := c.entries[id]; exists && e.valid && e.version == cv.version && c.depsCurrentLocked(e) {
			c.recordHitLocked()
			return cv.value, cv.version, true
		}
		c.accel.Remove(id)
	}

	e, exists := c.entries[id]
	if !exists || !e.valid {
		c.recordMissLocked()
		return nil, 0, false
	}
	if !c.depsCurrentLocked(e) {
		c.recordMissLocked()
		return nil, 0, false
	}
	c.accel.Add(id, cachedValue{value: e.value, version: e.version})
	c.recordHitLocked()
	return e.value, e.version, true
}

func (c *ProductCache) recordHitLocked() {
	if c.metrics != nil {
		c.metrics.Cache.Hits.Inc()
	}
}

func (c *ProductCache) recordMissLocked() {
	if c.metrics != nil {
		c.metrics.Cache.Misses.Inc()
	}
}

func (c *ProductCache) depsCurrentLocked(e *entry) bool {
	for _, dep := range e.deps {
		depEntry, ok := c.entries[dep.ID]
		if !ok || depEntry.version != dep.Version {
			return false
		}
	}
	return true
}

// VersionOf returns the current version of id, or 0 if unknown. This is the
// same value Put records for id when id is listed as a dependency.
func (c *ProductCache) VersionOf(id model.ProductIdentifier) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e.version
	}
	return 0
}

// InvalidatePath transitions every entry whose path equals p, or whose path
// is an ancestor directory of p, to Invalid with a bumped version.
// Dependents are not walked transitively; Get's version check does that
// lazily on next read.
func (c *ProductCache) InvalidatePath(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.entries {
		if id.Path == p || isAncestorDir(id.Path, p) {
			e.valid = false
			e.version++
			c.accel.Remove(id)
			if c.metrics != nil {
				c.metrics.Cache.Invalidations.Inc()
			}
		}
	}
}

// isAncestorDir reports whether dir is a path prefix (directory ancestor)
// of p, using "/"-separated component boundaries.
func isAncestorDir(dir, p string) bool {
	if dir == p || !strings.HasPrefix(p, dir) {
		return false
	}
	return strings.HasPrefix(p[len(dir):], "/")
}
