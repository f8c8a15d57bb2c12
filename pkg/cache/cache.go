// Package cache provides an in-memory TTL and LRU cache for analysis and
// query results.
package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Cache stores values by key.
type Cache[V any] interface {
	// Get returns the value for key and whether it was present and fresh.
	Get(ctx context.Context, key string) (V, bool)
	// Put stores a value.
	Put(ctx context.Context, key string, value V)
	// Delete removes a value.
	Delete(ctx context.Context, key string)
	// Clear removes all entries.
	Clear(ctx context.Context)
	// Len returns the number of entries, expired ones included.
	Len() int
	// Stats returns the cache statistics.
	Stats() Stats
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// MemoryCache implements Cache in memory.
type MemoryCache[V any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	cfg     Config
	stats   *StatsCollector
	now     func() time.Time
}

// NewMemoryCache creates a cache. A nil cfg uses DefaultConfig.
func NewMemoryCache[V any](cfg *Config) *MemoryCache[V] {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &MemoryCache[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		cfg:     *cfg,
		now:     time.Now,
	}
	if cfg.EnableStats {
		c.stats = NewStatsCollector()
	}
	return c
}

// Get returns a fresh value. Expired entries are removed.
func (c *MemoryCache[V]) Get(ctx context.Context, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		c.record((*StatsCollector).RecordMiss)
		return zero, false
	}
	e := el.Value.(*entry[V])
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.remove(el)
		c.record((*StatsCollector).RecordMiss)
		return zero, false
	}
	c.order.MoveToFront(el)
	c.record((*StatsCollector).RecordHit)
	return e.value, true
}

// Put stores value, evicting the least recently used entry when full.
func (c *MemoryCache[V]) Put(ctx context.Context, key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if c.cfg.TTL > 0 {
		expires = c.now().Add(c.cfg.TTL)
	}
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value, e.expiresAt = value, expires
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expires})
	for c.cfg.MaxEntries > 0 && c.order.Len() > c.cfg.MaxEntries {
		c.remove(c.order.Back())
		c.record((*StatsCollector).RecordEviction)
	}
	c.updateSize()
}

// Delete removes a value.
func (c *MemoryCache[V]) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.remove(el)
	}
}

// Clear removes all entries.
func (c *MemoryCache[V]) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
	c.updateSize()
}

// Len returns the number of entries.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns the statistics, or zero stats when disabled.
func (c *MemoryCache[V]) Stats() Stats {
	if c.stats == nil {
		return Stats{}
	}
	return c.stats.GetStats()
}

// remove must be called with mu held.
func (c *MemoryCache[V]) remove(el *list.Element) {
	delete(c.entries, el.Value.(*entry[V]).key)
	c.order.Remove(el)
	c.updateSize()
}

func (c *MemoryCache[V]) record(fn func(*StatsCollector)) {
	if c.stats != nil {
		fn(c.stats)
	}
}

func (c *MemoryCache[V]) updateSize() {
	if c.stats != nil {
		c.stats.UpdateSize(int64(c.order.Len()))
	}
}

// KeyGenerator builds cache keys.
type KeyGenerator interface {
	GenerateKey(query string, params map[string]interface{}) string
}

// DefaultKeyGenerator hashes the query and its parameters.
type DefaultKeyGenerator struct{}

// GenerateKey returns a hex SHA-256 of the query followed by the parameters
// in key order. Parameters are JSON encoded.
func (g *DefaultKeyGenerator) GenerateKey(query string, params map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(query))

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := json.Marshal(params[k])
		if err != nil {
			v = []byte(err.Error())
		}
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(v)
	}
	return hex.EncodeToString(h.Sum(nil))
}
