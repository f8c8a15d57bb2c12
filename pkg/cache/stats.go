package cache

import (
	"sync/atomic"
	"time"
)

// Stats holds cache statistics.
type Stats struct {
	Hits        uint64    `json:"hits"`
	Misses      uint64    `json:"misses"`
	Evictions   uint64    `json:"evictions"`
	Entries     int64     `json:"entries"`
	LastUpdated time.Time `json:"last_updated"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsCollector counts cache events. It is safe for concurrent use.
type StatsCollector struct {
	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	entries     atomic.Int64
	lastUpdated atomic.Int64
}

// NewStatsCollector creates a new statistics collector.
func NewStatsCollector() *StatsCollector {
	c := &StatsCollector{}
	c.touch()
	return c
}

func (c *StatsCollector) touch() {
	c.lastUpdated.Store(time.Now().UnixNano())
}

// RecordHit records a cache hit.
func (c *StatsCollector) RecordHit() {
	c.hits.Add(1)
	c.touch()
}

// RecordMiss records a cache miss.
func (c *StatsCollector) RecordMiss() {
	c.misses.Add(1)
	c.touch()
}

// RecordEviction records an eviction.
func (c *StatsCollector) RecordEviction() {
	c.evictions.Add(1)
	c.touch()
}

// UpdateSize sets the current number of entries.
func (c *StatsCollector) UpdateSize(entries int64) {
	c.entries.Store(entries)
	c.touch()
}

// GetStats returns a snapshot of the statistics.
func (c *StatsCollector) GetStats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Entries:     c.entries.Load(),
		LastUpdated: time.Unix(0, c.lastUpdated.Load()),
	}
}

// HitRate returns the cache hit rate.
func (c *StatsCollector) HitRate() float64 {
	return c.GetStats().HitRate()
}
