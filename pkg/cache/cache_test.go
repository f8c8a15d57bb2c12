package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(cfg *Config) (*MemoryCache[string], *clock) {
	clk := &clock{t: time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)}
	c := NewMemoryCache[string](cfg)
	c.now = clk.now
	return c, clk
}

func TestMemoryCache_GetPut(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(nil)

	c.Put(ctx, "AAPL", "analysis")
	got, ok := c.Get(ctx, "AAPL")
	require.True(t, ok)
	assert.Equal(t, "analysis", got)

	_, ok = c.Get(ctx, "MSFT")
	assert.False(t, ok)

	c.Put(ctx, "AAPL", "newer")
	got, _ = c.Get(ctx, "AAPL")
	assert.Equal(t, "newer", got)
	assert.Equal(t, 1, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, clk := newTestCache(DefaultConfig().WithTTL(time.Minute))

	c.Put(ctx, "k", "v")
	clk.advance(59 * time.Second)
	_, ok := c.Get(ctx, "k")
	assert.True(t, ok)

	clk.advance(time.Second)
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	t.Run("zero ttl never expires", func(t *testing.T) {
		c, clk := newTestCache(DefaultConfig().WithTTL(0))
		c.Put(ctx, "k", "v")
		clk.advance(24 * 365 * time.Hour)
		_, ok := c.Get(ctx, "k")
		assert.True(t, ok)
	})
}

func TestMemoryCache_LRU(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(DefaultConfig().WithMaxEntries(2))

	c.Put(ctx, "a", "1")
	c.Put(ctx, "b", "2")
	_, _ = c.Get(ctx, "a")
	c.Put(ctx, "c", "3")

	_, ok := c.Get(ctx, "b")
	assert.False(t, ok, "least recently used entry is evicted")
	_, ok = c.Get(ctx, "a")
	assert.True(t, ok)
	_, ok = c.Get(ctx, "c")
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, int64(2), stats.Entries)
}

func TestMemoryCache_DeleteClear(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(nil)
	c.Put(ctx, "a", "1")
	c.Put(ctx, "b", "2")

	c.Delete(ctx, "a")
	c.Delete(ctx, "missing")
	assert.Equal(t, 1, c.Len())

	c.Clear(ctx)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(0), c.Stats().Entries)
}

func TestMemoryCache_StatsDisabled(t *testing.T) {
	c, _ := newTestCache(DefaultConfig().WithStats(false))
	c.Put(context.Background(), "a", "1")
	_, _ = c.Get(context.Background(), "a")
	assert.Equal(t, Stats{}, c.Stats())
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache[int](DefaultConfig().WithMaxEntries(50))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", (i*100+j)%80)
				c.Put(ctx, key, j)
				c.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 50)
	stats := c.Stats()
	assert.Equal(t, uint64(1000), stats.Hits+stats.Misses)
}

func TestStatsCollector(t *testing.T) {
	collector := NewStatsCollector()
	assert.Equal(t, 0.0, collector.HitRate())

	initial := collector.GetStats()
	time.Sleep(2 * time.Millisecond)
	collector.RecordHit()
	collector.RecordMiss()
	collector.RecordEviction()
	collector.UpdateSize(7)

	stats := collector.GetStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, int64(7), stats.Entries)
	assert.Equal(t, 0.5, collector.HitRate())
	assert.True(t, stats.LastUpdated.After(initial.LastUpdated))
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 256, cfg.MaxEntries)
	assert.Equal(t, 15*time.Minute, cfg.TTL)
	assert.True(t, cfg.EnableStats)

	updated := cfg.WithMaxEntries(10).WithTTL(time.Second).WithStats(false)
	assert.Equal(t, &Config{MaxEntries: 10, TTL: time.Second}, updated)
}

func TestDefaultKeyGenerator(t *testing.T) {
	g := &DefaultKeyGenerator{}

	a := g.GenerateKey("find", map[string]interface{}{"collection": "users", "limit": 10})
	b := g.GenerateKey("find", map[string]interface{}{"limit": 10, "collection": "users"})
	assert.Equal(t, a, b, "parameter order does not matter")
	assert.Len(t, a, 64)

	tests := []struct {
		name   string
		query  string
		params map[string]interface{}
	}{
		{"different query", "aggregate", map[string]interface{}{"collection": "users", "limit": 10}},
		{"different value", "find", map[string]interface{}{"collection": "users", "limit": 11}},
		{"no params", "find", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, a, g.GenerateKey(tt.query, tt.params))
		})
	}
}
