package cache

import "time"

// Config holds the configuration for a cache.
type Config struct {
	// MaxEntries bounds the number of entries; the least recently used entry
	// is evicted first. Zero means unbounded.
	MaxEntries int `mapstructure:"max_entries" validate:"gte=0"`
	// TTL is the time-to-live for entries. Zero disables expiry.
	TTL time.Duration `mapstructure:"ttl" validate:"gte=0"`
	// EnableStats enables hit/miss/eviction counting.
	EnableStats bool `mapstructure:"enable_stats"`
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxEntries:  256,
		TTL:         15 * time.Minute,
		EnableStats: true,
	}
}

// WithMaxEntries sets the entry limit.
func (c *Config) WithMaxEntries(n int) *Config {
	c.MaxEntries = n
	return c
}

// WithTTL sets the time-to-live for cache entries.
func (c *Config) WithTTL(ttl time.Duration) *Config {
	c.TTL = ttl
	return c
}

// WithStats enables or disables cache statistics.
func (c *Config) WithStats(enable bool) *Config {
	c.EnableStats = enable
	return c
}
