// Package config provides configuration structures for quarry.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/TFMV/quarry/pkg/llm"
)

// Config represents the application configuration.
type Config struct {
	LogLevel  string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format" json:"log_format"` // json, console

	Server   ServerConfig   `mapstructure:"server" yaml:"server" json:"server"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth" json:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database" json:"database"`
	Market   MarketConfig   `mapstructure:"market" yaml:"market" json:"market"`
	LLM      llm.Config     `mapstructure:"llm" yaml:"llm" json:"llm"`
	Cache    CacheConfig    `mapstructure:"cache" yaml:"cache" json:"cache"`
}

// ServerConfig represents HTTP server configuration.
type ServerConfig struct {
	Address         string        `mapstructure:"address" yaml:"address" json:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	UploadDir       string        `mapstructure:"upload_dir" yaml:"upload_dir" json:"upload_dir"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size" yaml:"max_upload_size" json:"max_upload_size"`
}

// AuthConfig represents authentication configuration.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Type    string `mapstructure:"type" yaml:"type" json:"type"` // basic, bearer, jwt

	BasicAuth  BasicAuthConfig  `mapstructure:"basic_auth" yaml:"basic_auth" json:"basic_auth"`
	BearerAuth BearerAuthConfig `mapstructure:"bearer_auth" yaml:"bearer_auth" json:"bearer_auth"`
	JWTAuth    JWTAuthConfig    `mapstructure:"jwt_auth" yaml:"jwt_auth" json:"jwt_auth"`
}

// BasicAuthConfig represents basic authentication configuration.
type BasicAuthConfig struct {
	Users map[string]UserInfo `mapstructure:"users" yaml:"users" json:"users"`
}

// UserInfo represents user information.
type UserInfo struct {
	Password string   `mapstructure:"password" yaml:"password" json:"password"`
	Roles    []string `mapstructure:"roles" yaml:"roles" json:"roles"`
}

// BearerAuthConfig maps static tokens to user names.
type BearerAuthConfig struct {
	Tokens map[string]string `mapstructure:"tokens" yaml:"tokens" json:"tokens"`
}

// JWTAuthConfig represents HS256 JWT configuration.
type JWTAuthConfig struct {
	Secret   string `mapstructure:"secret" yaml:"secret" json:"secret"`
	Issuer   string `mapstructure:"issuer" yaml:"issuer" json:"issuer"`
	Audience string `mapstructure:"audience" yaml:"audience" json:"audience"`
}

// MetricsConfig represents metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Address string `mapstructure:"address" yaml:"address" json:"address"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// DatabaseConfig selects the database the explorer connects to. Driver is one
// of mongodb, postgres, mysql, sqlite or duckdb; empty detects it from DSN.
type DatabaseConfig struct {
	Driver             string        `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN                string        `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	Name               string        `mapstructure:"name" yaml:"name" json:"name"`
	MaxOpenConnections int           `mapstructure:"max_open_connections" yaml:"max_open_connections" json:"max_open_connections"`
	MaxIdleConnections int           `mapstructure:"max_idle_connections" yaml:"max_idle_connections" json:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `mapstructure:"health_check_period" yaml:"health_check_period" json:"health_check_period"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold" yaml:"slow_query_threshold" json:"slow_query_threshold"`
	MaxRounds          int           `mapstructure:"max_rounds" yaml:"max_rounds" json:"max_rounds"`
	MaxHistory         int           `mapstructure:"max_history" yaml:"max_history" json:"max_history"`
}

// IsMongo reports whether the database is MongoDB.
func (d DatabaseConfig) IsMongo() bool {
	driver := strings.ToLower(d.Driver)
	if driver == "mongodb" || driver == "mongo" {
		return true
	}
	if driver != "" {
		return false
	}
	dsn := strings.ToLower(d.DSN)
	return strings.HasPrefix(dsn, "mongodb://") || strings.HasPrefix(dsn, "mongodb+srv://")
}

// MarketConfig configures the Polygon and EDGAR clients.
type MarketConfig struct {
	PolygonAPIKey  string        `mapstructure:"polygon_api_key" yaml:"polygon_api_key" json:"polygon_api_key"`
	PolygonBaseURL string        `mapstructure:"polygon_base_url" yaml:"polygon_base_url" json:"polygon_base_url"`
	EdgarBaseURL   string        `mapstructure:"edgar_base_url" yaml:"edgar_base_url" json:"edgar_base_url"`
	EdgarUserAgent string        `mapstructure:"edgar_user_agent" yaml:"edgar_user_agent" json:"edgar_user_agent"`
	RateLimit      int           `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	EdgarRateLimit int           `mapstructure:"edgar_rate_limit" yaml:"edgar_rate_limit" json:"edgar_rate_limit"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

// CacheConfig represents cache configuration.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries" json:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl" json:"ttl"`
}

// Validate validates the configuration and fills defaults.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "", "json":
		c.LogFormat = "json"
	case "console":
		c.LogFormat = "console"
	default:
		return fmt.Errorf("unsupported log format: %s", c.LogFormat)
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 5 * time.Minute
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "uploads"
	}
	if c.Server.MaxUploadSize <= 0 {
		c.Server.MaxUploadSize = 512 << 20
	}

	if c.Auth.Enabled {
		switch c.Auth.Type {
		case "basic":
			if len(c.Auth.BasicAuth.Users) == 0 {
				return fmt.Errorf("basic auth requires users")
			}
		case "bearer":
			if len(c.Auth.BearerAuth.Tokens) == 0 {
				return fmt.Errorf("bearer auth requires tokens")
			}
		case "jwt":
			if c.Auth.JWTAuth.Secret == "" {
				return fmt.Errorf("JWT auth requires secret")
			}
		default:
			return fmt.Errorf("unsupported auth type: %s", c.Auth.Type)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics address is required when metrics are enabled")
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	// Set defaults for the database pool
	if c.Database.MaxOpenConnections <= 0 {
		c.Database.MaxOpenConnections = 25
	}
	if c.Database.MaxIdleConnections <= 0 {
		c.Database.MaxIdleConnections = 5
	}
	if c.Database.ConnMaxLifetime <= 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Database.ConnMaxIdleTime <= 0 {
		c.Database.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.Database.HealthCheckPeriod <= 0 {
		c.Database.HealthCheckPeriod = time.Minute
	}
	if c.Database.ConnectTimeout <= 0 {
		c.Database.ConnectTimeout = 10 * time.Second
	}

	if c.Market.Timeout <= 0 {
		c.Market.Timeout = 30 * time.Second
	}
	if c.Market.EdgarRateLimit <= 0 {
		c.Market.EdgarRateLimit = 10
	}
	if c.Market.EdgarRateLimit > 10 {
		return fmt.Errorf("edgar rate limit must not exceed 10 requests per second")
	}

	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max entries must not be negative")
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 15 * time.Minute
	}

	return nil
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Server: ServerConfig{
			Address:         "0.0.0.0:8000",
			ShutdownTimeout: 30 * time.Second,
			ReadTimeout:     5 * time.Minute,
			UploadDir:       "uploads",
			MaxUploadSize:   512 << 20,
		},
		Auth: AuthConfig{
			Enabled: false,
			Type:    "basic",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9090",
			Path:    "/metrics",
		},
		Database: DatabaseConfig{
			MaxOpenConnections: 25,
			MaxIdleConnections: 5,
			ConnMaxLifetime:    30 * time.Minute,
			ConnMaxIdleTime:    10 * time.Minute,
			HealthCheckPeriod:  time.Minute,
			ConnectTimeout:     10 * time.Second,
			SlowQueryThreshold: time.Second,
		},
		Market: MarketConfig{
			RateLimit:      5,
			EdgarRateLimit: 10,
			Timeout:        30 * time.Second,
		},
		LLM: llm.Config{
			Provider:    llm.ProviderOpenAI,
			Temperature: 0.1,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 256,
			TTL:        15 * time.Minute,
		},
	}
}
