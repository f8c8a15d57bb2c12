// Package pool provides database/sql connection pooling for the relational
// backends quarry can explore.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	pkgerrors "github.com/TFMV/quarry/pkg/errors"
)

// Config represents pool configuration.
type Config struct {
	Driver             string        `json:"driver" yaml:"driver"`
	DSN                string        `json:"dsn" yaml:"dsn"`
	MaxOpenConnections int           `json:"max_open_connections" yaml:"max_open_connections"`
	MaxIdleConnections int           `json:"max_idle_connections" yaml:"max_idle_connections"`
	ConnMaxLifetime    time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime    time.Duration `json:"conn_max_idle_time" yaml:"conn_max_idle_time"`
	HealthCheckPeriod  time.Duration `json:"health_check_period" yaml:"health_check_period"`
	ConnectionTimeout  time.Duration `json:"connection_timeout" yaml:"connection_timeout"`
	SlowQueryThreshold time.Duration `json:"slow_query_threshold" yaml:"slow_query_threshold"`
}

// ConnectionPool manages database connections.
type ConnectionPool interface {
	// Get returns a live database handle.
	Get(ctx context.Context) (*sql.DB, error)
	// Driver returns the normalized driver name.
	Driver() string
	// DatabaseName returns the database name derived from the DSN.
	DatabaseName() string
	// Stats returns pool statistics.
	Stats() PoolStats
	// HealthCheck performs a health check on the pool.
	HealthCheck(ctx context.Context) error
	// LogQuery records a query execution for slow-query logging.
	LogQuery(query string, duration time.Duration, err error)
	// Close closes the connection pool.
	Close() error
}

// PoolStats represents connection pool statistics. WaitCount and
// WaitDuration come from database/sql and count waits for a free connection.
type PoolStats struct {
	Driver            string        `json:"driver"`
	OpenConnections   int           `json:"open_connections"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	Acquires          int64         `json:"acquires"`
	Queries           int64         `json:"queries"`
	SlowQueries       int64         `json:"slow_queries"`
	LastHealthCheck   time.Time     `json:"last_health_check"`
	HealthCheckStatus string        `json:"health_check_status"`
	HealthCheckError  string        `json:"health_check_error,omitempty"`
}

// health is the outcome of the latest probe.
type health struct {
	status string
	detail string
	at     time.Time
}

type connectionPool struct {
	db     *sql.DB
	config Config
	dbName string
	logger zerolog.Logger

	closed atomic.Bool
	health atomic.Pointer[health]
	stop   context.CancelFunc

	acquires    atomic.Int64
	queries     atomic.Int64
	slowQueries atomic.Int64
}

// withDefaults fills unset limits. An in-memory sqlite database exists per
// connection, so it is pinned to one.
func (c Config) withDefaults(dsn string) Config {
	if c.MaxOpenConnections <= 0 {
		c.MaxOpenConnections = 25
	}
	if c.MaxIdleConnections <= 0 {
		c.MaxIdleConnections = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	if c.ConnMaxIdleTime <= 0 {
		c.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.SlowQueryThreshold <= 0 {
		c.SlowQueryThreshold = time.Second
	}
	if c.Driver == DriverSQLite && isMemoryDSN(dsn) {
		c.MaxOpenConnections = 1
		c.MaxIdleConnections = 1
	}
	return c
}

// New opens a pool for cfg.Driver and probes it once. An empty driver is
// detected from the DSN.
func New(cfg Config, logger zerolog.Logger) (ConnectionPool, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDriver(cfg.DSN)
	}
	driver, err := NormalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	cfg.Driver = driver

	dsn, err := driverDSN(driver, cfg.DSN)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInvalidRequest, "invalid connection string")
	}
	cfg = cfg.withDefaults(dsn)

	logger.Info().
		Str("driver", driver).
		Str("dsn", maskDSN(cfg.DSN)).
		Int("max_open", cfg.MaxOpenConnections).
		Int("max_idle", cfg.MaxIdleConnections).
		Msg("Opening connection pool")

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to open database")
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	p := &connectionPool{
		db:     db,
		config: cfg,
		dbName: DatabaseName(driver, cfg.DSN),
		logger: logger,
	}
	p.health.Store(&health{status: "unknown"})

	probeCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()
	if err := p.HealthCheck(probeCtx); err != nil {
		db.Close()
		return nil, pkgerrors.Wrapf(err, pkgerrors.CodeConnectionFailed, "cannot reach %s database %q", driver, p.dbName)
	}

	ctx, stop := context.WithCancel(context.Background())
	p.stop = stop
	if cfg.HealthCheckPeriod > 0 {
		go p.probeLoop(ctx)
	}

	logger.Info().Str("driver", driver).Str("database", p.dbName).Msg("Connection pool ready")
	return p, nil
}

// Get returns the database handle after a ping.
func (p *connectionPool) Get(ctx context.Context) (*sql.DB, error) {
	if p.closed.Load() {
		return nil, pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}
	p.acquires.Add(1)
	if err := p.db.PingContext(ctx); err != nil {
		p.logger.Error().Err(err).Str("database", p.dbName).Msg("Database ping failed")
		return nil, pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "database connection failed")
	}
	return p.db, nil
}

func (p *connectionPool) Driver() string { return p.config.Driver }

func (p *connectionPool) DatabaseName() string { return p.dbName }

// Stats combines database/sql statistics with the pool's own counters.
func (p *connectionPool) Stats() PoolStats {
	db := p.db.Stats()
	h := p.health.Load()
	return PoolStats{
		Driver:            p.config.Driver,
		OpenConnections:   db.OpenConnections,
		InUse:             db.InUse,
		Idle:              db.Idle,
		WaitCount:         db.WaitCount,
		WaitDuration:      db.WaitDuration,
		Acquires:          p.acquires.Load(),
		Queries:           p.queries.Load(),
		SlowQueries:       p.slowQueries.Load(),
		LastHealthCheck:   h.at,
		HealthCheckStatus: h.status,
		HealthCheckError:  h.detail,
	}
}

// HealthCheck pings the database and runs SELECT 1.
func (p *connectionPool) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return pkgerrors.New(pkgerrors.CodeUnavailable, "connection pool is closed")
	}

	var one int
	err := p.db.PingContext(ctx)
	if err == nil {
		err = p.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	}
	if err == nil && one != 1 {
		err = fmt.Errorf("SELECT 1 returned %d", one)
	}
	if err != nil {
		p.setHealth("unhealthy", err.Error())
		return pkgerrors.Wrap(err, pkgerrors.CodeConnectionFailed, "health check failed")
	}
	p.setHealth("healthy", "")
	return nil
}

// LogQuery counts a query and logs it, at warn level once it exceeds the
// slow-query threshold.
func (p *connectionPool) LogQuery(query string, duration time.Duration, err error) {
	p.queries.Add(1)
	event := p.logger.Debug()
	if duration > p.config.SlowQueryThreshold {
		p.slowQueries.Add(1)
		event = p.logger.Warn().Bool("slow_query", true)
	}
	if err != nil {
		event = event.AnErr("query_error", err)
	}
	event.
		Dur("duration", duration).
		Str("query", truncateQuery(query)).
		Msg("Query executed")
}

// Close stops the probe loop and closes the database. Later calls are no-ops.
func (p *connectionPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.logger.Info().Str("driver", p.config.Driver).Str("database", p.dbName).Msg("Closing connection pool")
	if p.stop != nil {
		p.stop()
	}
	if err := p.db.Close(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeInternal, "failed to close database")
	}
	return nil
}

func (p *connectionPool) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.HealthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := p.HealthCheck(probeCtx); err != nil && ctx.Err() == nil {
				p.logger.Error().Err(err).Str("database", p.dbName).Msg("Periodic health check failed")
			}
			cancel()
		}
	}
}

// setHealth records a probe result and logs transitions.
func (p *connectionPool) setHealth(status, detail string) {
	prev := p.health.Swap(&health{status: status, detail: detail, at: time.Now()})
	if prev != nil && prev.status != status && prev.status != "unknown" {
		p.logger.Warn().
			Str("from", prev.status).
			Str("to", status).
			Str("detail", detail).
			Msg("Connection pool health changed")
	}
}

// maskDSN hides passwords and secret query parameters but keeps enough of the
// string to be recognisable in logs.
//
//   - ":memory:" or empty → returned verbatim
//   - URL-like DSNs       → redact user password and sensitive query params
//   - anything else       → keep first/last 3 runes, mask the middle
func maskDSN(dsn string) string {
	if dsn == "" || isMemoryDSN(dsn) {
		return dsn
	}

	u, err := url.Parse(dsn)
	if err == nil && looksLikeURL(u) {
		if ui := u.User; ui != nil {
			user := ui.Username()
			if _, hasPass := ui.Password(); hasPass {
				u.User = url.UserPassword(user, "*****")
			} else {
				u.User = url.User(user)
			}
		}

		q := u.Query()
		for k := range q {
			if isSensitiveKey(k) {
				q.Set(k, "*****")
			}
		}
		u.RawQuery = q.Encode()
		return u.String()
	}

	runes := []rune(dsn)
	if len(runes) <= 10 {
		return "***"
	}
	return string(runes[:3]) + "***" + string(runes[len(runes)-3:])
}

func looksLikeURL(u *url.URL) bool {
	return u.Scheme != "" || u.Host != "" || u.User != nil || u.RawQuery != ""
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	switch {
	case strings.Contains(key, "pass"),
		strings.Contains(key, "token"),
		strings.Contains(key, "secret"),
		strings.HasSuffix(key, "key"):
		return true
	default:
		return false
	}
}

func truncateQuery(query string) string {
	const maxLen = 100
	if len(query) <= maxLen {
		return query
	}
	return query[:maxLen] + "..."
}
