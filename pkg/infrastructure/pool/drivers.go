package pool

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	pkgerrors "github.com/TFMV/quarry/pkg/errors"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverDuckDB   = "duckdb"
)

// NormalizeDriver maps driver aliases onto a supported driver name.
func NormalizeDriver(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg", "pgsql":
		return DriverPostgres, nil
	case "mysql", "mariadb":
		return DriverMySQL, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "duckdb", "":
		return DriverDuckDB, nil
	default:
		return "", pkgerrors.Newf(pkgerrors.CodeInvalidRequest, "unsupported driver %q", name)
	}
}

// DetectDriver guesses the driver from a connection string.
func DetectDriver(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "dbname="):
		return DriverPostgres
	case strings.HasPrefix(lower, "mysql://"), strings.HasPrefix(lower, "mysql+"),
		strings.Contains(lower, "@tcp("):
		return DriverMySQL
	case strings.HasPrefix(lower, "sqlite:"), strings.HasSuffix(lower, ".db"),
		strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return DriverSQLite
	default:
		return DriverDuckDB
	}
}

// driverDSN converts a user-facing connection string into the form the
// registered database/sql driver expects.
func driverDSN(driver, dsn string) (string, error) {
	switch driver {
	case DriverMySQL:
		cfg, err := mysqlConfig(dsn)
		if err != nil {
			return "", err
		}
		return cfg.FormatDSN(), nil
	case DriverSQLite:
		path := trimScheme(dsn, "sqlite")
		if path == "" {
			return ":memory:", nil
		}
		return path, nil
	case DriverDuckDB:
		path := trimScheme(dsn, "duckdb")
		if isMemoryDSN(path) {
			return "", nil
		}
		return path, nil
	default:
		return dsn, nil
	}
}

// mysqlConfig parses either a go-sql-driver DSN or a mysql:// URL.
func mysqlConfig(dsn string) (*mysql.Config, error) {
	lower := strings.ToLower(dsn)
	if !strings.HasPrefix(lower, "mysql://") && !strings.HasPrefix(lower, "mysql+") {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, err
		}
		cfg.ParseTime = true
		return cfg, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = u.Host + ":3306"
	}
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if cfg.DBName == "" {
		return nil, fmt.Errorf("mysql url %q has no database name", maskDSN(dsn))
	}
	return cfg, nil
}

// DatabaseName derives a display name for the database behind dsn.
func DatabaseName(driver, dsn string) string {
	switch driver {
	case DriverMySQL:
		if cfg, err := mysqlConfig(dsn); err == nil {
			return cfg.DBName
		}
	case DriverPostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			return strings.TrimPrefix(u.Path, "/")
		}
		for _, part := range strings.Fields(dsn) {
			if name, ok := strings.CutPrefix(part, "dbname="); ok {
				return strings.Trim(name, "'")
			}
		}
	case DriverSQLite, DriverDuckDB:
		path := trimScheme(dsn, driver)
		if path == "" || isMemoryDSN(path) {
			return "memory"
		}
		base := filepath.Base(path)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}

	// Fall back to the last path segment, cut before any port or options.
	name := dsn[strings.LastIndex(dsn, "/")+1:]
	if i := strings.IndexAny(name, ":?"); i >= 0 {
		name = name[:i]
	}
	return name
}

func trimScheme(dsn, scheme string) string {
	for _, prefix := range []string{scheme + ":///", scheme + "://", scheme + ":"} {
		if strings.HasPrefix(strings.ToLower(dsn), prefix) {
			return dsn[len(prefix):]
		}
	}
	return dsn
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:")
}
