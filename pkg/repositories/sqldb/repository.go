// Package sqldb provides the relational repository used by the SQL explorer.
// It supports PostgreSQL, MySQL, SQLite and DuckDB through database/sql.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// repository implements repositories.SQLRepository.
type repository struct {
	pool    pool.ConnectionPool
	dialect dialect
	logger  zerolog.Logger
}

// NewRepository creates a repository for the pool's driver.
func NewRepository(p pool.ConnectionPool, logger zerolog.Logger) (repositories.SQLRepository, error) {
	d, ok := dialects[p.Driver()]
	if !ok {
		return nil, errors.Newf(errors.CodeUnimplemented, "no dialect for driver %q", p.Driver())
	}
	return &repository{
		pool:    p,
		dialect: d,
		logger:  logger.With().Str("dialect", d.name).Logger(),
	}, nil
}

func (r *repository) DatabaseName() string {
	return r.pool.DatabaseName()
}

func (r *repository) Dialect() string {
	return r.dialect.name
}

func (r *repository) QuoteIdentifier(name string) string {
	return r.dialect.quote(name)
}

func (r *repository) Ping(ctx context.Context) error {
	_, err := r.pool.Get(ctx)
	return err
}

// ListTables returns the user tables, sorted by name.
func (r *repository) ListTables(ctx context.Context) ([]string, error) {
	r.logger.Debug().Msg("Listing tables")

	tables, err := r.strings(ctx, r.dialect.tables)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMetadataFailed, "failed to list tables")
	}
	return tables, nil
}

// GetColumns returns the declared columns of a table.
func (r *repository) GetColumns(ctx context.Context, table string) ([]models.ColumnInfo, error) {
	r.logger.Debug().Str("table", table).Msg("Getting columns")

	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, r.dialect.columns, table)
	if err != nil {
		r.logger.Error().Err(err).Str("table", table).Msg("Failed to query columns")
		return nil, errors.Wrapf(err, errors.CodeMetadataFailed, "failed to get columns of %s", table)
	}
	defer rows.Close()

	var columns []models.ColumnInfo
	for rows.Next() {
		var (
			name, typ, nullable string
			def                 sql.NullString
		)
		if err := rows.Scan(&name, &typ, &nullable, &def); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan column row")
		}
		col := models.ColumnInfo{
			Name:     name,
			Type:     strings.ToUpper(typ),
			Nullable: strings.EqualFold(nullable, "YES"),
		}
		if def.Valid {
			d := def.String
			col.Default = &d
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "error iterating column rows")
	}

	if len(columns) == 0 {
		return nil, errors.ErrTableNotFound.WithDetail("table", table)
	}
	return columns, nil
}

// GetPrimaryKey returns the primary key columns of a table.
func (r *repository) GetPrimaryKey(ctx context.Context, table string) ([]string, error) {
	pk, err := r.strings(ctx, r.dialect.primaryKey, table)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeMetadataFailed, "failed to get primary key of %s", table)
	}
	return pk, nil
}

// GetForeignKeys returns the foreign keys declared on a table.
func (r *repository) GetForeignKeys(ctx context.Context, table string) ([]models.ForeignKey, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, r.dialect.foreignKeys, table)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeMetadataFailed, "failed to get foreign keys of %s", table)
	}
	defer rows.Close()

	var (
		fks   []models.ForeignKey
		index = map[string]int{}
	)
	for rows.Next() {
		var name, column, refTable string
		var refColumn sql.NullString
		if err := rows.Scan(&name, &column, &refTable, &refColumn); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan foreign key row")
		}
		i, ok := index[name]
		if !ok {
			i = len(fks)
			index[name] = i
			fk := models.ForeignKey{Name: name, ReferredTable: refTable}
			if r.dialect.anonFKs {
				fk.Name = ""
			}
			fks = append(fks, fk)
		}
		fks[i].Columns = appendUnique(fks[i].Columns, column)
		if refColumn.Valid && refColumn.String != "" {
			fks[i].ReferredColumns = appendUnique(fks[i].ReferredColumns, refColumn.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "error iterating foreign key rows")
	}
	rows.Close()

	// SQLite leaves the referred column empty when it is the primary key.
	for i := range fks {
		if len(fks[i].ReferredColumns) == 0 {
			pk, err := r.GetPrimaryKey(ctx, fks[i].ReferredTable)
			if err != nil {
				return nil, err
			}
			fks[i].ReferredColumns = pk
		}
	}
	return fks, nil
}

// GetIndexes returns the non-primary indexes of a table.
func (r *repository) GetIndexes(ctx context.Context, table string) ([]models.IndexInfo, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, r.dialect.indexes, table)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeMetadataFailed, "failed to get indexes of %s", table)
	}
	defer rows.Close()

	var (
		indexes []models.IndexInfo
		index   = map[string]int{}
	)
	for rows.Next() {
		var (
			name   string
			unique interface{}
			column sql.NullString
		)
		if err := rows.Scan(&name, &unique, &column); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan index row")
		}
		i, ok := index[name]
		if !ok {
			i = len(indexes)
			index[name] = i
			indexes = append(indexes, models.IndexInfo{Name: name, Unique: truthy(unique), Columns: []string{}})
		}
		if !column.Valid {
			continue
		}
		if r.dialect.indexSQL {
			indexes[i].Columns = indexColumnsFromSQL(column.String)
			continue
		}
		indexes[i].Columns = append(indexes[i].Columns, column.String)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "error iterating index rows")
	}
	return indexes, nil
}

// CountRows returns the number of rows in a table.
func (r *repository) CountRows(ctx context.Context, table string) (int64, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	query := "SELECT COUNT(*) FROM " + r.dialect.quote(table)
	if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.Wrapf(err, errors.CodeQueryFailed, "failed to count rows of %s", table)
	}
	return count, nil
}

// Query runs a statement and collects every row.
func (r *repository) Query(ctx context.Context, query string, args ...interface{}) (*models.TabularResult, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		r.pool.LogQuery(query, time.Since(start), err)
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to execute query")
	}
	defer rows.Close()

	result, err := Collect(rows)
	elapsed := time.Since(start)
	r.pool.LogQuery(query, elapsed, err)
	if err != nil {
		return nil, err
	}
	result.ExecutionTime = elapsed
	return result, nil
}

func (r *repository) strings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Collect drains rows into a TabularResult.
func Collect(rows *sql.Rows) (*models.TabularResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read result columns")
	}

	result := models.NewTabularResult(columns...)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan row")
		}
		for i, v := range values {
			values[i] = NormalizeValue(v)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "error iterating rows")
	}
	return result, nil
}

// NormalizeValue converts driver-specific values into plain Go values.
func NormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(val)
	case time.Time:
		return val
	case *big.Int:
		if val.IsInt64() {
			return val.Int64()
		}
		return val.String()
	case interface{ Float64() float64 }:
		return val.Float64()
	case fmt.Stringer:
		return val.String()
	default:
		return v
	}
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case bool:
		return val
	case int64:
		return val != 0
	case int32:
		return val != 0
	case int:
		return val != 0
	case []byte:
		return string(val) == "1" || strings.EqualFold(string(val), "true")
	case string:
		return val == "1" || strings.EqualFold(val, "true")
	default:
		return false
	}
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
