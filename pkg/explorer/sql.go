package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// StatementValidator rejects statements that must not run, such as writes.
type StatementValidator func(query string) error

// SQLExplorer explores a relational database.
type SQLExplorer struct {
	snapshotStore
	repo     repositories.SQLRepository
	validate StatementValidator
	logger   zerolog.Logger
	now      func() time.Time
}

// SQLOption configures a SQLExplorer.
type SQLOption func(*SQLExplorer)

// WithStatementValidator checks every statement before it is executed.
func WithStatementValidator(v StatementValidator) SQLOption {
	return func(e *SQLExplorer) {
		e.validate = v
	}
}

// NewSQLExplorer creates an explorer over a relational repository.
func NewSQLExplorer(repo repositories.SQLRepository, logger zerolog.Logger, opts ...SQLOption) *SQLExplorer {
	e := &SQLExplorer{
		repo:     repo,
		validate: func(string) error { return nil },
		logger:   logger.With().Str("component", "sql_explorer").Str("dialect", repo.Dialect()).Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *SQLExplorer) Backend() string      { return models.BackendSQL }
func (e *SQLExplorer) EntityKind() string   { return "table" }
func (e *SQLExplorer) DatabaseName() string { return e.repo.DatabaseName() }

// ExploreDatabase reads the schema, keys, indexes, row counts and sample rows
// of every table. Relationships come from declared foreign keys.
func (e *SQLExplorer) ExploreDatabase(ctx context.Context) (*models.Snapshot, error) {
	e.logger.Info().Str("database", e.repo.DatabaseName()).Msg("Exploring database")
	start := time.Now()

	names, err := e.repo.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		Backend:      models.BackendSQL,
		DatabaseName: e.repo.DatabaseName(),
		Timestamp:    e.now(),
		Tables:       make(map[string]*models.TableInfo, len(names)),
	}

	for _, name := range names {
		info, err := e.exploreTable(ctx, name)
		if err != nil {
			return nil, err
		}
		snap.Tables[name] = info
	}
	snap.Relationships = ForeignKeyRelationships(names, snap.Tables)

	e.store(snap)
	e.logger.Info().
		Int("tables", len(names)).
		Int("relationships", len(snap.Relationships)).
		Dur("duration", time.Since(start)).
		Msg("Database explored")
	return snap, nil
}

func (e *SQLExplorer) exploreTable(ctx context.Context, table string) (*models.TableInfo, error) {
	info := &models.TableInfo{}
	var err error

	if info.Columns, err = e.repo.GetColumns(ctx, table); err != nil {
		return nil, err
	}
	if info.PrimaryKey, err = e.repo.GetPrimaryKey(ctx, table); err != nil {
		return nil, err
	}
	if info.ForeignKeys, err = e.repo.GetForeignKeys(ctx, table); err != nil {
		return nil, err
	}
	if info.Indexes, err = e.repo.GetIndexes(ctx, table); err != nil {
		return nil, err
	}
	if info.Count, err = e.repo.CountRows(ctx, table); err != nil {
		return nil, err
	}

	if info.PrimaryKey == nil {
		info.PrimaryKey = []string{}
	}
	if info.ForeignKeys == nil {
		info.ForeignKeys = []models.ForeignKey{}
	}
	if info.Indexes == nil {
		info.Indexes = []models.IndexInfo{}
	}

	info.SampleRows = models.NewTabularResult()
	if n := sampleSize(info.Count); n > 0 {
		query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", e.repo.QuoteIdentifier(table), n)
		if info.SampleRows, err = e.repo.Query(ctx, query); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// GenerateNotes renders the last snapshot as Markdown.
func (e *SQLExplorer) GenerateNotes() string {
	return GenerateNotes(e.Snapshot())
}

// ExecuteQuery runs params.Query when set. Otherwise it selects from table
// with the optional WHERE, ORDER BY, LIMIT and OFFSET clauses.
func (e *SQLExplorer) ExecuteQuery(ctx context.Context, table string, params models.QueryParams) (*models.TabularResult, error) {
	query := params.Query
	if query == "" {
		if err := e.requireTable(ctx, table); err != nil {
			return nil, err
		}
		query = BuildSelect(e.repo.QuoteIdentifier(table), params)
	}
	return e.run(ctx, query)
}

// ExecuteAggregation runs params.Query when set. Otherwise it builds a GROUP
// BY statement from GroupBy and Aggregations (column to function).
func (e *SQLExplorer) ExecuteAggregation(ctx context.Context, table string, params models.AggregationParams) (*models.TabularResult, error) {
	query := params.Query
	if query == "" {
		if err := e.requireTable(ctx, table); err != nil {
			return nil, err
		}
		var err error
		if query, err = BuildAggregation(e.repo.QuoteIdentifier(table), params); err != nil {
			return nil, err
		}
	}
	return e.run(ctx, query)
}

func (e *SQLExplorer) run(ctx context.Context, query string) (*models.TabularResult, error) {
	if err := e.validate(query); err != nil {
		e.logger.Warn().Err(err).Str("query", query).Msg("Statement rejected")
		return nil, err
	}
	result, err := e.repo.Query(ctx, query)
	if err != nil {
		e.logger.Error().Err(err).Str("query", query).Msg("Query failed")
		return nil, err
	}
	return result, nil
}

func (e *SQLExplorer) Entities(ctx context.Context) ([]string, error) {
	return e.repo.ListTables(ctx)
}

// Sample returns up to n rows of an existing table, ordered by primary key
// when the table has one.
func (e *SQLExplorer) Sample(ctx context.Context, table string, n int) (*models.TabularResult, error) {
	if err := e.requireTable(ctx, table); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = SampleSize
	}
	params := models.QueryParams{Limit: int64(n)}
	pk, err := e.repo.GetPrimaryKey(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, c := range pk {
			quoted[i] = e.repo.QuoteIdentifier(c)
		}
		params.OrderBy = strings.Join(quoted, ", ")
	}
	return e.repo.Query(ctx, BuildSelect(e.repo.QuoteIdentifier(table), params))
}

// Count counts rows. filter is a JSON string holding a WHERE expression.
func (e *SQLExplorer) Count(ctx context.Context, table string, filter json.RawMessage) (int64, error) {
	if err := e.requireTable(ctx, table); err != nil {
		return 0, err
	}
	where, err := whereFromFilter(filter)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) AS count FROM " + e.repo.QuoteIdentifier(table)
	if where != "" {
		query += " WHERE " + where
	}
	result, err := e.run(ctx, query)
	if err != nil {
		return 0, err
	}
	if result.Empty() {
		return 0, nil
	}
	return toInt64(result.Rows[0][0]), nil
}

func (e *SQLExplorer) Distinct(ctx context.Context, table, column string, filter json.RawMessage) ([]interface{}, error) {
	if err := e.requireTable(ctx, table); err != nil {
		return nil, err
	}
	where, err := whereFromFilter(filter)
	if err != nil {
		return nil, err
	}
	col := e.repo.QuoteIdentifier(column)
	query := fmt.Sprintf("SELECT DISTINCT %s FROM %s", col, e.repo.QuoteIdentifier(table))
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + col

	result, err := e.run(ctx, query)
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, 0, result.Len())
	for _, row := range result.Rows {
		values = append(values, row[0])
	}
	return values, nil
}

// ConnectionStatus pings the database and counts its tables.
func (e *SQLExplorer) ConnectionStatus(ctx context.Context) *models.ConnectionStatus {
	status := &models.ConnectionStatus{DatabaseName: e.repo.DatabaseName()}

	if err := e.repo.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true

	tables, err := e.repo.ListTables(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.EntityCount = len(tables)
	status.DatabaseStats = map[string]interface{}{"dialect": e.repo.Dialect()}
	return status
}

func (e *SQLExplorer) requireTable(ctx context.Context, table string) error {
	tables, err := e.repo.ListTables(ctx)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if t == table {
			return nil
		}
	}
	return errors.ErrTableNotFound.WithDetail("table", table)
}

// BuildSelect builds SELECT * over an already quoted table name. A missing
// limit becomes DefaultQueryLimit.
func BuildSelect(table string, params models.QueryParams) string {
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(table)
	if params.Where != "" {
		b.WriteString(" WHERE " + params.Where)
	}
	if params.OrderBy != "" {
		b.WriteString(" ORDER BY " + params.OrderBy)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	fmt.Fprintf(&b, " LIMIT %d", limit)
	if params.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", params.Offset)
	}
	return b.String()
}

// BuildAggregation builds a GROUP BY statement over an already quoted table
// name. Aggregated columns are aliased func_column.
func BuildAggregation(table string, params models.AggregationParams) (string, error) {
	if len(params.GroupBy) == 0 {
		return "", errors.New(errors.CodeInvalidRequest, "group_by is required for aggregation")
	}
	if len(params.Aggregations) == 0 {
		return "", errors.New(errors.CodeInvalidRequest, "aggregations are required")
	}

	cols := make([]string, 0, len(params.Aggregations))
	for col := range params.Aggregations {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	exprs := append([]string{}, params.GroupBy...)
	for _, col := range cols {
		fn := params.Aggregations[col]
		exprs = append(exprs, fmt.Sprintf("%s(%s) AS %s_%s", fn, col, strings.ToLower(fn), aliasPart(col)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s GROUP BY %s",
		strings.Join(exprs, ", "), table, strings.Join(params.GroupBy, ", "))
	if params.Having != "" {
		b.WriteString(" HAVING " + params.Having)
	}
	if params.OrderBy != "" {
		b.WriteString(" ORDER BY " + params.OrderBy)
	}
	if params.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", params.Limit)
	}
	return b.String(), nil
}

func aliasPart(col string) string {
	if col == "*" {
		return "all"
	}
	return strings.Trim(col, "\"`")
}

func whereFromFilter(filter json.RawMessage) (string, error) {
	if len(filter) == 0 || string(filter) == "null" {
		return "", nil
	}
	var where string
	if err := json.Unmarshal(filter, &where); err != nil {
		return "", errors.Wrap(err, errors.CodeInvalidRequest, "SQL filter must be a string WHERE expression")
	}
	return strings.TrimSpace(where), nil
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	default:
		return 0
	}
}
