package explorer

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories/sqldb"
)

const shopSchema = `
CREATE TABLE customers (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	city TEXT
);
CREATE TABLE orders (
	id INTEGER PRIMARY KEY,
	customer_id INTEGER NOT NULL REFERENCES customers(id),
	amount REAL DEFAULT 0
);
CREATE INDEX idx_orders_customer ON orders(customer_id);
INSERT INTO customers VALUES (1, 'Ada', 'London'), (2, 'Linus', 'Helsinki'), (3, 'Grace', 'London');
INSERT INTO orders VALUES (1, 1, 10), (2, 1, 15), (3, 2, 7.5), (4, 3, 2), (5, 3, 3), (6, 3, 4);
`

func setupTestSQLExplorer(t *testing.T, opts ...SQLOption) *SQLExplorer {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	p, err := pool.New(pool.Config{Driver: pool.DriverSQLite, DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	db, err := p.Get(context.Background())
	require.NoError(t, err)
	_, err = db.Exec(shopSchema)
	require.NoError(t, err)

	repo, err := sqldb.NewRepository(p, logger)
	require.NoError(t, err)
	return NewSQLExplorer(repo, logger, opts...)
}

func TestSQLExplorer_ExploreDatabase(t *testing.T) {
	e := setupTestSQLExplorer(t)

	snap, err := e.ExploreDatabase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.BackendSQL, snap.Backend)
	require.Len(t, snap.Tables, 2)

	orders := snap.Tables["orders"]
	assert.Equal(t, int64(6), orders.Count)
	assert.Equal(t, []string{"id"}, orders.PrimaryKey)
	assert.Equal(t, 5, orders.SampleRows.Len(), "sample is capped")
	require.Len(t, orders.Indexes, 1)
	assert.Equal(t, "idx_orders_customer", orders.Indexes[0].Name)

	require.Len(t, snap.Relationships, 1)
	rel := snap.Relationships[0]
	assert.Equal(t, "orders", rel.From)
	assert.Equal(t, []string{"customer_id"}, rel.FromFields)
	assert.Equal(t, "customers", rel.To)
	assert.Equal(t, []string{"id"}, rel.ToFields)
	assert.Equal(t, models.ConfidenceHigh, rel.Confidence)

	notes := e.GenerateNotes()
	assert.True(t, strings.HasPrefix(notes, "## SQL Database: memory\n"))
	assert.Contains(t, notes, "Found 2 tables")
	assert.Contains(t, notes, "### customers\n- Row count: 3\n- Columns: id, name, city\n- Primary Key: id\n")
	assert.Contains(t, notes, "- orders(customer_id) → customers(id)")
	assert.Contains(t, notes, "- name: TEXT\n  - NOT NULL\n")
	assert.Contains(t, notes, "- amount: REAL\n  - Default: 0\n")
	assert.Contains(t, notes, "- idx_orders_customer: (customer_id)")
	assert.Contains(t, notes, "#### Sample Data\n```json\n{\n  \"id\": 1,")
}

func TestSQLExplorer_ExecuteQuery(t *testing.T) {
	e := setupTestSQLExplorer(t)
	ctx := context.Background()

	t.Run("built select", func(t *testing.T) {
		result, err := e.ExecuteQuery(ctx, "customers", models.QueryParams{
			Where:   "city = 'London'",
			OrderBy: "id DESC",
			Limit:   1,
		})
		require.NoError(t, err)
		require.Equal(t, 1, result.Len())
		assert.Equal(t, "Grace", result.Row(0).Map()["name"])
	})

	t.Run("raw query wins", func(t *testing.T) {
		result, err := e.ExecuteQuery(ctx, "ignored", models.QueryParams{Query: "SELECT COUNT(*) AS n FROM orders"})
		require.NoError(t, err)
		assert.EqualValues(t, 6, result.Rows[0][0])
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := e.ExecuteQuery(ctx, "ghosts", models.QueryParams{})
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("bad clause", func(t *testing.T) {
		_, err := e.ExecuteQuery(ctx, "customers", models.QueryParams{Where: "nope ="})
		assert.Equal(t, errors.CodeQueryFailed, errors.GetCode(err))
	})
}

func TestSQLExplorer_ExecuteAggregation(t *testing.T) {
	e := setupTestSQLExplorer(t)
	ctx := context.Background()

	result, err := e.ExecuteAggregation(ctx, "orders", models.AggregationParams{
		GroupBy:      []string{"customer_id"},
		Aggregations: map[string]string{"amount": "SUM", "*": "COUNT"},
		Having:       "COUNT(*) > 1",
		OrderBy:      "customer_id",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"customer_id", "count_all", "sum_amount"}, result.Columns)
	require.Equal(t, 2, result.Len())
	assert.EqualValues(t, 3, result.Rows[1][1])
	assert.EqualValues(t, 9, result.Rows[1][2])

	_, err = e.ExecuteAggregation(ctx, "orders", models.AggregationParams{Aggregations: map[string]string{"amount": "SUM"}})
	assert.True(t, errors.IsInvalidRequest(err))
}

func TestSQLExplorer_StatementValidator(t *testing.T) {
	e := setupTestSQLExplorer(t, WithStatementValidator(func(q string) error {
		if strings.Contains(strings.ToUpper(q), "DELETE") {
			return errors.ErrUnsafeStatement
		}
		return nil
	}))

	_, err := e.ExecuteQuery(context.Background(), "", models.QueryParams{Query: "DELETE FROM orders"})
	assert.Equal(t, errors.CodeUnsafeStatement, errors.GetCode(err))

	n, err := e.Count(context.Background(), "orders", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}

func TestSQLExplorer_Helpers(t *testing.T) {
	e := setupTestSQLExplorer(t)
	ctx := context.Background()

	n, err := e.Count(ctx, "customers", json.RawMessage(`"city = 'London'"`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = e.Count(ctx, "customers", json.RawMessage(`{"city":"London"}`))
	assert.True(t, errors.IsInvalidRequest(err))

	values, err := e.Distinct(ctx, "customers", "city", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"Helsinki", "London"}, values)

	sample, err := e.Sample(ctx, "orders", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sample.Len())

	tables, err := e.Entities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, tables)

	status := e.ConnectionStatus(ctx)
	assert.True(t, status.Connected)
	assert.Equal(t, 2, status.EntityCount)
}

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name   string
		params models.QueryParams
		want   string
	}{
		{"defaults", models.QueryParams{}, `SELECT * FROM "t" LIMIT 100`},
		{"all clauses", models.QueryParams{Where: "a > 1", OrderBy: "a", Limit: 5, Offset: 10},
			`SELECT * FROM "t" WHERE a > 1 ORDER BY a LIMIT 5 OFFSET 10`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildSelect(`"t"`, tt.params))
		})
	}
}

func TestSnapshotSaveLoad(t *testing.T) {
	e := setupTestSQLExplorer(t)
	snap, err := e.ExploreDatabase(context.Background())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, SaveSnapshot(path, snap))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, snap.DatabaseName, loaded.DatabaseName)
	assert.Equal(t, snap.Relationships, loaded.Relationships)

	fresh := setupTestSQLExplorer(t)
	fresh.LoadSnapshot(loaded)
	assert.Contains(t, fresh.GenerateNotes(), "### orders")

	assert.Error(t, SaveSnapshot(path, nil))
	_, err = LoadSnapshot(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.IsNotFound(err))
}
