package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/explorer"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/repositories/sqldb"
)

func setupSQLToolbox(t *testing.T) *Toolbox {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))

	p, err := pool.New(pool.Config{Driver: pool.DriverSQLite, DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	db, err := p.Get(context.Background())
	require.NoError(t, err)
	_, err = db.Exec(`
CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT NOT NULL, city TEXT);
INSERT INTO customers VALUES (1, 'Ada', 'London'), (2, 'Linus', 'Helsinki'), (3, 'Grace', 'London');
`)
	require.NoError(t, err)

	repo, err := sqldb.NewRepository(p, logger)
	require.NoError(t, err)
	return NewToolbox(explorer.NewSQLExplorer(repo, logger), logger)
}

func TestToolbox_SQLFilters(t *testing.T) {
	tb := setupSQLToolbox(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		filter    string
		wantCount int
		wantIDs   string
	}{
		{name: "no filter", wantCount: 3, wantIDs: "[1,2,3]"},
		{name: "where", filter: `"where": "city = 'London'"`, wantCount: 2, wantIDs: "[1,3]"},
		{name: "filter string", filter: `"filter": "city = 'London'"`, wantCount: 2, wantIDs: "[1,3]"},
		{name: "query string", filter: `"query": "city = 'London'"`, wantCount: 2, wantIDs: "[1,3]"},
		{name: "filter wins over where", filter: `"filter": "id = 2", "where": "city = 'London'"`, wantCount: 1, wantIDs: "[2]"},
		{name: "where wins over query", filter: `"where": "id = 1", "query": "city = 'London'"`, wantCount: 1, wantIDs: "[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := `{"table": "customers"`
			if tt.filter != "" {
				args += ", " + tt.filter
			}
			args += "}"

			out := tb.Call(ctx, call(ToolCountDocuments, args))
			assert.True(t, strings.HasPrefix(out, fmt.Sprintf("Table 'customers' contains %d rows", tt.wantCount)), out)
			if tt.filter != "" {
				assert.Contains(t, out, "matching query")
			}

			args = strings.Replace(args, `"table": "customers"`, `"table": "customers", "field": "id"`, 1)
			out = tb.Call(ctx, call(ToolGetDistinctValues, args))
			assert.Equal(t, fmt.Sprintf("Found %d distinct values for field 'id' in table 'customers'.\nValues: %s", tt.wantCount, tt.wantIDs), out)
		})
	}

	t.Run("bad where is reported", func(t *testing.T) {
		out := tb.Call(ctx, call(ToolCountDocuments, `{"table": "customers", "query": "no_such_column = 1"}`))
		assert.True(t, strings.HasPrefix(out, "Error"), out)
	})
}

func TestToolbox_MongoRejectsStringQuery(t *testing.T) {
	tb, x := setupTestToolbox()
	x.countFunc = func(ctx context.Context, entity string, filter json.RawMessage) (int64, error) {
		t.Fatal("count must not run")
		return 0, nil
	}
	ctx := context.Background()

	assert.Equal(t, "Error: Invalid query JSON format", tb.Call(ctx, call(ToolCountDocuments, `{"collection": "users", "query": "age > 3"}`)))
	assert.Equal(t, "Error: Invalid query JSON format", tb.Call(ctx, call(ToolGetDistinctValues, `{"collection": "users", "field": "age", "query": "age > 3"}`)))
}
