// Package repositories defines interfaces for data access operations.
package repositories

import (
	"context"
	"encoding/json"

	"github.com/TFMV/quarry/pkg/models"
)

// SchemaRepository introspects a relational database.
type SchemaRepository interface {
	// DatabaseName returns the name of the connected database.
	DatabaseName() string
	// Dialect returns the SQL dialect in use.
	Dialect() string
	// ListTables returns the user tables, sorted by name.
	ListTables(ctx context.Context) ([]string, error)
	// GetColumns returns the declared columns of a table in ordinal order.
	GetColumns(ctx context.Context, table string) ([]models.ColumnInfo, error)
	// GetPrimaryKey returns the primary key columns of a table.
	GetPrimaryKey(ctx context.Context, table string) ([]string, error)
	// GetForeignKeys returns the foreign keys declared on a table.
	GetForeignKeys(ctx context.Context, table string) ([]models.ForeignKey, error)
	// GetIndexes returns the indexes of a table.
	GetIndexes(ctx context.Context, table string) ([]models.IndexInfo, error)
	// CountRows returns the number of rows in a table.
	CountRows(ctx context.Context, table string) (int64, error)
}

// QueryRepository executes SQL against a relational database.
type QueryRepository interface {
	// Query runs a statement and collects every row.
	Query(ctx context.Context, query string, args ...interface{}) (*models.TabularResult, error)
	// QuoteIdentifier quotes a table or column name for the dialect.
	QuoteIdentifier(name string) string
	// Ping checks that the database is reachable.
	Ping(ctx context.Context) error
}

// SQLRepository combines schema introspection and query execution.
type SQLRepository interface {
	SchemaRepository
	QueryRepository
}

// FindOptions are the options of a document find. Filter and Projection are
// extended JSON objects.
type FindOptions struct {
	Filter     json.RawMessage
	Projection json.RawMessage
	Sort       []models.SortField
	Limit      int64
	Skip       int64
}

// DocumentRepository accesses a document database.
type DocumentRepository interface {
	// DatabaseName returns the name of the connected database.
	DatabaseName() string
	// Ping checks that the server is reachable.
	Ping(ctx context.Context) error
	// ListCollections returns the collection names, sorted.
	ListCollections(ctx context.Context) ([]string, error)
	// CountDocuments counts documents matching filter.
	CountDocuments(ctx context.Context, collection string, filter json.RawMessage) (int64, error)
	// Find returns documents matching opts.
	Find(ctx context.Context, collection string, opts FindOptions) ([]models.Document, error)
	// Aggregate runs an aggregation pipeline.
	Aggregate(ctx context.Context, collection string, pipeline []json.RawMessage) ([]models.Document, error)
	// Distinct returns the distinct values of field among documents matching filter.
	Distinct(ctx context.Context, collection, field string, filter json.RawMessage) ([]interface{}, error)
	// ListIndexes returns the indexes of a collection.
	ListIndexes(ctx context.Context, collection string) ([]models.IndexInfo, error)
	// CollectionStats returns server statistics for a collection.
	CollectionStats(ctx context.Context, collection string) (map[string]interface{}, error)
	// DatabaseStats returns server statistics for the database.
	DatabaseStats(ctx context.Context) (map[string]interface{}, error)
}
