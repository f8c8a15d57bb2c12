// Package explorer implements database exploration over document and
// relational backends: it builds a snapshot of the database structure, infers
// relationships, runs queries and renders the snapshot as Markdown notes.
package explorer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/TFMV/quarry/pkg/models"
)

const (
	// SampleSize is the maximum number of documents or rows sampled per entity.
	SampleSize = 5
	// DefaultQueryLimit bounds queries that do not set a limit.
	DefaultQueryLimit = 100
)

// NotExploredMessage is returned by GenerateNotes before any exploration.
const NotExploredMessage = "Database has not been explored yet. Call explore_database() first."

// DatabaseExplorer explores one database and runs queries against it.
// Every operation is a single synchronous round trip to the backend.
type DatabaseExplorer interface {
	// Backend returns models.BackendMongoDB or models.BackendSQL.
	Backend() string
	// EntityKind is "collection" or "table".
	EntityKind() string
	// DatabaseName returns the name of the explored database.
	DatabaseName() string

	// ExploreDatabase rebuilds and stores the exploration snapshot.
	ExploreDatabase(ctx context.Context) (*models.Snapshot, error)
	// Snapshot returns the last snapshot, or nil before exploration.
	Snapshot() *models.Snapshot
	// GenerateNotes renders the last snapshot as Markdown.
	GenerateNotes() string

	// ExecuteQuery runs a find-style query on one collection or table.
	ExecuteQuery(ctx context.Context, entity string, params models.QueryParams) (*models.TabularResult, error)
	// ExecuteAggregation runs an aggregation on one collection or table.
	ExecuteAggregation(ctx context.Context, entity string, params models.AggregationParams) (*models.TabularResult, error)

	// Entities lists the collections or tables.
	Entities(ctx context.Context) ([]string, error)
	// Sample returns up to n documents or rows, ordered by identity.
	Sample(ctx context.Context, entity string, n int) (*models.TabularResult, error)
	// Count counts documents or rows matching filter. The filter is extended
	// JSON for document backends and a WHERE expression for SQL backends.
	Count(ctx context.Context, entity string, filter json.RawMessage) (int64, error)
	// Distinct returns the distinct values of field.
	Distinct(ctx context.Context, entity, field string, filter json.RawMessage) ([]interface{}, error)
	// ConnectionStatus reports reachability and size.
	ConnectionStatus(ctx context.Context) *models.ConnectionStatus
}

// snapshotStore guards the last exploration snapshot.
type snapshotStore struct {
	mu       sync.RWMutex
	snapshot *models.Snapshot
}

func (s *snapshotStore) Snapshot() *models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

func (s *snapshotStore) store(snap *models.Snapshot) {
	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}

// LoadSnapshot replaces the stored snapshot, e.g. with one saved earlier.
func (s *snapshotStore) LoadSnapshot(snap *models.Snapshot) {
	s.store(snap)
}

func sampleSize(count int64) int64 {
	if count < SampleSize {
		return count
	}
	return SampleSize
}

var (
	_ DatabaseExplorer = (*MongoExplorer)(nil)
	_ DatabaseExplorer = (*SQLExplorer)(nil)
)
