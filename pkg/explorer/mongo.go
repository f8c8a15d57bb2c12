package explorer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// MongoExplorer explores a document database.
type MongoExplorer struct {
	snapshotStore
	repo   repositories.DocumentRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewMongoExplorer creates an explorer over a document repository.
func NewMongoExplorer(repo repositories.DocumentRepository, logger zerolog.Logger) *MongoExplorer {
	return &MongoExplorer{
		repo:   repo,
		logger: logger.With().Str("component", "mongo_explorer").Logger(),
		now:    time.Now,
	}
}

func (e *MongoExplorer) Backend() string      { return models.BackendMongoDB }
func (e *MongoExplorer) EntityKind() string   { return "collection" }
func (e *MongoExplorer) DatabaseName() string { return e.repo.DatabaseName() }

// ExploreDatabase samples every collection, infers field types and guesses
// relationships between collections.
func (e *MongoExplorer) ExploreDatabase(ctx context.Context) (*models.Snapshot, error) {
	e.logger.Info().Str("database", e.repo.DatabaseName()).Msg("Exploring database")
	start := time.Now()

	names, err := e.repo.ListCollections(ctx)
	if err != nil {
		return nil, err
	}

	snap := &models.Snapshot{
		Backend:      models.BackendMongoDB,
		DatabaseName: e.repo.DatabaseName(),
		Timestamp:    e.now(),
		Collections:  make(map[string]*models.CollectionInfo, len(names)),
	}

	for _, name := range names {
		info, err := e.exploreCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		snap.Collections[name] = info
	}
	snap.Relationships = InferRelationships(names, snap.Collections)

	e.store(snap)
	e.logger.Info().
		Int("collections", len(names)).
		Int("relationships", len(snap.Relationships)).
		Dur("duration", time.Since(start)).
		Msg("Database explored")
	return snap, nil
}

func (e *MongoExplorer) exploreCollection(ctx context.Context, name string) (*models.CollectionInfo, error) {
	info := &models.CollectionInfo{
		Fields:          []models.FieldInfo{},
		SampleDocuments: []models.Document{},
	}

	count, err := e.repo.CountDocuments(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	info.Count = count

	stats, err := e.repo.CollectionStats(ctx, name)
	if err != nil {
		e.logger.Warn().Err(err).Str("collection", name).Msg("Collection stats unavailable")
		info.StatsError = err.Error()
	} else {
		info.Stats = stats
	}

	if n := sampleSize(count); n > 0 {
		docs, err := e.repo.Find(ctx, name, repositories.FindOptions{
			Sort:  []models.SortField{{Field: "_id", Direction: 1}},
			Limit: n,
		})
		if err != nil {
			return nil, err
		}
		info.SampleDocuments = docs
		info.Fields = InferFields(docs)
	}

	indexes, err := e.repo.ListIndexes(ctx, name)
	if err != nil {
		return nil, err
	}
	info.Indexes = indexes
	return info, nil
}

// GenerateNotes renders the last snapshot as Markdown.
func (e *MongoExplorer) GenerateNotes() string {
	return GenerateNotes(e.Snapshot())
}

// ExecuteQuery runs a find. A missing collection yields an empty result.
func (e *MongoExplorer) ExecuteQuery(ctx context.Context, collection string, params models.QueryParams) (*models.TabularResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	docs, err := e.repo.Find(ctx, collection, repositories.FindOptions{
		Filter:     params.Filter,
		Projection: params.Projection,
		Sort:       params.Sort,
		Limit:      limit,
		Skip:       params.Offset,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("collection", collection).Msg("Query failed")
		return nil, err
	}
	return models.TabularFromDocuments(docs), nil
}

// ExecuteAggregation runs an aggregation pipeline.
func (e *MongoExplorer) ExecuteAggregation(ctx context.Context, collection string, params models.AggregationParams) (*models.TabularResult, error) {
	docs, err := e.repo.Aggregate(ctx, collection, params.Pipeline)
	if err != nil {
		e.logger.Error().Err(err).Str("collection", collection).Msg("Aggregation failed")
		return nil, err
	}
	result := models.TabularFromDocuments(docs)
	if params.Limit > 0 {
		result = result.Head(int(params.Limit))
	}
	return result, nil
}

func (e *MongoExplorer) Entities(ctx context.Context) ([]string, error) {
	return e.repo.ListCollections(ctx)
}

// Sample returns up to n documents of an existing collection, ordered by _id.
func (e *MongoExplorer) Sample(ctx context.Context, collection string, n int) (*models.TabularResult, error) {
	if err := e.requireCollection(ctx, collection); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = SampleSize
	}
	docs, err := e.repo.Find(ctx, collection, repositories.FindOptions{
		Sort:  []models.SortField{{Field: "_id", Direction: 1}},
		Limit: int64(n),
	})
	if err != nil {
		return nil, err
	}
	return models.TabularFromDocuments(docs), nil
}

func (e *MongoExplorer) Count(ctx context.Context, collection string, filter json.RawMessage) (int64, error) {
	if err := e.requireCollection(ctx, collection); err != nil {
		return 0, err
	}
	return e.repo.CountDocuments(ctx, collection, filter)
}

func (e *MongoExplorer) Distinct(ctx context.Context, collection, field string, filter json.RawMessage) ([]interface{}, error) {
	if err := e.requireCollection(ctx, collection); err != nil {
		return nil, err
	}
	return e.repo.Distinct(ctx, collection, field, filter)
}

// ConnectionStatus pings the server and reports database statistics.
func (e *MongoExplorer) ConnectionStatus(ctx context.Context) *models.ConnectionStatus {
	status := &models.ConnectionStatus{DatabaseName: e.repo.DatabaseName()}

	if err := e.repo.Ping(ctx); err != nil {
		status.Error = err.Error()
		return status
	}
	status.Connected = true

	names, err := e.repo.ListCollections(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.EntityCount = len(names)

	stats, err := e.repo.DatabaseStats(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Database stats unavailable")
		return status
	}
	status.DatabaseStats = stats
	return status
}

func (e *MongoExplorer) requireCollection(ctx context.Context, collection string) error {
	names, err := e.repo.ListCollections(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == collection {
			return nil
		}
	}
	return errors.ErrCollectionNotFound.WithDetail("collection", collection)
}
