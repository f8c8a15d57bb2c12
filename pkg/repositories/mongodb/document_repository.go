// Package mongodb provides the MongoDB document repository.
package mongodb

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

// DefaultDatabase is used when neither the URI nor the caller names a database.
const DefaultDatabase = "test"

// Config configures a MongoDB connection.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// documentRepository implements repositories.DocumentRepository.
type documentRepository struct {
	client *mongo.Client
	db     *mongo.Database
	logger zerolog.Logger
}

// Connect dials MongoDB and verifies the connection with a ping.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (repositories.DocumentRepository, func(context.Context) error, error) {
	if cfg.URI == "" {
		return nil, nil, errors.New(errors.CodeInvalidRequest, "mongodb uri is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	dbName := cfg.Database
	if dbName == "" {
		cs, err := connstring.ParseAndValidate(cfg.URI)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.CodeInvalidRequest, "invalid mongodb uri")
		}
		dbName = cs.Database
	}
	if dbName == "" {
		dbName = DefaultDatabase
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ConnectTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to connect to mongodb")
	}

	repo := NewDocumentRepository(client, dbName, logger)
	if err := repo.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}

	logger.Info().Str("database", dbName).Msg("Connected to MongoDB")

	return repo, client.Disconnect, nil
}

// NewDocumentRepository wraps an existing client.
func NewDocumentRepository(client *mongo.Client, database string, logger zerolog.Logger) repositories.DocumentRepository {
	return &documentRepository{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}
}

func (r *documentRepository) DatabaseName() string {
	return r.db.Name()
}

func (r *documentRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "mongodb ping failed")
	}
	return nil
}

func (r *documentRepository) ListCollections(ctx context.Context) ([]string, error) {
	r.logger.Debug().Str("database", r.db.Name()).Msg("Listing collections")

	names, err := r.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeMetadataFailed, "failed to list collections")
	}
	sort.Strings(names)
	return names, nil
}

func (r *documentRepository) CountDocuments(ctx context.Context, collection string, filter json.RawMessage) (int64, error) {
	f, err := toBSON(filter)
	if err != nil {
		return 0, err
	}

	count, err := r.db.Collection(collection).CountDocuments(ctx, f)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeQueryFailed, "failed to count documents in %s", collection)
	}
	return count, nil
}

func (r *documentRepository) Find(ctx context.Context, collection string, opts repositories.FindOptions) ([]models.Document, error) {
	r.logger.Debug().
		Str("collection", collection).
		RawJSON("filter", rawOrEmpty(opts.Filter)).
		Int64("limit", opts.Limit).
		Msg("Finding documents")

	filter, err := toBSON(opts.Filter)
	if err != nil {
		return nil, err
	}

	findOpts := options.Find()
	if len(opts.Projection) > 0 {
		projection, err := toBSON(opts.Projection)
		if err != nil {
			return nil, err
		}
		findOpts.SetProjection(projection)
	}
	if len(opts.Sort) > 0 {
		sortDoc := make(bson.D, 0, len(opts.Sort))
		for _, s := range opts.Sort {
			dir := 1
			if s.Direction < 0 {
				dir = -1
			}
			sortDoc = append(sortDoc, bson.E{Key: s.Field, Value: dir})
		}
		findOpts.SetSort(sortDoc)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}

	cursor, err := r.db.Collection(collection).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeQueryFailed, "find on %s failed", collection)
	}
	return decodeAll(ctx, cursor)
}

func (r *documentRepository) Aggregate(ctx context.Context, collection string, pipeline []json.RawMessage) ([]models.Document, error) {
	r.logger.Debug().
		Str("collection", collection).
		Int("stages", len(pipeline)).
		Msg("Running aggregation")

	stages := make(mongo.Pipeline, 0, len(pipeline))
	for _, raw := range pipeline {
		stage, err := toBSON(raw)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}

	cursor, err := r.db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeQueryFailed, "aggregation on %s failed", collection)
	}
	return decodeAll(ctx, cursor)
}

func (r *documentRepository) Distinct(ctx context.Context, collection, field string, filter json.RawMessage) ([]interface{}, error) {
	f, err := toBSON(filter)
	if err != nil {
		return nil, err
	}

	values, err := r.db.Collection(collection).Distinct(ctx, field, f)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeQueryFailed, "distinct %s on %s failed", field, collection)
	}

	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = normalize(v)
	}
	return out, nil
}

func (r *documentRepository) ListIndexes(ctx context.Context, collection string) ([]models.IndexInfo, error) {
	cursor, err := r.db.Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeMetadataFailed, "failed to list indexes of %s", collection)
	}
	defer cursor.Close(ctx)

	var indexes []models.IndexInfo
	for cursor.Next(ctx) {
		var spec struct {
			Name   string `bson:"name"`
			Key    bson.D `bson:"key"`
			Unique bool   `bson:"unique"`
		}
		if err := cursor.Decode(&spec); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to decode index")
		}
		cols := make([]string, len(spec.Key))
		for i, k := range spec.Key {
			cols[i] = k.Key
		}
		indexes = append(indexes, models.IndexInfo{Name: spec.Name, Columns: cols, Unique: spec.Unique})
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "error iterating indexes")
	}
	return indexes, nil
}

func (r *documentRepository) CollectionStats(ctx context.Context, collection string) (map[string]interface{}, error) {
	return r.runStats(ctx, bson.D{{Key: "collStats", Value: collection}})
}

func (r *documentRepository) DatabaseStats(ctx context.Context) (map[string]interface{}, error) {
	return r.runStats(ctx, bson.D{{Key: "dbStats", Value: 1}})
}

func (r *documentRepository) runStats(ctx context.Context, cmd bson.D) (map[string]interface{}, error) {
	var raw bson.D
	if err := r.db.RunCommand(ctx, cmd).Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, errors.CodeMetadataFailed, "%s failed", cmd[0].Key)
	}
	return convertDocument(raw).Map(), nil
}

func decodeAll(ctx context.Context, cursor *mongo.Cursor) ([]models.Document, error) {
	defer cursor.Close(ctx)

	docs := []models.Document{}
	for cursor.Next(ctx) {
		var raw bson.D
		if err := cursor.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to decode document")
		}
		docs = append(docs, convertDocument(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "cursor failed")
	}
	return docs, nil
}

func rawOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}
