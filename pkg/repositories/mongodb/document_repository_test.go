package mongodb

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
	"github.com/TFMV/quarry/pkg/repositories"
)

const ordersNS = mtest.TestDb + ".orders"

func newMockRepository(mt *mtest.T) repositories.DocumentRepository {
	return NewDocumentRepository(mt.Client, mtest.TestDb, zerolog.Nop())
}

func TestDocumentRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("ping and name", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, repo.Ping(ctx))
		assert.Equal(mt, mtest.TestDb, repo.DatabaseName())
	})

	mt.Run("list collections sorted", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, mtest.TestDb+".$cmd.listCollections", mtest.FirstBatch,
			bson.D{{Key: "name", Value: "users"}, {Key: "type", Value: "collection"}},
			bson.D{{Key: "name", Value: "orders"}, {Key: "type", Value: "collection"}},
		))

		names, err := repo.ListCollections(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, []string{"orders", "users"}, names)
	})

	mt.Run("count documents", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: int32(1)}, {Key: "n", Value: int32(5)}},
		))

		count, err := repo.CountDocuments(ctx, "orders", json.RawMessage(`{"status": "open"}`))
		require.NoError(mt, err)
		assert.Equal(mt, int64(5), count)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "aggregate", started.CommandName)
		match := started.Command.Lookup("pipeline", "0", "$match", "status")
		assert.Equal(mt, "open", match.StringValue())
	})

	mt.Run("count failure", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 13, Name: "Unauthorized", Message: "not authorized on test",
		}))

		_, err := repo.CountDocuments(ctx, "orders", nil)
		assert.Equal(mt, errors.CodeQueryFailed, errors.GetCode(err))
	})

	mt.Run("find with sort limit skip", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: int32(2)}, {Key: "total", Value: 15.5}, {Key: "customer", Value: bson.D{{Key: "name", Value: "Ada"}}}},
			bson.D{{Key: "_id", Value: int32(1)}, {Key: "total", Value: 10.0}},
		))

		docs, err := repo.Find(ctx, "orders", repositories.FindOptions{
			Filter:     json.RawMessage(`{"total": {"$gt": 5}}`),
			Projection: json.RawMessage(`{"total": 1, "customer": 1}`),
			Sort:       []models.SortField{{Field: "total", Direction: -1}, {Field: "_id", Direction: 0}},
			Limit:      2,
			Skip:       3,
		})
		require.NoError(mt, err)
		require.Len(mt, docs, 2)
		assert.Equal(mt, []string{"_id", "total", "customer"}, docs[0].Keys())
		customer, ok := docs[0].Get("customer")
		require.True(mt, ok)
		assert.Equal(mt, models.Document{{Key: "name", Value: "Ada"}}, customer)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "find", started.CommandName)
		cmd := started.Command
		assert.Equal(mt, int64(2), cmd.Lookup("limit").AsInt64())
		assert.Equal(mt, int64(3), cmd.Lookup("skip").AsInt64())
		assert.Equal(mt, int64(5), cmd.Lookup("filter", "total", "$gt").AsInt64())
		assert.Equal(mt, int64(1), cmd.Lookup("projection", "total").AsInt64())

		sortElems, err := cmd.Lookup("sort").Document().Elements()
		require.NoError(mt, err)
		require.Len(mt, sortElems, 2)
		assert.Equal(mt, "total", sortElems[0].Key())
		assert.Equal(mt, int64(-1), sortElems[0].Value().AsInt64())
		assert.Equal(mt, "_id", sortElems[1].Key())
		assert.Equal(mt, int64(1), sortElems[1].Value().AsInt64())
	})

	mt.Run("find rejects bad filter", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		_, err := repo.Find(ctx, "orders", repositories.FindOptions{Filter: json.RawMessage(`{"total": `)})
		assert.True(mt, errors.IsInvalidRequest(err))
		assert.Nil(mt, mt.GetStartedEvent())
	})

	mt.Run("aggregate", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: "London"}, {Key: "n", Value: int32(2)}},
		))

		docs, err := repo.Aggregate(ctx, "orders", []json.RawMessage{
			json.RawMessage(`{"$group": {"_id": "$city", "n": {"$sum": 1}}}`),
			json.RawMessage(`{"$sort": {"n": -1}}`),
		})
		require.NoError(mt, err)
		require.Len(mt, docs, 1)
		city, _ := docs[0].Get("_id")
		assert.Equal(mt, "London", city)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "$city", started.Command.Lookup("pipeline", "0", "$group", "_id").StringValue())
		assert.Equal(mt, int64(-1), started.Command.Lookup("pipeline", "1", "$sort", "n").AsInt64())
	})

	mt.Run("distinct", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "values", Value: bson.A{"London", "Oslo", bson.D{{Key: "zip", Value: "N1"}}}},
		))

		values, err := repo.Distinct(ctx, "orders", "city", nil)
		require.NoError(mt, err)
		require.Len(mt, values, 3)
		assert.Equal(mt, "London", values[0])
		assert.Equal(mt, models.Document{{Key: "zip", Value: "N1"}}, values[2])
	})

	mt.Run("list indexes", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ordersNS, mtest.FirstBatch,
			bson.D{{Key: "v", Value: int32(2)}, {Key: "key", Value: bson.D{{Key: "_id", Value: int32(1)}}}, {Key: "name", Value: "_id_"}},
			bson.D{
				{Key: "v", Value: int32(2)},
				{Key: "key", Value: bson.D{{Key: "email", Value: int32(1)}, {Key: "tenant", Value: int32(-1)}}},
				{Key: "name", Value: "email_tenant"},
				{Key: "unique", Value: true},
			},
		))

		indexes, err := repo.ListIndexes(ctx, "orders")
		require.NoError(mt, err)
		assert.Equal(mt, []models.IndexInfo{
			{Name: "_id_", Columns: []string{"_id"}},
			{Name: "email_tenant", Columns: []string{"email", "tenant"}, Unique: true},
		}, indexes)
	})

	mt.Run("database stats", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "db", Value: mtest.TestDb},
			bson.E{Key: "objects", Value: int64(8)},
			bson.E{Key: "storageSize", Value: int64(4096)},
		))

		stats, err := repo.DatabaseStats(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, int64(8), stats["objects"])
		assert.Equal(mt, int64(4096), stats["storageSize"])

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "dbStats", started.CommandName)
	})

	mt.Run("collection stats failure", func(mt *mtest.T) {
		repo := newMockRepository(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 26, Name: "NamespaceNotFound", Message: "ns not found",
		}))

		_, err := repo.CollectionStats(ctx, "ghosts")
		assert.Equal(mt, errors.CodeMetadataFailed, errors.GetCode(err))
	})
}
