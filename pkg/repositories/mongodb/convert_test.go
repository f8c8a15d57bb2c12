package mongodb

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

func TestToBSON(t *testing.T) {
	t.Run("empty filter", func(t *testing.T) {
		for _, raw := range []json.RawMessage{nil, json.RawMessage("null")} {
			doc, err := toBSON(raw)
			require.NoError(t, err)
			assert.Empty(t, doc)
		}
	})

	t.Run("keeps key order", func(t *testing.T) {
		doc, err := toBSON(json.RawMessage(`{"$sort":{"b":-1,"a":1}}`))
		require.NoError(t, err)
		require.Len(t, doc, 1)
		inner, ok := doc[0].Value.(bson.D)
		require.True(t, ok)
		assert.Equal(t, "b", inner[0].Key)
		assert.Equal(t, "a", inner[1].Key)
	})

	t.Run("extended json types", func(t *testing.T) {
		doc, err := toBSON(json.RawMessage(`{"_id":{"$oid":"5f1d7f1e9d1b2c3a4b5c6d7e"}}`))
		require.NoError(t, err)
		_, ok := doc[0].Value.(primitive.ObjectID)
		assert.True(t, ok)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := toBSON(json.RawMessage(`{"a":`))
		require.Error(t, err)
		assert.True(t, errors.IsInvalidRequest(err))
	})
}

func TestNormalize(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	raw := bson.D{
		{Key: "_id", Value: oid},
		{Key: "createdAt", Value: primitive.NewDateTimeFromTime(when)},
		{Key: "tags", Value: bson.A{"a", bson.D{{Key: "k", Value: int32(1)}}}},
		{Key: "meta", Value: bson.M{"z": 1, "a": primitive.Null{}}},
	}

	doc := convertDocument(raw)
	require.Len(t, doc, 4)

	assert.Equal(t, models.ObjectID(oid.Hex()), doc[0].Value)
	assert.True(t, when.Equal(doc[1].Value.(time.Time)))

	tags := doc[2].Value.([]interface{})
	assert.Equal(t, "a", tags[0])
	assert.Equal(t, models.Document{{Key: "k", Value: int32(1)}}, tags[1])

	meta := doc[3].Value.(models.Document)
	assert.Equal(t, []string{"a", "z"}, meta.Keys())
	assert.Nil(t, meta[0].Value)
}
