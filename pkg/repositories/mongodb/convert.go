package mongodb

import (
	"encoding/json"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// toBSON parses a relaxed extended JSON object, so {"$oid": ...} and
// {"$date": ...} values become native BSON types. Empty input is an empty filter.
func toBSON(raw json.RawMessage) (bson.D, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return bson.D{}, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidRequest, "invalid query document")
	}
	return doc, nil
}

func convertDocument(d bson.D) models.Document {
	doc := make(models.Document, len(d))
	for i, e := range d {
		doc[i] = models.Field{Key: e.Key, Value: normalize(e.Value)}
	}
	return doc
}

// normalize maps driver types onto the plain values used by models.Document.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.D:
		return convertDocument(val)
	case bson.M:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		doc := make(models.Document, len(keys))
		for i, k := range keys {
			doc[i] = models.Field{Key: k, Value: normalize(val[k])}
		}
		return doc
	case bson.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case primitive.ObjectID:
		return models.ObjectID(val.Hex())
	case primitive.DateTime:
		return val.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(val.T), 0).UTC()
	case primitive.Decimal128:
		return val.String()
	case primitive.Binary:
		return val.Data
	case primitive.Regex:
		return val.String()
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}
