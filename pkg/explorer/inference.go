package explorer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/TFMV/quarry/pkg/models"
)

const maxSampleChars = 100

// InferFields infers a schema from sample documents. Fields appear in order of
// first appearance and list every observed type.
func InferFields(docs []models.Document) []models.FieldInfo {
	fields := []models.FieldInfo{}
	index := map[string]int{}

	for _, doc := range docs {
		for _, f := range doc {
			typ := TypeName(f.Value)
			i, ok := index[f.Key]
			if !ok {
				index[f.Key] = len(fields)
				fields = append(fields, models.FieldInfo{
					Name:              f.Key,
					Types:             []string{typ},
					Sample:            truncate(FormatValue(f.Value), maxSampleChars),
					PossibleReference: isReferenceField(f.Key),
				})
				continue
			}
			if !fields[i].HasType(typ) {
				fields[i].Types = append(fields[i].Types, typ)
			}
		}
	}
	return fields
}

// TypeName names the BSON-style type of a document value.
func TypeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int8, int16, int32:
		return "int"
	case int64:
		return "long"
	case float32, float64:
		return "double"
	case models.ObjectID:
		return "objectId"
	case time.Time:
		return "date"
	case models.Document, map[string]interface{}:
		return "object"
	case []interface{}:
		return "array"
	case []byte:
		return "binary"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// FormatValue renders a value for display.
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case models.ObjectID:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case models.Document, map[string]interface{}, []interface{}:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	default:
		return fmt.Sprint(val)
	}
}

func isReferenceField(name string) bool {
	return name == "_id" || strings.HasSuffix(name, "Id")
}

// InferRelationships guesses links between collections from field names:
// "userId" points at "users" with high confidence, "_id" may be referenced by
// any other collection, and an array field named like a collection holds
// references to it.
func InferRelationships(names []string, collections map[string]*models.CollectionInfo) []models.Relationship {
	rels := []models.Relationship{}

	for _, name := range names {
		info := collections[name]
		if info == nil {
			continue
		}
		for _, field := range info.Fields {
			if isReferenceField(field.Name) {
				target := strings.TrimSuffix(field.Name, "Id") + "s"
				for _, other := range names {
					if other == name {
						continue
					}
					if field.Name != "_id" && target != other {
						continue
					}
					confidence := models.ConfidenceHigh
					if field.Name == "_id" {
						confidence = models.ConfidenceMedium
					}
					rels = append(rels, models.Relationship{
						From:       name,
						FromFields: []string{field.Name},
						To:         other,
						ToFields:   []string{"_id"},
						Confidence: confidence,
					})
				}
			}

			if field.HasType("array") {
				if _, ok := collections[field.Name]; ok {
					rels = append(rels, models.Relationship{
						From:       name,
						FromFields: []string{field.Name},
						To:         field.Name,
						ToFields:   []string{"_id"},
						Confidence: models.ConfidenceMedium,
						Type:       "array",
					})
				}
			}
		}
	}
	return rels
}

// ForeignKeyRelationships turns declared foreign keys into relationships.
func ForeignKeyRelationships(names []string, tables map[string]*models.TableInfo) []models.Relationship {
	rels := []models.Relationship{}
	for _, name := range names {
		info := tables[name]
		if info == nil {
			continue
		}
		for _, fk := range info.ForeignKeys {
			rels = append(rels, models.Relationship{
				From:       name,
				FromFields: fk.Columns,
				To:         fk.ReferredTable,
				ToFields:   fk.ReferredColumns,
				Name:       fk.Name,
				Confidence: models.ConfidenceHigh,
			})
		}
	}
	return rels
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}
