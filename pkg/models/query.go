// Package models provides data structures used throughout quarry.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Field is one key/value pair of a document, kept in stored order.
type Field struct {
	Key   string
	Value interface{}
}

// Document is an ordered set of fields. Nested documents are Documents and
// arrays are []interface{}.
type Document []Field

// Get returns the value stored under key.
func (d Document) Get(key string) (interface{}, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the field names in order.
func (d Document) Keys() []string {
	keys := make([]string, len(d))
	for i, f := range d {
		keys[i] = f.Key
	}
	return keys
}

// Map converts the document into an unordered map.
func (d Document) Map() map[string]interface{} {
	m := make(map[string]interface{}, len(d))
	for _, f := range d {
		if nested, ok := f.Value.(Document); ok {
			m[f.Key] = nested.Map()
			continue
		}
		m[f.Key] = f.Value
	}
	return m
}

// MarshalJSON encodes the document as a JSON object preserving field order.
func (d Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := marshalValue(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving key order. Nested objects
// become Documents and whole numbers become int64.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*d = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("document must be a JSON object")
	}
	doc, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*d = doc
	return nil
}

func decodeObject(dec *json.Decoder) (Document, error) {
	doc := Document{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		doc = append(doc, Field{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch v := tok.(type) {
	case json.Delim:
		if v == '{' {
			return decodeObject(dec)
		}
		arr := []interface{}{}
		for dec.More() {
			item, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, item)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	default:
		return v, nil
	}
}

func marshalValue(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		// Values without a JSON form are rendered as strings.
		return json.Marshal(fmt.Sprint(v))
	}
	return b, nil
}

// DocumentFromMap builds a Document from a map using the given key order.
// Keys missing from order are appended in iteration order.
func DocumentFromMap(m map[string]interface{}, order []string) Document {
	doc := make(Document, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, k := range order {
		if v, ok := m[k]; ok {
			doc = append(doc, Field{Key: k, Value: v})
			seen[k] = true
		}
	}
	for k, v := range m {
		if !seen[k] {
			doc = append(doc, Field{Key: k, Value: v})
		}
	}
	return doc
}

// TabularResult is a rectangular result set. Rows hold values in column order.
type TabularResult struct {
	Columns       []string        `json:"columns"`
	Rows          [][]interface{} `json:"rows"`
	ExecutionTime time.Duration   `json:"execution_time,omitempty"`
}

// NewTabularResult returns an empty result with the given columns.
func NewTabularResult(columns ...string) *TabularResult {
	if columns == nil {
		columns = []string{}
	}
	return &TabularResult{Columns: columns, Rows: [][]interface{}{}}
}

// TabularFromDocuments flattens documents into a table. Columns are the union
// of document keys in order of first appearance; absent values are nil.
func TabularFromDocuments(docs []Document) *TabularResult {
	var columns []string
	index := make(map[string]int)
	for _, doc := range docs {
		for _, f := range doc {
			if _, ok := index[f.Key]; !ok {
				index[f.Key] = len(columns)
				columns = append(columns, f.Key)
			}
		}
	}

	result := NewTabularResult(columns...)
	for _, doc := range docs {
		row := make([]interface{}, len(columns))
		for _, f := range doc {
			row[index[f.Key]] = f.Value
		}
		result.Rows = append(result.Rows, row)
	}
	return result
}

// Len returns the number of rows.
func (r *TabularResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Empty reports whether the result has no rows.
func (r *TabularResult) Empty() bool {
	return r.Len() == 0
}

// Head returns a copy holding at most n rows.
func (r *TabularResult) Head(n int) *TabularResult {
	if r == nil {
		return NewTabularResult()
	}
	if n > len(r.Rows) {
		n = len(r.Rows)
	}
	if n < 0 {
		n = 0
	}
	return &TabularResult{
		Columns:       r.Columns,
		Rows:          r.Rows[:n],
		ExecutionTime: r.ExecutionTime,
	}
}

// Row returns row i as a Document.
func (r *TabularResult) Row(i int) Document {
	doc := make(Document, len(r.Columns))
	for j, col := range r.Columns {
		var v interface{}
		if j < len(r.Rows[i]) {
			v = r.Rows[i][j]
		}
		doc[j] = Field{Key: col, Value: v}
	}
	return doc
}

// Documents returns every row as a Document.
func (r *TabularResult) Documents() []Document {
	docs := make([]Document, r.Len())
	for i := range docs {
		docs[i] = r.Row(i)
	}
	return docs
}

// ColumnIndex returns the position of a column or -1.
func (r *TabularResult) ColumnIndex(name string) int {
	for i, c := range r.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// QueryParams are the find-style parameters accepted by ExecuteQuery.
// Document backends use Filter, Projection and Sort, given as (extended) JSON
// so key order survives. SQL backends use Where, OrderBy and Offset, or a raw
// statement in Query.
type QueryParams struct {
	Query      string          `json:"query,omitempty"`
	Filter     json.RawMessage `json:"filter,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
	Sort       []SortField     `json:"sort,omitempty"`
	Where      string          `json:"where,omitempty"`
	OrderBy    string          `json:"order_by,omitempty"`
	Limit      int64           `json:"limit,omitempty"`
	Offset     int64           `json:"offset,omitempty"`
}

// SortField orders by one key. Direction is 1 for ascending and -1 for descending.
type SortField struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

// AggregationParams describe an aggregation. Document backends run Pipeline.
// SQL backends run Query or build a GROUP BY from GroupBy and Aggregations.
type AggregationParams struct {
	Pipeline     []json.RawMessage `json:"pipeline,omitempty"`
	Query        string            `json:"query,omitempty"`
	GroupBy      []string          `json:"group_by,omitempty"`
	Aggregations map[string]string `json:"aggregations,omitempty"`
	Having       string            `json:"having,omitempty"`
	OrderBy      string            `json:"order_by,omitempty"`
	Limit        int64             `json:"limit,omitempty"`
}

// ObjectID is a document identifier rendered as hex.
type ObjectID string
