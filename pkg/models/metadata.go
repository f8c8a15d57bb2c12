package models

import "time"

// Backend names reported in snapshots.
const (
	BackendMongoDB = "mongodb"
	BackendSQL     = "sql"
)

// Relationship confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
)

// Snapshot is the exploration snapshot produced by ExploreDatabase. It is
// rebuilt from scratch on every exploration.
type Snapshot struct {
	Backend       string                     `json:"backend"`
	DatabaseName  string                     `json:"database_name"`
	Timestamp     time.Time                  `json:"timestamp"`
	Collections   map[string]*CollectionInfo `json:"collections,omitempty"`
	Tables        map[string]*TableInfo      `json:"tables,omitempty"`
	Relationships []Relationship             `json:"relationships"`
}

// EntityCount returns the number of collections or tables.
func (s *Snapshot) EntityCount() int {
	if s.Backend == BackendSQL {
		return len(s.Tables)
	}
	return len(s.Collections)
}

// CollectionInfo describes one document collection.
type CollectionInfo struct {
	Count           int64                  `json:"count"`
	Stats           map[string]interface{} `json:"stats,omitempty"`
	StatsError      string                 `json:"stats_error,omitempty"`
	Fields          []FieldInfo            `json:"schema"`
	Indexes         []IndexInfo            `json:"indexes"`
	SampleDocuments []Document             `json:"sample_documents"`
}

// Field returns the inferred field by name.
func (c *CollectionInfo) Field(name string) (FieldInfo, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldInfo{}, false
}

// FieldInfo is the schema inferred for one document field. Types lists every
// observed type in order of first appearance.
type FieldInfo struct {
	Name              string   `json:"name"`
	Types             []string `json:"types"`
	Sample            string   `json:"sample"`
	PossibleReference bool     `json:"possible_reference"`
}

// HasType reports whether t was observed for the field.
func (f FieldInfo) HasType(t string) bool {
	for _, ft := range f.Types {
		if ft == t {
			return true
		}
	}
	return false
}

// TableInfo describes one relational table.
type TableInfo struct {
	Count       int64          `json:"count"`
	Columns     []ColumnInfo   `json:"schema"`
	PrimaryKey  []string       `json:"primary_key"`
	ForeignKeys []ForeignKey   `json:"foreign_keys"`
	Indexes     []IndexInfo    `json:"indexes"`
	SampleRows  *TabularResult `json:"sample_rows"`
}

// ColumnInfo is one declared table column.
type ColumnInfo struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

// ForeignKey is a declared foreign key constraint.
type ForeignKey struct {
	Name            string   `json:"name,omitempty"`
	Columns         []string `json:"constrained_columns"`
	ReferredTable   string   `json:"referred_table"`
	ReferredColumns []string `json:"referred_columns"`
}

// IndexInfo describes an index on a collection or table.
type IndexInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Relationship is an inferred or declared link between two entities.
type Relationship struct {
	From       string   `json:"from"`
	FromFields []string `json:"from_fields"`
	To         string   `json:"to"`
	ToFields   []string `json:"to_fields"`
	Name       string   `json:"name,omitempty"`
	Confidence string   `json:"confidence"`
	Type       string   `json:"type,omitempty"`
}

// ConnectionStatus reports backend reachability and size.
type ConnectionStatus struct {
	Connected     bool                   `json:"connected"`
	DatabaseName  string                 `json:"database_name"`
	EntityCount   int                    `json:"entity_count"`
	DatabaseStats map[string]interface{} `json:"database_stats,omitempty"`
	Error         string                 `json:"error,omitempty"`
}
