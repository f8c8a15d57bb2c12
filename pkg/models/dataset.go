package models

import "time"

// Column kinds used by the dataset profiler.
const (
	KindNumeric     = "numeric"
	KindCategorical = "categorical"
	KindDatetime    = "datetime"
	KindBoolean     = "boolean"
)

// Dataset is a CSV file loaded into the analytical store.
type Dataset struct {
	ID          string            `json:"file_id"`
	FileName    string            `json:"file_name,omitempty"`
	Path        string            `json:"-"`
	Table       string            `json:"-"`
	RowCount    int64             `json:"row_count"`
	ColumnCount int               `json:"column_count"`
	Columns     []string          `json:"columns"`
	DTypes      map[string]string `json:"dtypes"`
	SampleRows  *TabularResult    `json:"sample_rows"`
	LoadedAt    time.Time         `json:"loaded_at"`
}

// ColumnStats are the per-column summary statistics.
type ColumnStats struct {
	Name           string       `json:"name"`
	Type           string       `json:"type"`
	Kind           string       `json:"kind"`
	NullCount      int64        `json:"null_count"`
	NullPercentage float64      `json:"null_percentage"`
	Min            *float64     `json:"min,omitempty"`
	Max            *float64     `json:"max,omitempty"`
	Mean           *float64     `json:"mean,omitempty"`
	Median         *float64     `json:"median,omitempty"`
	Std            *float64     `json:"std,omitempty"`
	UniqueCount    *int64       `json:"unique_count,omitempty"`
	TopValues      []ValueCount `json:"top_values,omitempty"`
	MinTime        string       `json:"min_time,omitempty"`
	MaxTime        string       `json:"max_time,omitempty"`
}

// ValueCount is a value and its frequency.
type ValueCount struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// Outlier summarizes IQR outliers in one numeric column.
type Outlier struct {
	Count      int64   `json:"outlier_count"`
	Percentage float64 `json:"outlier_percentage"`
	LowerBound float64 `json:"lower_bound"`
	UpperBound float64 `json:"upper_bound"`
}

// DataQuality reports missing values, duplicates and outliers.
type DataQuality struct {
	TotalMissing        int64              `json:"total_missing"`
	MissingPercentage   float64            `json:"missing_percentage"`
	ColumnsWithMissing  map[string]int64   `json:"columns_with_missing"`
	DuplicateRows       int64              `json:"duplicate_rows"`
	DuplicatePercentage float64            `json:"duplicate_percentage"`
	Outliers            map[string]Outlier `json:"outliers"`
}

// Correlation is the Pearson correlation of two numeric columns.
type Correlation struct {
	Column1 string  `json:"column1"`
	Column2 string  `json:"column2"`
	Value   float64 `json:"correlation"`
}

// CorrelationReport lists the strongest correlations.
type CorrelationReport struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Top     []Correlation `json:"top_correlations"`
}

// Visualization is a recommended chart for a dataset.
type Visualization struct {
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Config      map[string]string `json:"config"`
}

// DatasetAnalysis is the full profile of a dataset.
type DatasetAnalysis struct {
	DatasetID          string            `json:"file_id"`
	RowCount           int64             `json:"row_count"`
	ColumnCount        int               `json:"column_count"`
	NumericColumns     []string          `json:"numeric_columns"`
	CategoricalColumns []string          `json:"categorical_columns"`
	DatetimeColumns    []string          `json:"datetime_columns"`
	ColumnStats        []ColumnStats     `json:"column_stats"`
	Quality            DataQuality       `json:"data_quality"`
	Correlations       CorrelationReport `json:"correlations"`
	Visualizations     []Visualization   `json:"visualizations"`
}

// ChunkUpload is one base64 chunk of a CSV upload. An empty FileID starts a
// new upload.
type ChunkUpload struct {
	FileID      string `json:"file_id,omitempty" validate:"omitempty,max=64"`
	FileName    string `json:"file_name,omitempty"`
	ChunkNumber int    `json:"chunk_number" validate:"gte=0,lte=10000"`
	Data        string `json:"data" validate:"required,base64"`
	IsLast      bool   `json:"is_last"`
}

// ChunkStatus acknowledges a chunk. Dataset is set once the file is complete.
type ChunkStatus struct {
	FileID  string   `json:"file_id"`
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Dataset *Dataset `json:"dataset,omitempty"`
}

// DatasetQuestion is a natural-language question about a dataset.
type DatasetQuestion struct {
	FileID         string `json:"file_id" validate:"required"`
	Query          string `json:"query" validate:"required"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// DatasetAnswer is the stored answer to a DatasetQuestion.
type DatasetAnswer struct {
	QueryID           string         `json:"query_id"`
	ConversationID    string         `json:"conversation_id"`
	FileID            string         `json:"file_id"`
	Query             string         `json:"query"`
	Code              string         `json:"code"`
	Result            *TabularResult `json:"result"`
	Explanation       string         `json:"explanation"`
	VisualizationType string         `json:"visualization_type"`
	Shortcut          bool           `json:"shortcut"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Message is one conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is a question/answer history.
type Conversation struct {
	ID       string    `json:"conversation_id"`
	FileID   string    `json:"file_id,omitempty"`
	Messages []Message `json:"messages"`
}
