// Package services contains business logic implementations.
package services

import (
	"context"
	"io"
	"time"

	"github.com/TFMV/quarry/pkg/agent"
	"github.com/TFMV/quarry/pkg/models"
)

// ExplorerService defines database exploration operations.
type ExplorerService interface {
	Snapshot(ctx context.Context, refresh bool) (*models.Snapshot, error)
	Notes(ctx context.Context) (string, error)
	Query(ctx context.Context, entity string, params models.QueryParams) (*models.TabularResult, error)
	Aggregate(ctx context.Context, entity string, params models.AggregationParams) (*models.TabularResult, error)
	Chat(ctx context.Context, question string) (*agent.Answer, error)
	ResetChat(ctx context.Context) error
	Status(ctx context.Context) *models.ConnectionStatus
}

// StockService defines stock analysis operations.
type StockService interface {
	Analyze(ctx context.Context, ticker string) (*models.StockAnalysis, error)
	MarketStatus(ctx context.Context) (*models.MarketStatus, error)
}

// DatasetService defines CSV dataset operations.
type DatasetService interface {
	Upload(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error)
	UploadChunk(ctx context.Context, chunk models.ChunkUpload) (*models.ChunkStatus, error)
	Get(ctx context.Context, id string) (*models.Dataset, error)
	Analysis(ctx context.Context, id string) (*models.DatasetAnalysis, error)
	Ask(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error)
	Answer(ctx context.Context, queryID string) (*models.DatasetAnswer, error)
	Conversation(ctx context.Context, id string) (*models.Conversation, error)
}

// Asker answers free-form questions about a database and keeps the
// conversation until Reset.
type Asker interface {
	Ask(ctx context.Context, question string) (*agent.Answer, error)
	Reset()
}

// StockAnalyzer fetches analyses from the market data providers.
type StockAnalyzer interface {
	AnalyzeStock(ctx context.Context, ticker string) (*models.StockAnalysis, error)
	MarketStatus(ctx context.Context) (*models.MarketStatus, error)
}

// DatasetStore holds loaded datasets.
type DatasetStore interface {
	Upload(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error)
	UploadChunk(ctx context.Context, chunk models.ChunkUpload) (*models.ChunkStatus, error)
	Get(id string) (*models.Dataset, error)
	Analysis(ctx context.Context, id string) (*models.DatasetAnalysis, error)
}

// DatasetAssistant answers questions about datasets and keeps the answers.
type DatasetAssistant interface {
	Ask(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error)
	Answer(queryID string) (*models.DatasetAnswer, error)
	Conversation(id string) *models.Conversation
}

// Logger defines logging interface.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// MetricsCollector defines metrics collection interface.
type MetricsCollector interface {
	IncrementCounter(name string, labels ...string)
	RecordHistogram(name string, value float64, labels ...string)
	RecordGauge(name string, value float64, labels ...string)
	StartTimer(name string) Timer
}

// Timer represents a timing measurement.
type Timer interface {
	Stop() time.Duration
}
