package services

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/TFMV/quarry/pkg/agent"
	"github.com/TFMV/quarry/pkg/models"
)

// mockLogger implements Logger
type mockLogger struct {
	debugFunc func(msg string, keysAndValues ...interface{})
	infoFunc  func(msg string, keysAndValues ...interface{})
	warnFunc  func(msg string, keysAndValues ...interface{})
	errorFunc func(msg string, keysAndValues ...interface{})
}

func (m *mockLogger) Debug(msg string, keysAndValues ...interface{}) {
	if m.debugFunc != nil {
		m.debugFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	if m.infoFunc != nil {
		m.infoFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Warn(msg string, keysAndValues ...interface{}) {
	if m.warnFunc != nil {
		m.warnFunc(msg, keysAndValues...)
	}
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	if m.errorFunc != nil {
		m.errorFunc(msg, keysAndValues...)
	}
}

// mockMetricsCollector implements MetricsCollector and counts counter calls.
type mockMetricsCollector struct {
	mu       sync.Mutex
	counters map[string]int
}

func (m *mockMetricsCollector) IncrementCounter(name string, labels ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int{}
	}
	m.counters[name]++
}

func (m *mockMetricsCollector) RecordHistogram(name string, value float64, labels ...string) {}

func (m *mockMetricsCollector) RecordGauge(name string, value float64, labels ...string) {}

func (m *mockMetricsCollector) StartTimer(name string) Timer {
	return &mockTimer{}
}

func (m *mockMetricsCollector) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// mockTimer implements Timer
type mockTimer struct{}

func (m *mockTimer) Stop() time.Duration {
	return 0
}

// mockExplorer implements explorer.DatabaseExplorer
type mockExplorer struct {
	snapshot         *models.Snapshot
	exploreFunc      func(ctx context.Context) (*models.Snapshot, error)
	queryFunc        func(ctx context.Context, entity string, params models.QueryParams) (*models.TabularResult, error)
	aggregationFunc  func(ctx context.Context, entity string, params models.AggregationParams) (*models.TabularResult, error)
	connectionStatus *models.ConnectionStatus
}

func (m *mockExplorer) Backend() string      { return models.BackendSQL }
func (m *mockExplorer) EntityKind() string   { return "table" }
func (m *mockExplorer) DatabaseName() string { return "shop" }

func (m *mockExplorer) ExploreDatabase(ctx context.Context) (*models.Snapshot, error) {
	snap, err := m.exploreFunc(ctx)
	if err == nil {
		m.snapshot = snap
	}
	return snap, err
}

func (m *mockExplorer) Snapshot() *models.Snapshot { return m.snapshot }

func (m *mockExplorer) GenerateNotes() string {
	if m.snapshot == nil {
		return "not explored"
	}
	return "# Notes for " + m.snapshot.DatabaseName
}

func (m *mockExplorer) ExecuteQuery(ctx context.Context, entity string, params models.QueryParams) (*models.TabularResult, error) {
	return m.queryFunc(ctx, entity, params)
}

func (m *mockExplorer) ExecuteAggregation(ctx context.Context, entity string, params models.AggregationParams) (*models.TabularResult, error) {
	return m.aggregationFunc(ctx, entity, params)
}

func (m *mockExplorer) Entities(ctx context.Context) ([]string, error) { return nil, nil }

func (m *mockExplorer) Sample(ctx context.Context, entity string, n int) (*models.TabularResult, error) {
	return nil, nil
}

func (m *mockExplorer) Count(ctx context.Context, entity string, filter json.RawMessage) (int64, error) {
	return 0, nil
}

func (m *mockExplorer) Distinct(ctx context.Context, entity, field string, filter json.RawMessage) ([]interface{}, error) {
	return nil, nil
}

func (m *mockExplorer) ConnectionStatus(ctx context.Context) *models.ConnectionStatus {
	return m.connectionStatus
}

// mockAsker implements Asker
type mockAsker struct {
	askFunc func(ctx context.Context, question string) (*agent.Answer, error)
	resets  int
}

func (m *mockAsker) Ask(ctx context.Context, question string) (*agent.Answer, error) {
	return m.askFunc(ctx, question)
}

func (m *mockAsker) Reset() { m.resets++ }

// mockAnalyzer implements StockAnalyzer
type mockAnalyzer struct {
	analyzeFunc      func(ctx context.Context, ticker string) (*models.StockAnalysis, error)
	marketStatusFunc func(ctx context.Context) (*models.MarketStatus, error)
}

func (m *mockAnalyzer) AnalyzeStock(ctx context.Context, ticker string) (*models.StockAnalysis, error) {
	return m.analyzeFunc(ctx, ticker)
}

func (m *mockAnalyzer) MarketStatus(ctx context.Context) (*models.MarketStatus, error) {
	return m.marketStatusFunc(ctx)
}

// mockDatasetStore implements DatasetStore
type mockDatasetStore struct {
	uploadFunc   func(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error)
	chunkFunc    func(ctx context.Context, chunk models.ChunkUpload) (*models.ChunkStatus, error)
	getFunc      func(id string) (*models.Dataset, error)
	analysisFunc func(ctx context.Context, id string) (*models.DatasetAnalysis, error)
}

func (m *mockDatasetStore) Upload(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error) {
	return m.uploadFunc(ctx, fileName, r)
}

func (m *mockDatasetStore) UploadChunk(ctx context.Context, chunk models.ChunkUpload) (*models.ChunkStatus, error) {
	return m.chunkFunc(ctx, chunk)
}

func (m *mockDatasetStore) Get(id string) (*models.Dataset, error) {
	return m.getFunc(id)
}

func (m *mockDatasetStore) Analysis(ctx context.Context, id string) (*models.DatasetAnalysis, error) {
	return m.analysisFunc(ctx, id)
}

// mockDatasetAssistant implements DatasetAssistant
type mockDatasetAssistant struct {
	askFunc          func(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error)
	answerFunc       func(queryID string) (*models.DatasetAnswer, error)
	conversationFunc func(id string) *models.Conversation
}

func (m *mockDatasetAssistant) Ask(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error) {
	return m.askFunc(ctx, q)
}

func (m *mockDatasetAssistant) Answer(queryID string) (*models.DatasetAnswer, error) {
	return m.answerFunc(queryID)
}

func (m *mockDatasetAssistant) Conversation(id string) *models.Conversation {
	return m.conversationFunc(id)
}
