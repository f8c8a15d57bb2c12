package services

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// datasetService implements DatasetService interface.
type datasetService struct {
	store     DatasetStore
	assistant DatasetAssistant
	logger    Logger
	metrics   MetricsCollector
}

// NewDatasetService creates a new dataset service.
func NewDatasetService(store DatasetStore, assistant DatasetAssistant, logger Logger, metrics MetricsCollector) DatasetService {
	return &datasetService{
		store:     store,
		assistant: assistant,
		logger:    logger,
		metrics:   metrics,
	}
}

// Upload loads a whole CSV file.
func (s *datasetService) Upload(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error) {
	if !strings.EqualFold(filepath.Ext(fileName), ".csv") {
		s.metrics.IncrementCounter("dataset_validation_errors")
		return nil, errors.New(errors.CodeInvalidRequest, "only CSV files are supported").
			WithDetail("file_name", fileName)
	}

	timer := s.metrics.StartTimer("dataset_upload")
	defer timer.Stop()

	ds, err := s.store.Upload(ctx, fileName, r)
	if err != nil {
		s.logger.Error("Failed to load dataset", "error", err, "file_name", fileName)
		s.metrics.IncrementCounter("dataset_upload_errors")
		return nil, err
	}
	s.logger.Info("Dataset loaded", "file_id", ds.ID, "rows", ds.RowCount, "columns", ds.ColumnCount)
	s.metrics.RecordHistogram("dataset_rows", float64(ds.RowCount))
	return ds, nil
}

// UploadChunk stores one chunk and loads the file after the last one.
func (s *datasetService) UploadChunk(ctx context.Context, chunk models.ChunkUpload) (*models.ChunkStatus, error) {
	status, err := s.store.UploadChunk(ctx, chunk)
	if err != nil {
		s.logger.Error("Failed to store chunk", "error", err, "file_id", chunk.FileID, "chunk", chunk.ChunkNumber)
		s.metrics.IncrementCounter("dataset_chunk_errors")
		return nil, err
	}
	s.metrics.IncrementCounter("dataset_chunks")
	if status.Dataset != nil {
		s.logger.Info("Chunked dataset loaded", "file_id", status.FileID, "rows", status.Dataset.RowCount)
	}
	return status, nil
}

// Get returns the metadata of a dataset.
func (s *datasetService) Get(_ context.Context, id string) (*models.Dataset, error) {
	return s.store.Get(id)
}

// Analysis returns the profile of a dataset.
func (s *datasetService) Analysis(ctx context.Context, id string) (*models.DatasetAnalysis, error) {
	timer := s.metrics.StartTimer("dataset_analysis")
	defer timer.Stop()

	analysis, err := s.store.Analysis(ctx, id)
	if err != nil {
		s.logger.Error("Failed to analyze dataset", "error", err, "file_id", id)
		s.metrics.IncrementCounter("dataset_analysis_errors")
		return nil, err
	}
	return analysis, nil
}

// Ask answers a question about a dataset.
func (s *datasetService) Ask(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error) {
	timer := s.metrics.StartTimer("dataset_query")
	defer timer.Stop()

	answer, err := s.assistant.Ask(ctx, q)
	if err != nil {
		s.logger.Error("Failed to answer dataset question", "error", err, "file_id", q.FileID)
		if errors.GetCode(err) == errors.CodeUnsafeStatement {
			s.metrics.IncrementCounter("dataset_unsafe_statements")
		}
		s.metrics.IncrementCounter("dataset_query_errors")
		if errors.IsCoded(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to answer question")
	}
	if answer.Shortcut {
		s.metrics.IncrementCounter("dataset_shortcut_answers")
	}
	return answer, nil
}

// Answer returns a stored answer.
func (s *datasetService) Answer(_ context.Context, queryID string) (*models.DatasetAnswer, error) {
	return s.assistant.Answer(queryID)
}

// Conversation returns a conversation history. Unknown IDs give an empty
// conversation.
func (s *datasetService) Conversation(_ context.Context, id string) (*models.Conversation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "conversation id is required")
	}
	conv := s.assistant.Conversation(id)
	if conv == nil {
		conv = &models.Conversation{ID: id}
	}
	if conv.Messages == nil {
		conv.Messages = []models.Message{}
	}
	return conv, nil
}
