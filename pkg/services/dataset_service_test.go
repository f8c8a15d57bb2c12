package services

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

func setupTestDatasetService() (DatasetService, *mockDatasetStore, *mockDatasetAssistant, *mockMetricsCollector) {
	store := &mockDatasetStore{}
	assistant := &mockDatasetAssistant{}
	metrics := &mockMetricsCollector{}
	return NewDatasetService(store, assistant, &mockLogger{}, metrics), store, assistant, metrics
}

func TestDatasetService_Upload(t *testing.T) {
	service, store, _, metrics := setupTestDatasetService()

	t.Run("loads csv files", func(t *testing.T) {
		store.uploadFunc = func(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error) {
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, "a,b\n1,2\n", string(data))
			return &models.Dataset{ID: "f1", FileName: fileName, RowCount: 1, ColumnCount: 2}, nil
		}

		ds, err := service.Upload(context.Background(), "data.CSV", strings.NewReader("a,b\n1,2\n"))
		require.NoError(t, err)
		assert.Equal(t, "f1", ds.ID)
	})

	t.Run("rejects other files", func(t *testing.T) {
		_, err := service.Upload(context.Background(), "data.xlsx", strings.NewReader(""))
		assert.True(t, errors.IsInvalidRequest(err))
		assert.Equal(t, 1, metrics.count("dataset_validation_errors"))
	})

	t.Run("error handling", func(t *testing.T) {
		store.uploadFunc = func(ctx context.Context, fileName string, r io.Reader) (*models.Dataset, error) {
			return nil, errors.New(errors.CodeQueryFailed, "bad csv")
		}
		_, err := service.Upload(context.Background(), "data.csv", strings.NewReader(""))
		assert.Equal(t, errors.CodeQueryFailed, errors.GetCode(err))
		assert.Equal(t, 1, metrics.count("dataset_upload_errors"))
	})
}

func TestDatasetService_UploadChunk(t *testing.T) {
	service, store, _, metrics := setupTestDatasetService()
	store.chunkFunc = func(ctx context.Context, chunk models.ChunkUpload) (*models.ChunkStatus, error) {
		status := &models.ChunkStatus{FileID: "f1", Status: "chunk_received"}
		if chunk.IsLast {
			status.Status = "complete"
			status.Dataset = &models.Dataset{ID: "f1"}
		}
		return status, nil
	}

	status, err := service.UploadChunk(context.Background(), models.ChunkUpload{ChunkNumber: 0, Data: "YSxi"})
	require.NoError(t, err)
	assert.Nil(t, status.Dataset)

	status, err = service.UploadChunk(context.Background(), models.ChunkUpload{FileID: "f1", ChunkNumber: 1, Data: "MSwy", IsLast: true})
	require.NoError(t, err)
	assert.Equal(t, "f1", status.Dataset.ID)
	assert.Equal(t, 2, metrics.count("dataset_chunks"))
}

func TestDatasetService_GetAndAnalysis(t *testing.T) {
	service, store, _, _ := setupTestDatasetService()
	store.getFunc = func(id string) (*models.Dataset, error) {
		if id != "f1" {
			return nil, errors.ErrDatasetNotFound.WithDetail("file_id", id)
		}
		return &models.Dataset{ID: id}, nil
	}
	store.analysisFunc = func(ctx context.Context, id string) (*models.DatasetAnalysis, error) {
		return &models.DatasetAnalysis{DatasetID: id, RowCount: 3}, nil
	}

	ds, err := service.Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", ds.ID)

	_, err = service.Get(context.Background(), "nope")
	assert.True(t, errors.IsNotFound(err))

	analysis, err := service.Analysis(context.Background(), "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), analysis.RowCount)
}

func TestDatasetService_Ask(t *testing.T) {
	service, _, assistant, metrics := setupTestDatasetService()

	t.Run("shortcut answer", func(t *testing.T) {
		assistant.askFunc = func(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error) {
			return &models.DatasetAnswer{QueryID: "q1", Shortcut: true}, nil
		}
		answer, err := service.Ask(context.Background(), models.DatasetQuestion{FileID: "f1", Query: "show me the data"})
		require.NoError(t, err)
		assert.Equal(t, "q1", answer.QueryID)
		assert.Equal(t, 1, metrics.count("dataset_shortcut_answers"))
	})

	t.Run("unsafe statement", func(t *testing.T) {
		assistant.askFunc = func(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error) {
			return nil, errors.ErrUnsafeStatement.WithDetail("reason", "DDL statement DROP")
		}
		_, err := service.Ask(context.Background(), models.DatasetQuestion{FileID: "f1", Query: "drop it"})
		assert.Equal(t, errors.CodeUnsafeStatement, errors.GetCode(err))
		assert.Equal(t, 1, metrics.count("dataset_unsafe_statements"))
	})

	t.Run("plain errors are wrapped", func(t *testing.T) {
		assistant.askFunc = func(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error) {
			return nil, assert.AnError
		}
		_, err := service.Ask(context.Background(), models.DatasetQuestion{FileID: "f1", Query: "sum"})
		assert.Equal(t, errors.CodeQueryFailed, errors.GetCode(err))
	})
}

func TestDatasetService_AnswerAndConversation(t *testing.T) {
	service, _, assistant, _ := setupTestDatasetService()
	assistant.answerFunc = func(queryID string) (*models.DatasetAnswer, error) {
		return nil, errors.ErrQueryNotFound.WithDetail("query_id", queryID)
	}
	assistant.conversationFunc = func(id string) *models.Conversation {
		if id == "c1" {
			return &models.Conversation{ID: id, Messages: []models.Message{{Role: "user", Content: "hi"}}}
		}
		return &models.Conversation{ID: id, Messages: []models.Message{}}
	}

	_, err := service.Answer(context.Background(), "q9")
	assert.True(t, errors.IsNotFound(err))

	conv, err := service.Conversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 1)

	t.Run("unknown conversation is empty", func(t *testing.T) {
		conv, err := service.Conversation(context.Background(), "c2")
		require.NoError(t, err)
		assert.Equal(t, "c2", conv.ID)
		assert.NotNil(t, conv.Messages)
		assert.Empty(t, conv.Messages)

		assistant.conversationFunc = func(id string) *models.Conversation { return nil }
		conv, err = service.Conversation(context.Background(), "c3")
		require.NoError(t, err)
		assert.Equal(t, "c3", conv.ID)
		assert.NotNil(t, conv.Messages)
	})

	t.Run("blank id", func(t *testing.T) {
		_, err := service.Conversation(context.Background(), " ")
		assert.True(t, errors.IsInvalidRequest(err))
	})
}
