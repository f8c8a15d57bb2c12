package csvchat

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/models"
)

const groceriesCSV = `item,category,amount,qty,double_qty
apple,fruit,1.0,10,20
banana,fruit,2.0,20,40
carrot,veg,3.0,30,60
donut,bakery,4.0,40,80
eggplant,veg,100.0,50,100
apple,fruit,1.0,10,20
,veg,,60,120
`

// mockLLM implements llm.Client
type mockLLM struct {
	completeFunc func(ctx context.Context, req llm.Request) (string, error)
}

func (m *mockLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	return m.completeFunc(ctx, req)
}
func (m *mockLLM) Provider() string { return "mock" }
func (m *mockLLM) Model() string    { return "mock-1" }

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "uploads"), zerolog.New(zerolog.NewTestWriter(t)))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func loadGroceries(t *testing.T, store *Store) *models.Dataset {
	t.Helper()
	ds, err := store.Upload(context.Background(), "groceries.csv", strings.NewReader(groceriesCSV))
	require.NoError(t, err)
	return ds
}

func TestStore_Upload(t *testing.T) {
	store := setupTestStore(t)
	ds := loadGroceries(t, store)

	assert.NotEmpty(t, ds.ID)
	assert.Equal(t, "groceries.csv", ds.FileName)
	assert.Equal(t, int64(7), ds.RowCount)
	assert.Equal(t, 5, ds.ColumnCount)
	assert.Equal(t, []string{"item", "category", "amount", "qty", "double_qty"}, ds.Columns)
	assert.Equal(t, "DOUBLE", ds.DTypes["amount"])
	assert.Equal(t, "BIGINT", ds.DTypes["qty"])
	assert.Equal(t, "VARCHAR", ds.DTypes["item"])
	assert.Equal(t, SampleRows, ds.SampleRows.Len())

	got, err := store.Get(ds.ID)
	require.NoError(t, err)
	assert.Same(t, ds, got)
	assert.Len(t, store.List(), 1)

	require.NoError(t, store.Remove(ds.ID))
	_, err = store.Get(ds.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestStore_LoadFile(t *testing.T) {
	store := setupTestStore(t)

	t.Run("semicolon delimited", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "eu.csv")
		require.NoError(t, os.WriteFile(path, []byte("city;population\nParis;2100000\nLyon;520000\n"), 0o644))

		ds, err := store.LoadFile(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, []string{"city", "population"}, ds.Columns)
		assert.Equal(t, int64(2), ds.RowCount)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := store.LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStore_UploadChunk(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	half := len(groceriesCSV) / 2
	enc := base64.StdEncoding.EncodeToString

	first, err := store.UploadChunk(ctx, models.ChunkUpload{ChunkNumber: 0, Data: enc([]byte(groceriesCSV[:half]))})
	require.NoError(t, err)
	assert.NotEmpty(t, first.FileID)
	assert.Equal(t, "Chunk 0 received", first.Message)
	assert.Nil(t, first.Dataset)
	assert.DirExists(t, filepath.Join(store.uploadDir, first.FileID))

	last, err := store.UploadChunk(ctx, models.ChunkUpload{
		FileID:      first.FileID,
		FileName:    "groceries.csv",
		ChunkNumber: 1,
		Data:        enc([]byte(groceriesCSV[half:])),
		IsLast:      true,
	})
	require.NoError(t, err)
	require.NotNil(t, last.Dataset)
	assert.Equal(t, first.FileID, last.Dataset.ID)
	assert.Equal(t, int64(7), last.Dataset.RowCount)
	assert.NoDirExists(t, filepath.Join(store.uploadDir, first.FileID))

	t.Run("invalid input", func(t *testing.T) {
		_, err := store.UploadChunk(ctx, models.ChunkUpload{FileID: "../escape", Data: enc([]byte("x"))})
		assert.True(t, errors.IsInvalidRequest(err))

		_, err = store.UploadChunk(ctx, models.ChunkUpload{FileID: "abc", Data: "!!not base64!!"})
		assert.True(t, errors.IsInvalidRequest(err))
	})

	t.Run("chunk number out of range", func(t *testing.T) {
		_, err := store.UploadChunk(ctx, models.ChunkUpload{FileID: "huge", ChunkNumber: 2_000_000, Data: enc([]byte("x")), IsLast: true})
		assert.True(t, errors.IsInvalidRequest(err))
		assert.NoDirExists(t, filepath.Join(store.uploadDir, "huge"))

		_, err = store.UploadChunk(ctx, models.ChunkUpload{FileID: "huge", ChunkNumber: -1, Data: enc([]byte("x"))})
		assert.True(t, errors.IsInvalidRequest(err))
	})

	t.Run("gaps count stored chunks only", func(t *testing.T) {
		_, err := store.UploadChunk(ctx, models.ChunkUpload{FileID: "gappy", ChunkNumber: 0, Data: enc([]byte(groceriesCSV[:half]))})
		require.NoError(t, err)

		status, err := store.UploadChunk(ctx, models.ChunkUpload{
			FileID:      "gappy",
			ChunkNumber: MaxChunkNumber,
			Data:        enc([]byte(groceriesCSV[half:])),
			IsLast:      true,
		})
		require.NoError(t, err)
		assert.Equal(t, "File reassembled from 2 chunks", status.Message)
		require.NotNil(t, status.Dataset)
		assert.Equal(t, int64(7), status.Dataset.RowCount)
	})
}

func TestStoredChunks(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"chunk_10", "chunk_0", "chunk_2", "chunk_11", "chunk_x", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "chunk_3"), 0o755))

	numbers, err := storedChunks(dir, 10)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 10}, numbers)
}

func TestStore_Analysis(t *testing.T) {
	store := setupTestStore(t)
	ds := loadGroceries(t, store)

	analysis, err := store.Analysis(context.Background(), ds.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"amount", "qty", "double_qty"}, analysis.NumericColumns)
	assert.Equal(t, []string{"item", "category"}, analysis.CategoricalColumns)
	require.Len(t, analysis.ColumnStats, 5)

	stats := map[string]models.ColumnStats{}
	for _, s := range analysis.ColumnStats {
		stats[s.Name] = s
	}

	amount := stats["amount"]
	assert.Equal(t, int64(1), amount.NullCount)
	assert.InDelta(t, 100.0/7, amount.NullPercentage, 0.001)
	assert.Equal(t, 1.0, *amount.Min)
	assert.Equal(t, 100.0, *amount.Max)
	assert.Equal(t, 2.5, *amount.Median)

	category := stats["category"]
	require.NotNil(t, category.UniqueCount)
	assert.Equal(t, int64(3), *category.UniqueCount)
	assert.Equal(t, []models.ValueCount{{Value: "fruit", Count: 3}, {Value: "veg", Count: 3}, {Value: "bakery", Count: 1}}, category.TopValues)

	q := analysis.Quality
	assert.Equal(t, int64(2), q.TotalMissing)
	assert.Equal(t, map[string]int64{"item": 1, "amount": 1}, q.ColumnsWithMissing)
	assert.Equal(t, int64(1), q.DuplicateRows)
	require.Contains(t, q.Outliers, "amount")
	assert.Equal(t, int64(1), q.Outliers["amount"].Count)
	assert.InDelta(t, 7.5, q.Outliers["amount"].UpperBound, 0.0001)
	assert.NotContains(t, q.Outliers, "qty")

	assert.Equal(t, "success", analysis.Correlations.Status)
	assert.Contains(t, analysis.Correlations.Top, models.Correlation{Column1: "qty", Column2: "double_qty", Value: 1})
	for _, c := range analysis.Correlations.Top {
		assert.Greater(t, abs(c.Value), correlationThreshold)
	}

	kinds := map[string]int{}
	for _, v := range analysis.Visualizations {
		kinds[v.Type]++
	}
	assert.Equal(t, 3, kinds["histogram"])
	assert.Equal(t, 2, kinds["bar"], "item has 5 values and category 3, both under the limit")
	assert.Equal(t, 3, kinds["scatter"])
	assert.Equal(t, 3, kinds["box"])

	again, err := store.Analysis(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Same(t, analysis, again)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestStore_AnalysisSingleNumeric(t *testing.T) {
	store := setupTestStore(t)
	ds, err := store.Upload(context.Background(), "one.csv", strings.NewReader("name,score\na,1\nb,2\n"))
	require.NoError(t, err)

	analysis, err := store.Analysis(context.Background(), ds.ID)
	require.NoError(t, err)
	assert.Equal(t, "not_applicable", analysis.Correlations.Status)
	assert.Empty(t, analysis.Correlations.Top)
}

func TestColumnKind(t *testing.T) {
	tests := map[string]string{
		"BIGINT":                   models.KindNumeric,
		"DOUBLE":                   models.KindNumeric,
		"DECIMAL(18,3)":            models.KindNumeric,
		"DATE":                     models.KindDatetime,
		"TIMESTAMP WITH TIME ZONE": models.KindDatetime,
		"BOOLEAN":                  models.KindBoolean,
		"VARCHAR":                  models.KindCategorical,
	}
	for typ, want := range tests {
		t.Run(typ, func(t *testing.T) {
			assert.Equal(t, want, ColumnKind(typ))
		})
	}
}

func TestMatchShortcut(t *testing.T) {
	tests := []struct {
		question string
		want     string
	}{
		{"What is the data about?", "overview"},
		{"  show me the data please", "show"},
		{"Give me summary statistics", "statistics"},
		{"Can you describe the dataset", "explain"},
		{"Which category spends the most?", ""},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			sc := MatchShortcut(tt.question)
			if tt.want == "" {
				assert.Nil(t, sc)
				return
			}
			require.NotNil(t, sc)
			assert.Equal(t, tt.want, sc.Name)
		})
	}
}

func setupTestAssistant(t *testing.T, client llm.Client, opts ...Option) (*Assistant, *models.Dataset) {
	t.Helper()
	store := setupTestStore(t)
	ds := loadGroceries(t, store)
	return NewAssistant(store, client, zerolog.New(zerolog.NewTestWriter(t)), opts...), ds
}

func TestAssistant_Ask(t *testing.T) {
	ctx := context.Background()

	t.Run("shortcut skips the model", func(t *testing.T) {
		client := &mockLLM{completeFunc: func(ctx context.Context, req llm.Request) (string, error) {
			t.Fatal("model must not be called")
			return "", nil
		}}
		a, ds := setupTestAssistant(t, client)

		answer, err := a.Ask(ctx, models.DatasetQuestion{FileID: ds.ID, Query: "Show me the data"})
		require.NoError(t, err)
		assert.True(t, answer.Shortcut)
		assert.Equal(t, FallbackSQL, answer.Code)
		assert.Equal(t, 7, answer.Result.Len())
		assert.Equal(t, "table", answer.VisualizationType)
	})

	t.Run("generated sql and explanation", func(t *testing.T) {
		var requests []llm.Request
		client := &mockLLM{completeFunc: func(ctx context.Context, req llm.Request) (string, error) {
			requests = append(requests, req)
			if req.System == explainSystemPrompt {
				return "Vegetables cost the most.", nil
			}
			return "```sql\nSELECT category, sum(amount) AS total FROM data GROUP BY category ORDER BY category;\n```\nVisualization: bar", nil
		}}
		a, ds := setupTestAssistant(t, client)

		answer, err := a.Ask(ctx, models.DatasetQuestion{FileID: ds.ID, Query: "Total amount per category?"})
		require.NoError(t, err)
		assert.False(t, answer.Shortcut)
		assert.Equal(t, "SELECT category, sum(amount) AS total FROM data GROUP BY category ORDER BY category", answer.Code)
		assert.Equal(t, "bar", answer.VisualizationType)
		assert.Equal(t, []string{"category", "total"}, answer.Result.Columns)
		assert.Equal(t, 3, answer.Result.Len())
		assert.Equal(t, "Vegetables cost the most.", answer.Explanation)
		assert.NotEmpty(t, answer.ConversationID)

		require.Len(t, requests, 2)
		assert.Contains(t, requests[0].Messages[0].Content, "- Columns: item, category, amount, qty, double_qty")
		assert.Contains(t, requests[0].Messages[0].Content, "User Question: Total amount per category?")

		stored, err := a.Answer(answer.QueryID)
		require.NoError(t, err)
		assert.Same(t, answer, stored)

		// Follow-up carries the conversation.
		_, err = a.Ask(ctx, models.DatasetQuestion{FileID: ds.ID, Query: "And per item?", ConversationID: answer.ConversationID})
		require.NoError(t, err)
		require.Len(t, requests, 4)
		assert.Len(t, requests[2].Messages, 3)
		assert.Equal(t, "Total amount per category?", requests[2].Messages[0].Content)

		conv := a.Conversation(answer.ConversationID)
		require.Len(t, conv.Messages, 4)
		assert.Equal(t, llm.RoleAssistant, conv.Messages[1].Role)
		assert.Contains(t, conv.Messages[1].Content, "Vegetables cost the most.")
	})

	t.Run("unsafe sql is rejected", func(t *testing.T) {
		client := &mockLLM{completeFunc: func(ctx context.Context, req llm.Request) (string, error) {
			return "```sql\nDROP TABLE data\n```", nil
		}}
		validator := func(sql string) error {
			if !strings.HasPrefix(strings.ToUpper(sql), "SELECT") {
				return errors.ErrUnsafeStatement
			}
			return nil
		}
		a, ds := setupTestAssistant(t, client, WithValidator(validator))

		_, err := a.Ask(ctx, models.DatasetQuestion{FileID: ds.ID, Query: "Clean up please"})
		require.Error(t, err)
		assert.Equal(t, errors.CodeUnsafeStatement, errors.GetCode(err))
	})

	t.Run("no sql falls back to first rows", func(t *testing.T) {
		client := &mockLLM{completeFunc: func(ctx context.Context, req llm.Request) (string, error) {
			if req.System == explainSystemPrompt {
				return "", errors.New(errors.CodeLLMFailed, "down")
			}
			return "I am not sure how to answer that.", nil
		}}
		a, ds := setupTestAssistant(t, client)

		answer, err := a.Ask(ctx, models.DatasetQuestion{FileID: ds.ID, Query: "Hmm?"})
		require.NoError(t, err)
		assert.Equal(t, FallbackSQL, answer.Code)
		assert.Equal(t, 7, answer.Result.Len())
		assert.Contains(t, answer.Explanation, "The query returned 7 rows")
	})

	t.Run("unknown dataset", func(t *testing.T) {
		a, _ := setupTestAssistant(t, nil)
		_, err := a.Ask(ctx, models.DatasetQuestion{FileID: "missing", Query: "x"})
		assert.True(t, errors.IsNotFound(err))

		_, err = a.Answer("missing")
		assert.True(t, errors.IsNotFound(err))
		assert.Empty(t, a.Conversation("missing").Messages)
	})
}
