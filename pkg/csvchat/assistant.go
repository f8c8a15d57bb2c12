package csvchat

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/models"
)

const (
	// FallbackSQL answers a question when no SQL could be generated.
	FallbackSQL = "SELECT * FROM " + TableName + " LIMIT 10"

	// HistoryMessages is the number of earlier conversation messages sent
	// with a question.
	HistoryMessages = 10

	previewRows = 5
)

var (
	visualizationPattern = regexp.MustCompile(`(?i)visualization(?:[ _]type)?\s*:\s*([a-z]+)`)
	visualizationTypes   = map[string]bool{
		"table": true, "line": true, "bar": true, "scatter": true, "pie": true,
		"histogram": true, "box": true, "heatmap": true, "none": true,
	}
)

// Validator rejects statements that must not run.
type Validator func(sql string) error

// Option configures an Assistant.
type Option func(*Assistant)

// WithValidator checks generated SQL before it runs.
func WithValidator(v Validator) Option {
	return func(a *Assistant) {
		a.validate = v
	}
}

// Assistant answers questions about datasets. Answers and conversations are
// kept in memory.
type Assistant struct {
	store    *Store
	client   llm.Client
	validate Validator
	logger   zerolog.Logger
	now      func() time.Time

	mu            sync.RWMutex
	answers       map[string]*models.DatasetAnswer
	conversations map[string]*models.Conversation
}

// NewAssistant creates an assistant. client may be nil, in which case only
// shortcut questions produce generated answers.
func NewAssistant(store *Store, client llm.Client, logger zerolog.Logger, opts ...Option) *Assistant {
	a := &Assistant{
		store:         store,
		client:        client,
		validate:      func(string) error { return nil },
		logger:        logger.With().Str("component", "csv_assistant").Logger(),
		now:           time.Now,
		answers:       make(map[string]*models.DatasetAnswer),
		conversations: make(map[string]*models.Conversation),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Ask answers q. Shortcut phrases are answered without the model. Otherwise
// the model writes SQL, which must pass the validator; if it writes none the
// first rows are shown instead.
func (a *Assistant) Ask(ctx context.Context, q models.DatasetQuestion) (*models.DatasetAnswer, error) {
	if strings.TrimSpace(q.Query) == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "query is required")
	}
	ds, err := a.store.Get(q.FileID)
	if err != nil {
		return nil, err
	}

	answer := &models.DatasetAnswer{
		QueryID:        uuid.NewString(),
		ConversationID: q.ConversationID,
		FileID:         q.FileID,
		Query:          q.Query,
		CreatedAt:      a.now().UTC(),
	}
	if answer.ConversationID == "" {
		answer.ConversationID = uuid.NewString()
	}
	log := a.logger.With().Str("query_id", answer.QueryID).Str("file_id", q.FileID).Logger()
	log.Info().Str("query", q.Query).Msg("Received query")

	if sc := MatchShortcut(q.Query); sc != nil {
		log.Debug().Str("shortcut", sc.Name).Msg("Answering with shortcut")
		answer.Shortcut = true
		answer.Code = sc.SQL
		answer.VisualizationType = sc.VisualizationType
		if answer.Result, err = a.store.Query(ctx, q.FileID, sc.SQL); err != nil {
			return nil, err
		}
		answer.Explanation = sc.Explain(ds)
		a.record(answer)
		return answer, nil
	}

	history := a.history(answer.ConversationID)
	code, viz, err := a.generateSQL(ctx, ds, q.Query, history)
	if err != nil {
		log.Warn().Err(err).Msg("SQL generation failed, showing first rows")
		code, viz = FallbackSQL, "table"
	} else if err := a.validate(code); err != nil {
		log.Warn().Err(err).Str("sql", code).Msg("Rejected generated SQL")
		return nil, err
	}
	answer.Code = code
	answer.VisualizationType = viz

	start := time.Now()
	answer.Result, err = a.store.Query(ctx, q.FileID, code)
	if err != nil {
		log.Error().Err(err).Str("sql", code).Msg("Query failed")
		return nil, err
	}
	log.Debug().Int("rows", answer.Result.Len()).Dur("duration", time.Since(start)).Msg("Query executed")

	answer.Explanation = a.explain(ctx, ds, q.Query, answer.Result)
	a.record(answer)
	return answer, nil
}

func (a *Assistant) generateSQL(ctx context.Context, ds *models.Dataset, question string, history []llm.Message) (string, string, error) {
	if a.client == nil {
		return "", "", errors.ErrMissingAPIKey.WithDetail("component", "csv_assistant")
	}

	messages := append(history, llm.Message{
		Role:    llm.RoleUser,
		Content: datasetContext(ds) + "\n\nUser Question: " + question,
	})
	reply, err := a.client.Complete(ctx, llm.Request{
		System:   sqlSystemPrompt,
		Messages: messages,
	})
	if err != nil {
		return "", "", err
	}

	code, ok := llm.ExtractCode(reply, "sql")
	if !ok || code == "" {
		return "", "", errors.New(errors.CodeLLMFailed, "response contained no sql block")
	}

	viz := "table"
	if m := visualizationPattern.FindStringSubmatch(reply); m != nil && visualizationTypes[strings.ToLower(m[1])] {
		viz = strings.ToLower(m[1])
	}
	return strings.TrimSuffix(strings.TrimSpace(code), ";"), viz, nil
}

const sqlSystemPrompt = `You are an expert data analyst who converts questions about CSV data into DuckDB SQL.
The data is loaded in a single table named data. Write one read-only SELECT statement that answers the question.
Reply with the statement in a fenced sql block, followed by a line "Visualization: <type>" where type is one of
table, line, bar, scatter, pie, histogram, box, heatmap or none.`

const explainSystemPrompt = `You are an expert data analyst who explains query results in clear, natural language.
Answer the user's question directly, point out the most important insights and use specific values from the results. Be concise.`

func datasetContext(ds *models.Dataset) string {
	var numeric, categorical, datetime []string
	for _, col := range ds.Columns {
		switch ColumnKind(ds.DTypes[col]) {
		case models.KindNumeric:
			numeric = append(numeric, col)
		case models.KindDatetime:
			datetime = append(datetime, col)
		case models.KindCategorical:
			categorical = append(categorical, col)
		}
	}
	orNone := func(s []string) string {
		if len(s) == 0 {
			return "None"
		}
		return strings.Join(s, ", ")
	}

	dtypes, _ := json.Marshal(ds.DTypes)
	sample, _ := json.MarshalIndent(ds.SampleRows.Documents(), "", "  ")

	var b strings.Builder
	b.WriteString("Table data:\n")
	fmt.Fprintf(&b, "- Shape: (%d, %d)\n", ds.RowCount, ds.ColumnCount)
	fmt.Fprintf(&b, "- Columns: %s\n", strings.Join(ds.Columns, ", "))
	fmt.Fprintf(&b, "- Data Types: %s\n", dtypes)
	fmt.Fprintf(&b, "- Numeric Columns: %s\n", orNone(numeric))
	fmt.Fprintf(&b, "- Categorical Columns: %s\n", orNone(categorical))
	fmt.Fprintf(&b, "- Datetime Columns: %s\n", orNone(datetime))
	fmt.Fprintf(&b, "\nSample Data (first %d rows):\n%s", ds.SampleRows.Len(), sample)
	return b.String()
}

// explain asks the model to describe the result. Without a model, or when
// the call fails, a plain description of the result is returned.
func (a *Assistant) explain(ctx context.Context, ds *models.Dataset, question string, result *models.TabularResult) string {
	fallback := fmt.Sprintf("The query returned %d rows with columns: %s.", result.Len(), strings.Join(result.Columns, ", "))
	if a.client == nil {
		return fallback
	}

	preview, _ := json.MarshalIndent(result.Head(previewRows).Documents(), "", "  ")
	prompt := fmt.Sprintf("User Question: %s\n\nData Context:\n- Shape: (%d, %d)\n- Columns: %s\n\nAnalysis Results (%d rows, first %d shown):\n%s",
		question, ds.RowCount, ds.ColumnCount, strings.Join(ds.Columns, ", "),
		result.Len(), min(result.Len(), previewRows), preview)

	text, err := llm.Ask(ctx, a.client, explainSystemPrompt, prompt, 0)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Explanation failed")
		return fallback
	}
	return strings.TrimSpace(text)
}

func (a *Assistant) history(conversationID string) []llm.Message {
	a.mu.RLock()
	defer a.mu.RUnlock()
	conv, ok := a.conversations[conversationID]
	if !ok {
		return nil
	}
	msgs := conv.Messages
	if len(msgs) > HistoryMessages {
		msgs = msgs[len(msgs)-HistoryMessages:]
	}
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return out
}

func (a *Assistant) record(answer *models.DatasetAnswer) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.answers[answer.QueryID] = answer
	conv, ok := a.conversations[answer.ConversationID]
	if !ok {
		conv = &models.Conversation{ID: answer.ConversationID, FileID: answer.FileID}
		a.conversations[answer.ConversationID] = conv
	}
	reply := answer.Explanation
	if answer.Code != "" {
		reply = "```sql\n" + answer.Code + "\n```\n" + reply
	}
	conv.Messages = append(conv.Messages,
		models.Message{Role: llm.RoleUser, Content: answer.Query, Timestamp: answer.CreatedAt},
		models.Message{Role: llm.RoleAssistant, Content: reply, Timestamp: a.now().UTC()},
	)
}

// Answer returns a stored answer.
func (a *Assistant) Answer(queryID string) (*models.DatasetAnswer, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	answer, ok := a.answers[queryID]
	if !ok {
		return nil, errors.ErrQueryNotFound.WithDetail("query_id", queryID)
	}
	return answer, nil
}

// Conversation returns a copy of a conversation. Unknown IDs yield an empty
// conversation.
func (a *Assistant) Conversation(id string) *models.Conversation {
	a.mu.RLock()
	defer a.mu.RUnlock()
	conv, ok := a.conversations[id]
	if !ok {
		return &models.Conversation{ID: id, Messages: []models.Message{}}
	}
	return &models.Conversation{
		ID:       conv.ID,
		FileID:   conv.FileID,
		Messages: append([]models.Message(nil), conv.Messages...),
	}
}
