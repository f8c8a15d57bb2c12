package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/errors"
)

func TestNew(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name     string
		cfg      Config
		provider string
		model    string
		wantErr  bool
	}{
		{name: "openai default", cfg: Config{APIKey: "k"}, provider: ProviderOpenAI, model: "gpt-4o-mini"},
		{name: "openai without key", cfg: Config{Provider: "openai"}, wantErr: true},
		{name: "ollama needs no key", cfg: Config{Provider: "Ollama", Model: "llama3"}, provider: ProviderOllama, model: "llama3"},
		{name: "anthropic", cfg: Config{Provider: "anthropic", APIKey: "k"}, provider: ProviderAnthropic, model: DefaultModels[ProviderAnthropic]},
		{name: "anthropic without key", cfg: Config{Provider: "anthropic"}, wantErr: true},
		{name: "unknown provider", cfg: Config{Provider: "palm", APIKey: "k"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, logger)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequest(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.provider, c.Provider())
			assert.Equal(t, tt.model, c.Model())
		})
	}
}

func TestNew_OllamaBaseURL(t *testing.T) {
	c, err := New(Config{Provider: ProviderOllama, OllamaPort: 9999}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/v1", c.(*openAIClient).cfg.BaseURL)
}

func TestOpenAIClient_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"total_tokens":7}}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "secret", BaseURL: srv.URL, Model: "m1"}, zerolog.Nop())
	require.NoError(t, err)

	reply, err := c.Complete(context.Background(), Request{
		System:      "be brief",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hey"}, {Role: RoleUser, Content: "again"}},
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", reply)

	assert.Equal(t, "m1", got["model"])
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]interface{})["role"])
	assert.InDelta(t, 0.2, got["temperature"], 0.001)
}

func TestOpenAIClient_Errors(t *testing.T) {
	status := http.StatusTooManyRequests
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if status == http.StatusOK {
			w.Write([]byte(`{"choices":[]}`))
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	c, err := New(Config{APIKey: "k", BaseURL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	t.Run("api error", func(t *testing.T) {
		_, err := Ask(context.Background(), c, "", "hi", 0)
		require.Error(t, err)
		assert.Equal(t, errors.CodeLLMFailed, errors.GetCode(err))
	})

	t.Run("no choices", func(t *testing.T) {
		status = http.StatusOK
		_, err := Ask(context.Background(), c, "", "hi", 0)
		require.Error(t, err)
		assert.Equal(t, errors.CodeLLMFailed, errors.GetCode(err))
	})
}

func TestAnthropicClient_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[{"type":"text","text":"docs "},{"type":"text","text":"here"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer srv.Close()

	c, err := New(Config{Provider: ProviderAnthropic, APIKey: "secret", BaseURL: srv.URL, MaxTokens: 100}, zerolog.Nop())
	require.NoError(t, err)

	reply, err := c.Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "document this"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "docs here", reply)

	assert.EqualValues(t, 100, got["max_tokens"])
	system := got["system"].([]interface{})
	assert.Equal(t, "sys", system[0].(map[string]interface{})["text"])
	assert.Len(t, got["messages"], 1)

	_, err = c.Complete(context.Background(), Request{System: "only system"})
	assert.True(t, errors.IsInvalidRequest(err))
}

func TestExtractBlocks(t *testing.T) {
	reply := "Here you go:\n```sql\nSELECT 1;\n```\nand\n```JSON\n{\"a\": 1}\n```\n```\nplain\n```"

	blocks := ExtractBlocks(reply)
	require.Len(t, blocks, 3)
	assert.Equal(t, Block{Lang: "sql", Code: "SELECT 1;"}, blocks[0])
	assert.Equal(t, "json", blocks[1].Lang)
	assert.Equal(t, "", blocks[2].Lang)

	tests := []struct {
		name   string
		text   string
		lang   string
		want   string
		wantOK bool
	}{
		{"tagged", reply, "json", `{"a": 1}`, true},
		{"falls back to untagged", "```\nSELECT 2\n```", "sql", "SELECT 2", true},
		{"no fence", "  SELECT 3  ", "sql", "SELECT 3", false},
		{"other language only", "```python\nprint(1)\n```", "sql", "```python\nprint(1)\n```", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := ExtractCode(tt.text, tt.lang)
			assert.Equal(t, tt.want, code)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}
