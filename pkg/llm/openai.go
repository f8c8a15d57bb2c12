package llm

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/TFMV/quarry/pkg/errors"
)

// openAIClient serves OpenAI and any OpenAI-compatible endpoint such as
// Ollama's /v1 API.
type openAIClient struct {
	provider string
	cfg      Config
	client   *openai.Client
	logger   zerolog.Logger
}

func newOpenAIClient(provider string, cfg Config, logger zerolog.Logger) *openAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &openAIClient{
		provider: provider,
		cfg:      cfg,
		client:   openai.NewClientWithConfig(oc),
		logger:   logger,
	}
}

func (c *openAIClient) Provider() string { return c.provider }
func (c *openAIClient) Model() string    { return c.cfg.Model }

func (c *openAIClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	request := openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if t := temperature(req.Temperature, c.cfg.Temperature); t > 0 {
		request.Temperature = float32(t)
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, request)
	if err != nil {
		c.logger.Error().Err(err).Int("message_count", len(messages)).Msg("Chat completion failed")
		return "", llmError(err, c.provider)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Newf(errors.CodeLLMFailed, "%s returned no choices", c.provider)
	}

	c.logger.Debug().
		Int("message_count", len(messages)).
		Int("total_tokens", resp.Usage.TotalTokens).
		Dur("duration", time.Since(start)).
		Msg("Chat completion finished")
	return resp.Choices[0].Message.Content, nil
}

// temperature picks the request value, then the configured one. Zero keeps
// the provider default.
func temperature(req, cfg float64) float64 {
	if req > 0 {
		return req
	}
	return cfg
}
