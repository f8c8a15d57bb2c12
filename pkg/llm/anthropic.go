package llm

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
)

type anthropicClient struct {
	cfg      Config
	messages anthropic.MessageService
	logger   zerolog.Logger
}

func newAnthropicClient(cfg Config, logger zerolog.Logger) *anthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)
	return &anthropicClient{
		cfg:      cfg,
		messages: client.Messages,
		logger:   logger,
	}
}

func (c *anthropicClient) Provider() string { return ProviderAnthropic }
func (c *anthropicClient) Model() string    { return c.cfg.Model }

func (c *anthropicClient) Complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	system := req.System
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if system == "" {
				system = m.Content
			}
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(messages) == 0 {
		return "", errors.New(errors.CodeInvalidRequest, "at least one user message is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.cfg.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if t := temperature(req.Temperature, c.cfg.Temperature); t > 0 {
		params.Temperature = anthropic.Float(t)
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	resp, err := c.messages.New(ctx, params)
	if err != nil {
		c.logger.Error().Err(err).Int("message_count", len(messages)).Msg("Message creation failed")
		return "", llmError(err, ProviderAnthropic)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	if out.Len() == 0 {
		return "", errors.New(errors.CodeLLMFailed, "anthropic returned no text")
	}

	c.logger.Debug().
		Int("message_count", len(messages)).
		Dur("duration", time.Since(start)).
		Msg("Message created")
	return out.String(), nil
}
