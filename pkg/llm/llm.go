// Package llm provides a provider-neutral chat completion client with OpenAI,
// Ollama and Anthropic implementations.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
)

// Providers
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// Message roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

const (
	DefaultOllamaPort = 11434
	DefaultMaxTokens  = 4096
	DefaultTimeout    = 2 * time.Minute
)

// DefaultModels holds the model used when none is configured.
var DefaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderOllama:    "mistral",
	ProviderAnthropic: "claude-sonnet-4-20250514",
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request. System is sent as the provider's
// system prompt. Zero Temperature and MaxTokens fall back to the Config.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Client completes chat requests.
type Client interface {
	// Complete returns the assistant reply text.
	Complete(ctx context.Context, req Request) (string, error)
	// Provider returns the provider name.
	Provider() string
	// Model returns the model in use.
	Model() string
}

// Config selects and configures a provider.
type Config struct {
	Provider    string        `mapstructure:"provider" yaml:"provider" validate:"omitempty,oneof=openai ollama anthropic"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	OllamaPort  int           `mapstructure:"ollama_port" yaml:"port" validate:"omitempty,min=1,max=65535"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// New creates the client for cfg.Provider. An empty provider means OpenAI.
func New(cfg Config, logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModels[provider]
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	logger = logger.With().Str("provider", provider).Str("model", cfg.Model).Logger()

	switch provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.ErrMissingAPIKey.WithDetail("provider", provider)
		}
		return newOpenAIClient(provider, cfg, logger), nil
	case ProviderOllama:
		if cfg.BaseURL == "" {
			port := cfg.OllamaPort
			if port == 0 {
				port = DefaultOllamaPort
			}
			cfg.BaseURL = fmt.Sprintf("http://localhost:%d/v1", port)
		}
		if cfg.APIKey == "" {
			cfg.APIKey = "ollama"
		}
		return newOpenAIClient(provider, cfg, logger), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.ErrMissingAPIKey.WithDetail("provider", provider)
		}
		return newAnthropicClient(cfg, logger), nil
	default:
		return nil, errors.Newf(errors.CodeInvalidRequest, "unsupported llm provider %q", cfg.Provider)
	}
}

// Ask sends a single user prompt with an optional system prompt.
func Ask(ctx context.Context, c Client, system, prompt string, temperature float64) (string, error) {
	return c.Complete(ctx, Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: temperature,
	})
}

func llmError(err error, provider string) error {
	return errors.Wrapf(err, errors.CodeLLMFailed, "%s completion failed", provider)
}
