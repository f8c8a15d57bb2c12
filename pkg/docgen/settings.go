// Package docgen generates documentation for source trees with an LLM.
package docgen

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/models"
)

const (
	DefaultMaxFileSize = 500 * 1024
	DefaultTimeout     = 60
	DefaultWorkers     = 4
	DefaultOutputDir   = "code_docs"
)

// Settings are the persisted docgen preferences.
type Settings struct {
	Provider          string   `yaml:"provider" validate:"required,oneof=ollama openai anthropic"`
	Model             string   `yaml:"model" validate:"required"`
	Port              int      `yaml:"port" validate:"min=1,max=65535"`
	APIKey            string   `yaml:"api_key"`
	OutputFormat      string   `yaml:"output_format" validate:"oneof=markdown html json"`
	MaxFileSize       int64    `yaml:"max_file_size" validate:"min=1"`
	Timeout           int      `yaml:"timeout" validate:"min=1"`
	Workers           int      `yaml:"workers" validate:"min=1,max=32"`
	ExcludeDirs       []string `yaml:"exclude_dirs"`
	ExcludeFiles      []string `yaml:"exclude_files"`
	IncludeExtensions []string `yaml:"include_extensions,omitempty"`
}

// DefaultSettings returns the settings written on first use.
func DefaultSettings() Settings {
	return Settings{
		Provider:     llm.ProviderOllama,
		Model:        llm.DefaultModels[llm.ProviderOllama],
		Port:         llm.DefaultOllamaPort,
		OutputFormat: models.FormatMarkdown,
		MaxFileSize:  DefaultMaxFileSize,
		Timeout:      DefaultTimeout,
		Workers:      DefaultWorkers,
		ExcludeDirs: []string{
			".git", ".github", "__pycache__", "node_modules", "venv", "env",
			"dist", "build", ".idea", ".vscode", ".pytest_cache",
		},
		ExcludeFiles: []string{"package-lock.json", "yarn.lock", ".gitignore", ".DS_Store"},
	}
}

// Validate checks the settings.
func (s Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return errors.Wrap(err, errors.CodeInvalidRequest, "invalid docgen settings")
	}
	return nil
}

// LLMConfig returns the client configuration for the settings.
func (s Settings) LLMConfig() llm.Config {
	return llm.Config{
		Provider:   s.Provider,
		Model:      s.Model,
		APIKey:     s.APIKey,
		OllamaPort: s.Port,
		Timeout:    time.Duration(s.Timeout) * time.Second,
	}
}

// Set assigns one setting from its string form. List settings take a comma
// separated value.
func (s *Settings) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "provider":
		s.Provider = strings.ToLower(value)
	case "model":
		s.Model = value
	case "api_key":
		s.APIKey = value
	case "output_format":
		s.OutputFormat = strings.ToLower(value)
	case "port", "timeout", "workers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Newf(errors.CodeInvalidRequest, "%s must be an integer", key)
		}
		switch key {
		case "port":
			s.Port = n
		case "timeout":
			s.Timeout = n
		default:
			s.Workers = n
		}
	case "max_file_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return errors.Newf(errors.CodeInvalidRequest, "%s must be an integer", key)
		}
		s.MaxFileSize = n
	case "exclude_dirs":
		s.ExcludeDirs = splitList(value)
	case "exclude_files":
		s.ExcludeFiles = splitList(value)
	case "include_extensions":
		s.IncludeExtensions = splitList(value)
	default:
		return errors.Newf(errors.CodeInvalidRequest, "unknown setting %q", key)
	}
	return s.Validate()
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// SettingsPath returns ~/.config/quarry/docgen.yaml.
func SettingsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to locate home directory")
	}
	return filepath.Join(home, ".config", "quarry", "docgen.yaml"), nil
}

// LoadSettings reads path, filling absent keys from the defaults. A missing
// file is created with the defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, SaveSettings(path, s)
	}
	if err != nil {
		return s, errors.Wrapf(err, errors.CodeInternal, "failed to read %s", path)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return DefaultSettings(), errors.Wrapf(err, errors.CodeInvalidRequest, "failed to parse %s", path)
	}
	return s, s.Validate()
}

// SaveSettings validates s and writes it to path.
func SaveSettings(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode settings")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to create %s", filepath.Dir(path))
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, errors.CodeInternal, "failed to write %s", path)
	}
	return nil
}

// ResetSettings overwrites path with the defaults.
func ResetSettings(path string) (Settings, error) {
	s := DefaultSettings()
	return s, SaveSettings(path, s)
}

// FormatSize renders a byte count for people.
func FormatSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d bytes", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}
