// Package main provides the quarry command line: stock analysis, database
// exploration and chat, CSV questions, source documentation and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/TFMV/quarry/cmd/quarry/config"
)

var (
	// Version information (set by build flags)
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Explore databases, analyze stocks and question CSV files",
	Long: `quarry digs answers out of data sources.

It profiles and chats with MongoDB and SQL databases, builds stock analyses
from Polygon.io and SEC EDGAR, answers questions about CSV files, documents
source trees, and serves all of it over an HTTP API.`,
	SilenceUsage: true,
}

// envAliases are legacy environment names accepted besides QUARRY_*.
var envAliases = map[string][]string{
	"market.polygon_api_key": {"POLYGON_API_KEY"},
	"llm.api_key":            {"OPENAI_API_KEY"},
	"server.upload_dir":      {"UPLOAD_DIR"},
	"database.dsn":           {"MONGODB_URI", "DATABASE_URL"},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "config file path")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	flags.String("provider", "", "model provider (openai, ollama, anthropic)")
	flags.String("model", "", "model name")

	mustBind(viper.BindPFlag("config", flags.Lookup("config")))
	mustBind(viper.BindPFlag("log_level", flags.Lookup("log-level")))
	mustBind(viper.BindPFlag("log_format", flags.Lookup("log-format")))
	mustBind(viper.BindPFlag("llm.provider", flags.Lookup("provider")))
	mustBind(viper.BindPFlag("llm.model", flags.Lookup("model")))

	viper.SetEnvPrefix("QUARRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper(), "", reflect.ValueOf(*config.DefaultConfig()))
	for key, names := range envAliases {
		env := "QUARRY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		mustBind(viper.BindEnv(append([]string{key, env}, names...)...))
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("quarry\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Commit:     %s\n", commit)
			fmt.Printf("Build Date: %s\n", buildDate)
		},
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func mustBind(err error) {
	if err != nil {
		panic(fmt.Errorf("failed to bind flags: %w", err))
	}
}

// setDefaults registers every config key with its default so that viper
// resolves it from the environment.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// loadConfig reads the optional config file and resolves flags, environment
// and defaults into a validated Config.
func loadConfig() (*config.Config, error) {
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogging(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
		zerolog.CallerMarshalFunc = func(pc uintptr, file string, line int) string {
			short := file
			for i := len(file) - 1; i > 0; i-- {
				if file[i] == '/' {
					short = file[i+1:]
					break
				}
			}
			return fmt.Sprintf("%s:%d", short, line)
		}
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	// Command output owns stdout.
	out := zerolog.New(os.Stderr)
	if format == "console" {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	logger := out.
		Level(logLevel).
		With().
		Timestamp().
		Str("service", "quarry")

	if logLevel == zerolog.DebugLevel {
		logger = logger.Caller()
	}

	return logger.Logger()
}

// setup loads the configuration and the logger for a command.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, setupLogging(cfg.LogLevel, cfg.LogFormat), nil
}
