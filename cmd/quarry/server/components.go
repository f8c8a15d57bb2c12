package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/cmd/quarry/config"
	"github.com/TFMV/quarry/pkg/agent"
	"github.com/TFMV/quarry/pkg/csvchat"
	"github.com/TFMV/quarry/pkg/explorer"
	"github.com/TFMV/quarry/pkg/infrastructure/pool"
	"github.com/TFMV/quarry/pkg/llm"
	"github.com/TFMV/quarry/pkg/market"
	"github.com/TFMV/quarry/pkg/repositories/mongodb"
	"github.com/TFMV/quarry/pkg/repositories/sqldb"
	"github.com/TFMV/quarry/pkg/services"
)

// Closer releases a component's resources.
type Closer func() error

// OpenExplorer connects to the configured database and returns its explorer.
// SQL explorers only run statements the classifier accepts as read-only.
func OpenExplorer(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (explorer.DatabaseExplorer, Closer, error) {
	if cfg.IsMongo() {
		repo, disconnect, err := mongodb.Connect(ctx, mongodb.Config{
			URI:            cfg.DSN,
			Database:       cfg.Name,
			ConnectTimeout: cfg.ConnectTimeout,
		}, logger.With().Str("component", "mongodb").Logger())
		if err != nil {
			return nil, nil, err
		}
		closer := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return disconnect(ctx)
		}
		return explorer.NewMongoExplorer(repo, logger), closer, nil
	}

	p, err := pool.New(pool.Config{
		Driver:             cfg.Driver,
		DSN:                cfg.DSN,
		MaxOpenConnections: cfg.MaxOpenConnections,
		MaxIdleConnections: cfg.MaxIdleConnections,
		ConnMaxLifetime:    cfg.ConnMaxLifetime,
		ConnMaxIdleTime:    cfg.ConnMaxIdleTime,
		HealthCheckPeriod:  cfg.HealthCheckPeriod,
		ConnectionTimeout:  cfg.ConnectTimeout,
		SlowQueryThreshold: cfg.SlowQueryThreshold,
	}, logger.With().Str("component", "pool").Logger())
	if err != nil {
		return nil, nil, err
	}

	repo, err := sqldb.NewRepository(p, logger.With().Str("component", "sql_repository").Logger())
	if err != nil {
		_ = p.Close()
		return nil, nil, err
	}

	classifier := services.NewStatementClassifier()
	x := explorer.NewSQLExplorer(repo, logger, explorer.WithStatementValidator(classifier.ValidateReadOnly))
	return x, p.Close, nil
}

// NewAgent builds the database chat agent over x.
func NewAgent(client llm.Client, x explorer.DatabaseExplorer, maxRounds int, logger zerolog.Logger, opts ...agent.Option) *agent.Agent {
	if maxRounds > 0 {
		opts = append([]agent.Option{agent.WithMaxRounds(maxRounds)}, opts...)
	}
	return agent.New(client, agent.NewToolbox(x, logger), logger, opts...)
}

// NewAnalyzer builds the stock analyzer from the market configuration.
func NewAnalyzer(cfg config.MarketConfig, logger zerolog.Logger) (*market.Analyzer, error) {
	polygon, err := market.NewPolygonClient(cfg.PolygonAPIKey, logger,
		market.WithBaseURL(cfg.PolygonBaseURL),
		market.WithTimeout(cfg.Timeout),
		market.WithRateLimit(cfg.RateLimit),
	)
	if err != nil {
		return nil, err
	}
	edgar := market.NewEdgarClient(logger,
		market.WithBaseURL(cfg.EdgarBaseURL),
		market.WithTimeout(cfg.Timeout),
		market.WithRateLimit(cfg.EdgarRateLimit),
		market.WithUserAgent(cfg.EdgarUserAgent),
	)
	return market.NewAnalyzer(polygon, edgar, logger), nil
}

// NewDatasetAssistant opens the CSV store under uploadDir and its assistant.
// client may be nil; generated SQL must pass the read-only check.
func NewDatasetAssistant(uploadDir string, client llm.Client, logger zerolog.Logger) (*csvchat.Store, *csvchat.Assistant, error) {
	store, err := csvchat.NewStore(uploadDir, logger.With().Str("component", "csv_store").Logger())
	if err != nil {
		return nil, nil, err
	}
	classifier := services.NewStatementClassifier()
	assistant := csvchat.NewAssistant(store, client, logger, csvchat.WithValidator(classifier.ValidateReadOnly))
	return store, assistant, nil
}
