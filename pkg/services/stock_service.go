package services

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/market"
	"github.com/TFMV/quarry/pkg/models"
)

// stockService implements StockService interface.
type stockService struct {
	analyzer StockAnalyzer
	analyses cache.Cache[*models.StockAnalysis]
	group    singleflight.Group
	logger   Logger
	metrics  MetricsCollector
}

// NewStockService creates a new stock service. Analyses are cached per ticker
// for the cache's TTL; a nil cache disables caching.
func NewStockService(
	analyzer StockAnalyzer,
	analyses cache.Cache[*models.StockAnalysis],
	logger Logger,
	metrics MetricsCollector,
) StockService {
	return &stockService{
		analyzer: analyzer,
		analyses: analyses,
		logger:   logger,
		metrics:  metrics,
	}
}

// Analyze returns the analysis of ticker. Concurrent requests for the same
// ticker share one upstream analysis.
func (s *stockService) Analyze(ctx context.Context, ticker string) (*models.StockAnalysis, error) {
	ticker, err := market.NormalizeTicker(ticker)
	if err != nil {
		s.metrics.IncrementCounter("stock_validation_errors")
		return nil, err
	}

	if s.analyses != nil {
		if analysis, ok := s.analyses.Get(ctx, ticker); ok {
			s.metrics.IncrementCounter("stock_cache_hits")
			s.logger.Debug("Serving cached analysis", "ticker", ticker)
			return analysis, nil
		}
		s.metrics.IncrementCounter("stock_cache_misses")
	}

	v, err, shared := s.group.Do(ticker, func() (interface{}, error) {
		timer := s.metrics.StartTimer("stock_analysis")
		defer timer.Stop()

		s.logger.Info("Analyzing stock", "ticker", ticker)
		analysis, err := s.analyzer.AnalyzeStock(ctx, ticker)
		if err != nil {
			return nil, err
		}
		if s.analyses != nil {
			s.analyses.Put(ctx, ticker, analysis)
		}
		return analysis, nil
	})
	if err != nil {
		s.logger.Error("Failed to analyze stock", "error", err, "ticker", ticker)
		s.metrics.IncrementCounter("stock_analysis_errors")
		if errors.IsCoded(err) {
			return nil, err
		}
		return nil, errors.Wrapf(err, errors.CodeUpstreamFailed, "failed to analyze %s", ticker)
	}
	if shared {
		s.metrics.IncrementCounter("stock_analysis_shared")
	}
	return v.(*models.StockAnalysis), nil
}

// MarketStatus returns the current market state. It is never cached.
func (s *stockService) MarketStatus(ctx context.Context) (*models.MarketStatus, error) {
	timer := s.metrics.StartTimer("market_status")
	defer timer.Stop()

	status, err := s.analyzer.MarketStatus(ctx)
	if err != nil {
		s.logger.Error("Failed to get market status", "error", err)
		s.metrics.IncrementCounter("market_status_errors")
		if errors.IsCoded(err) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeUpstreamFailed, "failed to get market status")
	}
	return status, nil
}
