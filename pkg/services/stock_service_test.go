package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/quarry/pkg/cache"
	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

func setupTestStockService(analyses cache.Cache[*models.StockAnalysis]) (StockService, *mockAnalyzer, *mockMetricsCollector) {
	analyzer := &mockAnalyzer{}
	metrics := &mockMetricsCollector{}
	return NewStockService(analyzer, analyses, &mockLogger{}, metrics), analyzer, metrics
}

func TestStockService_Analyze(t *testing.T) {
	t.Run("normalizes and caches", func(t *testing.T) {
		service, analyzer, metrics := setupTestStockService(cache.NewMemoryCache[*models.StockAnalysis](cache.DefaultConfig()))
		var calls int32
		analyzer.analyzeFunc = func(ctx context.Context, ticker string) (*models.StockAnalysis, error) {
			atomic.AddInt32(&calls, 1)
			assert.Equal(t, "AAPL", ticker)
			return &models.StockAnalysis{Ticker: ticker}, nil
		}

		analysis, err := service.Analyze(context.Background(), " aapl ")
		require.NoError(t, err)
		assert.Equal(t, "AAPL", analysis.Ticker)

		again, err := service.Analyze(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Same(t, analysis, again)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
		assert.Equal(t, 1, metrics.count("stock_cache_hits"))
	})

	t.Run("without cache", func(t *testing.T) {
		service, analyzer, _ := setupTestStockService(nil)
		var calls int32
		analyzer.analyzeFunc = func(ctx context.Context, ticker string) (*models.StockAnalysis, error) {
			atomic.AddInt32(&calls, 1)
			return &models.StockAnalysis{Ticker: ticker}, nil
		}

		for i := 0; i < 3; i++ {
			_, err := service.Analyze(context.Background(), "MSFT")
			require.NoError(t, err)
		}
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("concurrent requests share one analysis", func(t *testing.T) {
		service, analyzer, _ := setupTestStockService(nil)
		var calls int32
		release := make(chan struct{})
		analyzer.analyzeFunc = func(ctx context.Context, ticker string) (*models.StockAnalysis, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return &models.StockAnalysis{Ticker: ticker}, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := service.Analyze(context.Background(), "NVDA")
				assert.NoError(t, err)
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("empty ticker", func(t *testing.T) {
		service, _, metrics := setupTestStockService(nil)
		_, err := service.Analyze(context.Background(), "  ")
		assert.True(t, errors.IsInvalidRequest(err))
		assert.Equal(t, 1, metrics.count("stock_validation_errors"))
	})

	t.Run("error handling", func(t *testing.T) {
		service, analyzer, metrics := setupTestStockService(cache.NewMemoryCache[*models.StockAnalysis](nil))
		analyzer.analyzeFunc = func(ctx context.Context, ticker string) (*models.StockAnalysis, error) {
			return nil, assert.AnError
		}

		_, err := service.Analyze(context.Background(), "AAPL")
		assert.Equal(t, errors.CodeUpstreamFailed, errors.GetCode(err))
		assert.Equal(t, 1, metrics.count("stock_analysis_errors"))

		analyzer.analyzeFunc = func(ctx context.Context, ticker string) (*models.StockAnalysis, error) {
			return nil, errors.New(errors.CodeNotFound, "unknown ticker")
		}
		_, err = service.Analyze(context.Background(), "ZZZZ")
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestStockService_MarketStatus(t *testing.T) {
	service, analyzer, _ := setupTestStockService(nil)

	t.Run("success", func(t *testing.T) {
		analyzer.marketStatusFunc = func(ctx context.Context) (*models.MarketStatus, error) {
			return &models.MarketStatus{Market: "open"}, nil
		}
		status, err := service.MarketStatus(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "open", status.Market)
	})

	t.Run("error handling", func(t *testing.T) {
		analyzer.marketStatusFunc = func(ctx context.Context) (*models.MarketStatus, error) {
			return nil, assert.AnError
		}
		status, err := service.MarketStatus(context.Background())
		assert.Nil(t, status)
		assert.Equal(t, errors.CodeUpstreamFailed, errors.GetCode(err))
	})
}
