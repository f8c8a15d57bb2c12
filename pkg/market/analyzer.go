package market

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

const (
	// HistoryDays is the lookback of the daily aggregates.
	HistoryDays = 30
	// NewsLimit is the number of articles fetched.
	NewsLimit = 10
	// FinancialsLimit is the number of statements fetched.
	FinancialsLimit = 5

	fanOut = 4
)

// Analyzer combines Polygon and EDGAR data into a StockAnalysis.
type Analyzer struct {
	polygon *PolygonClient
	edgar   *EdgarClient
	logger  zerolog.Logger
	now     func() time.Time
}

// NewAnalyzer creates an analyzer. edgar may be nil to skip filings.
func NewAnalyzer(polygon *PolygonClient, edgar *EdgarClient, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		polygon: polygon,
		edgar:   edgar,
		logger:  logger.With().Str("component", "analyzer").Logger(),
		now:     time.Now,
	}
}

// NormalizeTicker trims and upper-cases a ticker symbol.
func NormalizeTicker(ticker string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return "", errors.New(errors.CodeInvalidRequest, "ticker is required")
	}
	return t, nil
}

// AnalyzeStock collects every data set for ticker. Only the ticker details
// call is fatal; every other failure is logged and leaves its field empty.
func (a *Analyzer) AnalyzeStock(ctx context.Context, ticker string) (*models.StockAnalysis, error) {
	ticker, err := NormalizeTicker(ticker)
	if err != nil {
		return nil, err
	}

	now := a.now()
	tradingDay := LatestTradingDay(now)
	analysis := &models.StockAnalysis{
		Ticker:           ticker,
		GeneratedAt:      now.UTC(),
		LatestTradingDay: tradingDay.Format(DateLayout),
	}
	log := a.logger.With().Str("ticker", ticker).Logger()
	log.Info().Str("trading_day", analysis.LatestTradingDay).Msg("Analyzing stock")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fanOut)

	// Each optional fetch writes its own field, so no locking is needed.
	optional := func(name string, fetch func(context.Context) error) {
		g.Go(func() error {
			if err := fetch(gctx); err != nil {
				log.Warn().Err(err).Str("endpoint", name).Msg("Fetch failed")
			}
			return nil
		})
	}

	g.Go(func() error {
		details, err := a.polygon.TickerDetails(gctx, ticker)
		if err != nil {
			return err
		}
		analysis.Details = details
		analysis.CIK = details.Results.CIK
		if analysis.CIK == "" || a.edgar == nil {
			log.Info().Msg("No CIK, skipping EDGAR")
			return nil
		}
		filings, err := a.edgar.Filings(gctx, analysis.CIK)
		if err != nil {
			log.Warn().Err(err).Str("cik", analysis.CIK).Msg("EDGAR fetch failed")
			return nil
		}
		analysis.SECEdgarFilings = filings
		return nil
	})
	optional("aggregates", func(ctx context.Context) (err error) {
		analysis.HistoricalData, err = a.polygon.Aggregates(ctx, ticker, 1, "day", now.AddDate(0, 0, -HistoryDays), tradingDay)
		return err
	})
	optional("open_close", func(ctx context.Context) (err error) {
		analysis.OpenClose, err = a.polygon.DailyOpenClose(ctx, ticker, tradingDay)
		return err
	})
	optional("dividends", func(ctx context.Context) (err error) {
		analysis.Dividends, err = a.polygon.Dividends(ctx, ticker)
		return err
	})
	optional("splits", func(ctx context.Context) (err error) {
		analysis.Splits, err = a.polygon.Splits(ctx, ticker)
		return err
	})
	optional("sma", func(ctx context.Context) (err error) {
		analysis.SMA50, err = a.polygon.SMA(ctx, ticker, "day", SMAWindow)
		return err
	})
	optional("news", func(ctx context.Context) (err error) {
		analysis.News, err = a.polygon.News(ctx, ticker, NewsLimit)
		return err
	})
	optional("financials", func(ctx context.Context) (err error) {
		analysis.Financials, err = a.polygon.Financials(ctx, ticker, FinancialsLimit)
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Stock analysis failed")
		return nil, errors.Wrapf(err, errors.GetCode(err), "failed to analyze %s", ticker)
	}

	analysis.TechnicalIndicators = analysis.SMA50
	analysis.Summary = Summarize(analysis.HistoricalData, analysis.SMA50)
	if analysis.Summary != nil {
		log.Info().Str("signal", analysis.Summary.Signal).Msg("Stock analysis completed")
	}
	return analysis, nil
}

// MarketStatus returns the current market state.
func (a *Analyzer) MarketStatus(ctx context.Context) (*models.MarketStatus, error) {
	return a.polygon.MarketStatus(ctx)
}

// AnalysisFileName is the name the analysis of ticker is saved under.
func AnalysisFileName(ticker string) string {
	return ticker + "_analysis_data.json"
}

// SaveAnalysis writes an analysis as indented JSON to dir and returns the path.
func SaveAnalysis(dir string, analysis *models.StockAnalysis) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, errors.CodeInternal, "failed to create %s", dir)
	}
	data, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to encode analysis")
	}
	path := filepath.Join(dir, AnalysisFileName(analysis.Ticker))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrapf(err, errors.CodeInternal, "failed to write %s", path)
	}
	return path, nil
}

// LoadAnalysis reads an analysis written by SaveAnalysis.
func LoadAnalysis(path string) (*models.StockAnalysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeNotFound, "failed to read %s", path)
	}
	var analysis models.StockAnalysis
	if err := json.Unmarshal(data, &analysis); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInvalidRequest, "failed to decode %s", path)
	}
	return &analysis, nil
}
