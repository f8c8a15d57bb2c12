package market

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

// DefaultPolygonBaseURL is the Polygon.io API root.
const DefaultPolygonBaseURL = "https://api.polygon.io"

// DateLayout is the date format of Polygon path parameters.
const DateLayout = "2006-01-02"

// PolygonClient is a Polygon.io REST client. The API key travels as the
// apiKey query parameter.
type PolygonClient struct {
	c *client
}

// NewPolygonClient creates a Polygon client.
func NewPolygonClient(apiKey string, logger zerolog.Logger, opts ...ClientOption) (*PolygonClient, error) {
	if apiKey == "" {
		return nil, errors.ErrMissingAPIKey.WithDetail("provider", "polygon")
	}
	c := newClient("polygon", DefaultPolygonBaseURL, logger, opts)
	c.query.Set("apiKey", apiKey)
	return &PolygonClient{c: c}, nil
}

// Aggregates returns bars of multiplier*timespan between from and to.
func (p *PolygonClient) Aggregates(ctx context.Context, ticker string, multiplier int, timespan string, from, to time.Time) (*models.Aggregates, error) {
	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/%d/%s/%s/%s",
		url.PathEscape(ticker), multiplier, url.PathEscape(timespan), from.Format(DateLayout), to.Format(DateLayout))
	var out models.Aggregates
	if err := p.c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DailyOpenClose returns the open/close summary of one day.
func (p *PolygonClient) DailyOpenClose(ctx context.Context, ticker string, day time.Time) (*models.DailyOpenClose, error) {
	path := fmt.Sprintf("/v1/open-close/%s/%s", url.PathEscape(ticker), day.Format(DateLayout))
	var out models.DailyOpenClose
	if err := p.c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TickerDetails returns the reference data of a ticker.
func (p *PolygonClient) TickerDetails(ctx context.Context, ticker string) (*models.TickerDetails, error) {
	var out models.TickerDetails
	if err := p.c.get(ctx, "/v3/reference/tickers/"+url.PathEscape(ticker), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CIK returns the SEC central index key of a ticker, or "" when Polygon has none.
func (p *PolygonClient) CIK(ctx context.Context, ticker string) (string, error) {
	details, err := p.TickerDetails(ctx, ticker)
	if err != nil {
		return "", err
	}
	return details.Results.CIK, nil
}

// News returns up to limit recent articles.
func (p *PolygonClient) News(ctx context.Context, ticker string, limit int) (models.Payload, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("limit", strconv.Itoa(limit))
	return p.payload(ctx, "/v2/reference/news", params)
}

// Splits returns the stock split history.
func (p *PolygonClient) Splits(ctx context.Context, ticker string) (models.Payload, error) {
	return p.payload(ctx, "/v3/reference/splits", url.Values{"ticker": {ticker}})
}

// Dividends returns the dividend history.
func (p *PolygonClient) Dividends(ctx context.Context, ticker string) (models.Payload, error) {
	return p.payload(ctx, "/v3/reference/dividends", url.Values{"ticker": {ticker}})
}

// Financials returns up to limit financial statements.
func (p *PolygonClient) Financials(ctx context.Context, ticker string, limit int) (models.Payload, error) {
	params := url.Values{}
	params.Set("ticker", ticker)
	params.Set("limit", strconv.Itoa(limit))
	return p.payload(ctx, "/vX/reference/financials", params)
}

// SMA returns the simple moving average series over window periods of
// timespan, computed on closing prices.
func (p *PolygonClient) SMA(ctx context.Context, ticker, timespan string, window int) (*models.Indicator, error) {
	params := url.Values{}
	params.Set("timespan", timespan)
	params.Set("window", strconv.Itoa(window))
	params.Set("series_type", "close")
	var out models.Indicator
	if err := p.c.get(ctx, "/v1/indicators/sma/"+url.PathEscape(ticker), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarketStatus returns the current state of the markets.
func (p *PolygonClient) MarketStatus(ctx context.Context) (*models.MarketStatus, error) {
	var out models.MarketStatus
	if err := p.c.get(ctx, "/v1/marketstatus/now", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (p *PolygonClient) payload(ctx context.Context, path string, params url.Values) (models.Payload, error) {
	var out models.Payload
	if err := p.c.get(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}
