package market

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/TFMV/quarry/pkg/errors"
	"github.com/TFMV/quarry/pkg/models"
)

const (
	// DefaultEdgarBaseURL is the SEC EDGAR data API root.
	DefaultEdgarBaseURL = "https://data.sec.gov"

	// DefaultEdgarUserAgent identifies the caller. SEC rejects requests
	// without a descriptive User-Agent.
	DefaultEdgarUserAgent = "Quarry StockAnalyzer/1.0 quarry@example.com"

	// EdgarRateLimit is the SEC fair-access limit.
	EdgarRateLimit = 10
)

// EdgarClient is an SEC EDGAR client.
type EdgarClient struct {
	c *client
}

// NewEdgarClient creates an EDGAR client. WithUserAgent overrides the
// default agent string.
func NewEdgarClient(logger zerolog.Logger, opts ...ClientOption) *EdgarClient {
	opts = append([]ClientOption{WithRateLimit(EdgarRateLimit), WithUserAgent(DefaultEdgarUserAgent)}, opts...)
	return &EdgarClient{c: newClient("edgar", DefaultEdgarBaseURL, logger, opts)}
}

// PadCIK left-pads a CIK with zeros to 10 digits.
func PadCIK(cik string) (string, error) {
	cik = strings.TrimSpace(cik)
	if cik == "" || len(cik) > 10 {
		return "", errors.Newf(errors.CodeInvalidRequest, "invalid CIK %q", cik)
	}
	for _, r := range cik {
		if r < '0' || r > '9' {
			return "", errors.Newf(errors.CodeInvalidRequest, "invalid CIK %q", cik)
		}
	}
	return strings.Repeat("0", 10-len(cik)) + cik, nil
}

// CompanyFacts returns the XBRL company facts.
func (e *EdgarClient) CompanyFacts(ctx context.Context, cik string) (models.Payload, error) {
	padded, err := PadCIK(cik)
	if err != nil {
		return nil, err
	}
	var out models.Payload
	if err := e.c.get(ctx, "/api/xbrl/companyfacts/CIK"+padded+".json", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Submissions returns the company filing history.
func (e *EdgarClient) Submissions(ctx context.Context, cik string) (models.Payload, error) {
	padded, err := PadCIK(cik)
	if err != nil {
		return nil, err
	}
	var out models.Payload
	if err := e.c.get(ctx, "/submissions/CIK"+padded+".json", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Filings fetches company facts and submissions. A failed half is logged and
// left nil; an error is returned only when both fail.
func (e *EdgarClient) Filings(ctx context.Context, cik string) (*models.SECFilings, error) {
	facts, factsErr := e.CompanyFacts(ctx, cik)
	if factsErr != nil {
		e.c.logger.Warn().Err(factsErr).Str("cik", cik).Msg("Failed to fetch company facts")
	}
	filings, filingsErr := e.Submissions(ctx, cik)
	if filingsErr != nil {
		e.c.logger.Warn().Err(filingsErr).Str("cik", cik).Msg("Failed to fetch company filings")
	}
	if factsErr != nil && filingsErr != nil {
		return nil, factsErr
	}
	return &models.SECFilings{CompanyFacts: facts, CompanyFilings: filings}, nil
}
