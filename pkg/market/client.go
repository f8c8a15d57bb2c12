// Package market fetches market data from Polygon.io and company filings from
// SEC EDGAR, and derives a technical summary from them.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/TFMV/quarry/pkg/errors"
)

const (
	// DefaultTimeout is the HTTP timeout of both clients.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request rate (requests per second).
	DefaultRateLimit = 5

	maxErrorBody = 512
)

// APIError is a non-200 response from an upstream API.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// client is the rate-limited JSON getter shared by the Polygon and EDGAR
// clients.
type client struct {
	name       string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
	query      url.Values
}

// ClientOption configures a client.
type ClientOption func(*client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets the HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithRateLimit sets the request rate. Values <= 0 keep the default.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *client) {
		if userAgent != "" {
			c.userAgent = userAgent
		}
	}
}

func newClient(name, baseURL string, logger zerolog.Logger, opts []ClientOption) *client {
	c := &client{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     logger.With().Str("component", name).Logger(),
		query:      url.Values{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get performs a GET request and decodes the JSON body into result.
func (c *client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.CodeDeadlineExceeded, "rate limiter wait cancelled")
	}

	if params == nil {
		params = url.Values{}
	}
	for k, vs := range c.query {
		for _, v := range vs {
			params.Set(k, v)
		}
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug().Str("path", path).Msg("API request")
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, errors.CodeUpstreamFailed, "%s request failed", c.name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: path, Message: string(body)}
		code := errors.CodeUpstreamFailed
		if resp.StatusCode == http.StatusNotFound {
			code = errors.CodeNotFound
		}
		c.logger.Warn().Str("path", path).Int("status", resp.StatusCode).Msg("API request failed")
		return errors.Wrapf(apiErr, code, "%s request failed", c.name)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return errors.Wrapf(err, errors.CodeUpstreamFailed, "failed to decode %s response", c.name)
	}

	c.logger.Debug().Str("path", path).Dur("duration", time.Since(start)).Msg("API request completed")
	return nil
}
