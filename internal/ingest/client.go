// Package ingest polls the Polygon.io REST API and appends the responses to
// the RAW landing tables.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"snowpulse/pkg/errors"
	"snowpulse/pkg/models"
)

const (
	defaultBaseURL = "https://api.polygon.io"
	dateLayout     = "2006-01-02"
)

// Bar is one decoded Polygon result object. Fields are kept verbatim so the
// RAW tables hold the upstream payload.
type Bar = map[string]interface{}

type resultsResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
	Results   []Bar  `json:"results"`
}

// Client is a rate-limited Polygon.io REST client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client from the ingest config. All requests share one
// limiter, so the upstream quota holds across pollers.
func NewClient(cfg models.Ingest) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// DailyBars returns the daily OHLCV bars of ticker between from and to
func (c *Client) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]Bar, error) {
	endpoint := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s",
		url.PathEscape(ticker), from.Format(dateLayout), to.Format(dateLayout))
	return c.results(ctx, endpoint, url.Values{"adjusted": {"true"}})
}

// PrevAggregates returns the previous trading day's bar of ticker
func (c *Client) PrevAggregates(ctx context.Context, ticker string) ([]Bar, error) {
	endpoint := fmt.Sprintf("/v2/aggs/ticker/%s/prev", url.PathEscape(ticker))
	return c.results(ctx, endpoint, url.Values{"adjusted": {"true"}})
}

// News returns the newest articles mentioning any of tickers
func (c *Client) News(ctx context.Context, tickers []string, limit int) ([]Bar, error) {
	params := url.Values{
		"ticker": {strings.Join(tickers, ",")},
		"sort":   {"published_utc"},
		"order":  {"desc"},
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return c.results(ctx, "/v2/reference/news", params)
}

func (c *Client) results(ctx context.Context, endpoint string, params url.Values) ([]Bar, error) {
	var resp resultsResponse
	if err := c.doRequest(ctx, endpoint, params, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// doRequest waits for the limiter, then performs a GET and decodes the body
func (c *Client) doRequest(ctx context.Context, endpoint string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target := c.baseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeUpstreamAPI, "Failed to build request").WithContext("endpoint", endpoint)
	}
	// The key stays out of the URL, which transport errors echo into logs.
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeUpstreamAPI, "Request failed").
			WithContext("endpoint", endpoint).
			AsRecoverable()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr resultsResponse
		message := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			message = apiErr.Error
		}
		appErr := errors.New(errors.ErrCodeUpstreamAPI, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, message)).
			WithContext("endpoint", endpoint).
			WithContext("status", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			appErr = appErr.AsRecoverable()
		}
		return appErr
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return errors.Wrap(err, errors.ErrCodeUpstreamDecode, "Failed to decode response").WithContext("endpoint", endpoint)
	}
	return nil
}
