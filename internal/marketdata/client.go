package marketdata

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

	"crypto-backtest-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	// DefaultPageLimit is the maximum klines per request the exchange
	// REST API allows.
	DefaultPageLimit = 1000
)

// Fetcher retrieves OHLCV bars from an exchange.
type Fetcher interface {
	// FetchBars retrieves bars for symbol/timeframe within
	// [startMs, endMs], ordered by timestamp ASC.
	FetchBars(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]*domain.Bar, error)
}

// HTTPClient implements Fetcher against a Binance-compatible klines REST API.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	pageLimit   int
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithPageLimit sets the klines-per-request page size.
func WithPageLimit(n int) ClientOption {
	return func(c *HTTPClient) {
		c.pageLimit = n
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new klines REST client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		pageLimit:   DefaultPageLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Fetcher = (*HTTPClient)(nil)

// FetchBars retrieves bars page by page until the window is covered.
func (c *HTTPClient) FetchBars(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]*domain.Bar, error) {
	var bars []*domain.Bar

	cursor := startMs
	for cursor <= endMs {
		page, err := c.fetchPage(ctx, symbol, timeframe, cursor, endMs)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		bars = append(bars, page...)
		if len(page) < c.pageLimit {
			break
		}

		// Next page starts one interval after the last received bar.
		cursor = page[len(page)-1].TimestampMs + domain.TimeframeDurationMs(timeframe)
	}

	return bars, nil
}

// fetchPage performs one klines request with retries and exponential backoff.
func (c *HTTPClient) fetchPage(ctx context.Context, symbol, timeframe string, startMs, endMs int64) ([]*domain.Bar, error) {
	query := url.Values{}
	query.Set("symbol", exchangeSymbol(symbol))
	query.Set("interval", timeframe)
	query.Set("startTime", strconv.FormatInt(startMs, 10))
	query.Set("endTime", strconv.FormatInt(endMs, 10))
	query.Set("limit", strconv.Itoa(c.pageLimit))

	reqURL := c.endpoint + "/api/v3/klines?" + query.Encode()

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
			continue
		}

		bars, err := parseKlines(body)
		if err != nil {
			// Malformed payloads are not retried
			return nil, err
		}
		return bars, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// exchangeSymbol converts "BTC/USDT" to the exchange form "BTCUSDT".
func exchangeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

// parseKlines decodes the klines array-of-arrays payload:
// [[openTime, "open", "high", "low", "close", "volume", closeTime, ...], ...]
func parseKlines(body []byte) ([]*domain.Bar, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal klines: %w", err)
	}

	bars := make([]*domain.Bar, 0, len(raw))
	for i, row := range raw {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row %d: expected at least 6 fields, got %d", i, len(row))
		}

		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline row %d: parse open time: %w", i, err)
		}

		fields := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			var s string
			if err := json.Unmarshal(row[j], &s); err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j, err)
			}
			fields[j-1] = v
		}

		bars = append(bars, &domain.Bar{
			TimestampMs: openTime,
			Open:        fields[0],
			High:        fields[1],
			Low:         fields[2],
			Close:       fields[3],
			Volume:      fields[4],
		})
	}

	return bars, nil
}
