package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"stock-price-loader/internal/domain"
	"stock-price-loader/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL     = "https://query1.finance.yahoo.com"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 0
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
	DefaultUserAgent   = "Mozilla/5.0 (compatible; stock-price-loader/1.0)"
)

// YahooClient implements Source over the Yahoo Finance v8 chart API.
type YahooClient struct {
	baseURL     string
	userAgent   string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

var _ Source = (*YahooClient)(nil)

// ClientOption configures YahooClient.
type ClientOption func(*YahooClient)

// WithBaseURL overrides the API host.
func WithBaseURL(u string) ClientOption {
	return func(c *YahooClient) {
		c.baseURL = u
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *YahooClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts per symbol.
func WithMaxRetries(n int) ClientOption {
	return func(c *YahooClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *YahooClient) {
		c.retryDelay = d
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *YahooClient) {
		c.userAgent = ua
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *YahooClient) {
		c.client = client
	}
}

// NewYahooClient creates a new chart API client.
func NewYahooClient(opts ...ClientOption) *YahooClient {
	c := &YahooClient{
		baseURL:     DefaultBaseURL,
		userAgent:   DefaultUserAgent,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *chartError) Error() string {
	return fmt.Sprintf("chart error %s: %s", e.Code, e.Description)
}

type chartResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		GMTOffset int64  `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// Query fetches every symbol in turn and merges the series into one Frame.
// A symbol the upstream has no data for contributes nothing; any other
// failure aborts the whole query.
func (c *YahooClient) Query(ctx context.Context, symbols []string, window domain.DateRange) (*Frame, error) {
	b := NewFrameBuilder()
	for _, symbol := range symbols {
		result, err := c.chart(ctx, symbol, window)
		if err != nil {
			return nil, fmt.Errorf("%w: query %s: %w", ErrRetrieval, symbol, err)
		}
		if result == nil {
			continue
		}
		addResult(b, symbol, result)
	}
	return b.Frame(), nil
}

func addResult(b *FrameBuilder, symbol string, r *chartResult) {
	offset := time.Duration(r.Meta.GMTOffset) * time.Second
	var quoteOpen, quoteHigh, quoteLow, quoteClose, quoteVolume, adj []*float64
	if len(r.Indicators.Quote) > 0 {
		q := r.Indicators.Quote[0]
		quoteOpen, quoteHigh, quoteLow, quoteClose, quoteVolume = q.Open, q.High, q.Low, q.Close, q.Volume
	}
	if len(r.Indicators.AdjClose) > 0 {
		adj = r.Indicators.AdjClose[0].AdjClose
	}

	for i, ts := range r.Timestamp {
		// Exchange-local calendar date of the session.
		date := time.Unix(ts, 0).UTC().Add(offset)
		b.Set(date, FieldOpen, symbol, at(quoteOpen, i))
		b.Set(date, FieldHigh, symbol, at(quoteHigh, i))
		b.Set(date, FieldLow, symbol, at(quoteLow, i))
		b.Set(date, FieldClose, symbol, at(quoteClose, i))
		b.Set(date, FieldAdjClose, symbol, at(adj, i))
		b.Set(date, FieldVolume, symbol, at(quoteVolume, i))
	}
}

func at(s []*float64, i int) float64 {
	if i >= len(s) || s[i] == nil {
		return math.NaN()
	}
	return *s[i]
}

// chart performs one chart request with retries and exponential backoff.
// A nil result with a nil error means the upstream has no data for symbol.
func (c *YahooClient) chart(ctx context.Context, symbol string, window domain.DateRange) (*chartResult, error) {
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(window.Start.Unix(), 10))
	q.Set("period2", strconv.FormatInt(window.End.AddDate(0, 0, 1).Unix(), 10))
	q.Set("interval", "1d")
	q.Set("includeAdjustedClose", "true")
	q.Set("events", "history")
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.userAgent)

		started := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			observability.RecordUpstreamRequest("error", time.Since(started).Seconds())
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		observability.RecordUpstreamRequest(strconv.Itoa(resp.StatusCode), time.Since(started).Seconds())
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body))
			continue
		}

		if resp.StatusCode != http.StatusOK {
			// Client errors are not retried
			return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body))
		}

		var parsed chartResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		if e := parsed.Chart.Error; e != nil {
			if e.Code == "Not Found" {
				return nil, nil
			}
			return nil, e
		}
		if len(parsed.Chart.Result) == 0 {
			return nil, nil
		}
		return &parsed.Chart.Result[0], nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
