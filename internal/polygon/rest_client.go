// Package polygon implements the options-trade provider clients: a paginated
// REST pull feed and a WebSocket push feed.
package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"options-flow/internal/observability"
)

// Default configuration values.
const (
	DefaultBaseURL     = "https://api.polygon.io"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
	DefaultRPS         = 5.0
	DefaultPageLimit   = 50000
)

// Statuses the provider uses for a usable page.
const (
	StatusOK      = "OK"
	StatusDelayed = "DELAYED"
)

// APIError is a non-2xx provider response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("polygon api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error should trigger a retry.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TradesRequest is one page request of the pull feed.
// With a Cursor set the provider ignores the other filters.
type TradesRequest struct {
	Ticker string
	From   time.Time
	To     time.Time
	Cursor string
	Limit  int
}

// TradesPage is one page of raw trade events.
type TradesPage struct {
	Status     string
	RequestID  string
	Results    []json.RawMessage
	NextCursor string // empty on the last page
}

// OK reports whether the page carries usable results.
func (p *TradesPage) OK() bool {
	return p.Status == StatusOK || p.Status == StatusDelayed
}

type tradesResponse struct {
	Status    string            `json:"status"`
	RequestID string            `json:"request_id"`
	Results   []json.RawMessage `json:"results"`
	NextURL   string            `json:"next_url"`
	Error     string            `json:"error"`
	Message   string            `json:"message"`
}

// RESTClient fetches historical trades with rate limiting, retries and a circuit breaker.
type RESTClient struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	logger      zerolog.Logger
}

// ClientOption configures RESTClient.
type ClientOption func(*RESTClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *RESTClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *RESTClient) {
		c.client = client
	}
}

// WithRateLimit sets the request rate. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *RESTClient) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker sets the consecutive failures that open the breaker
// and how long it stays open.
func WithCircuitBreaker(failures uint32, openFor time.Duration) ClientOption {
	return func(c *RESTClient) {
		c.breaker = newBreaker(failures, openFor, c.logger)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *RESTClient) {
		c.logger = logger.With().Str("component", "polygon_rest").Logger()
	}
}

// NewRESTClient creates a new pull-feed client.
func NewRESTClient(baseURL, apiKey string, opts ...ClientOption) *RESTClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	logger := log.Logger.With().Str("component", "polygon_rest").Logger()

	c := &RESTClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		client:      &http.Client{Timeout: DefaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(DefaultRPS), 1),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      logger,
	}
	c.breaker = newBreaker(5, 30*time.Second, logger)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(failures uint32, openFor time.Duration, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	if failures == 0 {
		failures = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "polygon-rest",
		Timeout: openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors say nothing about provider health.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return !apiErr.IsRetryable()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
}

// ListTrades fetches one page of trades for a ticker.
// GET /v3/trades/{ticker}?timestamp.gte&timestamp.lte&order=asc&sort=timestamp&limit[&cursor]
func (c *RESTClient) ListTrades(ctx context.Context, req TradesRequest) (*TradesPage, error) {
	if req.Ticker == "" {
		return nil, fmt.Errorf("list trades: empty ticker")
	}

	query := url.Values{}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	} else {
		limit := req.Limit
		if limit <= 0 || limit > DefaultPageLimit {
			limit = DefaultPageLimit
		}
		if !req.From.IsZero() {
			query.Set("timestamp.gte", strconv.FormatInt(req.From.UnixNano(), 10))
		}
		if !req.To.IsZero() {
			query.Set("timestamp.lte", strconv.FormatInt(req.To.UnixNano(), 10))
		}
		query.Set("order", "asc")
		query.Set("sort", "timestamp")
		query.Set("limit", strconv.Itoa(limit))
	}

	path := "/v3/trades/" + url.PathEscape(req.Ticker)

	start := time.Now()
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doWithRetry(ctx, path, query)
	})
	observability.RecordProviderRequest("trades", time.Since(start).Seconds(), errorKind(err))
	if err != nil {
		return nil, err
	}

	var resp tradesResponse
	if err := json.Unmarshal(result.([]byte), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal trades response: %w", err)
	}

	page := &TradesPage{
		Status:    resp.Status,
		RequestID: resp.RequestID,
		Results:   resp.Results,
	}
	if resp.NextURL != "" {
		cursor, err := cursorFromNextURL(resp.NextURL)
		if err != nil {
			return nil, err
		}
		page.NextCursor = cursor
	}
	return page, nil
}

// doWithRetry performs a GET with retries and exponential backoff.
// Only retryable APIErrors and transport errors are retried.
func (c *RESTClient) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
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

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.IsRetryable() {
			return nil, err
		}
		c.logger.Debug().Err(err).Int("attempt", attempt+1).Str("path", path).Msg("retrying provider request")
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *RESTClient) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(body)
		var errBody tradesResponse
		if json.Unmarshal(body, &errBody) == nil {
			if errBody.Message != "" {
				msg = errBody.Message
			} else if errBody.Error != "" {
				msg = errBody.Error
			}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return body, nil
}

// cursorFromNextURL extracts the cursor query value from a next_url link.
func cursorFromNextURL(nextURL string) (string, error) {
	u, err := url.Parse(nextURL)
	if err != nil {
		return "", fmt.Errorf("parse next_url: %w", err)
	}
	return u.Query().Get("cursor"), nil
}

func errorKind(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return strconv.Itoa(apiErr.StatusCode)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "transport"
	}
}
