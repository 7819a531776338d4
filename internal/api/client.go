package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the default number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the base delay between retries.
	DefaultRetryDelay = time.Second
	// NoRetries disables retries when used as Config.MaxRetries.
	NoRetries = -1
)

// DefaultRetryOn lists the HTTP status codes retried by default.
var DefaultRetryOn = []int{408, 429, 500, 502, 503, 504}

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com". Required.
	BaseURL string
	// APIKey is sent in the X-API-Key header. Required.
	APIKey string
	// HTTPClient overrides the default client with DefaultTimeout.
	HTTPClient *http.Client
	// MaxRetries is the number of retries after the first attempt.
	// Zero selects DefaultMaxRetries; NoRetries disables retrying.
	MaxRetries int
	// RetryDelay is the base backoff delay. Zero selects DefaultRetryDelay.
	RetryDelay time.Duration
	// RetryOn overrides DefaultRetryOn.
	RetryOn []int
	// RateLimit caps outgoing requests per second. Zero disables limiting.
	RateLimit float64
	// RateBurst is the limiter burst size. Values below 1 become 1.
	RateBurst int
	// Logger receives request-level debug logs. Nil discards them.
	Logger *slog.Logger
}

// Client is the HTTP API client for the profile and decryption-record
// backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	retryOn    []int
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a client from an explicit Config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		retryOn:    cfg.RetryOn,
		logger:     cfg.Logger,
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	switch {
	case c.maxRetries == 0:
		c.maxRetries = DefaultMaxRetries
	case c.maxRetries < 0:
		c.maxRetries = 0
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	if len(c.retryOn) == 0 {
		c.retryOn = DefaultRetryOn
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}

	return c, nil
}

// Option configures the API client.
type Option func(*Config)

// WithBaseURL sets the base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithRetries sets the number of retries. Zero disables retries.
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries == 0 {
			retries = NoRetries
		}
		c.MaxRetries = retries
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HTTPClient = &http.Client{Timeout: timeout}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithRetryOn sets the HTTP status codes that trigger a retry.
func WithRetryOn(statusCodes []int) Option {
	return func(c *Config) {
		c.RetryOn = statusCodes
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Config) {
		c.RateLimit = perSecond
		c.RateBurst = burst
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// New creates a new API client using functional options.
func New(apiKey string, opts ...Option) (*Client, error) {
	cfg := Config{APIKey: apiKey}
	for _, opt := range opts {
		opt(&cfg)
	}
	return NewClient(cfg)
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// HTTPClient returns the underlying HTTP client.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// SetHTTPClient sets a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func (c *Client) isRetryable(statusCode int) bool {
	for _, code := range c.retryOn {
		if code == statusCode {
			return true
		}
	}
	return false
}

func (c *Client) retryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  c.maxRetries,
		BaseDelay:   c.retryDelay,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
		RetryableOn: c.isRetryable,
	}
}

// Do sends a JSON request and decodes a JSON response into result.
// Transport failures become *NetworkError and non-2xx responses *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	_, err := c.do(ctx, method, path, body, result)
	return err
}

// do is Do that also reports how many attempts were sent.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, result interface{}) (int, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	requestID := uuid.NewString()
	retry := c.retryConfig()
	endpoint := c.baseURL + path

	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return attempt, &NetworkError{Err: err, URL: endpoint, Attempt: attempt + 1}
			}
		}

		resp, err := c.send(ctx, method, endpoint, requestID, payload)
		if err != nil {
			// The URL may carry a message key; keep it out of error text and logs.
			cause := transportCause(err)
			if ctx.Err() != nil || attempt >= retry.MaxRetries {
				return attempt + 1, &NetworkError{Err: cause, URL: endpoint, Attempt: attempt + 1}
			}
			c.logger.DebugContext(ctx, "api request failed, retrying",
				"method", method, "attempt", attempt+1, "error", cause, "request_id", requestID)
			if werr := retry.Wait(ctx, attempt); werr != nil {
				return attempt + 1, &NetworkError{Err: werr, URL: endpoint, Attempt: attempt + 1}
			}
			continue
		}

		c.logger.DebugContext(ctx, "api request",
			"method", method, "status", resp.StatusCode, "attempt", attempt+1, "request_id", requestID)

		if resp.StatusCode >= 400 && retry.ShouldRetry(attempt, resp.StatusCode) {
			drainAndClose(resp)
			if werr := retry.Wait(ctx, attempt); werr != nil {
				return attempt + 1, &NetworkError{Err: werr, URL: endpoint, Attempt: attempt + 1}
			}
			continue
		}

		return attempt + 1, c.handleResponse(resp, requestID, result)
	}
}

func transportCause(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return urlErr.Err
	}
	return err
}

func (c *Client) send(ctx context.Context, method, endpoint, requestID string, payload []byte) (*http.Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func (c *Client) handleResponse(resp *http.Response, requestID string, result interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp, requestID)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

func parseErrorResponse(resp *http.Response, requestID string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  requestID,
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		apiErr.Message = errResp.Error
		if apiErr.Message == "" {
			apiErr.Message = errResp.Message
		}
		if errResp.RequestID != "" {
			apiErr.RequestID = errResp.RequestID
		}
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
