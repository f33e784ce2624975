// Package client is the HTTP transport used to talk to the GitHub REST API.
// It returns raw JSON bodies together with the response headers and leaves
// pagination and budget bookkeeping to its callers.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/analytics4github/github-pager/pkg/auth"
	"github.com/analytics4github/github-pager/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Prometheus metrics for client operations.
var (
	githubRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_requests_total",
		Help: "Total GitHub API requests by collection and status",
	}, []string{"collection", "status"})

	githubRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "github_request_duration_seconds",
		Help:    "GitHub API request duration in seconds by collection",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"collection"})

	githubErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_errors_total",
		Help: "Total GitHub API errors by class",
	}, []string{"class"})
)

// DefaultBaseURL is the public GitHub REST API root.
const DefaultBaseURL = "https://api.github.com"

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429, or 403 with an exhausted budget.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Response is a successful API answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs GET requests against the GitHub API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.github.com.
	BaseURL string

	// UserAgent header (GitHub rejects requests without one).
	UserAgent string

	// TokenSource supplies the Authorization header. Nil sends anonymous requests.
	TokenSource oauth2.TokenSource

	// Timeout bounds a single HTTP exchange.
	Timeout time.Duration

	// Pacing. Zero RequestsPerSecond disables it. Pacing spaces requests
	// out; it never refuses one because the budget is low.
	RequestsPerSecond float64
	Burst             int

	// Retry. Zero MaxRetries means every failure is returned as is.
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultConfig returns a configuration with no pacing and no retries.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		Burst:          1,
		MaxRetries:     0,
		InitialBackoff: 1 * time.Second,
	}
}

// New creates a new GitHub client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests_per_second must be >= 0 (got %g)", cfg.RequestsPerSecond)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	logger := log.With().Str("component", "github-client").Logger()

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.TokenSource != nil {
		transport = auth.NewTransport(cfg.TokenSource, transport)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}, nil
}

// BaseURL returns the API root the client was configured with.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Get fetches rawURL and returns the body with its headers.
// Non-2xx answers are returned as *APIError.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	collection := collectionLabel(rawURL)

	startTime := time.Now()
	defer func() {
		githubRequestDuration.WithLabelValues(collection).Observe(time.Since(startTime).Seconds())
	}()

	retryCfg := DefaultRetryConfig()
	retryCfg.MaxAttempts = c.config.MaxRetries + 1
	if c.config.InitialBackoff > 0 {
		retryCfg.InitialBackoff = c.config.InitialBackoff
	}

	var result *Response
	err := retryWithBackoff(ctx, retryCfg, c.logger, func() (ErrorClass, error) {
		resp, class, err := c.do(ctx, rawURL, collection)
		if err != nil {
			return class, err
		}
		result = resp
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, rawURL, collection string) (*Response, ErrorClass, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, ErrorClassNetwork, fmt.Errorf("pacing wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, ErrorClassClient, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")

	c.logger.Debug().Str("url", rawURL).Msg("Executing GitHub request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", rawURL).Msg("HTTP request failed")
		githubErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		githubRequestsTotal.WithLabelValues(collection, "network_error").Inc()
		return nil, ErrorClassNetwork, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		githubErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		githubRequestsTotal.WithLabelValues(collection, "network_error").Inc()
		return nil, ErrorClassNetwork, fmt.Errorf("read response body: %w", err)
	}

	githubRequestsTotal.WithLabelValues(collection, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := classifyStatus(resp)
		githubErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("GitHub request error")

		return nil, class, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			URL:        rawURL,
			Message:    errorMessage(resp.Status, body),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, "", nil
}

// RateLimit asks the API for the current budget without spending any of it.
func (c *Client) RateLimit(ctx context.Context) (ratelimit.BudgetState, error) {
	resp, err := c.Get(ctx, c.config.BaseURL+"/rate_limit")
	if err != nil {
		return ratelimit.BudgetState{}, err
	}

	state, ok, err := ratelimit.ParseHeaders(resp.Header, time.Now())
	if err != nil {
		return ratelimit.BudgetState{}, err
	}
	if !ok {
		return ratelimit.BudgetState{}, errors.New("rate_limit response carried no budget headers")
	}
	return state, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// classifyStatus categorizes a non-2xx response.
func classifyStatus(resp *http.Response) ErrorClass {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get(ratelimit.HeaderRemaining) == "0":
		return ErrorClassRateLimit
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return ErrorClassClient
	case resp.StatusCode >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// errorMessage prefers the "message" field of a GitHub error body.
func errorMessage(status string, body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return status
}

// collectionLabel reduces a URL to its last path segment to keep metric
// cardinality independent of project names.
func collectionLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "root"
	}
	return path.Base(u.Path)
}
