// Package client provides the HTTP client used to fetch pages from remote
// endpoints, with retry, optional rate limiting, shared cooldowns and an
// optional page cache.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/endpoint-etl/pkg/cache"
	"github.com/Sternrassler/endpoint-etl/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for client operations.
var (
	etlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_http_requests_total",
		Help: "Total page requests by host and status",
	}, []string{"host", "status"})

	etlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "etl_http_request_duration_seconds",
		Help:    "Page request duration in seconds by host",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"host"})

	etlErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "etl_http_errors_total",
		Help: "Total page request errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429. Terminal.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 Too Many Requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Client fetches pages over HTTP.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	cooldown   *ratelimit.Tracker
	cache      *cache.Manager
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header sent with every request
	UserAgent string

	// Headers are extra static headers (e.g. an API key)
	Headers map[string]string

	// Timeout per HTTP attempt
	Timeout time.Duration

	// Retry policy for transient failures
	Retry RetryConfig

	// RateLimit caps requests per second across the client; 0 disables it
	RateLimit rate.Limit
	Burst     int

	// Cooldown shares 429 Retry-After pauses between processes (optional)
	Cooldown *ratelimit.Tracker

	// Cache serves unchanged pages from Redis (optional)
	Cache *cache.Manager
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent: userAgent,
		Timeout:   60 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must be >= 0 (got %v)", cfg.RateLimit)
	}
	cfg.Retry = cfg.Retry.withDefaults()

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cooldown: cfg.Cooldown,
		cache:    cfg.Cache,
		config:   cfg,
		logger:   log.With().Str("component", "http-client").Logger(),
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}

	return c, nil
}

// FetchPage GETs rawURL and returns the decoded body of a 2xx response.
// Transient failures are retried; a 4xx other than 429 fails immediately
// with an *HTTPError of class ErrorClassClient.
func (c *Client) FetchPage(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	host := u.Host

	cacheKey := cache.PageKey{URL: rawURL}
	var cached *cache.Entry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			if entry.IsFresh() {
				c.logger.Debug().Str("url", rawURL).Dur("age", entry.Age()).Msg("Serving page from cache")
				return entry.Data, nil
			}
			if entry.CanRevalidate() {
				cached = entry
			}
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("url", rawURL).Msg("Cache get error")
		}
	}

	var res page
	err = retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		var attemptErr error
		res, attemptErr = c.do(ctx, rawURL, host, cached)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}

	if res.notModified {
		c.logger.Debug().Str("url", rawURL).Msg("304 Not Modified - using cache")
		if err := c.cache.Refresh(ctx, cacheKey, cached); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to refresh cache entry")
		}
		return cached.Data, nil
	}

	if c.cache != nil && c.cache.TTL() > 0 {
		if err := c.cache.Set(ctx, cacheKey, cache.NewEntry(res.body, res.header, c.cache.TTL())); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache page")
		}
	}

	return res.body, nil
}

// page is the outcome of one successful attempt.
type page struct {
	body        []byte
	header      http.Header
	notModified bool
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, rawURL, host string, cached *cache.Entry) (page, error) {
	if err := c.waitTurn(ctx, host); err != nil {
		return page{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	if cached != nil {
		cache.AddConditionalHeaders(req, cached)
		cache.ConditionalRequestsSent.Inc()
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	etlRequestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return page{}, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		etlErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		etlRequestsTotal.WithLabelValues(host, "network_error").Inc()
		c.logger.Warn().Err(err).Str("url", rawURL).Msg("HTTP request failed")
		return page{}, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	etlRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotModified {
		if cached != nil {
			return page{notModified: true}, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		c.logger.Warn().Str("url", rawURL).Msg("304 Not Modified without a conditional request")
		return page{}, fmt.Errorf("%w: %s", ErrUnexpectedNotModified, rawURL)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := c.classifyStatus(resp, rawURL)
		etlErrorsTotal.WithLabelValues(string(httpErr.ErrorClass)).Inc()

		c.logger.Warn().
			Str("url", rawURL).
			Int("status", resp.StatusCode).
			Str("error_class", string(httpErr.ErrorClass)).
			Msg("Page request error")

		if httpErr.RetryAfter > 0 && c.cooldown != nil {
			if err := c.cooldown.Record(ctx, host, httpErr.RetryAfter, resp.StatusCode); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record host cooldown")
			}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return page{}, httpErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return page{}, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		}
		etlErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return page{}, &NetworkError{URL: rawURL, Err: fmt.Errorf("read body: %w", err)}
	}
	return page{body: body, header: resp.Header}, nil
}

// waitTurn applies the shared cooldown and the local rate limit.
func (c *Client) waitTurn(ctx context.Context, host string) error {
	if c.cooldown != nil {
		if err := c.cooldown.Wait(ctx, host); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			c.logger.Warn().Err(err).Str("host", host).Msg("Cooldown check failed")
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}
	return nil
}

// classifyStatus turns a non-2xx response into an *HTTPError.
func (c *Client) classifyStatus(resp *http.Response, rawURL string) *HTTPError {
	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		URL:        rawURL,
		Message:    resp.Status,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		httpErr.ErrorClass = ErrorClassRateLimit
	case resp.StatusCode >= 500:
		httpErr.ErrorClass = ErrorClassServer
	default:
		httpErr.ErrorClass = ErrorClassClient
		httpErr.RetryAfter = 0
	}

	c.logger.Debug().Str("class", string(httpErr.ErrorClass)).Msg("Error classified")
	return httpErr
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
