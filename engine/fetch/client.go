// Package fetch is the shared page-fetch primitive. Every scraped source
// goes through it: an HTTP GET against a rendering/rotating proxy with
// exponential backoff on rate limits and linear backoff on everything else.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxRetries is the attempt budget when Options.MaxRetries is zero.
const DefaultMaxRetries = 5

// StatusError reports a non-2xx proxy response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// IsRateLimited reports whether err is an HTTP 429 StatusError.
func IsRateLimited(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.Code == http.StatusTooManyRequests
}

// Config configures the proxy client.
type Config struct {
	// BaseURL of the fetching/rendering proxy.
	BaseURL string
	// APIKey authenticates against the proxy.
	APIKey string
	// BaseDelay is the linear backoff unit for non-429 failures.
	BaseDelay time.Duration
	// RateLimitDelay is the exponential backoff base for 429 responses.
	RateLimitDelay time.Duration
	// RequestsPerSecond paces outbound proxy calls across the process.
	RequestsPerSecond float64
	// Timeout for a single proxy round trip.
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults (key left empty).
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://app.scrapingbee.com/api/v1/",
		BaseDelay:         time.Second,
		RateLimitDelay:    2 * time.Second,
		RequestsPerSecond: 2,
		Timeout:           30 * time.Second,
	}
}

// Options configure a single FetchPage call.
type Options struct {
	// MaxRetries caps attempts; zero means DefaultMaxRetries.
	MaxRetries int
	// RenderJS asks the proxy to execute scripts so pages render fully.
	RenderJS bool
	// PremiumProxy asks for the rotating residential tier.
	PremiumProxy bool
	// Cookies are forwarded verbatim to the target site.
	Cookies string
}

// Client fetches raw page content through the proxy.
type Client struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	jitter  func(max time.Duration) time.Duration
}

// New creates a proxy client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = def.RateLimitDelay
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Client{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:  logger,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// FetchPage retrieves the rendered content of targetURL, retrying per the
// backoff policy, and fails only once retries are exhausted.
func (c *Client) FetchPage(ctx context.Context, targetURL string, opts Options) (string, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		content, err := c.doFetch(ctx, targetURL, opts)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		// 429 backs off exponentially with jitter so concurrent requests
		// don't retry in lockstep; anything else backs off linearly.
		var wait time.Duration
		if IsRateLimited(err) {
			wait = c.cfg.RateLimitDelay*(1<<(attempt-1)) + c.jitter(c.cfg.RateLimitDelay/2)
			c.logger.Debug("fetch rate limited, backing off", "url", targetURL, "attempt", attempt, "wait", wait)
		} else {
			wait = c.cfg.BaseDelay * time.Duration(attempt)
			c.logger.Debug("fetch failed, retrying", "url", targetURL, "attempt", attempt, "wait", wait, "err", err)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
	return "", fmt.Errorf("fetch %s: retries exhausted: %w", targetURL, lastErr)
}

func (c *Client) doFetch(ctx context.Context, targetURL string, opts Options) (string, error) {
	params := url.Values{
		"api_key": {c.cfg.APIKey},
		"url":     {targetURL},
	}
	if opts.RenderJS {
		params.Set("render_js", "true")
	}
	if opts.PremiumProxy {
		params.Set("premium_proxy", "true")
	}
	if opts.Cookies != "" {
		params.Set("cookies", opts.Cookies)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", targetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &StatusError{Code: resp.StatusCode, URL: targetURL}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetch %s: read body: %w", targetURL, err)
	}
	return string(body), nil
}
