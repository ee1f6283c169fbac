// Package httpclient provides a rate-limited, retrying HTTP client used to
// poll regulatory filing feeds and resolve filing documents without
// overrunning a host's fair-use limits.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/medxprts/spacmon/pkg/config"
	"github.com/medxprts/spacmon/pkg/version"
)

const (
	maxAttempts  = 3
	backoffBase  = 500 * time.Millisecond
	maxBodyBytes = 10 << 20 // 10MB cap on any single fetch
)

// Client is a per-host token-bucket rate-limited HTTP client with retry on
// transient failures (timeouts, 5xx).
type Client struct {
	http      *http.Client
	userAgent string

	mu            sync.Mutex
	limiters      map[string]*rate.Limiter
	defaultRate   float64
	hostRates     map[string]float64
	log           *slog.Logger
}

// New creates a Client from the HTTP client config section.
func New(cfg *config.HTTPClientConfig) *Client {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = version.Full()
	}
	return &Client{
		http:        &http.Client{Timeout: 30 * time.Second},
		userAgent:   userAgent,
		limiters:    make(map[string]*rate.Limiter),
		defaultRate: cfg.DefaultRatePerSecond,
		hostRates:   cfg.HostRates,
		log:         slog.With("component", "httpclient"),
	}
}

func (c *Client) limiterFor(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.limiters[host]; ok {
		return l
	}

	rps := c.defaultRate
	if override, ok := c.hostRates[host]; ok {
		rps = override
	}
	if rps <= 0 {
		rps = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	c.limiters[host] = l
	return l
}

// Fetch retrieves the body at url, honoring the per-host rate limit and
// making up to three attempts on transient failures with exponential backoff.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("httpclient: parse url %q: %w", rawURL, err)
	}
	limiter := c.limiterFor(parsed.Host)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("httpclient: rate limiter wait: %w", err)
		}

		body, retryable, err := c.doFetch(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}

		c.log.Warn("fetch attempt failed, retrying", "url", rawURL, "attempt", attempt, "error", err)
		select {
		case <-time.After(backoffBase * time.Duration(1<<uint(attempt-1))):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("httpclient: fetch %s failed after %d attempts: %w", rawURL, maxAttempts, lastErr)
}

func (c *Client) doFetch(ctx context.Context, rawURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("client error: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	return data, false, nil
}
