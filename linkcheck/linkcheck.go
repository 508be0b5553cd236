// Package linkcheck validates hyperlinks found in documentation. Checks run
// through a bounded worker pool with per-host connection caps so a run never
// hammers a single documentation host.
package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Result is the outcome of checking one URL.
type Result struct {
	// URL is the checked URL after normalization.
	URL string
	// StatusCode is the final HTTP status, nil when no response arrived.
	StatusCode *int
	// IsValid reports whether the link resolved to a 2xx/3xx response.
	IsValid bool
	// ErrorMessage describes a transport failure, empty on success.
	ErrorMessage string
	// RedirectURL is the final URL after redirects, when it differs.
	RedirectURL string
	// ResponseTimeMs is the wall time of the successful attempt.
	ResponseTimeMs int64
}

// Config controls checker behavior.
type Config struct {
	// Timeout bounds each request attempt.
	Timeout time.Duration
	// Concurrency bounds in-flight checks across all hosts.
	Concurrency int
	// PerHostLimit caps simultaneous connections to a single host.
	PerHostLimit int
	// BaseURL resolves relative links. Empty means relative links are
	// reported valid without a network check.
	BaseURL string
	// UserAgent is sent on every request.
	UserAgent string
}

// DefaultConfig returns the standard checker configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:      4 * time.Second,
		Concurrency:  8,
		PerHostLimit: 2,
		UserAgent:    "docsqa-linkcheck/1.0",
	}
}

// Checker validates URLs over HTTP with caching and bounded concurrency.
type Checker struct {
	config Config
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]Result
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Checker) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) {
		c.client = client
	}
}

// New creates a Checker.
func New(config Config, opts ...Option) *Checker {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if config.PerHostLimit <= 0 {
		config.PerHostLimit = DefaultConfig().PerHostLimit
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultConfig().UserAgent
	}

	c := &Checker{
		config: config,
		logger: slog.Default(),
		cache:  make(map[string]Result),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxConnsPerHost:     config.PerHostLimit,
				MaxIdleConnsPerHost: config.PerHostLimit,
			},
		}
	}
	return c
}

// CheckAll checks a set of URLs concurrently and returns a result per unique
// normalized URL.
func (c *Checker) CheckAll(ctx context.Context, urls []string) map[string]Result {
	unique := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		unique[u] = struct{}{}
	}

	results := make(map[string]Result, len(unique))
	var mu sync.Mutex

	p := pool.New().WithMaxGoroutines(c.config.Concurrency)
	for u := range unique {
		u := u
		p.Go(func() {
			r := c.Check(ctx, u)
			mu.Lock()
			results[u] = r
			mu.Unlock()
		})
	}
	p.Wait()

	return results
}

// Check validates a single URL, consulting the cache first.
func (c *Checker) Check(ctx context.Context, rawURL string) Result {
	if r, ok := trivialResult(rawURL); ok {
		return r
	}

	target, ok := c.normalize(rawURL)
	if !ok {
		return Result{URL: rawURL, IsValid: true}
	}

	c.mu.Lock()
	if cached, ok := c.cache[target]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	result := c.fetch(ctx, target)

	c.mu.Lock()
	c.cache[target] = result
	c.mu.Unlock()
	return result
}

// trivialResult handles URL forms that are valid without a network check.
func trivialResult(rawURL string) (Result, bool) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return Result{URL: rawURL, IsValid: true}, true
	}
	for _, prefix := range []string{"mailto:", "tel:", "javascript:", "#"} {
		if strings.HasPrefix(trimmed, prefix) {
			return Result{URL: rawURL, IsValid: true}, true
		}
	}
	return Result{}, false
}

// normalize resolves the URL to an absolute http(s) target. The second
// return is false when the URL is not checkable (non-http scheme, or a
// relative path without a configured base).
func (c *Checker) normalize(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", false
	}

	if u.Scheme == "http" || u.Scheme == "https" {
		u.Fragment = ""
		return u.String(), true
	}
	if u.Scheme != "" {
		return "", false
	}

	if c.config.BaseURL == "" {
		return "", false
	}
	base, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(u)
	resolved.Fragment = ""
	return resolved.String(), true
}

// fetch performs the network check: HEAD first, falling back to GET when the
// server rejects HEAD, with one retry after a transient failure.
func (c *Checker) fetch(ctx context.Context, target string) Result {
	result := c.attempt(ctx, target)

	if !result.IsValid && result.StatusCode == nil && ctx.Err() == nil {
		select {
		case <-ctx.Done():
			return result
		case <-time.After(500 * time.Millisecond):
		}
		c.logger.Debug("retrying link check", "url", target)
		result = c.attempt(ctx, target)
	}
	return result
}

func (c *Checker) attempt(ctx context.Context, target string) Result {
	start := time.Now()

	resp, err := c.do(ctx, http.MethodHead, target)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		resp.Body.Close()
		resp, err = c.do(ctx, http.MethodGet, target)
	}
	if err != nil {
		return Result{
			URL:          target,
			IsValid:      false,
			ErrorMessage: classifyError(err),
		}
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	result := Result{
		URL:            target,
		StatusCode:     &status,
		IsValid:        status >= 200 && status < 400,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
	if final := resp.Request.URL.String(); final != target {
		result.RedirectURL = final
	}
	return result
}

func (c *Checker) do(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	return c.client.Do(req)
}

// classifyError maps transport errors to stable, user-facing messages.
func classifyError(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("dns lookup failed: %s", dnsErr.Name)
	}
	return err.Error()
}

// ExtractURLs collects the distinct link URLs from a list, preserving first
// appearance order.
func ExtractURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
