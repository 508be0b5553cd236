// Package version resolves published package versions and detects version
// drift between documentation and the released package.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

// maxResponseSize caps index responses at 10MB.
const maxResponseSize = 10 * 1024 * 1024

// defaultIndexURL is the PyPI JSON API root.
const defaultIndexURL = "https://pypi.org/pypi"

// Resolver fetches the latest released version of a package from a package
// index, caching per package for the lifetime of the resolver.
type Resolver struct {
	indexURL string
	client   *http.Client
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]*semver.Version
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithHTTPClient replaces the HTTP client, primarily for tests.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithIndexURL points the resolver at a different package index.
func WithIndexURL(indexURL string) ResolverOption {
	return func(r *Resolver) {
		r.indexURL = indexURL
	}
}

// NewResolver creates a Resolver against the PyPI JSON API.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		indexURL: defaultIndexURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default(),
		cache:    make(map[string]*semver.Version),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type indexResponse struct {
	Releases map[string][]struct {
		Yanked bool `json:"yanked"`
	} `json:"releases"`
}

// Latest returns the newest stable (non-prerelease, non-yanked) version of
// the package.
func (r *Resolver) Latest(ctx context.Context, pkg string) (*semver.Version, error) {
	r.mu.Lock()
	if v, ok := r.cache[pkg]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	url := fmt.Sprintf("%s/%s/json", r.indexURL, pkg)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create index request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query package index for %s: %w", pkg, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package index returned %d for %s", resp.StatusCode, pkg)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read index response: %w", err)
	}

	var idx indexResponse
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fmt.Errorf("parse index response: %w", err)
	}

	var latest *semver.Version
	for release, files := range idx.Releases {
		v, err := semver.NewVersion(release)
		if err != nil || v.Prerelease() != "" {
			continue
		}
		if len(files) > 0 && allYanked(files) {
			continue
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no stable releases found for %s", pkg)
	}

	r.logger.Debug("resolved latest version", "package", pkg, "version", latest.String())

	r.mu.Lock()
	r.cache[pkg] = latest
	r.mu.Unlock()
	return latest, nil
}

func allYanked(files []struct {
	Yanked bool `json:"yanked"`
}) bool {
	for _, f := range files {
		if !f.Yanked {
			return false
		}
	}
	return true
}
