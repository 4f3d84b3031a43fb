package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	appLog "github.com/aizatto/ical-debugger/internal/log"
	"github.com/aizatto/ical-debugger/internal/model"
)

const (
	defaultTimeout       = 15 * time.Second
	defaultMaxConcurrent = 8
	defaultMaxBodyBytes  = 10 * 1024 * 1024
	defaultUserAgent     = "ical-debugger/1.0"
)

// Source represents a single ICS subscription source.
type Source struct {
	// ID is the subscription identifier.
	ID string
	// URL is the ICS endpoint.
	URL string
}

// HTTPClient is the subset of *http.Client the fetcher needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetcherConfig tunes a Fetcher. Zero values select defaults.
type FetcherConfig struct {
	// Client overrides the HTTP client. Timeout is ignored when set.
	Client        HTTPClient
	Timeout       time.Duration
	MaxConcurrent int
	MaxBodyBytes  int64
	UserAgent     string
	// CacheDir enables ETag / Last-Modified revalidation backed by disk.
	// Empty disables caching.
	CacheDir string
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher retrieves ICS feeds. A failed attempt is final for that call;
// there are no retries and no stale-cache fallback on network errors.
type Fetcher struct {
	client        HTTPClient
	maxConcurrent int
	maxBodyBytes  int64
	userAgent     string
	cacheDir      string
}

// NewFetcher creates a new ICS Fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	f := &Fetcher{
		client:        client,
		maxConcurrent: cfg.MaxConcurrent,
		maxBodyBytes:  cfg.MaxBodyBytes,
		userAgent:     cfg.UserAgent,
		cacheDir:      cfg.CacheDir,
	}
	if f.maxConcurrent <= 0 {
		f.maxConcurrent = defaultMaxConcurrent
	}
	if f.maxBodyBytes <= 0 {
		f.maxBodyBytes = defaultMaxBodyBytes
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	return f
}

// FetchAll fetches all sources concurrently and returns once every fetch
// has settled. The result slice is index-aligned with sources: each source
// yields exactly one FetchResult, successful or not.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) []model.FetchResult {
	results := make([]model.FetchResult, len(sources))

	var g errgroup.Group
	g.SetLimit(f.maxConcurrent)

	for i, src := range sources {
		g.Go(func() error {
			results[i] = f.FetchOne(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// FetchOne performs a single attempt for src. Any failure is reported in
// the returned FetchResult, never as a panic or an aborted batch.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) model.FetchResult {
	res := model.FetchResult{
		SubscriptionID: src.ID,
		URL:            src.URL,
	}

	body, fromCache, err := f.fetch(ctx, src)
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrFetch, err)
		appLog.Error("ics fetch failed", err, "id", src.ID, "url", redactURL(src.URL))
		return res
	}

	text := string(body)
	res.Success = true
	res.RawText = &text
	res.FromCache = fromCache
	return res
}

func (f *Fetcher) fetch(ctx context.Context, src Source) ([]byte, bool, error) {
	if src.URL == "" {
		return nil, false, errors.New("source URL is empty")
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	if f.cacheDir != "" {
		cachePath = f.cachePathForURL(src.URL)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return nil, false, fmt.Errorf("create cache dir: %w", err)
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.5")

	// Conditional headers only make sense if we can serve the cached body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified && len(cachedBody) > 0:
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return cachedBody, true, nil

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, false, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return nil, false, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, false, fmt.Errorf("body exceeds %d bytes", f.maxBodyBytes)
	}
	if !utf8.Valid(body) {
		return nil, false, errors.New("response is not text")
	}

	if cachePath != "" {
		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}
	}

	appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode, "bytes", len(body))
	return body, false, nil
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.ics"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.ics"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host so feed tokens in paths or query
// strings never reach the logs.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
