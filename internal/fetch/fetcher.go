// Package fetch downloads remote payloads for scanning, bounding both the
// number of concurrent downloads and the size of each one.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrInvalidURL is returned for URLs that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid URL")
	// ErrNotFound is returned when the remote server answers with anything but 200.
	ErrNotFound = errors.New("remote resource not found")
	// ErrTooLarge is returned when the payload exceeds the configured limit.
	ErrTooLarge = errors.New("payload exceeds size limit")
)

const (
	defaultConcurrency = 5
	defaultTimeout     = 30 * time.Second
)

// Fetcher downloads URLs with a shared concurrency limit.
// It is safe for concurrent use from multiple goroutines.
type Fetcher struct {
	client   *http.Client
	sem      *semaphore.Weighted
	maxBytes int64
}

// Option configures a Fetcher.
type Option func(*fetcherConfig)

type fetcherConfig struct {
	client      *http.Client
	concurrency int64
	timeout     time.Duration
}

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *fetcherConfig) {
		c.client = hc
	}
}

// WithConcurrency sets how many downloads may run at once. Non-positive values are ignored.
func WithConcurrency(n int) Option {
	return func(c *fetcherConfig) {
		if n > 0 {
			c.concurrency = int64(n)
		}
	}
}

// WithTimeout sets the per-download timeout. Non-positive durations are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *fetcherConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a Fetcher that refuses payloads larger than maxBytes.
func New(maxBytes int64, opts ...Option) *Fetcher {
	cfg := fetcherConfig{concurrency: defaultConcurrency, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.client == nil {
		cfg.client = &http.Client{Timeout: cfg.timeout}
	}
	return &Fetcher{
		client:   cfg.client,
		sem:      semaphore.NewWeighted(cfg.concurrency),
		maxBytes: maxBytes,
	}
}

// MaxBytes returns the payload size limit.
func (f *Fetcher) MaxBytes() int64 {
	return f.maxBytes
}

// Normalize percent-decodes and trims a URL taken from a query string.
func Normalize(raw string) string {
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return strings.TrimSpace(raw)
}

// Validate checks that raw is an absolute http or https URL with a host.
func Validate(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return u, nil
}

// Fetch downloads rawURL and returns its body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := Validate(rawURL)
	if err != nil {
		return nil, err
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck
		return nil, fmt.Errorf("%w: %s returned %d", ErrNotFound, u.Redacted(), resp.StatusCode)
	}
	if f.maxBytes > 0 && resp.ContentLength > f.maxBytes {
		return nil, fmt.Errorf("%w: content length %d", ErrTooLarge, resp.ContentLength)
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Redacted(), err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}
	return data, nil
}
