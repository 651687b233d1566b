package scancan

import (
	"net/http"
	"time"
)

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom *http.Client.
// This allows full control over transport, TLS, timeouts, etc.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the default request timeout for all operations.
// Scans of large files or slow URLs may need more than the default 60s.
// Non-positive durations are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeaders sets headers sent with every request, e.g. an auth token
// for a proxy in front of ScanCan. The map is copied.
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		if headers == nil {
			c.headers = nil
			return
		}
		c.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}
