package scancan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultUserAgent = "scancan-go-client"

	pathHealth   = "/health"
	pathVersion  = "/version"
	pathScanPath = "/scanpath/"
	pathContScan = "/contscan/"
	pathScanURL  = "/scanurl"
	pathScanFile = "/scanfile"
	pathLicense  = "/license"
)

var foundReply = regexp.MustCompile(`(?m)^.*\sFOUND$`)

// Client talks to a ScanCan server.
// It is safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
	userAgent  string
}

// NewClient creates a client for the ScanCan server at baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("invalid base URL: %s", baseURL), 0, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, NewValidationError(fmt.Sprintf("base URL must include scheme and host: %s", baseURL), 0, nil)
	}

	c := &Client{
		baseURL:   baseURL,
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c, nil
}

// Close releases any resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Health returns clamd's PING and STATS replies as seen by the server.
// An unhealthy daemon is reported as an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathHealth, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, NewServiceError("failed to decode health response", resp.StatusCode, err)
	}
	return &body.Result, nil
}

// Version returns the server and clamd versions.
func (c *Client) Version(ctx context.Context) (*VersionResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathVersion, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.handleErrorResponse(resp)
	}

	var result VersionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, NewServiceError("failed to decode version response", resp.StatusCode, err)
	}
	return &result, nil
}

// License returns the server's license text.
func (c *Client) License(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathLicense, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.handleErrorResponse(resp)
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", NewConnectionError("failed to read license", err)
	}
	return string(text), nil
}

// ScanPath asks the server to have clamd scan a path on clamd's own filesystem.
func (c *Client) ScanPath(ctx context.Context, path string) (*ScanResult, error) {
	return c.scanMountedPath(ctx, pathScanPath, path)
}

// ContScan is ScanPath without stopping at the first match.
func (c *Client) ContScan(ctx context.Context, path string) (*ScanResult, error) {
	return c.scanMountedPath(ctx, pathContScan, path)
}

func (c *Client) scanMountedPath(ctx context.Context, route, path string) (*ScanResult, error) {
	if path == "" {
		return nil, NewValidationError("path is required", 0, nil)
	}

	req, err := c.newRequest(ctx, http.MethodPost, route+escapePath(path), nil)
	if err != nil {
		return nil, err
	}
	return c.doScan(req)
}

// ScanURL asks the server to download target and scan it.
func (c *Client) ScanURL(ctx context.Context, target string) (*ScanResult, error) {
	if target == "" {
		return nil, NewValidationError("url is required", 0, nil)
	}

	req, err := c.newRequest(ctx, http.MethodGet, pathScanURL+"?url="+url.QueryEscape(target), nil)
	if err != nil {
		return nil, err
	}
	return c.doScan(req)
}

// ScanFile uploads data for scanning. filename is optional metadata.
func (c *Client) ScanFile(ctx context.Context, data []byte, filename string) (*ScanResult, error) {
	return c.ScanReader(ctx, bytes.NewReader(data), filename)
}

// ScanFilePath reads a local file and uploads it for scanning.
func (c *Client) ScanFilePath(ctx context.Context, filePath string) (*ScanResult, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("failed to open file: %s", filePath), 0, err)
	}
	defer f.Close()

	return c.ScanReader(ctx, f, filepath.Base(filePath))
}

// ScanReader uploads the contents of r for scanning.
func (c *Client) ScanReader(ctx context.Context, r io.Reader, filename string) (*ScanResult, error) {
	if filename == "" {
		filename = "file"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, NewValidationError("failed to create multipart form", 0, err)
	}

	if _, err := io.Copy(part, r); err != nil {
		return nil, NewValidationError("failed to write file data", 0, err)
	}

	if err := writer.Close(); err != nil {
		return nil, NewValidationError("failed to close multipart writer", 0, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, pathScanFile, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.doScan(req)
}

// escapePath escapes each segment of p, keeping the separators.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// newRequest creates an HTTP request with context, base URL, and default headers.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, NewConnectionError("failed to create request", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// do executes an HTTP request and maps transport errors to client error types.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.classifyTransportError(err)
	}
	return resp, nil
}

// doScan executes a scan request. A 406 carrying a FOUND reply is a result, not an error.
func (c *Client) doScan(req *http.Request) (*ScanResult, error) {
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body ScanResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, NewServiceError("failed to decode scan response", resp.StatusCode, err)
		}
		return &ScanResult{Status: StatusOK, Reply: body.Result}, nil

	case http.StatusNotAcceptable:
		var body VirusFoundResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return nil, NewServiceError("failed to decode scan response", resp.StatusCode, err)
		}
		if !foundReply.MatchString(body.Response) {
			return nil, NewValidationError(body.Response, resp.StatusCode, nil)
		}
		return &ScanResult{Status: StatusFound, Reply: body.Response, Path: body.Path}, nil

	default:
		return nil, c.handleErrorResponse(resp)
	}
}

// handleErrorResponse maps HTTP error responses to client error types.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return NewServiceError(
			fmt.Sprintf("unexpected status %d and failed to decode error response", resp.StatusCode),
			resp.StatusCode, err,
		)
	}

	msg := body.Response
	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusNotAcceptable, http.StatusUnprocessableEntity:
		return NewValidationError(msg, resp.StatusCode, nil)
	case http.StatusNotFound:
		return NewNotFoundError(msg)
	case http.StatusRequestEntityTooLarge:
		return NewTooLargeError(msg)
	case http.StatusServiceUnavailable:
		return NewUnavailableError(msg)
	case http.StatusGatewayTimeout:
		return NewTimeoutError(msg, nil)
	default:
		return NewServiceError(
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, msg),
			resp.StatusCode, nil,
		)
	}
}

// classifyTransportError maps Go transport errors to client error types.
func (c *Client) classifyTransportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return NewTimeoutError("request canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("request timed out", err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return NewTimeoutError("request timed out", err)
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return NewConnectionError("connection failed", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewConnectionError("DNS resolution failed", err)
	}

	return NewConnectionError("request failed", err)
}
