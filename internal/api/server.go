// Package api exposes clamd over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/DevHatRo/scancan"
	"github.com/DevHatRo/scancan/internal/cache"
	"github.com/DevHatRo/scancan/internal/clamd"
	"github.com/DevHatRo/scancan/internal/fetch"
	"github.com/DevHatRo/scancan/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Scanner is the subset of the clamd connector the handlers use.
type Scanner interface {
	Ping(ctx context.Context) (string, error)
	Stats(ctx context.Context) (string, error)
	Version(ctx context.Context) (string, error)
	Scan(ctx context.Context, path string) (string, error)
	ContScan(ctx context.Context, path string) (string, error)
	Instream(ctx context.Context, data []byte) (string, error)
}

// Fetcher downloads the payload behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Config carries the settings the handlers need.
type Config struct {
	// UploadSizeLimit caps uploads and downloaded URLs, in bytes.
	UploadSizeLimit int64
	LicensePath     string
	StaticDir       string
	// Version is the ScanCan build version reported by /version and the OpenAPI document.
	Version string
}

// multipart framing allowance on top of UploadSizeLimit
const multipartSlack = 1 << 20

// Server holds the dependencies of every handler.
type Server struct {
	scanner  Scanner
	fetcher  Fetcher
	verdicts cache.Verdicts
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
	openapi  []byte
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the collectors updated by the handlers and served on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithVerdictCache enables the verdict cache for streamed payloads.
func WithVerdictCache(v cache.Verdicts) Option {
	return func(s *Server) {
		if v != nil {
			s.verdicts = v
		}
	}
}

// New creates a Server.
func New(scanner Scanner, fetcher Fetcher, cfg Config, opts ...Option) (*Server, error) {
	if cfg.UploadSizeLimit <= 0 {
		return nil, errors.New("api: upload size limit must be positive")
	}

	s := &Server{
		scanner:  scanner,
		fetcher:  fetcher,
		verdicts: cache.Nop{},
		logger:   slog.Default(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(prometheus.NewRegistry())
	}

	doc, err := loadOpenAPI(context.Background(), cfg.Version)
	if err != nil {
		return nil, err
	}
	if s.openapi, err = json.Marshal(doc); err != nil {
		return nil, fmt.Errorf("api: encode openapi document: %w", err)
	}
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, newStatusError(http.StatusNotFound, "Not Found", nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, newStatusError(http.StatusMethodNotAllowed, "Method Not Allowed", nil))
	})

	r.Get("/health", s.handle(s.health))
	r.Get("/version", s.handle(s.version))
	r.Post("/scanpath/*", s.handleScan("scanpath", s.scanPath))
	r.Post("/contscan/*", s.handleScan("contscan", s.contScan))
	r.Get("/scanurl", s.handleScan("scanurl", s.scanURL))
	r.Get("/scanurl/", s.handleScan("scanurl", s.scanURL))
	r.Post("/scanfile", s.handleScan("scanfile", s.scanFile))
	r.Get("/license", s.handle(s.license))
	r.Get("/favicon.ico", s.handle(s.favicon))
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.StaticDir))))

	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/openapi.json", s.openAPIDocument)
	r.Get("/docs", swaggerUI)

	return r
}

// handle adapts an error-returning handler. Failures are rendered as JSON and
// logged; 5xx at error level.
func (s *Server) handle(fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			s.fail(w, r, err)
		}
	}
}

// handleScan is handle plus per-endpoint scan metrics.
func (s *Server) handleScan(endpoint string, fn func(http.ResponseWriter, *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		s.metrics.Scans.WithLabelValues(endpoint, outcome(err)).Inc()
		if err != nil {
			s.fail(w, r, err)
		}
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var se *statusError
	if !errors.As(err, &se) {
		se = newStatusError(http.StatusInternalServerError, "Internal Server Error", err)
	}

	switch {
	case se.found:
		s.logger.Warn("virus found",
			"path", se.path,
			"signatures", clamd.Signatures(se.msg),
			"reply", se.msg,
			"request_id", middleware.GetReqID(r.Context()),
		)
	case se.status >= http.StatusInternalServerError:
		s.logger.Error("request failed", "status", se.status, "error", err, "request_id", middleware.GetReqID(r.Context()))
	default:
		s.logger.Info("request rejected", "status", se.status, "error", err, "request_id", middleware.GetReqID(r.Context()))
	}
	writeError(w, se)
}

func outcome(err error) string {
	if err == nil {
		return metrics.OutcomeClean
	}
	var se *statusError
	if errors.As(err, &se) {
		if se.found {
			return metrics.OutcomeInfected
		}
		if se.status < http.StatusInternalServerError {
			return metrics.OutcomeRejected
		}
	}
	return metrics.OutcomeError
}

// clamdError maps a connector failure to a response. msg is used for
// everything but an unreachable daemon.
func clamdError(err error, msg string) *statusError {
	if errors.Is(err, clamd.ErrConnection) {
		return newStatusError(http.StatusServiceUnavailable, "Unable to communicate with ClamAV", err)
	}
	return newStatusError(http.StatusInternalServerError, msg, err)
}

// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	ping, err := s.scanner.Ping(ctx)
	if err != nil {
		return newStatusError(http.StatusInternalServerError, "ClamAV connection error.", err)
	}
	if !clamd.IsPong(ping) {
		s.logger.Error("unexpected ping reply", "reply", ping)
		return newStatusError(http.StatusServiceUnavailable, "Unable to communicate with ClamAV", nil)
	}

	stats, err := s.scanner.Stats(ctx)
	if err != nil {
		if errors.Is(err, clamd.ErrConnection) {
			return newStatusError(http.StatusInternalServerError, "ClamAV connection error.", err)
		}
		return newStatusError(http.StatusInternalServerError, "Invalid response from ClamAV", err)
	}
	if !clamd.ValidStats(stats) {
		s.logger.Error("unexpected stats reply", "reply", stats)
		return newStatusError(http.StatusInternalServerError, "Invalid response from ClamAV", nil)
	}

	writeJSON(w, http.StatusOK, scancan.HealthResponse{
		Result: scancan.Health{Ping: ping, Stats: stats},
	})
	return nil
}

// GET /version
func (s *Server) version(w http.ResponseWriter, r *http.Request) error {
	reply, err := s.scanner.Version(r.Context())
	if err != nil {
		return clamdError(err, "Invalid response from ClamAV")
	}
	writeJSON(w, http.StatusOK, scancan.VersionResponse{
		Version: s.cfg.Version,
		ClamAV:  reply,
	})
	return nil
}

// pathParam returns the wildcard part of /scanpath/* and /contscan/*.
func pathParam(r *http.Request) (string, error) {
	p := chi.URLParam(r, "*")
	// chi routes on RawPath when the request carried escapes that Path cannot represent.
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(p)
		if err != nil {
			return "", newStatusError(http.StatusUnprocessableEntity, "Invalid path", err)
		}
		p = unescaped
	}
	if p == "" {
		return "", newStatusError(http.StatusUnprocessableEntity, "path is required", nil)
	}
	return p, nil
}

// POST /scanpath/{path}
func (s *Server) scanPath(w http.ResponseWriter, r *http.Request) error {
	path, err := pathParam(r)
	if err != nil {
		return err
	}
	s.logger.Info("Scanning path", "path", path)

	reply, err := s.timed(r.Context(), "scanpath", func(ctx context.Context) (string, error) {
		return s.scanner.Scan(ctx, path)
	})
	if err != nil {
		return clamdError(err, "Error scanning")
	}
	return s.verdict(w, reply, path)
}

// POST /contscan/{path}
func (s *Server) contScan(w http.ResponseWriter, r *http.Request) error {
	path, err := pathParam(r)
	if err != nil {
		return err
	}
	s.logger.Info("Scanning path (cont)", "path", path)

	reply, err := s.timed(r.Context(), "contscan", func(ctx context.Context) (string, error) {
		return s.scanner.ContScan(ctx, path)
	})
	if err != nil {
		return clamdError(err, "Error scanning (cont)")
	}
	return s.verdict(w, reply, path)
}

// GET /scanurl?url=
func (s *Server) scanURL(w http.ResponseWriter, r *http.Request) error {
	if !r.URL.Query().Has("url") {
		return newStatusError(http.StatusUnprocessableEntity, "url is required", nil)
	}
	target := fetch.Normalize(r.URL.Query().Get("url"))
	s.logger.Info("Scanning url", "url", target)

	data, err := s.fetcher.Fetch(r.Context(), target)
	switch {
	case err == nil:
	case errors.Is(err, fetch.ErrInvalidURL):
		return newStatusError(http.StatusNotAcceptable, "Invalid URL", err)
	case errors.Is(err, fetch.ErrNotFound):
		return newStatusError(http.StatusNotFound, fmt.Sprintf("%s not found", target), err)
	case errors.Is(err, fetch.ErrTooLarge):
		return s.tooLarge(err)
	default:
		return newStatusError(http.StatusInternalServerError, "Error fetching URL", err)
	}
	s.metrics.FetchBytes.Observe(float64(len(data)))

	if int64(len(data)) > s.cfg.UploadSizeLimit {
		return s.tooLarge(nil)
	}

	reply, err := s.scanData(r.Context(), "scanurl", data)
	if err != nil {
		return clamdError(err, "Error scanning stream")
	}
	return s.verdict(w, reply, target)
}

// POST /scanfile
func (s *Server) scanFile(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadSizeLimit+multipartSlack)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return s.tooLarge(err)
		}
		return newStatusError(http.StatusUnprocessableEntity, "Provide a file", err)
	}
	defer file.Close()
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll() //nolint:errcheck
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.UploadSizeLimit+1))
	if err != nil {
		return newStatusError(http.StatusInternalServerError, "Error reading file", err)
	}
	if int64(len(data)) > s.cfg.UploadSizeLimit {
		return s.tooLarge(nil)
	}
	s.logger.Info("Scanning upload", "filename", header.Filename, "size", len(data))

	reply, err := s.scanData(r.Context(), "scanfile", data)
	if err != nil {
		return clamdError(err, "Error scanning file")
	}
	return s.verdict(w, reply, "")
}

func (s *Server) tooLarge(cause error) *statusError {
	return newStatusError(http.StatusRequestEntityTooLarge,
		fmt.Sprintf("Max size %d bytes limit exceeded", s.cfg.UploadSizeLimit), cause)
}

// verdict writes a 200 for a clean reply or returns the 406 for a FOUND one.
func (s *Server) verdict(w http.ResponseWriter, reply, path string) error {
	if clamd.Found(reply) {
		return virusFound(reply, path)
	}
	writeJSON(w, http.StatusOK, scancan.ScanResponse{Result: reply})
	return nil
}

// scanData streams data to clamd, consulting the verdict cache first.
// Cache failures are logged and otherwise ignored.
func (s *Server) scanData(ctx context.Context, endpoint string, data []byte) (string, error) {
	digest := cache.Digest(data)

	reply, ok, err := s.verdicts.Get(ctx, digest)
	switch {
	case err != nil:
		s.metrics.CacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("verdict cache lookup failed", "error", err)
	case ok:
		s.metrics.CacheLookups.WithLabelValues("hit").Inc()
		s.logger.Debug("verdict cache hit", "sha256", digest)
		return reply, nil
	default:
		s.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	reply, err = s.timed(ctx, endpoint, func(ctx context.Context) (string, error) {
		return s.scanner.Instream(ctx, data)
	})
	if err != nil {
		return "", err
	}

	if err := s.verdicts.Put(ctx, digest, reply); err != nil {
		s.logger.Warn("verdict cache store failed", "error", err)
	}
	return reply, nil
}

func (s *Server) timed(ctx context.Context, endpoint string, fn func(context.Context) (string, error)) (string, error) {
	start := time.Now()
	reply, err := fn(ctx)
	s.metrics.ScanDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	return reply, err
}

// GET /license
func (s *Server) license(w http.ResponseWriter, r *http.Request) error {
	text, err := os.ReadFile(s.cfg.LicensePath)
	if err != nil {
		return newStatusError(http.StatusInternalServerError, "Unable to read license", err)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(text) //nolint:errcheck
	return nil
}

// GET /favicon.ico
func (s *Server) favicon(w http.ResponseWriter, r *http.Request) error {
	path := filepath.Join(s.cfg.StaticDir, "favicon.ico")
	if _, err := os.Stat(path); err != nil {
		return newStatusError(http.StatusNotFound, "Not Found", err)
	}
	http.ServeFile(w, r, path)
	return nil
}

// requestLogger logs one line per request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
