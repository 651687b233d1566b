// Package clamd wraps a clamd client library behind a connector that
// connects lazily, pings before every command and reconnects when the
// daemon goes away.
package clamd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Connector owns the single shared clamd handle.
// It is safe for concurrent use from multiple goroutines.
type Connector struct {
	dial        Dialer
	logger      *slog.Logger
	onReconnect func()

	// mu guards the handle only. Network round-trips happen without it.
	mu          sync.Mutex
	daemon      Daemon
	established bool
}

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the logger used for command and reconnect messages.
func WithLogger(l *slog.Logger) Option {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReconnectHook registers fn to be called every time a new handle is
// installed after the first one. The initial lazy connect does not count.
func WithReconnectHook(fn func()) Option {
	return func(c *Connector) {
		c.onReconnect = fn
	}
}

// NewConnector creates a Connector. No connection is made until the first command.
func NewConnector(dial Dialer, opts ...Option) *Connector {
	c := &Connector{
		dial:   dial,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials clamd and replaces the current handle.
func (c *Connector) Connect(ctx context.Context) error {
	_, err := c.connect(ctx, c.current())
	return err
}

// Close drops the current handle. The next command connects again.
func (c *Connector) Close() error {
	c.mu.Lock()
	c.daemon = nil
	c.mu.Unlock()
	return nil
}

// Ping sends PING and returns the reply, normally "PONG".
func (c *Connector) Ping(ctx context.Context) (string, error) {
	return c.run(ctx, "ping", func(d Daemon) (string, error) { return d.Ping() })
}

// Stats sends STATS and returns the reply.
func (c *Connector) Stats(ctx context.Context) (string, error) {
	return c.run(ctx, "stats", func(d Daemon) (string, error) { return d.Stats() })
}

// Version sends VERSION and returns the reply.
func (c *Connector) Version(ctx context.Context) (string, error) {
	return c.run(ctx, "version", func(d Daemon) (string, error) { return d.Version() })
}

// Scan asks clamd to scan a path on its own filesystem, stopping at the first match.
func (c *Connector) Scan(ctx context.Context, path string) (string, error) {
	return c.run(ctx, "scan", func(d Daemon) (string, error) { return d.Scan(path) })
}

// ContScan asks clamd to scan a path and keep going after a match.
func (c *Connector) ContScan(ctx context.Context, path string) (string, error) {
	return c.run(ctx, "contscan", func(d Daemon) (string, error) { return d.ContScan(path) })
}

// Instream streams data to clamd for scanning. The payload is held in memory
// so that it can be replayed after a reconnect.
func (c *Connector) Instream(ctx context.Context, data []byte) (string, error) {
	return c.run(ctx, "instream", func(d Daemon) (string, error) {
		var r io.Reader = bytes.NewReader(data)
		return d.Instream(r)
	})
}

// run executes one command, healing the connection before it and retrying
// exactly once if the command itself loses the connection.
func (c *Connector) run(ctx context.Context, name string, cmd func(Daemon) (string, error)) (string, error) {
	c.logger.Info("Running clamd command", "command", name)

	d, err := c.checkConnect(ctx)
	if err != nil {
		return "", err
	}

	reply, err := within(ctx, func() (string, error) { return cmd(d) })
	if err == nil || !errors.Is(err, ErrConnection) {
		return reply, err
	}

	c.logger.Warn("clamd connection lost, reconnecting", "command", name, "error", err)
	d, err = c.connect(ctx, d)
	if err != nil {
		return "", err
	}
	return within(ctx, func() (string, error) { return cmd(d) })
}

// checkConnect returns a live handle, connecting when there is none and
// reconnecting when the current one no longer answers PING.
func (c *Connector) checkConnect(ctx context.Context) (Daemon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := c.current()
	if d == nil {
		c.logger.Info("No clamd connection, connecting")
		return c.connect(ctx, nil)
	}

	if _, err := within(ctx, d.Ping); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Info("clamd ping failed, connecting", "error", err)
		return c.connect(ctx, d)
	}
	return d, nil
}

func (c *Connector) current() Daemon {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.daemon
}

// connect dials a new handle and installs it in place of stale. When another
// goroutine has already replaced stale, its handle is returned instead.
func (c *Connector) connect(ctx context.Context, stale Daemon) (Daemon, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.logger.Info("Connecting to clamd")
	d, err := c.dial(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.daemon != nil && c.daemon != stale {
		return c.daemon, nil
	}
	if err != nil {
		c.daemon = nil
		c.logger.Error("clamd connect failed", "error", err)
		return nil, err
	}

	c.daemon = d
	if c.established && c.onReconnect != nil {
		c.onReconnect()
	}
	c.established = true
	return d, nil
}
