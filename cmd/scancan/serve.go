package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/DevHatRo/scancan/internal/api"
	"github.com/DevHatRo/scancan/internal/cache"
	"github.com/DevHatRo/scancan/internal/clamd"
	"github.com/DevHatRo/scancan/internal/config"
	"github.com/DevHatRo/scancan/internal/fetch"
	"github.com/DevHatRo/scancan/internal/logging"
	"github.com/DevHatRo/scancan/internal/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Starts the ScanCan API. clamd is contacted on the first request, not at startup.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("listen", "l", "", "Override server.listen, e.g. :8080")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	srv, cleanup, err := newServer(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("starting scancan", "listen", srv.Addr, "clamd", cfg.Clamd.Address(), "version", version)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("shutting down", "signal", sig.String())

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("graceful shutdown did not complete", "timeout", cfg.Server.ShutdownTimeout, "error", err)
			if err := srv.Close(); err != nil {
				logger.Error("killing server failed", "error", err)
			}
		}
		logger.Info("scancan stopped")
		return nil
	}
}

// newServer wires the connector, fetcher, cache and metrics into an
// http.Server. cleanup releases the clamd handle and the cache client.
func newServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*http.Server, func(), error) {
	m := metrics.NewDefault()

	connector := clamd.NewConnector(
		clamd.Dial(cfg.Clamd.Address()),
		clamd.WithLogger(logger),
		clamd.WithReconnectHook(m.Reconnects.Inc),
	)
	closers := []func() error{connector.Close}

	opts := []api.Option{api.WithLogger(logger), api.WithMetrics(m)}

	if cfg.Cache.Enabled {
		verdicts := cache.NewRedis(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB,
			cache.WithTTL(cfg.Cache.TTL),
			cache.WithPrefix(cfg.Cache.Prefix),
		)
		if err := verdicts.Ping(ctx); err != nil {
			logger.Warn("verdict cache not reachable, lookups will fail until it is", "addr", cfg.Cache.Addr, "error", err)
		}
		closers = append(closers, verdicts.Close)
		opts = append(opts, api.WithVerdictCache(verdicts))
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("cleanup failed", "error", err)
			}
		}
	}

	fetcher := fetch.New(cfg.Scan.UploadSizeLimit,
		fetch.WithConcurrency(cfg.Scan.FetchConcurrency),
		fetch.WithTimeout(cfg.Scan.FetchTimeout),
	)

	s, err := api.New(connector, fetcher, api.Config{
		UploadSizeLimit: cfg.Scan.UploadSizeLimit,
		LicensePath:     cfg.Paths.License,
		StaticDir:       cfg.Paths.StaticDir,
		Version:         version,
	}, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	srv := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return srv, cleanup, nil
}
