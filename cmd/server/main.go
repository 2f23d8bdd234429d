// Command server runs the Malloy publisher: a multi-tenant catalog of
// projects, packages, and models served over REST and MCP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"malloy-publisher/internal/api"
	"malloy-publisher/internal/catalog"
	"malloy-publisher/internal/config"
	"malloy-publisher/internal/connections"
	"malloy-publisher/internal/executor"
	"malloy-publisher/internal/fetcher"
	"malloy-publisher/internal/malloy"
	"malloy-publisher/internal/mcpserver"
	"malloy-publisher/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	publisherPath := cfg.PublisherPath
	if !filepath.IsAbs(publisherPath) {
		publisherPath = filepath.Join(cfg.ServerRoot, publisherPath)
	}
	pkgFetcher := fetcher.New(publisherPath, logger)

	// Connection definitions travel with each compile request, so every
	// project shares one runtime client.
	factory := func(string, *connections.Registry) malloy.Runtime {
		return malloy.NewServiceRuntime(cfg.MalloyService)
	}

	store := catalog.NewStore(cfg.ServerRoot, pkgFetcher, factory, logger)
	store.Init(ctx)
	defer store.Close()

	// Fail fast when the catalog cannot initialize; serving requests against
	// a broken catalog only delays the same error.
	initCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	err = store.WaitReady(initCtx)
	cancel()
	if err != nil {
		return err
	}

	exec := executor.NewService(store, logger)
	handler := api.NewHandler(store, exec, logger)
	mcpSrv := mcpserver.NewServer(store, exec, logger)

	opts := api.RouterOptions{MCP: mcpSrv.Handler()}
	if cfg.IsDevelopment() {
		opts.FrontendURL = cfg.FrontendURL
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr(), "serverRoot", cfg.ServerRoot)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
