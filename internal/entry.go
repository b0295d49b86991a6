// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/hverdal/arkiv/internal/api"
	"github.com/hverdal/arkiv/internal/apperr"
	"github.com/hverdal/arkiv/internal/docsvc"
	"github.com/hverdal/arkiv/internal/index"
	"github.com/hverdal/arkiv/internal/library"
	"github.com/hverdal/arkiv/internal/mcpserver"
	"github.com/hverdal/arkiv/internal/notify"
	"github.com/hverdal/arkiv/internal/syncer"
	"github.com/hverdal/arkiv/internal/watcher"
)

// services bundles the wired core used by both run modes.
type services struct {
	db   *index.DB
	libs *library.FileStore
	eng  *syncer.Engine
	svc  *docsvc.Service
}

// buildServices opens the index, seeds the library store from the
// config, and wires the sync engine and document service.
func buildServices(cfg *Config, logger *slog.Logger) (*services, error) {
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	libs := library.NewFileStore(cfg.Libraries.Path)
	for _, root := range cfg.Libraries.Roots {
		err := libs.Add(library.Library{
			Id:           root.Id,
			Name:         root.Name,
			RootPath:     root.RootPath,
			Organization: root.Organization,
		})
		if err != nil && !errors.Is(err, apperr.ErrAlreadyExists) {
			db.Close()
			return nil, fmt.Errorf("seed library %q: %w", root.Id, err)
		}
	}

	eng := syncer.New(db, libs, logger, cfg.Watcher.MaxDepth)
	svc := docsvc.NewService(db, libs, logger, cfg.Watcher.MaxDepth)
	return &services{db: db, libs: libs, eng: eng, svc: svc}, nil
}

func newLogger(cfg *Config) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// Run starts the HTTP server mode with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(cfg)
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("libraries_path", cfg.Libraries.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	sv, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer sv.db.Close()

	// Initial reconciliation. Per-path failures are reported inside the
	// result; only log, never abort startup.
	res := sv.eng.SyncAll(ctx)
	logger.Info("initial sync complete",
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed),
		slog.Int("errors", len(res.Errors)))

	// Change watcher and SSE broker. Watch handles start lazily with the
	// first SSE client.
	manager := watcher.NewManager(sv.libs, sv.eng, logger, cfg.Watcher.Debounce())
	defer manager.Close()
	broker := notify.NewBroker(manager, sv.libs)
	defer broker.Close()

	apiRouter := api.NewRouter(sv.svc, sv.eng, sv.libs, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the MCP stdio server mode with the given options. No
// HTTP surface and no watcher; tools trigger syncs on demand.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Logs go to stdout in server mode; stdio transport owns stdout
	// here, so route logs to stderr instead.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	sv, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer sv.db.Close()

	res := sv.eng.SyncAll(ctx)
	logger.Info("initial sync complete",
		slog.Int("added", res.Added),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed),
		slog.Int("errors", len(res.Errors)))

	srv := mcpserver.New(sv.svc, sv.eng, sv.libs)
	logger.Info("Starting MCP server on stdio")
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
