// Package cli implements the marginalia commands on top of the library.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/marginalia"
	"github.com/aretw0/marginalia/internal/config"
	"github.com/aretw0/marginalia/internal/logging"
	httpAdapter "github.com/aretw0/marginalia/pkg/adapters/http"
	mcpAdapter "github.com/aretw0/marginalia/pkg/adapters/mcp"
	"github.com/aretw0/marginalia/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App holds everything a command needs: configuration, logger, engine and metrics.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Engine   *marginalia.Engine
	Registry *prometheus.Registry
	Out      io.Writer

	backend *config.Backend
}

// NewApp opens the configured store and builds the engine.
// Logs go to logOut so that Out stays free for documents and JSON-RPC.
func NewApp(cfg config.Config, out, logOut io.Writer) (*App, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger := logging.NewWithWriter(logOut, level, cfg.Log.Format)

	backend, err := config.OpenStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	hooks := metrics.Hooks()
	if level <= slog.LevelDebug {
		hooks = observability.Combine(hooks, observability.LogHooks(logger))
	}

	opts := []marginalia.Option{
		marginalia.WithStore(backend.Store),
		marginalia.WithLogger(logger),
		marginalia.WithPrefix(cfg.Tracking.Prefix),
		marginalia.WithLifecycleHooks(hooks),
		marginalia.WithFailureHook(metrics.SessionFailed),
	}
	if backend.Locker != nil {
		opts = append(opts, marginalia.WithLocker(backend.Locker))
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Engine:   marginalia.New(opts...),
		Registry: reg,
		Out:      out,
		backend:  backend,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.backend.Close()
}

// Serve runs the HTTP API on addr until ctx is cancelled.
func (a *App) Serve(ctx context.Context, addr string) error {
	if addr == "" {
		addr = a.Config.Server.Addr
	}
	handler := httpAdapter.NewHandler(a.Engine.Manager(),
		httpAdapter.WithLogger(a.Logger),
		httpAdapter.WithRunner(a.Engine.Runner()),
		httpAdapter.WithMetrics(a.Registry),
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.Logger.Info("HTTP server listening", "address", addr, "backend", a.Config.Store.Backend)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.Logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown did not complete: %w", err)
		}
		return nil
	}
}

// ServeMCP runs the MCP server on stdio.
func (a *App) ServeMCP() error {
	return mcpAdapter.NewServer(a.Engine.Manager(),
		mcpAdapter.WithLogger(a.Logger),
		mcpAdapter.WithRunner(a.Engine.Runner()),
	).ServeStdio()
}

func (a *App) printJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}
