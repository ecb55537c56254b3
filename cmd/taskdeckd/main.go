// Command taskdeckd is the Taskdeck server daemon. It serves the REST API
// the dashboard polls and runs the simulated agent executor over a SQLite
// task store.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/taskdeck/taskdeck/config"
	"github.com/taskdeck/taskdeck/internal/version"
	"github.com/taskdeck/taskdeck/server"
	"github.com/taskdeck/taskdeck/server/api"
	"github.com/taskdeck/taskdeck/task"
)

var (
	configPath = flag.String("config", "", "path to YAML config file")
	addr       = flag.String("addr", "", "listen address (overrides config)")
)

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting taskdeckd",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}
	store, err := task.NewSQLiteStore(filepath.Join(cfg.DataDir, "tasks.db"))
	if err != nil {
		log.Fatalf("Failed to open task store: %v", err)
	}
	defer store.Close() //nolint:errcheck

	agents := make([]task.Agent, 0, len(cfg.Agents))
	for _, seed := range cfg.Agents {
		agents = append(agents, task.Agent{ID: seed.ID, Type: seed.Type, Name: seed.Name})
	}

	srv := server.New(*cfg, version.Version, logger)
	srv.SetDirectory(api.NewRegistry(agents))
	srv.SetTaskStore(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := server.NewExecutor(store, 0, logger)
	exec.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}

	exec.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "error", err)
	}
	logger.Info("shutdown complete")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
