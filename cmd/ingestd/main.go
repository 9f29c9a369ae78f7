package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"feedgate/internal/config"
	"feedgate/internal/fetcher"
	"feedgate/internal/refresh"
	"feedgate/internal/scheduler"
	"feedgate/internal/storage"
	"feedgate/internal/urlcheck"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	check := urlcheck.New()
	opts := []fetcher.Option{
		fetcher.WithRedirects(5),
		fetcher.WithTimeout(cfg.HTTPTimeout),
		fetcher.WithMaxBody(cfg.MaxBodyBytes),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, fetcher.WithUserAgent(cfg.UserAgent))
	}
	fetch := fetcher.New(check, opts...)

	engine := refresh.New(store, check, fetch, log, refresh.WithTimeout(cfg.RefreshTimeout))
	sched := scheduler.New(store, engine, log, cfg.RefreshInterval, cfg.RefreshWorkers)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting ingest daemon",
		"interval", cfg.RefreshInterval, "workers", cfg.RefreshWorkers)

	if err := sched.Run(ctx); err != nil {
		log.Error("scheduler", "error", err)
		os.Exit(1)
	}

	log.Info("ingest daemon stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
