package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"feedgate/internal/config"
	"feedgate/internal/favicon"
	"feedgate/internal/fetcher"
	"feedgate/internal/storage"
	"feedgate/internal/urlcheck"
)

// Batch favicon brightness analysis. Exits non-zero only on driver-level
// faults; a single feed's failed analysis is persisted as dark and logged.
func main() {
	force := flag.Bool("force", false, "re-analyze feeds that already have a classification")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	check := urlcheck.New()
	fetch := fetcher.New(check,
		fetcher.WithRedirects(5),
		fetcher.WithTimeout(cfg.HTTPTimeout),
		fetcher.WithMaxBody(cfg.MaxBodyBytes),
	)

	analyzer := favicon.New(store, fetch, log)
	if err := analyzer.Run(context.Background(), *force); err != nil {
		log.Error("favicon analysis", "error", err)
		os.Exit(1)
	}
}
