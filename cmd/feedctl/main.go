package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"feedgate/internal/config"
	"feedgate/internal/feeds"
	"feedgate/internal/fetcher"
	"feedgate/internal/model"
	"feedgate/internal/refresh"
	"feedgate/internal/storage"
	"feedgate/internal/urlcheck"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: feedctl <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  add <url>                         Subscribe to a feed")
	fmt.Fprintln(os.Stderr, "  import <file.yaml>                Bulk-subscribe from a YAML list")
	fmt.Fprintln(os.Stderr, "  rule <feed-id>                    Attach a filter rule")
	fmt.Fprintln(os.Stderr, "  refresh <feed-id>                 Refresh one feed now")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		fatal("open database: %v", err)
	}
	defer func() { _ = store.Close() }()

	check := urlcheck.New()
	fetch := fetcher.New(check,
		fetcher.WithRedirects(5),
		fetcher.WithTimeout(cfg.HTTPTimeout),
		fetcher.WithMaxBody(cfg.MaxBodyBytes),
	)
	svc := feeds.New(store, check, fetch, log)
	ctx := context.Background()

	switch os.Args[1] {
	case "add":
		fs := flag.NewFlagSet("add", flag.ExitOnError)
		name := fs.String("name", "", "display name override")
		owner := fs.String("owner", "", "subscribing owner")
		category := fs.Int64("category", 0, "category id")
		discover := fs.Bool("discover", false, "treat the argument as a site page and discover its feed")
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			usage()
		}

		target := fs.Arg(0)
		if *discover {
			target, err = svc.Discover(ctx, target)
			if err != nil {
				fatal("discover: %v", err)
			}
			fmt.Printf("discovered %s\n", target)
		}
		feed, err := svc.Create(ctx, feeds.CreateParams{
			URL: target, Name: *name, Owner: *owner, CategoryID: *category,
		})
		if err != nil {
			fatal("add: %v", err)
		}
		fmt.Printf("feed %d: %s\n", feed.ID, feed.URL)

	case "import":
		fs := flag.NewFlagSet("import", flag.ExitOnError)
		owner := fs.String("owner", "", "subscribing owner")
		category := fs.Int64("category", 0, "category id")
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			usage()
		}

		data, err := readFile(fs.Arg(0))
		if err != nil {
			fatal("read import file: %v", err)
		}
		res, err := svc.Import(ctx, data, *owner, *category)
		if err != nil {
			fatal("import: %v", err)
		}
		fmt.Printf("imported %d feeds\n", res.Created)
		for _, msg := range res.Errors {
			fmt.Fprintf(os.Stderr, "skipped: %s\n", msg)
		}

	case "rule":
		fs := flag.NewFlagSet("rule", flag.ExitOnError)
		field := fs.String("field", "title", "field to match: title, content or author")
		pattern := fs.String("pattern", "", "pattern to match")
		mode := fs.String("mode", "exclude", "rule mode: include or exclude")
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			usage()
		}

		feedID := parseID(fs.Arg(0))
		rule, err := svc.AddRule(ctx, feedID, model.RuleField(*field), *pattern, model.RuleMode(*mode))
		if err != nil {
			fatal("rule: %v", err)
		}
		fmt.Printf("rule %d: %s %s /%s/\n", rule.ID, rule.Mode, rule.Field, rule.Pattern)

	case "refresh":
		fs := flag.NewFlagSet("refresh", flag.ExitOnError)
		_ = fs.Parse(os.Args[2:])
		if fs.NArg() != 1 {
			usage()
		}

		engine := refresh.New(store, check, fetch, log, refresh.WithTimeout(cfg.RefreshTimeout))
		result, err := engine.RefreshByID(ctx, parseID(fs.Arg(0)))
		if err != nil {
			fatal("refresh: %v", err)
		}
		if result.WasSuccessful {
			fmt.Printf("ok: %d entries created\n", result.EntriesCreated)
		} else {
			fmt.Printf("failed: %s\n", result.ErrorMessage)
			os.Exit(1)
		}

	default:
		usage()
	}
}

func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		fatal("invalid feed id %q", arg)
	}
	return id
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
