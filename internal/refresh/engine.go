// Package refresh orchestrates one feed refresh: validate the URL, fetch,
// parse, filter, deduplicate, persist, and record the attempt in the
// refresh history. Failures never escape to the caller as faults; every
// outcome becomes a RefreshResult plus a history row.
package refresh

import (
	"context"
	"log/slog"
	"time"

	"feedgate/internal/fetcher"
	"feedgate/internal/filter"
	"feedgate/internal/model"
	"feedgate/internal/parser"
	"feedgate/internal/storage"
	"feedgate/internal/urlcheck"
)

// Errors recorded in history rows are capped at this many bytes.
const maxErrorLength = 500

const defaultTimeout = 2 * time.Minute

// FetchClient is the subset of the fetcher the engine needs.
type FetchClient interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// Engine runs the refresh pipeline. It is stateless and safe for
// concurrent use across feeds; per-feed serialization is the scheduler's
// contract.
type Engine struct {
	store   storage.Storage
	check   urlcheck.Validator
	fetch   FetchClient
	filters *filter.Engine
	log     *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout overrides the default two-minute wall-clock budget per refresh.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(store storage.Storage, check urlcheck.Validator, fetch FetchClient, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		check:   check,
		fetch:   fetch,
		filters: filter.NewEngine(log),
		log:     log,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RefreshByID loads the feed and refreshes it. The returned error is only
// non-nil when the feed itself cannot be loaded; refresh failures are
// reported through the result and the history row.
func (e *Engine) RefreshByID(ctx context.Context, feedID int64) (model.RefreshResult, error) {
	feed, err := e.store.GetFeed(ctx, feedID)
	if err != nil {
		return model.RefreshResult{}, err
	}
	return e.Refresh(ctx, feed), nil
}

// Refresh runs the full pipeline for one feed. Re-running against an
// unchanged upstream document yields EntriesCreated == 0 and a successful
// history row.
func (e *Engine) Refresh(ctx context.Context, feed *model.Feed) model.RefreshResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := e.now().UTC()

	// The stored URL was safe at subscribe time, but DNS answers change;
	// every refresh re-checks before anything is fetched.
	if err := e.check.ValidateURL(ctx, feed.URL); err != nil {
		return e.fail(ctx, feed, started, err)
	}

	resp, err := e.fetch.Fetch(ctx, feed.URL)
	if err != nil {
		return e.fail(ctx, feed, started, err)
	}

	items, err := parser.Parse(resp.Body, feed.URL, started)
	if err != nil {
		return e.fail(ctx, feed, started, err)
	}

	rules, err := e.store.ListFilterRules(ctx, feed.ID)
	if err != nil {
		return e.fail(ctx, feed, started, err)
	}

	entries := e.collect(feed, items, rules)

	created, err := e.store.ApplyRefresh(ctx, feed.ID, entries, model.FeedRefresh{
		FeedID:      feed.ID,
		RefreshedAt: started,
	})
	if err != nil {
		return e.fail(ctx, feed, started, err)
	}

	e.log.Info("feed refreshed",
		"feed_id", feed.ID, "items", len(items), "kept", len(entries), "created", created)
	return model.RefreshResult{WasSuccessful: true, EntriesCreated: created}
}

// collect filters the parsed items and maps survivors to entries,
// deduplicating by fingerprint within the batch (some feeds repeat items).
func (e *Engine) collect(feed *model.Feed, items []parser.Item, rules []model.FilterRule) []model.Entry {
	seen := make(map[string]struct{}, len(items))
	entries := make([]model.Entry, 0, len(items))
	for _, it := range items {
		if !e.filters.ShouldInclude(filter.Item{
			Title:   it.Title,
			Content: it.Content,
			Author:  it.Author,
		}, rules) {
			continue
		}
		if _, dup := seen[it.Fingerprint]; dup {
			continue
		}
		seen[it.Fingerprint] = struct{}{}
		entries = append(entries, model.Entry{
			FeedID:      feed.ID,
			Fingerprint: it.Fingerprint,
			Title:       it.Title,
			URL:         it.Link,
			Author:      it.Author,
			Content:     it.Content,
			PublishedAt: it.Published,
		})
	}
	return entries
}

func (e *Engine) fail(ctx context.Context, feed *model.Feed, started time.Time, cause error) model.RefreshResult {
	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}

	// Recording must survive an expired refresh budget.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	rec := model.FeedRefresh{
		FeedID:       feed.ID,
		RefreshedAt:  started,
		ErrorMessage: msg,
	}
	if err := e.store.RecordRefresh(recordCtx, rec); err != nil {
		e.log.Error("record failed refresh", "feed_id", feed.ID, "error", err)
	}

	e.log.Warn("feed refresh failed", "feed_id", feed.ID, "url", feed.URL, "error", cause)
	return model.RefreshResult{ErrorMessage: msg}
}
