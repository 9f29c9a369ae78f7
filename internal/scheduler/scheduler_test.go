package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"feedgate/internal/model"
	"feedgate/internal/storage"
)

type countingRefresher struct {
	mu    sync.Mutex
	feeds []int64
}

func (r *countingRefresher) Refresh(_ context.Context, feed *model.Feed) model.RefreshResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeds = append(r.feeds, feed.ID)
	return model.RefreshResult{WasSuccessful: true}
}

func (r *countingRefresher) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

type blockingRefresher struct {
	started chan struct{}
	release chan struct{}
	count   atomic.Int32
}

func (r *blockingRefresher) Refresh(_ context.Context, _ *model.Feed) model.RefreshResult {
	r.count.Add(1)
	r.started <- struct{}{}
	<-r.release
	return model.RefreshResult{WasSuccessful: true}
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func addFeeds(t *testing.T, s *storage.SQLite, urls ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(urls))
	for _, u := range urls {
		feed := &model.Feed{URL: u, Name: "Test"}
		if err := s.CreateFeed(context.Background(), feed); err != nil {
			t.Fatalf("create feed %s: %v", u, err)
		}
		ids = append(ids, feed.ID)
	}
	return ids
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRefreshAllVisitsEveryFeed(t *testing.T) {
	store := newTestStore(t)
	ids := addFeeds(t, store,
		"https://a.example.com/feed.xml",
		"https://b.example.com/feed.xml",
		"https://c.example.com/feed.xml",
	)

	ref := &countingRefresher{}
	s := New(store, ref, discardLogger(), time.Hour, 2)
	s.RefreshAll(context.Background())

	if ref.calls() != len(ids) {
		t.Fatalf("expected %d refreshes, got %d", len(ids), ref.calls())
	}
	seen := make(map[int64]bool)
	for _, id := range ref.feeds {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("feed %d was not refreshed", id)
		}
	}
}

func TestRefreshAllRespectsWorkerLimit(t *testing.T) {
	store := newTestStore(t)
	addFeeds(t, store,
		"https://a.example.com/feed.xml",
		"https://b.example.com/feed.xml",
		"https://c.example.com/feed.xml",
		"https://d.example.com/feed.xml",
	)

	var current, peak atomic.Int32
	ref := refresherFunc(func(_ context.Context, _ *model.Feed) model.RefreshResult {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return model.RefreshResult{WasSuccessful: true}
	})

	s := New(store, ref, discardLogger(), time.Hour, 2)
	s.RefreshAll(context.Background())

	if p := peak.Load(); p > 2 {
		t.Errorf("worker limit exceeded: %d concurrent refreshes", p)
	}
}

type refresherFunc func(ctx context.Context, feed *model.Feed) model.RefreshResult

func (f refresherFunc) Refresh(ctx context.Context, feed *model.Feed) model.RefreshResult {
	return f(ctx, feed)
}

func TestRefreshAllSkipsInFlightFeeds(t *testing.T) {
	store := newTestStore(t)
	addFeeds(t, store, "https://a.example.com/feed.xml")

	ref := &blockingRefresher{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := New(store, ref, discardLogger(), time.Hour, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.RefreshAll(context.Background())
	}()
	<-ref.started

	// Second sweep while the first refresh is still running: the feed is
	// in flight and must be skipped, not queued.
	s.RefreshAll(context.Background())
	if got := ref.count.Load(); got != 1 {
		t.Errorf("expected in-flight feed to be skipped, got %d refreshes", got)
	}

	close(ref.release)
	<-done

	// After the first refresh finishes the feed is eligible again.
	ref.release = make(chan struct{})
	close(ref.release)
	go func() { <-ref.started }()
	s.RefreshAll(context.Background())
	if got := ref.count.Load(); got != 2 {
		t.Errorf("expected feed to be refreshable after completion, got %d refreshes", got)
	}
}
