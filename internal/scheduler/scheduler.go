// Package scheduler periodically drives the refresh engine over all feeds.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"feedgate/internal/model"
	"feedgate/internal/storage"
)

// Refresher runs one feed refresh. Satisfied by *refresh.Engine.
type Refresher interface {
	Refresh(ctx context.Context, feed *model.Feed) model.RefreshResult
}

// Scheduler enumerates feeds on a fixed interval and refreshes them
// through a bounded worker pool. At most one refresh is in flight per feed
// at any time: a tick that arrives while a feed is still refreshing skips
// that feed, since concurrent upserts over the same fingerprint space
// could double-count entries_created or race on the history row.
type Scheduler struct {
	store    storage.Storage
	engine   Refresher
	log      *slog.Logger
	interval time.Duration
	workers  int

	mu       sync.Mutex
	inflight map[int64]struct{}
}

// New creates a Scheduler refreshing every interval with the given number
// of concurrent workers.
func New(store storage.Storage, engine Refresher, log *slog.Logger, interval time.Duration, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:    store,
		engine:   engine,
		log:      log,
		interval: interval,
		workers:  workers,
		inflight: make(map[int64]struct{}),
	}
}

// Run starts the periodic driver, blocking until ctx is cancelled. The
// first sweep runs immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	sched := gocron.NewScheduler(time.UTC)
	_, err := sched.Every(s.interval).StartImmediately().Do(func() {
		s.RefreshAll(ctx)
	})
	if err != nil {
		return err
	}

	sched.StartAsync()
	<-ctx.Done()
	sched.Stop()
	return nil
}

// RefreshAll runs one sweep over every feed. One feed's failure never
// stops the sweep; the engine converts failures into recorded results.
func (s *Scheduler) RefreshAll(ctx context.Context) {
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		s.log.Error("list feeds", "error", err)
		return
	}

	sem := make(chan struct{}, s.workers)
	var wg sync.WaitGroup
	for i := range feeds {
		if ctx.Err() != nil {
			break
		}
		feed := feeds[i]
		if !s.begin(feed.ID) {
			s.log.Debug("refresh already in flight, skipping", "feed_id", feed.ID)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			defer s.end(feed.ID)
			s.engine.Refresh(ctx, &feed)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) begin(feedID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[feedID]; busy {
		return false
	}
	s.inflight[feedID] = struct{}{}
	return true
}

func (s *Scheduler) end(feedID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, feedID)
}
