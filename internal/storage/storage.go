// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"feedgate/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	GetFeedByURL(ctx context.Context, url string) (*model.Feed, error)
	ListFeeds(ctx context.Context) ([]model.Feed, error)
	ListFeedsForBrightness(ctx context.Context, force bool) ([]model.Feed, error)
	SetFaviconAnalysis(ctx context.Context, feedID int64, brightness model.Brightness, colorHex string) error

	CreateSubscription(ctx context.Context, sub *model.Subscription) error

	CreateFilterRule(ctx context.Context, rule *model.FilterRule) error
	ListFilterRules(ctx context.Context, feedID int64) ([]model.FilterRule, error)
	DeleteFilterRule(ctx context.Context, id int64) error

	ListEntries(ctx context.Context, feedID int64) ([]model.Entry, error)

	// ApplyRefresh commits the entry upserts and the refresh-history row of
	// one successful refresh as a single transaction, and returns how many
	// entries were newly inserted (updates of existing fingerprints do not
	// count). rec.EntriesCreated is ignored; the stored row carries the
	// actual insert count.
	ApplyRefresh(ctx context.Context, feedID int64, entries []model.Entry, rec model.FeedRefresh) (int, error)

	// RecordRefresh appends a history row without touching entries. Used
	// for the failure branches of the refresh pipeline.
	RecordRefresh(ctx context.Context, rec model.FeedRefresh) error

	ListRefreshes(ctx context.Context, feedID int64) ([]model.FeedRefresh, error)

	Close() error
}
