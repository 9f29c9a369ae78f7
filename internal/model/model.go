// Package model defines the domain types used across the application.
package model

import "time"

// Brightness is the tri-state favicon classification.
type Brightness int

// Brightness values. Unknown means the favicon has not been analyzed yet.
const (
	BrightnessUnknown Brightness = iota
	BrightnessLight
	BrightnessDark
)

// Feed represents a syndication feed shared by one or more subscriptions.
type Feed struct {
	ID            int64
	URL           string
	Name          string
	SiteURL       string
	FaviconURL    string
	FaviconDark   Brightness
	FaviconColor  string
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	CreatedAt     time.Time
}

// Entry is a single normalized feed item, keyed by (FeedID, Fingerprint).
type Entry struct {
	ID          int64
	FeedID      int64
	Fingerprint string
	Title       string
	URL         string
	Author      string
	Content     string
	PublishedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FeedRefresh is one row of the append-only refresh audit log.
type FeedRefresh struct {
	ID             int64
	FeedID         int64
	RefreshedAt    time.Time
	WasSuccessful  bool
	EntriesCreated int
	ErrorMessage   string
}

// RuleField defines which part of an entry a filter rule matches against.
type RuleField string

// Supported rule fields.
const (
	FieldTitle   RuleField = "title"
	FieldContent RuleField = "content"
	FieldAuthor  RuleField = "author"
)

// RuleMode defines whether a matching rule keeps or drops an entry.
type RuleMode string

// Supported rule modes.
const (
	ModeInclude RuleMode = "include"
	ModeExclude RuleMode = "exclude"
)

// FilterRule is a single user-supplied filtering rule attached to a feed.
// Patterns are validated before storage and re-validated at evaluation time.
type FilterRule struct {
	ID        int64
	FeedID    int64
	Field     RuleField
	Pattern   string
	Mode      RuleMode
	Position  int
	CreatedAt time.Time
}

// Subscription ties a feed to an owner and category. Feeds are shared:
// a second subscription to the same canonical URL reuses the feed row.
type Subscription struct {
	ID         int64
	FeedID     int64
	Owner      string
	CategoryID int64
	CreatedAt  time.Time
}

// RefreshResult is the outcome of one refresh invocation, mirrored into
// the feed_refreshes history table.
type RefreshResult struct {
	WasSuccessful  bool
	EntriesCreated int
	ErrorMessage   string
}
