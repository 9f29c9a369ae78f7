// Package parser turns fetched feed documents into normalized items.
package parser

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
)

// Item is a single normalized feed item.
type Item struct {
	Title       string
	Link        string
	Author      string
	Content     string
	Published   time.Time
	Fingerprint string

	// Provider-specific fields, nil when unknown.
	Points   *int
	Comments *int
}

// ParseError wraps the first diagnostic from the underlying feed parser.
// Malformed documents are a typed failure, not a panic: the refresh engine
// turns it into a recorded failed-refresh row.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse feed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse decodes an RSS/Atom document into an ordered item slice. feedURL
// selects provider-specific metadata extractors; fetchedAt is the
// published-time fallback for items that omit one.
func Parse(data []byte, feedURL string, fetchedAt time.Time) ([]Item, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	var u *url.URL
	if parsed, err := url.Parse(feedURL); err == nil {
		u = parsed
	}

	items := make([]Item, 0, len(feed.Items))
	for _, raw := range feed.Items {
		it := Item{
			Title:       raw.Title,
			Link:        raw.Link,
			Author:      authorOf(raw),
			Content:     contentOf(raw),
			Published:   publishedOf(raw, fetchedAt),
			Fingerprint: ItemFingerprint(raw),
		}
		if u != nil {
			for _, ex := range extractors {
				if ex.Matches(u) {
					ex.Extract(raw, &it)
				}
			}
		}
		items = append(items, it)
	}
	return items, nil
}

// ItemFingerprint returns the dedup identity for an item: the upstream
// GUID when present, otherwise a SHA-256 hash of title+permalink.
func ItemFingerprint(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func authorOf(item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}

func contentOf(item *gofeed.Item) string {
	if item.Content != "" {
		return item.Content
	}
	return item.Description
}

func publishedOf(item *gofeed.Item, fetchedAt time.Time) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return fetchedAt.UTC()
}
