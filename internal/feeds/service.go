// Package feeds is the write side of the subscription model: creating
// feeds, importing them in bulk, attaching filter rules, and discovering
// feed URLs from HTML pages. Every URL goes through the SSRF validator and
// every pattern through the ReDoS validator before anything is stored.
package feeds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"gopkg.in/yaml.v3"

	"feedgate/internal/fetcher"
	"feedgate/internal/filter"
	"feedgate/internal/model"
	"feedgate/internal/storage"
	"feedgate/internal/urlcheck"
)

// FetchClient is the subset of the fetcher used for feed discovery.
type FetchClient interface {
	Fetch(ctx context.Context, url string) (*fetcher.Response, error)
}

// Service handles validated feed and rule writes.
type Service struct {
	store storage.Storage
	check urlcheck.Validator
	fetch FetchClient
	log   *slog.Logger
}

// New creates a Service.
func New(store storage.Storage, check urlcheck.Validator, fetch FetchClient, log *slog.Logger) *Service {
	return &Service{store: store, check: check, fetch: fetch, log: log}
}

// CreateParams describes one subscription request.
type CreateParams struct {
	URL        string
	Name       string
	Owner      string
	CategoryID int64
	IsImport   bool
}

// Create validates the URL, reuses an existing feed row for the same
// canonical URL if one exists, and records the subscription. Feeds are
// shared across subscribers; only the first subscription creates the row.
func (s *Service) Create(ctx context.Context, p CreateParams) (*model.Feed, error) {
	raw := strings.TrimSpace(p.URL)
	if err := s.check.ValidateURL(ctx, raw); err != nil {
		return nil, err
	}

	feed, err := s.store.GetFeedByURL(ctx, raw)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		feed = &model.Feed{
			URL:        raw,
			Name:       p.Name,
			SiteURL:    siteOf(raw),
			FaviconURL: faviconOf(raw),
		}
		if feed.Name == "" {
			feed.Name = hostOf(raw)
		}
		if err := s.store.CreateFeed(ctx, feed); err != nil {
			return nil, err
		}
		s.log.Info("feed created", "feed_id", feed.ID, "url", raw, "import", p.IsImport)
	case err != nil:
		return nil, err
	}

	if err := s.store.CreateSubscription(ctx, &model.Subscription{
		FeedID:     feed.ID,
		Owner:      p.Owner,
		CategoryID: p.CategoryID,
	}); err != nil {
		return nil, err
	}
	return feed, nil
}

// AddRule validates and stores a filter rule. Patterns that fail
// validation are rejected synchronously with the reason; nothing reaches
// the database.
func (s *Service) AddRule(ctx context.Context, feedID int64, field model.RuleField, pattern string, mode model.RuleMode) (*model.FilterRule, error) {
	switch field {
	case model.FieldTitle, model.FieldContent, model.FieldAuthor:
	default:
		return nil, fmt.Errorf("unknown rule field %q", field)
	}
	switch mode {
	case model.ModeInclude, model.ModeExclude:
	default:
		return nil, fmt.Errorf("unknown rule mode %q", mode)
	}
	if err := filter.ValidatePattern(pattern); err != nil {
		return nil, fmt.Errorf("invalid filter pattern: %w", err)
	}

	rule := &model.FilterRule{FeedID: feedID, Field: field, Pattern: pattern, Mode: mode}
	if err := s.store.CreateFilterRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

type importEntry struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// ImportResult reports the outcome of a bulk import.
type ImportResult struct {
	Created int
	Errors  []string
}

// Import bulk-creates feeds from a YAML list of {name, url} pairs, the
// shape produced by OPML extraction upstream. Individual invalid entries
// are reported, not fatal.
func (s *Service) Import(ctx context.Context, data []byte, owner string, categoryID int64) (ImportResult, error) {
	var entries []importEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return ImportResult{}, fmt.Errorf("parse import list: %w", err)
	}

	var res ImportResult
	for _, e := range entries {
		if strings.TrimSpace(e.URL) == "" {
			res.Errors = append(res.Errors, "entry with empty url skipped")
			continue
		}
		if _, err := s.Create(ctx, CreateParams{
			URL: e.URL, Name: e.Name, Owner: owner, CategoryID: categoryID, IsImport: true,
		}); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", e.URL, err))
			continue
		}
		res.Created++
	}
	return res, nil
}

// Discover fetches an HTML page and returns the feed URL it advertises
// via <link rel="alternate">, resolved against the page URL.
func (s *Service) Discover(ctx context.Context, siteURL string) (string, error) {
	resp, err := s.fetch.Fetch(ctx, siteURL)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}

	base, err := url.Parse(siteURL)
	if err != nil {
		return "", fmt.Errorf("parse site url: %w", err)
	}

	var found string
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		typ, _ := sel.Attr("type")
		switch typ {
		case "application/rss+xml", "application/atom+xml":
		default:
			return true
		}
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		found = base.ResolveReference(ref).String()
		return false
	})

	if found == "" {
		return "", fmt.Errorf("no feed advertised at %s", siteURL)
	}
	return found, nil
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Host
	}
	return raw
}

func siteOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

func faviconOf(raw string) string {
	site := siteOf(raw)
	if site == "" {
		return ""
	}
	return site + "favicon.ico"
}
