package feeds

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"feedgate/internal/fetcher"
	"feedgate/internal/model"
	"feedgate/internal/storage"
	"feedgate/internal/urlcheck"
)

type allowAllValidator struct{}

func (allowAllValidator) ValidateURL(context.Context, string) error { return nil }

type fakeFetch struct {
	body []byte
	err  error
}

func (f *fakeFetch) Fetch(_ context.Context, _ string) (*fetcher.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fetcher.Response{StatusCode: 200, Body: f.body}, nil
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

func newTestService(t *testing.T, store *storage.SQLite, check urlcheck.Validator, fetch FetchClient) *Service {
	t.Helper()
	if fetch == nil {
		fetch = &fakeFetch{}
	}
	return New(store, check, fetch, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateRejectsUnsafeURL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	// Real validator: the metadata-service IP is a literal, no DNS involved.
	svc := newTestService(t, store, urlcheck.New(), nil)

	_, err := svc.Create(ctx, CreateParams{URL: "http://169.254.169.254/x", Owner: "alice"})

	var verr *urlcheck.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *urlcheck.ValidationError, got %v", err)
	}
	if diff := cmp.Diff(urlcheck.ReasonPrivate, verr.Reason); diff != "" {
		t.Errorf("reason mismatch (-want +got):\n%s", diff)
	}

	feeds, _ := store.ListFeeds(ctx)
	if len(feeds) != 0 {
		t.Errorf("rejected URL must not create a feed, got %d", len(feeds))
	}
}

func TestCreateReusesCanonicalURL(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := newTestService(t, store, allowAllValidator{}, nil)

	first, err := svc.Create(ctx, CreateParams{URL: "https://example.com/feed.xml", Owner: "alice", Name: "Example"})
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := svc.Create(ctx, CreateParams{URL: "https://example.com/feed.xml", Owner: "bob"})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	if diff := cmp.Diff(first.ID, second.ID); diff != "" {
		t.Errorf("expected shared feed row (-want +got):\n%s", diff)
	}
	feeds, _ := store.ListFeeds(ctx)
	if len(feeds) != 1 {
		t.Errorf("expected one feed row, got %d", len(feeds))
	}
}

func TestCreateDerivesSiteAndFavicon(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := newTestService(t, store, allowAllValidator{}, nil)

	feed, err := svc.Create(ctx, CreateParams{URL: "https://example.com/blog/feed.xml", Owner: "alice"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if diff := cmp.Diff("https://example.com/", feed.SiteURL); diff != "" {
		t.Errorf("site mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("https://example.com/favicon.ico", feed.FaviconURL); diff != "" {
		t.Errorf("favicon mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("example.com", feed.Name); diff != "" {
		t.Errorf("default name mismatch (-want +got):\n%s", diff)
	}
}

func TestAddRuleValidation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := newTestService(t, store, allowAllValidator{}, nil)

	feed, err := svc.Create(ctx, CreateParams{URL: "https://example.com/feed.xml", Owner: "alice"})
	if err != nil {
		t.Fatalf("create feed: %v", err)
	}

	tests := []struct {
		name    string
		field   model.RuleField
		pattern string
		mode    model.RuleMode
		wantErr string
	}{
		{name: "valid substring", field: model.FieldTitle, pattern: "sponsored", mode: model.ModeExclude},
		{name: "valid regex", field: model.FieldContent, pattern: `rc\d+`, mode: model.ModeInclude},
		{name: "valid possessive literal", field: model.FieldTitle, pattern: "C++", mode: model.ModeInclude},
		{name: "nested quantifier", field: model.FieldTitle, pattern: "(a+)+", mode: model.ModeExclude, wantErr: "nested quantifiers"},
		{name: "empty pattern", field: model.FieldTitle, pattern: "  ", mode: model.ModeExclude, wantErr: "empty"},
		{name: "bad field", field: "summary", pattern: "x", mode: model.ModeExclude, wantErr: "unknown rule field"},
		{name: "bad mode", field: model.FieldTitle, pattern: "x", mode: "drop", wantErr: "unknown rule mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := svc.AddRule(ctx, feed.ID, tt.field, tt.pattern, tt.mode)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatal("expected rejection, got nil")
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("expected reason containing %q, got %q", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rule.ID == 0 {
				t.Error("expected stored rule")
			}
		})
	}
}

func TestImportMixedEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := newTestService(t, store, urlcheck.New(), nil)

	data := []byte(`
- name: Example
  url: https://93.184.216.34/feed.xml
- name: Metadata Service
  url: http://169.254.169.254/x
- name: Missing
  url: ""
`)
	res, err := svc.Import(ctx, data, "alice", 7)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if diff := cmp.Diff(1, res.Created); diff != "" {
		t.Errorf("created mismatch (-want +got):\n%s", diff)
	}
	if len(res.Errors) != 2 {
		t.Fatalf("expected 2 reported errors, got %v", res.Errors)
	}
}

func TestImportMalformedYAML(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, allowAllValidator{}, nil)

	_, err := svc.Import(context.Background(), []byte("{not yaml"), "alice", 0)
	if err == nil {
		t.Fatal("expected error for malformed import file")
	}
}

func TestDiscover(t *testing.T) {
	page := `<!DOCTYPE html>
<html><head>
  <link rel="stylesheet" href="/style.css">
  <link rel="alternate" type="application/rss+xml" title="RSS" href="/blog/feed.xml">
</head><body>hello</body></html>`

	store := newTestStore(t)
	svc := newTestService(t, store, allowAllValidator{}, &fakeFetch{body: []byte(page)})

	got, err := svc.Discover(context.Background(), "https://example.com/blog/")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if diff := cmp.Diff("https://example.com/blog/feed.xml", got); diff != "" {
		t.Errorf("discovered URL mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoverNoFeedAdvertised(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(t, store, allowAllValidator{}, &fakeFetch{body: []byte("<html><head></head></html>")})

	_, err := svc.Discover(context.Background(), "https://example.com/")
	if err == nil {
		t.Fatal("expected error when no feed is advertised")
	}
}
