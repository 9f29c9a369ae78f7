package fetcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/h2non/gock"

	"feedgate/internal/urlcheck"
)

// fakeValidator rejects URLs containing the configured fragment.
type fakeValidator struct {
	reject string
}

func (v *fakeValidator) ValidateURL(_ context.Context, rawURL string) error {
	if v.reject != "" && strings.Contains(rawURL, v.reject) {
		return &urlcheck.ValidationError{URL: rawURL, Reason: urlcheck.ReasonPrivate}
	}
	return nil
}

func newTestFetcher(t *testing.T, check urlcheck.Validator, opts ...Option) *Fetcher {
	t.Helper()
	f := New(check, opts...)
	gock.InterceptClient(f.client)
	t.Cleanup(gock.Off)
	return f
}

func TestFetchSuccess(t *testing.T) {
	gock.New("https://example.com").
		Get("/feed.xml").
		Reply(200).
		SetHeader("Content-Type", "application/rss+xml").
		BodyString("<rss/>")

	f := newTestFetcher(t, &fakeValidator{})
	resp, err := f.Fetch(context.Background(), "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(200, resp.StatusCode); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff("<rss/>", string(resp.Body)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchRejectsUnsafeURLBeforeAnyRequest(t *testing.T) {
	// No mock is registered: a network attempt would fail loudly.
	f := newTestFetcher(t, &fakeValidator{reject: "169.254"})

	_, err := f.Fetch(context.Background(), "http://169.254.169.254/latest/meta-data")
	var verr *urlcheck.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *urlcheck.ValidationError, got %v", err)
	}
	if diff := cmp.Diff(urlcheck.ReasonPrivate, verr.Reason); diff != "" {
		t.Errorf("reason mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchStatusError(t *testing.T) {
	gock.New("https://example.com").
		Get("/missing.xml").
		Reply(404).
		BodyString("not found")

	f := newTestFetcher(t, &fakeValidator{})
	_, err := f.Fetch(context.Background(), "https://example.com/missing.xml")

	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if diff := cmp.Diff(404, serr.Code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchBodySizeCap(t *testing.T) {
	gock.New("https://example.com").
		Get("/huge.xml").
		Reply(200).
		BodyString(strings.Repeat("x", 64))

	f := newTestFetcher(t, &fakeValidator{}, WithMaxBody(32))
	_, err := f.Fetch(context.Background(), "https://example.com/huge.xml")
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestFetchRedirectsDisabledByDefault(t *testing.T) {
	gock.New("https://example.com").
		Get("/old").
		Reply(301).
		SetHeader("Location", "https://example.com/new")

	f := newTestFetcher(t, &fakeValidator{})
	_, err := f.Fetch(context.Background(), "https://example.com/old")

	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StatusError for unfollowed redirect, got %v", err)
	}
	if diff := cmp.Diff(301, serr.Code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchFollowsValidatedRedirects(t *testing.T) {
	gock.New("https://example.com").
		Get("/old").
		Reply(301).
		SetHeader("Location", "https://example.com/new")
	gock.New("https://example.com").
		Get("/new").
		Reply(200).
		BodyString("moved here")

	f := newTestFetcher(t, &fakeValidator{}, WithRedirects(5))
	resp, err := f.Fetch(context.Background(), "https://example.com/old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff("moved here", string(resp.Body)); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchStatusErrorSkipsBody(t *testing.T) {
	// Error bodies larger than the cap must still surface as a status
	// error, not ErrBodyTooLarge.
	gock.New("https://example.com").
		Get("/missing.xml").
		Reply(404).
		BodyString(strings.Repeat("x", 64))

	f := newTestFetcher(t, &fakeValidator{}, WithMaxBody(32))
	_, err := f.Fetch(context.Background(), "https://example.com/missing.xml")

	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StatusError, got %v", err)
	}
	if diff := cmp.Diff(404, serr.Code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
}

func TestFetchRedirectChainBounded(t *testing.T) {
	// A server redirecting to itself forever must hit the hop cap.
	gock.New("https://example.com").
		Get("/loop").
		Persist().
		Reply(301).
		SetHeader("Location", "https://example.com/loop")

	f := newTestFetcher(t, &fakeValidator{}, WithRedirects(2))
	_, err := f.Fetch(context.Background(), "https://example.com/loop")
	if err == nil {
		t.Fatal("expected the redirect loop to be cut off")
	}
	if !strings.Contains(err.Error(), "stopped after 2 redirects") {
		t.Errorf("expected the hop cap error, got %v", err)
	}
}

func TestFetchRevalidatesRedirectTarget(t *testing.T) {
	gock.New("https://example.com").
		Get("/trap").
		Reply(302).
		SetHeader("Location", "http://10.0.0.5/internal")

	f := newTestFetcher(t, &fakeValidator{reject: "10.0.0.5"}, WithRedirects(5))
	_, err := f.Fetch(context.Background(), "https://example.com/trap")

	var verr *urlcheck.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected redirect target rejection, got %v", err)
	}
}
