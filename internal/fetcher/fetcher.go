// Package fetcher performs outbound HTTP requests gated by the SSRF
// validator. Every fetch is pre-validated, every redirect target is
// re-validated before being followed, and responses are bounded in both
// time and size.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedgate/internal/urlcheck"
)

// DefaultUserAgent identifies this service to feed hosts.
const DefaultUserAgent = "feedgate/1.0 (+https://github.com/feedgate)"

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxBody   = 5 * 1024 * 1024
	defaultRedirects = 0
)

// ErrBodyTooLarge is returned when a response exceeds the configured cap.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Response is the outcome of a successful fetch.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher downloads documents from untrusted third-party hosts. It never
// attaches cookies or credentials to outbound requests.
type Fetcher struct {
	client    *http.Client
	check     urlcheck.Validator
	maxBody   int64
	userAgent string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRedirects permits following up to max redirect hops. Each hop's
// target is independently re-validated before it is followed: DNS answers
// can change between validation and connect, and a redirect can point at a
// newly-unsafe target. The default is to not follow redirects at all.
func WithRedirects(max int) Option {
	return func(f *Fetcher) {
		f.client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) > max {
				return fmt.Errorf("stopped after %d redirects", max)
			}
			return f.check.ValidateURL(req.Context(), req.URL.String())
		}
	}
}

// WithTimeout overrides the default 30-second overall request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithMaxBody overrides the default 5 MiB response size cap.
func WithMaxBody(n int64) Option {
	return func(f *Fetcher) { f.maxBody = n }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// New creates a Fetcher gated by the given validator.
func New(check urlcheck.Validator, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		check:     check,
		maxBody:   defaultMaxBody,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads url. The URL is validated before any socket is opened;
// an unsafe URL is rejected with a *urlcheck.ValidationError. Non-2xx
// responses become a *StatusError before any of the body is read;
// oversized bodies ErrBodyTooLarge.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	if err := f.check.ValidateURL(ctx, url); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBody {
		return nil, ErrBodyTooLarge
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
