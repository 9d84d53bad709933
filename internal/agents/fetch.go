// Package agents holds the shared plumbing of the capture agents: HTTP fetching with
// error classification and selector-based extraction.
package agents

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/scan/errkind"
)

const (
	DefaultUserAgent = "scanwatch/1.0 (+https://github.com/scanwatch)"
	maxBodyBytes     = 8 << 20
)

// Fetcher performs GET requests and classifies failures into capture error kinds.
type Fetcher struct {
	Client    *http.Client
	UserAgent string
	// Now is used to resolve HTTP-date Retry-After values; nil means time.Now.
	Now func() time.Time
}

// Page is a fetched document.
type Page struct {
	URL         *url.URL
	ContentType string
	Body        []byte
}

func NewFetcher(userAgent string) *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: 60 * time.Second}, UserAgent: userAgent}
}

// Get fetches raw. userAgent overrides the fetcher default when not empty.
//
// 404/410 and unsupported URLs are SourceUnavailable. 429 carries the server's
// Retry-After as a hint. Everything else is retryable.
func (f *Fetcher) Get(ctx context.Context, raw, userAgent string) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errkind.Newf(errkind.SourceUnavailable, "unsupported source url %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errkind.Mark(errors.Wrap(err, "build request"), errkind.SourceUnavailable)
	}
	ua := strings.TrimSpace(userAgent)
	if ua == "" {
		ua = f.UserAgent
	}
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml,application/rss+xml,application/atom+xml;q=0.9,*/*;q=0.8")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", u.Host)
	}
	defer resp.Body.Close()

	if err := f.classify(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", u.Host)
	}
	return &Page{URL: resp.Request.URL, ContentType: resp.Header.Get("Content-Type"), Body: body}, nil
}

func (f *Fetcher) classify(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound, code == http.StatusGone:
		return errkind.Newf(errkind.SourceUnavailable, "source returned %d", code)
	case code == http.StatusTooManyRequests, code == http.StatusServiceUnavailable:
		err := errors.Newf("source returned %d", code)
		now := time.Now
		if f.Now != nil {
			now = f.Now
		}
		if d, ok := errkind.ParseRetryAfter(resp.Header.Get("Retry-After"), now()); ok {
			return errkind.RetryAfter(err, d)
		}
		return err
	default:
		return errors.Newf("source returned %d", code)
	}
}

// IntOption reads a positive integer option; def is returned when absent or invalid.
func IntOption(opts map[string]string, key string, def int) int {
	if v, ok := opts[key]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return def
}
