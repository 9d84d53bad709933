// Package feedagent captures items from RSS, Atom and JSON feeds.
package feedagent

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mmcdole/gofeed"

	"scanwatch/internal/agents"
	"scanwatch/internal/scan/capture"
	"scanwatch/internal/scan/errkind"
	"scanwatch/internal/scan/registry"
)

const Kind = "feed"

// Agent turns feed items into candidates. The item GUID, when present, is the
// fingerprint.
//
// Options:
//   - match: space separated keywords; an item is kept if its title contains any
//   - limit: maximum candidates per capture
//   - user_agent: per-search User-Agent
type Agent struct {
	fetch *agents.Fetcher
}

func New(f *agents.Fetcher) *Agent {
	if f == nil {
		f = agents.NewFetcher("")
	}
	return &Agent{fetch: f}
}

func (a *Agent) Capture(ctx context.Context, src registry.SourceDescriptor) ([]capture.CandidateRaw, error) {
	page, err := a.fetch.Get(ctx, src.URL, src.Options["user_agent"])
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, errkind.Mark(errors.Wrap(err, "parse feed"), errkind.SourceUnavailable)
		}
		return nil, errors.Wrap(err, "parse feed")
	}

	keywords := strings.Fields(strings.ToLower(src.Options["match"]))
	limit := agents.IntOption(src.Options, "limit", 0)

	out := make([]capture.CandidateRaw, 0, len(feed.Items))
	for _, it := range feed.Items {
		if limit > 0 && len(out) >= limit {
			break
		}
		title := strings.TrimSpace(it.Title)
		if len(keywords) > 0 && !matchesAny(strings.ToLower(title), keywords) {
			continue
		}

		fields := map[string]string{}
		if title != "" {
			fields["title"] = title
		}
		if feed.Title != "" {
			fields["source"] = strings.TrimSpace(feed.Title)
		}
		if pub := published(it); !pub.IsZero() {
			fields["published"] = pub.UTC().Format(time.RFC3339)
		}
		if len(it.Categories) > 0 {
			fields["categories"] = strings.Join(it.Categories, ", ")
		}

		out = append(out, capture.CandidateRaw{
			Fingerprint: strings.TrimSpace(it.GUID),
			URL:         strings.TrimSpace(it.Link),
			Fields:      fields,
		})
	}
	return out, nil
}

func published(it *gofeed.Item) time.Time {
	switch {
	case it.PublishedParsed != nil:
		return *it.PublishedParsed
	case it.UpdatedParsed != nil:
		return *it.UpdatedParsed
	}
	return time.Time{}
}

func matchesAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
