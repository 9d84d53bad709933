// Package httpagent captures listings from static HTML pages with CSS selectors.
package httpagent

import (
	"context"

	"scanwatch/internal/agents"
	"scanwatch/internal/scan/capture"
	"scanwatch/internal/scan/registry"
)

const Kind = "http"

// Agent fetches src.URL and extracts one candidate per selectors["item"] match.
//
// Options:
//   - user_agent: per-search User-Agent
//   - limit: maximum candidates per capture
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
	if src.Selectors[agents.SelItem] == "" {
		return nil, agents.ErrNoItemSelector
	}
	page, err := a.fetch.Get(ctx, src.URL, src.Options["user_agent"])
	if err != nil {
		return nil, err
	}
	return agents.ExtractHTML(page.Body, page.URL, src.Selectors, agents.IntOption(src.Options, "limit", 0))
}
