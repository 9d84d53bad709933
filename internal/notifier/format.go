package notifier

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"scanwatch/internal/eventbus"
)

const (
	maxListed   = 10
	maxTextRune = 3500
)

// MessageFromEvent builds the announcement for a candidates_found event.
func MessageFromEvent(e eventbus.Event) (Message, bool) {
	p, ok := e.Payload.(eventbus.CandidatesPayload)
	if !ok || len(p.Candidates) == 0 {
		return Message{}, false
	}
	name := p.SearchName
	if name == "" {
		name = e.SearchID
	}
	return Message{
		Key:        candidatesKey(e.SearchID, p.Candidates),
		SearchID:   e.SearchID,
		SearchName: name,
		Text:       formatCandidates(name, p.Candidates),
		Candidates: p.Candidates,
		At:         e.Time,
	}, true
}

func candidatesKey(searchID string, cands []eventbus.Candidate) string {
	fps := make([]string, 0, len(cands))
	for _, c := range cands {
		fps = append(fps, c.Fingerprint)
	}
	sort.Strings(fps)
	h := xxhash.New()
	_, _ = h.WriteString(searchID)
	for _, fp := range fps {
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(fp)
	}
	return "notify:" + searchID + ":" + strconv.FormatUint(h.Sum64(), 16)
}

func alertKey(text string) string {
	return "alert:" + strconv.FormatUint(xxhash.Sum64String(text), 16)
}

func formatCandidates(name string, cands []eventbus.Candidate) string {
	var b strings.Builder
	noun := "candidates"
	if len(cands) == 1 {
		noun = "candidate"
	}
	fmt.Fprintf(&b, "[%s] %d new %s\n", name, len(cands), noun)
	for i, c := range cands {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(cands)-maxListed)
			break
		}
		b.WriteString("- ")
		b.WriteString(candidateLine(c))
		b.WriteByte('\n')
		if c.URL != "" {
			b.WriteString("  ")
			b.WriteString(c.URL)
			b.WriteByte('\n')
		}
	}
	return truncateRunes(strings.TrimRight(b.String(), "\n"), maxTextRune)
}

func candidateLine(c eventbus.Candidate) string {
	title := strings.TrimSpace(c.Fields["title"])
	price := strings.TrimSpace(c.Fields["price"])
	switch {
	case title != "" && price != "":
		return title + " (" + price + ")"
	case title != "":
		return title
	}

	keys := make([]string, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+c.Fields[k])
	}
	if len(parts) == 0 {
		return c.Fingerprint
	}
	return strings.Join(parts, ", ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
