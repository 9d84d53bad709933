// Package dedup keeps a bounded per-search working set of seen fingerprints.
//
// Eviction is deterministic: each search holds at most MaxEntries fingerprints in
// least-recently-seen order, and an entry not sighted for MaxAge is treated as absent.
// A sighting refreshes both. An evicted fingerprint that reappears is reported as new
// again.
package dedup

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/simplelru"

	"scanwatch/internal/scan/capture"
)

const (
	DefaultMaxEntries = 500
	DefaultMaxAge     = 30 * 24 * time.Hour
)

// Config bounds each search's working set.
type Config struct {
	MaxEntries int
	// MaxAge expires entries not seen for this long. Negative disables age expiry;
	// zero takes DefaultMaxAge.
	MaxAge time.Duration
}

func (c Config) normalized() Config {
	if c.MaxEntries <= 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaxAge == 0 {
		c.MaxAge = DefaultMaxAge
	}
	return c
}

// Candidate is a net-new item.
type Candidate struct {
	Fingerprint string
	Payload     capture.CandidateRaw
	FirstSeenAt time.Time
}

// Entry is one remembered fingerprint.
type Entry struct {
	Fingerprint string    `json:"fp"`
	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// Snapshot is the checkpointable state: per search, entries from least to most
// recently seen.
type Snapshot map[string][]Entry

type entry struct {
	first time.Time
	last  time.Time
}

// Deduplicator is safe for concurrent use.
type Deduplicator struct {
	mu   sync.Mutex
	cfg  Config
	sets map[string]*simplelru.LRU
}

func New(cfg Config) *Deduplicator {
	return &Deduplicator{cfg: cfg.normalized(), sets: map[string]*simplelru.LRU{}}
}

func (d *Deduplicator) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// Fingerprint returns the agent-provided fingerprint, or a hash of URL and the sorted
// field set.
func Fingerprint(raw capture.CandidateRaw) string {
	if raw.Fingerprint != "" {
		return raw.Fingerprint
	}
	keys := make([]string, 0, len(raw.Fields))
	for k := range raw.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := xxhash.New()
	_, _ = h.WriteString(raw.URL)
	_, _ = h.WriteString("\x00")
	for _, k := range keys {
		_, _ = h.WriteString(k)
		_, _ = h.WriteString("\x00")
		_, _ = h.WriteString(raw.Fields[k])
		_, _ = h.WriteString("\x00")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

func (d *Deduplicator) set(searchID string) *simplelru.LRU {
	s := d.sets[searchID]
	if s == nil {
		// only errors on size <= 0
		s, _ = simplelru.NewLRU(d.cfg.MaxEntries, nil)
		d.sets[searchID] = s
	}
	return s
}

func (d *Deduplicator) expired(e *entry, now time.Time) bool {
	return d.cfg.MaxAge > 0 && now.Sub(e.last) > d.cfg.MaxAge
}

// prune drops age-expired entries from the least recently seen end.
func (d *Deduplicator) prune(s *simplelru.LRU, now time.Time) {
	for {
		_, v, ok := s.GetOldest()
		if !ok || !d.expired(v.(*entry), now) {
			return
		}
		s.RemoveOldest()
	}
}

// FilterNew returns the candidates whose fingerprint is not in searchID's working set,
// in input order, and records every candidate as seen at now. Duplicates inside one
// batch are reported once.
func (d *Deduplicator) FilterNew(searchID string, cands []capture.CandidateRaw, now time.Time) []Candidate {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.set(searchID)
	d.prune(s, now)

	var out []Candidate
	for _, raw := range cands {
		fp := Fingerprint(raw)
		if v, ok := s.Get(fp); ok {
			e := v.(*entry)
			if !d.expired(e, now) {
				if now.After(e.last) {
					e.last = now
				}
				continue
			}
			s.Remove(fp)
		}
		s.Add(fp, &entry{first: now, last: now})
		out = append(out, Candidate{Fingerprint: fp, Payload: raw, FirstSeenAt: now})
	}
	return out
}

// Len returns the number of remembered fingerprints for searchID.
func (d *Deduplicator) Len(searchID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.sets[searchID]; s != nil {
		return s.Len()
	}
	return 0
}

// Forget drops the working set of searchID.
func (d *Deduplicator) Forget(searchID string) {
	d.mu.Lock()
	delete(d.sets, searchID)
	d.mu.Unlock()
}

// Snapshot copies the working sets.
func (d *Deduplicator) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(Snapshot, len(d.sets))
	for id, s := range d.sets {
		keys := s.Keys() // oldest first
		list := make([]Entry, 0, len(keys))
		for _, k := range keys {
			v, ok := s.Peek(k)
			if !ok {
				continue
			}
			e := v.(*entry)
			list = append(list, Entry{Fingerprint: k.(string), FirstSeenAt: e.first, LastSeenAt: e.last})
		}
		out[id] = list
	}
	return out
}

// Restore replaces the working sets. Entries beyond MaxEntries keep only the most
// recent ones.
func (d *Deduplicator) Restore(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets = make(map[string]*simplelru.LRU, len(snap))
	for id, list := range snap {
		s := d.set(id)
		for _, e := range list {
			if e.Fingerprint == "" {
				continue
			}
			s.Add(e.Fingerprint, &entry{first: e.FirstSeenAt, last: e.LastSeenAt})
		}
	}
}
