// Package registry owns the set of saved searches and answers which of them are due.
package registry

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("search not found")
	ErrDuplicate = errors.New("search already exists")
	ErrInvalid   = errors.New("invalid search")
)

// SourceDescriptor tells a capture agent what to scan.
type SourceDescriptor struct {
	// Kind selects the agent: "http", "feed", "browser".
	Kind      string            `json:"kind"`
	URL       string            `json:"url"`
	Selectors map[string]string `json:"selectors,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

func (d SourceDescriptor) clone() SourceDescriptor {
	d.Selectors = maps.Clone(d.Selectors)
	d.Options = maps.Clone(d.Options)
	return d
}

// SavedSearch is a recurring scan target.
type SavedSearch struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Source      SourceDescriptor `json:"source"`
	Enabled     bool             `json:"enabled"`
	Cadence     Cadence          `json:"cadence"`
	LastRunAt   *time.Time       `json:"last_run_at,omitempty"`
	NextRunAt   time.Time        `json:"next_run_at"`
	PausedUntil *time.Time       `json:"paused_until,omitempty"`

	gen uint64
}

// Generation identifies one registration of the search. Removing a search and adding
// it again under the same ID yields a different generation.
func (s SavedSearch) Generation() uint64 { return s.gen }

func (s SavedSearch) clone() SavedSearch {
	s.Source = s.Source.clone()
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		s.LastRunAt = &t
	}
	if s.PausedUntil != nil {
		t := *s.PausedUntil
		s.PausedUntil = &t
	}
	return s
}

// Paused reports whether scheduling is suspended at now.
func (s SavedSearch) Paused(now time.Time) bool {
	return s.PausedUntil != nil && now.Before(*s.PausedUntil)
}

// Due reports whether the search should be scheduled at now.
func (s SavedSearch) Due(now time.Time) bool {
	return s.Enabled && !s.Paused(now) && !s.NextRunAt.After(now)
}

// Registry is the sole owner of SavedSearch state. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	searches map[string]*SavedSearch
	gen      uint64
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock injects the time source used when defaulting NextRunAt.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

func New(opts ...Option) *Registry {
	r := &Registry{searches: map[string]*SavedSearch{}, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func validate(s SavedSearch) error {
	if s.Cadence.IsZero() {
		return errors.Wrap(ErrInvalid, "cadence required")
	}
	if strings.TrimSpace(s.Source.Kind) == "" {
		return errors.Wrap(ErrInvalid, "source kind required")
	}
	return nil
}

// Add registers a search and returns its id. An empty ID is assigned; a zero NextRunAt
// makes the search due immediately.
func (r *Registry) Add(s SavedSearch) (string, error) {
	if err := validate(s); err != nil {
		return "", err
	}
	s = s.clone()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.NextRunAt.IsZero() {
		s.NextRunAt = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.searches[s.ID]; ok {
		return "", errors.Wrapf(ErrDuplicate, "id %q", s.ID)
	}
	r.gen++
	s.gen = r.gen
	r.searches[s.ID] = &s
	return s.ID, nil
}

// Upsert adds s or replaces the definition of an existing search with the same ID.
// Run bookkeeping (LastRunAt, NextRunAt, PausedUntil) of an existing search is kept.
// It reports whether the search was newly added.
func (r *Registry) Upsert(s SavedSearch) (bool, error) {
	if s.ID == "" {
		return false, errors.Wrap(ErrInvalid, "id required")
	}
	if err := validate(s); err != nil {
		return false, err
	}
	r.mu.Lock()
	cur, ok := r.searches[s.ID]
	if ok {
		cur.Name = s.Name
		cur.Source = s.Source.clone()
		cur.Enabled = s.Enabled
		cur.Cadence = s.Cadence
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()
	_, err := r.Add(s)
	return err == nil, err
}

func (r *Registry) mutate(id string, fn func(s *SavedSearch)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.searches[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "id %q", id)
	}
	fn(s)
	return nil
}

// Enable re-enables a search and clears any pause.
func (r *Registry) Enable(id string) error {
	return r.mutate(id, func(s *SavedSearch) {
		s.Enabled = true
		s.PausedUntil = nil
	})
}

// Disable stops future scheduling. An in-flight job is not affected.
func (r *Registry) Disable(id string) error {
	return r.mutate(id, func(s *SavedSearch) { s.Enabled = false })
}

// Pause suspends scheduling until the given time. A zero until clears the pause.
func (r *Registry) Pause(id string, until time.Time) error {
	return r.mutate(id, func(s *SavedSearch) {
		if until.IsZero() {
			s.PausedUntil = nil
			return
		}
		u := until
		s.PausedUntil = &u
	})
}

// Remove deletes a search. An in-flight job is not affected.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.searches[id]; !ok {
		return errors.Wrapf(ErrNotFound, "id %q", id)
	}
	delete(r.searches, id)
	return nil
}

// MarkRun records a finished cycle and schedules the next one from its cadence.
func (r *Registry) MarkRun(id string, finishedAt time.Time) error {
	return r.mutate(id, func(s *SavedSearch) {
		t := finishedAt
		s.LastRunAt = &t
		s.NextRunAt = s.Cadence.Next(finishedAt)
	})
}

func (r *Registry) Get(id string) (SavedSearch, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.searches[id]
	if !ok {
		return SavedSearch{}, false
	}
	return s.clone(), true
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	_, ok := r.searches[id]
	r.mu.RUnlock()
	return ok
}

// List returns all searches ordered by ID.
func (r *Registry) List() []SavedSearch {
	r.mu.RLock()
	out := make([]SavedSearch, 0, len(r.searches))
	for _, s := range r.searches {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DueSearches returns enabled, unpaused searches whose NextRunAt <= now,
// ordered by NextRunAt then ID.
func (r *Registry) DueSearches(now time.Time) []SavedSearch {
	r.mu.RLock()
	var out []SavedSearch
	for _, s := range r.searches {
		if s.Due(now) {
			out = append(out, s.clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(out[j].NextRunAt) {
			return out[i].NextRunAt.Before(out[j].NextRunAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.searches)
}

// Snapshot returns a copy of every search, for checkpointing.
func (r *Registry) Snapshot() []SavedSearch { return r.List() }

// Restore replaces the registry content. Invalid entries are skipped and reported.
func (r *Registry) Restore(items []SavedSearch) error {
	next := make(map[string]*SavedSearch, len(items))
	var errs []error
	for _, it := range items {
		if it.ID == "" {
			errs = append(errs, errors.Wrap(ErrInvalid, "restore: empty id"))
			continue
		}
		if err := validate(it); err != nil {
			errs = append(errs, errors.Wrapf(err, "restore %q", it.ID))
			continue
		}
		c := it.clone()
		next[c.ID] = &c
	}
	r.mu.Lock()
	ids := slices.Sorted(maps.Keys(next))
	for _, id := range ids {
		r.gen++
		next[id].gen = r.gen
	}
	r.searches = next
	r.mu.Unlock()
	return errors.Join(errs...)
}
