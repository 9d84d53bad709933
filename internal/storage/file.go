package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/scan/dedup"
	"scanwatch/internal/scan/registry"
	logx "scanwatch/pkg/logx"
)

// fileStore keeps everything in files sharing the prefix of Config.Path:
//
//	<prefix>.events.jsonl   audit journal, append only
//	<prefix>.searches.json  registry snapshot
//	<prefix>.dedup.json     dedup snapshot
//	<prefix>.marks.*        see markLog
//
// Snapshots are replaced atomically.
type fileStore struct {
	mu       sync.Mutex
	events   *os.File
	searches string
	dedup    string
	marks    *markLog
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create storage dir %s", dir)
	}
	prefix := strings.TrimSuffix(path, filepath.Ext(path))

	events, err := os.OpenFile(prefix+".events.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open events journal")
	}
	marks, err := openMarkLog(prefix, log)
	if err != nil {
		_ = events.Close()
		return nil, err
	}
	return &fileStore{
		events:   events,
		searches: prefix + ".searches.json",
		dedup:    prefix + ".dedup.json",
		marks:    marks,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.events != nil {
		err = s.events.Close()
		s.events = nil
	}
	return errors.CombineErrors(err, s.marks.close())
}

func (s *fileStore) SaveSearches(_ context.Context, items []registry.SavedSearch) error {
	if items == nil {
		items = []registry.SavedSearch{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return replaceJSON(s.searches, items)
}

func (s *fileStore) LoadSearches(context.Context) ([]registry.SavedSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []registry.SavedSearch
	return out, errors.Wrap(readJSON(s.searches, &out), "load searches")
}

func (s *fileStore) SaveDedup(_ context.Context, snap dedup.Snapshot) error {
	if snap == nil {
		snap = dedup.Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return replaceJSON(s.dedup, snap)
}

func (s *fileStore) LoadDedup(context.Context) (dedup.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := dedup.Snapshot{}
	if err := readJSON(s.dedup, &snap); err != nil {
		return nil, errors.Wrap(err, "load dedup")
	}
	return snap, nil
}

func (s *fileStore) AppendEvent(_ context.Context, e EventEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return errors.New("events journal closed")
	}
	return json.NewEncoder(s.events).Encode(e)
}

func (s *fileStore) PutMark(_ context.Context, key string, until time.Time) error {
	return s.marks.put(strings.TrimSpace(key), until)
}

func (s *fileStore) GetMark(_ context.Context, key string) (time.Time, bool, error) {
	until, ok := s.marks.get(strings.TrimSpace(key), time.Now())
	return until, ok, nil
}

// replaceJSON writes v next to path and renames it into place.
func replaceJSON(path string, v any) error {
	tmp := path + ".tmp"
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", path)
	}
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return errors.Wrapf(err, "write %s", tmp)
	}
	return errors.Wrapf(os.Rename(tmp, path), "replace %s", path)
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
