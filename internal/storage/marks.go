package storage

import (
	"bufio"
	"encoding/json"
	"io"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "scanwatch/pkg/logx"
)

// compactEvery is the number of journal appends between compactions.
const compactEvery = 1000

// markLog holds notifier dedup marks for the file driver: a snapshot plus an append
// only journal that is folded into the snapshot every compactEvery writes and on close.
type markLog struct {
	log      logx.Logger
	snapshot string

	mu      sync.Mutex
	journal *os.File
	until   map[string]int64 // unix milli
	appends int
}

type markRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openMarkLog(prefix string, log logx.Logger) (*markLog, error) {
	m := &markLog{log: log, snapshot: prefix + ".marks.snapshot.json", until: map[string]int64{}}
	if err := readJSON(m.snapshot, &m.until); err != nil {
		log.Warn("marks snapshot unreadable; starting empty", logx.Err(err))
		m.until = map[string]int64{}
	}
	if m.until == nil {
		m.until = map[string]int64{}
	}

	f, err := os.OpenFile(prefix+".marks.journal.jsonl", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "open marks journal")
	}
	if err := m.replay(f); err != nil {
		log.Warn("marks journal partly unreadable", logx.Err(err))
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "seek marks journal")
	}
	m.journal = f
	m.expire(time.Now())
	return m, nil
}

// replay applies every decodable journal line; later lines win.
func (m *markLog) replay(r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var rec markRecord
		if json.Unmarshal(sc.Bytes(), &rec) != nil || rec.Key == "" {
			continue
		}
		m.until[rec.Key] = rec.Until
	}
	return sc.Err()
}

func (m *markLog) expire(now time.Time) {
	ms := now.UnixMilli()
	maps.DeleteFunc(m.until, func(_ string, v int64) bool { return v < ms })
}

func (m *markLog) put(key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.journal == nil {
		return errors.New("marks journal closed")
	}
	rec := markRecord{Key: key, Until: until.UnixMilli()}
	m.until[key] = rec.Until
	if err := json.NewEncoder(m.journal).Encode(rec); err != nil {
		return errors.Wrap(err, "append mark")
	}
	if m.appends++; m.appends%compactEvery == 0 {
		if err := m.compactLocked(); err != nil {
			m.log.Debug("marks compaction failed", logx.Err(err))
		}
	}
	return nil
}

func (m *markLog) get(key string, now time.Time) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.until[key]
	if !ok || ms < now.UnixMilli() {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

func (m *markLog) compactLocked() error {
	m.expire(time.Now())
	if err := replaceJSON(m.snapshot, m.until); err != nil {
		return err
	}
	if err := m.journal.Truncate(0); err != nil {
		return errors.Wrap(err, "truncate marks journal")
	}
	_, err := m.journal.Seek(0, io.SeekStart)
	return err
}

func (m *markLog) close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.journal == nil {
		return nil
	}
	err := m.compactLocked()
	err = errors.CombineErrors(err, m.journal.Close())
	m.journal = nil
	return err
}
