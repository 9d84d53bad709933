package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"scanwatch/internal/scan/dedup"
	"scanwatch/internal/scan/registry"
	logx "scanwatch/pkg/logx"
)

//go:embed migrations.sql
var schema string

// expired marks are swept after this many writes
const pruneEvery = 500

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	writes atomic.Uint64
}

// sqliteDSN sets pragmas per connection through the modernc _pragma parameter.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if busy > 0 {
		q.Add("_pragma", "busy_timeout("+strconv.FormatInt(busy.Milliseconds(), 10)+")")
	}
	return "file:" + path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create sqlite dir")
	}
	db, err := sql.Open("sqlite", sqliteDSN(path, cfg.BusyTimeout))
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ready() error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	return nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// SaveSearches replaces the stored registry with items.
func (s *sqliteStore) SaveSearches(ctx context.Context, items []registry.SavedSearch) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM searches`); err != nil {
			return errors.Wrap(err, "clear searches")
		}
		for _, it := range items {
			body, err := json.Marshal(it)
			if err != nil {
				return errors.Wrapf(err, "encode search %s", it.ID)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO searches(id, body) VALUES(?, ?)`, it.ID, body); err != nil {
				return errors.Wrapf(err, "insert search %s", it.ID)
			}
		}
		return nil
	})
}

// LoadSearches skips rows that no longer decode.
func (s *sqliteStore) LoadSearches(ctx context.Context) ([]registry.SavedSearch, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, body FROM searches ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query searches")
	}
	defer rows.Close()

	var out []registry.SavedSearch
	for rows.Next() {
		var (
			id   string
			body []byte
			it   registry.SavedSearch
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(body, &it); err != nil {
			s.log.Warn("skipping unreadable search row", logx.String("id", id), logx.Err(err))
			continue
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// SaveDedup replaces every working set. pos keeps each set's order.
func (s *sqliteStore) SaveDedup(ctx context.Context, snap dedup.Snapshot) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM dedup_entries`); err != nil {
			return errors.Wrap(err, "clear dedup")
		}
		ins, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO dedup_entries
			(search_id, pos, fingerprint, first_seen_at, last_seen_at) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return errors.Wrap(err, "prepare dedup insert")
		}
		defer ins.Close()
		for searchID, list := range snap {
			for pos, e := range list {
				_, err := ins.ExecContext(ctx, searchID, pos, e.Fingerprint, e.FirstSeenAt.UnixMilli(), e.LastSeenAt.UnixMilli())
				if err != nil {
					return errors.Wrapf(err, "insert dedup %s", searchID)
				}
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadDedup(ctx context.Context) (dedup.Snapshot, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT search_id, fingerprint, first_seen_at, last_seen_at
		FROM dedup_entries ORDER BY search_id, pos`)
	if err != nil {
		return nil, errors.Wrap(err, "query dedup")
	}
	defer rows.Close()

	snap := dedup.Snapshot{}
	for rows.Next() {
		var (
			searchID    string
			e           dedup.Entry
			first, last int64
		)
		if err := rows.Scan(&searchID, &e.Fingerprint, &first, &last); err != nil {
			return nil, err
		}
		e.FirstSeenAt = time.UnixMilli(first).UTC()
		e.LastSeenAt = time.UnixMilli(last).UTC()
		snap[searchID] = append(snap[searchID], e)
	}
	return snap, rows.Err()
}

func (s *sqliteStore) AppendEvent(ctx context.Context, e EventEntry) error {
	if err := s.ready(); err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO events(at, type, job_id, search_id, payload) VALUES (?, ?, ?, ?, ?)`,
		at.UTC().Format(time.RFC3339Nano), e.Type, optional(e.JobID), optional(e.SearchID), optional(e.Payload))
	return errors.Wrap(err, "insert event")
}

func (s *sqliteStore) PutMark(ctx context.Context, key string, until time.Time) error {
	if err := s.ready(); err != nil || key == "" {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO marks(key, until) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET until = excluded.until`, key, until.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "put mark")
	}
	if s.writes.Add(1)%pruneEvery == 0 {
		s.prune()
	}
	return nil
}

// GetMark ignores marks that already expired.
func (s *sqliteStore) GetMark(ctx context.Context, key string) (time.Time, bool, error) {
	if err := s.ready(); err != nil || key == "" {
		return time.Time{}, false, err
	}
	var ms int64
	switch err := s.db.QueryRowContext(ctx, `SELECT until FROM marks WHERE key = ?`, key).Scan(&ms); {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, errors.Wrap(err, "get mark")
	}
	until := time.UnixMilli(ms)
	if until.Before(time.Now()) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *sqliteStore) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM marks WHERE until < ?`, time.Now().UnixMilli()); err != nil {
		s.log.Debug("mark prune failed", logx.Err(err))
	}
}

// optional stores blank strings as NULL.
func optional(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
