package storage

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/scan/dedup"
	"scanwatch/internal/scan/registry"
	logx "scanwatch/pkg/logx"
)

// Store is the persistence API used by the engine.
type Store interface {
	SaveSearches(ctx context.Context, items []registry.SavedSearch) error
	LoadSearches(ctx context.Context) ([]registry.SavedSearch, error)
	SaveDedup(ctx context.Context, snap dedup.Snapshot) error
	LoadDedup(ctx context.Context) (dedup.Snapshot, error)
	AppendEvent(ctx context.Context, e EventEntry) error

	// PutMark/GetMark keep short-lived keys (e.g. notifier sends) until a deadline.
	PutMark(ctx context.Context, key string, until time.Time) error
	GetMark(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.Newf("unknown storage driver: %s", driver)
	}
}
