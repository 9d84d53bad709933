package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshots + JSON Lines journals next to Path
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// EventEntry is one audited lifecycle event.
// Keep it compact and schema-stable.
type EventEntry struct {
	At       time.Time `json:"at"`
	Type     string    `json:"type"`
	JobID    string    `json:"job_id,omitempty"`
	SearchID string    `json:"search_id,omitempty"`
	Payload  string    `json:"payload,omitempty"` // JSON
}
