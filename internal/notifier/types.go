package notifier

import (
	"context"
	"time"

	"scanwatch/internal/eventbus"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
	// DedupMaxEntries caps the in-memory dedup cache.
	DedupMaxEntries int
}

// Message is one announcement.
type Message struct {
	// Key identifies the message for dedup; empty disables dedup.
	Key        string
	SearchID   string
	SearchName string
	Text       string
	Candidates []eventbus.Candidate
	At         time.Time
}

// Sink delivers messages to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Marks is the subset of storage used for cross-restart dedup.
type Marks interface {
	PutMark(ctx context.Context, key string, until time.Time) error
	GetMark(ctx context.Context, key string) (time.Time, bool, error)
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	Sink   string    `json:"sink"`
	Key    string    `json:"key,omitempty"`
	Text   string    `json:"text"`
	Failed bool      `json:"failed,omitempty"`
	Error  string    `json:"error,omitempty"`
}
