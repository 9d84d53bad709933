package config

// Config is the on-disk configuration. JSON and YAML are both accepted; unknown
// keys are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Retry     RetryConfig     `json:"retry"`
	Dedup     DedupConfig     `json:"dedup"`
	Idle      IdleConfig      `json:"idle"`

	// Storage is optional. Nil or driver "none" disables checkpoints and the audit trail.
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	HTTP   HTTPConfig   `json:"http"`
	Agents AgentsConfig `json:"agents"`

	// Searches declared in config. They are reconciled on every reload; searches
	// added at runtime (HTTP API) are not touched by a reload.
	Searches []SearchConfig `json:"searches"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts forwards warn/error lines to the notifier sinks.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the tick loop and capture concurrency.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1s"
//   - max_concurrent: 2
//   - capture_timeout: "2m"
type SchedulerConfig struct {
	TickInterval   string `json:"tick_interval"`
	MaxConcurrent  int    `json:"max_concurrent"`
	CaptureTimeout string `json:"capture_timeout"`
}

// RetryConfig mirrors retry.Policy. Zero fields take the policy defaults.
type RetryConfig struct {
	BaseDelay   string  `json:"base_delay"`
	Multiplier  float64 `json:"multiplier"`
	MaxAttempts int     `json:"max_attempts"`
	MaxDelay    string  `json:"max_delay"`
	Jitter      float64 `json:"jitter"`
}

// DedupConfig bounds the per-search working set.
// MaxAge "off" disables age expiry.
type DedupConfig struct {
	MaxEntries int    `json:"max_entries"`
	MaxAge     string `json:"max_age"`
}

// IdleConfig controls idle deferral.
//
// Signal is one of:
//   - "activity" (default): activity reported via POST /activity, idle after idle_threshold
//   - "load": host 1-minute load average >= load_threshold counts as active
//   - "any": activity or load
//   - "none": never active
type IdleConfig struct {
	RequireIdle   bool    `json:"require_idle"`
	IdleThreshold string  `json:"idle_threshold"`
	Signal        string  `json:"signal"`
	LoadThreshold float64 `json:"load_threshold"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/scanwatch.db", "checkpoint_interval": "1m" }
type StorageConfig struct {
	Driver             string `json:"driver"`
	Path               string `json:"path"`
	BusyTimeout        string `json:"busy_timeout,omitempty"` // sqlite
	CheckpointInterval string `json:"checkpoint_interval,omitempty"`
}

// NotifierConfig controls announcements of new candidates.
// At least one of telegram or webhook must be set when enabled.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	// DedupWindow suppresses re-announcing the same candidate (kept as storage marks).
	DedupWindow string `json:"dedup_window"`

	Telegram *TelegramConfig `json:"telegram,omitempty"`
	Webhook  *WebhookConfig  `json:"webhook,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type WebhookConfig struct {
	URL     string `json:"url"`
	Timeout string `json:"timeout,omitempty"`
}

// HTTPConfig controls the control-surface API.
// Prefer binding to localhost; the API has no auth.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8085"
	// Pprof mounts net/http/pprof under /debug on the API listener.
	Pprof bool `json:"pprof,omitempty"`
}

type AgentsConfig struct {
	UserAgent string        `json:"user_agent,omitempty"`
	Browser   BrowserConfig `json:"browser"`
}

// BrowserConfig configures the headless browser agent. Without RemoteURL a local
// browser is launched on first use.
type BrowserConfig struct {
	Enabled   bool   `json:"enabled"`
	RemoteURL string `json:"remote_url,omitempty"`
	Headless  *bool  `json:"headless,omitempty"`
}

// SearchConfig declares a saved search.
type SearchConfig struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Kind      string            `json:"kind"`
	URL       string            `json:"url"`
	Selectors map[string]string `json:"selectors,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
	Cadence   string            `json:"cadence"`
	// Enabled defaults to true when omitted.
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (s SearchConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }
