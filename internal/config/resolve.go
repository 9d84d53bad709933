package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/scan/dedup"
	"scanwatch/internal/scan/idle"
	"scanwatch/internal/scan/registry"
	"scanwatch/internal/scan/retry"
)

const (
	DefaultTickInterval       = time.Second
	DefaultMaxConcurrent      = 2
	DefaultCaptureTimeout     = 2 * time.Minute
	DefaultIdleThreshold      = 5 * time.Minute
	DefaultCheckpointInterval = time.Minute
	DefaultHTTPAddr           = "127.0.0.1:8085"
)

var knownKinds = map[string]bool{"http": true, "feed": true, "browser": true}

// Runtime is a Config with every duration parsed and every default applied.
type Runtime struct {
	TickInterval   time.Duration
	MaxConcurrent  int
	CaptureTimeout time.Duration

	Retry retry.Policy
	Dedup dedup.Config

	Idle          idle.Policy
	IdleSignal    string
	LoadThreshold float64

	StorageBusyTimeout time.Duration
	CheckpointInterval time.Duration

	Searches []registry.SavedSearch
}

// Resolve validates cfg and returns its runtime form. All problems are reported
// together.
func Resolve(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		collect(err)
		return d
	}

	rt := &Runtime{
		TickInterval:   dur("scheduler.tick_interval", cfg.Scheduler.TickInterval, DefaultTickInterval),
		MaxConcurrent:  cfg.Scheduler.MaxConcurrent,
		CaptureTimeout: dur("scheduler.capture_timeout", cfg.Scheduler.CaptureTimeout, DefaultCaptureTimeout),
	}
	if rt.MaxConcurrent < 0 {
		collect(errors.New("scheduler.max_concurrent must be >= 0"))
	}
	if rt.MaxConcurrent <= 0 {
		rt.MaxConcurrent = DefaultMaxConcurrent
	}

	if cfg.Retry.Multiplier != 0 && cfg.Retry.Multiplier < 1 {
		collect(errors.New("retry.multiplier must be >= 1"))
	}
	if cfg.Retry.Jitter < 0 || cfg.Retry.Jitter > 1 {
		collect(errors.New("retry.jitter must be within [0, 1]"))
	}
	rt.Retry = retry.Policy{
		BaseDelay:   dur("retry.base_delay", cfg.Retry.BaseDelay, retry.DefaultBaseDelay),
		Multiplier:  cfg.Retry.Multiplier,
		MaxAttempts: cfg.Retry.MaxAttempts,
		MaxDelay:    dur("retry.max_delay", cfg.Retry.MaxDelay, retry.DefaultMaxDelay),
		Jitter:      cfg.Retry.Jitter,
	}

	rt.Dedup = dedup.Config{MaxEntries: cfg.Dedup.MaxEntries}
	switch v := strings.ToLower(strings.TrimSpace(cfg.Dedup.MaxAge)); v {
	case "off", "never", "disabled":
		rt.Dedup.MaxAge = -1
	default:
		rt.Dedup.MaxAge = dur("dedup.max_age", v, dedup.DefaultMaxAge)
	}

	rt.Idle = idle.Policy{
		RequireIdle:   cfg.Idle.RequireIdle,
		IdleThreshold: dur("idle.idle_threshold", cfg.Idle.IdleThreshold, DefaultIdleThreshold),
	}
	rt.IdleSignal = strings.ToLower(strings.TrimSpace(cfg.Idle.Signal))
	switch rt.IdleSignal {
	case "":
		rt.IdleSignal = "activity"
	case "activity", "load", "any", "none":
	default:
		collect(errors.Newf("idle.signal: unknown signal %q", cfg.Idle.Signal))
	}
	rt.LoadThreshold = cfg.Idle.LoadThreshold
	if (rt.IdleSignal == "load" || rt.IdleSignal == "any") && rt.LoadThreshold <= 0 {
		collect(errors.New("idle.load_threshold must be > 0 for the load signal"))
	}

	if s := cfg.Storage; s != nil {
		rt.StorageBusyTimeout = dur("storage.busy_timeout", s.BusyTimeout, 0)
		rt.CheckpointInterval = dur("storage.checkpoint_interval", s.CheckpointInterval, DefaultCheckpointInterval)
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(s.Path) == "" {
				collect(errors.New("storage.path is required"))
			}
		default:
			collect(errors.Newf("storage.driver: unknown driver %q", s.Driver))
		}
	}

	if n := cfg.Notifier; n != nil && n.Enabled {
		dur("notifier.retry_base", n.RetryBase, 0)
		dur("notifier.retry_max_delay", n.RetryMaxDelay, 0)
		dur("notifier.dedup_window", n.DedupWindow, 0)
		if n.Telegram == nil && n.Webhook == nil {
			collect(errors.New("notifier: enabled without telegram or webhook sink"))
		}
		if n.Telegram != nil && (strings.TrimSpace(n.Telegram.Token) == "" || n.Telegram.ChatID == 0) {
			collect(errors.New("notifier.telegram: token and chat_id are required"))
		}
		if n.Webhook != nil {
			dur("notifier.webhook.timeout", n.Webhook.Timeout, 0)
			if strings.TrimSpace(n.Webhook.URL) == "" {
				collect(errors.New("notifier.webhook.url is required"))
			}
		}
	}

	seen := map[string]bool{}
	for i, sc := range cfg.Searches {
		ss, err := sc.ToSearch()
		if err != nil {
			collect(errors.Wrapf(err, "searches[%d]", i))
			continue
		}
		if seen[ss.ID] {
			collect(errors.Newf("searches[%d]: duplicate id %q", i, ss.ID))
			continue
		}
		seen[ss.ID] = true
		rt.Searches = append(rt.Searches, ss)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rt, nil
}

// ToSearch validates s and converts it to a registry search.
func (s SearchConfig) ToSearch() (registry.SavedSearch, error) {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return registry.SavedSearch{}, errors.New("id is required")
	}
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if !knownKinds[kind] {
		return registry.SavedSearch{}, errors.Newf("%s: unknown kind %q", id, s.Kind)
	}
	if strings.TrimSpace(s.URL) == "" {
		return registry.SavedSearch{}, errors.Newf("%s: url is required", id)
	}
	cad, err := registry.ParseCadence(s.Cadence)
	if err != nil {
		return registry.SavedSearch{}, errors.Wrapf(err, "%s", id)
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = id
	}
	return registry.SavedSearch{
		ID:   id,
		Name: name,
		Source: registry.SourceDescriptor{
			Kind:      kind,
			URL:       strings.TrimSpace(s.URL),
			Selectors: s.Selectors,
			Options:   s.Options,
		},
		Enabled: s.IsEnabled(),
		Cadence: cad,
	}, nil
}
