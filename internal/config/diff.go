package config

import (
	"reflect"
	"sort"
	"strings"

	logx "scanwatch/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) log attrs that never
// include secrets such as tokens or webhook URLs, and (3) the ids of searches that were
// added, removed or redefined.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts_enabled", newCfg.Logging.Alerts.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_interval", strings.TrimSpace(newCfg.Scheduler.TickInterval)),
			logx.Int("scheduler.max_concurrent", newCfg.Scheduler.MaxConcurrent),
			logx.String("scheduler.capture_timeout", strings.TrimSpace(newCfg.Scheduler.CaptureTimeout)),
		)
	}

	if oldCfg.Retry != newCfg.Retry {
		changed = append(changed, "retry")
		attrs = append(attrs,
			logx.String("retry.base_delay", newCfg.Retry.BaseDelay),
			logx.Int("retry.max_attempts", newCfg.Retry.MaxAttempts),
			logx.String("retry.max_delay", newCfg.Retry.MaxDelay),
		)
	}

	if oldCfg.Dedup != newCfg.Dedup {
		changed = append(changed, "dedup")
		attrs = append(attrs,
			logx.Int("dedup.max_entries", newCfg.Dedup.MaxEntries),
			logx.String("dedup.max_age", newCfg.Dedup.MaxAge),
		)
	}

	if oldCfg.Idle != newCfg.Idle {
		changed = append(changed, "idle")
		attrs = append(attrs,
			logx.Bool("idle.require_idle", newCfg.Idle.RequireIdle),
			logx.String("idle.idle_threshold", newCfg.Idle.IdleThreshold),
			logx.String("idle.signal", newCfg.Idle.Signal),
		)
	}

	// Nil means disabled.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.checkpoint_interval", nS.CheckpointInterval),
		)
	}

	var oN, nN NotifierConfig
	if oldCfg.Notifier != nil {
		oN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		nN = *newCfg.Notifier
	}
	if !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Bool("notifier.telegram_set", nN.Telegram != nil),
			logx.Bool("notifier.webhook_set", nN.Webhook != nil),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
		)
	}

	if !reflect.DeepEqual(oldCfg.Agents, newCfg.Agents) {
		changed = append(changed, "agents")
		attrs = append(attrs,
			logx.Bool("agents.browser_enabled", newCfg.Agents.Browser.Enabled),
			logx.Bool("agents.browser_remote", newCfg.Agents.Browser.RemoteURL != ""),
		)
	}

	searchChanged := diffSearches(oldCfg.Searches, newCfg.Searches)
	if len(searchChanged) > 0 {
		changed = append(changed, "searches")
		attrs = append(attrs,
			logx.Int("searches.changed_count", len(searchChanged)),
			logx.Int("searches.count", len(newCfg.Searches)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, searchChanged
}

// RequiresRestart reports the changed sections that are only read at startup.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, c := range changed {
		switch c {
		case "storage", "http", "agents", "notifier":
			out = append(out, c)
		}
	}
	return out
}

func diffSearches(oldL, newL []SearchConfig) []string {
	index := func(l []SearchConfig) map[string]uint64 {
		m := make(map[string]uint64, len(l))
		for _, s := range l {
			m[strings.TrimSpace(s.ID)] = hashJSON(s)
		}
		return m
	}
	oldM, newM := index(oldL), index(newL)

	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		o, inOld := oldM[id]
		n, inNew := newM[id]
		if inOld != inNew || o != n {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
