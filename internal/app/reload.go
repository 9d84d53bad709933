package app

import (
	"context"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/config"
	"scanwatch/internal/scan/registry"
	logx "scanwatch/pkg/logx"
)

// applySearches reconciles the config-declared searches with the registry. With
// changed == nil every search is upserted (startup); otherwise only the listed ids are
// touched. Config searches that disappeared are removed; searches added at runtime are
// left alone.
func (e *Engine) applySearches(searches []registry.SavedSearch, changed []string) error {
	only := map[string]bool{}
	for _, id := range changed {
		only[id] = true
	}

	e.mu.Lock()
	prev := e.configIDs
	next := make(map[string]bool, len(searches))
	for _, s := range searches {
		next[s.ID] = true
	}
	e.configIDs = next
	e.mu.Unlock()

	var errs []error
	for id := range prev {
		if next[id] || !e.reg.Has(id) {
			continue
		}
		if err := e.reg.Remove(id); err == nil {
			e.dedup.Forget(id)
			e.log.Info("search removed from config", logx.String("search_id", id))
		}
	}
	for _, s := range searches {
		if changed != nil && !only[s.ID] {
			continue
		}
		added, err := e.reg.Upsert(s)
		if err != nil {
			errs = append(errs, errors.Wrapf(err, "search %q", s.ID))
			continue
		}
		if added {
			e.log.Info("search registered", logx.String("search_id", s.ID), logx.String("cadence", s.Cadence.String()))
		} else if changed != nil {
			e.log.Info("search updated", logx.String("search_id", s.ID), logx.Bool("enabled", s.Enabled))
		}
	}
	return errors.Join(errs...)
}

// reloadLoop applies committed configs published by the config manager.
func (e *Engine) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := e.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// coalesce bursts
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			e.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (e *Engine) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs, searchIDs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		e.log.Info("config reloaded (no changes)")
		return
	}
	changed := strings.Join(sections, ",")
	e.log.Debug("config change summary", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		e.log.Warn("config sections changed that need a restart", logx.Strings("sections", restart))
	}

	rt, err := config.Resolve(newCfg)
	if err != nil {
		// the manager validated it already
		e.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}

	if e.logs != nil {
		e.logs.Apply(mapLoggingConfig(newCfg))
	}
	// sinks are fixed at startup; rate, retry and dedup settings apply now
	if slices.Contains(sections, "notifier") && e.notif.Enabled() {
		if ncfg, err := mapNotifierConfig(newCfg); err == nil && ncfg.Enabled {
			e.notif.Apply(ncfg)
		}
	}

	prev := e.sched.Config()
	e.sched.SetConfig(mapSchedulerConfig(rt))
	if rt.MaxConcurrent != e.limiter.Capacity() {
		e.log.Warn("scheduler.max_concurrent change needs a restart",
			logx.Int("running", e.limiter.Capacity()),
			logx.Int("configured", rt.MaxConcurrent),
		)
	}
	if oldRT, err := config.Resolve(oldCfg); err == nil {
		if oldRT.TickInterval != rt.TickInterval {
			e.log.Warn("scheduler.tick_interval change needs a restart")
		}
		if oldRT.IdleSignal != rt.IdleSignal || oldRT.LoadThreshold != rt.LoadThreshold {
			e.log.Warn("idle.signal change needs a restart")
		}
		if oldRT.Dedup != rt.Dedup {
			e.log.Warn("dedup change needs a restart")
		}
	}
	if prev.Idle != rt.Idle {
		e.log.Info("idle policy updated",
			logx.Bool("require_idle", rt.Idle.RequireIdle),
			logx.Duration("idle_threshold", rt.Idle.IdleThreshold),
		)
	}

	if len(searchIDs) > 0 {
		if err := e.applySearches(rt.Searches, searchIDs); err != nil {
			e.log.Warn("some searches were not applied", logx.Err(err))
		}
	}

	e.log.Info("config reloaded", append([]logx.Field{logx.String("changed", changed)}, attrs...)...)
}
