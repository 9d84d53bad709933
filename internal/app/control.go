package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"scanwatch/internal/eventbus"
	"scanwatch/internal/scan/registry"
	"scanwatch/internal/scan/scheduler"
	logx "scanwatch/pkg/logx"
)

// AddSearch registers a search at runtime. An empty ID is generated and an empty
// Name defaults to the ID.
func (e *Engine) AddSearch(s registry.SavedSearch) (string, error) {
	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.NewString()
	}
	if strings.TrimSpace(s.Name) == "" {
		s.Name = s.ID
	}
	if _, ok := e.agents.Lookup(s.Source.Kind); !ok {
		return "", invalidKind(s.Source.Kind)
	}
	id, err := e.reg.Add(s)
	if err != nil {
		return "", err
	}
	e.log.Info("search registered", logx.String("search_id", id), logx.String("cadence", s.Cadence.String()))
	return id, nil
}

func (e *Engine) EnableSearch(id string) error {
	if err := e.reg.Enable(id); err != nil {
		return err
	}
	e.log.Info("search enabled", logx.String("search_id", id))
	return nil
}

// DisableSearch stops future scheduling of id. A job in flight finishes.
func (e *Engine) DisableSearch(id string) error {
	if err := e.reg.Disable(id); err != nil {
		return err
	}
	e.log.Info("search disabled", logx.String("search_id", id))
	return nil
}

// PauseSearch suspends id until the given time; a zero time resumes it.
func (e *Engine) PauseSearch(id string, until time.Time) error {
	if err := e.reg.Pause(id, until); err != nil {
		return err
	}
	if until.IsZero() {
		e.log.Info("search resumed", logx.String("search_id", id))
	} else {
		e.log.Info("search paused", logx.String("search_id", id), logx.Time("until", until))
	}
	return nil
}

// RemoveSearch deletes id and its dedup working set. A job in flight finishes but
// nothing is scheduled for id afterwards.
func (e *Engine) RemoveSearch(id string) error {
	if err := e.reg.Remove(id); err != nil {
		return err
	}
	e.dedup.Forget(id)
	e.mu.Lock()
	delete(e.configIDs, id)
	e.mu.Unlock()
	e.log.Info("search removed", logx.String("search_id", id))
	return nil
}

// TriggerNow schedules id immediately, ignoring cadence and pause.
func (e *Engine) TriggerNow(id string) error {
	return e.sched.TriggerNow(id)
}

func (e *Engine) Status() scheduler.Status { return e.sched.Status() }

func (e *Engine) Searches() []registry.SavedSearch { return e.reg.List() }

func (e *Engine) RecentJobs() []scheduler.Job { return e.sched.Recent() }

// TouchActivity records user activity for the "activity" idle signal.
func (e *Engine) TouchActivity() { e.tracker.Touch() }

// SetUserActive holds the "activity" signal active, or releases it.
func (e *Engine) SetUserActive(active bool) {
	e.tracker.SetActive(active)
	e.log.Info("user activity flag set", logx.Bool("active", active))
}

// Subscribe registers h for lifecycle events matching filter (nil matches all).
// The returned function unsubscribes.
func (e *Engine) Subscribe(filter eventbus.Filter, h eventbus.Handler) func() {
	return e.bus.Subscribe(filter, h)
}

// Tick runs one scheduling pass at the engine clock. The tick loop does this on its
// own; Tick is for callers driving the engine without Start.
func (e *Engine) Tick() bool { return e.sched.Tick(e.now()) }

func invalidKind(kind string) error {
	return errors.Wrapf(registry.ErrInvalid, "no capture agent for kind %q", kind)
}
