// Package idle decides whether background captures should wait for the host to go idle.
package idle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/load"
)

// Policy configures deferral.
type Policy struct {
	RequireIdle bool
	// IdleThreshold is how long after the last recorded activity the host counts as idle.
	// It only applies to signals that report LastActivity.
	IdleThreshold time.Duration
}

// Signal reports host activity.
type Signal interface {
	IsUserActive() bool
}

// ActivitySignal is a Signal that also knows when the user was last seen.
type ActivitySignal interface {
	Signal
	LastActivity() (time.Time, bool)
}

// Gate answers ShouldDefer against a host signal. It has no side effects.
type Gate struct {
	signal Signal
	now    func() time.Time
}

// NewGate returns a gate over sig. A nil sig never reports activity.
func NewGate(sig Signal, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{signal: sig, now: now}
}

// ShouldDefer reports whether a capture should be deferred under p.
func (g *Gate) ShouldDefer(p Policy) bool {
	if !p.RequireIdle || g == nil || g.signal == nil {
		return false
	}
	return g.active(g.signal, p.IdleThreshold)
}

func (g *Gate) active(sig Signal, threshold time.Duration) bool {
	if m, ok := sig.(anySignal); ok {
		for _, s := range m {
			if s != nil && g.active(s, threshold) {
				return true
			}
		}
		return false
	}
	if sig.IsUserActive() {
		return true
	}
	as, ok := sig.(ActivitySignal)
	if !ok || threshold <= 0 {
		return false
	}
	last, ok := as.LastActivity()
	return ok && g.now().Sub(last) < threshold
}

type anySignal []Signal

func (m anySignal) IsUserActive() bool {
	for _, s := range m {
		if s != nil && s.IsUserActive() {
			return true
		}
	}
	return false
}

// Any combines signals; the host is active when any of them says so.
func Any(signals ...Signal) Signal { return anySignal(signals) }

// Tracker records explicit activity, e.g. from the control surface.
type Tracker struct {
	mu     sync.RWMutex
	last   time.Time
	active bool
	now    func() time.Time
}

func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Touch records activity at the current time.
func (t *Tracker) Touch() {
	t.mu.Lock()
	t.last = t.now()
	t.mu.Unlock()
}

// SetActive forces the active flag, independent of Touch.
func (t *Tracker) SetActive(v bool) {
	t.mu.Lock()
	t.active = v
	t.mu.Unlock()
}

func (t *Tracker) IsUserActive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

func (t *Tracker) LastActivity() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last, !t.last.IsZero()
}

// LoadSignal treats the host as busy when the 1-minute load average reaches Threshold.
type LoadSignal struct {
	Threshold float64
	// Avg overrides the load reader; nil uses gopsutil.
	Avg func() (float64, error)
}

func (l LoadSignal) IsUserActive() bool {
	if l.Threshold <= 0 {
		return false
	}
	read := l.Avg
	if read == nil {
		read = hostLoad1
	}
	v, err := read()
	if err != nil {
		return false
	}
	return v >= l.Threshold
}

func hostLoad1() (float64, error) {
	st, err := load.Avg()
	if err != nil {
		return 0, err
	}
	return st.Load1, nil
}

// Static is a settable signal.
type Static struct{ v atomic.Bool }

func NewStatic(active bool) *Static {
	s := &Static{}
	s.v.Store(active)
	return s
}

func (s *Static) Set(active bool)    { s.v.Store(active) }
func (s *Static) IsUserActive() bool { return s.v.Load() }
