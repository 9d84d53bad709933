package supervisor

import (
	"sort"
	"sync"
	"time"
)

// LoopStats describes one named goroutine.
type LoopStats struct {
	Name        string    `json:"name"`
	Active      bool      `json:"active"`
	Starts      uint64    `json:"starts"`
	Restarts    uint64    `json:"restarts"`
	Panics      uint64    `json:"panics"`
	LastStartAt time.Time `json:"last_start_at"`
	LastErr     string    `json:"last_err,omitempty"`
	LastErrAt   time.Time `json:"last_err_at,omitempty"`
}

type loopTable struct {
	mu sync.Mutex
	m  map[string]*LoopStats
}

func (t *loopTable) update(name string, fn func(st *LoopStats)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = map[string]*LoopStats{}
	}
	st, ok := t.m[name]
	if !ok {
		st = &LoopStats{Name: name}
		t.m[name] = st
	}
	fn(st)
}

func (t *loopTable) started(name string, restart bool) {
	now := time.Now()
	t.update(name, func(st *LoopStats) {
		st.Active = true
		st.Starts++
		if restart {
			st.Restarts++
		}
		st.LastStartAt = now
	})
}

func (t *loopTable) finished(name string) {
	t.update(name, func(st *LoopStats) { st.Active = false })
}

func (t *loopTable) failed(name string, err error) {
	now := time.Now()
	t.update(name, func(st *LoopStats) {
		st.LastErr = err.Error()
		st.LastErrAt = now
	})
}

func (t *loopTable) list() []LoopStats {
	t.mu.Lock()
	out := make([]LoopStats, 0, len(t.m))
	for _, st := range t.m {
		out = append(out, *st)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		return out[i].Name < out[j].Name
	})
	return out
}
