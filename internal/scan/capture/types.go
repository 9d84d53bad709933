package capture

import (
	"context"
	"sort"
	"sync"

	"scanwatch/internal/scan/registry"
)

// CandidateRaw is an item as returned by an agent, before dedup.
type CandidateRaw struct {
	// Fingerprint may be left empty; dedup derives one from the content.
	Fingerprint string            `json:"fingerprint,omitempty"`
	URL         string            `json:"url,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// Result is the outcome of one capture attempt.
type Result struct {
	JobID      string
	Candidates []CandidateRaw
	Err        error
}

// Agent performs the actual capture. It may be slow and unreliable; it should honour
// ctx cancellation but is not required to.
type Agent interface {
	Capture(ctx context.Context, src registry.SourceDescriptor) ([]CandidateRaw, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, src registry.SourceDescriptor) ([]CandidateRaw, error)

func (f AgentFunc) Capture(ctx context.Context, src registry.SourceDescriptor) ([]CandidateRaw, error) {
	return f(ctx, src)
}

// Agents routes captures to an agent by source kind. It is itself an Agent.
type Agents struct {
	mu     sync.RWMutex
	byKind map[string]Agent
}

func NewAgents() *Agents { return &Agents{byKind: map[string]Agent{}} }

// Register binds kind to a; a nil agent removes the binding.
func (a *Agents) Register(kind string, agent Agent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if agent == nil {
		delete(a.byKind, kind)
		return
	}
	a.byKind[kind] = agent
}

func (a *Agents) Lookup(kind string) (Agent, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ag, ok := a.byKind[kind]
	return ag, ok
}

// Kinds lists registered kinds, sorted.
func (a *Agents) Kinds() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.byKind))
	for k := range a.byKind {
		out = append(out, k)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (a *Agents) Capture(ctx context.Context, src registry.SourceDescriptor) ([]CandidateRaw, error) {
	ag, ok := a.Lookup(src.Kind)
	if !ok {
		return nil, ErrUnknownKind(src.Kind)
	}
	return ag.Capture(ctx, src)
}
