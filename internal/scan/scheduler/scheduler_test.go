package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwatch/internal/eventbus"
	"scanwatch/internal/scan/capture"
	"scanwatch/internal/scan/dedup"
	"scanwatch/internal/scan/errkind"
	"scanwatch/internal/scan/idle"
	"scanwatch/internal/scan/registry"
	"scanwatch/internal/scan/retry"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recorder struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (r *recorder) handle(e eventbus.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) all() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]eventbus.Event(nil), r.events...)
}

func (r *recorder) types(filter ...eventbus.Type) []eventbus.Type {
	keep := map[eventbus.Type]bool{}
	for _, t := range filter {
		keep[t] = true
	}
	var out []eventbus.Type
	for _, e := range r.all() {
		if len(keep) == 0 || keep[e.Type] {
			out = append(out, e.Type)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

type harness struct {
	t     *testing.T
	clock *clock
	reg   *registry.Registry
	lim   *capture.Limiter
	idle  *idle.Static
	bus   eventbus.Bus
	rec   *recorder
	s     *Scheduler
}

type harnessOpt struct {
	maxConcurrent int
	policy        idle.Policy
	retry         retry.Policy
	timeout       time.Duration
}

func newHarness(t *testing.T, agent capture.Agent, o harnessOpt) *harness {
	t.Helper()
	if o.maxConcurrent == 0 {
		o.maxConcurrent = 3
	}
	if o.timeout == 0 {
		o.timeout = time.Second
	}
	h := &harness{t: t, clock: newClock(), idle: idle.NewStatic(false), rec: &recorder{}}
	h.reg = registry.New(registry.WithClock(h.clock.Now))
	h.lim = capture.NewLimiter(o.maxConcurrent)
	bus := eventbus.New(eventbus.WithClock(h.clock.Now))
	bus.Subscribe(nil, h.rec.handle)
	h.bus = bus

	h.s = New(Config{CaptureTimeout: o.timeout, Idle: o.policy, Retry: o.retry}, Deps{
		Registry: h.reg,
		Limiter:  h.lim,
		Dedup:    dedup.New(dedup.Config{}),
		Gate:     idle.NewGate(h.idle, h.clock.Now),
		Agent:    agent,
		Bus:      bus,
		Clock:    h.clock.Now,
	})
	t.Cleanup(h.s.Stop)
	return h
}

func (h *harness) add(id string, cadence time.Duration) {
	h.t.Helper()
	_, err := h.reg.Add(registry.SavedSearch{
		ID:      id,
		Name:    id,
		Source:  registry.SourceDescriptor{Kind: "fake", URL: "https://example.test/" + id},
		Enabled: true,
		Cadence: registry.Every(cadence),
	})
	require.NoError(h.t, err)
}

func (h *harness) tick() {
	h.t.Helper()
	require.True(h.t, h.s.Tick(h.clock.Now()))
}

func (h *harness) drain() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.s.Drain(ctx))
}

// scripted returns canned results per call, in order; the last one repeats.
type scripted struct {
	mu    sync.Mutex
	calls int
	steps []func(ctx context.Context) ([]capture.CandidateRaw, error)
}

func (a *scripted) Capture(ctx context.Context, _ registry.SourceDescriptor) ([]capture.CandidateRaw, error) {
	a.mu.Lock()
	i := a.calls
	if i >= len(a.steps) {
		i = len(a.steps) - 1
	}
	a.calls++
	step := a.steps[i]
	a.mu.Unlock()
	return step(ctx)
}

func (a *scripted) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func returns(fps ...string) func(context.Context) ([]capture.CandidateRaw, error) {
	return func(context.Context) ([]capture.CandidateRaw, error) {
		out := make([]capture.CandidateRaw, 0, len(fps))
		for _, fp := range fps {
			out = append(out, capture.CandidateRaw{Fingerprint: fp})
		}
		return out, nil
	}
}

func fails(err error) func(context.Context) ([]capture.CandidateRaw, error) {
	return func(context.Context) ([]capture.CandidateRaw, error) { return nil, err }
}

func TestScenarioA_ConcurrencyDeferral(t *testing.T) {
	block := make(chan struct{})
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){
		func(context.Context) ([]capture.CandidateRaw, error) { <-block; return nil, nil },
	}}
	h := newHarness(t, agent, harnessOpt{maxConcurrent: 1})
	h.add("a", time.Hour)
	h.add("b", time.Hour)

	h.tick()

	assert.Equal(t, []eventbus.Type{
		eventbus.JobQueued, eventbus.JobQueued, eventbus.JobStarted, eventbus.SearchDeferredConcurrency,
	}, h.rec.types())
	ev := h.rec.all()
	assert.Equal(t, "a", ev[2].SearchID)
	assert.Equal(t, "b", ev[3].SearchID)

	jobs := h.s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, StateRunning, jobs[0].State)
	assert.Equal(t, StateQueued, jobs[1].State)
	assert.Equal(t, 0, jobs[1].Attempt)

	st := h.s.Status()
	assert.Equal(t, 1, st.ActiveJobCount)
	assert.Equal(t, 1, st.QueuedCount)

	close(block)
	h.drain()

	// the deferred job proceeds on the next tick without a new job_queued
	h.rec.reset()
	h.tick()
	assert.Equal(t, []eventbus.Type{eventbus.JobStarted},
		h.rec.types(eventbus.JobQueued, eventbus.JobStarted, eventbus.SearchDeferredConcurrency))
	h.drain()
}

func TestScenarioB_RetriesThenFails(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){
		fails(errkind.New(errkind.CaptureAgentError, "agent exploded")),
	}}
	h := newHarness(t, agent, harnessOpt{retry: retry.Policy{BaseDelay: time.Second, MaxAttempts: 3}})
	h.add("a", time.Hour)
	start := h.clock.Now()

	h.tick()
	h.drain()

	// backoff not yet elapsed
	h.clock.Advance(500 * time.Millisecond)
	h.tick()
	assert.Equal(t, 1, agent.Calls())

	h.clock.Set(start.Add(time.Second))
	h.tick()
	h.drain()

	h.clock.Set(start.Add(3 * time.Second))
	h.tick()
	h.drain()

	watched := []eventbus.Type{eventbus.JobStarted, eventbus.JobRetrying, eventbus.JobFailed}
	assert.Equal(t, []eventbus.Type{
		eventbus.JobStarted, eventbus.JobRetrying,
		eventbus.JobStarted, eventbus.JobRetrying,
		eventbus.JobStarted, eventbus.JobFailed,
	}, h.rec.types(watched...))

	var retries []eventbus.RetryPayload
	var failed []eventbus.FailurePayload
	for _, e := range h.rec.all() {
		switch p := e.Payload.(type) {
		case eventbus.RetryPayload:
			retries = append(retries, p)
		case eventbus.FailurePayload:
			failed = append(failed, p)
		}
	}
	require.Len(t, retries, 2)
	assert.Equal(t, 1, retries[0].Attempt)
	assert.Equal(t, time.Second, retries[0].After)
	assert.Equal(t, 2, retries[1].Attempt)
	assert.Equal(t, 2*time.Second, retries[1].After)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempt)
	assert.Equal(t, string(errkind.CaptureAgentError), failed[0].Kind)

	assert.Equal(t, 3, agent.Calls())
	assert.Empty(t, h.s.Jobs())

	recent := h.s.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, StateFailed, recent[0].Outcome)
	assert.Equal(t, 3, recent[0].Attempt)
	assert.Equal(t, []State{
		StateQueued, StateAdmitted, StateRunning, StateFailed, StateRetrying,
		StateAdmitted, StateRunning, StateFailed, StateRetrying,
		StateAdmitted, StateRunning, StateFailed, StateDone,
	}, recent[0].History())

	// exhausted retries count as a completed cycle
	got, _ := h.reg.Get("a")
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, start.Add(3*time.Second).Add(time.Hour), got.NextRunAt)
}

func TestScenarioC_IdleDeferralKeepsJob(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){returns("f1")}}
	h := newHarness(t, agent, harnessOpt{policy: idle.Policy{RequireIdle: true}})
	h.idle.Set(true)
	h.add("a", time.Hour)

	for i := 0; i < 3; i++ {
		h.tick()
		h.clock.Advance(time.Minute)
	}
	assert.Equal(t, []eventbus.Type{
		eventbus.JobQueued,
		eventbus.SearchDeferredIdle, eventbus.SearchDeferredIdle, eventbus.SearchDeferredIdle,
	}, h.rec.types())
	assert.Equal(t, 0, agent.Calls())

	jobs := h.s.Jobs()
	require.Len(t, jobs, 1)
	jobID := jobs[0].ID
	assert.Equal(t, 0, jobs[0].Attempt)

	h.idle.Set(false)
	h.rec.reset()
	h.tick()
	h.drain()

	types := h.rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, eventbus.JobStarted, types[0], "proceeds without re-entering queued")
	assert.NotContains(t, types, eventbus.JobQueued)
	for _, e := range h.rec.all() {
		assert.Equal(t, jobID, e.JobID)
	}
	assert.Equal(t, 1, agent.Calls())
}

func TestScenarioD_OnlyNetNewCandidates(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){
		returns("f1", "f2"),
		returns("f1", "f3"),
		returns("f1", "f3"),
	}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)

	for i := 0; i < 3; i++ {
		h.tick()
		h.drain()
		h.clock.Advance(time.Hour)
	}

	var found [][]string
	for _, e := range h.rec.all() {
		if e.Type != eventbus.CandidatesFound {
			continue
		}
		p := e.Payload.(eventbus.CandidatesPayload)
		var fps []string
		for _, c := range p.Candidates {
			fps = append(fps, c.Fingerprint)
		}
		found = append(found, fps)
	}
	assert.Equal(t, [][]string{{"f1", "f2"}, {"f3"}}, found)
	assert.Equal(t, 3, len(h.rec.types(eventbus.JobSucceeded)))
}

func TestScenarioE_TriggerNowBypassesCadence(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){returns("x")}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)

	last := h.clock.Now().Add(-5 * time.Minute)
	require.NoError(t, h.reg.MarkRun("a", last))
	h.tick()
	assert.Empty(t, h.rec.types(), "not due by cadence")

	require.NoError(t, h.s.TriggerNow("a"))
	assert.Equal(t, []eventbus.Type{eventbus.JobQueued, eventbus.JobStarted},
		h.rec.types(eventbus.JobQueued, eventbus.JobStarted))
	h.drain()
	assert.Contains(t, h.rec.types(), eventbus.JobSucceeded)

	got, _ := h.reg.Get("a")
	assert.Equal(t, h.clock.Now().Add(time.Hour), got.NextRunAt)

	q := h.rec.all()[0].Payload.(eventbus.JobPayload)
	assert.True(t, q.Forced)
}

func TestTriggerNow_StillGated(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){returns("x")}}
	h := newHarness(t, agent, harnessOpt{policy: idle.Policy{RequireIdle: true}})
	h.idle.Set(true)
	h.add("a", time.Hour)
	require.NoError(t, h.reg.MarkRun("a", h.clock.Now()))

	require.NoError(t, h.s.TriggerNow("a"))
	assert.Equal(t, []eventbus.Type{eventbus.JobQueued, eventbus.SearchDeferredIdle}, h.rec.types())
	assert.Equal(t, 0, agent.Calls())
}

func TestTriggerNow_Errors(t *testing.T) {
	h := newHarness(t, &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){returns()}}, harnessOpt{})
	assert.ErrorIs(t, h.s.TriggerNow("missing"), registry.ErrNotFound)

	h.add("a", time.Hour)
	require.NoError(t, h.reg.Disable("a"))
	assert.ErrorIs(t, h.s.TriggerNow("a"), ErrDisabled)
}

func TestSourceUnavailable_GivesUpImmediately(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){
		fails(errkind.New(errkind.SourceUnavailable, "listing removed")),
	}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)

	h.tick()
	h.drain()
	assert.Equal(t, []eventbus.Type{eventbus.JobStarted, eventbus.JobFailed},
		h.rec.types(eventbus.JobStarted, eventbus.JobRetrying, eventbus.JobFailed))
}

func TestTimeout_IsRetryable(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){
		func(context.Context) ([]capture.CandidateRaw, error) { <-release; return nil, nil },
	}}
	h := newHarness(t, agent, harnessOpt{timeout: 20 * time.Millisecond, maxConcurrent: 1})
	h.add("a", time.Hour)

	h.tick()
	h.drain()
	assert.Equal(t, 0, h.lim.InUse(), "slot released without waiting for the agent")

	jobs := h.s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, StateRetrying, jobs[0].State)
	assert.Contains(t, jobs[0].History(), StateTimedOut)

	var kinds []string
	for _, e := range h.rec.all() {
		if p, ok := e.Payload.(eventbus.RetryPayload); ok {
			kinds = append(kinds, p.Kind)
		}
	}
	assert.Equal(t, []string{string(errkind.CaptureTimeout)}, kinds)
}

func TestRemovedWhileRunning_DiscardsResult(t *testing.T) {
	block := make(chan struct{})
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){
		func(context.Context) ([]capture.CandidateRaw, error) {
			<-block
			return []capture.CandidateRaw{{Fingerprint: "f"}}, nil
		},
	}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)
	h.tick()

	require.NoError(t, h.reg.Remove("a"))
	close(block)
	h.drain()

	assert.NotContains(t, h.rec.types(), eventbus.JobSucceeded)
	assert.NotContains(t, h.rec.types(), eventbus.CandidatesFound)
	assert.Empty(t, h.s.Jobs())
}

func TestReaddedWhileRunning_DiscardsStaleResult(t *testing.T) {
	block := make(chan struct{})
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){
		func(context.Context) ([]capture.CandidateRaw, error) {
			<-block
			return []capture.CandidateRaw{{Fingerprint: "f"}}, nil
		},
		returns(),
	}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)
	h.tick()

	require.NoError(t, h.reg.Remove("a"))
	h.add("a", time.Hour)
	close(block)
	h.drain()

	s, ok := h.reg.Get("a")
	require.True(t, ok)
	assert.Nil(t, s.LastRunAt, "the old job must not mark the new registration as run")
	assert.NotContains(t, h.rec.types(), eventbus.JobSucceeded)
	assert.NotContains(t, h.rec.types(), eventbus.CandidatesFound)
	assert.Empty(t, h.s.Jobs())

	// the new registration is scheduled on its own
	h.tick()
	h.drain()
	s, _ = h.reg.Get("a")
	assert.NotNil(t, s.LastRunAt)
	assert.Equal(t, 2, agent.Calls())
}

func TestSlotReleasedBeforeSubscribersRun(t *testing.T) {
	h := newHarness(t, &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){returns("f")}}, harnessOpt{maxConcurrent: 1})
	inUse := make(chan int, 1)
	h.bus.Subscribe(eventbus.Types(eventbus.JobSucceeded), func(eventbus.Event) error {
		inUse <- h.lim.InUse()
		return nil
	})
	h.add("a", time.Hour)
	h.tick()
	h.drain()

	select {
	case n := <-inUse:
		assert.Zero(t, n)
	default:
		t.Fatal("job_succeeded not published")
	}
}

func TestRemovedWhileRetrying_DroppedNextTick(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){fails(fmt.Errorf("flaky"))}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)
	h.tick()
	h.drain()
	require.Len(t, h.s.Jobs(), 1)

	require.NoError(t, h.reg.Remove("a"))
	h.clock.Advance(time.Minute)
	h.tick()
	assert.Empty(t, h.s.Jobs())
	assert.Equal(t, 1, agent.Calls())
}

func TestDisableDoesNotCancelInflight(t *testing.T) {
	block := make(chan struct{})
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){
		func(context.Context) ([]capture.CandidateRaw, error) { <-block; return nil, nil },
	}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)
	h.tick()

	require.NoError(t, h.reg.Disable("a"))
	close(block)
	h.drain()
	assert.Contains(t, h.rec.types(), eventbus.JobSucceeded)

	h.clock.Advance(2 * time.Hour)
	h.rec.reset()
	h.tick()
	assert.Empty(t, h.rec.types())
}

func TestFailureIsolatedPerSearch(t *testing.T) {
	agent := capture.AgentFunc(func(ctx context.Context, src registry.SourceDescriptor) ([]capture.CandidateRaw, error) {
		if src.URL == "https://example.test/bad" {
			return nil, errkind.New(errkind.SourceUnavailable, "gone")
		}
		return []capture.CandidateRaw{{Fingerprint: src.URL}}, nil
	})
	h := newHarness(t, agent, harnessOpt{})
	h.add("bad", time.Hour)
	h.add("good", time.Hour)

	h.tick()
	h.drain()

	var failed, ok []string
	for _, e := range h.rec.all() {
		switch e.Type {
		case eventbus.JobFailed:
			failed = append(failed, e.SearchID)
		case eventbus.JobSucceeded:
			ok = append(ok, e.SearchID)
		}
	}
	assert.Equal(t, []string{"bad"}, failed)
	assert.Equal(t, []string{"good"}, ok)
}

func TestInvariants_UnderLoad(t *testing.T) {
	const maxConcurrent = 2
	var running, peak atomic.Int32
	agent := capture.AgentFunc(func(ctx context.Context, src registry.SourceDescriptor) ([]capture.CandidateRaw, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		if src.URL[len(src.URL)-1]%2 == 0 {
			return nil, fmt.Errorf("transient")
		}
		return []capture.CandidateRaw{{Fingerprint: "x"}}, nil
	})
	h := newHarness(t, agent, harnessOpt{
		maxConcurrent: maxConcurrent,
		retry:         retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: 3},
	})
	for i := 0; i < 8; i++ {
		h.add(fmt.Sprintf("s%d", i), time.Millisecond)
	}

	for i := 0; i < 60; i++ {
		h.tick()
		for _, j := range h.s.Jobs() {
			assert.LessOrEqual(t, j.Attempt, 3)
		}
		h.clock.Advance(time.Millisecond)
		time.Sleep(time.Millisecond)
	}
	h.drain()

	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent))

	// at most one outstanding job per search, derived from the event stream
	open := map[string]string{}
	for _, e := range h.rec.all() {
		switch e.Type {
		case eventbus.JobQueued:
			prev, busy := open[e.SearchID]
			assert.False(t, busy, "search %s queued %s while %s outstanding", e.SearchID, e.JobID, prev)
			open[e.SearchID] = e.JobID
		case eventbus.JobSucceeded, eventbus.JobFailed:
			assert.Equal(t, open[e.SearchID], e.JobID)
			delete(open, e.SearchID)
		case eventbus.JobRetrying:
			p := e.Payload.(eventbus.RetryPayload)
			assert.Less(t, p.Attempt, 3)
		}
	}
}

func TestSubscriberMayCallBack(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){returns("f")}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)

	var statuses atomic.Int32
	h.s.bus.Subscribe(eventbus.Types(eventbus.JobStarted, eventbus.JobSucceeded), func(e eventbus.Event) error {
		_ = h.s.Status()
		_ = h.s.Jobs()
		assert.ErrorIs(t, h.s.TriggerNow("missing"), registry.ErrNotFound)
		statuses.Add(1)
		return nil
	})

	h.tick()
	h.drain()
	assert.Equal(t, int32(2), statuses.Load())
}

func TestTick_NotReentrant(t *testing.T) {
	h := newHarness(t, &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){returns()}}, harnessOpt{})
	h.s.tickMu.Lock()
	assert.False(t, h.s.Tick(h.clock.Now()))
	h.s.tickMu.Unlock()
	assert.True(t, h.s.Tick(h.clock.Now()))
}

func TestRun_TicksAndStops(t *testing.T) {
	agent := &scripted{steps: []func(context.Context) ([]capture.CandidateRaw, error){returns("f")}}
	h := newHarness(t, agent, harnessOpt{})
	h.add("a", time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(ctx, time.Hour) }()

	require.Eventually(t, func() bool { return agent.Calls() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	h.drain()
}

func TestJobTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateQueued, StateAdmitted))
	assert.True(t, CanTransition(StateRetrying, StateAdmitted))
	assert.True(t, CanTransition(StateTimedOut, StateRetrying))
	assert.True(t, CanTransition(StateFailed, StateDone))
	assert.False(t, CanTransition(StateQueued, StateRunning))
	assert.False(t, CanTransition(StateDone, StateQueued))
	assert.False(t, CanTransition(StateSucceeded, StateRetrying))
}
