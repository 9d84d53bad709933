// Package scheduler turns due searches into scan jobs and drives them through the
// idle gate, the capture limiter, the capture session, dedup and the retry policy.
//
// Tick is the only entry point that creates jobs. Captures run asynchronously; their
// completions re-enter the scheduler under its lock. Lifecycle events are queued in
// an outbox while the lock is held and published, in order, after it is released.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"scanwatch/internal/eventbus"
	"scanwatch/internal/scan/capture"
	"scanwatch/internal/scan/dedup"
	"scanwatch/internal/scan/errkind"
	"scanwatch/internal/scan/idle"
	"scanwatch/internal/scan/registry"
	"scanwatch/internal/scan/retry"
	logx "scanwatch/pkg/logx"
)

var (
	ErrDisabled = errors.New("search disabled")
	ErrStopped  = errors.New("scheduler stopped")
)

const recentJobs = 50

// Config carries the tunables that may change at runtime.
type Config struct {
	CaptureTimeout time.Duration
	Idle           idle.Policy
	Retry          retry.Policy
}

// Deps are the collaborators owned by the engine.
type Deps struct {
	Registry *registry.Registry
	Limiter  *capture.Limiter
	Dedup    *dedup.Deduplicator
	Gate     *idle.Gate
	Agent    capture.Agent
	Bus      eventbus.Bus
	Log      logx.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	reg     *registry.Registry
	limiter *capture.Limiter
	dedup   *dedup.Deduplicator
	gate    *idle.Gate
	session *capture.Session
	bus     eventbus.Bus
	log     logx.Logger
	clock   func() time.Time

	tickMu sync.Mutex

	mu       sync.Mutex
	cfg      Config
	seq      uint64
	jobs     map[string]*Job // by search ID; only outstanding jobs
	forced   map[string]bool
	recent   []Job
	timers   map[*time.Timer]struct{}
	outbox   []eventbus.Event
	flushing bool
	flushed  *sync.Cond
	stopped  bool

	wake     chan struct{}
	inflight sync.WaitGroup
}

func New(cfg Config, d Deps) *Scheduler {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.New()
	}
	if d.Limiter == nil {
		d.Limiter = capture.NewLimiter(1)
	}
	if d.Dedup == nil {
		d.Dedup = dedup.New(dedup.Config{})
	}
	if d.Registry == nil {
		d.Registry = registry.New(registry.WithClock(d.Clock))
	}
	log := d.Log.With(logx.String("comp", "scheduler"))
	s := &Scheduler{
		reg:     d.Registry,
		limiter: d.Limiter,
		dedup:   d.Dedup,
		gate:    d.Gate,
		session: capture.NewSession(d.Agent, log),
		bus:     d.Bus,
		log:     log,
		clock:   d.Clock,
		cfg:     cfg,
		jobs:    map[string]*Job{},
		forced:  map[string]bool{},
		timers:  map[*time.Timer]struct{}{},
		wake:    make(chan struct{}, 1),
	}
	s.flushed = sync.NewCond(&s.mu)
	return s
}

// SetConfig swaps the runtime tunables. In-flight captures keep their timeout.
func (s *Scheduler) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Tick runs one scheduling pass at now. It reports false when another tick was
// still running, in which case it did nothing.
func (s *Scheduler) Tick(now time.Time) bool {
	if !s.tickMu.TryLock() {
		s.log.Debug("tick skipped: previous tick still running")
		return false
	}
	defer s.tickMu.Unlock()

	due := s.reg.DueSearches(now)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return true
	}
	s.dropOrphans()
	s.enqueue(now, due)
	s.admit(now)
	s.mu.Unlock()

	s.flush()
	return true
}

// dropOrphans removes waiting jobs whose search was removed, replaced or disabled.
// Running jobs are left to finish.
func (s *Scheduler) dropOrphans() {
	for id, j := range s.jobs {
		if j.State != StateQueued && j.State != StateRetrying {
			continue
		}
		cur, ok := s.reg.Get(id)
		stale := ok && j.gen != 0 && j.gen != cur.Generation()
		if ok && cur.Enabled && !stale {
			continue
		}
		s.log.Debug("dropping waiting job",
			logx.String("job", j.ID), logx.String("search", id), logx.Bool("removed", !ok || stale))
		delete(s.jobs, id)
	}
	for id := range s.forced {
		if !s.reg.Has(id) {
			delete(s.forced, id)
		}
	}
}

func (s *Scheduler) enqueue(now time.Time, due []registry.SavedSearch) {
	ids := make([]string, 0, len(due)+len(s.forced))
	seen := make(map[string]bool, cap(ids))
	for _, sr := range due {
		ids = append(ids, sr.ID)
		seen[sr.ID] = true
	}
	var extra []string
	for id := range s.forced {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	ids = append(ids, extra...)

	for _, id := range ids {
		forced := s.forced[id]
		delete(s.forced, id)
		if _, busy := s.jobs[id]; busy {
			continue
		}
		s.seq++
		j := &Job{
			ID:       uuid.NewString(),
			SearchID: id,
			State:    StateQueued,
			Forced:   forced,
			QueuedAt: now,
			seq:      s.seq,
			history:  []State{StateQueued},
		}
		s.jobs[id] = j
		s.emit(eventbus.Event{
			Type: eventbus.JobQueued, Time: now, JobID: j.ID, SearchID: id,
			Payload: eventbus.JobPayload{Attempt: j.Attempt, Forced: forced},
		})
	}
}

// waiting returns queued jobs and retrying jobs whose backoff elapsed, oldest first.
func (s *Scheduler) waiting(now time.Time) []*Job {
	var out []*Job
	for _, j := range s.jobs {
		switch j.State {
		case StateQueued:
			out = append(out, j)
		case StateRetrying:
			if !j.RetryAt.After(now) {
				out = append(out, j)
			}
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].seq < out[b].seq })
	return out
}

func (s *Scheduler) admit(now time.Time) {
	for _, j := range s.waiting(now) {
		search, ok := s.reg.Get(j.SearchID)
		if !ok {
			delete(s.jobs, j.SearchID)
			continue
		}
		if s.gate.ShouldDefer(s.cfg.Idle) {
			s.emit(eventbus.Event{
				Type: eventbus.SearchDeferredIdle, Time: now, JobID: j.ID, SearchID: j.SearchID,
				Payload: eventbus.DeferPayload{Attempt: j.Attempt, Reason: string(errkind.IdleDeferred)},
			})
			continue
		}
		tok, ok := s.limiter.TryAcquire()
		if !ok {
			s.emit(eventbus.Event{
				Type: eventbus.SearchDeferredConcurrency, Time: now, JobID: j.ID, SearchID: j.SearchID,
				Payload: eventbus.DeferPayload{Attempt: j.Attempt, Reason: string(errkind.ConcurrencyRejected)},
			})
			continue
		}

		j.to(StateAdmitted)
		j.to(StateRunning)
		j.gen = search.Generation()
		j.StartedAt = now
		j.RetryAt = time.Time{}
		s.emit(eventbus.Event{
			Type: eventbus.JobStarted, Time: now, JobID: j.ID, SearchID: j.SearchID,
			Payload: eventbus.JobPayload{Attempt: j.Attempt + 1, Forced: j.Forced},
		})

		cj := capture.Job{ID: j.ID, SearchID: j.SearchID, Attempt: j.Attempt, Source: search.Source}
		timeout := s.cfg.CaptureTimeout
		s.inflight.Add(1)
		go s.execute(cj, tok, timeout)
	}
}

func (s *Scheduler) execute(cj capture.Job, tok capture.Token, timeout time.Duration) {
	defer s.inflight.Done()
	// exactly one release per admitted attempt, before subscribers see the outcome
	released := false
	release := func() {
		if !released {
			released = true
			s.limiter.Release(tok)
		}
	}
	defer release()

	res := s.session.Run(context.Background(), cj, timeout)
	s.complete(cj, res)
	release()
	s.flush()
}

// complete applies res to the job under the lock. The caller flushes the outbox.
func (s *Scheduler) complete(cj capture.Job, res capture.Result) {
	now := s.clock()

	s.mu.Lock()
	j := s.jobs[cj.SearchID]
	if j == nil || j.ID != cj.ID {
		s.mu.Unlock()
		return
	}
	search, ok := s.reg.Get(cj.SearchID)
	if !ok || search.Generation() != j.gen {
		// removed while running, possibly re-added since: discard the result
		s.log.Debug("discarding result of removed search", logx.String("job", j.ID), logx.String("search", cj.SearchID))
		delete(s.jobs, cj.SearchID)
		s.mu.Unlock()
		return
	}

	if res.Err == nil {
		s.succeed(j, search, res, now)
	} else {
		s.fail(j, res.Err, now)
	}
	s.mu.Unlock()
}

func (s *Scheduler) succeed(j *Job, search registry.SavedSearch, res capture.Result, now time.Time) {
	j.to(StateSucceeded)

	fresh := s.dedup.FilterNew(j.SearchID, res.Candidates, now)
	if len(fresh) > 0 {
		out := make([]eventbus.Candidate, 0, len(fresh))
		for _, c := range fresh {
			out = append(out, eventbus.Candidate{
				Fingerprint: c.Fingerprint,
				URL:         c.Payload.URL,
				Fields:      c.Payload.Fields,
				FirstSeenAt: c.FirstSeenAt,
			})
		}
		s.emit(eventbus.Event{
			Type: eventbus.CandidatesFound, Time: now, JobID: j.ID, SearchID: j.SearchID,
			Payload: eventbus.CandidatesPayload{SearchName: search.Name, Candidates: out},
		})
	}
	s.emit(eventbus.Event{
		Type: eventbus.JobSucceeded, Time: now, JobID: j.ID, SearchID: j.SearchID,
		Payload: eventbus.JobPayload{Attempt: j.Attempt + 1, Forced: j.Forced, Found: len(res.Candidates)},
	})
	s.finish(j, StateSucceeded, now)
}

func (s *Scheduler) fail(j *Job, err error, now time.Time) {
	kind := errkind.Of(err)
	if kind == errkind.CaptureTimeout {
		j.to(StateTimedOut)
	} else {
		j.to(StateFailed)
	}
	j.LastError = err.Error()
	j.Attempt++

	d := s.cfg.Retry.DecideErr(j.Attempt, kind, err)
	if d.Retry {
		j.to(StateRetrying)
		j.RetryAt = now.Add(d.After)
		s.emit(eventbus.Event{
			Type: eventbus.JobRetrying, Time: now, JobID: j.ID, SearchID: j.SearchID,
			Payload: eventbus.RetryPayload{Attempt: j.Attempt, After: d.After, Kind: string(kind), Error: j.LastError},
		})
		s.armWake(d.After)
		return
	}

	if j.State == StateTimedOut {
		j.to(StateFailed)
	}
	s.emit(eventbus.Event{
		Type: eventbus.JobFailed, Time: now, JobID: j.ID, SearchID: j.SearchID,
		Payload: eventbus.FailurePayload{Attempt: j.Attempt, Kind: string(kind), Error: j.LastError},
	})
	s.finish(j, StateFailed, now)
}

// finish records a completed cycle: the search's next run follows its cadence.
func (s *Scheduler) finish(j *Job, outcome State, now time.Time) {
	j.to(StateDone)
	j.Outcome = outcome
	t := now
	j.FinishedAt = &t
	delete(s.jobs, j.SearchID)

	s.recent = append(s.recent, j.copy())
	if len(s.recent) > recentJobs {
		s.recent = s.recent[len(s.recent)-recentJobs:]
	}

	if err := s.reg.MarkRun(j.SearchID, now); err != nil {
		s.log.Warn("mark run failed", logx.String("search", j.SearchID), logx.Err(err))
	}
}

// armWake schedules a tick kick for when a retry becomes eligible. Caller holds mu.
func (s *Scheduler) armWake(after time.Duration) {
	if s.stopped {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, t)
		s.mu.Unlock()
		s.kick()
	})
	s.timers[t] = struct{}{}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TriggerNow schedules id regardless of its cadence or pause. The job still goes
// through the idle gate, the limiter and the retry policy. When a job for id is
// already outstanding nothing new is created.
func (s *Scheduler) TriggerNow(id string) error {
	search, ok := s.reg.Get(id)
	if !ok {
		return errors.Wrapf(registry.ErrNotFound, "id %q", id)
	}
	if !search.Enabled {
		return errors.Wrapf(ErrDisabled, "id %q", id)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if _, busy := s.jobs[id]; !busy {
		s.forced[id] = true
	}
	s.mu.Unlock()

	if !s.Tick(s.clock()) {
		// the running tick may have missed the flag
		s.kick()
	}
	return nil
}

// SearchStatus is a search together with its outstanding job, if any.
type SearchStatus struct {
	registry.SavedSearch
	Job *Job `json:"job,omitempty"`
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	ActiveJobCount int            `json:"active_job_count"`
	QueuedCount    int            `json:"queued_count"`
	RetryingCount  int            `json:"retrying_count"`
	SlotsInUse     int            `json:"slots_in_use"`
	SlotsCapacity  int            `json:"slots_capacity"`
	Searches       []SearchStatus `json:"searches"`
}

func (s *Scheduler) Status() Status {
	searches := s.reg.List()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{SlotsInUse: s.limiter.InUse(), SlotsCapacity: s.limiter.Capacity()}
	for _, j := range s.jobs {
		switch j.State {
		case StateQueued:
			st.QueuedCount++
		case StateRetrying:
			st.RetryingCount++
		default:
			st.ActiveJobCount++
		}
	}
	st.Searches = make([]SearchStatus, 0, len(searches))
	for _, sr := range searches {
		ss := SearchStatus{SavedSearch: sr}
		if j, ok := s.jobs[sr.ID]; ok {
			c := j.copy()
			ss.Job = &c
		}
		st.Searches = append(st.Searches, ss)
	}
	return st
}

// Jobs returns the outstanding jobs ordered by creation.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.copy())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].seq < out[b].seq })
	return out
}

// Recent returns the most recently finished jobs, oldest first.
func (s *Scheduler) Recent() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.recent))
	copy(out, s.recent)
	return out
}

// Run ticks immediately, then at every interval and whenever a retry becomes
// eligible, until ctx is done. It does not wait for in-flight captures; see Drain.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("scheduler started", logx.Duration("interval", interval))
	s.Tick(s.clock())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return nil
		case <-ticker.C:
			s.Tick(s.clock())
		case <-s.wake:
			s.Tick(s.clock())
		}
	}
}

// Stop prevents new jobs and cancels retry wake-ups. In-flight captures continue.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for t := range s.timers {
		t.Stop()
	}
	s.timers = map[*time.Timer]struct{}{}
	s.mu.Unlock()
}

// Drain waits until every in-flight capture has completed and the limiter is back
// to zero in use.
func (s *Scheduler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "drain")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "drain")
	}

	// completions may have left their events with another goroutine's flush
	s.flush()
	s.mu.Lock()
	for s.flushing || len(s.outbox) > 0 {
		s.flushed.Wait()
	}
	s.mu.Unlock()
	return nil
}

// emit queues e for publication. Caller holds mu.
func (s *Scheduler) emit(e eventbus.Event) { s.outbox = append(s.outbox, e) }

// flush publishes queued events in order without holding mu, so subscribers may call
// back into the scheduler. Only one goroutine flushes at a time; events queued by
// others meanwhile are picked up by the active flusher.
func (s *Scheduler) flush() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	for len(s.outbox) > 0 {
		batch := s.outbox
		s.outbox = nil
		s.mu.Unlock()
		for _, e := range batch {
			s.bus.Publish(e)
		}
		s.mu.Lock()
	}
	s.flushing = false
	s.flushed.Broadcast()
	s.mu.Unlock()
}
