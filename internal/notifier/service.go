package notifier

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"scanwatch/internal/eventbus"
	rtsup "scanwatch/internal/runtime/supervisor"
	"scanwatch/internal/scan/retry"
	logx "scanwatch/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// Service queues announcements and delivers them to every sink from a small worker
// pool. It is safe for concurrent use.
type Service struct {
	log   logx.Logger
	sinks []Sink

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	policy  retry.Policy
	run     *pipeline // nil when not started

	seen    *suppressor
	history ring
	dropped atomic.Uint64
}

// pipeline is one Start..Stop lifetime.
type pipeline struct {
	queue   chan Message
	sup     *rtsup.Supervisor
	intake  sync.WaitGroup // Notify calls about to enqueue
	closing bool           // guarded by Service.mu
	done    chan struct{}
}

// New builds a stopped service. marks may be nil.
func New(cfg Config, sinks []Sink, marks Marks, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log.With(logx.String("comp", "notifier")),
		sinks:   sinks,
		history: ring{limit: historyLimit},
	}
	cfg = cfg.withDefaults()
	s.seen = newSuppressor(cfg.DedupMaxEntries, marks)
	s.setConfig(cfg)
	return s
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// setConfig expects cfg with defaults applied. Callers other than New hold mu.
func (s *Service) setConfig(cfg Config) {
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	s.policy = retry.Policy{
		BaseDelay:   cfg.RetryBase,
		MaxAttempts: cfg.RetryMax + 1,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      0.3,
	}
	s.seen.resize(cfg.DedupMaxEntries)
}

// Apply replaces rate, retry and dedup settings. Workers and QueueSize are read by
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.setConfig(cfg.withDefaults())
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabledLocked()
}

func (s *Service) enabledLocked() bool { return s.cfg.Enabled && len(s.sinks) > 0 }

// Attach announces every candidates_found event published on bus.
func (s *Service) Attach(bus eventbus.Bus) (unsubscribe func()) {
	return bus.Subscribe(eventbus.Types(eventbus.CandidatesFound), func(e eventbus.Event) error {
		msg, ok := MessageFromEvent(e)
		if !ok {
			return nil
		}
		switch err := s.Notify(context.Background(), msg); {
		case err == nil, errors.Is(err, ErrDisabled), errors.Is(err, ErrStopped):
			return nil
		case errors.Is(err, ErrQueueFull):
			s.log.Warn("announcement dropped", logx.String("search_id", e.SearchID), logx.Err(err))
			return nil
		default:
			return err
		}
	})
}

// Alert implements logx.AlertSink.
func (s *Service) Alert(ctx context.Context, text string) error {
	return s.Notify(ctx, Message{Key: alertKey(text), Text: text, At: time.Now()})
}

// Start launches the workers. It is a no-op when disabled or already running; a
// Stop in progress is waited for first.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if p := s.run; p != nil && p.closing {
		s.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.run != nil || !s.enabledLocked() {
		s.mu.Unlock()
		return
	}
	p := &pipeline{
		queue: make(chan Message, s.cfg.QueueSize),
		sup:   rtsup.New(ctx, rtsup.WithLogger(s.log)),
		done:  make(chan struct{}),
	}
	s.run = p
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := range workers {
		// a worker returns once the queue is closed; panics restart it
		p.sup.GoRestart("notifier.worker."+strconv.Itoa(i), func(c context.Context) error {
			s.work(c, p.queue)
			return nil
		}, rtsup.WithPublishFirstError(true))
	}
}

// Stop refuses new messages and waits, until ctx is done, for the queue to drain.
// Messages still queued when ctx expires are dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	p := s.run
	if p == nil {
		s.mu.Unlock()
		return
	}
	first := !p.closing
	p.closing = true
	s.mu.Unlock()

	if first {
		go func() {
			p.intake.Wait()
			close(p.queue)
			_ = p.sup.Wait(context.Background())
			s.mu.Lock()
			s.run = nil
			s.mu.Unlock()
			close(p.done)
		}()
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		p.sup.Cancel()
	}
}

// Notify enqueues msg without waiting for delivery. A message whose Key was sent
// within DedupWindow is accepted and discarded.
func (s *Service) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.enabledLocked() {
		s.mu.Unlock()
		return ErrDisabled
	}
	p := s.run
	if p == nil || p.closing {
		s.mu.Unlock()
		return ErrStopped
	}
	p.intake.Add(1)
	window := s.cfg.DedupWindow
	s.mu.Unlock()
	defer p.intake.Done()

	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	if window > 0 && msg.Key != "" && !s.seen.allow(ctx, msg.Key, msg.At.Add(window), msg.At) {
		s.log.Debug("announcement deduped", logx.String("key", msg.Key))
		return nil
	}

	select {
	case p.queue <- msg:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Dropped counts messages refused because the queue was full.
func (s *Service) Dropped() uint64 { return s.dropped.Load() }

// History returns the most recent delivery attempts, oldest first.
func (s *Service) History() []HistoryItem { return s.history.items() }
