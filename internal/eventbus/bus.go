package eventbus

import (
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	logx "scanwatch/pkg/logx"
)

// Type names a lifecycle transition.
type Type string

const (
	JobQueued                 Type = "job_queued"
	JobStarted                Type = "job_started"
	JobRetrying               Type = "job_retrying"
	JobSucceeded              Type = "job_succeeded"
	JobFailed                 Type = "job_failed"
	CandidatesFound           Type = "candidates_found"
	SearchDeferredIdle        Type = "search_deferred_idle"
	SearchDeferredConcurrency Type = "search_deferred_concurrency"
)

// Event is an immutable lifecycle record.
//
// Payload is one of the payload types in payload.go and should be treated as read-only
// by subscribers.
type Event struct {
	Type     Type      `json:"type"`
	Time     time.Time `json:"time"`
	JobID    string    `json:"job_id,omitempty"`
	SearchID string    `json:"search_id,omitempty"`
	Payload  any       `json:"payload,omitempty"`
}

// Handler receives events. A returned error is logged and never affects other subscribers.
type Handler func(e Event) error

// Filter selects events for a subscriber. A nil Filter matches everything.
type Filter func(e Event) bool

// Types returns a Filter matching any of the given types.
func Types(types ...Type) Filter {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// Bus is an in-process publish/subscribe hub.
//
// Contract:
//   - Publish delivers synchronously, in publish order, to every subscriber registered
//     at the time of the call.
//   - A subscriber that errors or panics is isolated: delivery to the others continues
//     and Publish never panics.
//   - There is no replay; late subscribers only see later events.
type Bus interface {
	Publish(e Event)
	Subscribe(filter Filter, h Handler) (unsubscribe func())
}

type subscriber struct {
	id     uint64
	filter Filter
	h      Handler
}

type memBus struct {
	log logx.Logger
	now func() time.Time

	mu   sync.RWMutex
	subs []subscriber
	seq  atomic.Uint64

	failures atomic.Uint64
}

// Option configures the bus.
type Option func(*memBus)

// WithLogger sets where subscriber failures are reported.
func WithLogger(log logx.Logger) Option { return func(b *memBus) { b.log = log } }

// WithClock overrides the timestamp source used for events without a Time.
func WithClock(now func() time.Time) Option { return func(b *memBus) { b.now = now } }

// New returns a synchronous in-memory bus. It owns no goroutines.
func New(opts ...Option) Bus {
	b := &memBus{log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = b.now()
	}
	// Snapshot so handlers can subscribe/unsubscribe without deadlocking.
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		b.deliver(s, e)
	}
}

func (b *memBus) deliver(s subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.failures.Add(1)
			b.log.Error("event subscriber panicked",
				logx.Uint64("subscriber", s.id),
				logx.String("type", string(e.Type)),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := s.h(e); err != nil {
		b.failures.Add(1)
		b.log.Warn("event subscriber failed",
			logx.Uint64("subscriber", s.id),
			logx.String("type", string(e.Type)),
			logx.Err(err),
		)
	}
}

func (b *memBus) Subscribe(filter Filter, h Handler) func() {
	if h == nil {
		return func() {}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	// Copy-on-write keeps Publish snapshots stable.
	next := make([]subscriber, 0, len(b.subs)+1)
	next = append(next, b.subs...)
	next = append(next, subscriber{id: id, filter: filter, h: h})
	b.subs = next
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			next := make([]subscriber, 0, len(b.subs))
			for _, s := range b.subs {
				if s.id != id {
					next = append(next, s)
				}
			}
			b.subs = next
			b.mu.Unlock()
		})
	}
}

// SubscribeChan adapts the bus to a buffered channel for goroutine consumers.
//
// Delivery into the channel is non-blocking: when the buffer is full the event is
// dropped and counted. The channel is closed by unsubscribe.
func SubscribeChan(b Bus, filter Filter, buffer int) (<-chan Event, func(), *atomic.Uint64) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	var dropped atomic.Uint64
	var mu sync.Mutex
	closed := false

	unsub := b.Subscribe(filter, func(e Event) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		select {
		case ch <- e:
			return nil
		default:
			dropped.Add(1)
			return errors.Newf("channel subscriber full (cap=%d)", cap(ch))
		}
	})

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			unsub()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}, &dropped
}
