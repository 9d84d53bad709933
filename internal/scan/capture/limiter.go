package capture

import (
	"context"
	"sync"
)

// Token is a held limiter slot. The zero Token is never issued.
type Token struct{ id uint64 }

func (t Token) Valid() bool { return t.id != 0 }

// Limiter is a non-blocking counting semaphore for capture sessions.
// Slots are pre-filled up to capacity; capacity is fixed for the life of the limiter.
type Limiter struct {
	capacity int
	slots    chan struct{}

	mu      sync.Mutex
	seq     uint64
	held    map[uint64]struct{}
	drained chan struct{} // closed whenever held is empty
}

// NewLimiter returns a limiter with the given capacity (minimum 1).
func NewLimiter(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	l := &Limiter{
		capacity: capacity,
		slots:    make(chan struct{}, capacity),
		held:     make(map[uint64]struct{}, capacity),
		drained:  make(chan struct{}),
	}
	for i := 0; i < capacity; i++ {
		l.slots <- struct{}{}
	}
	close(l.drained)
	return l
}

// TryAcquire takes a slot without blocking.
func (l *Limiter) TryAcquire() (Token, bool) {
	select {
	case <-l.slots:
	default:
		return Token{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	if len(l.held) == 0 {
		l.drained = make(chan struct{})
	}
	l.held[l.seq] = struct{}{}
	return Token{id: l.seq}, true
}

// Release returns the slot held by tok. Releasing an unknown or already released
// token is a no-op.
func (l *Limiter) Release(tok Token) {
	l.mu.Lock()
	if _, ok := l.held[tok.id]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.held, tok.id)
	if len(l.held) == 0 {
		close(l.drained)
	}
	l.mu.Unlock()

	// never blocks: every held token owns exactly one missing slot
	select {
	case l.slots <- struct{}{}:
	default:
	}
}

func (l *Limiter) InUse() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}

func (l *Limiter) Capacity() int { return l.capacity }

// Wait blocks until no slot is held or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	ch := l.drained
	l.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
