package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
)

const markTimeout = 250 * time.Millisecond

// suppressor remembers recently sent keys in a bounded LRU and, when marks is set,
// in storage so a restart honours them too.
type suppressor struct {
	mu    sync.Mutex
	until *simplelru.LRU // key -> time.Time
	marks Marks
}

func newSuppressor(size int, marks Marks) *suppressor {
	l, _ := simplelru.NewLRU(max(size, 1), nil)
	return &suppressor{until: l, marks: marks}
}

func (p *suppressor) resize(size int) {
	p.mu.Lock()
	p.until.Resize(max(size, 1))
	p.mu.Unlock()
}

func (p *suppressor) suppressed(key string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.until.Get(key)
	if !ok {
		return false
	}
	if now.Before(v.(time.Time)) {
		return true
	}
	p.until.Remove(key)
	return false
}

// allow reports whether key may be sent at now, and if so reserves it until expiry.
func (p *suppressor) allow(ctx context.Context, key string, expiry, now time.Time) bool {
	if p.suppressed(key, now) {
		return false
	}
	if p.marks != nil {
		mctx, cancel := context.WithTimeout(ctx, markTimeout)
		stored, ok, err := p.marks.GetMark(mctx, key)
		cancel()
		if err == nil && ok && now.Before(stored) {
			p.mu.Lock()
			p.until.Add(key, stored)
			p.mu.Unlock()
			return false
		}
	}
	p.mu.Lock()
	p.until.Add(key, expiry)
	p.mu.Unlock()
	return true
}

// mark persists key until the given time. Without marks it does nothing.
func (p *suppressor) mark(key string, until time.Time) error {
	if p.marks == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), markTimeout)
	defer cancel()
	return p.marks.PutMark(ctx, key, until)
}
