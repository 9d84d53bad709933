package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/scan/errkind"
	logx "scanwatch/pkg/logx"
)

const (
	sendTimeout  = 10 * time.Second
	historyLimit = 300
)

func (s *Service) work(ctx context.Context, q <-chan Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, msg)
		}
	}
}

// deliver sends msg to every sink. The dedup mark is stored once any sink accepted it.
func (s *Service) deliver(ctx context.Context, msg Message) {
	s.mu.Lock()
	window := s.cfg.DedupWindow
	s.mu.Unlock()

	delivered := false
	for _, sink := range s.sinks {
		item := HistoryItem{Sink: sink.Name(), Key: msg.Key, Text: msg.Text}
		err := s.send(ctx, sink, msg)
		if err != nil && ctx.Err() != nil {
			return
		}
		item.At = time.Now()
		if err != nil {
			item.Failed, item.Error = true, err.Error()
			s.log.Warn("announcement failed",
				logx.String("sink", sink.Name()),
				logx.String("search_id", msg.SearchID),
				logx.Err(err),
			)
		} else {
			delivered = true
		}
		s.history.add(item)
	}

	if delivered && window > 0 && msg.Key != "" {
		if err := s.seen.mark(msg.Key, time.Now().Add(window)); err != nil {
			s.log.Debug("dedup mark not stored", logx.String("key", msg.Key), logx.Err(err))
		}
	}
}

// send tries one sink until it succeeds or the retry policy gives up.
func (s *Service) send(ctx context.Context, sink Sink, msg Message) error {
	s.mu.Lock()
	lim, policy := s.limiter, s.policy
	s.mu.Unlock()

	for attempt := 1; ; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sink.Send(sctx, msg)
		cancel()
		if err == nil {
			return nil
		}

		d := policy.DecideErr(attempt, errkind.Of(err), err)
		if d.GaveUp() {
			return errors.Wrapf(err, "after %d attempt(s)", attempt)
		}
		s.log.Debug("send failed; retrying",
			logx.String("sink", sink.Name()),
			logx.Int("attempt", attempt),
			logx.Duration("after", d.After),
			logx.Err(err),
		)
		t := time.NewTimer(d.After)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// ring keeps the last limit history items.
type ring struct {
	mu    sync.Mutex
	limit int
	buf   []HistoryItem
}

func (r *ring) add(it HistoryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, it)
	if over := len(r.buf) - r.limit; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
}

func (r *ring) items() []HistoryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HistoryItem(nil), r.buf...)
}
