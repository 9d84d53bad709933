package supervisor

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/cockroachdb/errors"

	logx "scanwatch/pkg/logx"
)

// A run that lasted at least this long before failing starts the backoff over.
const stableRun = 30 * time.Second

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max time.Duration
	limit    int // <= 0: unlimited
	publish  bool
}

// WithRestartBackoff sets the first and the largest delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts gives up after n restarts. The first run does not count.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.limit = n } }

// WithPublishFirstError makes a failure visible through Err even though the
// goroutine is restarted.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.publish = enabled }
}

// delay is the wait before restart number n (1-based): min doubled n-1 times, capped
// at max, plus up to 20% jitter.
func (p restartPolicy) delay(n int) time.Duration {
	d := p.min
	for i := 1; i < n && d < p.max; i++ {
		d *= 2
	}
	d = min(d, p.max)
	if j := int64(d / 5); j > 0 {
		d += time.Duration(rand.Int64N(j + 1))
	}
	return d
}

// GoRestart runs fn and runs it again after a backoff whenever it fails or panics.
// It stops when fn returns nil, the context is canceled, or the restart limit is hit.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.loops.finished(name)

		restarts, streak := 0, 0
		for s.ctx.Err() == nil {
			began := time.Now()
			s.loops.started(name, restarts > 0)

			err := s.call(name, fn)
			if s.ctx.Err() != nil || stopped(err) {
				return
			}
			err = errors.Wrap(err, name)
			s.loops.failed(name, err)
			if p.publish {
				s.record(err)
			}

			restarts++
			if p.limit > 0 && restarts > p.limit {
				s.log.Error("goroutine gave up after restarts",
					logx.String("name", name),
					logx.Int("restarts", restarts-1),
					logx.Err(err),
				)
				s.fatal(err)
				return
			}

			if time.Since(began) >= stableRun {
				streak = 0
			}
			streak++
			wait := p.delay(streak)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-s.ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}()
}
