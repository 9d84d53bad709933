// Package supervisor runs scanwatch's long-lived goroutines (tick loop, config watch,
// checkpoints, notifier workers, HTTP API) under one cancellable context.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/cockroachdb/errors"

	logx "scanwatch/pkg/logx"
)

// Supervisor tracks named goroutines sharing one context. A panic in a goroutine
// is recovered and treated as its error.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	wg       sync.WaitGroup
	waitOnce sync.Once
	drained  chan struct{}

	errMu sync.Mutex
	err   error

	loops loopTable
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context when a Go goroutine fails or a
// GoRestart goroutine runs out of restarts.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, drained: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context and returns immediately.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Supervisor) record(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

// fatal records err and, with WithCancelOnError, cancels everything.
func (s *Supervisor) fatal(err error) {
	s.record(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

// Snapshot lists every goroutine seen so far, running ones first.
func (s *Supervisor) Snapshot() []LoopStats { return s.loops.list() }

func (s *Supervisor) call(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		s.loops.update(name, func(st *LoopStats) { st.Panics++ })
		s.log.Error("goroutine panicked",
			logx.String("name", name),
			logx.Any("panic", r),
			logx.String("stack", string(debug.Stack())),
		)
		err = errors.Newf("panic in %s: %v", name, r)
	}()
	return fn(s.ctx)
}

func stopped(err error) bool { return err == nil || errors.Is(err, context.Canceled) }

// Go runs fn once. An error other than context.Canceled is recorded.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loops.started(name, false)
		defer s.loops.finished(name)

		s.log.Debug("goroutine started", logx.String("name", name))
		if err := s.call(name, fn); !stopped(err) {
			err = errors.Wrap(err, name)
			s.loops.failed(name, err)
			s.fatal(err)
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Stop cancels the context and waits for every goroutine.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.drained)
		}()
	})
	select {
	case <-s.drained:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
