// Package capture runs single capture attempts under a bounded number of slots.
package capture

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/scan/errkind"
	"scanwatch/internal/scan/registry"
	logx "scanwatch/pkg/logx"
)

// ErrUnknownKind is returned when no agent is registered for a source kind.
// It is permanent: retrying cannot help.
func ErrUnknownKind(kind string) error {
	return errkind.Newf(errkind.SourceUnavailable, "no capture agent for source kind %q", kind)
}

// Job is what a session needs to know about the attempt it drives.
type Job struct {
	ID       string
	SearchID string
	Attempt  int
	Source   registry.SourceDescriptor
}

// Session drives exactly one attempt of one job against an Agent.
//
// The caller acquires the limiter slot before Run and releases it after Run returns;
// Run itself never waits for an agent that overran its timeout.
type Session struct {
	agent Agent
	log   logx.Logger
}

func NewSession(agent Agent, log logx.Logger) *Session {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{agent: agent, log: log}
}

// Run invokes the agent and races it against timeout (0 disables the timeout).
//
// On timeout the agent's context is cancelled and Run returns immediately with a
// CaptureTimeout error; the agent goroutine is left to finish on its own. Agent
// panics are reported as CaptureAgentError.
func (s *Session) Run(ctx context.Context, job Job, timeout time.Duration) Result {
	res := Result{JobID: job.ID}
	if s.agent == nil {
		res.Err = ErrUnknownKind(job.Source.Kind)
		return res
	}

	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		cands []CandidateRaw
		err   error
	}
	// buffered so an abandoned agent never blocks on send
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("capture agent panicked",
					logx.String("job", job.ID),
					logx.String("search", job.SearchID),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				o = outcome{err: errkind.Mark(errors.Newf("capture agent panic: %s", fmt.Sprint(r)), errkind.CaptureAgentError)}
			}
			done <- o
		}()
		o.cands, o.err = s.agent.Capture(actx, job.Source)
	}()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case o := <-done:
		if o.err != nil {
			res.Err = errors.Wrapf(o.err, "capture %s", job.SearchID)
			return res
		}
		res.Candidates = o.cands
		return res
	case <-timer:
		res.Err = errkind.Newf(errkind.CaptureTimeout, "capture %s timed out after %s", job.SearchID, timeout)
		return res
	case <-ctx.Done():
		res.Err = errkind.Mark(errors.Wrapf(ctx.Err(), "capture %s", job.SearchID), errkind.CaptureTimeout)
		return res
	}
}
