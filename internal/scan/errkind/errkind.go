// Package errkind classifies capture failures and deferrals.
//
// Kinds are attached with cockroachdb/errors marks, so they survive wrapping
// (errors.Wrapf) across package boundaries.
package errkind

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Kind is the error taxonomy consumed by the retry policy.
type Kind string

const (
	CaptureTimeout      Kind = "capture_timeout"
	CaptureAgentError   Kind = "capture_agent_error"
	SourceUnavailable   Kind = "source_unavailable"
	ConcurrencyRejected Kind = "concurrency_rejected"
	IdleDeferred        Kind = "idle_deferred"
)

var markers = map[Kind]error{
	CaptureTimeout:      errors.New(string(CaptureTimeout)),
	CaptureAgentError:   errors.New(string(CaptureAgentError)),
	SourceUnavailable:   errors.New(string(SourceUnavailable)),
	ConcurrencyRejected: errors.New(string(ConcurrencyRejected)),
	IdleDeferred:        errors.New(string(IdleDeferred)),
}

// order used by Of when several marks are present; the most specific wins.
var precedence = []Kind{SourceUnavailable, CaptureTimeout, ConcurrencyRejected, IdleDeferred, CaptureAgentError}

// IsDeferral reports whether k is a deferral rather than a failure.
func (k Kind) IsDeferral() bool { return k == ConcurrencyRejected || k == IdleDeferred }

func (k Kind) String() string { return string(k) }

// Mark attaches kind to err. Mark(nil, k) is nil.
func Mark(err error, k Kind) error {
	if err == nil {
		return nil
	}
	ref, ok := markers[k]
	if !ok {
		return err
	}
	return errors.Mark(err, ref)
}

// New returns a new error of the given kind.
func New(k Kind, msg string) error { return Mark(errors.New(msg), k) }

// Newf is New with formatting.
func Newf(k Kind, format string, args ...any) error {
	return Mark(errors.Newf(format, args...), k)
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool {
	ref, ok := markers[k]
	if !ok || err == nil {
		return false
	}
	return errors.Is(err, ref)
}

// Of classifies err. Unmarked errors are agent errors, except a context deadline which
// is a timeout. Of(nil) is "".
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range precedence {
		if Is(err, k) {
			return k
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CaptureTimeout
	}
	return CaptureAgentError
}

// RetryAfter attaches a suggested delay before retrying, e.g. from an HTTP 429.
func RetryAfter(err error, after time.Duration) error {
	if err == nil {
		return nil
	}
	if after < 0 {
		after = 0
	}
	return &retryAfterError{err: err, after: after}
}

// RetryAfterError is implemented by errors that carry an explicit retry delay.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// RetryAfterHint returns the delay hint carried by err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return ra.RetryAfter(), true
	}
	return 0, false
}

type retryAfterError struct {
	err   error
	after time.Duration
}

func (e *retryAfterError) Error() string {
	return fmt.Sprintf("retry-after(%s): %v", e.after, e.err)
}
func (e *retryAfterError) Unwrap() error             { return e.err }
func (e *retryAfterError) RetryAfter() time.Duration { return e.after }

// ParseRetryAfter reads an HTTP Retry-After value given as delay-seconds or an HTTP date.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}
