// Package retry maps a failed attempt to a backoff decision.
package retry

import (
	"math/rand"
	"time"

	"scanwatch/internal/scan/errkind"
)

// Policy holds the backoff constants. Zero fields take the documented defaults.
type Policy struct {
	BaseDelay   time.Duration // default 1s
	Multiplier  float64       // default 2
	MaxAttempts int           // default 3
	MaxDelay    time.Duration // default 15m
	// Jitter is a ±fraction applied to the computed delay, e.g. 0.2. Default 0.
	Jitter float64
	// Rand supplies jitter randomness; nil falls back to math/rand.
	Rand func() float64
}

const (
	DefaultBaseDelay   = time.Second
	DefaultMultiplier  = 2.0
	DefaultMaxAttempts = 3
	DefaultMaxDelay    = 15 * time.Minute
)

// Default returns the policy with every default applied.
func Default() Policy { return Policy{}.normalized() }

func (p Policy) normalized() Policy {
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Decision is Retry(after) or GiveUp.
type Decision struct {
	Retry bool
	After time.Duration
}

func GiveUp() Decision {
	return Decision{}
}

func RetryIn(d time.Duration) Decision {
	return Decision{Retry: true, After: d}
}

func (d Decision) GaveUp() bool {
	return !d.Retry
}

// Decide maps the number of failed attempts so far (1 after the first failure) and the
// error kind to a decision. Deferral kinds are not failures and always yield GiveUp;
// callers must not route them here.
func (p Policy) Decide(attempt int, kind errkind.Kind) Decision {
	return p.DecideErr(attempt, kind, nil)
}

// DecideErr is Decide with access to the error, so a RetryAfter hint can replace the
// computed delay (still capped at MaxDelay).
func (p Policy) DecideErr(attempt int, kind errkind.Kind, err error) Decision {
	p = p.normalized()
	switch kind {
	case errkind.SourceUnavailable, errkind.ConcurrencyRejected, errkind.IdleDeferred:
		return GiveUp()
	}
	if attempt >= p.MaxAttempts {
		return GiveUp()
	}
	if attempt < 1 {
		attempt = 1
	}

	if hint, ok := errkind.RetryAfterHint(err); ok {
		return RetryIn(p.jitter(min(hint, p.MaxDelay)))
	}
	return RetryIn(p.jitter(p.Backoff(attempt)))
}

// Backoff returns BaseDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(d, p.MaxDelay)
}

func (p Policy) jitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	rnd := p.Rand
	if rnd == nil {
		rnd = rand.Float64
	}
	r := (rnd()*2 - 1) * p.Jitter
	d = time.Duration(float64(d) * (1 + r))
	if d < 0 {
		d = 0
	}
	return min(d, p.MaxDelay)
}
