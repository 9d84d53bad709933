package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scanwatch/internal/scan/errkind"
)

func TestDecide_DefaultBackoff(t *testing.T) {
	p := Default()
	assert.Equal(t, DefaultBaseDelay, p.BaseDelay)

	tests := []struct {
		attempt int
		want    Decision
	}{
		{1, RetryIn(1 * time.Second)},
		{2, RetryIn(2 * time.Second)},
		{3, GiveUp()},
		{7, GiveUp()},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Decide(tt.attempt, errkind.CaptureAgentError), "attempt %d", tt.attempt)
	}
	assert.Equal(t, RetryIn(time.Second), p.Decide(1, errkind.CaptureTimeout))
}

func TestDecide_PermanentAndDeferralKinds(t *testing.T) {
	p := Policy{MaxAttempts: 10}
	assert.True(t, p.Decide(1, errkind.SourceUnavailable).GaveUp())
	assert.True(t, p.Decide(1, errkind.IdleDeferred).GaveUp())
	assert.True(t, p.Decide(1, errkind.ConcurrencyRejected).GaveUp())
}

func TestBackoff_CappedAtMaxDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Minute, Multiplier: 3, MaxAttempts: 100, MaxDelay: 10 * time.Minute}
	assert.Equal(t, time.Minute, p.Backoff(1))
	assert.Equal(t, 3*time.Minute, p.Backoff(2))
	assert.Equal(t, 9*time.Minute, p.Backoff(3))
	assert.Equal(t, 10*time.Minute, p.Backoff(4))
	assert.Equal(t, 10*time.Minute, p.Backoff(60))
}

func TestDecideErr_RetryAfterHint(t *testing.T) {
	p := Policy{MaxDelay: time.Minute}
	err := errkind.RetryAfter(errors.New("429"), 30*time.Second)
	assert.Equal(t, RetryIn(30*time.Second), p.DecideErr(1, errkind.CaptureAgentError, err))

	err = errkind.RetryAfter(errors.New("429"), time.Hour)
	assert.Equal(t, RetryIn(time.Minute), p.DecideErr(1, errkind.CaptureAgentError, err))

	assert.True(t, p.DecideErr(3, errkind.CaptureAgentError, err).GaveUp(), "hint does not extend attempts")
}

func TestJitter_Bounded(t *testing.T) {
	for _, r := range []float64{0, 0.25, 0.5, 0.999} {
		p := Policy{Jitter: 0.2, Rand: func() float64 { return r }}
		d := p.Decide(2, errkind.CaptureAgentError).After
		assert.GreaterOrEqual(t, d, 1600*time.Millisecond)
		assert.LessOrEqual(t, d, 2400*time.Millisecond)
	}
}

func TestDecide_Pure(t *testing.T) {
	p := Default()
	for i := 0; i < 3; i++ {
		assert.Equal(t, RetryIn(2*time.Second), p.Decide(2, errkind.CaptureAgentError))
	}
}
