package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerFSM(t *testing.T) {
	t.Run("OpensAtThreshold", func(t *testing.T) {
		b := NewBreaker(5, time.Minute)

		for i := 0; i < 4; i++ {
			b.Failure()
		}
		assert.Equal(t, StateClosed, b.State(), "four failures keep the breaker closed")

		b.Failure()
		assert.Equal(t, StateOpen, b.State())
		assert.False(t, b.Allow())
	})

	t.Run("SuccessResetsCounter", func(t *testing.T) {
		b := NewBreaker(5, time.Minute)

		b.Failure()
		b.Failure()
		b.Success()

		assert.Equal(t, 0, b.ConsecutiveErrors())
		assert.Equal(t, StateClosed, b.State())
	})

	t.Run("HalfOpensAfterCooldown", func(t *testing.T) {
		b := NewBreaker(1, time.Minute)
		now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return now }

		b.Failure()
		assert.False(t, b.Allow())

		// Still inside the cooldown window.
		now = now.Add(59 * time.Second)
		assert.False(t, b.Allow())

		// Cooldown elapsed: the next call probes.
		now = now.Add(2 * time.Second)
		assert.True(t, b.Allow())
		assert.Equal(t, StateHalfOpen, b.State())
	})

	t.Run("HalfOpenSuccessCloses", func(t *testing.T) {
		b := NewBreaker(1, time.Minute)
		now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return now }

		b.Failure()
		now = now.Add(2 * time.Minute)
		assert.True(t, b.Allow())

		b.Success()

		assert.Equal(t, StateClosed, b.State())
		assert.Equal(t, 0, b.ConsecutiveErrors())
	})

	t.Run("CheckReturnsSentinelWhileOpen", func(t *testing.T) {
		b := NewBreaker(1, time.Minute)

		assert.NoError(t, b.Check())

		b.Failure()
		assert.ErrorIs(t, b.Check(), ErrBreakerOpen)

		b.Success()
		assert.NoError(t, b.Check())
	})

	t.Run("HalfOpenFailureReopens", func(t *testing.T) {
		b := NewBreaker(3, time.Minute)
		now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
		b.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			b.Failure()
		}
		now = now.Add(2 * time.Minute)
		assert.True(t, b.Allow())

		// The half-open probe fails: straight back to open, no threshold
		// worth of grace.
		b.Failure()

		assert.Equal(t, StateOpen, b.State())
		assert.False(t, b.Allow())
	})
}
