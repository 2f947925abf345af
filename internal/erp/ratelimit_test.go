package erp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextDelayClampsHint(t *testing.T) {
	rc := NewRateController(500*time.Millisecond, 2*time.Second, 0, time.Second)

	assert.Equal(t, time.Second, rc.NextDelay())

	rc.ObserveRateLimit(20 * time.Second) // hint jumps to the ceiling
	assert.Equal(t, 2*time.Second, rc.NextDelay(), "delay is clamped at max")

	// Decay the hint all the way down and verify the min clamp.
	rc2 := NewRateController(500*time.Millisecond, 2*time.Second, 0, 100*time.Millisecond)
	assert.Equal(t, 500*time.Millisecond, rc2.NextDelay())
}

func TestNextDelayJitterBounds(t *testing.T) {
	rc := NewRateController(500*time.Millisecond, 2*time.Second, 250*time.Millisecond, time.Second)

	for i := 0; i < 50; i++ {
		d := rc.NextDelay()
		assert.GreaterOrEqual(t, d, time.Second)
		assert.Less(t, d, time.Second+250*time.Millisecond)
	}
}

func TestObserveRateLimitRaisesAndCaps(t *testing.T) {
	rc := NewRateController(0, time.Minute, 0, 100*time.Millisecond)

	rc.ObserveRateLimit(4 * time.Second)
	assert.Equal(t, 2*time.Second, rc.Hint(), "half the backoff becomes the hint")

	// A smaller backoff never lowers an elevated hint.
	rc.ObserveRateLimit(time.Second)
	assert.Equal(t, 2*time.Second, rc.Hint())

	rc.ObserveRateLimit(time.Hour)
	assert.Equal(t, 5*time.Second, rc.Hint(), "hint is capped")
}

func TestObserveSuccessDecaysTowardDefault(t *testing.T) {
	rc := NewRateController(0, time.Minute, 0, 100*time.Millisecond)
	rc.ObserveRateLimit(4 * time.Second)

	rc.ObserveSuccess()
	assert.Equal(t, 1800*time.Millisecond, rc.Hint())

	for i := 0; i < 100; i++ {
		rc.ObserveSuccess()
	}
	assert.Equal(t, 100*time.Millisecond, rc.Hint(), "decay floors at the default")
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	rc := NewRateController(time.Minute, time.Minute, 0, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rc.Wait(ctx), context.Canceled)
}
