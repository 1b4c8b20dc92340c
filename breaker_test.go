package rewritegate_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	rw "github.com/ineyio/rewritegate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestBreaker_ClosedByDefault(t *testing.T) {
	b := rw.NewBreaker(time.Minute)
	assert.Equal(t, rw.BreakerClosed, b.State(rw.ProviderGroq))
	assert.NoError(t, b.Check(rw.ProviderGroq))
}

func TestBreaker_OpensOnFailure(t *testing.T) {
	clock := newFakeClock()
	b := rw.NewBreaker(time.Minute, rw.WithClock(clock.Now))

	cause := errors.New("credential missing")
	b.RecordFailure(rw.ProviderGroq, cause)

	assert.Equal(t, rw.BreakerOpen, b.State(rw.ProviderGroq))
	assert.Equal(t, cause, b.Check(rw.ProviderGroq))

	// Other providers are unaffected.
	assert.NoError(t, b.Check(rw.ProviderOpenAI))
}

func TestBreaker_HalfOpenAllowsSingleProbe(t *testing.T) {
	clock := newFakeClock()
	b := rw.NewBreaker(time.Minute, rw.WithClock(clock.Now))

	cause := errors.New("credential missing")
	b.RecordFailure(rw.ProviderGroq, cause)

	clock.Advance(59 * time.Second)
	assert.Error(t, b.Check(rw.ProviderGroq))

	clock.Advance(time.Second)
	assert.Equal(t, rw.BreakerHalfOpen, b.State(rw.ProviderGroq))
	require.NoError(t, b.Check(rw.ProviderGroq))
	assert.Equal(t, cause, b.Check(rw.ProviderGroq), "second caller must wait for the probe")
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := rw.NewBreaker(time.Minute, rw.WithClock(clock.Now))

	b.RecordFailure(rw.ProviderGroq, errors.New("boom"))
	clock.Advance(time.Minute)
	require.NoError(t, b.Check(rw.ProviderGroq))

	b.RecordSuccess(rw.ProviderGroq)
	assert.Equal(t, rw.BreakerClosed, b.State(rw.ProviderGroq))
	assert.NoError(t, b.Check(rw.ProviderGroq))
	assert.NoError(t, b.Check(rw.ProviderGroq))
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := rw.NewBreaker(time.Minute, rw.WithClock(clock.Now))

	b.RecordFailure(rw.ProviderGroq, errors.New("first"))
	clock.Advance(time.Minute)
	require.NoError(t, b.Check(rw.ProviderGroq))

	second := errors.New("second")
	b.RecordFailure(rw.ProviderGroq, second)
	assert.Equal(t, rw.BreakerOpen, b.State(rw.ProviderGroq))
	assert.Equal(t, second, b.Check(rw.ProviderGroq))
}

func TestBreaker_DefaultCooldown(t *testing.T) {
	clock := newFakeClock()
	b := rw.NewBreaker(0, rw.WithClock(clock.Now))

	b.RecordFailure(rw.ProviderGemini, errors.New("boom"))
	clock.Advance(30 * time.Second)
	assert.Equal(t, rw.BreakerOpen, b.State(rw.ProviderGemini))
	clock.Advance(30 * time.Second)
	assert.Equal(t, rw.BreakerHalfOpen, b.State(rw.ProviderGemini))
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", rw.BreakerClosed.String())
	assert.Equal(t, "open", rw.BreakerOpen.String())
	assert.Equal(t, "half_open", rw.BreakerHalfOpen.String())
}
