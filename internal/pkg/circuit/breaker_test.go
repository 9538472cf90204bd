package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock(cb *CircuitBreaker, start time.Time) *time.Time {
	now := start
	cb.now = func() time.Time { return now }
	return &now
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("source", 2, time.Minute)
	now := fixedClock(cb, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))

	boom := errors.New("boom")
	assert.ErrorIs(t, cb.Do(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	assert.ErrorIs(t, cb.Do(func() error { called = true; return nil }), ErrOpen)
	assert.False(t, called)

	*now = now.Add(2 * time.Minute)
	assert.NoError(t, cb.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())

	st := cb.Stats()
	assert.Equal(t, "source", st.Name)
	assert.Equal(t, "CLOSED", st.State)
	assert.Equal(t, 1, st.Trips)
	assert.Equal(t, 0, st.Consecutive)
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("sink", 1, time.Second)
	now := fixedClock(cb, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	boom := errors.New("boom")

	assert.Error(t, cb.Do(func() error { return boom }))
	assert.Equal(t, StateOpen, cb.State())
	opened := cb.Stats().OpenedAt

	*now = now.Add(2 * time.Second)
	assert.ErrorIs(t, cb.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())
	assert.True(t, cb.Stats().OpenedAt.After(opened), "cooldown restarts")
	assert.Equal(t, 2, cb.Stats().Trips)
}

func TestBreakerHalfOpenAllowsSingleProbe(t *testing.T) {
	cb := NewCircuitBreaker("source", 1, time.Second)
	now := fixedClock(cb, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	assert.Error(t, cb.Do(func() error { return errors.New("x") }))
	*now = now.Add(2 * time.Second)

	err := cb.Do(func() error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Do(func() error { return nil }), ErrOpen)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestZeroThresholdTripsOnFirstFailure(t *testing.T) {
	cb := NewCircuitBreaker("source", 0, time.Minute)
	assert.Error(t, cb.Do(func() error { return errors.New("x") }))
	assert.Equal(t, StateOpen, cb.State())
}
