package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cst = time.FixedZone("CST", 8*3600)

func TestParseSessions(t *testing.T) {
	s, err := ParseSessions("09:30-11:30, 13:00-15:00", cst)
	require.NoError(t, err)
	assert.Equal(t, "09:30-11:30,13:00-15:00", s.String())

	_, err = ParseSessions("11:30-09:30", cst)
	assert.Error(t, err)
	_, err = ParseSessions("9:3x-10:00", cst)
	assert.Error(t, err)

	all, err := ParseSessions("*", cst)
	require.NoError(t, err)
	assert.True(t, all.Contains(time.Date(2026, 3, 1, 3, 0, 0, 0, cst)))
}

func TestSessionsContainsAndNextOpen(t *testing.T) {
	s, err := ParseSessions("09:30-11:30,13:00-15:00", cst)
	require.NoError(t, err)
	mon := func(h, m int) time.Time { return time.Date(2026, 3, 2, h, m, 0, 0, cst) }

	assert.True(t, s.Contains(mon(9, 30)))
	assert.True(t, s.Contains(mon(14, 59)))
	assert.False(t, s.Contains(mon(12, 0)))
	assert.False(t, s.Contains(mon(9, 29)))
	assert.False(t, s.Contains(time.Date(2026, 3, 1, 10, 0, 0, 0, cst)), "sunday")

	assert.Equal(t, mon(13, 0), s.NextOpen(mon(12, 0)))
	assert.Equal(t, mon(10, 0), s.NextOpen(mon(10, 0)))
	assert.Equal(t, time.Date(2026, 3, 3, 9, 30, 0, 0, cst), s.NextOpen(mon(15, 30)))
	fri := time.Date(2026, 3, 6, 16, 0, 0, 0, cst)
	assert.Equal(t, time.Date(2026, 3, 9, 9, 30, 0, 0, cst), s.NextOpen(fri))
}

func TestTickSchedulerRunsUntilCancelled(t *testing.T) {
	all, err := ParseSessions("*", cst)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewTickScheduler(ctx, 5*time.Millisecond, 0, all)
	s.Name = "test"
	s.RunImmediately = true
	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Start(func(time.Time) {
			if calls.Add(1) >= 3 {
				cancel()
			}
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestTickSchedulerRejectsBadInterval(t *testing.T) {
	var calls atomic.Int32
	NewTickScheduler(context.Background(), 0, 0, Sessions{}).Start(func(time.Time) { calls.Add(1) })
	assert.Zero(t, calls.Load())
}

func TestNextWakeAlignsToInterval(t *testing.T) {
	s := NewTickScheduler(context.Background(), 5*time.Second, time.Second, Sessions{})
	now := time.Date(2026, 3, 2, 10, 0, 2, 0, cst)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 0, 6, 0, cst), s.nextWake(now))
}
