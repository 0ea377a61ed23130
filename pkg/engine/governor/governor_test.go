package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernor_UnlimitedAdmitsImmediately(t *testing.T) {
	g := New(Config{})
	defer g.Close()

	start := time.Now()
	for i := 0; i < 100; i++ {
		lease, err := g.Acquire(context.Background(), 1, PriorityNormal)
		require.NoError(t, err)
		lease.Release()
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, g.InFlight())
}

func TestGovernor_RateLimits(t *testing.T) {
	// 10 permits/s, burst 1: three acquires need ~200ms of refill.
	g := New(Config{BasePermitsPerSecond: 10, MaxBurst: 1})
	defer g.Close()

	start := time.Now()
	for i := 0; i < 3; i++ {
		lease, err := g.Acquire(context.Background(), 1, PriorityNormal)
		require.NoError(t, err)
		lease.Release()
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestGovernor_CancellationFailsAcquire(t *testing.T) {
	g := New(Config{BasePermitsPerSecond: 0.1, MaxBurst: 1})
	defer g.Close()

	// Drain the burst.
	lease, err := g.Acquire(context.Background(), 1, PriorityNormal)
	require.NoError(t, err)
	lease.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, 1, PriorityNormal)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGovernor_PriorityDiscountsCost(t *testing.T) {
	assert.Equal(t, 1.5, PriorityLow.costMultiplier())
	assert.Equal(t, 1.0, PriorityNormal.costMultiplier())
	assert.Equal(t, 0.6, PriorityHigh.costMultiplier())
	assert.Equal(t, 0.5, PriorityCritical.costMultiplier())
}

func TestGovernor_CriticalOnlyGate(t *testing.T) {
	g := New(Config{StarvationThreshold: 80 * time.Millisecond})
	defer g.Close()

	g.mu.Lock()
	g.criticalOnly = true
	g.mu.Unlock()

	// Critical work passes straight through.
	lease, err := g.Acquire(context.Background(), 1, PriorityCritical)
	require.NoError(t, err)
	lease.Release()

	// Normal work waits; a deadline inside the hold window fails it.
	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, 1, PriorityNormal)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Starved low-priority work escalates to Critical and gets through.
	start := time.Now()
	lease, err = g.Acquire(context.Background(), 1, PriorityHigh)
	require.NoError(t, err)
	defer lease.Release()
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, PriorityCritical, lease.Priority)
}

func TestGovernor_ReleaseIdempotent(t *testing.T) {
	g := New(Config{})
	defer g.Close()

	lease, err := g.Acquire(context.Background(), 1, PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, 1, g.InFlight())

	lease.Release()
	lease.Release()
	assert.Equal(t, 0, g.InFlight())

	var nilLease *Lease
	nilLease.Release()
}

func TestGovernor_AdaptiveScaleDown(t *testing.T) {
	g := New(Config{BasePermitsPerSecond: 100, MaxBurst: 10, CPUSoftLimitPct: 50})
	defer g.Close()

	// Check the scale-down formula for a 75% CPU reading against the 50%
	// soft limit. No sample is taken, so the governor's own scale stays 1.0.
	g.mu.Lock()
	over := 75.0
	span := 100 - g.cfg.CPUSoftLimitPct
	scale := 1.0 - (over-g.cfg.CPUSoftLimitPct)/span
	g.mu.Unlock()

	assert.InDelta(t, 0.5, scale, 1e-9)

	stats := g.Stats()
	assert.Equal(t, 1.0, stats.Scale)
	assert.False(t, stats.CriticalOnly)
}
