package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larder-app/larder/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := New(cfg)
	l.now = clock.Now
	return l, clock
}

func TestAdmitEleventhRejected(t *testing.T) {
	l, clock := newTestLimiter(Config{})

	for i := range 10 {
		d := l.Admit("edamam")
		require.True(t, d.Allowed, "call %d should be admitted", i+1)
		clock.Advance(time.Second)
	}

	d := l.Admit("edamam")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	// Oldest call at T, now T+10s: 50s left in the window plus the 1s buffer.
	assert.Equal(t, 51*time.Second, d.RetryAfter)
}

func TestSourcesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxCalls: 1})

	assert.True(t, l.Admit("a").Allowed)
	assert.False(t, l.Admit("a").Allowed)
	assert.True(t, l.Admit("b").Allowed)
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter(Config{MaxCalls: 2, Window: time.Minute})

	assert.True(t, l.Admit("x").Allowed)
	clock.Advance(30 * time.Second)
	assert.True(t, l.Admit("x").Allowed)
	assert.False(t, l.Admit("x").Allowed)

	clock.Advance(30*time.Second + time.Millisecond)
	assert.Equal(t, 1, l.Usage("x"))
	assert.True(t, l.Admit("x").Allowed)
	assert.False(t, l.Admit("x").Allowed)
}

func TestRejectedCallsAreNotRecorded(t *testing.T) {
	l, clock := newTestLimiter(Config{MaxCalls: 1, Window: time.Minute})

	assert.True(t, l.Admit("x").Allowed)
	for range 5 {
		assert.False(t, l.Admit("x").Allowed)
	}
	clock.Advance(time.Minute + time.Millisecond)
	assert.True(t, l.Admit("x").Allowed)
}

func TestNeverExceedsMaxInAnyWindow(t *testing.T) {
	l, clock := newTestLimiter(Config{MaxCalls: 3, Window: 10 * time.Second})

	var admitted []time.Time
	for range 200 {
		if l.Admit("x").Allowed {
			admitted = append(admitted, clock.Now())
		}
		clock.Advance(700 * time.Millisecond)
	}

	for i := range admitted {
		n := 0
		for j := i; j < len(admitted) && admitted[j].Sub(admitted[i]) < 10*time.Second; j++ {
			n++
		}
		assert.LessOrEqual(t, n, 3)
	}
}

func TestWaitBlocksUntilAdmitted(t *testing.T) {
	l := New(Config{MaxCalls: 1, Window: 50 * time.Millisecond, SafetyBuffer: 5 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "x"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "x"))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWaitFailsFastPastDeadline(t *testing.T) {
	l := New(Config{MaxCalls: 1, Window: time.Hour})
	require.True(t, l.Admit("x").Allowed)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx, "x")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 40*time.Millisecond)
	assert.True(t, errors.Is(err, models.ErrRateLimited))

	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "x", rl.Source)
}

func TestWaitHonoursCancellation(t *testing.T) {
	l := New(Config{MaxCalls: 1, Window: time.Hour})
	require.True(t, l.Admit("x").Allowed)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	assert.ErrorIs(t, l.Wait(ctx, "x"), context.Canceled)
}
