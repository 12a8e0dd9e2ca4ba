package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestLimiter_DeniesAfterMax(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	l := New(WithClock(clock.now))

	for i := 0; i < 3; i++ {
		req.True(l.Check("client", 3, time.Minute).Allowed, "call %d", i+1)
	}

	clock.advance(10 * time.Second)
	d := l.Check("client", 3, time.Minute)
	req.False(d.Allowed)
	req.Equal(50*time.Second, d.RetryAfter)
}

func TestLimiter_FreshWindowAfterBoundary(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	l := New(WithClock(clock.now))

	req.True(l.Check("client", 1, time.Minute).Allowed)
	req.False(l.Check("client", 1, time.Minute).Allowed)

	clock.advance(time.Minute)
	req.True(l.Check("client", 1, time.Minute).Allowed)

	// the new window started with a count of one
	req.False(l.Check("client", 1, time.Minute).Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	req := require.New(t)
	l := New()

	req.True(l.Check("a", 1, time.Minute).Allowed)
	req.False(l.Check("a", 1, time.Minute).Allowed)
	req.True(l.Check("b", 1, time.Minute).Allowed)
}

func TestLimiter_ThirtyFirstRequestRejected(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	l := New(WithClock(clock.now))

	for i := 0; i < 30; i++ {
		req.True(l.Check("fp", 30, time.Minute).Allowed)
		clock.advance(time.Second)
	}

	d := l.Check("fp", 30, time.Minute)
	req.False(d.Allowed)
	req.LessOrEqual(d.RetryAfter, 60*time.Second)
	req.Greater(d.RetryAfter, time.Duration(0))
}

func TestLimiter_Sweep(t *testing.T) {
	req := require.New(t)
	clock := newFakeClock()
	l := New(WithClock(clock.now))

	l.Check("old", 5, time.Second)
	clock.advance(500 * time.Millisecond)
	l.Check("young", 5, time.Second)
	req.Equal(2, l.Len())

	clock.advance(600 * time.Millisecond)
	req.Equal(1, l.Sweep())
	req.Equal(1, l.Len())
}

func TestLimiter_RunStopsWithContext(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
