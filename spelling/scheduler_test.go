package spelling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	moves    []rune
	partials []string
	clears   int
	idles    int
	moved    chan rune
}

func newRecorder() *recorder {
	return &recorder{moved: make(chan rune, 64)}
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Move: func(letter rune, _ Position) {
			r.mu.Lock()
			r.moves = append(r.moves, letter)
			r.mu.Unlock()
			r.moved <- letter
		},
		Partial: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.partials = append(r.partials, text)
		},
		Clear: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.clears++
		},
		Idle: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.idles++
		},
	}
}

func (r *recorder) letters() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return string(r.moves)
}

func instant(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// gate blocks every delay until released or cancelled.
type gate struct {
	open chan struct{}
}

func (g *gate) sleep(ctx context.Context, _ time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.open:
		return nil
	}
}

func noJitter(time.Duration) time.Duration { return 0 }

func TestScheduler_SpellsHello(t *testing.T) {
	req := require.New(t)
	rec := newRecorder()
	s := New(rec.hooks(), WithSleep(instant), WithJitter(noJitter))

	req.Equal(Idle, s.State())

	s.Enqueue("hello")
	s.Wait()

	req.Equal("HELLO", rec.letters())
	req.Equal([]string{"H", "HE", "HEL", "HELL", "HELLO"}, rec.partials)
	req.Equal(1, rec.clears)
	req.Equal(1, rec.idles)
	req.Equal(Idle, s.State())
	req.Empty(s.Active())
}

func TestScheduler_SecondEnqueueWaitsForFirst(t *testing.T) {
	req := require.New(t)
	rec := newRecorder()
	g := &gate{open: make(chan struct{})}
	s := New(rec.hooks(), WithSleep(g.sleep), WithJitter(noJitter))

	s.Enqueue("HELLO")
	req.Equal('H', <-rec.moved)

	s.Enqueue("bye")

	req.Equal(Animating, s.State())
	req.Equal("HELLO", s.Active())
	req.Equal(1, s.Pending())
	req.Equal("H", rec.letters())

	close(g.open)
	s.Wait()

	req.Equal("HELLOBYE", rec.letters())
	req.Equal(2, rec.clears)
	req.Equal(1, rec.idles)
	req.Equal(Idle, s.State())
	req.Zero(s.Pending())
}

func TestScheduler_CancelClearsEverything(t *testing.T) {
	req := require.New(t)
	rec := newRecorder()
	g := &gate{open: make(chan struct{})}
	s := New(rec.hooks(), WithSleep(g.sleep), WithJitter(noJitter))

	s.Enqueue("HELLO")
	s.Enqueue("AGAIN")
	req.Equal('H', <-rec.moved)

	s.Cancel()

	req.Equal(Idle, s.State())
	req.Zero(s.Pending())
	req.Empty(s.Active())

	s.Wait()
	req.Equal("H", rec.letters())

	// the scheduler is usable again after a cancel
	s.Enqueue("x")
	req.Equal('X', <-rec.moved)
	s.Cancel()
	s.Wait()

	req.Equal("HX", rec.letters())
}

func TestScheduler_IgnoresEmptyText(t *testing.T) {
	rec := newRecorder()
	s := New(rec.hooks(), WithSleep(instant))

	s.Enqueue("")
	s.Wait()

	require.Equal(t, Idle, s.State())
	require.Empty(t, rec.letters())
	require.Zero(t, rec.idles)
}

func TestScheduler_DelaysByCharacter(t *testing.T) {
	req := require.New(t)

	var (
		mu     sync.Mutex
		delays []time.Duration
	)

	record := func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		delays = append(delays, d)

		return ctx.Err()
	}

	s := New(Hooks{}, WithSleep(record), WithJitter(noJitter))
	s.Enqueue("am b")
	s.Wait()

	ms := time.Millisecond
	req.Equal([]time.Duration{250 * ms, 350 * ms, 500 * ms, 300 * ms, 800 * ms}, delays)
}

func TestJitterIsBounded(t *testing.T) {
	for i := 0; i < 1000; i++ {
		j := jitter(50 * time.Millisecond)
		require.GreaterOrEqual(t, j, -50*time.Millisecond)
		require.Less(t, j, 50*time.Millisecond)
	}

	require.Zero(t, jitter(0))
}

func TestBoard_Locate(t *testing.T) {
	b := DefaultBoard()

	require.Equal(t, Position{X: 45, Y: 70}, b.Locate("A"))
	require.Equal(t, Position{X: 495, Y: 120}, b.Locate("T"))
	require.Equal(t, Position{X: 520, Y: 170}, b.Locate("3"))
	require.Equal(t, Position{X: 320, Y: 220}, b.Locate("9"))
	require.Equal(t, Position{X: 300, Y: 250}, b.Locate(" "))

	p := b.Locate("?")
	require.True(t, p.X >= 50 && p.X <= 550)
	require.True(t, p.Y >= 50 && p.Y <= 350)
}
