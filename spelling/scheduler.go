/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package spelling reveals text one character at a time, moving an
// indicator across the board as it goes. Messages are queued and spelled
// strictly in the order they were enqueued.
package spelling

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

type State int

const (
	Idle State = iota
	Animating
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Animating:
		return "animating"
	case Draining:
		return "draining"
	}

	return "unknown"
}

// Timing holds the per-character delays.
type Timing struct {
	Base   time.Duration
	Space  time.Duration
	Vowel  time.Duration
	Nasal  time.Duration
	Jitter time.Duration
	Hold   time.Duration
	Gap    time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		Base:   300 * time.Millisecond,
		Space:  500 * time.Millisecond,
		Vowel:  250 * time.Millisecond,
		Nasal:  350 * time.Millisecond,
		Jitter: 50 * time.Millisecond,
		Hold:   800 * time.Millisecond,
		Gap:    500 * time.Millisecond,
	}
}

// Delay returns the un-jittered pause after c.
func (t Timing) Delay(c rune) time.Duration {
	switch c {
	case ' ':
		return t.Space
	case 'A', 'E', 'I', 'O', 'U':
		return t.Vowel
	case 'M', 'N', 'S':
		return t.Nasal
	}

	return t.Base
}

// Hooks receive the visible side effects of spelling. Any of them may be
// nil. They are called from the scheduler's worker goroutine.
type Hooks struct {
	Move    func(letter rune, pos Position)
	Partial func(text string)
	Clear   func()
	Idle    func()
}

type Scheduler struct {
	mu     sync.Mutex
	state  State
	active string
	queue  []string
	gen    uint64
	newest uint64
	cancel context.CancelFunc
	done   chan struct{}

	board  Board
	timing Timing
	hooks  Hooks
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

type Option func(*Scheduler)

func WithTiming(t Timing) Option {
	return func(s *Scheduler) {
		s.timing = t
	}
}

func WithBoard(b Board) Option {
	return func(s *Scheduler) {
		s.board = b
	}
}

// WithSleep replaces the delay function. It must return ctx.Err() once ctx
// is cancelled.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) {
		s.sleep = sleep
	}
}

func WithJitter(jitter func(max time.Duration) time.Duration) Option {
	return func(s *Scheduler) {
		s.jitter = jitter
	}
}

func New(hooks Hooks, opts ...Option) *Scheduler {
	s := &Scheduler{
		board:  DefaultBoard(),
		timing: DefaultTiming(),
		hooks:  hooks,
		sleep:  sleep,
		jitter: jitter,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Enqueue spells text now if the scheduler is idle, otherwise queues it.
// Empty text is ignored.
func (s *Scheduler) Enqueue(text string) {
	text = strings.ToUpper(text)
	if text == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle {
		s.queue = append(s.queue, text)

		return
	}

	s.startLocked(text)
}

// Cancel stops the current message, drops everything queued and returns
// to Idle without waiting for pending delays.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.gen++
	s.queue = nil
	s.active = ""
	s.state = Idle
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Active returns the message currently being spelled.
func (s *Scheduler) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.active
}

// Pending returns the number of queued messages.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// Wait blocks until no worker is running.
func (s *Scheduler) Wait() {
	for {
		s.mu.Lock()
		done := s.done
		s.mu.Unlock()

		if done == nil {
			return
		}

		<-done

		s.mu.Lock()
		same := s.done == done
		s.mu.Unlock()

		if same {
			return
		}
	}
}

// startLocked launches a worker for text. A worker from an earlier,
// cancelled generation may still be unwinding; the new one waits for it
// so that only one ever drives the hooks.
func (s *Scheduler) startLocked(text string) {
	ctx, cancel := context.WithCancel(context.Background())

	prev := s.done
	done := make(chan struct{})

	s.gen++
	s.newest = s.gen
	s.state = Animating
	s.active = text
	s.cancel = cancel
	s.done = done

	go s.drain(ctx, s.gen, prev, done, text)
}

func (s *Scheduler) drain(ctx context.Context, gen uint64, prev, done chan struct{}, text string) {
	defer close(done)

	if prev != nil {
		<-prev
	}

	for {
		finished := s.spell(ctx, text)

		s.call(s.hooks.Clear)

		if !finished {
			s.exit(gen)

			return
		}

		next, ok := s.advance(gen)
		if !ok {
			return
		}

		if s.sleep(ctx, s.timing.Gap) != nil {
			s.exit(gen)

			return
		}

		if !s.resume(gen, next) {
			s.exit(gen)

			return
		}

		text = next
	}
}

// spell walks text and reports whether it reached the end uncancelled.
func (s *Scheduler) spell(ctx context.Context, text string) bool {
	var partial strings.Builder

	for _, c := range text {
		if ctx.Err() != nil {
			return false
		}

		partial.WriteRune(c)

		if s.hooks.Move != nil {
			s.hooks.Move(c, s.board.Locate(string(c)))
		}

		if s.hooks.Partial != nil {
			s.hooks.Partial(partial.String())
		}

		if s.sleep(ctx, s.timing.Delay(c)+s.jitter(s.timing.Jitter)) != nil {
			return false
		}
	}

	return s.sleep(ctx, s.timing.Hold) == nil
}

// advance pops the next queued message, or returns the scheduler to Idle.
func (s *Scheduler) advance(gen uint64) (string, bool) {
	s.mu.Lock()

	if s.gen != gen {
		s.mu.Unlock()
		s.exit(gen)

		return "", false
	}

	if len(s.queue) == 0 {
		s.state = Idle
		s.active = ""
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.mu.Unlock()

		s.call(s.hooks.Idle)

		return "", false
	}

	next := s.queue[0]
	s.queue = s.queue[1:]
	s.state = Draining
	s.active = ""
	s.mu.Unlock()

	return next, true
}

func (s *Scheduler) resume(gen uint64, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gen != gen {
		return false
	}

	s.state = Animating
	s.active = text

	return true
}

// exit reports Idle for a worker that was cancelled, unless a newer one
// has already taken over.
func (s *Scheduler) exit(gen uint64) {
	s.mu.Lock()
	superseded := s.newest != gen
	s.mu.Unlock()

	if !superseded {
		s.call(s.hooks.Idle)
	}
}

func (s *Scheduler) call(hook func()) {
	if hook != nil {
		hook()
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(2*max))) - max
}
