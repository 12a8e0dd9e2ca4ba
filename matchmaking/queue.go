/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package matchmaking pairs anonymous visitors two at a time through a
// single process-wide waiting slot.
package matchmaking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Seednode/seance/channels"
	"github.com/Seednode/seance/guard"
)

const matchIDLen = 8

// Identity is a visitor as the matchmaker sees it. AnonID is opaque and
// stable for one browser session.
type Identity struct {
	DisplayName string
	AnonID      string
}

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusMatched Status = "matched"
)

type Result struct {
	Status  Status
	MatchID string
	Partner Identity
}

// Match is immutable once formed.
type Match struct {
	ID           string
	Participants [2]Identity
}

// Emitter is the write path used to announce matches.
type Emitter interface {
	Emit(ctx context.Context, channel, event string, v any) error
}

type slot struct {
	identity Identity
	since    time.Time
}

type Queue struct {
	mu      sync.Mutex
	waiting *slot

	emitter     Emitter
	waitTimeout time.Duration
	now         func() time.Time
	newID       func() string
	logf        func(format string, args ...any)
}

type Option func(*Queue)

// WithWaitTimeout evicts a waiting visitor that has not been paired within
// d. Zero keeps them forever.
func WithWaitTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.waitTimeout = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

func WithLogger(logf func(format string, args ...any)) Option {
	return func(q *Queue) {
		if logf != nil {
			q.logf = logf
		}
	}
}

func NewQueue(emitter Emitter, opts ...Option) *Queue {
	q := &Queue{
		emitter: emitter,
		now:     time.Now,
		newID:   func() string { return guard.RandomToken(matchIDLen) },
		logf:    func(string, ...any) {},
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Request either parks id in the waiting slot or pairs it with the visitor
// already there. A visitor is never paired with itself. On a match the
// pairing is broadcast on the matches channel and also returned, since the
// caller's own subscription may not be live yet.
func (q *Queue) Request(ctx context.Context, id Identity) (Result, error) {
	match, ok := q.swap(id)
	if !ok {
		return Result{Status: StatusWaiting}, nil
	}

	requester, partner := match.Participants[0], match.Participants[1]

	q.logf("MATCH: Paired %q with %q in %s", requester.DisplayName, partner.DisplayName, match.ID)

	err := q.emitter.Emit(ctx, channels.MatchesChannel, channels.EventMatched, channels.Matched{
		MatchID: match.ID,
		Users:   []string{requester.DisplayName, partner.DisplayName},
		UserIDs: []string{requester.AnonID, partner.AnonID},
	})
	if err != nil {
		return Result{}, fmt.Errorf("announce match %s: %w", match.ID, err)
	}

	return Result{Status: StatusMatched, MatchID: match.ID, Partner: partner}, nil
}

// swap is the only place the slot is read and written.
func (q *Queue) swap(id Identity) (Match, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	if q.waiting != nil && q.waitTimeout > 0 && now.Sub(q.waiting.since) >= q.waitTimeout {
		q.logf("MATCH: Evicted %q after %s", q.waiting.identity.DisplayName, q.waitTimeout)
		q.waiting = nil
	}

	if q.waiting == nil {
		q.waiting = &slot{identity: id, since: now}

		return Match{}, false
	}

	if q.waiting.identity.AnonID == id.AnonID {
		return Match{}, false
	}

	partner := q.waiting.identity
	q.waiting = nil

	return Match{ID: q.newID(), Participants: [2]Identity{id, partner}}, true
}

// Leave empties the slot if it holds anonID.
func (q *Queue) Leave(anonID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiting == nil || q.waiting.identity.AnonID != anonID {
		return false
	}

	q.waiting = nil

	return true
}

// Waiting returns the identity currently parked, if any.
func (q *Queue) Waiting() (Identity, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiting == nil {
		return Identity{}, false
	}

	return q.waiting.identity, true
}

// PartnerOf resolves the other participant of a matched broadcast from the
// point of view of self. It reports false if self is not part of the match.
func PartnerOf(m channels.Matched, self Identity) (string, bool) {
	if len(m.UserIDs) == 2 && len(m.Users) == 2 {
		switch self.AnonID {
		case m.UserIDs[0]:
			return m.Users[1], true
		case m.UserIDs[1]:
			return m.Users[0], true
		default:
			return "", false
		}
	}

	for _, name := range m.Users {
		if name != self.DisplayName {
			return name, true
		}
	}

	return "", false
}
