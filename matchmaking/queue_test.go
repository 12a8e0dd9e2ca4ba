package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Seednode/seance/channels"
)

type emitted struct {
	channel string
	event   string
	payload channels.Matched
}

type recordingEmitter struct {
	mu    sync.Mutex
	calls []emitted
	err   error
}

func (e *recordingEmitter) Emit(_ context.Context, channel, event string, v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, emitted{channel, event, v.(channels.Matched)})

	return e.err
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return len(e.calls)
}

func TestQueue_WaitingThenMatched(t *testing.T) {
	req := require.New(t)
	em := &recordingEmitter{}
	q := NewQueue(em)
	ctx := context.Background()

	alice := Identity{DisplayName: "alice", AnonID: "a1"}
	bob := Identity{DisplayName: "bob", AnonID: "b1"}

	res, err := q.Request(ctx, alice)
	req.NoError(err)
	req.Equal(StatusWaiting, res.Status)
	req.Zero(em.count())

	res, err = q.Request(ctx, bob)
	req.NoError(err)
	req.Equal(StatusMatched, res.Status)
	req.Equal(alice, res.Partner)
	req.Len(res.MatchID, matchIDLen)

	_, waiting := q.Waiting()
	req.False(waiting)

	req.Equal(1, em.count())
	call := em.calls[0]
	req.Equal(channels.MatchesChannel, call.channel)
	req.Equal(channels.EventMatched, call.event)
	req.Equal(res.MatchID, call.payload.MatchID)
	req.Equal([]string{"bob", "alice"}, call.payload.Users)
	req.Equal([]string{"b1", "a1"}, call.payload.UserIDs)
}

func TestQueue_NoSelfMatch(t *testing.T) {
	req := require.New(t)
	em := &recordingEmitter{}
	q := NewQueue(em)
	ctx := context.Background()

	me := Identity{DisplayName: "raven", AnonID: "same"}

	for i := 0; i < 3; i++ {
		res, err := q.Request(ctx, me)
		req.NoError(err)
		req.Equal(StatusWaiting, res.Status)
	}

	req.Zero(em.count())

	parked, ok := q.Waiting()
	req.True(ok)
	req.Equal(me, parked)
}

func TestQueue_PairsInArrivalOrder(t *testing.T) {
	req := require.New(t)
	em := &recordingEmitter{}
	q := NewQueue(em)
	ctx := context.Background()

	var results []Result
	for i := 0; i < 6; i++ {
		res, err := q.Request(ctx, Identity{DisplayName: fmt.Sprintf("u%d", i), AnonID: fmt.Sprintf("id%d", i)})
		req.NoError(err)
		results = append(results, res)
	}

	for i, res := range results {
		if i%2 == 0 {
			req.Equal(StatusWaiting, res.Status, "request %d", i)
			continue
		}

		req.Equal(StatusMatched, res.Status, "request %d", i)
		req.Equal(fmt.Sprintf("id%d", i-1), res.Partner.AnonID)
	}

	req.Equal(3, em.count())
}

func TestQueue_ConcurrentRequestsNeverDoublePair(t *testing.T) {
	req := require.New(t)
	em := &recordingEmitter{}
	q := NewQueue(em)
	ctx := context.Background()

	const visitors = 200

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched = map[string]int{}
		waiting int
		failed  int
	)

	for i := 0; i < visitors; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			id := Identity{DisplayName: fmt.Sprintf("v%d", i), AnonID: fmt.Sprintf("anon%d", i)}
			res, err := q.Request(ctx, id)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failed++
				return
			}

			if res.Status == StatusWaiting {
				waiting++
				return
			}

			matched[id.AnonID]++
			matched[res.Partner.AnonID]++
		}(i)
	}

	wg.Wait()

	req.Zero(failed)
	req.Equal(visitors/2, waiting)
	req.Equal(visitors/2, em.count())
	req.Len(matched, visitors)

	for id, n := range matched {
		req.Equal(1, n, "identity %s paired %d times", id, n)
	}

	_, parked := q.Waiting()
	req.False(parked)
}

func TestQueue_EvictsStaleWaiter(t *testing.T) {
	req := require.New(t)
	now := time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)
	q := NewQueue(&recordingEmitter{}, WithWaitTimeout(2*time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := q.Request(ctx, Identity{DisplayName: "ghost", AnonID: "g"})
	req.NoError(err)

	now = now.Add(3 * time.Minute)

	res, err := q.Request(ctx, Identity{DisplayName: "late", AnonID: "l"})
	req.NoError(err)
	req.Equal(StatusWaiting, res.Status)

	parked, ok := q.Waiting()
	req.True(ok)
	req.Equal("l", parked.AnonID)
}

func TestQueue_Leave(t *testing.T) {
	req := require.New(t)
	q := NewQueue(&recordingEmitter{})

	_, err := q.Request(context.Background(), Identity{DisplayName: "a", AnonID: "a"})
	req.NoError(err)

	req.False(q.Leave("someone-else"))
	req.True(q.Leave("a"))

	_, ok := q.Waiting()
	req.False(ok)
}

func TestQueue_AnnounceFailure(t *testing.T) {
	req := require.New(t)
	em := &recordingEmitter{err: errors.New("broker down")}
	q := NewQueue(em)
	ctx := context.Background()

	_, err := q.Request(ctx, Identity{DisplayName: "a", AnonID: "a"})
	req.NoError(err)

	_, err = q.Request(ctx, Identity{DisplayName: "b", AnonID: "b"})
	req.Error(err)

	_, ok := q.Waiting()
	req.False(ok, "slot is committed before the broadcast")
}

func TestPartnerOf(t *testing.T) {
	m := channels.Matched{MatchID: "m", Users: []string{"bob", "alice"}, UserIDs: []string{"b1", "a1"}}

	partner, ok := PartnerOf(m, Identity{DisplayName: "alice", AnonID: "a1"})
	require.True(t, ok)
	require.Equal(t, "bob", partner)

	partner, ok = PartnerOf(m, Identity{DisplayName: "bob", AnonID: "b1"})
	require.True(t, ok)
	require.Equal(t, "alice", partner)

	_, ok = PartnerOf(m, Identity{DisplayName: "carol", AnonID: "c1"})
	require.False(t, ok)

	partner, ok = PartnerOf(channels.Matched{Users: []string{"bob", "alice"}}, Identity{DisplayName: "alice"})
	require.True(t, ok)
	require.Equal(t, "bob", partner)
}
