package main

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Seednode/seance/bridge"
	"github.com/Seednode/seance/broker"
	"github.com/Seednode/seance/channels"
	"github.com/Seednode/seance/matchmaking"
	"github.com/Seednode/seance/spelling"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type recorder struct {
	mu           sync.Mutex
	messages     []channels.Message
	interactions []channels.BoardInteraction
	notices      []string
	ended        []string
}

func (r *recorder) callbacks() bridge.Callbacks {
	notice := func(n channels.Notice) {
		r.mu.Lock()
		r.notices = append(r.notices, n.Message)
		r.mu.Unlock()
	}

	return bridge.Callbacks{
		OnMessage: func(m channels.Message) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
		OnInteraction: func(bi channels.BoardInteraction) {
			r.mu.Lock()
			r.interactions = append(r.interactions, bi)
			r.mu.Unlock()
		},
		OnUserJoined: notice,
		OnUserLeft:   notice,
		OnSessionEnded: func(by string) {
			r.mu.Lock()
			r.ended = append(r.ended, by)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) chat() []channels.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []channels.Message
	for _, m := range r.messages {
		if m.Kind == channels.KindUser {
			out = append(out, m)
		}
	}

	return out
}

func (r *recorder) heard(notice string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, n := range r.notices {
		if n == notice {
			return true
		}
	}

	return false
}

func (r *recorder) sawGoodbye() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, bi := range r.interactions {
		if bi.Interaction.Type == channels.InteractionGoodbye {
			return true
		}
	}

	return false
}

func (r *recorder) endedBy() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.ended...)
}

func connect(t *testing.T, srv *httptest.Server, self matchmaking.Identity) (*bridge.Bridge, *bridge.API, *recorder) {
	t.Helper()

	api, err := bridge.NewAPI(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	bc, err := broker.Dial(ctx, api.SocketURL(),
		broker.WithOrigin(api.Origin()),
		broker.WithAuthorizer(api.Authorizer(self.DisplayName)),
	)
	require.NoError(t, err)

	rec := &recorder{}
	b := bridge.New(bridge.FromClient(bc), api, self, rec.callbacks())

	t.Cleanup(func() {
		b.Close()
		_ = bc.Close()
	})

	return b, api, rec
}

func TestAnonymousSession(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	srv, c := newTestServer(t, testConfig())

	alice := matchmaking.Identity{DisplayName: "alice", AnonID: "idalice"}
	bob := matchmaking.Identity{DisplayName: "bob", AnonID: "idbob"}

	a, aAPI, aRec := connect(t, srv, alice)
	req.NoError(a.StartAnonymous(ctx))

	req.Eventually(func() bool {
		return c.hub.Subscribers(channels.MatchesChannel) == 1
	}, waitFor, tick)

	resp, err := aAPI.RequestMatch(ctx, alice)
	req.NoError(err)
	req.Equal(matchmaking.StatusWaiting, resp.Status)

	b, bAPI, bRec := connect(t, srv, bob)
	req.NoError(b.StartAnonymous(ctx))

	resp, err = bAPI.RequestMatch(ctx, bob)
	req.NoError(err)
	req.Equal(matchmaking.StatusMatched, resp.Status)
	req.Equal("alice", resp.Partner)
	req.NoError(b.Paired(ctx, resp.MatchID, resp.Partner))

	// alice only learns about the match from the broadcast
	req.Eventually(a.IsPaired, waitFor, tick)
	req.Equal(resp.MatchID, a.MatchID())
	req.Equal("bob", a.Partner())

	pair := channels.PairChannel(resp.MatchID)
	req.Eventually(func() bool {
		return c.hub.Subscribers(pair) == 2 && a.Connected() && b.Connected()
	}, waitFor, tick)

	req.NoError(a.SendMessage(ctx, "is anyone there"))

	req.Eventually(func() bool { return len(bRec.chat()) == 1 }, waitFor, tick)
	req.Equal(channels.Message{Sender: "alice", Text: "is anyone there", Kind: channels.KindUser}, bRec.chat()[0])

	req.NoError(b.SendMessage(ctx, "yes"))

	// alice's own message was delivered to her before bob's reply
	req.Eventually(func() bool { return len(aRec.chat()) == 1 }, waitFor, tick)
	req.Equal("bob", aRec.chat()[0].Sender)
	req.Len(bRec.chat(), 1)

	req.NoError(b.EndSession(ctx))
	req.False(b.IsPaired())

	req.Eventually(func() bool { return len(aRec.endedBy()) == 1 }, waitFor, tick)
	req.Equal([]string{"bob"}, aRec.endedBy())
	req.False(a.IsPaired())
}

// lockedBuffer is written by the client's goroutines while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

func TestRunClient_Room(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	srv, c := newTestServer(t, testConfig())

	observer, _, rec := connect(t, srv, matchmaking.Identity{DisplayName: "bob", AnonID: "idbob"})
	req.NoError(observer.JoinRoom(ctx, "r1"))

	req.Eventually(func() bool {
		return c.hub.Subscribers(channels.RoomChannel("r1")) == 1
	}, waitFor, tick)

	in, typed := io.Pipe()
	t.Cleanup(func() { _ = typed.Close() })

	var out lockedBuffer

	ccfg := &clientConfig{
		server: srv.URL,
		name:   "alice",
		room:   "r1",
		spell:  true,
		timing: spelling.Timing{},
	}

	done := make(chan error, 1)
	go func() {
		done <- runClient(ctx, ccfg, in, &out)
	}()

	req.Eventually(func() bool { return rec.heard("alice has joined the session") }, waitFor, tick)
	req.Eventually(func() bool {
		return c.hub.Subscribers(channels.RoomChannel("r1")) == 2
	}, waitFor, tick)

	_, err := io.WriteString(typed, "hello spirits\n")
	req.NoError(err)

	req.Eventually(func() bool { return len(rec.chat()) == 1 }, waitFor, tick)
	req.Equal("alice", rec.chat()[0].Sender)
	req.Equal("hello spirits", rec.chat()[0].Text)

	req.NoError(observer.SendMessage(ctx, "welcome"))
	req.Eventually(func() bool {
		return bytes.Contains([]byte(out.String()), []byte("✦ WELCOME"))
	}, waitFor, tick)

	_, err = io.WriteString(typed, "goodbye\n")
	req.NoError(err)

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(waitFor):
		t.Fatal("client did not exit after goodbye")
	}

	req.Eventually(rec.sawGoodbye, waitFor, tick)
	req.Eventually(func() bool { return rec.heard("alice has left the session") }, waitFor, tick)
	req.Contains(out.String(), "[you] hello spirits")
	req.Contains(out.String(), "[bob is spelling]")
}
