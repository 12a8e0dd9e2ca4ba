package channels

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Seednode/seance/errs"
	"github.com/Seednode/seance/guard"
	"github.com/Seednode/seance/ratelimit"
)

type published struct {
	channel string
	event   string
	data    string
}

type recordingBroker struct {
	mu    sync.Mutex
	calls []published
	err   error
}

func (b *recordingBroker) Publish(_ context.Context, channel, event string, data json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, published{channel, event, string(data)})

	return b.err
}

func newTestRouter(production bool) (*Router, *recordingBroker) {
	b := &recordingBroker{}
	rt := NewRouter(b, guard.NewOrigins("https://seance.example", production), ratelimit.New(), WithProduction(production))

	return rt, b
}

func TestRouter_PublishAccepted(t *testing.T) {
	req := require.New(t)
	rt, b := newTestRouter(true)

	err := rt.Publish(context.Background(), Envelope{
		Channel: "anonymous-abc123",
		Event:   EventChatMessage,
		Data:    json.RawMessage(`{ "text": "hello",  "sender": "raven" }`),
	})
	req.NoError(err)
	req.Len(b.calls, 1)
	req.Equal(published{"anonymous-abc123", "chat-message", `{"text":"hello","sender":"raven"}`}, b.calls[0])
}

func TestRouter_MissingDataBecomesEmptyObject(t *testing.T) {
	rt, b := newTestRouter(true)

	require.NoError(t, rt.Publish(context.Background(), Envelope{Channel: "room-1", Event: EventUserJoined}))
	require.Equal(t, "{}", b.calls[0].data)
}

func TestRouter_RejectsChannels(t *testing.T) {
	rt, b := newTestRouter(true)

	for _, channel := range []string{
		"lobby",
		"room-",
		"presence-anonymous",
		"private-room-1",
		"test-channel",
		"roomy-1",
		"!!!",
	} {
		err := rt.Publish(context.Background(), Envelope{Channel: channel, Event: EventChatMessage, Data: json.RawMessage(`{}`)})
		require.Error(t, err, channel)
		require.True(t, errors.Is(err, errs.ErrInvalidChannel) || errors.Is(err, errs.ErrValidation), channel)
	}

	require.Empty(t, b.calls)
}

func TestRouter_RejectsEvents(t *testing.T) {
	rt, b := newTestRouter(true)

	for _, event := range []string{"pusher:subscribe", "client-typing", "test-event", "chat_message"} {
		err := rt.Publish(context.Background(), Envelope{Channel: "room-1", Event: event, Data: json.RawMessage(`{"a":1}`)})
		require.ErrorIs(t, err, errs.ErrInvalidEvent, event)
	}

	require.Empty(t, b.calls)
}

func TestRouter_DevelopmentAllowsTestChannelAndEvent(t *testing.T) {
	rt, b := newTestRouter(false)

	require.NoError(t, rt.Publish(context.Background(), Envelope{Channel: TestChannel, Event: EventTest}))
	require.Len(t, b.calls, 1)
}

func TestRouter_PayloadChecks(t *testing.T) {
	rt, b := newTestRouter(true)
	ctx := context.Background()

	for _, data := range []string{`[1,2,3]`, `"text"`, `42`, `{"broken":`} {
		err := rt.Publish(ctx, Envelope{Channel: "room-1", Event: EventChatMessage, Data: json.RawMessage(data)})
		require.ErrorIs(t, err, errs.ErrInvalidData, data)
	}

	big := `{"text":"` + strings.Repeat("a", MaxPayloadBytes) + `"}`
	err := rt.Publish(ctx, Envelope{Channel: "room-1", Event: EventChatMessage, Data: json.RawMessage(big)})
	require.ErrorIs(t, err, errs.ErrPayloadTooLarge)

	require.Empty(t, b.calls)
}

func TestRouter_BrokerFailureSurfaced(t *testing.T) {
	rt, b := newTestRouter(true)
	b.err = errors.New("connection reset")

	err := rt.Publish(context.Background(), Envelope{Channel: "room-1", Event: EventChatMessage})
	require.ErrorIs(t, err, errs.ErrDelivery)
	require.Len(t, b.calls, 1)
}

func TestRouter_Emit(t *testing.T) {
	rt, b := newTestRouter(true)

	err := rt.Emit(context.Background(), MatchesChannel, EventMatched, Matched{
		MatchID: "m1",
		Users:   []string{"a", "b"},
		UserIDs: []string{"ida", "idb"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"matchId":"m1","users":["a","b"],"userIds":["ida","idb"]}`, b.calls[0].data)
}

func TestRouter_AdmitOrigin(t *testing.T) {
	rt, _ := newTestRouter(true)
	budget := Budget{Name: "publish", Max: 5, Window: time.Minute}

	require.ErrorIs(t, rt.Admit(Request{Origin: "", Host: "app.example", ClientKey: "k"}, budget), errs.ErrForbiddenOrigin)
	require.ErrorIs(t, rt.Admit(Request{Origin: "https://evil.example", Host: "app.example", ClientKey: "k"}, budget), errs.ErrForbiddenOrigin)
	require.NoError(t, rt.Admit(Request{Origin: "https://app.example", Host: "app.example", ClientKey: "k"}, budget))
}

func TestRouter_AdmitRateLimit(t *testing.T) {
	rt, _ := newTestRouter(true)
	publish := Budget{Name: "publish", Max: 30, Window: time.Minute}
	match := Budget{Name: "match", Max: 30, Window: time.Minute}
	caller := Request{Origin: "https://seance.example", Host: "app.example", ClientKey: "198.51.100.1:curl"}

	for i := 0; i < 30; i++ {
		require.NoError(t, rt.Admit(caller, publish), "request %d", i+1)
	}

	err := rt.Admit(caller, publish)
	retry, ok := errs.RetryAfter(err)
	require.True(t, ok)
	require.LessOrEqual(t, retry, 60*time.Second)

	// budgets are per route
	require.NoError(t, rt.Admit(caller, match))
}
