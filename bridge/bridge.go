/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package bridge connects one participant to the channels of a session,
// either a friend room or an anonymous pairing, and turns broker events
// into callbacks.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Seednode/seance/broker"
	"github.com/Seednode/seance/channels"
	"github.com/Seednode/seance/errs"
	"github.com/Seednode/seance/matchmaking"
)

// Channel is one subscribed broker channel.
type Channel interface {
	Name() string
	Bind(event string, h func(data json.RawMessage))
	Subscribe(ctx context.Context) error
	Unsubscribe() error
	Count() int
}

// Subscriber hands out channels by name.
type Subscriber interface {
	Channel(name string) Channel
}

// Publisher sends an event through the server's publish endpoint.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, v any) error
}

type clientSubscriber struct {
	c *broker.Client
}

func (s clientSubscriber) Channel(name string) Channel {
	return s.c.Channel(name)
}

// FromClient adapts a broker connection.
func FromClient(c *broker.Client) Subscriber {
	return clientSubscriber{c: c}
}

// Callbacks receive session events. Any of them may be nil. They run on
// the subscriber's delivery goroutine.
type Callbacks struct {
	OnMessage      func(channels.Message)
	OnInteraction  func(channels.BoardInteraction)
	OnUserJoined   func(channels.Notice)
	OnUserLeft     func(channels.Notice)
	OnMatch        func(matchID, partner string)
	OnSessionEnded func(by string)
	OnConnection   func(connected bool)
	OnMemberCount  func(n int)
}

type mode int

const (
	modeNone mode = iota
	modeRoom
	modeAnonymous
)

const systemSender = "SYSTEM"

type Bridge struct {
	sub  Subscriber
	pub  Publisher
	self matchmaking.Identity
	cb   Callbacks

	mu        sync.Mutex
	mode      mode
	roomID    string
	data      Channel
	presence  Channel
	matches   Channel
	matchID   string
	partner   string
	connected bool
	members   int
	closed    bool
}

func New(sub Subscriber, pub Publisher, self matchmaking.Identity, cb Callbacks) *Bridge {
	return &Bridge{
		sub:  sub,
		pub:  pub,
		self: self,
		cb:   cb,
	}
}

// JoinRoom subscribes to a friend room and its presence channel.
func (b *Bridge) JoinRoom(ctx context.Context, roomID string) error {
	b.mu.Lock()

	if b.closed || b.mode != modeNone {
		b.mu.Unlock()

		return fmt.Errorf("%w: session already started", errs.ErrValidation)
	}

	b.mode = modeRoom
	b.roomID = roomID
	b.data = b.sub.Channel(channels.RoomChannel(roomID))
	b.presence = b.sub.Channel(channels.PresenceRoomChannel(roomID))
	data, presence := b.data, b.presence

	b.mu.Unlock()

	b.bindData(data, false)
	b.bindPresence(presence)

	if err := data.Subscribe(ctx); err != nil {
		b.setConnected(false)

		return err
	}

	return presence.Subscribe(ctx)
}

// StartAnonymous subscribes to the anonymous presence channel and the
// match announcements. The pair channel is joined once a match names us.
func (b *Bridge) StartAnonymous(ctx context.Context) error {
	b.mu.Lock()

	if b.closed || b.mode != modeNone {
		b.mu.Unlock()

		return fmt.Errorf("%w: session already started", errs.ErrValidation)
	}

	b.mode = modeAnonymous
	b.presence = b.sub.Channel(channels.PresenceAnonymous)
	b.matches = b.sub.Channel(channels.MatchesChannel)
	presence, matches := b.presence, b.matches

	b.mu.Unlock()

	b.bindPresence(presence)

	matches.Bind(channels.EventMatched, func(data json.RawMessage) {
		var m channels.Matched
		if json.Unmarshal(data, &m) != nil || m.MatchID == "" {
			return
		}

		partner, ok := matchmaking.PartnerOf(m, b.self)
		if !ok {
			return
		}

		_ = b.Paired(context.Background(), m.MatchID, partner)
	})

	if err := presence.Subscribe(ctx); err != nil {
		return err
	}

	return matches.Subscribe(ctx)
}

// Paired joins the pair channel for matchID. Calling it again for the same
// match does nothing, so the synchronous match response and the broadcast
// can both call it.
func (b *Bridge) Paired(ctx context.Context, matchID, partner string) error {
	b.mu.Lock()

	if b.closed || b.mode != modeAnonymous || b.matchID == matchID {
		b.mu.Unlock()

		return nil
	}

	previous := b.data

	pair := b.sub.Channel(channels.PairChannel(matchID))
	b.data = pair
	b.matchID = matchID
	b.partner = partner
	b.connected = false

	b.mu.Unlock()

	if previous != nil {
		_ = previous.Unsubscribe()
	}

	b.bindData(pair, true)

	if err := pair.Subscribe(ctx); err != nil {
		b.setConnected(false)

		return err
	}

	if b.cb.OnMatch != nil {
		b.cb.OnMatch(matchID, partner)
	}

	return nil
}

func (b *Bridge) bindData(ch Channel, pair bool) {
	ch.Bind(broker.EventSubscriptionSucceeded, func(json.RawMessage) {
		b.setConnected(true)

		if pair {
			b.notice(fmt.Sprintf("Paired with %s. You can chat now.", b.Partner()))
		}
	})

	ch.Bind(broker.EventSubscriptionError, func(json.RawMessage) {
		b.setConnected(false)
	})

	ch.Bind(channels.EventChatMessage, func(data json.RawMessage) {
		var msg channels.ChatMessage
		if json.Unmarshal(data, &msg) != nil || b.isSelf(msg.SenderID) {
			return
		}

		if b.cb.OnMessage != nil {
			b.cb.OnMessage(channels.Message{Sender: msg.Sender, Text: msg.Text, Kind: msg.Type})
		}
	})

	ch.Bind(channels.EventBoardInteraction, func(data json.RawMessage) {
		var bi channels.BoardInteraction
		if json.Unmarshal(data, &bi) != nil || b.isSelf(bi.SenderID) {
			return
		}

		if b.cb.OnInteraction != nil {
			b.cb.OnInteraction(bi)
		}
	})

	ch.Bind(channels.EventUserJoined, func(data json.RawMessage) {
		var n channels.Notice
		if json.Unmarshal(data, &n) == nil && b.cb.OnUserJoined != nil {
			b.cb.OnUserJoined(n)
		}
	})

	ch.Bind(channels.EventUserLeft, func(data json.RawMessage) {
		var n channels.Notice
		if json.Unmarshal(data, &n) == nil && b.cb.OnUserLeft != nil {
			b.cb.OnUserLeft(n)
		}
	})

	ch.Bind(channels.EventSpiritResponse, func(data json.RawMessage) {
		var sr channels.SpiritResponse
		if json.Unmarshal(data, &sr) != nil {
			return
		}

		if b.cb.OnMessage != nil {
			b.cb.OnMessage(channels.Message{Sender: sr.SpiritName, Text: sr.Response, Kind: channels.KindSpirit})
		}
	})

	if !pair {
		return
	}

	ch.Bind(channels.EventSessionEnded, func(data json.RawMessage) {
		var se channels.SessionEnded
		_ = json.Unmarshal(data, &se)

		b.notice("Anonymous session ended.")
		b.endPair(ch)

		if b.cb.OnSessionEnded != nil {
			b.cb.OnSessionEnded(se.By)
		}
	})
}

func (b *Bridge) bindPresence(ch Channel) {
	count := func(json.RawMessage) {
		n := ch.Count()

		b.mu.Lock()
		b.members = n
		b.mu.Unlock()

		if b.cb.OnMemberCount != nil {
			b.cb.OnMemberCount(n)
		}
	}

	ch.Bind(broker.EventSubscriptionSucceeded, count)
	ch.Bind(broker.EventMemberAdded, count)
	ch.Bind(broker.EventMemberRemoved, count)
}

// endPair drops the pair channel if it is still the current one.
func (b *Bridge) endPair(ch Channel) {
	b.mu.Lock()

	if b.data != ch {
		b.mu.Unlock()

		return
	}

	b.data = nil
	b.matchID = ""
	b.partner = ""
	wasConnected := b.connected
	b.connected = false

	b.mu.Unlock()

	_ = ch.Unsubscribe()

	if wasConnected && b.cb.OnConnection != nil {
		b.cb.OnConnection(false)
	}
}

func (b *Bridge) isSelf(senderID string) bool {
	return senderID != "" && senderID == b.self.AnonID
}

func (b *Bridge) notice(text string) {
	if b.cb.OnMessage != nil {
		b.cb.OnMessage(channels.Message{Sender: systemSender, Text: text, Kind: channels.KindSystem})
	}
}

func (b *Bridge) setConnected(connected bool) {
	b.mu.Lock()
	changed := b.connected != connected
	b.connected = connected
	b.mu.Unlock()

	if changed && b.cb.OnConnection != nil {
		b.cb.OnConnection(connected)
	}
}

// activeChannel is where outgoing events go, or "" without a session.
func (b *Bridge) activeChannel() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.mode {
	case modeRoom:
		return channels.RoomChannel(b.roomID)
	case modeAnonymous:
		if b.matchID != "" {
			return channels.PairChannel(b.matchID)
		}
	}

	return ""
}

func (b *Bridge) publish(ctx context.Context, event string, v any) error {
	channel := b.activeChannel()
	if channel == "" {
		return errs.ErrNoActiveMatch
	}

	return b.pub.Publish(ctx, channel, event, v)
}

func (b *Bridge) SendMessage(ctx context.Context, text string) error {
	return b.publish(ctx, channels.EventChatMessage, channels.ChatMessage{
		Sender:   b.self.DisplayName,
		Text:     text,
		Type:     channels.KindUser,
		SenderID: b.self.AnonID,
	})
}

func (b *Bridge) SendInteraction(ctx context.Context, it channels.Interaction) error {
	return b.publish(ctx, channels.EventBoardInteraction, channels.BoardInteraction{
		Interaction: it,
		Username:    b.self.DisplayName,
		SenderID:    b.self.AnonID,
	})
}

func (b *Bridge) SendSpiritResponse(ctx context.Context, response, spiritName string) error {
	return b.publish(ctx, channels.EventSpiritResponse, channels.SpiritResponse{
		Response:   response,
		SpiritName: spiritName,
		IsSpirit:   true,
	})
}

// EndSession tells the partner the session is over and leaves the pair
// channel. The local teardown happens even if the publish fails.
func (b *Bridge) EndSession(ctx context.Context) error {
	b.mu.Lock()
	pair := b.data
	anonymous := b.mode == modeAnonymous
	b.mu.Unlock()

	if !anonymous || pair == nil {
		return errs.ErrNoActiveMatch
	}

	err := b.publish(ctx, channels.EventSessionEnded, channels.SessionEnded{By: b.self.DisplayName})

	b.endPair(pair)

	return err
}

// Close unsubscribes every channel. It is safe to call more than once and
// before anything was joined.
func (b *Bridge) Close() {
	b.mu.Lock()

	if b.closed {
		b.mu.Unlock()

		return
	}

	b.closed = true

	subscribed := []Channel{b.data, b.presence, b.matches}
	b.data, b.presence, b.matches = nil, nil, nil
	b.matchID, b.partner = "", ""
	b.connected = false

	b.mu.Unlock()

	for _, ch := range subscribed {
		if ch != nil {
			_ = ch.Unsubscribe()
		}
	}
}

func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.connected
}

// IsPaired reports whether an anonymous session currently has a partner.
func (b *Bridge) IsPaired() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.matchID != ""
}

func (b *Bridge) Members() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.members
}

func (b *Bridge) MatchID() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.matchID
}

func (b *Bridge) Partner() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.partner
}
