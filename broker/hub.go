/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	defaultBufferSize = 64
	maxFrameBytes     = 64 << 10
	writeWait         = 10 * time.Second
)

type presence struct {
	member Member
	refs   int
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan Frame

	// guarded by Hub.mu
	subs map[string]Member
	gone bool
}

// Hub owns every socket connected to this process and the channels they
// are subscribed to.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*conn]struct{}
	channels map[string]map[*conn]struct{}
	members  map[string]map[string]*presence
	closed   bool

	auth       *Authenticator
	upgrader   websocket.Upgrader
	bufferSize int
	logf       func(format string, args ...any)
}

type Option func(*Hub)

// WithAuthenticator enables presence channels. Without one every presence
// subscription is refused.
func WithAuthenticator(a *Authenticator) Option {
	return func(h *Hub) {
		h.auth = a
	}
}

func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(h *Hub) {
		h.upgrader.CheckOrigin = check
	}
}

// WithBufferSize sets how many frames may be queued for one socket before
// it is considered too slow and disconnected.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

func WithLogger(logf func(format string, args ...any)) Option {
	return func(h *Hub) {
		if logf != nil {
			h.logf = logf
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		conns:    make(map[*conn]struct{}),
		channels: make(map[string]map[*conn]struct{}),
		members:  make(map[string]map[string]*presence),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		bufferSize: defaultBufferSize,
		logf:       func(string, ...any) {},
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// ServeHTTP upgrades the request and runs the socket until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("BROKER: Upgrade from %s failed: %v", r.RemoteAddr, err)

		return
	}

	c := &conn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan Frame, h.bufferSize),
		subs: make(map[string]Member),
	}

	if !h.register(c) {
		_ = ws.Close()

		return
	}

	h.logf("BROKER: Socket %s connected from %s", c.id, r.RemoteAddr)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *conn) bool {
	established, err := frame(EventConnectionEstablished, "", ConnectionEstablished{SocketID: c.id})
	if err != nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	h.conns[c] = struct{}{}
	c.send <- established

	return true
}

func (h *Hub) readPump(c *conn) {
	defer h.remove(c)

	c.ws.SetReadLimit(maxFrameBytes)

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}

		switch f.Event {
		case EventSubscribe:
			var req SubscribeRequest
			if err := json.Unmarshal(f.Data, &req); err != nil {
				h.reject(c, f.Channel, ErrBadChannel)

				continue
			}

			h.subscribe(c, req)
		case EventUnsubscribe:
			var req UnsubscribeRequest
			if err := json.Unmarshal(f.Data, &req); err != nil {
				continue
			}

			h.unsubscribe(c, req.Channel)
		default:
			// clients only publish through the HTTP API
		}
	}
}

func (h *Hub) writePump(c *conn) {
	defer c.ws.Close()

	for f := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

		if err := c.ws.WriteJSON(f); err != nil {
			return
		}
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) subscribe(c *conn, req SubscribeRequest) {
	channel := req.Channel

	if !validChannel(channel) {
		h.reject(c, channel, ErrBadChannel)

		return
	}

	var m Member

	if IsPresence(channel) {
		if h.auth == nil {
			h.reject(c, channel, ErrUnauthorized)

			return
		}

		var err error

		m, err = h.auth.Verify(req.Auth, c.id, channel)
		if err != nil || m.UserID == "" {
			h.logf("AUTH: Refused %s on %s: %v", c.id, channel, err)
			h.reject(c, channel, ErrUnauthorized)

			return
		}
	}

	h.mu.Lock()

	if c.gone {
		h.mu.Unlock()

		return
	}

	var slow []*conn

	if _, already := c.subs[channel]; !already {
		subs := h.channels[channel]
		if subs == nil {
			subs = make(map[*conn]struct{})
			h.channels[channel] = subs
		}

		subs[c] = struct{}{}
		c.subs[channel] = m

		if IsPresence(channel) && h.joinLocked(channel, m) {
			if added, err := frame(EventMemberAdded, channel, m); err == nil {
				slow = append(slow, h.broadcastLocked(channel, added, c)...)
			}
		}
	}

	succeeded := SubscriptionSucceeded{Count: len(h.channels[channel])}
	if IsPresence(channel) {
		succeeded.Members = h.membersLocked(channel)
		succeeded.Count = len(succeeded.Members)
	}

	if f, err := frame(EventSubscriptionSucceeded, channel, succeeded); err == nil {
		if !h.deliverLocked(c, f) {
			slow = append(slow, c)
		}
	}

	h.mu.Unlock()

	h.logf("BROKER: Socket %s subscribed to %s", c.id, channel)

	h.drop(slow)
}

// joinLocked adds one reference for m and reports whether m is new to channel.
func (h *Hub) joinLocked(channel string, m Member) bool {
	ps := h.members[channel]
	if ps == nil {
		ps = make(map[string]*presence)
		h.members[channel] = ps
	}

	p, ok := ps[m.UserID]
	if !ok {
		p = &presence{member: m}
		ps[m.UserID] = p
	}

	p.refs++

	return !ok
}

func (h *Hub) unsubscribe(c *conn, channel string) {
	h.mu.Lock()
	slow := h.unsubscribeLocked(c, channel)
	h.mu.Unlock()

	h.drop(slow)
}

func (h *Hub) unsubscribeLocked(c *conn, channel string) []*conn {
	m, ok := c.subs[channel]
	if !ok {
		return nil
	}

	delete(c.subs, channel)

	if subs := h.channels[channel]; subs != nil {
		delete(subs, c)

		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}

	if !IsPresence(channel) {
		return nil
	}

	ps := h.members[channel]

	p, ok := ps[m.UserID]
	if !ok {
		return nil
	}

	p.refs--
	if p.refs > 0 {
		return nil
	}

	delete(ps, m.UserID)
	if len(ps) == 0 {
		delete(h.members, channel)
	}

	removed, err := frame(EventMemberRemoved, channel, m)
	if err != nil {
		return nil
	}

	return h.broadcastLocked(channel, removed, nil)
}

func (h *Hub) reject(c *conn, channel string, reason error) {
	f, err := frame(EventSubscriptionError, channel, SubscriptionError{Error: reason.Error()})
	if err != nil {
		return
	}

	h.mu.RLock()
	ok := h.deliverLocked(c, f)
	h.mu.RUnlock()

	if !ok {
		h.drop([]*conn{c})
	}
}

// Publish sends an event to every local subscriber of channel.
func (h *Hub) Publish(ctx context.Context, channel, event string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f := Frame{Event: event, Channel: channel, Data: data}

	h.mu.RLock()

	if h.closed {
		h.mu.RUnlock()

		return ErrClosed
	}

	slow := h.broadcastLocked(channel, f, nil)

	h.mu.RUnlock()

	h.drop(slow)

	return nil
}

// broadcastLocked queues f for every subscriber of channel except skip and
// returns the sockets whose buffers were full. Callers hold h.mu, read or
// write.
func (h *Hub) broadcastLocked(channel string, f Frame, skip *conn) []*conn {
	var slow []*conn

	for c := range h.channels[channel] {
		if c == skip {
			continue
		}

		if !h.deliverLocked(c, f) {
			slow = append(slow, c)
		}
	}

	return slow
}

func (h *Hub) deliverLocked(c *conn, f Frame) bool {
	if c.gone {
		return true
	}

	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

func (h *Hub) drop(slow []*conn) {
	for _, c := range lo.Uniq(slow) {
		h.logf("BROKER: Dropping slow socket %s", c.id)
		h.remove(c)
	}
}

// remove unsubscribes c from everything and stops its write pump.
func (h *Hub) remove(c *conn) {
	h.mu.Lock()

	if c.gone {
		h.mu.Unlock()

		return
	}

	var slow []*conn

	for channel := range c.subs {
		slow = append(slow, h.unsubscribeLocked(c, channel)...)
	}

	c.gone = true
	delete(h.conns, c)
	close(c.send)

	h.mu.Unlock()

	h.logf("BROKER: Socket %s disconnected", c.id)

	h.drop(slow)
}

func (h *Hub) membersLocked(channel string) []Member {
	members := lo.MapToSlice(h.members[channel], func(_ string, p *presence) Member {
		return p.member
	})

	slices.SortFunc(members, func(a, b Member) int {
		return strings.Compare(a.UserID, b.UserID)
	})

	return members
}

// Members returns the users present on a presence channel.
func (h *Hub) Members(channel string) []Member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.membersLocked(channel)
}

// Subscribers returns the number of local sockets subscribed to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.channels[channel])
}

// Connections returns the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.conns)
}

// Close disconnects every socket. Publish fails afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	h.closed = true

	for c := range h.conns {
		c.gone = true
		close(c.send)
		delete(h.conns, c)
	}

	clear(h.channels)
	clear(h.members)

	return nil
}
