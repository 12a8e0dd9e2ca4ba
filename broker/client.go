/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

// Authorizer obtains a presence signature for socketID on channel, usually
// from the application's auth endpoint.
type Authorizer func(ctx context.Context, socketID, channel string) (string, error)

type ClientOption func(*Client)

// WithOrigin sets the Origin header sent with the handshake.
func WithOrigin(origin string) ClientOption {
	return func(c *Client) {
		c.origin = origin
	}
}

func WithAuthorizer(a Authorizer) ClientOption {
	return func(c *Client) {
		c.authorize = a
	}
}

// Client is one websocket connection to a Hub. Event handlers run one at a
// time on the connection's read goroutine, in the order the hub sent them.
type Client struct {
	ws        *websocket.Conn
	socketID  string
	origin    string
	authorize Authorizer

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*Subscription

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the hub at url and waits for it to assign a socket id.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		subs: make(map[string]*Subscription),
		done: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	_ = ws.SetReadDeadline(deadline)

	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		_ = ws.Close()

		return nil, fmt.Errorf("handshake: %w", err)
	}

	var established ConnectionEstablished
	if f.Event != EventConnectionEstablished || json.Unmarshal(f.Data, &established) != nil || established.SocketID == "" {
		_ = ws.Close()

		return nil, fmt.Errorf("handshake: unexpected %q", f.Event)
	}

	_ = ws.SetReadDeadline(time.Time{})

	c.ws = ws
	c.socketID = established.SocketID

	go c.readLoop()

	return c, nil
}

func (c *Client) SocketID() string {
	return c.socketID
}

// Done is closed when the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Channel returns the subscription handle for name, creating it if
// needed. Bind handlers before calling Subscribe.
func (c *Client) Channel(name string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.subs[name]; ok {
		return s
	}

	s := &Subscription{
		client:   c,
		name:     name,
		handlers: make(map[string][]func(json.RawMessage)),
		members:  make(map[string]Member),
	}

	c.subs[name] = s

	return s
}

// Unsubscribe is a shortcut for Channel(name).Unsubscribe() that does
// nothing for channels never requested.
func (c *Client) Unsubscribe(name string) error {
	c.mu.Lock()
	s, ok := c.subs[name]
	c.mu.Unlock()

	if !ok {
		return nil
	}

	return s.Unsubscribe()
}

// Close ends the connection. It does not wait for the read goroutine, so
// it is safe to call from a handler.
func (c *Client) Close() error {
	var err error

	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		err = c.ws.Close()
	})

	return err
}

func (c *Client) write(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))

	return c.ws.WriteJSON(f)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			return
		}

		c.mu.Lock()
		s := c.subs[f.Channel]
		c.mu.Unlock()

		if s != nil {
			s.handle(f)
		}
	}
}

// Subscription is a client's view of one channel.
type Subscription struct {
	client *Client
	name   string

	mu         sync.Mutex
	handlers   map[string][]func(json.RawMessage)
	members    map[string]Member
	count      int
	subscribed bool
}

func (s *Subscription) Name() string {
	return s.name
}

// Bind adds a handler for event on this channel. Control events such as
// EventSubscriptionSucceeded can be bound too.
func (s *Subscription) Bind(event string, h func(data json.RawMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.handlers[event] = append(s.handlers[event], h)
}

// Subscribe asks the hub for the channel's events. The outcome arrives as
// EventSubscriptionSucceeded or EventSubscriptionError.
func (s *Subscription) Subscribe(ctx context.Context) error {
	req := SubscribeRequest{Channel: s.name}

	if IsPresence(s.name) {
		if s.client.authorize == nil {
			return ErrUnauthorized
		}

		auth, err := s.client.authorize(ctx, s.client.socketID, s.name)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", s.name, err)
		}

		req.Auth = auth
	}

	f, err := frame(EventSubscribe, "", req)
	if err != nil {
		return err
	}

	return s.client.write(f)
}

// Unsubscribe stops delivery and forgets every handler.
func (s *Subscription) Unsubscribe() error {
	c := s.client

	c.mu.Lock()
	if c.subs[s.name] == s {
		delete(c.subs, s.name)
	}
	c.mu.Unlock()

	s.mu.Lock()
	s.subscribed = false
	s.count = 0
	clear(s.members)
	clear(s.handlers)
	s.mu.Unlock()

	f, err := frame(EventUnsubscribe, "", UnsubscribeRequest{Channel: s.name})
	if err != nil {
		return err
	}

	return c.write(f)
}

func (s *Subscription) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.subscribed
}

// Count is the member count on presence channels and the subscriber count
// reported at subscription time otherwise.
func (s *Subscription) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

func (s *Subscription) Members() []Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := lo.Values(s.members)

	slices.SortFunc(members, func(a, b Member) int {
		return strings.Compare(a.UserID, b.UserID)
	})

	return members
}

func (s *Subscription) handle(f Frame) {
	s.mu.Lock()

	switch f.Event {
	case EventSubscriptionSucceeded:
		var ok SubscriptionSucceeded
		if json.Unmarshal(f.Data, &ok) == nil {
			s.subscribed = true
			s.count = ok.Count

			clear(s.members)
			for _, m := range ok.Members {
				s.members[m.UserID] = m
			}
		}
	case EventSubscriptionError:
		s.subscribed = false
	case EventMemberAdded:
		var m Member
		if json.Unmarshal(f.Data, &m) == nil {
			s.members[m.UserID] = m
			s.count = len(s.members)
		}
	case EventMemberRemoved:
		var m Member
		if json.Unmarshal(f.Data, &m) == nil {
			delete(s.members, m.UserID)
			s.count = len(s.members)
		}
	}

	handlers := slices.Clone(s.handlers[f.Event])

	s.mu.Unlock()

	for _, h := range handlers {
		h(f.Data)
	}
}
