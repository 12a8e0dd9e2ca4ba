/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package broker is a small publish/subscribe fan-out over websockets.
// Clients subscribe to named channels and receive every event published on
// them; presence channels additionally track who is subscribed. Events are
// only ever published server-side.
package broker

import (
	"encoding/json"
	"errors"
	"strings"
)

// Control events. Application events never carry this prefix.
const (
	ControlPrefix = "broker:"

	EventConnectionEstablished = ControlPrefix + "connection_established"
	EventSubscribe             = ControlPrefix + "subscribe"
	EventUnsubscribe           = ControlPrefix + "unsubscribe"
	EventSubscriptionSucceeded = ControlPrefix + "subscription_succeeded"
	EventSubscriptionError     = ControlPrefix + "subscription_error"
	EventMemberAdded           = ControlPrefix + "member_added"
	EventMemberRemoved         = ControlPrefix + "member_removed"
)

const (
	presencePrefix = "presence-"
	maxChannelLen  = 164
)

var (
	ErrClosed       = errors.New("broker closed")
	ErrUnauthorized = errors.New("presence subscription not authorized")
	ErrBadChannel   = errors.New("invalid channel name")
)

// Frame is the unit on the wire in both directions.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type ConnectionEstablished struct {
	SocketID string `json:"socket_id"`
}

// SubscribeRequest is the data of a subscribe frame. Auth is required for
// presence channels.
type SubscribeRequest struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// Member is one user on a presence channel.
type Member struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

type SubscriptionSucceeded struct {
	Count   int      `json:"count"`
	Members []Member `json:"members,omitempty"`
}

type SubscriptionError struct {
	Error string `json:"error"`
}

// IsPresence reports whether channel tracks membership.
func IsPresence(channel string) bool {
	return strings.HasPrefix(channel, presencePrefix)
}

func validChannel(name string) bool {
	if name == "" || len(name) > maxChannelLen {
		return false
	}

	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}

	return true
}

func frame(event, channel string, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Event: event, Channel: channel, Data: data}, nil
}
