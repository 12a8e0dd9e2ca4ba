/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package channels

import (
	"strings"

	"github.com/samber/lo"
)

// Events in the closed wire taxonomy.
const (
	EventChatMessage      = "chat-message"
	EventBoardInteraction = "board-interaction"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventSpiritResponse   = "spirit-response"
	EventSessionEnded     = "session-ended"
	EventMatched          = "matched"

	// EventTest is accepted only outside production.
	EventTest = "test-event"
)

// Well-known channel names and prefixes.
const (
	RoomPrefix     = "room-"
	PairPrefix     = "anonymous-"
	PresencePrefix = "presence-"

	MatchesChannel    = "anonymous-matches"
	PresenceAnonymous = "presence-anonymous"

	// TestChannel is accepted only outside production.
	TestChannel = "test-channel"
)

var productionEvents = []string{
	EventChatMessage,
	EventBoardInteraction,
	EventUserJoined,
	EventUserLeft,
	EventSpiritResponse,
	EventSessionEnded,
	EventMatched,
}

func RoomChannel(roomID string) string { return RoomPrefix + roomID }

func PairChannel(matchID string) string { return PairPrefix + matchID }

func PresenceRoomChannel(roomID string) string { return PresencePrefix + RoomPrefix + roomID }

// IsPresence reports whether name is a presence channel, which needs a
// signed auth token to subscribe.
func IsPresence(name string) bool {
	return strings.HasPrefix(name, PresencePrefix)
}

// ValidPresence accepts the anonymous lobby and per-room presence channels.
func ValidPresence(name string) bool {
	if name == PresenceAnonymous {
		return true
	}

	rest, ok := strings.CutPrefix(name, PresencePrefix)
	if !ok {
		return false
	}

	return ValidData(rest, true)
}

// ValidData reports whether name is a channel events may be published on.
func ValidData(name string, production bool) bool {
	if !production && name == TestChannel {
		return true
	}

	for _, prefix := range []string{RoomPrefix, PairPrefix} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			return rest != "" && isIdentifier(rest)
		}
	}

	return false
}

// ValidEvent reports whether event is in the whitelist.
func ValidEvent(event string, production bool) bool {
	if !production && event == EventTest {
		return true
	}

	return lo.Contains(productionEvents, event)
}

func isIdentifier(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}

	return true
}
