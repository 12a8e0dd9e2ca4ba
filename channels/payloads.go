/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package channels

import "fmt"

// Kind tags who authored a transcript line.
type Kind int

const (
	KindUser Kind = iota
	KindSpirit
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindSpirit:
		return "spirit"
	case KindSystem:
		return "system"
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	switch k {
	case KindUser, KindSpirit, KindSystem:
		return []byte(k.String()), nil
	}

	return nil, fmt.Errorf("unknown message kind %d", int(k))
}

// UnmarshalText treats a missing or unknown type as a user message.
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "spirit":
		*k = KindSpirit
	case "system":
		*k = KindSystem
	default:
		*k = KindUser
	}

	return nil
}

// Message is one line of a session transcript.
type Message struct {
	Sender string
	Text   string
	Kind   Kind
}

type ChatMessage struct {
	Sender   string `json:"sender"`
	Text     string `json:"text"`
	Type     Kind   `json:"type"`
	SenderID string `json:"senderId"`
}

// Interaction types a player can make on the board.
const (
	InteractionLetter  = "letter"
	InteractionYesNo   = "yesno"
	InteractionGoodbye = "goodbye"
)

type Interaction struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type BoardInteraction struct {
	Interaction Interaction `json:"interaction"`
	Username    string      `json:"username"`
	SenderID    string      `json:"senderId"`
}

// Notice is the payload of user-joined and user-left.
type Notice struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

type SpiritResponse struct {
	Response   string `json:"response"`
	SpiritName string `json:"spiritName"`
	IsSpirit   bool   `json:"isSpirit"`
}

type SessionEnded struct {
	By string `json:"by"`
}

// Matched is broadcast on MatchesChannel when two visitors are paired.
// Users and UserIDs are index-aligned.
type Matched struct {
	MatchID string   `json:"matchId"`
	Users   []string `json:"users"`
	UserIDs []string `json:"userIds"`
}
