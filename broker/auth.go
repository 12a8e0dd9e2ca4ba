/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package broker

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "seance"

// AuthResponse is what the auth endpoint returns to a subscribing client.
type AuthResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data"`
}

type presenceClaims struct {
	SocketID string `json:"socket_id"`
	Channel  string `json:"channel"`
	Member   Member `json:"member"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies presence subscriptions. A signature
// binds one socket to one channel as one member.
type Authenticator struct {
	key    string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewAuthenticator(key, secret string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		key:    key,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (a *Authenticator) Sign(socketID, channel string, m Member) (AuthResponse, error) {
	now := a.now()

	claims := &presenceClaims{
		SocketID: socketID,
		Channel:  channel,
		Member:   m,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   m.UserID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return AuthResponse{}, err
	}

	channelData, err := json.Marshal(m)
	if err != nil {
		return AuthResponse{}, err
	}

	return AuthResponse{
		Auth:        a.key + ":" + signed,
		ChannelData: string(channelData),
	}, nil
}

// Verify checks auth for socketID subscribing to channel and returns the
// member it was issued for.
func (a *Authenticator) Verify(auth, socketID, channel string) (Member, error) {
	key, signed, ok := strings.Cut(auth, ":")
	if !ok || key != a.key {
		return Member{}, fmt.Errorf("%w: unknown key", ErrUnauthorized)
	}

	claims := &presenceClaims{}

	_, err := jwt.ParseWithClaims(signed, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return Member{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	if claims.SocketID != socketID || claims.Channel != channel {
		return Member{}, fmt.Errorf("%w: signature is for another subscription", ErrUnauthorized)
	}

	return claims.Member, nil
}
