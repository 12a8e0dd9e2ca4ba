/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/seance/broker"
	"github.com/Seednode/seance/matchmaking"
)

const maxResponseBytes = 64 << 10

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code       int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}

	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// MatchResponse is the server's answer to a match request.
type MatchResponse struct {
	Status  matchmaking.Status `json:"status"`
	MatchID string             `json:"matchId,omitempty"`
	Partner string             `json:"partner,omitempty"`
}

// API talks to a seance server over HTTP.
type API struct {
	base   *url.URL
	client *http.Client
}

type APIOption func(*API)

func WithHTTPClient(c *http.Client) APIOption {
	return func(a *API) {
		a.client = c
	}
}

// NewAPI returns a client for the server at baseURL, including any path
// prefix the server was started with.
func NewAPI(baseURL string, opts ...APIOption) (*API, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, err
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	a := &API{
		base:   u,
		client: &http.Client{Timeout: 15 * time.Second},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Origin is sent with every request; the server only accepts its own.
func (a *API) Origin() string {
	return a.base.Scheme + "://" + a.base.Host
}

// SocketURL is the broker's websocket endpoint.
func (a *API) SocketURL() string {
	u := *a.base

	u.Scheme = "ws"
	if a.base.Scheme == "https" {
		u.Scheme = "wss"
	}

	u.Path += "/api/broker/ws"

	return u.String()
}

func (a *API) endpoint(path string, query url.Values) string {
	u := *a.base
	u.Path += path
	u.RawQuery = query.Encode()

	return u.String()
}

func (a *API) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader

	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}

		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint(path, query), reader)
	if err != nil {
		return err
	}

	req.Header.Set("Origin", a.Origin())
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}

		var failure struct {
			Error string `json:"error"`
		}

		if json.Unmarshal(raw, &failure) == nil {
			se.Message = failure.Error
		}

		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			se.RetryAfter = time.Duration(secs) * time.Second
		}

		return se
	}

	if out == nil {
		return nil
	}

	return json.Unmarshal(raw, out)
}

// Publish sends one event to a channel through the server.
func (a *API) Publish(ctx context.Context, channel, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}

	err = a.do(ctx, http.MethodPost, "/api/broker", nil, map[string]any{
		"channel": channel,
		"event":   event,
		"data":    json.RawMessage(data),
	}, &resp)
	if err != nil {
		return err
	}

	if !resp.Success {
		return errors.New(resp.Error)
	}

	return nil
}

func (a *API) RequestMatch(ctx context.Context, self matchmaking.Identity) (MatchResponse, error) {
	var resp MatchResponse

	err := a.do(ctx, http.MethodPost, "/api/anonymous/match", nil, map[string]string{
		"username": self.DisplayName,
		"anonId":   self.AnonID,
	}, &resp)

	return resp, err
}

// LeaveMatch gives up a waiting slot.
func (a *API) LeaveMatch(ctx context.Context, self matchmaking.Identity) error {
	return a.do(ctx, http.MethodDelete, "/api/anonymous/match", nil, map[string]string{
		"username": self.DisplayName,
		"anonId":   self.AnonID,
	}, nil)
}

// Authorizer signs presence subscriptions as username.
func (a *API) Authorizer(username string) broker.Authorizer {
	return func(ctx context.Context, socketID, channel string) (string, error) {
		var resp broker.AuthResponse

		err := a.do(ctx, http.MethodPost, "/api/broker/auth", url.Values{"username": {username}}, map[string]string{
			"socket_id":    socketID,
			"channel_name": channel,
		}, &resp)
		if err != nil {
			return "", err
		}

		return resp.Auth, nil
	}
}

// Join announces username in a room.
func (a *API) Join(ctx context.Context, roomID, username string) error {
	return a.presence(ctx, "/api/broker/join", roomID, username)
}

func (a *API) Leave(ctx context.Context, roomID, username string) error {
	return a.presence(ctx, "/api/broker/leave", roomID, username)
}

func (a *API) presence(ctx context.Context, path, roomID, username string) error {
	return a.do(ctx, http.MethodPost, path, nil, map[string]any{
		"roomId":      roomID,
		"username":    username,
		"isAnonymous": false,
	}, nil)
}

// Answer is a spirit's reply to a prompt.
type Answer struct {
	Text   string `json:"text"`
	Spirit string `json:"spirit"`
}

// Ask gets a spirit's reply to prompt.
func (a *API) Ask(ctx context.Context, prompt, persona string) (Answer, error) {
	var resp Answer

	err := a.do(ctx, http.MethodPost, "/api/ai", nil, map[string]string{
		"prompt":  prompt,
		"persona": persona,
	}, &resp)

	return resp, err
}
