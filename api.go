/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/seance/bridge"
	"github.com/Seednode/seance/broker"
	"github.com/Seednode/seance/channels"
	"github.com/Seednode/seance/errs"
	"github.com/Seednode/seance/guard"
	"github.com/Seednode/seance/matchmaking"
)

const (
	maxBodyBytes    = 64 << 10
	maxDisplayName  = 24
	maxAnonID       = 16
	anonymousName   = "Anonymous"
	presenceIDBytes = 10
)

var validate = validator.New()

type publishRequest struct {
	Channel string          `json:"channel" validate:"required,max=256"`
	Event   string          `json:"event" validate:"required,max=128"`
	Data    json.RawMessage `json:"data"`
}

type matchRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	AnonID   string `json:"anonId" validate:"max=256"`
}

type authRequest struct {
	SocketID    string `json:"socket_id" validate:"required,max=128"`
	ChannelName string `json:"channel_name" validate:"required,max=256"`
}

type presenceRequest struct {
	RoomID      string `json:"roomId" validate:"required,max=256"`
	Username    string `json:"username" validate:"required,max=256"`
	IsAnonymous bool   `json:"isAnonymous"`
}

type presenceResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	IsAnonymous bool   `json:"isAnonymous"`
}

type askRequest struct {
	Prompt  string `json:"prompt" validate:"required,max=2000"`
	Persona string `json:"persona" validate:"max=2000"`
}

type askResponse struct {
	Text   string `json:"text"`
	Spirit string `json:"spirit"`
}

type okResponse struct {
	Success bool `json:"success"`
}

// decodeJSON reads at most maxBodyBytes of r's body into v and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("%w: body over %s", errs.ErrPayloadTooLarge, humanReadableSize(tooLarge.Limit))
		}

		return fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	return check(v)
}

func check(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	return nil
}

func displayName(raw string) string {
	return guard.SanitizeIdentifier(raw, guard.WithMaxLen(maxDisplayName))
}

func (c *coordinator) admit(r *http.Request, budget channels.Budget) error {
	return c.router.Admit(channels.Request{
		Origin:    r.Header.Get("Origin"),
		Host:      r.Host,
		ClientKey: guard.ClientKey(r, c.cfg.trustForwarded),
	}, budget)
}

// respond writes v, or the error mapping of err when err is set.
func (c *coordinator) respond(w http.ResponseWriter, r *http.Request, errc chan<- error, v any, err error) {
	if err != nil {
		err = writeError(c.cfg, w, r, err)
	} else {
		err = writeJSON(c.cfg, w, http.StatusOK, v)
	}

	if err != nil {
		errc <- err
	}
}

func (c *coordinator) servePublish(errc chan<- error) httprouter.Handle {
	budget := c.cfg.budget("publish", c.cfg.publishLimit)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		err := c.admit(r, budget)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		var req publishRequest
		if err := decodeJSON(w, r, &req); err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		err = c.router.Publish(r.Context(), channels.Envelope{
			Channel: req.Channel,
			Event:   req.Event,
			Data:    req.Data,
		})
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		if roomID, ok := strings.CutPrefix(channels.CleanName(req.Channel), channels.RoomPrefix); ok {
			c.rooms.touch(roomID)
		}

		c.respond(w, r, errc, okResponse{Success: true}, nil)

		logf(c.cfg, "SERVE: Published %s (%s) for %s in %s",
			req.Event,
			humanReadableSize(int64(len(req.Data))),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// identity builds the matchmaking identity for a request. A missing anonId
// falls back to the visitor cookie.
func identity(w http.ResponseWriter, r *http.Request, req matchRequest) matchmaking.Identity {
	anonID := req.AnonID
	if anonID == "" {
		anonID = getOrSetVisitorID(w, r)
	}

	return matchmaking.Identity{
		DisplayName: displayName(req.Username),
		AnonID:      guard.SanitizeIdentifier(anonID, guard.WithMaxLen(maxAnonID)),
	}
}

func (c *coordinator) serveMatch(errc chan<- error) httprouter.Handle {
	budget := c.cfg.budget("match", c.cfg.matchLimit)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		err := c.admit(r, budget)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		var req matchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		id := identity(w, r, req)

		result, err := c.queue.Request(r.Context(), id)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		if result.Status == matchmaking.StatusWaiting {
			logf(c.cfg, "MATCH: %q is waiting", id.DisplayName)
		}

		c.respond(w, r, errc, bridge.MatchResponse{
			Status:  result.Status,
			MatchID: result.MatchID,
			Partner: result.Partner.DisplayName,
		}, nil)
	}
}

func (c *coordinator) serveLeaveMatch(errc chan<- error) httprouter.Handle {
	budget := c.cfg.budget("match", c.cfg.matchLimit)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		err := c.admit(r, budget)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		var req matchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		id := identity(w, r, req)

		if c.queue.Leave(id.AnonID) {
			logf(c.cfg, "MATCH: %q stopped waiting", id.DisplayName)
		}

		c.respond(w, r, errc, okResponse{Success: true}, nil)
	}
}

// decodeAuth accepts the JSON body the Go client sends as well as the
// form encoding browser socket libraries use.
func decodeAuth(w http.ResponseWriter, r *http.Request) (authRequest, error) {
	var req authRequest

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return req, decodeJSON(w, r, &req)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, fmt.Errorf("%w: body over %s", errs.ErrPayloadTooLarge, humanReadableSize(tooLarge.Limit))
		}

		return req, fmt.Errorf("%w: %w", errs.ErrValidation, err)
	}

	req.SocketID = r.PostForm.Get("socket_id")
	req.ChannelName = r.PostForm.Get("channel_name")

	return req, check(&req)
}

func (c *coordinator) serveAuth(errc chan<- error) httprouter.Handle {
	budget := c.cfg.budget("auth", c.cfg.authLimit)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		err := c.admit(r, budget)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		req, err := decodeAuth(w, r)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		if !channels.ValidPresence(req.ChannelName) {
			c.respond(w, r, errc, nil, fmt.Errorf("%w: %q is not a presence channel", errs.ErrInvalidChannel, req.ChannelName))
			return
		}

		name := anonymousName
		if raw := r.URL.Query().Get("username"); raw != "" {
			name = displayName(raw)
		}

		member := broker.Member{
			UserID: "anon-" + guard.RandomToken(presenceIDBytes),
			Name:   name,
		}

		resp, err := c.auth.Sign(req.SocketID, req.ChannelName, member)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		logf(c.cfg, "AUTH: Signed %s into %s as %q", req.SocketID, req.ChannelName, name)

		c.respond(w, r, errc, resp, nil)
	}
}

// servePresence announces joins and leaves in a friend room. Anonymous
// visitors are never announced.
func (c *coordinator) servePresence(errc chan<- error, event, verb string) httprouter.Handle {
	budget := c.cfg.budget("presence", c.cfg.publishLimit)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		err := c.admit(r, budget)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		var req presenceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		roomID := guard.Clean(req.RoomID, maxRoomIDLen)
		if roomID == "" {
			c.respond(w, r, errc, nil, fmt.Errorf("%w: missing room id", errs.ErrValidation))
			return
		}

		c.rooms.touch(roomID)

		if !req.IsAnonymous {
			name := displayName(req.Username)

			err := c.router.Emit(r.Context(), channels.RoomChannel(roomID), event, channels.Notice{
				Username: name,
				Message:  name + " has " + verb + " the session",
			})
			if err != nil {
				c.respond(w, r, errc, nil, err)
				return
			}
		}

		c.respond(w, r, errc, presenceResponse{
			Success:     true,
			Message:     strings.ToUpper(verb[:1]) + verb[1:] + " room successfully",
			IsAnonymous: req.IsAnonymous,
		}, nil)
	}
}

func (c *coordinator) serveAsk(errc chan<- error) httprouter.Handle {
	budget := c.cfg.budget("ai", c.cfg.aiLimit)

	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		err := c.admit(r, budget)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		var req askRequest
		if err := decodeJSON(w, r, &req); err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		reply, err := c.oracle.Ask(r.Context(), req.Prompt, req.Persona)
		if err != nil {
			c.respond(w, r, errc, nil, err)
			return
		}

		c.respond(w, r, errc, askResponse{Text: reply.Text, Spirit: reply.Spirit}, nil)
	}
}

func (c *coordinator) serveStatus(errc chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		c.respond(w, r, errc, map[string]string{"status": "ok"}, nil)
	}
}

func (c *coordinator) registerAPI(mux *httprouter.Router, errc chan<- error) {
	prefix := c.cfg.prefix

	mux.POST(prefix+"/api/broker", c.servePublish(errc))
	mux.POST(prefix+"/api/broker/auth", c.serveAuth(errc))
	mux.POST(prefix+"/api/broker/join", c.servePresence(errc, channels.EventUserJoined, "joined"))
	mux.POST(prefix+"/api/broker/leave", c.servePresence(errc, channels.EventUserLeft, "left"))
	mux.Handler(http.MethodGet, prefix+"/api/broker/ws", c.hub)

	mux.GET(prefix+"/api/anonymous/match", c.serveStatus(errc))
	mux.POST(prefix+"/api/anonymous/match", c.serveMatch(errc))
	mux.DELETE(prefix+"/api/anonymous/match", c.serveLeaveMatch(errc))

	mux.GET(prefix+"/api/ai", c.serveStatus(errc))
	mux.POST(prefix+"/api/ai", c.serveAsk(errc))
}
