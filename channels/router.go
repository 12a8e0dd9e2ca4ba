/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package channels validates events against the channel policy and hands
// accepted ones to the broker. Router is the only write path to the broker.
package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Seednode/seance/errs"
	"github.com/Seednode/seance/guard"
	"github.com/Seednode/seance/ratelimit"
)

const (
	MaxPayloadBytes = 10_000

	maxChannelLen = 164
	maxEventLen   = 64
)

// Broker fans an event out to every subscriber of a channel.
type Broker interface {
	Publish(ctx context.Context, channel, event string, data json.RawMessage) error
}

// Envelope is one event addressed to one channel.
type Envelope struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Request carries what the router needs to know about an HTTP caller.
type Request struct {
	Origin    string
	Host      string
	ClientKey string
}

// Budget is a per-route rate limit.
type Budget struct {
	Name   string
	Max    int
	Window time.Duration
}

type Router struct {
	broker     Broker
	origins    *guard.Origins
	limiter    *ratelimit.Limiter
	production bool
	logf       func(format string, args ...any)
}

type Option func(*Router)

func WithProduction(production bool) Option {
	return func(r *Router) {
		r.production = production
	}
}

func WithLogger(logf func(format string, args ...any)) Option {
	return func(r *Router) {
		if logf != nil {
			r.logf = logf
		}
	}
}

func NewRouter(broker Broker, origins *guard.Origins, limiter *ratelimit.Limiter, opts ...Option) *Router {
	r := &Router{
		broker:  broker,
		origins: origins,
		limiter: limiter,
		logf:    func(string, ...any) {},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Production reports whether the strict channel and event policy applies.
func (rt *Router) Production() bool {
	return rt.production
}

// Admit runs the origin and rate checks for an HTTP caller of the route
// described by budget.
func (rt *Router) Admit(req Request, budget Budget) error {
	if !rt.origins.Allowed(req.Origin, req.Host) {
		return errs.ErrForbiddenOrigin
	}

	d := rt.limiter.Check(budget.Name+":"+req.ClientKey, budget.Max, budget.Window)
	if !d.Allowed {
		return &errs.RateLimitedError{RetryAfter: d.RetryAfter}
	}

	return nil
}

// CleanName strips a channel name down to the form it is delivered on.
func CleanName(channel string) string {
	return guard.Clean(channel, maxChannelLen)
}

// Publish validates env and forwards it to the broker exactly once.
func (rt *Router) Publish(ctx context.Context, env Envelope) error {
	channel := CleanName(env.Channel)
	event := guard.Clean(env.Event, maxEventLen)

	if channel == "" || event == "" {
		return fmt.Errorf("%w: missing channel or event", errs.ErrValidation)
	}

	if !ValidData(channel, rt.production) {
		return fmt.Errorf("%w: %q", errs.ErrInvalidChannel, channel)
	}

	if !ValidEvent(event, rt.production) {
		return fmt.Errorf("%w: %q", errs.ErrInvalidEvent, event)
	}

	data, err := normalizePayload(env.Data)
	if err != nil {
		return err
	}

	if err := rt.broker.Publish(ctx, channel, event, data); err != nil {
		rt.logf("PUBLISH: Delivery of %s on %s failed: %v", event, channel, err)

		return fmt.Errorf("%w: %w", errs.ErrDelivery, err)
	}

	rt.logf("PUBLISH: %s on %s (%d bytes)", event, channel, len(data))

	return nil
}

// Emit marshals v and publishes it. Server-side components use this
// instead of talking to the broker.
func (rt *Router) Emit(ctx context.Context, channel, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrInvalidData, err)
	}

	return rt.Publish(ctx, Envelope{Channel: channel, Event: event, Data: data})
}

func normalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`), nil
	}

	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload must be an object", errs.ErrInvalidData)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidData, err)
	}

	if buf.Len() > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", errs.ErrPayloadTooLarge, buf.Len())
	}

	return buf.Bytes(), nil
}
