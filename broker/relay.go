/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Relay shares one broker between several processes. Events are published
// to Redis and every process delivers them to its own sockets, so a
// subscriber sees each event once no matter which process accepted it.
type Relay struct {
	rdb    redis.UniversalClient
	hub    *Hub
	prefix string
	logf   func(format string, args ...any)

	ready     chan struct{}
	readyOnce sync.Once
}

func NewRelay(rdb redis.UniversalClient, hub *Hub, prefix string, logf func(format string, args ...any)) *Relay {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	return &Relay{
		rdb:    rdb,
		hub:    hub,
		prefix: prefix,
		logf:   logf,
		ready:  make(chan struct{}),
	}
}

func (r *Relay) Publish(ctx context.Context, channel, event string, data json.RawMessage) error {
	payload, err := json.Marshal(Frame{Event: event, Channel: channel, Data: data})
	if err != nil {
		return err
	}

	if err := r.rdb.Publish(ctx, r.prefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}

	return nil
}

// Ready is closed once Run is receiving from Redis.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run delivers events from Redis to the local hub until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.rdb.PSubscribe(ctx, r.prefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	r.readyOnce.Do(func() { close(r.ready) })

	r.logf("BROKER: Relaying %s* from Redis", r.prefix)

	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}

			var f Frame
			if err := json.Unmarshal([]byte(msg.Payload), &f); err != nil {
				r.logf("BROKER: Discarding malformed relay message on %s: %v", msg.Channel, err)

				continue
			}

			if f.Channel == "" {
				f.Channel = strings.TrimPrefix(msg.Channel, r.prefix)
			}

			if err := r.hub.Publish(ctx, f.Channel, f.Event, f.Data); err != nil {
				if errors.Is(err, ErrClosed) || ctx.Err() != nil {
					return nil
				}

				r.logf("BROKER: Relay delivery on %s failed: %v", f.Channel, err)
			}
		}
	}
}
