// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package eventbus

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seclyzer/seclyzer-core/internal/events"
	"github.com/seclyzer/seclyzer-core/pkg/log"
)

// EventsChannel is the channel name described in spec §6.
const EventsChannel = "seclyzer:events"

// FeatureChannelPrefix is prefixed to an extractor name (keystroke, mouse,
// app) to build its optional best-effort feature-publication channel.
const FeatureChannelPrefix = "seclyzer:features:"

// Stats are plain operational counters (spec §7: "operational signal is
// via counters and logs"). All fields are updated atomically and safe to
// read concurrently.
type Stats struct {
	Decoded     uint64
	DecodeError uint64
	Unknown     uint64
	Reconnects  uint64
	PublishFail uint64
}

// Client is a shared, thread-safe handle to the event bus. Multiple
// extractors subscribe to the same channel independently; publishing is
// lock-free (delegated to the underlying Redis client's connection pool).
type Client struct {
	rdb *redis.Client
	cfg Config

	decoded     atomic.Uint64
	decodeErr   atomic.Uint64
	unknown     atomic.Uint64
	reconnects  atomic.Uint64
	publishFail atomic.Uint64
}

// New connects to the configured Redis instance. The connection itself is
// lazy (go-redis dials on first use); New only fills in the default
// reconnect backoff bounds and builds the client.
func New(cfg Config) *Client {
	if cfg.MinReconnectWait == 0 {
		cfg.MinReconnectWait = 100 * time.Millisecond
	}
	if cfg.MaxReconnectWait == 0 {
		cfg.MaxReconnectWait = 10 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Client{rdb: rdb, cfg: cfg}
}

// Stats returns a point-in-time snapshot of the operational counters.
func (c *Client) Stats() Stats {
	return Stats{
		Decoded:     c.decoded.Load(),
		DecodeError: c.decodeErr.Load(),
		Unknown:     c.unknown.Load(),
		Reconnects:  c.reconnects.Load(),
		PublishFail: c.publishFail.Load(),
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Publish sends data to the given channel. Failures are logged and
// swallowed by callers per spec §4.1 (best-effort feature publication);
// Publish itself just reports the error so callers can choose.
func (c *Client) Publish(ctx context.Context, channel string, data []byte) error {
	if err := c.rdb.Publish(ctx, channel, data).Err(); err != nil {
		c.publishFail.Add(1)
		return err
	}
	return nil
}

// Subscribe decodes and streams Events from channel until ctx is
// cancelled. On a transport failure the receive loop reconnects with a
// capped exponential backoff (spec §4.1: 100 ms -> 10 s); per spec, a
// fresh subscription resumes from "now" so events buffered during the
// outage are acceptably dropped, not replayed.
//
// Decode errors (malformed JSON, unrecognised "type", missing required
// fields) increment a counter and are skipped; they never close the
// returned channel or terminate Subscribe.
func (c *Client) Subscribe(ctx context.Context, channel string) <-chan events.Event {
	out := make(chan events.Event, 256)

	go func() {
		defer close(out)

		backoff := c.cfg.MinReconnectWait
		for {
			if ctx.Err() != nil {
				return
			}

			if err := c.receiveLoop(ctx, channel, out); err != nil {
				c.reconnects.Add(1)
				log.Warnf("eventbus: subscribe to %q failed, retrying in %s: %v", channel, backoff, err)

				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}

				backoff *= 2
				if backoff > c.cfg.MaxReconnectWait {
					backoff = c.cfg.MaxReconnectWait
				}
				continue
			}

			// receiveLoop only returns nil on clean ctx cancellation.
			return
		}
	}()

	return out
}

// receiveLoop owns one subscription's lifetime. It returns nil only on ctx
// cancellation and an error otherwise. Subscribe's backoff is not reset
// after a receive loop that ran for a while: it keeps doubling (up to
// MaxReconnectWait) across every failure for the life of the subscription.
func (c *Client) receiveLoop(ctx context.Context, channel string, out chan<- events.Event) error {
	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errSubscriptionClosed
			}
			c.handleMessage(ctx, msg, out)
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, msg *redis.Message, out chan<- events.Event) {
	raw := []byte(msg.Payload)

	if err := validateEnvelope(raw); err != nil {
		c.decodeErr.Add(1)
		return
	}

	ev, err := events.Decode(raw)
	if err != nil {
		if errors.Is(err, events.ErrUnknownType) {
			c.unknown.Add(1)
		} else {
			c.decodeErr.Add(1)
		}
		return
	}

	c.decoded.Add(1)
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

var errSubscriptionClosed = errors.New("eventbus: subscription channel closed")
