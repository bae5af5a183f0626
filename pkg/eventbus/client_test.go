// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/seclyzer/seclyzer-core/internal/events"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(Config{Addr: mr.Addr()})
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestSubscribeDecodesValidEvent(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Subscribe(ctx, EventsChannel)

	require.Eventually(t, func() bool {
		n, err := c.rdb.Publish(ctx, EventsChannel, `{"type":"keystroke","ts":1000,"key":"a","event":"press"}`).Result()
		return err == nil && n >= 1
	}, time.Second, 10*time.Millisecond)

	select {
	case ev := <-ch:
		require.NotNil(t, ev.Keystroke)
		require.Equal(t, "a", ev.Keystroke.Key)
		require.Equal(t, events.DefaultUser, ev.User)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for decoded event")
	}

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Decoded)
	require.Zero(t, stats.DecodeError)
}

func TestSubscribeCountsMalformedPayload(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := c.Subscribe(ctx, EventsChannel)

	require.Eventually(t, func() bool {
		n, err := c.rdb.Publish(ctx, EventsChannel, `not json`).Result()
		return err == nil && n >= 1
	}, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := c.rdb.Publish(ctx, EventsChannel, `{"type":"keystroke","ts":1000,"event":"press"}`).Result()
		return err == nil
	}, time.Second, 10*time.Millisecond)

	select {
	case <-ch:
		t.Fatal("expected no decoded events from malformed payloads")
	case <-time.After(300 * time.Millisecond):
	}

	stats := c.Stats()
	require.Equal(t, uint64(0), stats.Decoded)
	require.GreaterOrEqual(t, stats.DecodeError, uint64(2))
}

func TestSubscribeCountsUnknownType(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = c.Subscribe(ctx, EventsChannel)

	require.Eventually(t, func() bool {
		n, err := c.rdb.Publish(ctx, EventsChannel, `{"type":"teleport","ts":1000}`).Result()
		return err == nil && n >= 1
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return c.Stats().Unknown == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublishFailureIncrementsCounter(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	err := c.Publish(context.Background(), EventsChannel, []byte(`{}`))
	require.Error(t, err)
	require.Equal(t, uint64(1), c.Stats().PublishFail)
}
