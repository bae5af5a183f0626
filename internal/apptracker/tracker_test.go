// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package apptracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seclyzer/seclyzer-core/internal/events"
)

func focus(tsMs int64, app string) *events.AppFocus {
	return &events.AppFocus{TsUs: tsMs * 1000, AppName: app}
}

func newTestTracker() *Tracker {
	return New(nil, nil, nil, 5*time.Second)
}

// TestTrackerScenarioS5 covers spec scenario S5 end to end through the
// tracker (rather than the bare model), including the flush-to-snapshot
// path with a nil store.
func TestTrackerScenarioS5(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()
	const user = "dave"

	tr.handle(ctx, user, focus(0, "firefox"))
	tr.handle(ctx, user, focus(60_000, "chrome"))
	tr.handle(ctx, user, focus(90_000, "firefox"))

	m := tr.Snapshot(user)
	require.NotNil(t, m)
	require.EqualValues(t, 1, m.Transitions[TransitionKey("firefox", "chrome")])
	require.EqualValues(t, 1, m.Transitions[TransitionKey("chrome", "firefox")])
	require.InDelta(t, 60_000, m.Durations["firefox"].SumMs, 1e-6)
	require.InDelta(t, 30_000, m.Durations["chrome"].SumMs, 1e-6)
}

// TestTrackerFlushClearsDirtyFlag exercises the tick/flush bookkeeping: a
// flush with a nil store must not error and must clear the dirty flag.
func TestTrackerFlushClearsDirtyFlag(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()
	const user = "erin"

	tr.handle(ctx, user, focus(0, "vim"))
	tr.handle(ctx, user, focus(1000, "terminal"))

	tr.mu.Lock()
	dirtyBefore := tr.users[user].dirty
	tr.mu.Unlock()
	require.True(t, dirtyBefore)

	tr.Flush(ctx)

	tr.mu.Lock()
	dirtyAfter := tr.users[user].dirty
	tr.mu.Unlock()
	require.False(t, dirtyAfter)
}
