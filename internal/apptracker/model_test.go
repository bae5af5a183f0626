// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package apptracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestScenarioS5 covers spec scenario S5: focus(0,"firefox"),
// focus(60000,"chrome"), focus(90000,"firefox") -> one firefox->chrome
// transition, one chrome->firefox transition, firefox accumulates a single
// 60000ms duration sample and chrome a single 30000ms sample (durations are
// attributed to the app being LEFT, not the one being entered).
func TestScenarioS5(t *testing.T) {
	m := NewModel()

	ApplyFocus(m, "firefox", 0)
	ApplyFocus(m, "chrome", 60_000_000)
	ApplyFocus(m, "firefox", 90_000_000)

	require.EqualValues(t, 1, m.Transitions[TransitionKey("firefox", "chrome")])
	require.EqualValues(t, 1, m.Transitions[TransitionKey("chrome", "firefox")])

	require.EqualValues(t, 1, m.Durations["firefox"].N)
	require.InDelta(t, 60_000, m.Durations["firefox"].SumMs, 1e-6)

	require.EqualValues(t, 1, m.Durations["chrome"].N)
	require.InDelta(t, 30_000, m.Durations["chrome"].SumMs, 1e-6)

	require.Equal(t, "firefox", m.LastFocusApp)
	require.EqualValues(t, 3, m.TotalEvents)
}

// TestOutgoingTransitionCountMatchesDurationSamples is invariant 6: for any
// app a, the sum of Transitions[(a,*)] equals the number of focus changes
// that left a, which is exactly Durations[a].N (every span attributed to a
// corresponds to exactly one transition away from a).
func TestOutgoingTransitionCountMatchesDurationSamples(t *testing.T) {
	m := NewModel()
	ApplyFocus(m, "a", 0)
	ApplyFocus(m, "b", 1_000_000)
	ApplyFocus(m, "c", 2_000_000)
	ApplyFocus(m, "a", 3_000_000)
	ApplyFocus(m, "b", 4_000_000)

	var outgoingFromA uint64
	for key, count := range m.Transitions {
		if key == TransitionKey("a", "b") || key == TransitionKey("a", "c") {
			outgoingFromA += count
		}
	}
	require.Equal(t, m.Durations["a"].N, outgoingFromA)
}

// TestSnapshotRoundTrip is invariant 7: marshal/unmarshal is idempotent.
func TestSnapshotRoundTrip(t *testing.T) {
	m := NewModel()
	ApplyFocus(m, "firefox", 0)
	ApplyFocus(m, "chrome", 60_000_000)
	ApplyFocus(m, "firefox", 90_000_000)

	data, err := MarshalSnapshot(m)
	require.NoError(t, err)

	restored, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	require.Equal(t, m.Transitions, restored.Transitions)
	require.Equal(t, m.LastFocusApp, restored.LastFocusApp)
	require.Equal(t, m.LastFocusTsUs, restored.LastFocusTsUs)
	require.Equal(t, m.TotalEvents, restored.TotalEvents)
	require.Equal(t, *m.HourUsage["firefox"], *restored.HourUsage["firefox"])
	require.Equal(t, *m.Durations["chrome"], *restored.Durations["chrome"])

	data2, err := MarshalSnapshot(restored)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(data2))
}

// TestUnmarshalEmptySnapshotYieldsFreshModel covers first-run behavior:
// no prior snapshot is not an error.
func TestUnmarshalEmptySnapshotYieldsFreshModel(t *testing.T) {
	m, err := UnmarshalSnapshot(nil)
	require.NoError(t, err)
	require.NotNil(t, m.Transitions)
	require.NotNil(t, m.HourUsage)
	require.NotNil(t, m.Durations)
	require.False(t, m.HaveLastFocus)
}

// TestFocusDurationClampedAt24Hours covers the clamp rule documented on
// maxFocusDurationUs.
func TestFocusDurationClampedAt24Hours(t *testing.T) {
	m := NewModel()
	ApplyFocus(m, "a", 0)
	ApplyFocus(m, "b", 48*60*60*1_000_000) // 48h later

	require.InDelta(t, 24*60*60*1000, m.Durations["a"].SumMs, 1e-6)
}
