// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extractor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seclyzer/seclyzer-core/internal/events"
)

func move(tsMs int64, x, y int32) *events.MouseMove {
	return &events.MouseMove{TsUs: tsMs * 1000, X: x, Y: y}
}

func click(tsMs int64, button events.Button, phase events.Phase) *events.MouseClick {
	return &events.MouseClick{TsUs: tsMs * 1000, Button: button, Phase: phase}
}

func newTestMouseExtractor() *MouseExtractor {
	return NewMouseExtractor(nil, nil, nil, 30*time.Second, 5*time.Second)
}

// TestMouseScenarioS3 covers spec scenario S3: three motion samples along a
// straight line, 100ms apart, 100px per step -> velocity_mean = 1000 px/s
// and straightness ~= 1.0.
func TestMouseScenarioS3(t *testing.T) {
	e := newTestMouseExtractor()
	const user = "alice"

	e.handleMove(user, move(0, 0, 0))
	e.handleMove(user, move(100, 100, 0))
	e.handleMove(user, move(200, 200, 0))

	now := time.UnixMicro(200_000)
	rec := e.buildRecord(user, now.Add(-30*time.Second).UnixMicro(), now, Status{})

	require.InDelta(t, 1000, rec.Fields["velocity_mean"], 1e-6)
	require.InDelta(t, 1.0, rec.Fields["straightness"], 1e-6)
}

// TestMouseScenarioS4 covers spec scenario S4: a left press/release at
// [0,50]ms and another at [200,260]ms -> double_click_count=1,
// click_count_left=2.
func TestMouseScenarioS4(t *testing.T) {
	e := newTestMouseExtractor()
	const user = "bob"

	e.handleClick(user, click(0, events.ButtonLeft, events.PhasePress))
	e.handleClick(user, click(50, events.ButtonLeft, events.PhaseRelease))
	e.handleClick(user, click(200, events.ButtonLeft, events.PhasePress))
	e.handleClick(user, click(260, events.ButtonLeft, events.PhaseRelease))

	now := time.UnixMicro(260_000)
	rec := e.buildRecord(user, now.Add(-30*time.Second).UnixMicro(), now, Status{})

	require.InDelta(t, 1, rec.Fields["double_click_count"], 1e-9)
	require.InDelta(t, 2, rec.Fields["click_count_left"], 1e-9)
	require.InDelta(t, 1, rec.Fields["click_ratio_left"], 1e-9)
}

// TestMouseFieldCardinality is invariant (1)/(2) in spec §8: every
// mouse_features record carries exactly the canonical 38 fields.
func TestMouseFieldCardinality(t *testing.T) {
	require.Equal(t, MouseFieldCount, len(mouseFieldNames))

	e := newTestMouseExtractor()
	now := time.Now()
	rec := e.buildRecord("nobody", now.Add(-30*time.Second).UnixMicro(), now, Status{})
	require.Len(t, rec.Fields, MouseFieldCount)

	for _, name := range mouseFieldNames {
		_, ok := rec.Fields[name]
		require.True(t, ok, "missing canonical field %q", name)
	}
}

// TestMouseClickDurationDiscardsLongPresses covers spec §4.5's 2s discard
// rule for click durations.
func TestMouseClickDurationDiscardsLongPresses(t *testing.T) {
	e := newTestMouseExtractor()
	const user = "carol"

	e.handleClick(user, click(0, events.ButtonLeft, events.PhasePress))
	e.handleClick(user, click(3000, events.ButtonLeft, events.PhaseRelease)) // 3s, discarded

	now := time.UnixMicro(3_000_000)
	rec := e.buildRecord(user, now.Add(-30*time.Second).UnixMicro(), now, Status{})

	require.Equal(t, 0.0, rec.Fields["click_duration_mean"])
	require.InDelta(t, 1, rec.Fields["click_count_left"], 1e-9)
}
