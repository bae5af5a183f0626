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

func press(key string, tsMs int64) *events.Keystroke {
	return &events.Keystroke{TsUs: tsMs * 1000, Key: key, Phase: events.PhasePress}
}

func release(key string, tsMs int64) *events.Keystroke {
	return &events.Keystroke{TsUs: tsMs * 1000, Key: key, Phase: events.PhaseRelease}
}

func newTestKeystrokeExtractor() *KeystrokeExtractor {
	return NewKeystrokeExtractor(nil, nil, nil, 30*time.Second, 5*time.Second)
}

// TestKeystrokeScenarioS1 covers spec scenario S1: press A@0, release A@100,
// press B@200, release B@260 -> dwell_mean=80, dwell_min=60, dwell_max=100,
// flight_mean=100, total_keys=2, and a single A->B digraph sample of 100ms
// in slot 0.
func TestKeystrokeScenarioS1(t *testing.T) {
	e := newTestKeystrokeExtractor()
	const user = "alice"

	e.handle(user, press("A", 0))
	e.handle(user, release("A", 100))
	e.handle(user, press("B", 200))
	e.handle(user, release("B", 260))

	now := time.UnixMicro(260_000)
	rec := e.buildRecord(user, now.Add(-30*time.Second).UnixMicro(), now, Status{})

	require.InDelta(t, 80, rec.Fields["dwell_mean"], 1e-9)
	require.InDelta(t, 60, rec.Fields["dwell_min"], 1e-9)
	require.InDelta(t, 100, rec.Fields["dwell_max"], 1e-9)
	require.InDelta(t, 100, rec.Fields["flight_mean"], 1e-9)
	require.InDelta(t, 2, rec.Fields["total_keys"], 1e-9)

	require.InDelta(t, 100, rec.Fields["digraph_00"], 1e-9)
	require.InDelta(t, 1, rec.Fields["digraph_count_00"], 1e-9)
}

// TestKeystrokeScenarioS2 covers spec scenario S2: press A@0, release A@1500
// -> dwell exceeds the 1000ms pairing window, so no dwell sample is
// recorded and the dwell fields are all zero.
func TestKeystrokeScenarioS2(t *testing.T) {
	e := newTestKeystrokeExtractor()
	const user = "bob"

	e.handle(user, press("A", 0))
	e.handle(user, release("A", 1500))

	now := time.UnixMicro(1_500_000)
	rec := e.buildRecord(user, now.Add(-30*time.Second).UnixMicro(), now, Status{})

	require.Equal(t, 0.0, rec.Fields["dwell_mean"])
	require.Equal(t, 0.0, rec.Fields["dwell_min"])
	require.Equal(t, 0.0, rec.Fields["dwell_max"])
	require.InDelta(t, 1, rec.Fields["total_keys"], 1e-9)
}

// TestKeystrokeFieldCardinality is invariant (1) in spec §8: every
// keystroke_features record carries exactly the canonical 140 fields; this
// checks the canonical name list and the record of a user with no events.
func TestKeystrokeFieldCardinality(t *testing.T) {
	require.Equal(t, KeystrokeFieldCount, len(keystrokeFieldNames))

	e := newTestKeystrokeExtractor()
	now := time.Now()
	rec := e.buildRecord("nobody", now.Add(-30*time.Second).UnixMicro(), now, Status{})
	require.Len(t, rec.Fields, KeystrokeFieldCount)

	for _, name := range keystrokeFieldNames {
		_, ok := rec.Fields[name]
		require.True(t, ok, "missing canonical field %q", name)
	}
}

// TestKeystrokeEmptyWindowEmitsZeroRecord covers the "still emit" rule: a
// user with zero events in the window gets a record with every field zero
// except window_seconds, not a skipped emission.
func TestKeystrokeEmptyWindowEmitsZeroRecord(t *testing.T) {
	e := newTestKeystrokeExtractor()
	now := time.Now()
	rec := e.buildRecord("ghost", now.Add(-30*time.Second).UnixMicro(), now, Status{})

	for _, name := range keystrokeFieldNames {
		if name == "window_seconds" {
			continue
		}
		require.Equal(t, 0.0, rec.Fields[name], "field %q should be zero", name)
	}
	require.InDelta(t, 30, rec.Fields["window_seconds"], 1e-9)
}

// TestKeystrokeDwellFlightRangeBounds is invariant (4)/(5) in spec §8: dwell
// and flight samples outside their declared ranges ([0,1000]ms and
// [0,2000]ms respectively) never enter the aggregated statistics.
func TestKeystrokeDwellFlightRangeBounds(t *testing.T) {
	e := newTestKeystrokeExtractor()
	const user = "carol"

	// A valid dwell pair (A, 50ms) followed by a valid A->B flight (250ms),
	// then B's own dwell (1500ms) exceeds range and is excluded, then a
	// B->C flight (8200ms) exceeds range and is excluded while C's own
	// dwell (40ms) is valid.
	e.handle(user, press("A", 0))
	e.handle(user, release("A", 50))
	e.handle(user, press("B", 300))
	e.handle(user, release("B", 1800)) // dwell 1500ms, excluded; flight A->B 250ms, valid
	e.handle(user, press("C", 10000))  // flight B->C 8200ms, excluded
	e.handle(user, release("C", 10040))

	now := time.UnixMicro(10_040_000)
	rec := e.buildRecord(user, now.Add(-30*time.Second).UnixMicro(), now, Status{})

	// Only A (50ms) and C (40ms) are valid dwell samples.
	require.InDelta(t, 45, rec.Fields["dwell_mean"], 1e-9)
	require.InDelta(t, 40, rec.Fields["dwell_min"], 1e-9)
	require.InDelta(t, 50, rec.Fields["dwell_max"], 1e-9)

	// Only the A->B flight (250ms) is in range; B->C (8200ms) is excluded.
	require.InDelta(t, 250, rec.Fields["flight_mean"], 1e-9)
}

// TestRhythmAvgBurstSpeedReflectsActualTiming covers spec §4.4's
// rhythm_avg_burst_speed: it must be keys-per-second over the burst's real
// elapsed gap time, not a constant derived from an assumed fixed rate. A
// run of four key-downs 100ms apart runs 300ms total, so its speed is
// 4 / 0.3 keys/sec; a second, slower run of four key-downs 120ms apart
// runs 360ms total for 4 / 0.36 keys/sec. The two bursts must average to
// different, non-constant values.
func TestRhythmAvgBurstSpeedReflectsActualTiming(t *testing.T) {
	fastDowns := []int64{
		0, 100_000, 200_000, 300_000,
	}
	rec := &events.FeatureRecord{Fields: map[string]float64{}}
	setRhythmFields(rec, fastDowns, 30*time.Second)
	require.InDelta(t, 4.0/0.3, rec.Fields["rhythm_avg_burst_speed"], 1e-6)

	slowDowns := []int64{
		0, 120_000, 240_000, 360_000,
	}
	rec2 := &events.FeatureRecord{Fields: map[string]float64{}}
	setRhythmFields(rec2, slowDowns, 30*time.Second)
	require.InDelta(t, 4.0/0.36, rec2.Fields["rhythm_avg_burst_speed"], 1e-6)

	require.NotEqual(t, rec.Fields["rhythm_avg_burst_speed"], rec2.Fields["rhythm_avg_burst_speed"])
}
