// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package apptracker implements the AppTracker's persisted behavioral model
// (spec §4.6): per-app focus durations, transition counts between apps, and
// hour-of-day usage histograms. The model is a plain JSON-serializable
// value type so it can round-trip through ConfigStore without the tracker
// depending on its storage package, and vice versa (spec §9 "avoid a
// cyclic dependency between the extractor and its persistence layer").
package apptracker

import (
	"encoding/json"
	"time"
)

// maxFocusDurationUs clamps a single focus span (spec §4.6: "a focus
// duration is clamped to [0, 24h]" -- guards against a missed focus-out
// event or a clock jump inflating one app's duration unboundedly).
const maxFocusDurationUs = int64(24 * time.Hour / time.Microsecond)

// DurationStats accumulates the running mean/min/max for one app's focus
// durations (milliseconds), in the same spirit as sampleStats but updated
// incrementally rather than recomputed from a sample slice, since the
// model must survive a process restart via a single JSON blob rather than
// raw sample history.
type DurationStats struct {
	N      uint64  `json:"n"`
	SumMs  float64 `json:"sum_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
}

func (d *DurationStats) add(ms float64) {
	if d.N == 0 || ms < d.MinMs {
		d.MinMs = ms
	}
	if d.N == 0 || ms > d.MaxMs {
		d.MaxMs = ms
	}
	d.SumMs += ms
	d.N++
}

// Mean returns the running mean duration, or 0 if no samples were added.
func (d *DurationStats) Mean() float64 {
	if d.N == 0 {
		return 0
	}
	return d.SumMs / float64(d.N)
}

// AppTransitionModel is the full persisted behavioral snapshot for one
// user (spec §4.6). All fields are exported so the zero value serializes
// correctly and the type round-trips through encoding/json without custom
// marshaling.
type AppTransitionModel struct {
	// Transitions counts focus changes keyed by "from>to" app-name pairs,
	// mirroring the digraph-slot key convention used for keystrokes
	// (internal/extractor/keystroke.go) rather than a JSON-unfriendly
	// array key.
	Transitions map[string]uint64 `json:"transitions"`

	// HourUsage counts focus-gain events per app per UTC hour-of-day
	// (0-23).
	HourUsage map[string]*[24]uint64 `json:"hour_usage"`

	// Durations accumulates focus-duration statistics per app.
	Durations map[string]*DurationStats `json:"durations"`

	LastFocusApp  string `json:"last_focus_app"`
	LastFocusTsUs int64  `json:"last_focus_ts_us"`
	HaveLastFocus bool   `json:"have_last_focus"`

	TotalEvents uint64 `json:"total_events"`
}

// NewModel returns an empty model ready for ApplyFocus.
func NewModel() *AppTransitionModel {
	return &AppTransitionModel{
		Transitions: make(map[string]uint64),
		HourUsage:   make(map[string]*[24]uint64),
		Durations:   make(map[string]*DurationStats),
	}
}

// TransitionKey builds the canonical "from>to" key used by Transitions,
// exported so the extractor and tests can look up a specific transition
// without duplicating the separator convention.
func TransitionKey(from, to string) string {
	return from + ">" + to
}

// ApplyFocus folds one AppFocus event into the model: it attributes the
// just-ended focus span to the previously-focused app's DurationStats,
// increments the (from,to) transition count, and bumps the newly-focused
// app's hour-of-day usage bucket (spec §4.6, scenario S5).
//
// ApplyFocus is a pure function of (model, appName, tsUs): it has no
// dependency on wall-clock time or I/O, so it can be exercised identically
// in tests and in the live extractor.
func ApplyFocus(m *AppTransitionModel, appName string, tsUs int64) {
	if m.HaveLastFocus {
		duration := tsUs - m.LastFocusTsUs
		if duration < 0 {
			duration = 0
		}
		if duration > maxFocusDurationUs {
			duration = maxFocusDurationUs
		}

		stats, ok := m.Durations[m.LastFocusApp]
		if !ok {
			stats = &DurationStats{}
			m.Durations[m.LastFocusApp] = stats
		}
		stats.add(float64(duration) / 1000.0)

		key := TransitionKey(m.LastFocusApp, appName)
		m.Transitions[key]++
	}

	hour := time.UnixMicro(tsUs).UTC().Hour()
	bucket, ok := m.HourUsage[appName]
	if !ok {
		bucket = &[24]uint64{}
		m.HourUsage[appName] = bucket
	}
	bucket[hour]++

	m.LastFocusApp = appName
	m.LastFocusTsUs = tsUs
	m.HaveLastFocus = true
	m.TotalEvents++
}

// MarshalSnapshot serializes the model to JSON for ConfigStore persistence.
func MarshalSnapshot(m *AppTransitionModel) ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalSnapshot rehydrates a model previously produced by
// MarshalSnapshot. A nil/empty blob yields a fresh empty model rather than
// an error, since "no prior snapshot" is the expected first-run state.
func UnmarshalSnapshot(data []byte) (*AppTransitionModel, error) {
	if len(data) == 0 {
		return NewModel(), nil
	}
	m := NewModel()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	if m.Transitions == nil {
		m.Transitions = make(map[string]uint64)
	}
	if m.HourUsage == nil {
		m.HourUsage = make(map[string]*[24]uint64)
	}
	if m.Durations == nil {
		m.Durations = make(map[string]*DurationStats)
	}
	return m, nil
}
