// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import "time"

// FeatureRecord is the immutable, fully-assembled output of one extractor
// tick for one user (spec §3). Fields are collected in memory first and
// published/written atomically -- partial records are never observed by
// TimeseriesWriter or the feature bus (spec §7).
type FeatureRecord struct {
	Measurement string
	User        string
	DevMode     bool
	DevModeMethod string
	GeneratedAt time.Time

	Fields map[string]float64
	Bools  map[string]bool

	// ExtraTags carries measurement-specific tags beyond the mandatory
	// user/dev_mode pair -- e.g. AppTracker's from_app/to_app pair on an
	// app_transitions point (spec §4.6). Nil for keystroke_features and
	// mouse_features, which only ever carry the mandatory set.
	ExtraTags map[string]string
}

// NewFeatureRecord allocates a record ready to be filled in by an
// extractor's tick.
func NewFeatureRecord(measurement, user string) *FeatureRecord {
	return &FeatureRecord{
		Measurement: measurement,
		User:        user,
		GeneratedAt: time.Now(),
		Fields:      make(map[string]float64),
		Bools:       make(map[string]bool),
	}
}

// Tags returns the mandatory tag set for this record (spec §3, §6): user,
// dev_mode, and dev_mode_method iff dev_mode is active.
func (r *FeatureRecord) Tags() map[string]string {
	tags := map[string]string{
		"user":     r.User,
		"dev_mode": boolString(r.DevMode),
	}
	if r.DevMode && r.DevModeMethod != "" {
		tags["dev_mode_method"] = r.DevModeMethod
	}
	for k, v := range r.ExtraTags {
		tags[k] = v
	}
	return tags
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
