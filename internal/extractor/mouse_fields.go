// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extractor

// mouseFieldNames is the canonical, frozen 38-field set the mouse
// FeatureExtractor emits on every tick (spec §4.5): 20 movement-derivative
// fields, 10 click fields, 8 scroll fields.
var mouseFieldNames = []string{
	"velocity_mean", "velocity_std", "velocity_max",
	"acceleration_mean", "acceleration_std", "acceleration_max",
	"jerk_mean", "jerk_std", "jerk_max",
	"curvature_mean", "curvature_std", "curvature_max",
	"angle_delta_mean", "angle_delta_std",
	"total_distance", "idle_seconds", "move_event_rate", "straightness",
	"active_seconds", "avg_segment_length",

	"click_duration_mean", "click_duration_std",
	"click_count_left", "click_count_right", "click_count_middle",
	"click_ratio_left", "click_ratio_right",
	"double_click_count", "clicks_per_second", "avg_inter_click_ms",

	"scroll_dy_mean", "scroll_dy_std", "scroll_dx_mean",
	"scroll_up_count", "scroll_down_count", "scroll_direction_ratio",
	"scrolls_per_second", "avg_inter_scroll_ms",
}

// MouseFieldCount is the canonical, frozen cardinality invariant (1) in
// spec §8 checks against for the mouse measurement.
const MouseFieldCount = 38
