// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extractor

import "fmt"

// digraphSlots is the number of fixed digraph slots carried in each
// per-slot digraph feature band.
//
// The table in spec §4.4 lists six 20-slot digraph bands (digraph,
// digraph_std, digraph_count, digraph_min, digraph_max, digraph_median)
// alongside dwell(8)+flight(8)+error(4)+rhythm(8)+meta(2), which sums to
// 150, not the 140 the same section (and invariant 1 in §8) mandates as
// canonical -- the spec text acknowledges this itself ("implementers may
// elide ... bands", "the table above totals 140 after omitting two of the
// digraph bands", an arithmetic claim that does not hold for any whole
// number of 20-slot bands dropped from 150). Fixing the set per that
// section's explicit instruction:
//
//   - the digraph_median band is dropped entirely (of the five derived
//     per-slot bands, median is the most redundant with mean/std/min/max
//     for the roughly unimodal flight-time distributions these digraphs
//     produce);
//   - the remaining five digraph bands (digraph, digraph_std,
//     digraph_count, digraph_min, digraph_max) each carry 22 slots
//     instead of 20, so that 5*22 + 8+8+4+8+2 = 140 exactly.
//
// This is recorded as the canonical, frozen field set; keystrokeFieldNames
// below is the exact 140-name list emitted on every tick.
const digraphSlots = 22

var keystrokeFieldNames = buildKeystrokeFieldNames()

func buildKeystrokeFieldNames() []string {
	names := make([]string, 0, 140)

	names = append(names,
		"dwell_mean", "dwell_std", "dwell_min", "dwell_max",
		"dwell_median", "dwell_q25", "dwell_q75", "dwell_range",
	)
	names = append(names,
		"flight_mean", "flight_std", "flight_min", "flight_max",
		"flight_median", "flight_q25", "flight_q75", "flight_range",
	)

	for _, band := range []string{"digraph", "digraph_std", "digraph_count", "digraph_min", "digraph_max"} {
		for i := 0; i < digraphSlots; i++ {
			names = append(names, fmt.Sprintf("%s_%02d", band, i))
		}
	}

	names = append(names,
		"backspace_count", "backspace_rate", "correction_rate", "clean_ratio",
	)
	names = append(names,
		"rhythm_consistency", "rhythm_burst_count", "rhythm_pause_count",
		"rhythm_avg_burst_speed", "rhythm_avg_pause_ms", "rhythm_variation",
		"rhythm_wpm", "rhythm_stability",
	)
	names = append(names, "total_keys", "window_seconds")

	return names
}

// KeystrokeFieldCount is the canonical, frozen cardinality invariant (1)
// in spec §8 checks against.
const KeystrokeFieldCount = 140
