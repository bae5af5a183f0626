// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package timeseries writes FeatureRecord points to an external InfluxDB
// v2 bucket over its line-protocol HTTP write endpoint (spec §4.2, §6:
// INFLUX_URL / INFLUX_TOKEN / INFLUX_ORG / INFLUX_BUCKET). It encodes with
// the same influxdata/line-protocol decoder family the teacher uses on the
// ingest side, run here in reverse, on the encode side.
package timeseries

import "time"

// Config holds the InfluxDB v2 write destination and retry policy.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// HTTPTimeout bounds a single write attempt.
	HTTPTimeout time.Duration

	// RetryDelay is the pause before the single retry attempt (spec §4.2,
	// §7: one retry on failure, at a fixed 200ms delay, then drop and
	// count).
	RetryDelay time.Duration
}

// DefaultConfig returns the spec-mandated timeout and retry policy with no
// destination set; callers populate URL/Token/Org/Bucket from env.
func DefaultConfig() Config {
	return Config{
		HTTPTimeout: 5 * time.Second,
		RetryDelay:  200 * time.Millisecond,
	}
}
