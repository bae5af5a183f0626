// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extractor

import (
	"encoding/json"

	"github.com/seclyzer/seclyzer-core/internal/events"
)

// featureWireRecord is the best-effort JSON shape published to an
// extractor's seclyzer:features:* channel (spec §4.1). Consumers of this
// channel are optional; the canonical record lives in InfluxDB via
// pkg/timeseries, so this encoding is deliberately plain rather than
// line-protocol.
type featureWireRecord struct {
	Measurement string             `json:"measurement"`
	User        string             `json:"user"`
	DevMode     bool               `json:"dev_mode"`
	DevModeMethod string           `json:"dev_mode_method,omitempty"`
	GeneratedAt int64              `json:"generated_at_us"`
	Fields      map[string]float64 `json:"fields"`
	Bools       map[string]bool    `json:"bools,omitempty"`
}

func encodeFeatureRecord(rec *events.FeatureRecord) ([]byte, error) {
	return json.Marshal(featureWireRecord{
		Measurement:   rec.Measurement,
		User:          rec.User,
		DevMode:       rec.DevMode,
		DevModeMethod: rec.DevModeMethod,
		GeneratedAt:   rec.GeneratedAt.UnixMicro(),
		Fields:        rec.Fields,
		Bools:         rec.Bools,
	})
}
