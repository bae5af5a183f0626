// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeseries

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync/atomic"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
	"golang.org/x/time/rate"

	"github.com/seclyzer/seclyzer-core/internal/events"
	"github.com/seclyzer/seclyzer-core/pkg/log"
)

// writesPerSecond caps outbound write requests so a burst of extractor
// ticks (keystroke, mouse, app all firing within the same second) cannot
// overrun the configured InfluxDB instance.
const writesPerSecond = 20

// Stats are plain operational counters (spec §7).
type Stats struct {
	Writes  uint64
	Retries uint64
	Dropped uint64
}

// Writer submits FeatureRecord points to InfluxDB v2 using line protocol
// over HTTP. A single Writer is safe for concurrent use by multiple
// extractors.
type Writer struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	writeURL string

	writes  atomic.Uint64
	retries atomic.Uint64
	dropped atomic.Uint64
}

// New builds a Writer for the given destination.
func New(cfg Config) *Writer {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}

	q := url.Values{}
	q.Set("org", cfg.Org)
	q.Set("bucket", cfg.Bucket)
	q.Set("precision", "us")

	return &Writer{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.HTTPTimeout},
		limiter:  rate.NewLimiter(rate.Limit(writesPerSecond), writesPerSecond),
		writeURL: cfg.URL + "/api/v2/write?" + q.Encode(),
	}
}

// Stats returns a point-in-time snapshot of the operational counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Writes:  w.writes.Load(),
		Retries: w.retries.Load(),
		Dropped: w.dropped.Load(),
	}
}

// Write encodes rec as a single line-protocol point and submits it,
// retrying exactly once after RetryDelay on failure (spec §4.2, §7). A
// failure of the retry is counted as dropped and returned as an error;
// callers log it and carry on -- a single dropped point must not stop the
// extractor tick.
func (w *Writer) Write(ctx context.Context, rec *events.FeatureRecord) error {
	line, err := encodeLine(rec)
	if err != nil {
		return fmt.Errorf("timeseries: encode %s: %w", rec.Measurement, err)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}

	if err := w.post(ctx, line); err != nil {
		log.Warnf("timeseries: write %s failed, retrying in %s: %v", rec.Measurement, w.cfg.RetryDelay, err)
		w.retries.Add(1)

		select {
		case <-time.After(w.cfg.RetryDelay):
		case <-ctx.Done():
			w.dropped.Add(1)
			return ctx.Err()
		}

		if err := w.post(ctx, line); err != nil {
			w.dropped.Add(1)
			return fmt.Errorf("timeseries: write %s: retry failed: %w", rec.Measurement, err)
		}
	}

	w.writes.Add(1)
	return nil
}

func (w *Writer) post(ctx context.Context, line []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.writeURL, bytes.NewReader(line))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+w.cfg.Token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := w.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("influx write: unexpected status %s", resp.Status)
	}
	return nil
}

// encodeLine renders rec as a single InfluxDB line-protocol line. Tag keys
// are sorted for deterministic output (InfluxDB does not require sort
// order, but it keeps encoded lines reproducible across runs).
func encodeLine(rec *events.FeatureRecord) ([]byte, error) {
	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Microsecond)
	enc.StartLine(rec.Measurement)

	tags := rec.Tags()
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		enc.AddTag(k, tags[k])
	}

	fieldKeys := make([]string, 0, len(rec.Fields)+len(rec.Bools))
	for k := range rec.Fields {
		fieldKeys = append(fieldKeys, k)
	}
	sort.Strings(fieldKeys)
	for _, k := range fieldKeys {
		enc.AddField(k, lineprotocol.MustNewValue(rec.Fields[k]))
	}

	boolKeys := make([]string, 0, len(rec.Bools))
	for k := range rec.Bools {
		boolKeys = append(boolKeys, k)
	}
	sort.Strings(boolKeys)
	for _, k := range boolKeys {
		enc.AddField(k, lineprotocol.MustNewValue(rec.Bools[k]))
	}

	enc.EndLine(rec.GeneratedAt)
	if err := enc.Err(); err != nil {
		return nil, err
	}
	return enc.Bytes(), nil
}
