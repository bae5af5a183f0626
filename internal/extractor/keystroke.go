// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extractor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/seclyzer/seclyzer-core/internal/events"
	"github.com/seclyzer/seclyzer-core/pkg/devmode"
	"github.com/seclyzer/seclyzer-core/pkg/eventbus"
	"github.com/seclyzer/seclyzer-core/pkg/log"
	"github.com/seclyzer/seclyzer-core/pkg/timeseries"
)

// correctionKeys are the key names counted toward the error feature group
// (spec §4.4 "error" band). Names match the wire-level key identifiers a
// producer is expected to send (spec §6), not OS scan codes.
var correctionKeys = map[string]bool{
	"Backspace": true,
	"Delete":    true,
}

// retiredPair is the most recently completed (press, release) dwell pair for
// one user, kept so the next release can compute a flight sample against it
// (spec §4.4: "flight is measured from the previous key's release to this
// key's press").
type retiredPair struct {
	key       string
	pressTsUs int64
	releaseTs int64
}

// tsSample pairs a computed dwell/flight/digraph value with the timestamp of
// the event that produced it, so tick-time aggregation can restrict to the
// trailing window without re-deriving pairing state from scratch.
type tsSample struct {
	tsUs int64
	v    float64
}

// keyUserState is the per-user pairing and sample state the
// KeystrokeExtractor maintains across ticks. Pairing is inherently
// order-dependent (spec §4.4), so it is updated incrementally as events
// arrive; only the feature computation at tick time is scoped to the
// trailing window.
type keyUserState struct {
	buffer *KeyEventBuffer

	pendingPress map[string]int64
	lastRetired  *retiredPair

	dwellSamples  []tsSample
	flightSamples []tsSample

	// digraphSlot assigns each distinct ordered key-pair a stable slot in
	// first-seen order, frozen once assigned. Spec §9 explicitly warns
	// against a per-tick top-k reselection ("do not emulate training-time
	// top-k"): reassigning slots by recency or frequency would change a
	// slot's meaning between emissions, which breaks the fixed-width
	// feature vector's index stability. First-seen-order assignment is
	// deterministic for a given event stream and never reassigns a slot
	// once given.
	digraphSlot    map[string]int
	digraphSamples [digraphSlots][]tsSample

	keyDownTimes []int64
}

func newKeyUserState() *keyUserState {
	return &keyUserState{
		buffer:       NewKeyEventBuffer(),
		pendingPress: make(map[string]int64),
		digraphSlot:  make(map[string]int),
	}
}

// KeystrokeExtractor implements the keystroke FeatureExtractor (spec §4.4):
// it consumes keystroke events off the bus, pairs presses and releases into
// dwell/flight/digraph samples as they arrive, and on a fixed tick emits one
// keystroke_features FeatureRecord per user seen so far.
type KeystrokeExtractor struct {
	bus    *eventbus.Client
	writer *timeseries.Writer
	oracle *devmode.Oracle

	window     time.Duration
	tickEvery  time.Duration

	mu    sync.Mutex
	users map[string]*keyUserState
}

// NewKeystrokeExtractor builds an extractor that aggregates over a trailing
// window of length window, re-emitting every tickEvery (spec §3 defaults:
// 30s window, 5s tick).
func NewKeystrokeExtractor(bus *eventbus.Client, writer *timeseries.Writer, oracle *devmode.Oracle, window, tickEvery time.Duration) *KeystrokeExtractor {
	return &KeystrokeExtractor{
		bus:       bus,
		writer:    writer,
		oracle:    oracle,
		window:    window,
		tickEvery: tickEvery,
		users:     make(map[string]*keyUserState),
	}
}

// Run subscribes to the event bus and drives the tick schedule until ctx is
// cancelled.
func (e *KeystrokeExtractor) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("extractor: keystroke scheduler: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(e.tickEvery),
		gocron.NewTask(func() { e.tick(ctx, time.Now()) }),
	); err != nil {
		return fmt.Errorf("extractor: keystroke job: %w", err)
	}
	sched.Start()
	defer sched.Shutdown()

	in := e.bus.Subscribe(ctx, eventbus.EventsChannel)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if ev.Type == events.TypeKeystroke && ev.Keystroke != nil {
				e.handle(ev.User, ev.Keystroke)
			}
		}
	}
}

// handle updates pairing state for one keystroke event. It never blocks and
// never allocates beyond what the per-user maps/slices already need.
func (e *KeystrokeExtractor) handle(user string, ev *events.Keystroke) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.users[user]
	if !ok {
		st = newKeyUserState()
		e.users[user] = st
	}

	st.buffer.Push(ev)

	switch ev.Phase {
	case events.PhasePress:
		// Most-recent-press-wins: a second press before a matching release
		// (key repeat, or a release that never arrives) simply overwrites
		// the pending entry (spec §4.4).
		st.pendingPress[ev.Key] = ev.TsUs
		st.keyDownTimes = append(st.keyDownTimes, ev.TsUs)

	case events.PhaseRelease:
		pressTs, havePress := st.pendingPress[ev.Key]
		if !havePress {
			return
		}
		delete(st.pendingPress, ev.Key)

		dwell := float64(ev.TsUs-pressTs) / 1000.0
		if dwell >= 0 && dwell <= 1000 {
			st.dwellSamples = append(st.dwellSamples, tsSample{tsUs: ev.TsUs, v: dwell})
		}

		if st.lastRetired != nil {
			flight := float64(pressTs-st.lastRetired.releaseTs) / 1000.0
			if flight >= 0 && flight <= 2000 {
				st.flightSamples = append(st.flightSamples, tsSample{tsUs: ev.TsUs, v: flight})
				e.recordDigraph(st, st.lastRetired.key, ev.Key, ev.TsUs, flight)
			}
		}

		st.lastRetired = &retiredPair{key: ev.Key, pressTsUs: pressTs, releaseTs: ev.TsUs}
	}
}

// recordDigraph appends a flight sample to the (from,to) digraph's slot,
// assigning a new slot on first sight up to digraphSlots. Digraphs seen
// after all slots are taken are not tracked -- the slot set is frozen, not
// reshuffled (see keyUserState.digraphSlot).
func (e *KeystrokeExtractor) recordDigraph(st *keyUserState, from, to string, tsUs int64, flight float64) {
	pair := from + ">" + to
	slot, ok := st.digraphSlot[pair]
	if !ok {
		if len(st.digraphSlot) >= digraphSlots {
			return
		}
		slot = len(st.digraphSlot)
		st.digraphSlot[pair] = slot
	}
	st.digraphSamples[slot] = append(st.digraphSamples[slot], tsSample{tsUs: tsUs, v: flight})
}

// tick computes and emits one FeatureRecord per known user, then trims
// sample history and stale pending presses to the trailing window.
func (e *KeystrokeExtractor) tick(ctx context.Context, now time.Time) {
	windowStart := now.Add(-e.window).UnixMicro()

	e.mu.Lock()
	users := make([]string, 0, len(e.users))
	for u := range e.users {
		users = append(users, u)
	}
	e.mu.Unlock()
	sort.Strings(users)

	status := Status{}
	if e.oracle != nil {
		s := e.oracle.Query()
		status = Status{Active: s.Active, Method: string(s.Method)}
	}

	for _, user := range users {
		rec := e.buildRecord(user, windowStart, now, status)
		if e.writer != nil {
			if err := e.writer.Write(ctx, rec); err != nil {
				log.Warnf("extractor: keystroke write for %s failed: %v", user, err)
			}
		}
		if e.bus != nil {
			if data, err := encodeFeatureRecord(rec); err == nil {
				if err := e.bus.Publish(ctx, eventbus.FeatureChannelPrefix+"keystroke", data); err != nil {
					log.Debugf("extractor: keystroke feature publish for %s failed: %v", user, err)
				}
			}
		}
	}
}

// Status is the minimal dev-mode summary an extractor stamps onto its
// records, decoupled from pkg/devmode's richer Status so this package does
// not need to import its ActivatedAt semantics.
type Status struct {
	Active bool
	Method string
}

func (e *KeystrokeExtractor) buildRecord(user string, windowStart int64, now time.Time, status Status) *events.FeatureRecord {
	e.mu.Lock()
	st := e.users[user]
	e.mu.Unlock()

	rec := events.NewFeatureRecord("keystroke_features", user)
	rec.GeneratedAt = now
	rec.DevMode = status.Active
	rec.DevModeMethod = status.Method

	if st == nil {
		fillZeroKeystrokeFields(rec, e.window)
		return rec
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dwell := windowedValues(st.dwellSamples, windowStart)
	flight := windowedValues(st.flightSamples, windowStart)
	dwellStats := computeSampleStats(dwell)
	flightStats := computeSampleStats(flight)

	setStatsFields(rec, "dwell", dwellStats)
	setStatsFields(rec, "flight", flightStats)

	for slot := 0; slot < digraphSlots; slot++ {
		samples := windowedValues(st.digraphSamples[slot], windowStart)
		s := computeSampleStats(samples)
		rec.Fields[fmt.Sprintf("digraph_%02d", slot)] = s.mean
		rec.Fields[fmt.Sprintf("digraph_std_%02d", slot)] = s.std
		rec.Fields[fmt.Sprintf("digraph_count_%02d", slot)] = float64(len(samples))
		rec.Fields[fmt.Sprintf("digraph_min_%02d", slot)] = s.min
		rec.Fields[fmt.Sprintf("digraph_max_%02d", slot)] = s.max
	}

	keyEvents := st.buffer.Since(windowStart)
	var totalKeys, backspaceLike float64
	for _, r := range keyEvents {
		if r.phase != events.PhasePress {
			continue
		}
		totalKeys++
		if correctionKeys[r.key] {
			backspaceLike++
		}
	}

	rec.Fields["backspace_count"] = backspaceLike
	if totalKeys > 0 {
		rec.Fields["backspace_rate"] = backspaceLike / totalKeys
		rec.Fields["correction_rate"] = backspaceLike / totalKeys
	} else {
		rec.Fields["backspace_rate"] = 0
		rec.Fields["correction_rate"] = 0
	}
	rec.Fields["clean_ratio"] = 1 - rec.Fields["correction_rate"]

	setRhythmFields(rec, windowedInt64(st.keyDownTimes, windowStart), e.window)

	rec.Fields["total_keys"] = totalKeys
	rec.Fields["window_seconds"] = e.window.Seconds()

	e.trimUserState(st, windowStart)

	return rec
}

// trimUserState drops samples and stale pending presses older than
// windowStart so per-user memory stays bounded by the trailing window
// rather than growing with total session length (spec §3, §9).
func (e *KeystrokeExtractor) trimUserState(st *keyUserState, windowStart int64) {
	st.dwellSamples = trimSamples(st.dwellSamples, windowStart)
	st.flightSamples = trimSamples(st.flightSamples, windowStart)
	for i := range st.digraphSamples {
		st.digraphSamples[i] = trimSamples(st.digraphSamples[i], windowStart)
	}

	trimmedDowns := st.keyDownTimes[:0]
	for _, ts := range st.keyDownTimes {
		if ts >= windowStart {
			trimmedDowns = append(trimmedDowns, ts)
		}
	}
	st.keyDownTimes = trimmedDowns

	for k, ts := range st.pendingPress {
		if ts < windowStart {
			delete(st.pendingPress, k)
		}
	}
}

func trimSamples(samples []tsSample, windowStart int64) []tsSample {
	out := samples[:0]
	for _, s := range samples {
		if s.tsUs >= windowStart {
			out = append(out, s)
		}
	}
	return out
}

func windowedValues(samples []tsSample, windowStart int64) []float64 {
	out := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.tsUs >= windowStart {
			out = append(out, s.v)
		}
	}
	return out
}

func windowedInt64(ts []int64, windowStart int64) []int64 {
	out := make([]int64, 0, len(ts))
	for _, t := range ts {
		if t >= windowStart {
			out = append(out, t)
		}
	}
	return out
}

func setStatsFields(rec *events.FeatureRecord, prefix string, s sampleStats) {
	rec.Fields[prefix+"_mean"] = s.mean
	rec.Fields[prefix+"_std"] = s.std
	rec.Fields[prefix+"_min"] = s.min
	rec.Fields[prefix+"_max"] = s.max
	rec.Fields[prefix+"_median"] = s.median
	rec.Fields[prefix+"_q25"] = s.q25
	rec.Fields[prefix+"_q75"] = s.q75
	rec.Fields[prefix+"_range"] = s.rng
}

// setRhythmFields computes the eight rhythm features (spec §4.4) from the
// sorted key-down timestamps (microseconds) seen in the window.
func setRhythmFields(rec *events.FeatureRecord, downsUs []int64, window time.Duration) {
	if len(downsUs) < 2 {
		rec.Fields["rhythm_consistency"] = 0
		rec.Fields["rhythm_burst_count"] = 0
		rec.Fields["rhythm_pause_count"] = 0
		rec.Fields["rhythm_avg_burst_speed"] = 0
		rec.Fields["rhythm_avg_pause_ms"] = 0
		rec.Fields["rhythm_variation"] = 0
		rec.Fields["rhythm_wpm"] = float64(len(downsUs)) / 5.0 / window.Minutes()
		rec.Fields["rhythm_stability"] = 0
		return
	}

	intervalsMs := make([]float64, 0, len(downsUs)-1)
	for i := 1; i < len(downsUs); i++ {
		intervalsMs = append(intervalsMs, float64(downsUs[i]-downsUs[i-1])/1000.0)
	}

	m := mean(intervalsMs)
	std := populationStd(intervalsMs)

	consistency := 0.0
	if m > 0 {
		consistency = 1.0 / (1.0 + std/m)
	}

	// A burst is a run of consecutive sub-150ms gaps; its speed is the
	// actual keys-per-second over the run's real elapsed time (the sum of
	// its gaps), not an assumed fixed rate.
	var burstCount, pauseCount int
	var pauseSumMs float64
	var burstSpeeds []float64
	runLen := 1
	runSumMs := 0.0
	flushBurst := func() {
		if runLen >= 3 && runSumMs > 0 {
			burstCount++
			burstSpeeds = append(burstSpeeds, float64(runLen)/(runSumMs/1000.0))
		}
		runLen = 1
		runSumMs = 0
	}
	for _, gap := range intervalsMs {
		switch {
		case gap < 150:
			runLen++
			runSumMs += gap
		case gap >= 500:
			pauseCount++
			pauseSumMs += gap
			flushBurst()
		default:
			flushBurst()
		}
	}
	flushBurst()

	avgPauseMs := 0.0
	if pauseCount > 0 {
		avgPauseMs = pauseSumMs / float64(pauseCount)
	}
	avgBurstSpeed := mean(burstSpeeds)

	variation := 0.0
	if m > 0 {
		variation = std / m
	}

	maxGap := maxOf(intervalsMs)
	stability := 0.0
	if m > 0 {
		stability = 1 - (maxGap-minOf(intervalsMs))/m
		if stability < 0 {
			stability = 0
		}
		if stability > 1 {
			stability = 1
		}
	}

	rec.Fields["rhythm_consistency"] = consistency
	rec.Fields["rhythm_burst_count"] = float64(burstCount)
	rec.Fields["rhythm_pause_count"] = float64(pauseCount)
	rec.Fields["rhythm_avg_burst_speed"] = avgBurstSpeed
	rec.Fields["rhythm_avg_pause_ms"] = avgPauseMs
	rec.Fields["rhythm_variation"] = variation
	rec.Fields["rhythm_wpm"] = float64(len(downsUs)) / 5.0 / window.Minutes()
	rec.Fields["rhythm_stability"] = stability
}

func minOf(samples []float64) float64 {
	m := 0.0
	for i, v := range samples {
		if i == 0 || v < m {
			m = v
		}
	}
	return m
}

// fillZeroKeystrokeFields populates the canonical field set with zeros for a
// user with an empty window (spec §8 invariant: "a user with zero events in
// the window still gets a record").
func fillZeroKeystrokeFields(rec *events.FeatureRecord, window time.Duration) {
	for _, name := range keystrokeFieldNames {
		rec.Fields[name] = 0
	}
	rec.Fields["window_seconds"] = window.Seconds()
}
