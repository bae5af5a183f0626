// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package extractor

import (
	"context"
	"fmt"
	"math"
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

// chainGapUs is the inter-sample gap (spec §4.5: 500ms) beyond which the
// velocity/acceleration/jerk derivative chain resets instead of treating
// the two samples as adjacent.
const chainGapUs = 500_000

// minSegmentPx is the minimum segment length a curvature sample is computed
// over (spec §4.5: "skip when distance < 1px" avoids a near-zero
// denominator blowing up the angle-per-distance ratio).
const minSegmentPx = 1.0

// clickMaxDurationUs discards click-duration samples longer than this
// (spec §4.5: "discard presses held over 2s" -- these are not clicks in
// the behavioral-biometric sense, more likely a drag or stuck key).
const clickMaxDurationUs = 2_000_000

// doubleClickWindowUs is the same-button press-to-press gap counted as a
// double click (spec §4.5).
const doubleClickWindowUs = 500_000

// mouseUserState is the per-user incremental state the MouseExtractor
// maintains between ticks.
type mouseUserState struct {
	buffer *MouseEventBuffer

	// derivative chain state, reset whenever the gap to the next move
	// sample exceeds chainGapUs.
	haveLast   bool
	lastTsUs   int64
	lastX      int32
	lastY      int32
	haveVel    bool
	lastVel    float64
	haveAccel  bool
	lastAccel  float64
	haveAngle  bool
	lastAngle  float64

	velocitySamples     []tsSample
	accelerationSamples []tsSample
	jerkSamples         []tsSample
	curvatureSamples    []tsSample
	angleDeltaSamples   []tsSample
	segmentLens         []tsSample

	pendingClickPress map[events.Button]int64
	clickDurations    []tsSample
	clickPressTs      []int64

	scrollDy []tsSample
	scrollDx []tsSample
	scrollTs []int64
}

func newMouseUserState() *mouseUserState {
	return &mouseUserState{
		buffer:            NewMouseEventBuffer(),
		pendingClickPress: make(map[events.Button]int64),
	}
}

// MouseExtractor implements the mouse FeatureExtractor (spec §4.5):
// movement-derivative, click, and scroll feature groups computed over a
// trailing window, emitted on a fixed tick.
type MouseExtractor struct {
	bus    *eventbus.Client
	writer *timeseries.Writer
	oracle *devmode.Oracle

	window    time.Duration
	tickEvery time.Duration

	mu    sync.Mutex
	users map[string]*mouseUserState
}

// NewMouseExtractor builds an extractor aggregating over window, re-emitting
// every tickEvery.
func NewMouseExtractor(bus *eventbus.Client, writer *timeseries.Writer, oracle *devmode.Oracle, window, tickEvery time.Duration) *MouseExtractor {
	return &MouseExtractor{
		bus:       bus,
		writer:    writer,
		oracle:    oracle,
		window:    window,
		tickEvery: tickEvery,
		users:     make(map[string]*mouseUserState),
	}
}

// Run subscribes to the event bus and drives the tick schedule until ctx is
// cancelled.
func (e *MouseExtractor) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("extractor: mouse scheduler: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(e.tickEvery),
		gocron.NewTask(func() { e.tick(ctx, time.Now()) }),
	); err != nil {
		return fmt.Errorf("extractor: mouse job: %w", err)
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
			switch {
			case ev.Type == events.TypeMouseMove && ev.MouseMove != nil:
				e.handleMove(ev.User, ev.MouseMove)
			case ev.Type == events.TypeMouseClick && ev.MouseClick != nil:
				e.handleClick(ev.User, ev.MouseClick)
			case ev.Type == events.TypeMouseScroll && ev.MouseScroll != nil:
				e.handleScroll(ev.User, ev.MouseScroll)
			}
		}
	}
}

func (e *MouseExtractor) stateFor(user string) *mouseUserState {
	st, ok := e.users[user]
	if !ok {
		st = newMouseUserState()
		e.users[user] = st
	}
	return st
}

func (e *MouseExtractor) handleMove(user string, ev *events.MouseMove) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(user)
	st.buffer.PushMove(ev)

	if !st.haveLast {
		st.lastTsUs, st.lastX, st.lastY = ev.TsUs, ev.X, ev.Y
		st.haveLast = true
		return
	}

	dt := ev.TsUs - st.lastTsUs
	if dt > chainGapUs {
		st.haveVel, st.haveAccel, st.haveAngle = false, false, false
		st.lastTsUs, st.lastX, st.lastY = ev.TsUs, ev.X, ev.Y
		return
	}
	if dt <= 0 {
		st.lastTsUs, st.lastX, st.lastY = ev.TsUs, ev.X, ev.Y
		return
	}

	dx := float64(ev.X - st.lastX)
	dy := float64(ev.Y - st.lastY)
	dist := math.Hypot(dx, dy)
	dtSec := float64(dt) / 1e6

	st.segmentLens = append(st.segmentLens, tsSample{tsUs: ev.TsUs, v: dist})

	vel := dist / dtSec
	st.velocitySamples = append(st.velocitySamples, tsSample{tsUs: ev.TsUs, v: vel})

	if st.haveVel {
		accel := (vel - st.lastVel) / dtSec
		st.accelerationSamples = append(st.accelerationSamples, tsSample{tsUs: ev.TsUs, v: accel})
		if st.haveAccel {
			jerk := (accel - st.lastAccel) / dtSec
			st.jerkSamples = append(st.jerkSamples, tsSample{tsUs: ev.TsUs, v: jerk})
		}
		st.lastAccel = accel
		st.haveAccel = true
	}
	st.lastVel = vel
	st.haveVel = true

	if dist >= minSegmentPx {
		angle := math.Atan2(dy, dx)
		if st.haveAngle {
			delta := wrapAngle(angle - st.lastAngle)
			st.angleDeltaSamples = append(st.angleDeltaSamples, tsSample{tsUs: ev.TsUs, v: math.Abs(delta)})
			st.curvatureSamples = append(st.curvatureSamples, tsSample{tsUs: ev.TsUs, v: math.Abs(delta) / dist})
		}
		st.lastAngle = angle
		st.haveAngle = true
	}

	st.lastTsUs, st.lastX, st.lastY = ev.TsUs, ev.X, ev.Y
}

// wrapAngle normalizes a radian delta into (-pi, pi].
func wrapAngle(delta float64) float64 {
	for delta > math.Pi {
		delta -= 2 * math.Pi
	}
	for delta <= -math.Pi {
		delta += 2 * math.Pi
	}
	return delta
}

func (e *MouseExtractor) handleClick(user string, ev *events.MouseClick) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(user)
	st.buffer.PushClick(ev)

	switch ev.Phase {
	case events.PhasePress:
		st.clickPressTs = append(st.clickPressTs, ev.TsUs)
		st.pendingClickPress[ev.Button] = ev.TsUs

	case events.PhaseRelease:
		pressTs, ok := st.pendingClickPress[ev.Button]
		if !ok {
			return
		}
		delete(st.pendingClickPress, ev.Button)
		dur := ev.TsUs - pressTs
		if dur >= 0 && dur <= clickMaxDurationUs {
			st.clickDurations = append(st.clickDurations, tsSample{tsUs: ev.TsUs, v: float64(dur) / 1000.0})
		}
	}
}

func (e *MouseExtractor) handleScroll(user string, ev *events.MouseScroll) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(user)
	st.buffer.PushScroll(ev)

	st.scrollDy = append(st.scrollDy, tsSample{tsUs: ev.TsUs, v: float64(ev.Dy)})
	st.scrollDx = append(st.scrollDx, tsSample{tsUs: ev.TsUs, v: float64(ev.Dx)})
	st.scrollTs = append(st.scrollTs, ev.TsUs)
}

func (e *MouseExtractor) tick(ctx context.Context, now time.Time) {
	windowStart := now.Add(-e.window).UnixMicro()

	e.mu.Lock()
	userList := make([]string, 0, len(e.users))
	for u := range e.users {
		userList = append(userList, u)
	}
	e.mu.Unlock()
	sort.Strings(userList)

	status := Status{}
	if e.oracle != nil {
		s := e.oracle.Query()
		status = Status{Active: s.Active, Method: string(s.Method)}
	}

	for _, user := range userList {
		rec := e.buildRecord(user, windowStart, now, status)
		if e.writer != nil {
			if err := e.writer.Write(ctx, rec); err != nil {
				log.Warnf("extractor: mouse write for %s failed: %v", user, err)
			}
		}
		if e.bus != nil {
			if data, err := encodeFeatureRecord(rec); err == nil {
				if err := e.bus.Publish(ctx, eventbus.FeatureChannelPrefix+"mouse", data); err != nil {
					log.Debugf("extractor: mouse feature publish for %s failed: %v", user, err)
				}
			}
		}
	}
}

func (e *MouseExtractor) buildRecord(user string, windowStart int64, now time.Time, status Status) *events.FeatureRecord {
	rec := events.NewFeatureRecord("mouse_features", user)
	rec.GeneratedAt = now
	rec.DevMode = status.Active
	rec.DevModeMethod = status.Method

	e.mu.Lock()
	st := e.users[user]
	e.mu.Unlock()

	if st == nil {
		for _, name := range mouseFieldNames {
			rec.Fields[name] = 0
		}
		return rec
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	velStats := computeSampleStats(windowedValues(st.velocitySamples, windowStart))
	accStats := computeSampleStats(windowedValues(st.accelerationSamples, windowStart))
	jerkStats := computeSampleStats(windowedValues(st.jerkSamples, windowStart))
	curvStats := computeSampleStats(windowedValues(st.curvatureSamples, windowStart))
	angleVals := windowedValues(st.angleDeltaSamples, windowStart)
	segLens := windowedValues(st.segmentLens, windowStart)

	rec.Fields["velocity_mean"] = velStats.mean
	rec.Fields["velocity_std"] = velStats.std
	rec.Fields["velocity_max"] = velStats.max
	rec.Fields["acceleration_mean"] = accStats.mean
	rec.Fields["acceleration_std"] = accStats.std
	rec.Fields["acceleration_max"] = accStats.max
	rec.Fields["jerk_mean"] = jerkStats.mean
	rec.Fields["jerk_std"] = jerkStats.std
	rec.Fields["jerk_max"] = jerkStats.max
	rec.Fields["curvature_mean"] = curvStats.mean
	rec.Fields["curvature_std"] = curvStats.std
	rec.Fields["curvature_max"] = curvStats.max
	rec.Fields["angle_delta_mean"] = mean(angleVals)
	rec.Fields["angle_delta_std"] = populationStd(angleVals)

	totalDistance := 0.0
	for _, v := range segLens {
		totalDistance += v
	}
	rec.Fields["total_distance"] = totalDistance

	moveRecs := windowedMoves(st.buffer, windowStart)

	var idleUs int64
	for i := 1; i < len(moveRecs); i++ {
		if gap := moveRecs[i].tsUs - moveRecs[i-1].tsUs; gap > chainGapUs {
			idleUs += gap
		}
	}
	idleSeconds := float64(idleUs) / 1e6
	if idleSeconds > e.window.Seconds() {
		idleSeconds = e.window.Seconds()
	}
	rec.Fields["idle_seconds"] = idleSeconds
	activeSeconds := e.window.Seconds() - idleSeconds
	if activeSeconds < 0 {
		activeSeconds = 0
	}
	rec.Fields["active_seconds"] = activeSeconds
	rec.Fields["move_event_rate"] = float64(len(moveRecs)) / e.window.Seconds()

	straightness := 0.0
	if totalDistance > 0 && len(moveRecs) > 0 {
		first, last := moveRecs[0], moveRecs[len(moveRecs)-1]
		displacement := math.Hypot(float64(last.x-first.x), float64(last.y-first.y))
		straightness = displacement / totalDistance
		if straightness > 1 {
			straightness = 1
		}
	}
	rec.Fields["straightness"] = straightness

	avgSegLen := 0.0
	if len(segLens) > 0 {
		avgSegLen = totalDistance / float64(len(segLens))
	}
	rec.Fields["avg_segment_length"] = avgSegLen

	clickDurStats := computeSampleStats(windowedValues(st.clickDurations, windowStart))
	rec.Fields["click_duration_mean"] = clickDurStats.mean
	rec.Fields["click_duration_std"] = clickDurStats.std

	left := countButtonInWindow(st.buffer, windowStart, events.ButtonLeft)
	right := countButtonInWindow(st.buffer, windowStart, events.ButtonRight)
	middle := countButtonInWindow(st.buffer, windowStart, events.ButtonMiddle)
	total := left + right + middle

	rec.Fields["click_count_left"] = float64(left)
	rec.Fields["click_count_right"] = float64(right)
	rec.Fields["click_count_middle"] = float64(middle)
	rec.Fields["click_ratio_left"] = 0
	rec.Fields["click_ratio_right"] = 0
	if total > 0 {
		rec.Fields["click_ratio_left"] = float64(left) / float64(total)
		rec.Fields["click_ratio_right"] = float64(right) / float64(total)
	}

	pressTs := windowedInt64(st.clickPressTs, windowStart)
	doubleClicks := 0
	lastPressByButton := make(map[events.Button]int64)
	for _, r := range st.buffer.Since(windowStart) {
		if r.kind != mouseClick || r.phase != events.PhasePress {
			continue
		}
		if prev, ok := lastPressByButton[r.button]; ok && r.tsUs-prev <= doubleClickWindowUs {
			doubleClicks++
		}
		lastPressByButton[r.button] = r.tsUs
	}
	rec.Fields["double_click_count"] = float64(doubleClicks)
	rec.Fields["clicks_per_second"] = float64(len(pressTs)) / e.window.Seconds()
	rec.Fields["avg_inter_click_ms"] = avgIntervalMs(pressTs)

	dyVals := windowedValues(st.scrollDy, windowStart)
	dxVals := windowedValues(st.scrollDx, windowStart)
	rec.Fields["scroll_dy_mean"] = mean(dyVals)
	rec.Fields["scroll_dy_std"] = populationStd(dyVals)
	rec.Fields["scroll_dx_mean"] = mean(dxVals)

	up, down := countScrollDirection(dyVals)
	rec.Fields["scroll_up_count"] = float64(up)
	rec.Fields["scroll_down_count"] = float64(down)
	rec.Fields["scroll_direction_ratio"] = 0
	if up+down > 0 {
		rec.Fields["scroll_direction_ratio"] = float64(up) / float64(up+down)
	}
	rec.Fields["scrolls_per_second"] = float64(len(dyVals)) / e.window.Seconds()
	rec.Fields["avg_inter_scroll_ms"] = avgIntervalMs(windowedInt64(st.scrollTs, windowStart))

	e.trimMouseState(st, windowStart)

	return rec
}

func countButtonInWindow(buf *MouseEventBuffer, windowStart int64, button events.Button) int {
	n := 0
	for _, r := range buf.Since(windowStart) {
		if r.kind == mouseClick && r.phase == events.PhasePress && r.button == button {
			n++
		}
	}
	return n
}

func countScrollDirection(dy []float64) (up, down int) {
	for _, v := range dy {
		switch {
		case v > 0:
			up++
		case v < 0:
			down++
		}
	}
	return up, down
}

func avgIntervalMs(ts []int64) float64 {
	if len(ts) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(ts); i++ {
		sum += float64(ts[i]-ts[i-1]) / 1000.0
	}
	return sum / float64(len(ts)-1)
}

// trimMouseState drops sample/state history older than windowStart so
// per-user memory tracks the trailing window rather than total session
// length.
func (e *MouseExtractor) trimMouseState(st *mouseUserState, windowStart int64) {
	st.velocitySamples = trimSamples(st.velocitySamples, windowStart)
	st.accelerationSamples = trimSamples(st.accelerationSamples, windowStart)
	st.jerkSamples = trimSamples(st.jerkSamples, windowStart)
	st.curvatureSamples = trimSamples(st.curvatureSamples, windowStart)
	st.angleDeltaSamples = trimSamples(st.angleDeltaSamples, windowStart)
	st.segmentLens = trimSamples(st.segmentLens, windowStart)
	st.clickDurations = trimSamples(st.clickDurations, windowStart)

	trimmedPress := st.clickPressTs[:0]
	for _, ts := range st.clickPressTs {
		if ts >= windowStart {
			trimmedPress = append(trimmedPress, ts)
		}
	}
	st.clickPressTs = trimmedPress

	trimmedScroll := st.scrollTs[:0]
	for _, ts := range st.scrollTs {
		if ts >= windowStart {
			trimmedScroll = append(trimmedScroll, ts)
		}
	}
	st.scrollTs = trimmedScroll
	st.scrollDy = trimSamples(st.scrollDy, windowStart)
	st.scrollDx = trimSamples(st.scrollDx, windowStart)
}

// windowedMoves returns motion samples within the window, in receive order.
func windowedMoves(buf *MouseEventBuffer, windowStart int64) []mouseRecord {
	recs := buf.Since(windowStart)
	out := make([]mouseRecord, 0, len(recs))
	for _, r := range recs {
		if r.kind == mouseMove {
			out = append(out, r)
		}
	}
	return out
}
