// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package extractor implements the keystroke and mouse FeatureExtractors
// (spec §4.4-§4.5): KeystrokeExtractor and MouseExtractor. The AppTracker
// lives in internal/apptracker. Each owns its buffer exclusively; no
// extractor shares state with another (spec §3 "Ownership").
package extractor

import "github.com/seclyzer/seclyzer-core/internal/events"

// KeyEventBufferCap and MouseEventBufferCap are the hard caps spec §3 and
// §9 mandate to bound worst-case tick CPU.
const (
	KeyEventBufferCap   = 10_000
	MouseEventBufferCap = 20_000
)

// keyRecord is one buffered keystroke sample.
type keyRecord struct {
	tsUs  int64
	key   string
	phase events.Phase
}

// KeyEventBuffer is a fixed-capacity, drop-oldest ring buffer of keystroke
// events for a single user (spec §3).
type KeyEventBuffer struct {
	items []keyRecord
	start int
}

// NewKeyEventBuffer allocates an empty buffer.
func NewKeyEventBuffer() *KeyEventBuffer {
	return &KeyEventBuffer{items: make([]keyRecord, 0, 64)}
}

// Push appends ev, dropping the oldest entry first if the buffer is at
// capacity.
func (b *KeyEventBuffer) Push(ev *events.Keystroke) {
	rec := keyRecord{tsUs: ev.TsUs, key: ev.Key, phase: ev.Phase}
	if len(b.items)-b.start >= KeyEventBufferCap {
		b.start++
	}
	b.items = append(b.items, rec)
	b.compact()
}

// compact reclaims the dropped prefix once it grows large relative to the
// live window, so the backing array does not grow unbounded.
func (b *KeyEventBuffer) compact() {
	if b.start > 0 && b.start >= len(b.items)/2 {
		b.items = append(b.items[:0], b.items[b.start:]...)
		b.start = 0
	}
}

// Since returns all events with tsUs >= windowStart, in receive order.
func (b *KeyEventBuffer) Since(windowStart int64) []keyRecord {
	out := make([]keyRecord, 0, len(b.items)-b.start)
	for _, r := range b.items[b.start:] {
		if r.tsUs >= windowStart {
			out = append(out, r)
		}
	}
	return out
}

// mouseEventKind discriminates the three mouse sample shapes sharing one
// buffer (motion is interleaved with clicks/scrolls in arrival order,
// since relative ordering across these matters for gap-based chain
// resets, spec §4.5).
type mouseEventKind int

const (
	mouseMove mouseEventKind = iota
	mouseClick
	mouseScroll
)

type mouseRecord struct {
	kind mouseEventKind
	tsUs int64

	x, y int32

	button events.Button
	phase  events.Phase

	dx, dy int32
}

// MouseEventBuffer is a fixed-capacity, drop-oldest ring buffer holding
// motion, click, and scroll samples for a single user (spec §3).
type MouseEventBuffer struct {
	items []mouseRecord
	start int
}

// NewMouseEventBuffer allocates an empty buffer.
func NewMouseEventBuffer() *MouseEventBuffer {
	return &MouseEventBuffer{items: make([]mouseRecord, 0, 128)}
}

func (b *MouseEventBuffer) push(rec mouseRecord) {
	if len(b.items)-b.start >= MouseEventBufferCap {
		b.start++
	}
	b.items = append(b.items, rec)
	if b.start > 0 && b.start >= len(b.items)/2 {
		b.items = append(b.items[:0], b.items[b.start:]...)
		b.start = 0
	}
}

// PushMove records a motion sample.
func (b *MouseEventBuffer) PushMove(ev *events.MouseMove) {
	b.push(mouseRecord{kind: mouseMove, tsUs: ev.TsUs, x: ev.X, y: ev.Y})
}

// PushClick records a click (press or release) sample.
func (b *MouseEventBuffer) PushClick(ev *events.MouseClick) {
	b.push(mouseRecord{kind: mouseClick, tsUs: ev.TsUs, button: ev.Button, phase: ev.Phase})
}

// PushScroll records a scroll sample.
func (b *MouseEventBuffer) PushScroll(ev *events.MouseScroll) {
	b.push(mouseRecord{kind: mouseScroll, tsUs: ev.TsUs, dx: ev.Dx, dy: ev.Dy})
}

// Since returns all events with tsUs >= windowStart, in receive order.
func (b *MouseEventBuffer) Since(windowStart int64) []mouseRecord {
	out := make([]mouseRecord, 0, len(b.items)-b.start)
	for _, r := range b.items[b.start:] {
		if r.tsUs >= windowStart {
			out = append(out, r)
		}
	}
	return out
}
