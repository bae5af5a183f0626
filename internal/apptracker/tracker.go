// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package apptracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/seclyzer/seclyzer-core/internal/events"
	"github.com/seclyzer/seclyzer-core/pkg/configstore"
	"github.com/seclyzer/seclyzer-core/pkg/eventbus"
	"github.com/seclyzer/seclyzer-core/pkg/log"
	"github.com/seclyzer/seclyzer-core/pkg/timeseries"
)

// appSnapshotKeyPrefix is the configstore key family AppTracker's
// per-user model snapshot is persisted under (spec §4.6, §9).
const appSnapshotKeyPrefix = "app_patterns:"

// userState pairs one user's in-memory transition model with a dirty
// flag so a tick with no new focus events since the last flush is a
// no-op.
type userState struct {
	model *AppTransitionModel
	dirty bool

	// the most recent focus change, so tick can emit a compact
	// app_transitions timeseries point for it without replaying the
	// whole model (spec §4.6).
	lastFrom       string
	lastTo         string
	lastDurationMs float64
	lastHour       int
	haveLast       bool
}

// Tracker implements the AppTracker FeatureExtractor (spec §4.6): it folds
// AppFocus events into a persisted transition model per user and, on a
// fixed tick, flushes the model to ConfigStore and emits a compact
// app_transitions point for the most recent transition observed since the
// last flush; earlier transitions in the same interval get no point of
// their own.
type Tracker struct {
	bus    *eventbus.Client
	store  *configstore.Store
	writer *timeseries.Writer

	tickEvery time.Duration

	mu    sync.Mutex
	users map[string]*userState
}

// New builds a Tracker. store may be nil in tests, in which case
// snapshots are kept in memory only and never persisted.
func New(bus *eventbus.Client, store *configstore.Store, writer *timeseries.Writer, tickEvery time.Duration) *Tracker {
	return &Tracker{
		bus:       bus,
		store:     store,
		writer:    writer,
		tickEvery: tickEvery,
		users:     make(map[string]*userState),
	}
}

// Run subscribes to the event bus, rehydrating each user's model from
// ConfigStore on first sight, and drives the flush tick until ctx is
// cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("apptracker: scheduler: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(t.tickEvery),
		gocron.NewTask(func() { t.tick(ctx) }),
	); err != nil {
		return fmt.Errorf("apptracker: job: %w", err)
	}
	sched.Start()
	defer sched.Shutdown()

	in := t.bus.Subscribe(ctx, eventbus.EventsChannel)
	for {
		select {
		case <-ctx.Done():
			t.Flush(ctx)
			return nil
		case ev, ok := <-in:
			if !ok {
				t.Flush(ctx)
				return nil
			}
			if ev.Type == events.TypeApp && ev.AppFocus != nil {
				t.handle(ctx, ev.User, ev.AppFocus)
			}
		}
	}
}

// handle folds one AppFocus event into the user's model.
func (t *Tracker) handle(ctx context.Context, user string, ev *events.AppFocus) {
	t.mu.Lock()
	st, ok := t.users[user]
	if !ok {
		st = t.loadOrNewLocked(ctx, user)
		t.users[user] = st
	}

	fromApp := st.model.LastFocusApp
	haveFrom := st.model.HaveLastFocus
	fromTsUs := st.model.LastFocusTsUs

	ApplyFocus(st.model, ev.AppName, ev.TsUs)
	st.dirty = true

	if haveFrom {
		st.lastFrom = fromApp
		st.lastTo = ev.AppName
		st.lastDurationMs = float64(ev.TsUs-fromTsUs) / 1000.0
		st.lastHour = time.UnixMicro(ev.TsUs).UTC().Hour()
		st.haveLast = true
	}
	t.mu.Unlock()
}

// loadOrNewLocked rehydrates a user's model from ConfigStore, or returns
// a fresh one if none was persisted yet. Callers must hold t.mu.
func (t *Tracker) loadOrNewLocked(ctx context.Context, user string) *userState {
	if t.store == nil {
		return &userState{model: NewModel()}
	}
	raw, found, err := t.store.Get(ctx, appSnapshotKeyPrefix+user)
	if err != nil {
		log.Warnf("apptracker: load for %s failed: %v", user, err)
		return &userState{model: NewModel()}
	}
	if !found {
		return &userState{model: NewModel()}
	}
	model, err := UnmarshalSnapshot([]byte(raw))
	if err != nil {
		log.Warnf("apptracker: snapshot for %s corrupt, resetting: %v", user, err)
		return &userState{model: NewModel()}
	}
	return &userState{model: model}
}

// tick flushes every dirty user's model to ConfigStore and emits a point
// for the most recent transition observed since the previous flush.
func (t *Tracker) tick(ctx context.Context) {
	t.mu.Lock()
	users := make([]string, 0, len(t.users))
	for u, st := range t.users {
		if st.dirty {
			users = append(users, u)
		}
	}
	t.mu.Unlock()

	for _, user := range users {
		t.flushUser(ctx, user)
	}
}

// Flush forces an immediate flush of every user's model, used on
// shutdown so no accumulated focus events are lost (spec §8 invariant
// 8).
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	users := make([]string, 0, len(t.users))
	for u := range t.users {
		users = append(users, u)
	}
	t.mu.Unlock()

	for _, user := range users {
		t.flushUser(ctx, user)
	}
}

func (t *Tracker) flushUser(ctx context.Context, user string) {
	t.mu.Lock()
	st, ok := t.users[user]
	if !ok {
		t.mu.Unlock()
		return
	}
	data, err := MarshalSnapshot(st.model)
	lastFrom, lastTo, lastDurationMs, lastHour, haveLast := st.lastFrom, st.lastTo, st.lastDurationMs, st.lastHour, st.haveLast
	st.dirty = false
	st.haveLast = false
	t.mu.Unlock()

	if err != nil {
		log.Warnf("apptracker: marshal for %s failed: %v", user, err)
		return
	}

	if t.store != nil {
		if err := t.store.Set(ctx, appSnapshotKeyPrefix+user, string(data)); err != nil {
			log.Warnf("apptracker: persist for %s failed: %v", user, err)
		}
	}

	if t.writer != nil && haveLast {
		rec := events.NewFeatureRecord("app_transitions", user)
		rec.ExtraTags = map[string]string{"from_app": lastFrom, "to_app": lastTo}
		rec.Fields["duration_ms"] = lastDurationMs
		rec.Fields["hour"] = float64(lastHour)
		if err := t.writer.Write(ctx, rec); err != nil {
			log.Warnf("apptracker: transition write for %s failed: %v", user, err)
		}
	}
}

// Snapshot returns a user's current model, primarily for tests.
func (t *Tracker) Snapshot(user string) *AppTransitionModel {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.users[user]
	if !ok {
		return nil
	}
	return st.model
}
