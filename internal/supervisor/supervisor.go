// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package supervisor runs the three FeatureExtractors (keystroke, mouse,
// app) side by side, restarting any one of them with a capped exponential
// backoff if its Run method returns an error or panics, and coordinating a graceful
// shutdown across all three (spec §9). It also owns the optional
// gops/agent diagnostics listener and the systemd readiness notifications
// that bracket the extractors' lifetime.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/gops/agent"

	"github.com/seclyzer/seclyzer-core/internal/apptracker"
	"github.com/seclyzer/seclyzer-core/internal/extractor"
	"github.com/seclyzer/seclyzer-core/internal/runtimeEnv"
	"github.com/seclyzer/seclyzer-core/pkg/log"
)

// task is anything supervisor can run-and-restart: every FeatureExtractor
// implements this by way of its Run(ctx) error method.
type task interface {
	Run(ctx context.Context) error
}

// backoffFloor/backoffCeiling/backoffResetAfter bound the restart backoff
// (spec §9: "min(30s, 0.5s * 2^k), k reset after 60s of clean running").
const (
	backoffFloor      = 500 * time.Millisecond
	backoffCeiling    = 30 * time.Second
	backoffResetAfter = 60 * time.Second
)

// Supervisor owns the lifecycle of the keystroke, mouse, and app
// extractors, plus the process-wide diagnostics/readiness glue around
// them.
type Supervisor struct {
	keystroke *extractor.KeystrokeExtractor
	mouse     *extractor.MouseExtractor
	app       *apptracker.Tracker

	wg sync.WaitGroup
}

// New wires the three extractors into a Supervisor, ready for Run.
func New(keystroke *extractor.KeystrokeExtractor, mouse *extractor.MouseExtractor, app *apptracker.Tracker) *Supervisor {
	return &Supervisor{keystroke: keystroke, mouse: mouse, app: app}
}

// EnableGops starts the github.com/google/gops/agent diagnostics listener,
// generalizing the teacher's "-gops" flag (cmd/cc-backend/main.go) from a
// one-off main-package call into a capability the supervisor itself owns,
// since gops is meant to introspect the long-running extractor goroutines
// this package supervises.
func (s *Supervisor) EnableGops() error {
	return agent.Listen(agent.Options{})
}

// Run starts all three extractors, notifies systemd that the process is
// ready, and blocks until ctx is cancelled. On cancellation it notifies
// systemd that the process is stopping, waits for each extractor to
// return (including AppTracker's final flush), then returns itself.
func (s *Supervisor) Run(ctx context.Context) {
	s.spawn(ctx, "keystroke", s.keystroke)
	s.spawn(ctx, "mouse", s.mouse)
	s.spawn(ctx, "app", s.app)

	runtimeEnv.SystemdNotifiy(true, "running")
	log.Info("supervisor: all extractors started")

	<-ctx.Done()

	runtimeEnv.SystemdNotifiy(false, "shutting down")
	s.wg.Wait()
}

// spawn runs t.Run under a restart-with-backoff loop until ctx is
// cancelled. A run that survives backoffResetAfter without erroring resets
// the backoff exponent, so a flapping dependency (e.g. Redis restarting)
// does not permanently wedge an extractor at the backoff ceiling.
func (s *Supervisor) spawn(ctx context.Context, name string, t task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		attempt := 0
		for {
			if ctx.Err() != nil {
				return
			}

			started := time.Now()
			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("panic: %v", r)
					}
				}()
				return t.Run(ctx)
			}()

			if ctx.Err() != nil {
				return
			}
			if err == nil {
				// Run returned cleanly only because ctx was cancelled
				// mid-flight in a way this goroutine observed after the
				// fact; loop around and let the ctx.Err() check above
				// catch it.
				continue
			}

			if time.Since(started) >= backoffResetAfter {
				attempt = 0
			}

			delay := backoffFloor * time.Duration(1<<attempt)
			if delay >= backoffCeiling {
				delay = backoffCeiling
			} else {
				attempt++
			}

			log.Errorf("supervisor: %s extractor stopped, restarting in %s: %v", name, delay, err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
}
