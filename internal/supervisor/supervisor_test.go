// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTask fails its first n-1 runs instantly, then blocks until ctx is
// cancelled, simulating a flaky dependency that recovers.
type fakeTask struct {
	attempts atomic.Int32
	failN    int32
}

func (f *fakeTask) Run(ctx context.Context) error {
	n := f.attempts.Add(1)
	if n <= f.failN {
		return errors.New("boom")
	}
	<-ctx.Done()
	return nil
}

// TestSpawnRestartsUntilSuccess exercises the restart-with-backoff loop:
// a task that fails twice before succeeding should be retried, not given
// up on.
func TestSpawnRestartsUntilSuccess(t *testing.T) {
	s := &Supervisor{}
	ft := &fakeTask{failN: 2}

	ctx, cancel := context.WithCancel(context.Background())
	s.spawn(ctx, "fake", ft)

	require.Eventually(t, func() bool {
		return ft.attempts.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	s.wg.Wait()
}

// TestSpawnStopsOnCancel ensures a cancelled context stops the retry loop
// promptly even mid-backoff.
func TestSpawnStopsOnCancel(t *testing.T) {
	s := &Supervisor{}
	ft := &fakeTask{failN: 1000}

	ctx, cancel := context.WithCancel(context.Background())
	s.spawn(ctx, "fake", ft)

	require.Eventually(t, func() bool {
		return ft.attempts.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop promptly after cancel")
	}
}
