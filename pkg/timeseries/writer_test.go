// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package timeseries

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/seclyzer/seclyzer-core/internal/events"
)

func newRecord() *events.FeatureRecord {
	rec := events.NewFeatureRecord("keystroke_features", "alice")
	rec.Fields["dwell_mean"] = 0.0123
	rec.Bools["is_new_user"] = false
	return rec
}

func TestWriteSucceedsOnFirstAttempt(t *testing.T) {
	var gotBody string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL, cfg.Token, cfg.Org, cfg.Bucket = srv.URL, "tok", "org1", "bucket1"
	w := New(cfg)

	err := w.Write(context.Background(), newRecord())
	require.NoError(t, err)
	require.Equal(t, "Token tok", gotAuth)
	require.True(t, strings.HasPrefix(gotBody, "keystroke_features,"))
	require.Contains(t, gotBody, "dwell_mean=0.0123")
	require.Contains(t, gotBody, "user=alice")

	stats := w.Stats()
	require.Equal(t, uint64(1), stats.Writes)
	require.Zero(t, stats.Retries)
	require.Zero(t, stats.Dropped)
}

func TestWriteRetriesOnceThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL, cfg.Token, cfg.Org, cfg.Bucket = srv.URL, "tok", "org1", "bucket1"
	cfg.RetryDelay = 5 * time.Millisecond
	w := New(cfg)

	err := w.Write(context.Background(), newRecord())
	require.NoError(t, err)
	require.Equal(t, int32(2), attempts.Load())

	stats := w.Stats()
	require.Equal(t, uint64(1), stats.Writes)
	require.Equal(t, uint64(1), stats.Retries)
	require.Zero(t, stats.Dropped)
}

func TestWriteDropsAfterRetryFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.URL, cfg.Token, cfg.Org, cfg.Bucket = srv.URL, "tok", "org1", "bucket1"
	cfg.RetryDelay = 5 * time.Millisecond
	w := New(cfg)

	err := w.Write(context.Background(), newRecord())
	require.Error(t, err)

	stats := w.Stats()
	require.Zero(t, stats.Writes)
	require.Equal(t, uint64(1), stats.Retries)
	require.Equal(t, uint64(1), stats.Dropped)
}
