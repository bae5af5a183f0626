// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package eventbus wraps a Redis pub/sub connection for SecLyzer's event
// stream (spec §4.1, §6: channel "seclyzer:events", env REDIS_HOST /
// REDIS_PORT / REDIS_PASSWORD). It mirrors the connection-management and
// subscription-tracking shape of a generic pub/sub client wrapper, with
// its own capped exponential backoff on top of the driver's reconnects so
// the spec's "100 ms -> 10 s" bound is honoured exactly rather than left
// to driver defaults.
package eventbus

import "time"

// Config holds the connection parameters for the event bus.
type Config struct {
	Addr     string
	Password string
	DB       int

	// MinReconnectWait/MaxReconnectWait bound the capped exponential
	// backoff used when the subscriber's receive loop errors out (spec
	// §4.1: "100 ms -> 10 s").
	MinReconnectWait time.Duration
	MaxReconnectWait time.Duration
}

// DefaultConfig returns the spec-mandated backoff bounds with no server
// address set; callers populate Addr from REDIS_HOST/REDIS_PORT.
func DefaultConfig() Config {
	return Config{
		MinReconnectWait: 100 * time.Millisecond,
		MaxReconnectWait: 10 * time.Second,
	}
}
