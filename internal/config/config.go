// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config resolves SecLyzer's runtime configuration (spec §6):
// defaults, layered with an optional .env file, then overridden by
// explicit process environment variables. Following the teacher's
// package-level Keys convention, the resolved configuration lives in the
// exported Keys variable after Init runs.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/seclyzer/seclyzer-core/pkg/log"
)

// Keys holds the fully-resolved configuration. Init must run before any
// other package reads it.
var Keys = Config{
	RedisHost:      "127.0.0.1",
	RedisPort:      "6379",
	InfluxURL:      "http://127.0.0.1:8086",
	WindowSeconds:  30,
	UpdateInterval: 5 * time.Second,
	SQLitePath:     "./var/seclyzer.db",
}

// Config is the set of values spec §6 names as "environment variables
// recognised by the core".
type Config struct {
	RedisHost     string
	RedisPort     string
	RedisPassword string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	// WindowSeconds is the trailing-window length extractors aggregate
	// over on each tick (spec §3: default 30s).
	WindowSeconds int

	// UpdateInterval is the extractor tick cadence (spec §3: default 5s).
	UpdateInterval time.Duration

	SQLitePath    string
	MagicFilePath string
}

// Init loads an optional .env file (ignored if absent) and then applies
// explicit process environment overrides on top of the compiled-in
// defaults in Keys.
func Init(envFile string) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			log.Warnf("config: load %s: %v", envFile, err)
		}
	}

	if v := os.Getenv("REDIS_HOST"); v != "" {
		Keys.RedisHost = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		Keys.RedisPort = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		Keys.RedisPassword = v
	}

	if v := os.Getenv("INFLUX_URL"); v != "" {
		Keys.InfluxURL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		Keys.InfluxToken = v
	}
	if v := os.Getenv("INFLUX_ORG"); v != "" {
		Keys.InfluxOrg = v
	}
	if v := os.Getenv("INFLUX_BUCKET"); v != "" {
		Keys.InfluxBucket = v
	}

	if v := os.Getenv("WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			Keys.WindowSeconds = n
		} else {
			log.Warnf("config: ignoring invalid WINDOW_SECONDS=%q", v)
		}
	}
	if v := os.Getenv("UPDATE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			Keys.UpdateInterval = time.Duration(n) * time.Second
		} else {
			log.Warnf("config: ignoring invalid UPDATE_INTERVAL=%q", v)
		}
	}

	if v := os.Getenv("SECLYZER_SQLITE_PATH"); v != "" {
		Keys.SQLitePath = v
	}
	if v := os.Getenv("SECLYZER_MAGIC_FILE"); v != "" {
		Keys.MagicFilePath = v
	}

	// SECLYZER_DEV_MODE is read directly by pkg/devmode.Oracle.Query at
	// query time (its activation window must reflect the live env, not a
	// value snapshotted once at startup), so it is not mirrored into Keys.
}

// RedisAddr formats RedisHost/RedisPort as a "host:port" dial address.
func (c Config) RedisAddr() string {
	return c.RedisHost + ":" + c.RedisPort
}
