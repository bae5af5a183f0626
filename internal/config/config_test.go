// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitAppliesEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.example")
	t.Setenv("REDIS_PORT", "6390")
	t.Setenv("WINDOW_SECONDS", "45")
	t.Setenv("UPDATE_INTERVAL", "10")

	Init("")

	require.Equal(t, "redis.example", Keys.RedisHost)
	require.Equal(t, "6390", Keys.RedisPort)
	require.Equal(t, "redis.example:6390", Keys.RedisAddr())
	require.Equal(t, 45, Keys.WindowSeconds)
	require.Equal(t, 10*time.Second, Keys.UpdateInterval)
}

func TestInitIgnoresInvalidNumericOverrides(t *testing.T) {
	Keys.WindowSeconds = 99
	t.Setenv("WINDOW_SECONDS", "not-a-number")
	Init("")
	require.Equal(t, 99, Keys.WindowSeconds)
}
