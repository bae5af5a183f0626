// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runtimeEnv holds the process-lifecycle glue SecLyzer needs
// beyond the standard library: telling systemd when the daemon is ready
// and when it is shutting down.
package runtimeEnv

import (
	"fmt"
	"os"
	"os/exec"
)

// SystemdNotifiy tells systemd about a readiness/status change, if the
// process was started under systemd (NOTIFY_SOCKET set). A no-op
// otherwise, since SecLyzer runs just as well from a plain shell or a
// supervisor that doesn't speak the sd_notify protocol.
// https://www.freedesktop.org/software/systemd/man/sd_notify.html
func SystemdNotifiy(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		// Not started using systemd
		return
	}

	args := []string{fmt.Sprintf("--pid=%d", os.Getpid())}
	if ready {
		args = append(args, "--ready")
	}

	if status != "" {
		args = append(args, fmt.Sprintf("--status=%s", status))
	}

	cmd := exec.Command("systemd-notify", args...)
	cmd.Run() // errors ignored on purpose, there is not much to do anyways.
}
