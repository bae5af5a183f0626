// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package devmode implements the DevModeOracle described in spec §5: a
// single boolean-with-method query, true whenever any of four
// independent activation sources is currently live. Activation never
// requires more than one source; sources are combined with logical OR
// and each carries its own expiry.
package devmode

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"

	"github.com/seclyzer/seclyzer-core/pkg/log"
	"github.com/seclyzer/seclyzer-core/pkg/lrucache"
)

// Method identifies which activation source is currently live.
type Method string

const (
	MethodNone     Method = ""
	MethodFile     Method = "magic_file"
	MethodEnv      Method = "env"
	MethodKeySeq   Method = "key_sequence"
	MethodPassword Method = "password"
)

// keySequenceWindow and passwordWindow are the durations spec §5 assigns
// to the timed activation sources.
const (
	keySequenceWindow = 5 * time.Minute
	passwordWindow    = 24 * time.Hour
	fileCacheTTL      = 1 * time.Second
)

// EnvVar activates dev mode only when set to one of the literal values
// below (spec §4.3, §6: SECLYZER_DEV_MODE ∈ {1, true, yes}, matched
// case-insensitively). Any other value, including "0" or "false", leaves
// dev mode off rather than activating it.
const EnvVar = "SECLYZER_DEV_MODE"

func envActive() bool {
	switch strings.ToLower(os.Getenv(EnvVar)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// Status is the result of a Query: whether dev mode is active and, if so,
// which source activated it and when.
type Status struct {
	Active      bool
	Method      Method
	ActivatedAt time.Time
}

// PasswordHashFunc resolves the bcrypt hash dev-mode password activation
// is checked against. ConfigStore backs this in production; tests supply
// a constant.
type PasswordHashFunc func(ctx context.Context) (hash string, ok bool)

// Oracle evaluates the four dev-mode activation sources.
type Oracle struct {
	magicFilePath string
	hashFor       PasswordHashFunc

	fileCache *lrucache.Cache
	watcher   *fsnotify.Watcher

	mu          sync.Mutex
	keySeqUntil time.Time
	pwdUntil    time.Time
	pwdMethod   Method
}

// New creates an Oracle watching magicFilePath for the file-presence
// source. hashFor may be nil if password-override activation is unused.
func New(magicFilePath string, hashFor PasswordHashFunc) *Oracle {
	o := &Oracle{
		magicFilePath: magicFilePath,
		hashFor:       hashFor,
		fileCache:     lrucache.New(1 << 20),
	}
	o.startWatch()
	return o
}

// Close releases the filesystem watcher, if one was started.
func (o *Oracle) Close() error {
	if o.watcher != nil {
		return o.watcher.Close()
	}
	return nil
}

// startWatch watches the magic file's parent directory so a create/
// remove invalidates the 1s TTL cache immediately instead of only on
// expiry. Failure to start a watcher is non-fatal: the cache's TTL alone
// still bounds staleness to fileCacheTTL.
func (o *Oracle) startWatch() {
	if o.magicFilePath == "" {
		return
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warnf("devmode: magic file watcher unavailable: %v", err)
		return
	}
	dir := filepath.Dir(o.magicFilePath)
	if err := watcher.Add(dir); err != nil {
		log.Warnf("devmode: watch %s: %v", dir, err)
		watcher.Close()
		return
	}
	o.watcher = watcher

	go func() {
		base := filepath.Base(o.magicFilePath)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) == base {
					o.fileCache.Del(o.magicFilePath)
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// fileActive reports whether the magic file currently exists, cached for
// fileCacheTTL so a sustained 1-second extractor tick does not stat the
// filesystem on every call (spec §5).
func (o *Oracle) fileActive() bool {
	if o.magicFilePath == "" {
		return false
	}
	v := o.fileCache.Get(o.magicFilePath, func() (interface{}, time.Duration, int) {
		_, err := os.Stat(o.magicFilePath)
		return err == nil, fileCacheTTL, 1
	})
	active, _ := v.(bool)
	return active
}

// ActivateKeySequence arms the timed key-sequence source for
// keySequenceWindow from now. The caller that detects the sequence calls
// this; no package in this module calls it.
func (o *Oracle) ActivateKeySequence() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keySeqUntil = time.Now().Add(keySequenceWindow)
}

// ActivatePassword arms the password-override source for passwordWindow
// if plaintext matches the hash returned by hashFor. Returns false (and
// does not activate) if no hash is configured or the password is wrong.
func (o *Oracle) ActivatePassword(ctx context.Context, plaintext string) bool {
	if o.hashFor == nil {
		return false
	}
	hash, ok := o.hashFor(ctx)
	if !ok || hash == "" {
		return false
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) != nil {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pwdUntil = time.Now().Add(passwordWindow)
	return true
}

// Query evaluates all four sources and returns the combined status. When
// more than one source is live, file > env > key sequence > password
// precedence is used only to pick a single reported Method; Active is
// true regardless of which source(s) fired.
func (o *Oracle) Query() Status {
	now := time.Now()

	if o.fileActive() {
		return Status{Active: true, Method: MethodFile, ActivatedAt: now}
	}
	if envActive() {
		return Status{Active: true, Method: MethodEnv, ActivatedAt: now}
	}

	o.mu.Lock()
	keySeqUntil, pwdUntil := o.keySeqUntil, o.pwdUntil
	o.mu.Unlock()

	if now.Before(keySeqUntil) {
		return Status{Active: true, Method: MethodKeySeq, ActivatedAt: keySeqUntil.Add(-keySequenceWindow)}
	}
	if now.Before(pwdUntil) {
		return Status{Active: true, Method: MethodPassword, ActivatedAt: pwdUntil.Add(-passwordWindow)}
	}

	return Status{Active: false, Method: MethodNone}
}
