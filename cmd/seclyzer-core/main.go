// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seclyzer/seclyzer-core/internal/apptracker"
	"github.com/seclyzer/seclyzer-core/internal/config"
	"github.com/seclyzer/seclyzer-core/internal/extractor"
	"github.com/seclyzer/seclyzer-core/internal/supervisor"
	"github.com/seclyzer/seclyzer-core/pkg/configstore"
	"github.com/seclyzer/seclyzer-core/pkg/devmode"
	"github.com/seclyzer/seclyzer-core/pkg/eventbus"
	"github.com/seclyzer/seclyzer-core/pkg/log"
	"github.com/seclyzer/seclyzer-core/pkg/timeseries"
)

// devModePasswordKey is the ConfigStore key a bcrypt hash for the
// password-override dev-mode source is persisted under (spec §5). There
// is no admin surface to set it (spec §1 Non-goals); it is provisioned
// out of band by writing the key directly.
const devModePasswordKey = "dev_mode_password_hash"

func main() {
	var flagEnvFile, flagLogLevel string
	var flagGops bool
	flag.StringVar(&flagEnvFile, "config", "./.env", "Load configuration overrides from `file`")
	flag.StringVar(&flagLogLevel, "loglevel", "info", "One of debug, info, warn, err")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	log.SetLogLevel(flagLogLevel)

	config.Init(flagEnvFile)

	store, err := configstore.Open(config.Keys.SQLitePath)
	if err != nil {
		log.Fatalf("configstore: %s", err.Error())
	}

	bus := eventbus.New(eventbus.Config{
		Addr:     config.Keys.RedisAddr(),
		Password: config.Keys.RedisPassword,
	})
	defer bus.Close()

	writer := timeseries.New(timeseries.Config{
		URL:         config.Keys.InfluxURL,
		Token:       config.Keys.InfluxToken,
		Org:         config.Keys.InfluxOrg,
		Bucket:      config.Keys.InfluxBucket,
		HTTPTimeout: 5 * time.Second,
		RetryDelay:  200 * time.Millisecond,
	})

	oracle := devmode.New(config.Keys.MagicFilePath, func(ctx context.Context) (string, bool) {
		hash, found, err := store.Get(ctx, devModePasswordKey)
		if err != nil || !found {
			return "", false
		}
		return hash, true
	})
	defer oracle.Close()

	window := time.Duration(config.Keys.WindowSeconds) * time.Second
	tick := config.Keys.UpdateInterval

	keystroke := extractor.NewKeystrokeExtractor(bus, writer, oracle, window, tick)
	mouse := extractor.NewMouseExtractor(bus, writer, oracle, window, tick)
	app := apptracker.New(bus, store, writer, tick)

	sup := supervisor.New(keystroke, mouse, app)

	if flagGops {
		if err := sup.EnableGops(); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	log.Infof("seclyzer-core: starting (window=%s, tick=%s)", window, tick)

	sup.Run(ctx)

	log.Info("seclyzer-core: graceful shutdown complete")
}
