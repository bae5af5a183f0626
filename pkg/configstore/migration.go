// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package configstore

import (
	"database/sql"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/seclyzer/seclyzer-core/pkg/log"
)

//go:embed migrations/sqlite3
var migrationFiles embed.FS

// runMigrations brings db up to the latest schema version. Unlike the
// teacher's operator-triggered --migrate-db flag, SecLyzer has no
// interactive admin surface (spec §1 Non-goals: no UI/CLI beyond the
// daemon itself), so migrations simply run once at startup.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationFiles, "migrations/sqlite3")
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	v, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.Infof("configstore: schema at version %d (dirty=%v)", v, dirty)

	return nil
}
