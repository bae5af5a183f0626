// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package configstore is a small persistent key/value store backing
// SecLyzer's AppTracker transition-model snapshot and dev-mode
// password-override hash (spec §5, §9). It is a single-writer SQLite
// table reached through sqlx, built on the teacher's
// dbConnection.go/migration.go/userConfig.go REPLACE-INTO pattern
// generalized from a per-user UI-config table to a flat key/value one.
package configstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/seclyzer/seclyzer-core/pkg/log"
	"github.com/seclyzer/seclyzer-core/pkg/lrucache"
)

var registerDriverOnce sync.Once

func registerOnce() {
	registerDriverOnce.Do(func() {
		sql.Register("sqlite3_configstore", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &hooks{}))
	})
}

// Store is a persistent, cached key/value store. A single Store may be
// shared by multiple extractors; all methods are safe for concurrent use.
type Store struct {
	db    *sqlx.DB
	cache *lrucache.Cache
	qb    sq.StatementBuilderType
}

// Open opens (creating if necessary) the SQLite database at path and
// brings its schema up to date.
func Open(path string) (*Store, error) {
	registerOnce()

	db, err := sqlx.Open("sqlite3_configstore", fmt.Sprintf("%s?_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("configstore: open: %w", err)
	}
	// SQLite serializes writers regardless; one connection avoids lock
	// contention between goroutines waiting on the same mutex anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("configstore: migrate: %w", err)
	}

	return &Store{
		db:    db,
		cache: lrucache.New(1 << 20),
		qb:    sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the raw string value stored at key, or ok=false if absent.
// Reads are cached for 5 seconds; Set/Delete invalidate the cache entry
// immediately so a writer always observes its own write.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v := s.cache.Get(key, func() (interface{}, time.Duration, int) {
		query, args, err := s.qb.Select("value").From("configuration").Where(sq.Eq{"key": key}).ToSql()
		if err != nil {
			return getResult{err: err}, 0, 0
		}

		var value string
		err = s.db.GetContext(ctx, &value, query, args...)
		if err == sql.ErrNoRows {
			return getResult{found: false}, 5 * time.Second, 1
		}
		if err != nil {
			return getResult{err: err}, 0, 0
		}
		return getResult{found: true, value: value}, 5 * time.Second, len(value)
	})

	res, _ := v.(getResult)
	if res.err != nil {
		return "", false, res.err
	}
	return res.value, res.found, nil
}

type getResult struct {
	value string
	found bool
	err   error
}

// Set persists value at key, overwriting any existing value (spec §9:
// AppTracker's transition-model snapshot is REPLACE-INTO'd wholesale on
// every flush, not diffed).
func (s *Store) Set(ctx context.Context, key, value string) error {
	query, args, err := s.qb.Insert("configuration").
		Options("OR REPLACE").
		Columns("key", "value", "updated_at").
		Values(key, value, sq.Expr("CURRENT_TIMESTAMP")).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		log.Warnf("configstore: set %q: %v", key, err)
		return err
	}

	s.cache.Del(key)
	return nil
}

// Delete removes key. It is not an error for key to be absent.
func (s *Store) Delete(ctx context.Context, key string) error {
	query, args, err := s.qb.Delete("configuration").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}
	s.cache.Del(key)
	return nil
}
