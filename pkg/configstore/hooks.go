// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package configstore

import (
	"context"
	"time"

	"github.com/seclyzer/seclyzer-core/pkg/log"
)

type queryTimingKey struct{}

// hooks satisfies the sqlhooks.Hooks interface, logging every query and
// its elapsed time at debug level.
type hooks struct{}

func (h *hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("configstore: query %s %q", query, args)
	return context.WithValue(ctx, queryTimingKey{}, time.Now()), nil
}

func (h *hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(queryTimingKey{}).(time.Time); ok {
		log.Debugf("configstore: took %s", time.Since(begin))
	}
	return ctx, nil
}
