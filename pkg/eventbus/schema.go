// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package eventbus

import (
	"bytes"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchema is the structural shape every event on "seclyzer:events"
// must satisfy (spec §6). It only constrains the envelope's gross shape
// (a "type" discriminator string and a numeric "ts"); per-type required
// fields are still enforced by events.Decode, which also produces the
// typed value the schema cannot. "type" is deliberately left an open
// string rather than an enum of the known values: an unrecognized type
// must still pass envelope validation and reach events.Decode, whose
// ErrUnknownType path is what classifies and counts it as Unknown (spec
// §3, §7) -- constraining it here would misclassify it as a DecodeError
// instead.
const envelopeSchemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"type": { "type": "string" },
		"ts": { "type": "integer" }
	},
	"required": ["type", "ts"]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
)

func envelopeSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(envelopeSchemaDoc)))
		if err != nil {
			panic("eventbus: invalid embedded envelope schema: " + err.Error())
		}
		const resource = "seclyzer://event-envelope.json"
		if err := compiler.AddResource(resource, doc); err != nil {
			panic("eventbus: add envelope schema resource: " + err.Error())
		}
		compiledSchema, err = compiler.Compile(resource)
		if err != nil {
			panic("eventbus: compile envelope schema: " + err.Error())
		}
	})
	return compiledSchema
}

// validateEnvelope checks that raw decodes to a JSON object matching the
// envelope shape. It returns nil for valid input; any error is a decode
// error per spec §7 and must be counted, not surfaced as fatal.
func validateEnvelope(raw []byte) error {
	v, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return envelopeSchema().Validate(v)
}
