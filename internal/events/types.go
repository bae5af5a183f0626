// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of seclyzer-core.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events defines the tagged-event union decoded off the event bus
// (spec §3, §6) and the immutable FeatureRecord emitted by extractors.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type identifies the concrete payload carried by an Event.
type Type string

const (
	TypeKeystroke    Type = "keystroke"
	TypeMouseMove    Type = "mouse_move"
	TypeMouseClick   Type = "mouse_click"
	TypeMouseScroll  Type = "mouse_scroll"
	TypeApp          Type = "app"
)

// Phase distinguishes a press from a release for keys and mouse buttons.
type Phase string

const (
	PhasePress   Phase = "press"
	PhaseRelease Phase = "release"
)

// Button identifies which mouse button a click event refers to.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
	ButtonOther  Button = "other"
)

// ErrUnknownType is returned by Decode for a missing or unrecognised
// "type" field. Per spec §3 these are dropped silently by callers, not
// treated as fatal.
var ErrUnknownType = errors.New("events: unknown event type")

// DefaultUser is the tag applied to events that do not carry an explicit
// "user" field. SecLyzer runs as a single-host, non-multi-tenant pipeline
// (spec §1 Non-goals); the wire format in §6 does not require producers to
// stamp a user, so we default one here rather than reject the event.
const DefaultUser = "default"

// Keystroke is a single key press or release.
type Keystroke struct {
	TsUs  int64
	Key   string
	Phase Phase
}

// MouseMove is a single pointer motion sample.
type MouseMove struct {
	TsUs int64
	X    int32
	Y    int32
}

// MouseClick is a single mouse button press or release.
type MouseClick struct {
	TsUs   int64
	Button Button
	Phase  Phase
}

// MouseScroll is a single wheel delta sample.
type MouseScroll struct {
	TsUs int64
	Dx   int32
	Dy   int32
}

// AppFocus records the application/window that gained focus.
type AppFocus struct {
	TsUs        int64
	AppName     string
	WindowTitle string
}

// Event is the decoded tagged union. Exactly one of the payload pointers is
// non-nil, matching the Type field.
type Event struct {
	Type Type
	User string
	TsUs int64

	Keystroke   *Keystroke
	MouseMove   *MouseMove
	MouseClick  *MouseClick
	MouseScroll *MouseScroll
	AppFocus    *AppFocus
}

// envelope is the wire shape described in spec §6: a single-line JSON
// object with a "type" discriminator, an optional "user", and per-type
// fields. All numeric fields are plain JSON numbers; ts is microseconds.
type envelope struct {
	Type Type   `json:"type"`
	User string `json:"user"`
	Ts   int64  `json:"ts"`

	Key   string `json:"key"`
	Event string `json:"event"`

	X  *int32 `json:"x"`
	Y  *int32 `json:"y"`
	Dx *int32 `json:"dx"`
	Dy *int32 `json:"dy"`

	Button string `json:"button"`

	AppName     string `json:"app_name"`
	WindowTitle string `json:"window_title"`
}

// Decode parses a single-line JSON envelope into an Event. Malformed JSON,
// a missing/unknown "type", or a type with missing required fields all
// return a non-nil error; per spec §7 ("decode" error kind) callers must
// count and drop rather than treat this as fatal.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("events: decode envelope: %w", err)
	}

	user := env.User
	if user == "" {
		user = DefaultUser
	}

	ev := Event{Type: env.Type, User: user, TsUs: env.Ts}

	switch env.Type {
	case TypeKeystroke:
		phase, err := parsePhase(env.Event)
		if err != nil {
			return Event{}, err
		}
		if env.Key == "" {
			return Event{}, fmt.Errorf("events: keystroke missing key")
		}
		ev.Keystroke = &Keystroke{TsUs: env.Ts, Key: env.Key, Phase: phase}

	case TypeMouseMove:
		if env.X == nil || env.Y == nil {
			return Event{}, fmt.Errorf("events: mouse_move missing x/y")
		}
		ev.MouseMove = &MouseMove{TsUs: env.Ts, X: *env.X, Y: *env.Y}

	case TypeMouseClick:
		button, err := parseButton(env.Button)
		if err != nil {
			return Event{}, err
		}
		phase, err := parsePhase(env.Event)
		if err != nil {
			return Event{}, err
		}
		ev.MouseClick = &MouseClick{TsUs: env.Ts, Button: button, Phase: phase}

	case TypeMouseScroll:
		if env.Dx == nil || env.Dy == nil {
			return Event{}, fmt.Errorf("events: mouse_scroll missing dx/dy")
		}
		ev.MouseScroll = &MouseScroll{TsUs: env.Ts, Dx: *env.Dx, Dy: *env.Dy}

	case TypeApp:
		if env.AppName == "" {
			return Event{}, fmt.Errorf("events: app missing app_name")
		}
		ev.AppFocus = &AppFocus{TsUs: env.Ts, AppName: env.AppName, WindowTitle: env.WindowTitle}

	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	return ev, nil
}

func parsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhasePress, PhaseRelease:
		return Phase(s), nil
	default:
		return "", fmt.Errorf("events: invalid phase %q", s)
	}
}

func parseButton(s string) (Button, error) {
	switch Button(s) {
	case ButtonLeft, ButtonRight, ButtonMiddle, ButtonOther:
		return Button(s), nil
	default:
		return "", fmt.Errorf("events: invalid button %q", s)
	}
}
