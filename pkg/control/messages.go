// Package control defines the inbound command payloads accepted from viewers.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message kinds routed by the dispatcher.
const (
	KindCommand  = "control"
	KindCamera   = "camera-pan-tilt"
	KindMode     = "mode"
	KindSteering = "steering"
)

// ErrMalformedFrame marks an inbound payload that is not valid JSON for its kind.
var ErrMalformedFrame = errors.New("malformed control frame")

// Command is a drive input from the keyboard, a gamepad or the UI.
type Command struct {
	Source    string   `json:"source"`
	Command   string   `json:"command"`
	Value     *float64 `json:"value,omitempty"`
	Timestamp int64    `json:"timestamp"`
}

// CameraAdjustment nudges the onboard camera.
type CameraAdjustment struct {
	Action    string  `json:"action"` // always "camera-pan-tilt"
	PanDelta  float64 `json:"panDelta"`
	TiltDelta float64 `json:"tiltDelta"`
	Timestamp int64   `json:"timestamp"`
}

// ModeChange selects a drive or steering mode.
type ModeChange struct {
	Mode string `json:"mode"`
}

// Kind inspects a raw frame and reports which payload it carries.
// Frames with action "camera-pan-tilt" are camera adjustments, everything
// else is treated as a drive command.
func Kind(raw json.RawMessage) (string, error) {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if probe.Action == KindCamera {
		return KindCamera, nil
	}
	return KindCommand, nil
}

// DecodeCommand parses a drive command.
func DecodeCommand(raw json.RawMessage) (Command, error) {
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return c, nil
}

// DecodeCamera parses a camera adjustment.
func DecodeCamera(raw json.RawMessage) (CameraAdjustment, error) {
	var c CameraAdjustment
	if err := json.Unmarshal(raw, &c); err != nil {
		return CameraAdjustment{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return c, nil
}

// DecodeMode parses a drive or steering mode change.
func DecodeMode(raw json.RawMessage) (ModeChange, error) {
	var m ModeChange
	if err := json.Unmarshal(raw, &m); err != nil {
		return ModeChange{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return m, nil
}
