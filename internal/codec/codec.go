// Package codec turns telemetry snapshots into wire payloads.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jdbcrew/devicebridge/pkg/telemetry"
)

// ErrEncodingFailure marks a snapshot that could not be serialized.
var ErrEncodingFailure = errors.New("encoding failure")

// Encoder serializes a snapshot. Implementations must be safe for concurrent use.
type Encoder interface {
	Encode(snap telemetry.Snapshot) ([]byte, error)
}

// JSONEncoder writes the canonical JSON push.
type JSONEncoder struct{}

// NewJSONEncoder returns the default encoder.
func NewJSONEncoder() JSONEncoder {
	return JSONEncoder{}
}

// Encode marshals snap. Non-finite numbers cannot be represented and fail.
func (JSONEncoder) Encode(snap telemetry.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry snapshot: %w", err)
	}
	return data, nil
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(snap telemetry.Snapshot) ([]byte, error)

// Encode calls f.
func (f EncoderFunc) Encode(snap telemetry.Snapshot) ([]byte, error) {
	return f(snap)
}

// Encode runs enc and tags any failure with ErrEncodingFailure.
func Encode(enc Encoder, snap telemetry.Snapshot) ([]byte, error) {
	data, err := enc.Encode(snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	return data, nil
}
