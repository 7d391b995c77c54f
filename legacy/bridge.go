// Package legacy translates events from the old stringly-typed catalog into
// the current typed one. Translation is a pure function kept outside the bus
// and guard: callers that still speak the old protocol translate first, then
// emit the typed payload like everyone else.
package legacy

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/soniq/cascade"
)

// ErrMalformed reports a legacy event whose fields do not fit the shape its
// name promises. Unknown names are not malformed; they translate to a raw
// payload.
var ErrMalformed = errors.New("legacy: malformed payload")

// Old catalog names. The old protocol used colon-separated names; the typed
// catalog uses dotted kinds.
const (
	nameBeat     = "beat"
	nameTempo    = "tempo:changed"
	nameEnergy   = "energy:pulse"
	nameSpectrum = "spectrum:frame"
	nameConfig   = "config:changed"
)

// Translate maps a legacy name/field event onto the typed catalog. Known
// names produce their typed payload and fail with ErrMalformed when a
// required field is missing or mistyped. Unknown but well-formed events pass
// through as a raw payload so downstream code can still route them.
func Translate(name string, fields map[string]any) (cascade.Payload, error) {
	switch name {
	case nameBeat:
		bpm, err := floatField(fields, "bpm")
		if err != nil {
			return nil, err
		}
		intensity, err := floatField(fields, "intensity")
		if err != nil {
			return nil, err
		}
		return cascade.BeatPayload{BPM: bpm, Intensity: intensity}, nil

	case nameTempo:
		bpm, err := floatField(fields, "bpm")
		if err != nil {
			return nil, err
		}
		confidence, err := floatField(fields, "confidence")
		if err != nil {
			return nil, err
		}
		return cascade.TempoPayload{BPM: bpm, Confidence: confidence}, nil

	case nameEnergy:
		level, err := floatField(fields, "level")
		if err != nil {
			return nil, err
		}
		band, err := stringField(fields, "band")
		if err != nil {
			return nil, err
		}
		return cascade.EnergyPayload{Level: level, Band: band}, nil

	case nameSpectrum:
		bands, err := floatSliceField(fields, "bands")
		if err != nil {
			return nil, err
		}
		return cascade.SpectrumPayload{Bands: bands}, nil

	case nameConfig:
		key, err := stringField(fields, "key")
		if err != nil {
			return nil, err
		}
		value, err := stringField(fields, "value")
		if err != nil {
			return nil, err
		}
		return cascade.ConfigPayload{Key: key, Value: value}, nil

	default:
		if name == "" {
			return nil, fmt.Errorf("%w: empty event name", ErrMalformed)
		}
		return cascade.RawPayload{Name: name, Fields: fields}, nil
	}
}

// TranslateFrame decodes a msgpack-encoded field map and translates it. This
// is the wire shape the old protocol used between processes.
func TranslateFrame(name string, frame []byte) (cascade.Payload, error) {
	var fields map[string]any
	if err := msgpack.Unmarshal(frame, &fields); err != nil {
		return nil, fmt.Errorf("%w: decoding %q frame: %v", ErrMalformed, name, err)
	}
	return Translate(name, fields)
}

// floatField extracts a numeric field. msgpack decodes numbers into the
// narrowest type that fits, so every integer and float width is accepted.
func floatField(fields map[string]any, key string) (float64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", ErrMalformed, key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%w: field %q is %T, want number", ErrMalformed, key, v)
	}
}

func stringField(fields map[string]any, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", ErrMalformed, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q is %T, want string", ErrMalformed, key, v)
	}
	return s, nil
}

func floatSliceField(fields map[string]any, key string) ([]float64, error) {
	v, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing field %q", ErrMalformed, key)
	}
	raw, ok := v.([]any)
	if !ok {
		if fs, ok := v.([]float64); ok {
			return fs, nil
		}
		return nil, fmt.Errorf("%w: field %q is %T, want array", ErrMalformed, key, v)
	}
	out := make([]float64, len(raw))
	for i := range raw {
		f, err := floatField(map[string]any{key: raw[i]}, key)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q[%d] is %T, want number", ErrMalformed, key, i, raw[i])
		}
		out[i] = f
	}
	return out, nil
}
