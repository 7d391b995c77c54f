package cascade

import (
	"fmt"
	"time"
)

// Kind identifies an event in the catalog. The catalog is a closed set:
// every Kind is paired with exactly one payload type, and the pairing is
// enforced at compile time through the Payload interface. The single
// exception is KindRaw, which carries untyped fields and is only produced
// by the legacy bridge after runtime validation.
type Kind string

const (
	// KindBeat carries a detected beat with its tempo.
	KindBeat Kind = "beat"
	// KindTempo signals a tempo change from upstream analysis.
	KindTempo Kind = "tempo.changed"
	// KindEnergy carries an energy pulse for a frequency band.
	KindEnergy Kind = "energy.pulse"
	// KindSpectrum carries a full spectrum frame.
	KindSpectrum Kind = "spectrum.frame"
	// KindConfig signals a configuration change from the settings layer.
	KindConfig Kind = "config.changed"
	// KindPalette is derived by coordinators from energy and tempo input.
	KindPalette Kind = "palette.derived"
	// KindMotion is derived by coordinators from beat and spectrum input.
	KindMotion Kind = "motion.derived"
	// KindSystemError is self-reported by the bus when a handler fails.
	// It is dispatched through the synchronous path only.
	KindSystemError Kind = "system.error"
	// KindRaw is the escape hatch for legacy events that have no typed
	// mapping yet. Producing it anywhere but the legacy bridge is a bug.
	KindRaw Kind = "raw"
)

// Payload is the closed union of event payloads. The unexported marker
// keeps the set closed: payload types cannot be added outside this package.
type Payload interface {
	kind() Kind
}

// KindOf returns the catalog kind paired with a payload type.
func KindOf(p Payload) Kind {
	return p.kind()
}

// BeatPayload is emitted by upstream analysis on every detected beat.
type BeatPayload struct {
	BPM       float64
	Intensity float64
}

func (BeatPayload) kind() Kind { return KindBeat }

// TempoPayload is emitted when upstream analysis locks onto a new tempo.
type TempoPayload struct {
	BPM        float64
	Confidence float64
}

func (TempoPayload) kind() Kind { return KindTempo }

// EnergyPayload is emitted per analysis window for a frequency band.
type EnergyPayload struct {
	Level float64
	Band  string
}

func (EnergyPayload) kind() Kind { return KindEnergy }

// SpectrumPayload carries the per-band magnitudes of one analysis frame.
type SpectrumPayload struct {
	Bands []float64
}

func (SpectrumPayload) kind() Kind { return KindSpectrum }

// ConfigPayload is emitted by the settings layer when a key changes.
type ConfigPayload struct {
	Key   string
	Value string
}

func (ConfigPayload) kind() Kind { return KindConfig }

// PalettePayload is a derived color assignment pushed to presentation sinks.
type PalettePayload struct {
	Primary   string
	Accent    string
	Intensity float64
}

func (PalettePayload) kind() Kind { return KindPalette }

// MotionPayload is a derived animation directive pushed to presentation sinks.
type MotionPayload struct {
	Speed   float64
	Pattern string
}

func (MotionPayload) kind() Kind { return KindMotion }

// SystemErrorPayload reports a handler failure. Origin names the kind whose
// handler failed so error subscribers can avoid reacting to their own kind.
type SystemErrorPayload struct {
	Origin         Kind
	SubscriptionID string
	Owner          string
	Err            string
}

func (SystemErrorPayload) kind() Kind { return KindSystemError }

// RawPayload carries a legacy event that has no typed mapping. Name is the
// legacy event name; Fields is the decoded legacy payload.
type RawPayload struct {
	Name   string
	Fields map[string]any
}

func (RawPayload) kind() Kind { return KindRaw }

// Event is the envelope handed to subscribers. Chain records the coordinator
// names of the causal cascade that produced the event; an empty chain marks
// an external (non-derived) emission.
type Event struct {
	ID        string
	Kind      Kind
	Payload   Payload
	Chain     []string
	EmittedAt time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("%s[%s]", e.Kind, e.ID)
}
