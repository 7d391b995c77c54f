// Package cascade is an in-process event distribution core for reactive
// pipelines that derive events from other events.
//
// The root package provides the Bus: typed publish/subscribe over a closed
// catalog of event kinds, with snapshot dispatch, a bounded FIFO queue for
// emissions that arrive mid-dispatch, owner-tagged subscriptions, once
// semantics, periodic kind statistics, and a sweeper that reaps
// subscriptions that never fired.
//
// Subpackages build cascade control on top of the bus:
//
//   - guard: per-stage recursion guard with duplicate suppression, chain
//     depth bounding, and a watchdog that frees a stage wedged by a stuck
//     handler.
//   - coordinator: subscribes to an input kind, derives a new event through
//     a guard, and applies it to a sink.
//   - legacy: pure translation between untyped name/field events and the
//     typed catalog, for callers that predate it.
//   - monitor: an HTTP handler exposing the bus snapshot as JSON.
//
// A minimal pipeline:
//
//	bus := cascade.New(cascade.WithName("visuals"))
//	defer bus.Close(context.Background())
//
//	bus.Subscribe(cascade.KindPalette, applyPalette, "renderer")
//
//	coord := coordinator.New("palette", bus, cascade.KindBeat, derivePalette)
//	coord.Start()
//	defer coord.Stop()
//
//	bus.Emit(ctx, cascade.BeatPayload{BPM: 128, Intensity: 0.9})
//
// Emission is fire-and-forget: Emit never reports delivery failures, and
// when the dispatch queue overflows the newest emission is dropped and
// counted. Handlers of a single emission run concurrently and are awaited
// before the next queued emission dispatches.
package cascade
