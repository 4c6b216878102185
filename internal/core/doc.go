// Package core composes the PDM control core: the channel registry, the
// logic engine, output protection and the hardware pass.
//
// Two periodic passes share the registry:
//
//	hardware tick (1 kHz)              logic tick (500 Hz)
//	─────────────────────              ───────────────────
//	hal.Pass.Sample                    engine.Tick
//	protection.Manager.Step            system channels 1001, 1002, 1010
//	hal.Pass.Drive
//	system channels 1000-1011
//
// Each channel has one writer, so the value path takes no lock. The ticks
// hold the shape lock for reading; Apply holds it for writing while it
// commits a Plan to the registry, the slot table and output protection, so
// configuration changes are all-or-nothing and never seen half done.
//
// A registry structure check failing, or a panic inside a tick, puts the
// core in the safe state: every output is driven off and stays off until
// ResetSafeState succeeds. Ticks keep running so inputs and telemetry stay
// live.
package core
