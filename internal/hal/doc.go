// Package hal provides the hardware adapter contract for PDM Core.
//
// Adapters are pulled once per hardware tick; there are no push callbacks
// into the core. A source that genuinely produces samples from an interrupt
// writes them into a Cell, and the next pass reads the latest value.
//
// Pass is the glue between the adapters and the channel registry: Sample
// copies inputs and measurements into channels at the start of the tick,
// Drive applies the duties decided by output protection at the end.
//
// Sim implements every adapter and is used by tests and by the pdmsim tool.
package hal
