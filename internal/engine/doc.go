// Package engine provides the logic execution engine for PDM Core.
//
// The engine holds an ordered table of up to MaxSlots operator slots. Each
// slot binds one operator instance to an output virtual channel and up to
// eight input channels. Once per logic tick the engine walks the table in
// registration order, reads the inputs from the channel registry, evaluates
// the operator and stores the result.
//
// # Ordering
//
// The order is fixed, not resolved from dependencies. A slot that reads the
// output of a slot later in the table sees the value from the previous tick.
//
// # Timing
//
// Logical time comes from a Clock advanced once per pass. Wall time is only
// used to measure the pass duration; a pass over budget is counted, exposed
// in Stats and logged at a limited rate. It is never an error.
//
// # Reconfiguration
//
// Prepare validates a plan and builds fresh operators without touching the
// running table. Commit swaps the table in, carrying operator state for
// slots that keep their output and kind.
package engine
