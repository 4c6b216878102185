// Package operator provides the stateful operator library evaluated by the
// logic engine.
//
// Each operator kind has its own config struct (LogicConfig, TimerConfig,
// PIDConfig, ...) implementing Config. A config validates itself and builds
// an Operator, which owns the private runtime state of one virtual channel:
// a timer's start tick, a filter's ring buffer, a PID's integral.
//
// All operators follow the same rules:
//
//   - Evaluate is called at most once per logic tick and is bounded by the
//     configured window or table size.
//   - Time is derived from Tick.Seq and Tick.Period, never from a wall clock.
//   - Edge-triggered operators treat the first sample as a seed, never as
//     an edge.
//   - Arithmetic is done in int64 and saturated to int32. Division or
//     modulo by zero yields math.MaxInt32 for a non-negative numerator and
//     math.MinInt32 otherwise.
//
// Operators that implement Retuner keep their state when a new config of the
// same shape is applied.
package operator
