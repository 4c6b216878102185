package operator

import (
	"fmt"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// TimerMode selects how a timer counts.
type TimerMode string

// Timer modes.
const (
	// TimerCountUp outputs elapsed milliseconds, clamped at the limit.
	// Edges while running are ignored.
	TimerCountUp TimerMode = "count_up"
	// TimerCountDown outputs the remaining milliseconds.
	TimerCountDown TimerMode = "count_down"
	// TimerRetriggerable counts up and restarts on every trigger edge.
	TimerRetriggerable TimerMode = "retriggerable"
	// TimerStopwatch accumulates the time the trigger input is high.
	TimerStopwatch TimerMode = "stopwatch"
)

// TimerState is the phase of a timer.
type TimerState uint8

// Timer states.
const (
	TimerIdle TimerState = iota
	TimerRunning
	TimerExpired
)

func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "idle"
	case TimerRunning:
		return "running"
	case TimerExpired:
		return "expired"
	}
	return "unknown"
}

// TimerConfig configures a timer. in[0] is the trigger, an optional in[1]
// resets the timer to idle while nonzero. LimitMS is optional for stopwatch.
type TimerConfig struct {
	Mode    TimerMode `yaml:"mode" json:"mode"`
	Trigger Trigger   `yaml:"trigger" json:"trigger"`
	LimitMS int32     `yaml:"limit_ms" json:"limit_ms"`
}

func (c *TimerConfig) Kind() Kind           { return KindTimer }
func (c *TimerConfig) Class() channel.Class { return channel.ClassVirtualTimer }
func (c *TimerConfig) MinInputs() int       { return 1 }
func (c *TimerConfig) MaxInputs() int       { return 2 }

func (c *TimerConfig) Validate() error {
	switch c.Mode {
	case TimerCountUp, TimerCountDown, TimerRetriggerable:
		if c.LimitMS <= 0 {
			return fmt.Errorf("%w: timer limit must be positive", ErrInvalidConfig)
		}
	case TimerStopwatch:
		if c.LimitMS < 0 {
			return fmt.Errorf("%w: timer limit is negative", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: timer mode %q", ErrInvalidConfig, c.Mode)
	}
	if !c.Trigger.valid() {
		return fmt.Errorf("%w: timer trigger %q", ErrInvalidConfig, c.Trigger)
	}
	return nil
}

func (c *TimerConfig) New() Operator {
	return &timerOp{cfg: *c, edge: newEdgeDetector()}
}

type timerOp struct {
	cfg   TimerConfig
	edge  edgeDetector
	state TimerState
	start uint64

	// stopwatch
	accum time.Duration
}

func (o *timerOp) limit() time.Duration {
	return time.Duration(o.cfg.LimitMS) * time.Millisecond
}

func (o *timerOp) Evaluate(in []int32, t Tick) int32 {
	trigger := at(in, 0)

	if at(in, 1) != 0 {
		o.edge.step(trigger)
		o.state = TimerIdle
		o.accum = 0
		return o.output(0)
	}

	if o.cfg.Mode == TimerStopwatch {
		return o.stopwatch(trigger, t)
	}

	if o.edge.fired(trigger, o.cfg.Trigger) {
		if o.state != TimerRunning || o.cfg.Mode == TimerRetriggerable {
			o.state = TimerRunning
			o.start = t.Seq
		}
	}

	var elapsed time.Duration
	switch o.state {
	case TimerRunning:
		elapsed = t.Since(o.start)
		if elapsed >= o.limit() {
			o.state = TimerExpired
			elapsed = o.limit()
		}
	case TimerExpired:
		elapsed = o.limit()
	}
	return o.output(elapsed)
}

// stopwatch adds one tick period for every tick the trigger was high on
// both this and the previous sample.
func (o *timerOp) stopwatch(trigger int32, t Tick) int32 {
	wasSeeded := o.edge.prev != unseeded
	wasHigh := o.edge.prev == 1
	o.edge.step(trigger)

	high := trigger != 0
	switch {
	case o.state == TimerExpired:
	case high && wasSeeded && wasHigh:
		o.state = TimerRunning
		o.accum += t.Period
	case high:
		o.state = TimerRunning
	default:
		if o.state == TimerRunning {
			o.state = TimerIdle
		}
	}
	if o.cfg.LimitMS > 0 && o.accum >= o.limit() {
		o.accum = o.limit()
		o.state = TimerExpired
	}
	return o.output(o.accum)
}

func (o *timerOp) output(elapsed time.Duration) int32 {
	ms := Saturate(elapsed.Milliseconds())
	if o.cfg.Mode == TimerCountDown {
		return o.cfg.LimitMS - ms
	}
	return ms
}

// State returns the current timer phase.
func (o *timerOp) State() TimerState { return o.state }

func (o *timerOp) Reset() {
	o.edge.reset()
	o.state = TimerIdle
	o.start = 0
	o.accum = 0
}

// Retune accepts a new limit when mode and trigger are unchanged.
func (o *timerOp) Retune(cfg Config) bool {
	c, ok := cfg.(*TimerConfig)
	if !ok || c.Mode != o.cfg.Mode || c.Trigger != o.cfg.Trigger {
		return false
	}
	o.cfg = *c
	return true
}
