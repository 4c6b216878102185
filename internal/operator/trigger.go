package operator

import (
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// Trigger selects which transitions of a level count as an edge.
type Trigger string

// Edge triggers.
const (
	TriggerRising  Trigger = "rising"
	TriggerFalling Trigger = "falling"
	TriggerBoth    Trigger = "both"
)

func (t Trigger) valid() bool {
	return t == TriggerRising || t == TriggerFalling || t == TriggerBoth
}

// unseeded marks a previous sample that has not been taken yet. It lies
// outside the int32 range so no real sample can equal it.
const unseeded int64 = math.MinInt64

// edgeDetector tracks the previous sample of a boolean level. The first
// sample only seeds it and never reports an edge.
type edgeDetector struct {
	prev int64
}

func newEdgeDetector() edgeDetector { return edgeDetector{prev: unseeded} }

func (e *edgeDetector) reset() { e.prev = unseeded }

// step consumes one sample and reports rising and falling transitions.
func (e *edgeDetector) step(v int32) (rising, falling bool) {
	level := v != 0
	if e.prev == unseeded {
		e.prev = int64(b2i(level))
		return false, false
	}
	was := e.prev != 0
	e.prev = int64(b2i(level))
	return level && !was, was && !level
}

// fired reports whether an edge matching t occurred.
func (e *edgeDetector) fired(v int32, t Trigger) bool {
	r, f := e.step(v)
	switch t {
	case TriggerRising:
		return r
	case TriggerFalling:
		return f
	case TriggerBoth:
		return r || f
	}
	return false
}

// ─── Hysteresis ─────────────────────────────────────────────────────

// HysteresisConfig configures a Schmitt trigger: the output goes high when
// in[0] >= High and low when in[0] <= Low, and holds in between.
type HysteresisConfig struct {
	Low    int32 `yaml:"low" json:"low"`
	High   int32 `yaml:"high" json:"high"`
	Invert bool  `yaml:"invert" json:"invert"`
}

func (c *HysteresisConfig) Kind() Kind           { return KindHysteresis }
func (c *HysteresisConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *HysteresisConfig) MinInputs() int       { return 1 }
func (c *HysteresisConfig) MaxInputs() int       { return 1 }

func (c *HysteresisConfig) Validate() error {
	if c.Low >= c.High {
		return fmt.Errorf("%w: hysteresis low %d must be below high %d", ErrInvalidConfig, c.Low, c.High)
	}
	return nil
}

func (c *HysteresisConfig) New() Operator { return &hysteresisOp{cfg: *c} }

type hysteresisOp struct {
	cfg   HysteresisConfig
	state bool
}

func (o *hysteresisOp) Evaluate(in []int32, _ Tick) int32 {
	v := at(in, 0)
	switch {
	case v >= o.cfg.High:
		o.state = true
	case v <= o.cfg.Low:
		o.state = false
	}
	return b2i(o.state != o.cfg.Invert)
}

func (o *hysteresisOp) Reset() { o.state = false }

func (o *hysteresisOp) Retune(cfg Config) bool {
	c, ok := cfg.(*HysteresisConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}

// ─── Latch ──────────────────────────────────────────────────────────

// LatchConfig configures an SR flip-flop: in[0] sets, in[1] resets, reset
// wins when both are high.
type LatchConfig struct{}

func (c *LatchConfig) Kind() Kind           { return KindLatch }
func (c *LatchConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *LatchConfig) MinInputs() int       { return 2 }
func (c *LatchConfig) MaxInputs() int       { return 2 }
func (c *LatchConfig) Validate() error      { return nil }
func (c *LatchConfig) New() Operator        { return &latchOp{} }

type latchOp struct {
	state bool
}

func (o *latchOp) Evaluate(in []int32, _ Tick) int32 {
	if at(in, 1) != 0 {
		o.state = false
	} else if at(in, 0) != 0 {
		o.state = true
	}
	return b2i(o.state)
}

func (o *latchOp) Reset() { o.state = false }

func (o *latchOp) Retune(cfg Config) bool {
	_, ok := cfg.(*LatchConfig)
	return ok
}

// ─── Toggle ─────────────────────────────────────────────────────────

// ToggleConfig configures a T flip-flop: each rising edge of in[0] flips the
// output, a nonzero in[1] forces it low.
type ToggleConfig struct{}

func (c *ToggleConfig) Kind() Kind           { return KindToggle }
func (c *ToggleConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *ToggleConfig) MinInputs() int       { return 1 }
func (c *ToggleConfig) MaxInputs() int       { return 2 }
func (c *ToggleConfig) Validate() error      { return nil }
func (c *ToggleConfig) New() Operator        { return &toggleOp{edge: newEdgeDetector()} }

type toggleOp struct {
	edge  edgeDetector
	state bool
}

func (o *toggleOp) Evaluate(in []int32, _ Tick) int32 {
	rising, _ := o.edge.step(at(in, 0))
	if at(in, 1) != 0 {
		o.state = false
		return 0
	}
	if rising {
		o.state = !o.state
	}
	return b2i(o.state)
}

func (o *toggleOp) Reset() {
	o.edge.reset()
	o.state = false
}

func (o *toggleOp) Retune(cfg Config) bool {
	_, ok := cfg.(*ToggleConfig)
	return ok
}

// ─── Edge ───────────────────────────────────────────────────────────

// EdgeConfig configures a one-tick pulse on a transition of in[0].
type EdgeConfig struct {
	Trigger Trigger `yaml:"trigger" json:"trigger"`
}

func (c *EdgeConfig) Kind() Kind           { return KindEdge }
func (c *EdgeConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *EdgeConfig) MinInputs() int       { return 1 }
func (c *EdgeConfig) MaxInputs() int       { return 1 }

func (c *EdgeConfig) Validate() error {
	if !c.Trigger.valid() {
		return fmt.Errorf("%w: edge trigger %q", ErrInvalidConfig, c.Trigger)
	}
	return nil
}

func (c *EdgeConfig) New() Operator { return &edgeOp{cfg: *c, edge: newEdgeDetector()} }

type edgeOp struct {
	cfg  EdgeConfig
	edge edgeDetector
}

func (o *edgeOp) Evaluate(in []int32, _ Tick) int32 {
	return b2i(o.edge.fired(at(in, 0), o.cfg.Trigger))
}

func (o *edgeOp) Reset() { o.edge.reset() }

func (o *edgeOp) Retune(cfg Config) bool {
	c, ok := cfg.(*EdgeConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}

// ─── Changed ────────────────────────────────────────────────────────

// ChangedConfig configures a one-tick pulse whenever in[0] has moved more
// than Threshold away from the value at the last pulse (or the first sample).
type ChangedConfig struct {
	Threshold int32 `yaml:"threshold" json:"threshold"`
}

func (c *ChangedConfig) Kind() Kind           { return KindChanged }
func (c *ChangedConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *ChangedConfig) MinInputs() int       { return 1 }
func (c *ChangedConfig) MaxInputs() int       { return 1 }

func (c *ChangedConfig) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("%w: changed threshold %d is negative", ErrInvalidConfig, c.Threshold)
	}
	return nil
}

func (c *ChangedConfig) New() Operator { return &changedOp{cfg: *c, ref: unseeded} }

type changedOp struct {
	cfg ChangedConfig
	ref int64
}

func (o *changedOp) Evaluate(in []int32, _ Tick) int32 {
	v := int64(at(in, 0))
	if o.ref == unseeded {
		o.ref = v
		return 0
	}
	d := v - o.ref
	if d < 0 {
		d = -d
	}
	if d > int64(o.cfg.Threshold) {
		o.ref = v
		return 1
	}
	return 0
}

func (o *changedOp) Reset() { o.ref = unseeded }

func (o *changedOp) Retune(cfg Config) bool {
	c, ok := cfg.(*ChangedConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}

// ─── Pulse ──────────────────────────────────────────────────────────

// PulseConfig configures a monostable: a rising edge of in[0] drives the
// output high for DurationMS. With Retrigger an edge while high restarts
// the pulse.
type PulseConfig struct {
	DurationMS int32 `yaml:"duration_ms" json:"duration_ms"`
	Retrigger  bool  `yaml:"retrigger" json:"retrigger"`
}

func (c *PulseConfig) Kind() Kind           { return KindPulse }
func (c *PulseConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *PulseConfig) MinInputs() int       { return 1 }
func (c *PulseConfig) MaxInputs() int       { return 1 }

func (c *PulseConfig) Validate() error {
	if c.DurationMS <= 0 {
		return fmt.Errorf("%w: pulse duration must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *PulseConfig) New() Operator { return &pulseOp{cfg: *c, edge: newEdgeDetector()} }

type pulseOp struct {
	cfg    PulseConfig
	edge   edgeDetector
	active bool
	start  uint64
}

func (o *pulseOp) Evaluate(in []int32, t Tick) int32 {
	if o.edge.fired(at(in, 0), TriggerRising) && (!o.active || o.cfg.Retrigger) {
		o.active = true
		o.start = t.Seq
	}
	if o.active && t.Since(o.start) >= time.Duration(o.cfg.DurationMS)*time.Millisecond {
		o.active = false
	}
	return b2i(o.active)
}

func (o *pulseOp) Reset() {
	o.edge.reset()
	o.active = false
}

func (o *pulseOp) Retune(cfg Config) bool {
	c, ok := cfg.(*PulseConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}

// ─── Flash ──────────────────────────────────────────────────────────

// FlashConfig configures a blinker: while in[0] is nonzero the output is
// high for OnMS then low for OffMS, starting high.
type FlashConfig struct {
	OnMS  int32 `yaml:"on_ms" json:"on_ms"`
	OffMS int32 `yaml:"off_ms" json:"off_ms"`
}

func (c *FlashConfig) Kind() Kind           { return KindFlash }
func (c *FlashConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *FlashConfig) MinInputs() int       { return 1 }
func (c *FlashConfig) MaxInputs() int       { return 1 }

func (c *FlashConfig) Validate() error {
	if c.OnMS <= 0 || c.OffMS <= 0 {
		return fmt.Errorf("%w: flash periods must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *FlashConfig) New() Operator { return &flashOp{cfg: *c} }

type flashOp struct {
	cfg     FlashConfig
	running bool
	start   uint64
}

func (o *flashOp) Evaluate(in []int32, t Tick) int32 {
	if at(in, 0) == 0 {
		o.running = false
		return 0
	}
	if !o.running {
		o.running = true
		o.start = t.Seq
	}
	on := time.Duration(o.cfg.OnMS) * time.Millisecond
	cycle := on + time.Duration(o.cfg.OffMS)*time.Millisecond
	return b2i(t.Since(o.start)%cycle < on)
}

func (o *flashOp) Reset() { o.running = false }

func (o *flashOp) Retune(cfg Config) bool {
	c, ok := cfg.(*FlashConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}
