package operator

import (
	"fmt"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// MathOp is an arithmetic function over the inputs.
type MathOp string

// Arithmetic functions. All are computed in int64 and saturated to int32.
const (
	MathAdd   MathOp = "add"
	MathSub   MathOp = "sub"
	MathMul   MathOp = "mul"
	MathDiv   MathOp = "div"
	MathMod   MathOp = "mod"
	MathMin   MathOp = "min"
	MathMax   MathOp = "max"
	MathAbs   MathOp = "abs"
	MathNeg   MathOp = "neg"
	MathAvg   MathOp = "avg"
	MathClamp MathOp = "clamp"
	MathScale MathOp = "scale"
)

// MathConfig configures an arithmetic operator.
//
// sub subtracts every later input from the first. clamp limits in[0] to
// [Min, Max]. scale computes in[0]*Mul/Div + Offset.
type MathConfig struct {
	Op     MathOp `yaml:"op" json:"op"`
	Min    int32  `yaml:"min" json:"min"`
	Max    int32  `yaml:"max" json:"max"`
	Mul    int32  `yaml:"mul" json:"mul"`
	Div    int32  `yaml:"div" json:"div"`
	Offset int32  `yaml:"offset" json:"offset"`
}

func (c *MathConfig) Kind() Kind           { return KindMath }
func (c *MathConfig) Class() channel.Class { return channel.ClassVirtualNumber }

func (c *MathConfig) MinInputs() int {
	switch c.Op {
	case MathSub, MathDiv, MathMod:
		return 2
	}
	return 1
}

func (c *MathConfig) MaxInputs() int {
	switch c.Op {
	case MathDiv, MathMod:
		return 2
	case MathAbs, MathNeg, MathClamp, MathScale:
		return 1
	}
	return MaxInputs
}

func (c *MathConfig) Validate() error {
	switch c.Op {
	case MathAdd, MathSub, MathMul, MathDiv, MathMod, MathMin, MathMax,
		MathAbs, MathNeg, MathAvg:
		return nil
	case MathClamp:
		if c.Min > c.Max {
			return fmt.Errorf("%w: clamp min %d > max %d", ErrInvalidConfig, c.Min, c.Max)
		}
		return nil
	case MathScale:
		if c.Div == 0 {
			return fmt.Errorf("%w: scale divisor is zero", ErrInvalidConfig)
		}
		return nil
	}
	return fmt.Errorf("%w: math op %q", ErrInvalidConfig, c.Op)
}

func (c *MathConfig) New() Operator { return &mathOp{cfg: *c} }

type mathOp struct {
	cfg MathConfig
}

func (o *mathOp) Evaluate(in []int32, _ Tick) int32 {
	if len(in) == 0 {
		return 0
	}
	a := int64(in[0])

	switch o.cfg.Op {
	case MathAdd:
		var sum int64
		for _, v := range in {
			sum += int64(v)
		}
		return Saturate(sum)
	case MathSub:
		for _, v := range in[1:] {
			a -= int64(v)
		}
		return Saturate(a)
	case MathMul:
		// Saturating after each step keeps the product inside int64.
		for _, v := range in[1:] {
			a = int64(Saturate(a * int64(v)))
		}
		return Saturate(a)
	case MathDiv:
		return Div(in[0], at(in, 1))
	case MathMod:
		return Mod(in[0], at(in, 1))
	case MathMin:
		m := in[0]
		for _, v := range in[1:] {
			m = min(m, v)
		}
		return m
	case MathMax:
		m := in[0]
		for _, v := range in[1:] {
			m = max(m, v)
		}
		return m
	case MathAbs:
		if a < 0 {
			a = -a
		}
		return Saturate(a)
	case MathNeg:
		return Saturate(-a)
	case MathAvg:
		var sum int64
		for _, v := range in {
			sum += int64(v)
		}
		return Saturate(sum / int64(len(in)))
	case MathClamp:
		return Clamp(in[0], o.cfg.Min, o.cfg.Max)
	case MathScale:
		return Saturate(a*int64(o.cfg.Mul)/int64(o.cfg.Div) + int64(o.cfg.Offset))
	}
	return 0
}

func (o *mathOp) Reset() {}

func (o *mathOp) Retune(cfg Config) bool {
	c, ok := cfg.(*MathConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}

// NumberMode selects between a constant and a passthrough of in[0].
type NumberMode string

// Number modes.
const (
	NumberConstant    NumberMode = "constant"
	NumberPassthrough NumberMode = "passthrough"
)

// NumberConfig configures a number channel.
type NumberConfig struct {
	Mode  NumberMode `yaml:"mode" json:"mode"`
	Value int32      `yaml:"value" json:"value"`
}

func (c *NumberConfig) Kind() Kind           { return KindNumber }
func (c *NumberConfig) Class() channel.Class { return channel.ClassVirtualNumber }

func (c *NumberConfig) MinInputs() int {
	if c.Mode == NumberPassthrough {
		return 1
	}
	return 0
}

func (c *NumberConfig) MaxInputs() int { return c.MinInputs() }

func (c *NumberConfig) Validate() error {
	switch c.Mode {
	case NumberConstant, NumberPassthrough:
		return nil
	}
	return fmt.Errorf("%w: number mode %q", ErrInvalidConfig, c.Mode)
}

func (c *NumberConfig) New() Operator { return &numberOp{cfg: *c} }

type numberOp struct {
	cfg NumberConfig
}

func (o *numberOp) Evaluate(in []int32, _ Tick) int32 {
	if o.cfg.Mode == NumberPassthrough {
		return at(in, 0)
	}
	return o.cfg.Value
}

func (o *numberOp) Reset() {}

func (o *numberOp) Retune(cfg Config) bool {
	c, ok := cfg.(*NumberConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}
