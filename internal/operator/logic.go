package operator

import (
	"fmt"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// LogicOp is a boolean function over the inputs. Nonzero reads as true.
type LogicOp string

// Logic functions.
const (
	LogicAnd  LogicOp = "and"
	LogicOr   LogicOp = "or"
	LogicXor  LogicOp = "xor"
	LogicNot  LogicOp = "not"
	LogicNand LogicOp = "nand"
	LogicNor  LogicOp = "nor"
)

// LogicConfig configures a boolean gate. Xor is true for an odd number of
// true inputs. Not uses only the first input.
type LogicConfig struct {
	Op LogicOp `yaml:"op" json:"op"`
}

func (c *LogicConfig) Kind() Kind           { return KindLogic }
func (c *LogicConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *LogicConfig) MinInputs() int       { return 1 }

func (c *LogicConfig) MaxInputs() int {
	if c.Op == LogicNot {
		return 1
	}
	return MaxInputs
}

func (c *LogicConfig) Validate() error {
	switch c.Op {
	case LogicAnd, LogicOr, LogicXor, LogicNot, LogicNand, LogicNor:
		return nil
	}
	return fmt.Errorf("%w: logic op %q", ErrInvalidConfig, c.Op)
}

func (c *LogicConfig) New() Operator { return &logicOp{cfg: *c} }

type logicOp struct {
	cfg LogicConfig
}

func (o *logicOp) Evaluate(in []int32, _ Tick) int32 {
	trues := 0
	for _, v := range in {
		if v != 0 {
			trues++
		}
	}
	allTrue := trues == len(in) && len(in) > 0
	anyTrue := trues > 0

	switch o.cfg.Op {
	case LogicAnd:
		return b2i(allTrue)
	case LogicOr:
		return b2i(anyTrue)
	case LogicXor:
		return b2i(trues%2 == 1)
	case LogicNot:
		return b2i(at(in, 0) == 0)
	case LogicNand:
		return b2i(!allTrue)
	case LogicNor:
		return b2i(!anyTrue)
	}
	return 0
}

func (o *logicOp) Reset() {}

func (o *logicOp) Retune(cfg Config) bool {
	c, ok := cfg.(*LogicConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}

// CompareOp is a comparison of the first input against a reference.
type CompareOp string

// Comparisons.
const (
	CompareEq      CompareOp = "eq"
	CompareNe      CompareOp = "ne"
	CompareGt      CompareOp = "gt"
	CompareGe      CompareOp = "ge"
	CompareLt      CompareOp = "lt"
	CompareLe      CompareOp = "le"
	CompareInRange CompareOp = "in_range"
)

// CompareConfig configures a comparison. The reference is the second input
// when bound, otherwise Constant. in_range tests Low <= in[0] <= High.
type CompareConfig struct {
	Op       CompareOp `yaml:"op" json:"op"`
	Constant int32     `yaml:"constant" json:"constant"`
	Low      int32     `yaml:"low" json:"low"`
	High     int32     `yaml:"high" json:"high"`
}

func (c *CompareConfig) Kind() Kind           { return KindCompare }
func (c *CompareConfig) Class() channel.Class { return channel.ClassVirtualLogic }
func (c *CompareConfig) MinInputs() int       { return 1 }

func (c *CompareConfig) MaxInputs() int {
	if c.Op == CompareInRange {
		return 1
	}
	return 2
}

func (c *CompareConfig) Validate() error {
	switch c.Op {
	case CompareEq, CompareNe, CompareGt, CompareGe, CompareLt, CompareLe:
		return nil
	case CompareInRange:
		if c.Low > c.High {
			return fmt.Errorf("%w: in_range low %d > high %d", ErrInvalidConfig, c.Low, c.High)
		}
		return nil
	}
	return fmt.Errorf("%w: compare op %q", ErrInvalidConfig, c.Op)
}

func (c *CompareConfig) New() Operator { return &compareOp{cfg: *c} }

type compareOp struct {
	cfg CompareConfig
}

func (o *compareOp) Evaluate(in []int32, _ Tick) int32 {
	a := at(in, 0)
	b := o.cfg.Constant
	if len(in) > 1 {
		b = in[1]
	}
	switch o.cfg.Op {
	case CompareEq:
		return b2i(a == b)
	case CompareNe:
		return b2i(a != b)
	case CompareGt:
		return b2i(a > b)
	case CompareGe:
		return b2i(a >= b)
	case CompareLt:
		return b2i(a < b)
	case CompareLe:
		return b2i(a <= b)
	case CompareInRange:
		return b2i(a >= o.cfg.Low && a <= o.cfg.High)
	}
	return 0
}

func (o *compareOp) Reset() {}

func (o *compareOp) Retune(cfg Config) bool {
	c, ok := cfg.(*CompareConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	return true
}
