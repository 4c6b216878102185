package operator

import (
	"fmt"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// MaxBreakpoints bounds each table axis.
const MaxBreakpoints = 16

// TableConfig configures a 1D or 2D lookup table.
//
// 1D: Values[i] is the output at X[i]; input is in[0].
// 2D: Values[j*len(X)+i] is the output at (X[i], Y[j]); inputs are in[0]
// and in[1]. Inputs outside the breakpoints are clamped to the outer
// breakpoints unless Extrapolate is set.
type TableConfig struct {
	X           []int32 `yaml:"x" json:"x"`
	Y           []int32 `yaml:"y,omitempty" json:"y,omitempty"`
	Values      []int32 `yaml:"values" json:"values"`
	Extrapolate bool    `yaml:"extrapolate" json:"extrapolate"`
}

// TwoD reports whether the table has a second axis.
func (c *TableConfig) TwoD() bool { return len(c.Y) > 0 }

func (c *TableConfig) Kind() Kind           { return KindTable }
func (c *TableConfig) Class() channel.Class { return channel.ClassVirtualTable }

func (c *TableConfig) MinInputs() int {
	if c.TwoD() {
		return 2
	}
	return 1
}

func (c *TableConfig) MaxInputs() int { return c.MinInputs() }

func (c *TableConfig) Validate() error {
	if err := validateAxis("x", c.X); err != nil {
		return err
	}
	want := len(c.X)
	if c.TwoD() {
		if err := validateAxis("y", c.Y); err != nil {
			return err
		}
		want = len(c.X) * len(c.Y)
	}
	if len(c.Values) != want {
		return fmt.Errorf("%w: table has %d values, want %d", ErrInvalidConfig, len(c.Values), want)
	}
	return nil
}

func validateAxis(name string, axis []int32) error {
	if len(axis) < 2 || len(axis) > MaxBreakpoints {
		return fmt.Errorf("%w: table axis %s needs 2..%d breakpoints, got %d",
			ErrInvalidConfig, name, MaxBreakpoints, len(axis))
	}
	for i := 1; i < len(axis); i++ {
		if axis[i] <= axis[i-1] {
			return fmt.Errorf("%w: table axis %s not strictly ascending at %d", ErrInvalidConfig, name, i)
		}
	}
	return nil
}

func (c *TableConfig) New() Operator {
	cp := *c
	cp.X = append([]int32(nil), c.X...)
	cp.Y = append([]int32(nil), c.Y...)
	cp.Values = append([]int32(nil), c.Values...)
	return &tableOp{cfg: cp}
}

type tableOp struct {
	cfg TableConfig
}

func (o *tableOp) Evaluate(in []int32, _ Tick) int32 {
	x := at(in, 0)
	if !o.cfg.TwoD() {
		i, f := locate(o.cfg.X, x, o.cfg.Extrapolate)
		return roundSat(lerp(float64(o.cfg.Values[i]), float64(o.cfg.Values[i+1]), f))
	}

	y := at(in, 1)
	nx := len(o.cfg.X)
	i, fx := locate(o.cfg.X, x, o.cfg.Extrapolate)
	j, fy := locate(o.cfg.Y, y, o.cfg.Extrapolate)
	v := func(ii, jj int) float64 { return float64(o.cfg.Values[jj*nx+ii]) }

	lo := lerp(v(i, j), v(i+1, j), fx)
	hi := lerp(v(i, j+1), v(i+1, j+1), fx)
	return roundSat(lerp(lo, hi, fy))
}

// locate returns the segment index i (so axis[i]..axis[i+1] brackets v) and
// the fractional position within it. Without extrapolation the fraction is
// clamped to [0, 1].
func locate(axis []int32, v int32, extrapolate bool) (int, float64) {
	i := 0
	for i < len(axis)-2 && v >= axis[i+1] {
		i++
	}
	span := float64(axis[i+1]) - float64(axis[i])
	f := (float64(v) - float64(axis[i])) / span
	if !extrapolate {
		f = max(0, min(1, f))
	}
	return i, f
}

func lerp(a, b, f float64) float64 { return a + (b-a)*f }

func (o *tableOp) Reset() {}

func (o *tableOp) Retune(cfg Config) bool {
	c, ok := cfg.(*TableConfig)
	if !ok {
		return false
	}
	o.cfg = c.New().(*tableOp).cfg
	return true
}
