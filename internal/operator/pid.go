package operator

import (
	"fmt"
	"math"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// PIDConfig configures a PID controller.
//
// in[0] is the process variable, in[1] the setpoint (Setpoint when unbound)
// and a nonzero in[2] holds the controller in reset. Reversed negates the
// error for cooling loops. DerivativeAlpha in [0, 1) smooths the derivative
// term; 0 disables smoothing. The integral term is kept within [Min, Max].
type PIDConfig struct {
	Kp              float64 `yaml:"kp" json:"kp"`
	Ki              float64 `yaml:"ki" json:"ki"`
	Kd              float64 `yaml:"kd" json:"kd"`
	Setpoint        int32   `yaml:"setpoint" json:"setpoint"`
	Min             int32   `yaml:"min" json:"min"`
	Max             int32   `yaml:"max" json:"max"`
	Reversed        bool    `yaml:"reversed" json:"reversed"`
	DerivativeAlpha float64 `yaml:"derivative_alpha" json:"derivative_alpha"`
}

func (c *PIDConfig) Kind() Kind           { return KindPID }
func (c *PIDConfig) Class() channel.Class { return channel.ClassVirtualPID }
func (c *PIDConfig) MinInputs() int       { return 1 }
func (c *PIDConfig) MaxInputs() int       { return 3 }

func (c *PIDConfig) Validate() error {
	if c.Min >= c.Max {
		return fmt.Errorf("%w: pid min %d must be below max %d", ErrInvalidConfig, c.Min, c.Max)
	}
	for name, g := range map[string]float64{"kp": c.Kp, "ki": c.Ki, "kd": c.Kd} {
		if math.IsNaN(g) || math.IsInf(g, 0) || g < 0 {
			return fmt.Errorf("%w: pid gain %s = %v", ErrInvalidConfig, name, g)
		}
	}
	if c.DerivativeAlpha < 0 || c.DerivativeAlpha >= 1 {
		return fmt.Errorf("%w: pid derivative_alpha %v outside [0, 1)", ErrInvalidConfig, c.DerivativeAlpha)
	}
	return nil
}

func (c *PIDConfig) New() Operator { return &pidOp{cfg: *c} }

type pidOp struct {
	cfg PIDConfig

	seeded    bool
	integral  float64
	prevErr   float64
	prevDeriv float64
	saturated bool
}

func (o *pidOp) Evaluate(in []int32, t Tick) int32 {
	if at(in, 2) != 0 {
		o.Reset()
		return Clamp(0, o.cfg.Min, o.cfg.Max)
	}

	sp := o.cfg.Setpoint
	if len(in) > 1 {
		sp = in[1]
	}
	e := float64(sp) - float64(at(in, 0))
	if o.cfg.Reversed {
		e = -e
	}

	dt := t.Period.Seconds()
	if !o.seeded {
		o.seeded = true
		o.prevErr = e
	}

	var deriv float64
	if dt > 0 {
		deriv = (e - o.prevErr) / dt
	}
	deriv = o.cfg.DerivativeAlpha*o.prevDeriv + (1-o.cfg.DerivativeAlpha)*deriv
	o.prevDeriv = deriv
	o.prevErr = e

	lo, hi := float64(o.cfg.Min), float64(o.cfg.Max)
	p := o.cfg.Kp * e
	d := o.cfg.Kd * deriv

	// Conditional integration: freeze while the output is pinned and the
	// error pushes further into the same limit.
	pre := p + o.integral + d
	pushingUp := pre >= hi && e > 0
	pushingDown := pre <= lo && e < 0
	if !pushingUp && !pushingDown {
		o.integral += o.cfg.Ki * e * dt
		o.integral = max(lo, min(hi, o.integral))
	}

	out := p + o.integral + d
	o.saturated = out >= hi || out <= lo
	return Clamp(roundSat(out), o.cfg.Min, o.cfg.Max)
}

// Integral returns the accumulated integral term in output units.
func (o *pidOp) Integral() float64 { return o.integral }

// Saturated reports whether the last output was at a limit.
func (o *pidOp) Saturated() bool { return o.saturated }

func (o *pidOp) Reset() {
	o.seeded = false
	o.integral = 0
	o.prevErr = 0
	o.prevDeriv = 0
	o.saturated = false
}

// Retune accepts new gains and limits, keeping the accumulated state.
func (o *pidOp) Retune(cfg Config) bool {
	c, ok := cfg.(*PIDConfig)
	if !ok {
		return false
	}
	o.cfg = *c
	o.integral = max(float64(c.Min), min(float64(c.Max), o.integral))
	return true
}
