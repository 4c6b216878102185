package operator

import (
	"fmt"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// MaxInputs is the maximum number of input channels a slot can bind.
const MaxInputs = 8

// Kind identifies an operator type.
type Kind string

// Operator kinds.
const (
	KindLogic      Kind = "logic"
	KindCompare    Kind = "compare"
	KindMath       Kind = "math"
	KindNumber     Kind = "number"
	KindTimer      Kind = "timer"
	KindFilter     Kind = "filter"
	KindHysteresis Kind = "hysteresis"
	KindLatch      Kind = "latch"
	KindToggle     Kind = "toggle"
	KindEdge       Kind = "edge"
	KindChanged    Kind = "changed"
	KindPulse      Kind = "pulse"
	KindFlash      Kind = "flash"
	KindTable      Kind = "table"
	KindPID        Kind = "pid"
)

// Tick is the logical time handed to operators on each evaluation.
//
// Seq increases by exactly one per logic pass; Period is the configured
// logic tick period. Durations are always derived from Seq and Period, never
// from a wall clock.
type Tick struct {
	Seq    uint64
	Period time.Duration
}

// Since returns the logical time elapsed from tick seq to t.
func (t Tick) Since(seq uint64) time.Duration {
	if t.Seq <= seq {
		return 0
	}
	return time.Duration(t.Seq-seq) * t.Period
}

// Config is the tagged parameter block of one operator kind. Each kind has
// its own struct carrying only that kind's parameters.
type Config interface {
	Kind() Kind
	// Class is the virtual channel class the output channel must have.
	Class() channel.Class
	MinInputs() int
	MaxInputs() int
	Validate() error
	// New returns a fresh operator instance. The config must be valid.
	New() Operator
}

// Operator is a configured instance with private runtime state.
type Operator interface {
	// Evaluate computes the output for one tick. in holds the bound input
	// values in binding order; missing inputs read as 0.
	Evaluate(in []int32, t Tick) int32
	// Reset returns the instance to its just-created state.
	Reset()
}

// Retuner is implemented by operators that can accept a new config of the
// same shape while keeping their runtime state. Retune returns false, and
// changes nothing, when the new config changes shape.
type Retuner interface {
	Retune(cfg Config) bool
}

// NewConfig returns a zero config with defaults for kind, ready to be
// decoded into.
func NewConfig(kind Kind) (Config, error) {
	switch kind {
	case KindLogic:
		return &LogicConfig{}, nil
	case KindCompare:
		return &CompareConfig{}, nil
	case KindMath:
		return &MathConfig{Mul: 1, Div: 1}, nil
	case KindNumber:
		return &NumberConfig{}, nil
	case KindTimer:
		return &TimerConfig{Mode: TimerCountUp, Trigger: TriggerRising}, nil
	case KindFilter:
		return &FilterConfig{Window: 1}, nil
	case KindHysteresis:
		return &HysteresisConfig{}, nil
	case KindLatch:
		return &LatchConfig{}, nil
	case KindToggle:
		return &ToggleConfig{}, nil
	case KindEdge:
		return &EdgeConfig{Trigger: TriggerRising}, nil
	case KindChanged:
		return &ChangedConfig{}, nil
	case KindPulse:
		return &PulseConfig{}, nil
	case KindFlash:
		return &FlashConfig{}, nil
	case KindTable:
		return &TableConfig{}, nil
	case KindPID:
		return &PIDConfig{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Kinds returns every operator kind.
func Kinds() []Kind {
	return []Kind{
		KindLogic, KindCompare, KindMath, KindNumber, KindTimer, KindFilter,
		KindHysteresis, KindLatch, KindToggle, KindEdge, KindChanged,
		KindPulse, KindFlash, KindTable, KindPID,
	}
}

// ValidateBinding checks a config together with the number of inputs bound
// to it.
func ValidateBinding(cfg Config, inputs int) error {
	if cfg == nil {
		return fmt.Errorf("%w: missing config", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if inputs < cfg.MinInputs() || inputs > cfg.MaxInputs() || inputs > MaxInputs {
		return fmt.Errorf("%w: %s takes %d..%d inputs, got %d",
			ErrInputCount, cfg.Kind(), cfg.MinInputs(), cfg.MaxInputs(), inputs)
	}
	return nil
}

// at returns in[i], or 0 when the input is not bound.
func at(in []int32, i int) int32 {
	if i < len(in) {
		return in[i]
	}
	return 0
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
