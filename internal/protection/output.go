package protection

import (
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/operator"
)

// FullDuty is the per-mille duty of a fully on output.
const FullDuty = 1000

// MaxRetryCount bounds OutputConfig.RetryCount and BridgeConfig.RetryCount.
const MaxRetryCount = 255

// OutputConfig holds the protection parameters of one power output.
type OutputConfig struct {
	// Index is the output index; the command channel is 100+Index.
	Index int `json:"index"`

	// Source, when set, is read as the command instead of the output
	// channel, and the command is mirrored into the output channel.
	Source *channel.ID `json:"source,omitempty"`

	CurrentLimitMA int32 `json:"current_limit_ma"`
	// InrushLimitMA replaces CurrentLimitMA during soft start. 0 uses
	// CurrentLimitMA.
	InrushLimitMA int32 `json:"inrush_limit_ma,omitempty"`
	SoftStartMS   int32 `json:"soft_start_ms,omitempty"`

	// PWM treats the command as a per-mille duty. Without it any nonzero
	// command drives full duty.
	PWM bool `json:"pwm,omitempty"`

	RetryCount   int   `json:"retry_count"`
	RetryForever bool  `json:"retry_forever,omitempty"`
	RetryDelayMS int32 `json:"retry_delay_ms,omitempty"`
	// RetryResetMS is the healthy on-time after which the retry counter
	// returns to zero. 0 never resets it.
	RetryResetMS int32 `json:"retry_reset_ms,omitempty"`

	// OpenLoadMA enables open-load detection: current below it for
	// OpenLoadMS while on trips the output.
	OpenLoadMA int32 `json:"open_load_ma,omitempty"`
	OpenLoadMS int32 `json:"open_load_ms,omitempty"`
}

// Validate checks the parameters.
func (c OutputConfig) Validate() error {
	var errs []error
	if c.Index < 0 || c.Index >= channel.MaxPowerOutputs {
		return fmt.Errorf("%w: output %d", ErrInvalidIndex, c.Index)
	}
	if c.Source != nil && int(*c.Source) >= channel.MaxID {
		errs = append(errs, fmt.Errorf("source %d beyond table", *c.Source))
	}
	if c.CurrentLimitMA <= 0 {
		errs = append(errs, errors.New("current_limit_ma must be positive"))
	}
	if c.InrushLimitMA < 0 || c.SoftStartMS < 0 || c.RetryDelayMS < 0 ||
		c.RetryResetMS < 0 || c.OpenLoadMA < 0 || c.OpenLoadMS < 0 {
		errs = append(errs, errors.New("limits and durations must not be negative"))
	}
	if c.RetryCount < 0 || c.RetryCount > MaxRetryCount {
		errs = append(errs, fmt.Errorf("retry_count must be 0..%d", MaxRetryCount))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: output %d: %w", ErrInvalidConfig, c.Index, errors.Join(errs...))
	}
	return nil
}

// OutputInfo is a snapshot of one power output machine.
type OutputInfo struct {
	Index     int       `json:"index"`
	State     State     `json:"state"`
	Fault     FaultCode `json:"fault"`
	Latched   bool      `json:"latched"`
	Target    int32     `json:"target_duty"`
	Duty      int32     `json:"duty"`
	CurrentMA int32     `json:"current_ma"`
	Retries   int       `json:"retries"`
	Trips     uint64    `json:"trips"`
}

// output is the runtime state of one power output.
type output struct {
	cfg OutputConfig

	state   State
	fault   FaultCode
	latched bool
	target  int32
	duty    int32
	current int32
	retries int
	trips   uint64

	entered    uint64 // tick seq the current state was entered
	lowSince   uint64
	low        bool
	faultShown bool // fault flag last written to the output channel
}

func newOutput(cfg OutputConfig) *output { return &output{cfg: cfg} }

func (o *output) commandID() channel.ID { return channel.PowerOutputID(o.cfg.Index) }

func (o *output) enter(s State, t operator.Tick) {
	o.state = s
	o.entered = t.Seq
	o.low = false
}

func (o *output) goOff(t operator.Tick) {
	o.enter(StateOff, t)
	o.fault = FaultNone
	o.latched = false
	o.duty = 0
	o.target = 0
}

// command reads the commanded duty.
func (o *output) command(ch Channels) int32 {
	var cmd int32
	if o.cfg.Source != nil {
		cmd = ch.Get(*o.cfg.Source)
		ch.Store(o.commandID(), cmd)
	} else {
		cmd = ch.Get(o.commandID())
	}
	switch {
	case cmd == 0:
		return 0
	case o.cfg.PWM:
		return operator.Clamp(cmd, 0, FullDuty)
	default:
		return FullDuty
	}
}

// detect returns the fault present in this pass's measurements.
func (o *output) detect(current, diag int32, t operator.Tick) FaultCode {
	limit := o.cfg.CurrentLimitMA
	if o.state == StateSoftStart && o.cfg.InrushLimitMA > 0 {
		limit = o.cfg.InrushLimitMA
	}
	switch {
	case diag&hal.DiagShort != 0:
		return FaultShort
	case current > limit:
		return FaultOvercurrent
	case diag&hal.DiagOvertemp != 0:
		return FaultOvertemp
	}
	if o.state != StateOn {
		return FaultNone
	}
	if diag&hal.DiagOpenLoad != 0 {
		return FaultOpenLoad
	}
	if o.cfg.OpenLoadMA > 0 && current < o.cfg.OpenLoadMA {
		if !o.low {
			o.low = true
			o.lowSince = t.Seq
		}
		if t.Since(o.lowSince) >= ms(o.cfg.OpenLoadMS) {
			return FaultOpenLoad
		}
	} else {
		o.low = false
	}
	return FaultNone
}

// trip moves the output to fault, latching it when the retry budget is spent.
func (o *output) trip(f FaultCode, t operator.Tick) {
	o.enter(StateFault, t)
	o.fault = f
	o.duty = 0
	o.trips++
	o.latched = !o.cfg.RetryForever && o.retries >= o.cfg.RetryCount
}

// step advances the machine by one protection pass and returns the fault
// it tripped on, if any.
func (o *output) step(ch Channels, t operator.Tick) FaultCode {
	target := o.command(ch)
	o.current = ch.Get(channel.SubChannel(channel.CurrentBase, o.cfg.Index))
	diag := ch.Get(channel.SubChannel(channel.DiagBase, o.cfg.Index))

	switch o.state {
	case StateOff:
		if target > 0 {
			o.enter(StateSoftStart, t)
		}
	case StateFault:
		switch {
		case o.latched:
		case target == 0:
			o.goOff(t)
		default:
			o.enter(StateRetryWait, t)
		}
	case StateRetryWait:
		switch {
		case target == 0:
			o.goOff(t)
		case t.Since(o.entered) >= ms(o.cfg.RetryDelayMS):
			o.retries++
			o.fault = FaultNone
			o.enter(StateSoftStart, t)
		}
	}

	if o.state != StateSoftStart && o.state != StateOn {
		return FaultNone
	}
	if target == 0 {
		o.goOff(t)
		return FaultNone
	}
	o.target = target
	if f := o.detect(o.current, diag, t); f != FaultNone {
		o.trip(f, t)
		return f
	}

	if o.state == StateSoftStart {
		soft := ms(o.cfg.SoftStartMS)
		elapsed := t.Since(o.entered)
		if soft <= 0 || elapsed >= soft {
			o.enter(StateOn, t)
		} else {
			o.duty = int32(int64(target) * int64(elapsed) / int64(soft))
			return FaultNone
		}
	}

	o.duty = target
	if o.cfg.RetryResetMS > 0 && o.retries > 0 && t.Since(o.entered) >= ms(o.cfg.RetryResetMS) {
		o.retries = 0
	}
	return FaultNone
}

// publish writes status, duty and active sub-channels and the output's
// fault flag.
func (o *output) publish(ch Channels) {
	i := o.cfg.Index
	ch.Store(channel.SubChannel(channel.StatusBase, i), EncodeStatus(o.status()))
	ch.Store(channel.SubChannel(channel.DutyBase, i), o.duty)
	ch.Store(channel.SubChannel(channel.ActiveBase, i), b2i(o.duty > 0))

	faulted := o.state == StateFault
	if faulted != o.faultShown {
		if err := ch.SetFault(o.commandID(), faulted); err == nil {
			o.faultShown = faulted
		}
	}
}

func (o *output) status() Status {
	return Status{State: o.state, Fault: o.fault, Latched: o.latched}
}

func (o *output) info() OutputInfo {
	return OutputInfo{
		Index:     o.cfg.Index,
		State:     o.state,
		Fault:     o.fault,
		Latched:   o.latched,
		Target:    o.target,
		Duty:      o.duty,
		CurrentMA: o.current,
		Retries:   o.retries,
		Trips:     o.trips,
	}
}

func ms(v int32) time.Duration { return time.Duration(v) * time.Millisecond }

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
