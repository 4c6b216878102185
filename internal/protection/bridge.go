package protection

import (
	"errors"
	"fmt"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/operator"
)

// BridgeConfig holds the protection parameters of one H-bridge.
type BridgeConfig struct {
	// Index is the bridge index; its command channel is 150+2*Index and
	// its status channel 151+2*Index.
	Index int `json:"index"`

	CurrentLimitMA int32 `json:"current_limit_ma"`
	// DeadTimeMS is the all-off interval between two driven states.
	DeadTimeMS int32 `json:"dead_time_ms"`
	// BrakeOnZero brakes instead of coasting when the command is 0.
	BrakeOnZero bool `json:"brake_on_zero,omitempty"`

	RetryCount   int   `json:"retry_count"`
	RetryForever bool  `json:"retry_forever,omitempty"`
	RetryDelayMS int32 `json:"retry_delay_ms,omitempty"`
	RetryResetMS int32 `json:"retry_reset_ms,omitempty"`
}

// Validate checks the parameters.
func (c BridgeConfig) Validate() error {
	var errs []error
	if c.Index < 0 || c.Index >= channel.MaxHBridges {
		return fmt.Errorf("%w: bridge %d", ErrInvalidIndex, c.Index)
	}
	if c.CurrentLimitMA <= 0 {
		errs = append(errs, errors.New("current_limit_ma must be positive"))
	}
	if c.DeadTimeMS < 0 || c.RetryDelayMS < 0 || c.RetryResetMS < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	if c.RetryCount < 0 || c.RetryCount > MaxRetryCount {
		errs = append(errs, fmt.Errorf("retry_count must be 0..%d", MaxRetryCount))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: bridge %d: %w", ErrInvalidConfig, c.Index, errors.Join(errs...))
	}
	return nil
}

// BridgeInfo is a snapshot of one H-bridge machine.
type BridgeInfo struct {
	Index     int         `json:"index"`
	State     BridgeState `json:"state"`
	Fault     FaultCode   `json:"fault"`
	Latched   bool        `json:"latched"`
	Command   int32       `json:"command"`
	Duty      int32       `json:"duty"`
	CurrentMA int32       `json:"current_ma"`
	Retries   int         `json:"retries"`
	Trips     uint64      `json:"trips"`
}

type bridge struct {
	cfg BridgeConfig

	state   BridgeState
	fault   FaultCode
	latched bool
	command int32
	duty    int32
	current int32
	retries int
	trips   uint64

	entered    uint64
	faultShown bool

	// lastDriven is the most recent driven state and left the tick it was
	// left on. A different driven state may only follow once the dead time
	// has run from left, whatever states came in between.
	lastDriven BridgeState
	left       uint64
}

func newBridge(cfg BridgeConfig) *bridge { return &bridge{cfg: cfg} }

func (b *bridge) enter(s BridgeState, t operator.Tick) {
	if driven(b.state) && s != b.state {
		b.lastDriven = b.state
		b.left = t.Seq
	}
	b.state = s
	b.entered = t.Seq
}

// deadTimeDone reports whether the bridge may switch into the driven state
// s at tick t.
func (b *bridge) deadTimeDone(s BridgeState, t operator.Tick) bool {
	if b.cfg.DeadTimeMS == 0 {
		return true
	}
	if driven(b.state) {
		return b.state == s
	}
	if !driven(b.lastDriven) || b.lastDriven == s {
		return true
	}
	return t.Since(b.left) >= ms(b.cfg.DeadTimeMS)
}

func (b *bridge) goCoast(t operator.Tick) {
	b.enter(BridgeCoast, t)
	b.fault = FaultNone
	b.latched = false
}

// driven reports whether s actively switches the bridge.
func driven(s BridgeState) bool {
	return s == BridgeForward || s == BridgeReverse || s == BridgeBrake
}

// desired maps a command to the settled state it asks for.
func (b *bridge) desired(cmd int32) BridgeState {
	switch {
	case cmd > 0:
		return BridgeForward
	case cmd < 0:
		return BridgeReverse
	case b.cfg.BrakeOnZero:
		return BridgeBrake
	default:
		return BridgeCoast
	}
}

func (b *bridge) trip(f FaultCode, t operator.Tick) {
	b.enter(BridgeFault, t)
	b.fault = f
	b.trips++
	b.latched = !b.cfg.RetryForever && b.retries >= b.cfg.RetryCount
}

// step advances the bridge by one protection pass.
func (b *bridge) step(ch Channels, t operator.Tick) FaultCode {
	b.command = operator.Clamp(ch.Get(channel.BridgeCommandID(b.cfg.Index)), -FullDuty, FullDuty)
	b.current = ch.Get(channel.SysBridgeCurrent + channel.ID(b.cfg.Index))
	diag := ch.Get(channel.SysBridgeDiag + channel.ID(b.cfg.Index))
	want := b.desired(b.command)

	switch b.state {
	case BridgeFault:
		switch {
		case b.latched:
		case b.command == 0:
			b.goCoast(t)
		default:
			b.enter(BridgeRetryWait, t)
		}
	case BridgeRetryWait:
		switch {
		case b.command == 0:
			b.goCoast(t)
		case t.Since(b.entered) >= ms(b.cfg.RetryDelayMS):
			b.retries++
			b.fault = FaultNone
			b.enter(BridgeCoast, t)
		}
	case BridgeDeadTime:
		if !driven(want) || b.deadTimeDone(want, t) {
			b.enter(want, t)
		}
	}

	if b.state == BridgeFault || b.state == BridgeRetryWait || b.state == BridgeDeadTime {
		b.duty = 0
		return FaultNone
	}

	if want != b.state {
		if driven(want) && !b.deadTimeDone(want, t) {
			b.enter(BridgeDeadTime, t)
			b.duty = 0
			return FaultNone
		}
		b.enter(want, t)
	}

	if driven(b.state) {
		f := FaultNone
		switch {
		case diag&hal.DiagShort != 0:
			f = FaultShort
		case b.current > b.cfg.CurrentLimitMA || b.current < -b.cfg.CurrentLimitMA:
			f = FaultOvercurrent
		case diag&hal.DiagOvertemp != 0:
			f = FaultOvertemp
		}
		if f != FaultNone {
			b.trip(f, t)
			b.duty = 0
			return f
		}
	}

	switch b.state {
	case BridgeForward, BridgeReverse:
		b.duty = max(b.command, -b.command)
	default:
		b.duty = 0
	}
	if b.cfg.RetryResetMS > 0 && b.retries > 0 && driven(b.state) &&
		t.Since(b.entered) >= ms(b.cfg.RetryResetMS) {
		b.retries = 0
	}
	return FaultNone
}

// drive returns the adapter mode for the current state.
func (b *bridge) drive() (hal.BridgeMode, int32) {
	switch b.state {
	case BridgeForward:
		return hal.BridgeForward, b.duty
	case BridgeReverse:
		return hal.BridgeReverse, b.duty
	case BridgeBrake:
		return hal.BridgeBrake, 0
	}
	return hal.BridgeCoast, 0
}

func (b *bridge) status() BridgeStatus {
	return BridgeStatus{State: b.state, Fault: b.fault, Latched: b.latched}
}

func (b *bridge) publish(ch Channels) {
	ch.Store(channel.BridgeStatusID(b.cfg.Index), EncodeBridgeStatus(b.status()))

	faulted := b.state == BridgeFault
	if faulted != b.faultShown {
		if err := ch.SetFault(channel.BridgeCommandID(b.cfg.Index), faulted); err == nil {
			b.faultShown = faulted
		}
	}
}

func (b *bridge) info() BridgeInfo {
	return BridgeInfo{
		Index:     b.cfg.Index,
		State:     b.state,
		Fault:     b.fault,
		Latched:   b.latched,
		Command:   b.command,
		Duty:      b.duty,
		CurrentMA: b.current,
		Retries:   b.retries,
		Trips:     b.trips,
	}
}
