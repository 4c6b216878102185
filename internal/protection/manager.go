package protection

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/operator"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Channels is the registry surface used by protection.
// *channel.Registry satisfies it.
type Channels interface {
	Get(id channel.ID) int32
	Store(id channel.ID, v int32)
	SetFault(id channel.ID, fault bool) error
}

// Plan is a validated set of protection configs ready to Commit.
type Plan struct {
	outputs []OutputConfig
	bridges []BridgeConfig
}

// Outputs returns the output configs of the plan.
func (p *Plan) Outputs() []OutputConfig { return p.outputs }

// Bridges returns the bridge configs of the plan.
func (p *Plan) Bridges() []BridgeConfig { return p.bridges }

// Manager owns one protection machine per configured power output and
// H-bridge. Step runs on the hardware tick; snapshots and Clear may be
// called from any goroutine.
type Manager struct {
	ch     Channels
	logger Logger

	mu      sync.Mutex
	outputs [channel.MaxPowerOutputs]*output
	bridges [channel.MaxHBridges]*bridge
	last    operator.Tick
	totalMA int32
}

// NewManager creates a Manager with no configured outputs.
func NewManager(ch Channels) *Manager {
	return &Manager{ch: ch, logger: noopLogger{}}
}

// SetLogger sets the logger for the Manager.
func (m *Manager) SetLogger(logger Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Prepare validates a full set of protection configs without side effects.
func Prepare(outputs []OutputConfig, bridges []BridgeConfig) (*Plan, error) {
	var errs []error
	seenOut := make(map[int]bool, len(outputs))
	for _, c := range outputs {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seenOut[c.Index] {
			errs = append(errs, fmt.Errorf("%w: output %d", ErrDuplicateIndex, c.Index))
		}
		seenOut[c.Index] = true
	}
	seenBridge := make(map[int]bool, len(bridges))
	for _, c := range bridges {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if seenBridge[c.Index] {
			errs = append(errs, fmt.Errorf("%w: bridge %d", ErrDuplicateIndex, c.Index))
		}
		seenBridge[c.Index] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &Plan{
		outputs: append([]OutputConfig(nil), outputs...),
		bridges: append([]BridgeConfig(nil), bridges...),
	}, nil
}

// Commit installs a prepared plan. Machines whose index is kept carry their
// runtime state and pick up the new parameters; removed machines are
// dropped and new ones start off. A kept machine sitting in fault has its
// latch re-evaluated against the new retry policy, so relaxing the policy
// releases it and tightening it latches it.
func (m *Manager) Commit(p *Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var outs [channel.MaxPowerOutputs]*output
	for _, c := range p.outputs {
		if o := m.outputs[c.Index]; o != nil {
			o.cfg = c
			if o.state == StateFault {
				o.latched = !c.RetryForever && o.retries >= c.RetryCount
			}
			outs[c.Index] = o
			continue
		}
		outs[c.Index] = newOutput(c)
	}
	m.outputs = outs

	var brs [channel.MaxHBridges]*bridge
	for _, c := range p.bridges {
		if b := m.bridges[c.Index]; b != nil {
			b.cfg = c
			if b.state == BridgeFault {
				b.latched = !c.RetryForever && b.retries >= c.RetryCount
			}
			brs[c.Index] = b
			continue
		}
		brs[c.Index] = newBridge(c)
	}
	m.bridges = brs

	m.logger.Debug("protection plan committed", "outputs", len(p.outputs), "bridges", len(p.bridges))
}

// Step advances every machine by one protection pass and publishes its
// status channels.
func (m *Manager) Step(t operator.Tick) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = t

	var total int32
	for _, o := range m.outputs {
		if o == nil {
			continue
		}
		if f := o.step(m.ch, t); f != FaultNone {
			m.logTrip("output", o.cfg.Index, f, o.retries, o.latched, o.current)
		}
		o.publish(m.ch)
		total = operator.Saturate(int64(total) + int64(max(o.current, 0)))
	}
	for _, b := range m.bridges {
		if b == nil {
			continue
		}
		if f := b.step(m.ch, t); f != FaultNone {
			m.logTrip("bridge", b.cfg.Index, f, b.retries, b.latched, b.current)
		}
		b.publish(m.ch)
		total = operator.Saturate(int64(total) + int64(max(b.current, -b.current)))
	}
	m.totalMA = total
}

func (m *Manager) logTrip(kind string, index int, f FaultCode, retries int, latched bool, current int32) {
	if latched {
		m.logger.Error(kind+" fault latched",
			"index", index, "fault", f.String(), "retries", retries, "current_ma", current)
		return
	}
	m.logger.Warn(kind+" fault",
		"index", index, "fault", f.String(), "retries", retries, "current_ma", current)
}

// Clear returns output index to off, resetting its fault and retry count.
func (m *Manager) Clear(index int) error {
	if index < 0 || index >= channel.MaxPowerOutputs {
		return fmt.Errorf("%w: output %d", ErrInvalidIndex, index)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.outputs[index]
	if o == nil {
		return fmt.Errorf("%w: output %d", ErrNotConfigured, index)
	}
	prev := o.status()
	o.goOff(m.last)
	o.retries = 0
	o.publish(m.ch)
	m.logger.Info("output cleared", "index", index, "was", prev.State.String(), "fault", prev.Fault.String())
	return nil
}

// ClearBridge returns bridge k to coast, resetting its fault and retry count.
func (m *Manager) ClearBridge(k int) error {
	if k < 0 || k >= channel.MaxHBridges {
		return fmt.Errorf("%w: bridge %d", ErrInvalidIndex, k)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bridges[k]
	if b == nil {
		return fmt.Errorf("%w: bridge %d", ErrNotConfigured, k)
	}
	prev := b.status()
	b.goCoast(m.last)
	b.retries = 0
	b.duty = 0
	b.publish(m.ch)
	m.logger.Info("bridge cleared", "index", k, "was", prev.State.String(), "fault", prev.Fault.String())
	return nil
}

// ForceOff drives every output off and every bridge to coast without
// clearing latched faults. Used when entering the safe state.
func (m *Manager) ForceOff() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.outputs {
		if o == nil {
			continue
		}
		if o.state != StateFault {
			o.enter(StateOff, m.last)
		}
		o.duty = 0
		o.target = 0
		o.publish(m.ch)
	}
	for _, b := range m.bridges {
		if b == nil {
			continue
		}
		if b.state != BridgeFault {
			b.enter(BridgeCoast, m.last)
		}
		b.duty = 0
		b.publish(m.ch)
	}
}

// OutputDuty implements hal.DriveSource.
func (m *Manager) OutputDuty(index int) (int32, bool) {
	if index < 0 || index >= channel.MaxPowerOutputs {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if o := m.outputs[index]; o != nil {
		return o.duty, true
	}
	return 0, false
}

// BridgeDrive implements hal.DriveSource.
func (m *Manager) BridgeDrive(k int) (hal.BridgeMode, int32, bool) {
	if k < 0 || k >= channel.MaxHBridges {
		return hal.BridgeCoast, 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b := m.bridges[k]; b != nil {
		mode, duty := b.drive()
		return mode, duty, true
	}
	return hal.BridgeCoast, 0, false
}

// Output returns a snapshot of output index.
func (m *Manager) Output(index int) (OutputInfo, bool) {
	if index < 0 || index >= channel.MaxPowerOutputs {
		return OutputInfo{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if o := m.outputs[index]; o != nil {
		return o.info(), true
	}
	return OutputInfo{}, false
}

// Outputs returns snapshots of every configured output in index order.
func (m *Manager) Outputs() []OutputInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutputInfo, 0, channel.MaxPowerOutputs)
	for _, o := range m.outputs {
		if o != nil {
			out = append(out, o.info())
		}
	}
	return out
}

// Bridges returns snapshots of every configured bridge in index order.
func (m *Manager) Bridges() []BridgeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BridgeInfo, 0, channel.MaxHBridges)
	for _, b := range m.bridges {
		if b != nil {
			out = append(out, b.info())
		}
	}
	return out
}

// FaultCount returns the number of machines in fault or waiting to retry.
func (m *Manager) FaultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.outputs {
		if o != nil && (o.state == StateFault || o.state == StateRetryWait) {
			n++
		}
	}
	for _, b := range m.bridges {
		if b != nil && (b.state == BridgeFault || b.state == BridgeRetryWait) {
			n++
		}
	}
	return n
}

// TotalCurrentMA returns the summed load current seen by the last Step.
func (m *Manager) TotalCurrentMA() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalMA
}
