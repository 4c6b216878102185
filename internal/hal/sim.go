package hal

import (
	"sync"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// Sim defaults.
const (
	DefaultSimSupplyMV   = 13800
	DefaultSimBoardTempC = 25
)

type simLoad struct {
	milliohm int32
	duty     int32
	forced   bool
	forcedMA int32
	diag     int32
}

type simBridge struct {
	simLoad
	mode BridgeMode
}

// Sim is a simulated board implementing every adapter interface.
//
// Inputs are held in Cells so they can be set from any goroutine. Outputs
// behave as resistive loads: current = supply × duty / 1000 / R. Any
// measurement can be forced for fault injection.
type Sim struct {
	inputs *CellBank

	mu         sync.Mutex
	supplyMV   int32
	boardTempC int32
	loads      [channel.MaxPowerOutputs]simLoad
	bridges    [channel.MaxHBridges]simBridge
}

// NewSim creates a simulated board with a nominal 13.8 V supply and no
// loads connected.
func NewSim() *Sim {
	return &Sim{
		inputs:     NewCellBank(),
		supplyMV:   DefaultSimSupplyMV,
		boardTempC: DefaultSimBoardTempC,
	}
}

// Adapters returns the Sim wired into every adapter slot.
func (s *Sim) Adapters() Adapters {
	return Adapters{Inputs: s, Outputs: s, Bridges: s, System: s}
}

// ─── Inputs ─────────────────────────────────────────────────────────

// SetInput publishes a raw value for a physical input.
func (s *Sim) SetInput(id channel.ID, v int32) { s.inputs.Cell(id).Put(v) }

// Sample implements InputAdapter.
func (s *Sim) Sample(id channel.ID) int32 { return s.inputs.Sample(id) }

// ─── Board ──────────────────────────────────────────────────────────

// SetSupplyMV sets the simulated supply voltage.
func (s *Sim) SetSupplyMV(mv int32) {
	s.mu.Lock()
	s.supplyMV = mv
	s.mu.Unlock()
}

// SetBoardTempC sets the simulated board temperature.
func (s *Sim) SetBoardTempC(c int32) {
	s.mu.Lock()
	s.boardTempC = c
	s.mu.Unlock()
}

// SupplyMV implements SystemAdapter.
func (s *Sim) SupplyMV() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supplyMV
}

// BoardTempC implements SystemAdapter.
func (s *Sim) BoardTempC() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardTempC
}

// ─── Outputs ────────────────────────────────────────────────────────

func validOutput(i int) bool { return i >= 0 && i < channel.MaxPowerOutputs }
func validBridge(k int) bool { return k >= 0 && k < channel.MaxHBridges }

// SetLoad connects a resistive load in milliohms; 0 disconnects it.
func (s *Sim) SetLoad(index int, milliohm int32) {
	if !validOutput(index) {
		return
	}
	s.mu.Lock()
	s.loads[index].milliohm = milliohm
	s.mu.Unlock()
}

// ForceCurrent makes Measure report mA regardless of duty and load.
func (s *Sim) ForceCurrent(index int, mA int32) {
	if !validOutput(index) {
		return
	}
	s.mu.Lock()
	s.loads[index].forced = true
	s.loads[index].forcedMA = mA
	s.mu.Unlock()
}

// ReleaseCurrent undoes ForceCurrent.
func (s *Sim) ReleaseCurrent(index int) {
	if !validOutput(index) {
		return
	}
	s.mu.Lock()
	s.loads[index].forced = false
	s.mu.Unlock()
}

// SetDiag sets the diagnostic bits reported for an output.
func (s *Sim) SetDiag(index int, diag int32) {
	if !validOutput(index) {
		return
	}
	s.mu.Lock()
	s.loads[index].diag = diag
	s.mu.Unlock()
}

// Duty returns the last duty driven to an output.
func (s *Sim) Duty(index int) int32 {
	if !validOutput(index) {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[index].duty
}

// Drive implements OutputAdapter.
func (s *Sim) Drive(index int, duty int32) {
	if !validOutput(index) {
		return
	}
	s.mu.Lock()
	s.loads[index].duty = duty
	s.mu.Unlock()
}

// Measure implements OutputAdapter.
func (s *Sim) Measure(index int) Measurement {
	if !validOutput(index) {
		return Measurement{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measure(&s.loads[index])
}

// measure computes a load readback. Caller holds mu.
func (s *Sim) measure(l *simLoad) Measurement {
	vout := int64(s.supplyMV) * int64(l.duty) / 1000
	m := Measurement{VoltageMV: int32(vout), Diag: l.diag}
	switch {
	case l.forced:
		m.CurrentMA = l.forcedMA
	case l.milliohm > 0:
		// mV / mΩ = A, so mA = mV * 1000 / mΩ.
		m.CurrentMA = int32(vout * 1000 / int64(l.milliohm))
	}
	return m
}

// ─── Bridges ────────────────────────────────────────────────────────

// SetBridgeLoad connects a resistive motor model to bridge k.
func (s *Sim) SetBridgeLoad(k int, milliohm int32) {
	if !validBridge(k) {
		return
	}
	s.mu.Lock()
	s.bridges[k].milliohm = milliohm
	s.mu.Unlock()
}

// ForceBridgeCurrent makes MeasureBridge report mA.
func (s *Sim) ForceBridgeCurrent(k int, mA int32) {
	if !validBridge(k) {
		return
	}
	s.mu.Lock()
	s.bridges[k].forced = true
	s.bridges[k].forcedMA = mA
	s.mu.Unlock()
}

// ReleaseBridgeCurrent undoes ForceBridgeCurrent.
func (s *Sim) ReleaseBridgeCurrent(k int) {
	if !validBridge(k) {
		return
	}
	s.mu.Lock()
	s.bridges[k].forced = false
	s.mu.Unlock()
}

// SetBridgeDiag sets the diagnostic bits reported for bridge k.
func (s *Sim) SetBridgeDiag(k int, diag int32) {
	if !validBridge(k) {
		return
	}
	s.mu.Lock()
	s.bridges[k].diag = diag
	s.mu.Unlock()
}

// BridgeState returns the last mode and duty driven to bridge k.
func (s *Sim) BridgeState(k int) (BridgeMode, int32) {
	if !validBridge(k) {
		return BridgeCoast, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bridges[k].mode, s.bridges[k].duty
}

// DriveBridge implements BridgeAdapter.
func (s *Sim) DriveBridge(k int, mode BridgeMode, duty int32) {
	if !validBridge(k) {
		return
	}
	s.mu.Lock()
	s.bridges[k].mode = mode
	s.bridges[k].duty = duty
	if mode == BridgeCoast || mode == BridgeBrake {
		s.bridges[k].duty = 0
	}
	s.mu.Unlock()
}

// MeasureBridge implements BridgeAdapter.
func (s *Sim) MeasureBridge(k int) Measurement {
	if !validBridge(k) {
		return Measurement{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measure(&s.bridges[k].simLoad)
}
