package protection

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/operator"
)

func tick(seq uint64) operator.Tick {
	return operator.Tick{Seq: seq, Period: time.Millisecond}
}

// newRegistry registers the system channels, power outputs with their
// telemetry sub-channels, and two H-bridges.
func newRegistry(t *testing.T, outputs ...int) *channel.Registry {
	t.Helper()
	r := channel.NewRegistry()
	must := func(d channel.Descriptor) {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%d) error = %v", d.ID, err)
		}
	}
	for _, d := range channel.SystemDescriptors() {
		must(d)
	}
	for _, i := range outputs {
		name := fmt.Sprintf("out%d", i)
		must(channel.Descriptor{ID: channel.PowerOutputID(i), Class: channel.ClassPowerOutput, Name: name, Max: 1000, Flags: channel.FlagEnabled})
		for _, d := range channel.TelemetryDescriptors(i, name) {
			must(d)
		}
	}
	for k := 0; k < 2; k++ {
		must(channel.Descriptor{ID: channel.BridgeCommandID(k), Class: channel.ClassHBridgeOutput, Name: fmt.Sprintf("hb%d", k), Min: -1000, Max: 1000, Flags: channel.FlagEnabled})
		must(channel.Descriptor{ID: channel.BridgeStatusID(k), Class: channel.ClassHBridgeOutput, Name: fmt.Sprintf("hb%d.status", k), Flags: channel.FlagEnabled | channel.FlagReadOnly})
	}
	return r
}

func newManager(t *testing.T, r *channel.Registry, outputs []OutputConfig, bridges []BridgeConfig) *Manager {
	t.Helper()
	p, err := Prepare(outputs, bridges)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	m := NewManager(r)
	m.Commit(p)
	return m
}

func outputStatus(r *channel.Registry, i int) Status {
	return DecodeStatus(r.Get(channel.SubChannel(channel.StatusBase, i)))
}

// ─── Status encoding ────────────────────────────────────────────────

func TestStatusEncoding(t *testing.T) {
	tests := []Status{
		{State: StateOff},
		{State: StateOn},
		{State: StateFault, Fault: FaultOvercurrent},
		{State: StateFault, Fault: FaultOpenLoad, Latched: true},
	}
	for _, s := range tests {
		if got := DecodeStatus(EncodeStatus(s)); got != s {
			t.Errorf("DecodeStatus(EncodeStatus(%+v)) = %+v", s, got)
		}
	}
	if got := EncodeStatus(Status{State: StateFault, Fault: FaultShort, Latched: true}); got != 3|3<<8|1<<15 {
		t.Errorf("EncodeStatus() = %#x, want %#x", got, 3|3<<8|1<<15)
	}
	b := BridgeStatus{State: BridgeDeadTime}
	if got := DecodeBridgeStatus(EncodeBridgeStatus(b)); got != b {
		t.Errorf("DecodeBridgeStatus() = %+v, want %+v", got, b)
	}
}

// ─── Prepare ────────────────────────────────────────────────────────

func TestPrepare_Errors(t *testing.T) {
	tests := []struct {
		name    string
		outputs []OutputConfig
		bridges []BridgeConfig
		want    error
	}{
		{"index out of range", []OutputConfig{{Index: 30, CurrentLimitMA: 1}}, nil, ErrInvalidIndex},
		{"no limit", []OutputConfig{{Index: 0}}, nil, ErrInvalidConfig},
		{"negative soft start", []OutputConfig{{Index: 0, CurrentLimitMA: 1, SoftStartMS: -1}}, nil, ErrInvalidConfig},
		{"retry count too big", []OutputConfig{{Index: 0, CurrentLimitMA: 1, RetryCount: 300}}, nil, ErrInvalidConfig},
		{"duplicate output", []OutputConfig{{Index: 2, CurrentLimitMA: 1}, {Index: 2, CurrentLimitMA: 2}}, nil, ErrDuplicateIndex},
		{"bridge out of range", nil, []BridgeConfig{{Index: 4, CurrentLimitMA: 1}}, ErrInvalidIndex},
		{"duplicate bridge", nil, []BridgeConfig{{Index: 1, CurrentLimitMA: 1}, {Index: 1, CurrentLimitMA: 1}}, ErrDuplicateIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(tt.outputs, tt.bridges)
			if !errors.Is(err, tt.want) {
				t.Errorf("Prepare() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// ─── Power outputs ──────────────────────────────────────────────────

func TestOutput_OvercurrentWithinOnePass(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 15000}}, nil)

	if err := r.Set(100, 1); err != nil {
		t.Fatalf("Set(100) error = %v", err)
	}
	r.Store(1130, 16000) // adapter measurement published by the hardware pass
	m.Step(tick(1))

	st := outputStatus(r, 0)
	if st.State != StateFault || st.Fault != FaultOvercurrent {
		t.Fatalf("status = %+v, want fault/overcurrent", st)
	}
	if got := r.Get(1130); got != 16000 {
		t.Errorf("Get(1130) = %d, want 16000", got)
	}
	if flags, _ := r.Flags(100); !flags.Has(channel.FlagFault) {
		t.Error("output channel fault flag not set")
	}
	if duty, ok := m.OutputDuty(0); !ok || duty != 0 {
		t.Errorf("OutputDuty(0) = (%d, %v), want (0, true)", duty, ok)
	}
	if m.FaultCount() != 1 {
		t.Errorf("FaultCount() = %d, want 1", m.FaultCount())
	}
}

func TestOutput_SoftStartRamp(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 10000, SoftStartMS: 10}}, nil)
	_ = r.Set(100, 1)

	tests := []struct {
		seq   uint64
		state State
		duty  int32
	}{
		{1, StateSoftStart, 0},
		{2, StateSoftStart, 100},
		{6, StateSoftStart, 500},
		{10, StateSoftStart, 900},
		{11, StateOn, 1000},
		{12, StateOn, 1000},
	}
	seq := uint64(0)
	for _, tt := range tests {
		for seq < tt.seq {
			seq++
			m.Step(tick(seq))
		}
		if st := outputStatus(r, 0); st.State != tt.state {
			t.Errorf("tick %d: state = %s, want %s", tt.seq, st.State, tt.state)
		}
		if got := r.Get(channel.SubChannel(channel.DutyBase, 0)); got != tt.duty {
			t.Errorf("tick %d: duty = %d, want %d", tt.seq, got, tt.duty)
		}
	}
	if got := r.Get(channel.SubChannel(channel.ActiveBase, 0)); got != 1 {
		t.Errorf("active = %d, want 1", got)
	}

	// Off is immediate, no ramp down.
	_ = r.Set(100, 0)
	m.Step(tick(13))
	if st := outputStatus(r, 0); st.State != StateOff {
		t.Errorf("state after off = %s, want off", st.State)
	}
	if duty, _ := m.OutputDuty(0); duty != 0 {
		t.Errorf("duty after off = %d, want 0", duty)
	}
	if got := r.Get(channel.SubChannel(channel.ActiveBase, 0)); got != 0 {
		t.Errorf("active after off = %d, want 0", got)
	}
}

func TestOutput_PWMCommand(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 10000, PWM: true}}, nil)

	tests := []struct {
		cmd  int32
		want int32
	}{
		{400, 400},
		{1500, 1000},
		{-5, 0},
	}
	for i, tt := range tests {
		_ = r.Set(100, tt.cmd)
		m.Step(tick(uint64(i + 1)))
		if duty, _ := m.OutputDuty(0); duty != tt.want {
			t.Errorf("cmd %d: duty = %d, want %d", tt.cmd, duty, tt.want)
		}
	}
}

func TestOutput_NonPWMAnyNonzeroIsFullDuty(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 10000}}, nil)
	_ = r.Set(100, 7)
	m.Step(tick(1))
	if duty, _ := m.OutputDuty(0); duty != FullDuty {
		t.Errorf("duty = %d, want %d", duty, FullDuty)
	}
}

func TestOutput_RetryBound(t *testing.T) {
	r := newRegistry(t, 0)
	sim := hal.NewSim()
	sim.SetLoad(0, 690) // 20 A at full duty
	pass := hal.NewPass(r, sim.Adapters())
	m := newManager(t, r, []OutputConfig{{
		Index:          0,
		CurrentLimitMA: 15000,
		SoftStartMS:    10,
		RetryCount:     3,
		RetryDelayMS:   20,
	}}, nil)
	_ = r.Set(100, 1)

	softStarts := 0
	prev := StateOff
	run := func(from, to uint64) {
		for seq := from; seq <= to; seq++ {
			pass.Sample()
			m.Step(tick(seq))
			pass.Drive(m)
			st := outputStatus(r, 0)
			if st.State == StateSoftStart && prev != StateSoftStart {
				softStarts++
			}
			prev = st.State
		}
	}

	run(1, 500)
	if softStarts != 4 {
		t.Errorf("soft_start entries = %d, want 4 (initial + 3 retries)", softStarts)
	}
	st := outputStatus(r, 0)
	if st.State != StateFault || !st.Latched || st.Fault != FaultOvercurrent {
		t.Fatalf("status = %+v, want latched overcurrent fault", st)
	}
	info, _ := m.Output(0)
	if info.Retries != 3 || info.Trips != 4 {
		t.Errorf("retries/trips = %d/%d, want 3/4", info.Retries, info.Trips)
	}

	run(501, 2000)
	if softStarts != 4 {
		t.Errorf("soft_start re-entered after latch: %d entries", softStarts)
	}
	if sim.Duty(0) != 0 {
		t.Errorf("latched output driven at %d", sim.Duty(0))
	}
}

func TestOutput_LatchedIgnoresCommandUntilClear(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000}}, nil)
	_ = r.Set(100, 1)
	r.Store(1130, 2000)
	m.Step(tick(1))
	if st := outputStatus(r, 0); !st.Latched {
		t.Fatalf("status = %+v, want latched", st)
	}

	_ = r.Set(100, 0)
	r.Store(1130, 0)
	m.Step(tick(2))
	if st := outputStatus(r, 0); st.State != StateFault || !st.Latched {
		t.Errorf("latched fault left on command off: %+v", st)
	}

	if err := m.Clear(0); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if st := outputStatus(r, 0); st != (Status{State: StateOff}) {
		t.Errorf("status after Clear = %+v, want off", st)
	}
	if flags, _ := r.Flags(100); flags.Has(channel.FlagFault) {
		t.Error("fault flag still set after Clear")
	}

	_ = r.Set(100, 1)
	m.Step(tick(3))
	if st := outputStatus(r, 0); st.State != StateOn {
		t.Errorf("state after Clear and command = %s, want on", st.State)
	}
}

func TestOutput_CommandOffDuringRetry(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000, RetryCount: 2, RetryDelayMS: 100}}, nil)
	_ = r.Set(100, 1)
	r.Store(1130, 5000)
	m.Step(tick(1))
	m.Step(tick(2))
	if st := outputStatus(r, 0); st.State != StateRetryWait || st.Fault != FaultOvercurrent {
		t.Fatalf("status = %+v, want retry_wait/overcurrent", st)
	}

	_ = r.Set(100, 0)
	m.Step(tick(3))
	if st := outputStatus(r, 0); st != (Status{State: StateOff}) {
		t.Errorf("status = %+v, want off", st)
	}
}

func TestOutput_DiagFaults(t *testing.T) {
	tests := []struct {
		diag int32
		want FaultCode
	}{
		{hal.DiagShort, FaultShort},
		{hal.DiagOvertemp, FaultOvertemp},
		{hal.DiagShort | hal.DiagOvertemp, FaultShort},
		{hal.DiagOpenLoad, FaultOpenLoad},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			r := newRegistry(t, 0)
			m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000}}, nil)
			_ = r.Set(100, 1)
			m.Step(tick(1)) // on
			r.Store(1250, tt.diag)
			m.Step(tick(2))
			if st := outputStatus(r, 0); st.State != StateFault || st.Fault != tt.want {
				t.Errorf("status = %+v, want fault/%s", st, tt.want)
			}
		})
	}
}

func TestOutput_OpenLoadDebounce(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000, OpenLoadMA: 100, OpenLoadMS: 5}}, nil)
	_ = r.Set(100, 1)

	m.Step(tick(1)) // soft start window 0: straight to on
	for seq := uint64(2); seq <= 6; seq++ {
		m.Step(tick(seq))
		if st := outputStatus(r, 0); st.State != StateOn {
			t.Fatalf("tick %d: state = %s, want on", seq, st.State)
		}
	}
	m.Step(tick(7))
	if st := outputStatus(r, 0); st.State != StateFault || st.Fault != FaultOpenLoad {
		t.Errorf("status = %+v, want fault/open_load", st)
	}
}

func TestOutput_OpenLoadRecovers(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000, OpenLoadMA: 100, OpenLoadMS: 5}}, nil)
	_ = r.Set(100, 1)
	for seq := uint64(1); seq <= 20; seq++ {
		if seq%4 == 0 {
			r.Store(1130, 500)
		} else {
			r.Store(1130, 0)
		}
		m.Step(tick(seq))
	}
	if st := outputStatus(r, 0); st.State != StateOn {
		t.Errorf("state = %s, want on", st.State)
	}
}

func TestOutput_RetryForever(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000, RetryForever: true}}, nil)
	_ = r.Set(100, 1)
	r.Store(1130, 5000)
	for seq := uint64(1); seq <= 300; seq++ {
		m.Step(tick(seq))
	}
	info, _ := m.Output(0)
	if info.Latched {
		t.Error("retry_forever output latched")
	}
	if info.Trips < 100 {
		t.Errorf("Trips = %d, want at least 100", info.Trips)
	}
}

func TestOutput_RetryCounterResetsAfterHealthyRun(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000, RetryCount: 1, RetryResetMS: 50}}, nil)
	_ = r.Set(100, 1)

	r.Store(1130, 5000)
	m.Step(tick(1)) // fault
	m.Step(tick(2)) // retry_wait
	r.Store(1130, 500)
	m.Step(tick(3)) // retry -> on
	if info, _ := m.Output(0); info.Retries != 1 || info.State != StateOn {
		t.Fatalf("info = %+v, want on with 1 retry", info)
	}
	for seq := uint64(4); seq <= 60; seq++ {
		m.Step(tick(seq))
	}
	if info, _ := m.Output(0); info.Retries != 0 {
		t.Errorf("Retries = %d, want 0 after healthy run", info.Retries)
	}

	r.Store(1130, 5000)
	m.Step(tick(61))
	if st := outputStatus(r, 0); st.Latched {
		t.Error("fault latched despite reset retry budget")
	}
}

func TestOutput_Source(t *testing.T) {
	r := newRegistry(t, 0)
	if err := r.Register(channel.Descriptor{ID: 200, Class: channel.ClassVirtualLogic, Name: "lamp_on", Max: 1, Flags: channel.FlagEnabled}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	src := channel.ID(200)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000, Source: &src}}, nil)

	_ = r.Set(200, 1)
	m.Step(tick(1))
	if st := outputStatus(r, 0); st.State != StateOn {
		t.Errorf("state = %s, want on", st.State)
	}
	if got := r.Get(100); got != 1 {
		t.Errorf("mirrored command = %d, want 1", got)
	}
}

func TestOutput_DisabledCommandIsOff(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000}}, nil)
	_ = r.Set(100, 1)
	m.Step(tick(1))
	_ = r.SetEnabled(100, false)
	m.Step(tick(2))
	if st := outputStatus(r, 0); st.State != StateOff {
		t.Errorf("state = %s, want off", st.State)
	}
}

// ─── Manager ────────────────────────────────────────────────────────

func TestManager_CommitCarriesState(t *testing.T) {
	r := newRegistry(t, 0, 1)
	m := newManager(t, r, []OutputConfig{
		{Index: 0, CurrentLimitMA: 1000},
		{Index: 1, CurrentLimitMA: 1000},
	}, nil)
	_ = r.Set(100, 1)
	r.Store(1130, 5000)
	m.Step(tick(1))

	p, err := Prepare([]OutputConfig{{Index: 0, CurrentLimitMA: 8000}}, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	m.Commit(p)

	info, ok := m.Output(0)
	if !ok || info.State != StateFault || !info.Latched {
		t.Errorf("Output(0) = %+v, want latched fault carried", info)
	}
	if _, ok := m.Output(1); ok {
		t.Error("Output(1) still configured after Commit")
	}
	if err := m.Clear(1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Clear(1) error = %v, want ErrNotConfigured", err)
	}
	if err := m.Clear(40); !errors.Is(err, ErrInvalidIndex) {
		t.Errorf("Clear(40) error = %v, want ErrInvalidIndex", err)
	}
}

func TestManager_CommitReevaluatesLatch(t *testing.T) {
	r := newRegistry(t, 0)
	m := newManager(t, r, []OutputConfig{{Index: 0, CurrentLimitMA: 1000}}, nil)
	_ = r.Set(100, 1)
	r.Store(1130, 5000)
	m.Step(tick(1))
	if info, _ := m.Output(0); !info.Latched {
		t.Fatalf("Output(0) = %+v, want latched", info)
	}

	p, err := Prepare([]OutputConfig{{Index: 0, CurrentLimitMA: 1000, RetryForever: true, RetryDelayMS: 5}}, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	m.Commit(p)
	if info, _ := m.Output(0); info.State != StateFault || info.Latched {
		t.Errorf("Output(0) after relaxing = %+v, want unlatched fault", info)
	}

	r.Store(1130, 0)
	m.Step(tick(2))
	if st := outputStatus(r, 0); st.State != StateRetryWait || st.Latched {
		t.Errorf("status = %+v, want unlatched retry_wait", st)
	}

	// Tightening the policy again latches a machine that is in fault.
	r.Store(1130, 5000)
	m.Step(tick(8))
	if info, _ := m.Output(0); info.State != StateFault {
		t.Fatalf("Output(0) = %+v, want fault", info)
	}
	p, err = Prepare([]OutputConfig{{Index: 0, CurrentLimitMA: 1000}}, nil)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	m.Commit(p)
	if info, _ := m.Output(0); !info.Latched {
		t.Errorf("Output(0) after tightening = %+v, want latched", info)
	}
}

func TestManager_ForceOff(t *testing.T) {
	r := newRegistry(t, 0, 1)
	m := newManager(t, r, []OutputConfig{
		{Index: 0, CurrentLimitMA: 1000},
		{Index: 1, CurrentLimitMA: 1000},
	}, []BridgeConfig{{Index: 0, CurrentLimitMA: 5000}})
	_ = r.Set(100, 1)
	_ = r.Set(101, 1)
	_ = r.Set(150, 800)
	r.Store(1131, 5000)
	m.Step(tick(1))

	m.ForceOff()
	if duty, _ := m.OutputDuty(0); duty != 0 {
		t.Errorf("OutputDuty(0) = %d, want 0", duty)
	}
	if st := outputStatus(r, 0); st.State != StateOff {
		t.Errorf("output 0 state = %s, want off", st.State)
	}
	if st := outputStatus(r, 1); !st.Latched {
		t.Errorf("output 1 latched fault cleared by ForceOff: %+v", st)
	}
	if mode, duty, _ := m.BridgeDrive(0); mode != hal.BridgeCoast || duty != 0 {
		t.Errorf("BridgeDrive(0) = (%s, %d), want (coast, 0)", mode, duty)
	}
}

func TestManager_TotalCurrent(t *testing.T) {
	r := newRegistry(t, 0, 1)
	m := newManager(t, r, []OutputConfig{
		{Index: 0, CurrentLimitMA: 10000},
		{Index: 1, CurrentLimitMA: 10000},
	}, []BridgeConfig{{Index: 0, CurrentLimitMA: 10000}})
	r.Store(1130, 1500)
	r.Store(1131, 2500)
	r.Store(channel.SysBridgeCurrent, -1000)
	m.Step(tick(1))
	if got := m.TotalCurrentMA(); got != 5000 {
		t.Errorf("TotalCurrentMA() = %d, want 5000", got)
	}
	if got := len(m.Outputs()); got != 2 {
		t.Errorf("len(Outputs()) = %d, want 2", got)
	}
	if got := len(m.Bridges()); got != 1 {
		t.Errorf("len(Bridges()) = %d, want 1", got)
	}
}

// ─── H-bridges ──────────────────────────────────────────────────────

func bridgeStatus(r *channel.Registry, k int) BridgeStatus {
	return DecodeBridgeStatus(r.Get(channel.BridgeStatusID(k)))
}

func TestBridge_DeadTimeOnReversal(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{Index: 0, CurrentLimitMA: 5000, DeadTimeMS: 3}})

	_ = r.Set(150, 600)
	m.Step(tick(1))
	if mode, duty, _ := m.BridgeDrive(0); mode != hal.BridgeForward || duty != 600 {
		t.Fatalf("BridgeDrive() = (%s, %d), want (forward, 600)", mode, duty)
	}

	_ = r.Set(150, -400)
	for seq := uint64(2); seq <= 4; seq++ {
		m.Step(tick(seq))
		if st := bridgeStatus(r, 0); st.State != BridgeDeadTime {
			t.Fatalf("tick %d: state = %s, want dead_time", seq, st.State)
		}
		if mode, _, _ := m.BridgeDrive(0); mode != hal.BridgeCoast {
			t.Fatalf("tick %d: mode = %s during dead time, want coast", seq, mode)
		}
	}
	m.Step(tick(5))
	if mode, duty, _ := m.BridgeDrive(0); mode != hal.BridgeReverse || duty != 400 {
		t.Errorf("BridgeDrive() = (%s, %d), want (reverse, 400)", mode, duty)
	}
}

func TestBridge_DeadTimeThroughCoast(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{Index: 0, CurrentLimitMA: 5000, DeadTimeMS: 10}})

	_ = r.Set(150, 600)
	m.Step(tick(1))
	_ = r.Set(150, 0)
	m.Step(tick(2))
	if st := bridgeStatus(r, 0); st.State != BridgeCoast {
		t.Fatalf("state = %s, want coast", st.State)
	}

	// Forward was left on tick 2, so reverse waits until tick 12.
	_ = r.Set(150, -600)
	for seq := uint64(3); seq <= 11; seq++ {
		m.Step(tick(seq))
		if mode, _, _ := m.BridgeDrive(0); mode != hal.BridgeCoast {
			t.Fatalf("tick %d: mode = %s, want coast", seq, mode)
		}
		if st := bridgeStatus(r, 0); st.State != BridgeDeadTime {
			t.Fatalf("tick %d: state = %s, want dead_time", seq, st.State)
		}
	}
	m.Step(tick(12))
	if mode, duty, _ := m.BridgeDrive(0); mode != hal.BridgeReverse || duty != 600 {
		t.Errorf("BridgeDrive() = (%s, %d), want (reverse, 600)", mode, duty)
	}
}

func TestBridge_SameDirectionThroughCoast(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{Index: 0, CurrentLimitMA: 5000, DeadTimeMS: 10}})

	_ = r.Set(150, 600)
	m.Step(tick(1))
	_ = r.Set(150, 0)
	m.Step(tick(2))
	_ = r.Set(150, 300)
	m.Step(tick(3))
	if mode, duty, _ := m.BridgeDrive(0); mode != hal.BridgeForward || duty != 300 {
		t.Errorf("BridgeDrive() = (%s, %d), want (forward, 300)", mode, duty)
	}
}

func TestBridge_DeadTimeAfterRetry(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{
		Index: 0, CurrentLimitMA: 8000, DeadTimeMS: 10, RetryCount: 3, RetryDelayMS: 1,
	}})

	_ = r.Set(150, 600)
	r.Store(channel.SysBridgeCurrent, 9000)
	m.Step(tick(1))
	if st := bridgeStatus(r, 0); st.State != BridgeFault {
		t.Fatalf("state = %s, want fault", st.State)
	}

	r.Store(channel.SysBridgeCurrent, 0)
	_ = r.Set(150, -600)
	m.Step(tick(2))
	if st := bridgeStatus(r, 0); st.State != BridgeRetryWait {
		t.Fatalf("state = %s, want retry_wait", st.State)
	}

	// Retry is due on tick 3, but forward was left on tick 1.
	for seq := uint64(3); seq <= 10; seq++ {
		m.Step(tick(seq))
		if mode, _, _ := m.BridgeDrive(0); mode != hal.BridgeCoast {
			t.Fatalf("tick %d: mode = %s, want coast", seq, mode)
		}
	}
	m.Step(tick(11))
	if mode, duty, _ := m.BridgeDrive(0); mode != hal.BridgeReverse || duty != 600 {
		t.Errorf("BridgeDrive() = (%s, %d), want (reverse, 600)", mode, duty)
	}
}

func TestBridge_DeadTimeFromBrake(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{Index: 1, CurrentLimitMA: 5000, DeadTimeMS: 2, BrakeOnZero: true}})
	_ = r.Set(152, 1000)
	m.Step(tick(1))
	_ = r.Set(152, 0)
	m.Step(tick(2))
	m.Step(tick(4))
	if mode, _, _ := m.BridgeDrive(1); mode != hal.BridgeBrake {
		t.Fatalf("mode = %s, want brake", mode)
	}

	_ = r.Set(152, 1000)
	m.Step(tick(5))
	if st := bridgeStatus(r, 1); st.State != BridgeDeadTime {
		t.Fatalf("state = %s, want dead_time", st.State)
	}
	m.Step(tick(7))
	if mode, duty, _ := m.BridgeDrive(1); mode != hal.BridgeForward || duty != 1000 {
		t.Errorf("BridgeDrive() = (%s, %d), want (forward, 1000)", mode, duty)
	}
}

func TestBridge_CoastIsDirect(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{Index: 0, CurrentLimitMA: 5000, DeadTimeMS: 10}})
	_ = r.Set(150, 500)
	m.Step(tick(1))
	_ = r.Set(150, 0)
	m.Step(tick(2))
	if st := bridgeStatus(r, 0); st.State != BridgeCoast {
		t.Errorf("state = %s, want coast", st.State)
	}
}

func TestBridge_BrakeOnZero(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{Index: 1, CurrentLimitMA: 5000, DeadTimeMS: 2, BrakeOnZero: true}})
	_ = r.Set(152, 1000)
	m.Step(tick(1))
	_ = r.Set(152, 0)
	m.Step(tick(2))
	if st := bridgeStatus(r, 1); st.State != BridgeDeadTime {
		t.Fatalf("state = %s, want dead_time", st.State)
	}
	m.Step(tick(4))
	if mode, _, _ := m.BridgeDrive(1); mode != hal.BridgeBrake {
		t.Errorf("mode = %s, want brake", mode)
	}
}

func TestBridge_OvercurrentLatches(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{Index: 0, CurrentLimitMA: 8000}})
	_ = r.Set(150, -1000)
	r.Store(channel.SysBridgeCurrent, -9000)
	m.Step(tick(1))

	st := bridgeStatus(r, 0)
	if st.State != BridgeFault || st.Fault != FaultOvercurrent || !st.Latched {
		t.Fatalf("status = %+v, want latched overcurrent fault", st)
	}
	if flags, _ := r.Flags(150); !flags.Has(channel.FlagFault) {
		t.Error("bridge command fault flag not set")
	}

	r.Store(channel.SysBridgeCurrent, 0)
	if err := m.ClearBridge(0); err != nil {
		t.Fatalf("ClearBridge() error = %v", err)
	}
	m.Step(tick(2))
	if mode, duty, _ := m.BridgeDrive(0); mode != hal.BridgeReverse || duty != 1000 {
		t.Errorf("BridgeDrive() = (%s, %d), want (reverse, 1000)", mode, duty)
	}
}

func TestBridge_RetryAfterDelay(t *testing.T) {
	r := newRegistry(t)
	m := newManager(t, r, nil, []BridgeConfig{{Index: 0, CurrentLimitMA: 8000, RetryCount: 1, RetryDelayMS: 5}})
	_ = r.Set(150, 500)
	r.Store(channel.SysBridgeDiag, hal.DiagOvertemp)
	m.Step(tick(1))
	if st := bridgeStatus(r, 0); st.State != BridgeFault || st.Latched {
		t.Fatalf("status = %+v, want unlatched fault", st)
	}
	r.Store(channel.SysBridgeDiag, 0)
	m.Step(tick(2))
	if st := bridgeStatus(r, 0); st.State != BridgeRetryWait {
		t.Fatalf("state = %s, want retry_wait", st.State)
	}
	m.Step(tick(7))
	if st := bridgeStatus(r, 0); st.State != BridgeForward {
		t.Errorf("state = %s, want forward", st.State)
	}
}
