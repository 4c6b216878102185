package core

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/engine"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/operator"
	"github.com/nerrad567/pdm-core/internal/protection"
)

// Default timing.
const (
	DefaultHardwarePeriod = time.Millisecond
	DefaultLogicPeriod    = 2 * time.Millisecond
	DefaultVerifyEvery    = 1000
)

// Logger defines the logging interface used by the Core.
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

// Options tunes a Core. Zero values select the defaults.
type Options struct {
	// HardwarePeriod is the hardware tick period (default 1 ms).
	HardwarePeriod time.Duration
	// LogicPeriod is the logic tick period (default 2 ms).
	LogicPeriod time.Duration
	// LogicBudget is the logic pass duration above which an overrun is
	// reported (default 2 ms).
	LogicBudget time.Duration
	// HardwareBudget defaults to HardwarePeriod.
	HardwareBudget time.Duration
	// VerifyEvery is the number of hardware ticks between registry
	// structure checks (default 1000).
	VerifyEvery uint64
	// Now is the wall clock used only to time passes.
	Now func() time.Time
}

// HardwarePass describes one completed hardware tick.
type HardwarePass struct {
	Tick     operator.Tick
	Duration time.Duration
	Overrun  bool
}

// Stats summarises the runtime.
type Stats struct {
	HardwareTicks    uint64        `json:"hardware_ticks"`
	HardwareOverruns uint64        `json:"hardware_overruns"`
	LastHardwarePass time.Duration `json:"last_hardware_pass_ns"`
	MaxHardwarePass  time.Duration `json:"max_hardware_pass_ns"`
	HardwareBudget   time.Duration `json:"hardware_budget_ns"`
	Uptime           time.Duration `json:"uptime_ns"`
	Generation       int32         `json:"config_generation"`
	SafeState        bool          `json:"safe_state"`
	SafeReason       string        `json:"safe_reason,omitempty"`
	FaultCount       int           `json:"fault_count"`
	TotalCurrentMA   int32         `json:"total_current_ma"`
	Logic            engine.Stats  `json:"logic"`
	Channels         channel.Stats `json:"channels"`
}

// Core composes the channel registry, the logic engine, output protection
// and the hardware pass.
//
// HardwareTick and LogicTick may run concurrently with each other; Apply
// excludes both while it changes the registry shape or the slot table.
type Core struct {
	reg  *channel.Registry
	eng  *engine.Engine
	prot *protection.Manager
	pass *hal.Pass
	hw   *engine.Clock
	opts Options

	logger Logger

	// shape is held for reading by ticks and for writing by Apply.
	shape      sync.RWMutex
	applied    applied
	generation int32

	hwMu       sync.Mutex
	hwTicks    uint64
	hwOverruns uint64
	hwLast     time.Duration
	hwMax      time.Duration

	logicOverruns atomic.Uint64

	safe       atomic.Bool
	safeMu     sync.Mutex
	safeReason string
}

// New creates a Core over the given adapters and registers the system
// channels. Invalid tick periods fail here, never at runtime.
func New(ad hal.Adapters, opts Options) (*Core, error) {
	if opts.HardwarePeriod == 0 {
		opts.HardwarePeriod = DefaultHardwarePeriod
	}
	if opts.LogicPeriod == 0 {
		opts.LogicPeriod = DefaultLogicPeriod
	}
	if opts.HardwareBudget <= 0 {
		opts.HardwareBudget = opts.HardwarePeriod
	}
	if opts.VerifyEvery == 0 {
		opts.VerifyEvery = DefaultVerifyEvery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	hw, err := engine.NewClock(opts.HardwarePeriod)
	if err != nil {
		return nil, fmt.Errorf("hardware clock: %w", err)
	}
	logic, err := engine.NewClock(opts.LogicPeriod)
	if err != nil {
		return nil, fmt.Errorf("logic clock: %w", err)
	}

	reg := channel.NewRegistry()
	for _, d := range channel.SystemDescriptors() {
		if err := reg.Register(d); err != nil {
			return nil, fmt.Errorf("registering system channel %s: %w", d.Name, err)
		}
	}

	eng, err := engine.New(reg, logic, engine.Options{Budget: opts.LogicBudget, Now: opts.Now})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	return &Core{
		reg:    reg,
		eng:    eng,
		prot:   protection.NewManager(reg),
		pass:   hal.NewPass(reg, ad),
		hw:     hw,
		opts:   opts,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the Core and its components.
func (c *Core) SetLogger(logger Logger) {
	c.logger = logger
	c.reg.SetLogger(logger)
	c.eng.SetLogger(logger)
	c.prot.SetLogger(logger)
}

// Registry returns the channel registry. It is the only surface external
// layers use to read and write channels.
func (c *Core) Registry() *channel.Registry { return c.reg }

// Engine returns the logic engine.
func (c *Core) Engine() *engine.Engine { return c.eng }

// Protection returns the output protection manager.
func (c *Core) Protection() *protection.Manager { return c.prot }

// HardwareTick runs one hardware pass: sample inputs and measurements,
// step protection, drive outputs and refresh the system channels.
func (c *Core) HardwareTick() (res HardwarePass) {
	c.shape.RLock()
	defer c.shape.RUnlock()
	defer c.recoverTick("hardware")

	t := c.hw.Advance()
	start := c.opts.Now()

	c.pass.Sample()
	if t.Seq%c.opts.VerifyEvery == 0 {
		if err := c.reg.Verify(); err != nil {
			c.enterSafeState(err)
		}
	}
	if c.safe.Load() {
		c.pass.DriveOff()
	} else {
		c.prot.Step(t)
		c.pass.Drive(c.prot)
	}

	d := c.opts.Now().Sub(start)
	overrun := d > c.opts.HardwareBudget

	c.hwMu.Lock()
	c.hwTicks++
	c.hwLast = d
	c.hwMax = max(c.hwMax, d)
	if overrun {
		c.hwOverruns++
	}
	hwOverruns := c.hwOverruns
	c.hwMu.Unlock()

	c.reg.Store(channel.SysUptimeMS, saturateMS(c.hw.Elapsed()))
	c.reg.Store(channel.SysHWPassUS, saturateUS(d))
	c.reg.Store(channel.SysHWOverrun, b2i(overrun))
	c.reg.Store(channel.SysTotalCurrentMA, c.prot.TotalCurrentMA())
	c.reg.Store(channel.SysFaultCount, int32(c.prot.FaultCount()))
	c.reg.Store(channel.SysSafeState, b2i(c.safe.Load()))
	c.reg.Store(channel.SysOverrunCount, saturateCount(hwOverruns+c.logicOverruns.Load()))

	return HardwarePass{Tick: t, Duration: d, Overrun: overrun}
}

// LogicTick runs one logic pass and refreshes the logic system channels.
func (c *Core) LogicTick() (res engine.PassResult) {
	c.shape.RLock()
	defer c.shape.RUnlock()
	defer c.recoverTick("logic")

	res = c.eng.Tick()
	if res.Overrun {
		c.logicOverruns.Add(1)
	}
	c.reg.Store(channel.SysLogicOverrun, b2i(res.Overrun))
	c.reg.Store(channel.SysLogicPassUS, saturateUS(res.Duration))
	c.reg.Store(channel.SysLogicTicks, saturateCount(res.Tick.Seq))
	return res
}

// recoverTick turns a panic inside a tick into the safe state.
func (c *Core) recoverTick(pass string) {
	if r := recover(); r != nil {
		c.enterSafeState(fmt.Errorf("%w: %s pass: %v", ErrTickPanic, pass, r))
	}
}

// EnterSafeState drives every output off and keeps actuation off until
// ResetSafeState succeeds. Ticks keep running.
func (c *Core) EnterSafeState(reason error) {
	c.shape.RLock()
	defer c.shape.RUnlock()
	c.enterSafeState(reason)
}

// enterSafeState is EnterSafeState for callers already holding shape.
func (c *Core) enterSafeState(reason error) {
	if !c.safe.CompareAndSwap(false, true) {
		return
	}
	c.safeMu.Lock()
	c.safeReason = reason.Error()
	c.safeMu.Unlock()

	c.prot.ForceOff()
	c.pass.DriveOff()
	c.reg.Store(channel.SysSafeState, 1)
	c.logger.Error("safe state entered, all outputs off", "error", reason)
}

// ResetSafeState leaves the safe state once the registry structure checks
// out again.
func (c *Core) ResetSafeState() error {
	c.shape.Lock()
	defer c.shape.Unlock()

	if !c.safe.Load() {
		return nil
	}
	if err := c.reg.Verify(); err != nil {
		return fmt.Errorf("%w: %w", ErrSafeState, err)
	}
	c.safeMu.Lock()
	c.safeReason = ""
	c.safeMu.Unlock()
	c.safe.Store(false)
	c.reg.Store(channel.SysSafeState, 0)
	c.logger.Info("safe state cleared")
	return nil
}

// SafeState reports whether the core is in the safe state and why.
func (c *Core) SafeState() (bool, string) {
	c.safeMu.Lock()
	defer c.safeMu.Unlock()
	return c.safe.Load(), c.safeReason
}

// ClearOutput clears a latched or pending fault on power output index.
func (c *Core) ClearOutput(index int) error {
	c.shape.RLock()
	defer c.shape.RUnlock()
	return c.prot.Clear(index)
}

// ClearBridge clears a latched or pending fault on H-bridge k.
func (c *Core) ClearBridge(k int) error {
	c.shape.RLock()
	defer c.shape.RUnlock()
	return c.prot.ClearBridge(k)
}

// Shutdown drives every output off. The core stays usable.
func (c *Core) Shutdown() {
	c.shape.RLock()
	defer c.shape.RUnlock()
	c.prot.ForceOff()
	c.pass.DriveOff()
	c.logger.Info("outputs driven off for shutdown")
}

// HardwarePeriod returns the hardware tick period.
func (c *Core) HardwarePeriod() time.Duration { return c.hw.Period() }

// LogicPeriod returns the logic tick period.
func (c *Core) LogicPeriod() time.Duration { return c.eng.Clock().Period() }

// Stats returns a snapshot of runtime counters.
func (c *Core) Stats() Stats {
	c.hwMu.Lock()
	s := Stats{
		HardwareTicks:    c.hwTicks,
		HardwareOverruns: c.hwOverruns,
		LastHardwarePass: c.hwLast,
		MaxHardwarePass:  c.hwMax,
		HardwareBudget:   c.opts.HardwareBudget,
	}
	c.hwMu.Unlock()

	c.shape.RLock()
	s.Generation = c.generation
	c.shape.RUnlock()

	s.Uptime = c.hw.Elapsed()
	s.SafeState, s.SafeReason = c.SafeState()
	s.FaultCount = c.prot.FaultCount()
	s.TotalCurrentMA = c.prot.TotalCurrentMA()
	s.Logic = c.eng.Stats()
	s.Channels = c.reg.Stats()
	return s
}

func saturateMS(d time.Duration) int32 { return saturateCount(uint64(d / time.Millisecond)) }

func saturateUS(d time.Duration) int32 { return saturateCount(uint64(d / time.Microsecond)) }

func saturateCount(n uint64) int32 {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(n)
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
