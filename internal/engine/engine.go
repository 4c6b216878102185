package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/operator"
)

// Default pass budget and overrun log interval.
const (
	DefaultBudget             = 2 * time.Millisecond
	DefaultOverrunLogInterval = 5 * time.Second
)

// Logger defines the logging interface used by the Engine.
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

// Channels is the registry surface the engine reads and writes.
// *channel.Registry satisfies it.
type Channels interface {
	Get(id channel.ID) int32
	Store(id channel.ID, v int32)
	Flags(id channel.ID) (channel.Flags, bool)
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	// Budget is the pass duration above which an overrun is reported.
	Budget time.Duration
	// OverrunLogInterval rate-limits overrun log lines.
	OverrunLogInterval time.Duration
	// Now is the wall clock used only to time passes.
	Now func() time.Time
}

// PassResult describes one completed logic pass.
type PassResult struct {
	Tick     operator.Tick
	Duration time.Duration
	Overrun  bool
	Slots    int
}

// Stats summarises engine activity.
type Stats struct {
	Ticks        uint64        `json:"ticks"`
	Overruns     uint64        `json:"overruns"`
	Overrunning  bool          `json:"overrunning"`
	LastPass     time.Duration `json:"last_pass_ns"`
	MaxPass      time.Duration `json:"max_pass_ns"`
	Budget       time.Duration `json:"budget_ns"`
	Slots        int           `json:"slots"`
	EnabledSlots int           `json:"enabled_slots"`
}

// SlotInfo is a snapshot of one slot.
type SlotInfo struct {
	Output  channel.ID    `json:"output"`
	Inputs  []channel.ID  `json:"inputs"`
	Kind    operator.Kind `json:"kind"`
	Enabled bool          `json:"enabled"`
}

// Engine evaluates the slot table once per logic tick.
//
// Slots run in registration order, not dependency order: a slot reading the
// output of a later slot sees that channel's value from the previous tick.
//
// Tick, Commit and SetSlotEnabled are serialised by an internal mutex.
type Engine struct {
	ch    Channels
	clock *Clock
	opts  Options

	mu    sync.Mutex
	slots []*slot

	ticks       uint64
	overruns    uint64
	overrunning bool
	lastPass    time.Duration
	maxPass     time.Duration

	lastOverrunLog time.Time
	suppressed     uint64

	logger Logger
}

// New creates an engine with an empty slot table.
func New(ch Channels, clock *Clock, opts Options) (*Engine, error) {
	if ch == nil {
		return nil, fmt.Errorf("engine: channels required")
	}
	if clock == nil {
		return nil, fmt.Errorf("%w: no clock", ErrInvalidPeriod)
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.OverrunLogInterval <= 0 {
		opts.OverrunLogInterval = DefaultOverrunLogInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		ch:     ch,
		clock:  clock,
		opts:   opts,
		logger: noopLogger{},
	}, nil
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Clock returns the engine's tick source.
func (e *Engine) Clock() *Clock { return e.clock }

// Tick runs one logic pass.
func (e *Engine) Tick() PassResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := e.clock.Advance()
	start := e.opts.Now()

	for _, s := range e.slots {
		if !s.enabled {
			continue
		}
		in := s.buf[:s.n]
		for i := range in {
			in[i] = e.ch.Get(s.inputs[i])
		}
		v := s.op.Evaluate(in, t)

		if f, ok := e.ch.Flags(s.output); ok && f.Has(channel.FlagOverride) {
			continue
		}
		e.ch.Store(s.output, v)
	}

	d := e.opts.Now().Sub(start)
	e.ticks++
	e.lastPass = d
	e.maxPass = max(e.maxPass, d)
	e.overrunning = d > e.opts.Budget
	if e.overrunning {
		e.overruns++
		e.reportOverrun(d)
	}

	return PassResult{Tick: t, Duration: d, Overrun: e.overrunning, Slots: len(e.slots)}
}

// reportOverrun logs at most once per OverrunLogInterval. Caller holds mu.
func (e *Engine) reportOverrun(d time.Duration) {
	now := e.opts.Now()
	if !e.lastOverrunLog.IsZero() && now.Sub(e.lastOverrunLog) < e.opts.OverrunLogInterval {
		e.suppressed++
		return
	}
	e.logger.Warn("logic pass over budget",
		"duration", d,
		"budget", e.opts.Budget,
		"overruns", e.overruns,
		"suppressed", e.suppressed,
	)
	e.lastOverrunLog = now
	e.suppressed = 0
}

// Commit swaps in a prepared table.
//
// A slot whose output id and operator kind are unchanged keeps its runtime
// state when its operator accepts the new config through Retune; otherwise
// the fresh instance built by Prepare is used.
func (e *Engine) Commit(t *Table) {
	e.mu.Lock()
	defer e.mu.Unlock()

	old := make(map[channel.ID]*slot, len(e.slots))
	for _, s := range e.slots {
		old[s.output] = s
	}

	carried := 0
	for _, s := range t.slots {
		prev, ok := old[s.output]
		if !ok || prev.cfg.Kind() != s.cfg.Kind() {
			continue
		}
		if r, ok := prev.op.(operator.Retuner); ok && r.Retune(s.cfg) {
			s.op = prev.op
			carried++
		}
	}

	e.slots = t.slots
	e.logger.Info("slot table committed", "slots", len(t.slots), "carried", carried)
}

// SetSlotEnabled enables or disables the slot writing output. A disabled
// slot is skipped; its output keeps the last written value.
func (e *Engine) SetSlotEnabled(output channel.ID, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.slots {
		if s.output == output {
			if !enabled {
				s.op.Reset()
			}
			s.enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("%w: output %d", ErrSlotNotFound, output)
}

// Slots returns a snapshot of the slot table in evaluation order.
func (e *Engine) Slots() []SlotInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]SlotInfo, 0, len(e.slots))
	for _, s := range e.slots {
		out = append(out, SlotInfo{
			Output:  s.output,
			Inputs:  append([]channel.ID(nil), s.inputs[:s.n]...),
			Kind:    s.cfg.Kind(),
			Enabled: s.enabled,
		})
	}
	return out
}

// Outputs returns the output ids of all slots.
func (e *Engine) Outputs() []channel.ID {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]channel.ID, len(e.slots))
	for i, s := range e.slots {
		out[i] = s.output
	}
	return out
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	enabled := 0
	for _, s := range e.slots {
		if s.enabled {
			enabled++
		}
	}
	return Stats{
		Ticks:        e.ticks,
		Overruns:     e.overruns,
		Overrunning:  e.overrunning,
		LastPass:     e.lastPass,
		MaxPass:      e.maxPass,
		Budget:       e.opts.Budget,
		Slots:        len(e.slots),
		EnabledSlots: enabled,
	}
}
