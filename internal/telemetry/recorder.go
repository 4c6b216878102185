package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/pdm-core/internal/audit"
	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pdm-core/internal/protection"
)

// EventWriter receives protection events as time-series points.
// Satisfied by *influxdb.Client.
type EventWriter interface {
	WriteEvent(kind, target string, channelID int, fault string, currentMA int32, t time.Time)
}

// RecorderOptions configures a Recorder. Every sink is optional.
type RecorderOptions struct {
	Repository audit.Repository
	Events     EventWriter
	Broker     Broker
	Topics     mqtt.Topics
	Now        func() time.Time
}

// Recorder turns protection status transitions into audit events.
//
// It only sees what it is shown: transitions that start and finish between
// two observations are not recorded. The first observation of an output,
// bridge or the safe state seeds the tracker without emitting anything.
type Recorder struct {
	repo   audit.Repository
	events EventWriter
	broker Broker
	topics mqtt.Topics
	now    func() time.Time

	mu        sync.Mutex
	outputs   map[int]*tracker
	bridges   map[int]*tracker
	safe      bool
	seeded    bool
	listeners []func(audit.Event)

	logger   Logger
	loggerMu sync.RWMutex
}

// phase folds output and bridge states onto one lifecycle.
type phase uint8

const (
	phaseOff phase = iota
	phaseStarting
	phaseOn
	phaseFault
	phaseRetry
)

type observation struct {
	phase   phase
	state   string
	fault   protection.FaultCode
	latched bool
	current int32
}

type tracker struct {
	last     observation
	retrying bool
}

// NewRecorder creates a recorder.
func NewRecorder(opts RecorderOptions) *Recorder {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		repo:    opts.Repository,
		events:  opts.Events,
		broker:  opts.Broker,
		topics:  opts.Topics,
		now:     now,
		outputs: make(map[int]*tracker),
		bridges: make(map[int]*tracker),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for sink failures.
func (r *Recorder) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Recorder) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// OnEvent registers fn to receive every recorded event.
func (r *Recorder) OnEvent(fn func(audit.Event)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func outputObservation(v, current int32) observation {
	st := protection.DecodeStatus(v)
	o := observation{state: st.State.String(), fault: st.Fault, latched: st.Latched, current: current}
	switch st.State {
	case protection.StateSoftStart:
		o.phase = phaseStarting
	case protection.StateOn:
		o.phase = phaseOn
	case protection.StateFault:
		o.phase = phaseFault
	case protection.StateRetryWait:
		o.phase = phaseRetry
	default:
		o.phase = phaseOff
	}
	return o
}

func bridgeObservation(v, current int32) observation {
	st := protection.DecodeBridgeStatus(v)
	o := observation{state: st.State.String(), fault: st.Fault, latched: st.Latched, current: current}
	switch st.State {
	case protection.BridgeDeadTime:
		o.phase = phaseStarting
	case protection.BridgeForward, protection.BridgeReverse:
		o.phase = phaseOn
	case protection.BridgeFault:
		o.phase = phaseFault
	case protection.BridgeRetryWait:
		o.phase = phaseRetry
	default:
		o.phase = phaseOff
	}
	return o
}

// advance records cur and returns the transitions from the previous
// observation, in the order they happened.
func (t *tracker) advance(cur observation) []audit.Kind {
	prev := t.last
	t.last = cur

	var kinds []audit.Kind
	faulted := prev.phase == phaseFault || prev.phase == phaseRetry || prev.latched
	if cur.phase == phaseFault && prev.phase != phaseFault {
		kinds = append(kinds, audit.KindTrip)
		t.retrying = false
	}
	if cur.latched && !prev.latched {
		kinds = append(kinds, audit.KindLatch)
	}
	if faulted && !prev.latched && (cur.phase == phaseStarting || cur.phase == phaseOn) {
		kinds = append(kinds, audit.KindRetry)
		t.retrying = true
	}
	if t.retrying && cur.phase == phaseOn {
		kinds = append(kinds, audit.KindRecover)
		t.retrying = false
	}
	if faulted && cur.phase == phaseOff {
		kinds = append(kinds, audit.KindClear)
		t.retrying = false
	}
	return kinds
}

// Observe reads the status channels from reg, records every transition
// since the previous call and returns the recorded events.
func (r *Recorder) Observe(ctx context.Context, reg *channel.Registry, tick uint64, safeReason string) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []audit.Event
	at := r.now()

	seen := make(map[int]bool, channel.MaxPowerOutputs)
	last := channel.StatusBase + channel.MaxPowerOutputs - 1
	for c := range reg.List(channel.InRange(channel.StatusBase, last)) {
		i := int(c.ID - channel.StatusBase)
		seen[i] = true
		cur := outputObservation(c.Value, reg.Get(channel.SubChannel(channel.CurrentBase, i)))
		id := channel.PowerOutputID(i)
		out = r.track(out, r.outputs, i, cur, func(k audit.Kind) audit.Event {
			return r.event(reg, k, audit.TargetOutput, id, i, cur, tick, at)
		})
	}
	prune(r.outputs, seen)

	clear(seen)
	for k := range channel.MaxHBridges {
		v, ok := reg.Raw(channel.BridgeStatusID(k))
		if !ok {
			continue
		}
		seen[k] = true
		cur := bridgeObservation(v, reg.Get(channel.SysBridgeCurrent+channel.ID(k)))
		id := channel.BridgeCommandID(k)
		out = r.track(out, r.bridges, k, cur, func(kind audit.Kind) audit.Event {
			return r.event(reg, kind, audit.TargetBridge, id, k, cur, tick, at)
		})
	}
	prune(r.bridges, seen)

	safe := reg.Get(channel.SysSafeState) != 0
	if r.seeded && safe != r.safe {
		e := audit.Event{
			OccurredAt: at,
			Tick:       tick,
			Kind:       audit.KindSafeReset,
			Target:     audit.TargetSystem,
			ChannelID:  int(channel.SysSafeState),
			Name:       "sys.safe_state",
		}
		if safe {
			e.Kind = audit.KindSafeState
			e.Detail = map[string]any{"reason": safeReason}
		}
		out = append(out, e)
	}
	r.safe = safe
	r.seeded = true

	for i := range out {
		r.emit(ctx, &out[i])
	}
	return out
}

func (r *Recorder) track(out []audit.Event, trackers map[int]*tracker, i int, cur observation, mk func(audit.Kind) audit.Event) []audit.Event {
	t, ok := trackers[i]
	if !ok {
		trackers[i] = &tracker{last: cur}
		return out
	}
	for _, k := range t.advance(cur) {
		out = append(out, mk(k))
	}
	return out
}

func prune(trackers map[int]*tracker, seen map[int]bool) {
	for i := range trackers {
		if !seen[i] {
			delete(trackers, i)
		}
	}
}

func (r *Recorder) event(reg *channel.Registry, k audit.Kind, target string, id channel.ID, index int, o observation, tick uint64, at time.Time) audit.Event {
	e := audit.Event{
		OccurredAt: at,
		Tick:       tick,
		Kind:       k,
		Target:     target,
		ChannelID:  int(id),
		State:      o.state,
		CurrentMA:  o.current,
		Detail:     map[string]any{"index": index},
	}
	if o.fault != protection.FaultNone {
		e.Fault = o.fault.String()
	}
	if c, err := reg.Describe(id); err == nil {
		e.Name = c.Name
	}
	return e
}

// emit sends e to every configured sink. Sink failures are logged and
// never stop the other sinks.
func (r *Recorder) emit(ctx context.Context, e *audit.Event) {
	logger := r.getLogger()
	if r.repo != nil {
		if err := r.repo.Record(ctx, e); err != nil {
			logger.Warn("recording protection event failed", "kind", e.Kind, "error", err)
		}
	}
	if r.events != nil {
		r.events.WriteEvent(string(e.Kind), e.Target, e.ChannelID, e.Fault, e.CurrentMA, e.OccurredAt)
	}
	if r.broker != nil && r.broker.IsConnected() {
		payload, err := json.Marshal(e)
		if err == nil {
			err = r.broker.Publish(r.topics.Events(), payload, 1, false)
		}
		if err != nil {
			logger.Warn("publishing protection event failed", "kind", e.Kind, "error", err)
		}
	}
	for _, fn := range r.listeners {
		fn(*e)
	}
	logger.Info("protection event",
		"kind", e.Kind,
		"target", e.Target,
		"channel_id", e.ChannelID,
		"fault", e.Fault,
	)
}
