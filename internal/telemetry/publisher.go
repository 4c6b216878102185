package telemetry

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pdm-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pdm-core/internal/protection"
)

// Publisher defaults.
const (
	DefaultInterval      = 100 * time.Millisecond
	DefaultStatsInterval = 5 * time.Second
)

// Logger defines the logging interface used by telemetry.
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

// Broker publishes MQTT messages. Satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// SampleWriter receives channel and core samples. Satisfied by
// *influxdb.Client.
type SampleWriter interface {
	WriteChannelSample(s influxdb.ChannelSample)
	WriteCoreSample(s influxdb.CoreSample)
}

// Source is the running core as seen by the publisher.
// Satisfied by *core.Core.
type Source interface {
	Registry() *channel.Registry
	Protection() *protection.Manager
	Stats() core.Stats
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	// Source is required.
	Source Source

	// Broker, Samples and Recorder are optional sinks.
	Broker   Broker
	Samples  SampleWriter
	Recorder *Recorder

	Topics mqtt.Topics

	// Interval between snapshots. Default: 100ms.
	Interval time.Duration

	// StatsInterval between core counter messages. Default: 5s.
	StatsInterval time.Duration

	// Classes limits published channels. Empty means every visible channel.
	Classes []channel.Class

	Now func() time.Time
}

// PublisherMetrics counts publisher activity.
type PublisherMetrics struct {
	Snapshots uint64 `json:"snapshots"`
	Published uint64 `json:"published"`
	Failed    uint64 `json:"failed"`
}

// Publisher snapshots the registry and fans the result out to MQTT,
// InfluxDB and the event recorder.
//
// Thread Safety: All methods are safe for concurrent use.
type Publisher struct {
	source        Source
	broker        Broker
	samples       SampleWriter
	recorder      *Recorder
	topics        mqtt.Topics
	interval      time.Duration
	statsInterval time.Duration
	classes       []channel.Class
	now           func() time.Time

	// Change detection for retained messages.
	mu        sync.Mutex
	states    map[channel.ID]stateKey
	outputs   map[int]statusKey
	bridges   map[int]statusKey
	lastStats time.Time
	listeners []func(ChannelState)

	snapshots atomic.Uint64
	published atomic.Uint64
	failed    atomic.Uint64

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// NewPublisher creates a publisher. Call Start to begin publishing.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = DefaultStatsInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Publisher{
		source:        opts.Source,
		broker:        opts.Broker,
		samples:       opts.Samples,
		recorder:      opts.Recorder,
		topics:        opts.Topics,
		interval:      opts.Interval,
		statsInterval: opts.StatsInterval,
		classes:       slices.Clone(opts.Classes),
		now:           opts.Now,
		states:        make(map[channel.ID]stateKey),
		outputs:       make(map[int]statusKey),
		bridges:       make(map[int]statusKey),
		done:          make(chan struct{}),
		logger:        noopLogger{},
	}, nil
}

// SetLogger sets the logger for the publisher.
func (p *Publisher) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

func (p *Publisher) getLogger() Logger {
	p.loggerMu.RLock()
	defer p.loggerMu.RUnlock()
	return p.logger
}

// OnChannelChange registers fn to receive every channel whose value or
// flags changed since the previous snapshot.
func (p *Publisher) OnChannelChange(fn func(ChannelState)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Start begins periodic publishing. Call Stop to shut down.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.loop(ctx)
}

// Stop stops publishing and waits for the loop to exit.
// Safe to call multiple times.
func (p *Publisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

func (p *Publisher) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PublishNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.PublishNow(ctx)
		}
	}
}

// ClearStateCache forgets what was last published so the next snapshot
// republishes every retained message. Call it after a broker reconnect.
func (p *Publisher) ClearStateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.states)
	clear(p.outputs)
	clear(p.bridges)
	p.lastStats = time.Time{}
}

// Metrics returns publisher counters.
func (p *Publisher) Metrics() PublisherMetrics {
	return PublisherMetrics{
		Snapshots: p.snapshots.Load(),
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
	}
}

// PublishNow takes one snapshot and publishes it.
func (p *Publisher) PublishNow(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	ts := now.UTC().Format(time.RFC3339Nano)
	reg := p.source.Registry()
	stats := p.source.Stats()

	p.publishChannels(reg, now, ts)
	p.publishOutputs(reg, ts)

	if now.Sub(p.lastStats) >= p.statsInterval {
		p.lastStats = now
		p.publishStats(stats, now)
	}
	if p.recorder != nil {
		p.recorder.Observe(ctx, reg, stats.HardwareTicks, stats.SafeReason)
	}
	p.snapshots.Add(1)
}

func (p *Publisher) wanted(c channel.Channel) bool {
	if c.Flags.Has(channel.FlagHidden) {
		return false
	}
	return len(p.classes) == 0 || slices.Contains(p.classes, c.Class)
}

func (p *Publisher) publishChannels(reg *channel.Registry, now time.Time, ts string) {
	seen := make(map[channel.ID]struct{}, len(p.states))
	for c := range reg.List(p.wanted) {
		seen[c.ID] = struct{}{}
		if p.samples != nil {
			p.samples.WriteChannelSample(influxdb.ChannelSample{
				ID:      int(c.ID),
				Name:    c.Name,
				Class:   string(c.Class),
				Value:   c.Reading(),
				Fault:   c.Flags.Has(channel.FlagFault),
				Enabled: c.Flags.Has(channel.FlagEnabled),
				Time:    now,
			})
		}

		key := stateKey{value: c.Value, flags: c.Flags}
		if prev, ok := p.states[c.ID]; ok && prev == key {
			continue
		}
		p.states[c.ID] = key

		st := newChannelState(c, ts)
		for _, fn := range p.listeners {
			fn(st)
		}
		if !p.publishJSON(p.topics.Channel(int(c.ID), mqtt.ActionState), st, true) {
			delete(p.states, c.ID)
		}
	}
	for id := range p.states {
		if _, ok := seen[id]; !ok {
			delete(p.states, id)
		}
	}
}

func (p *Publisher) publishOutputs(reg *channel.Registry, ts string) {
	prot := p.source.Protection()
	live := make(map[int]bool)

	for _, o := range prot.Outputs() {
		live[o.Index] = true
		key := statusKey{
			status:  protection.EncodeStatus(protection.Status{State: o.State, Fault: o.Fault, Latched: o.Latched}),
			duty:    o.Duty,
			retries: o.Retries,
			trips:   o.Trips,
		}
		if prev, ok := p.outputs[o.Index]; ok && prev == key {
			continue
		}
		msg := OutputStatus{OutputInfo: o, Timestamp: ts}
		if c, err := reg.Describe(channel.PowerOutputID(o.Index)); err == nil {
			msg.Name = c.Name
		}
		if p.publishJSON(p.topics.Output(o.Index, "status"), msg, true) {
			p.outputs[o.Index] = key
		}
	}
	for i := range p.outputs {
		if !live[i] {
			delete(p.outputs, i)
		}
	}

	clear(live)
	for _, b := range prot.Bridges() {
		live[b.Index] = true
		key := statusKey{
			status:  protection.EncodeBridgeStatus(protection.BridgeStatus{State: b.State, Fault: b.Fault, Latched: b.Latched}),
			duty:    b.Duty,
			retries: b.Retries,
			trips:   b.Trips,
		}
		if prev, ok := p.bridges[b.Index]; ok && prev == key {
			continue
		}
		msg := BridgeStatus{BridgeInfo: b, Timestamp: ts}
		if c, err := reg.Describe(channel.BridgeCommandID(b.Index)); err == nil {
			msg.Name = c.Name
		}
		if p.publishJSON(p.topics.Bridge(b.Index, "status"), msg, true) {
			p.bridges[b.Index] = key
		}
	}
	for k := range p.bridges {
		if !live[k] {
			delete(p.bridges, k)
		}
	}
}

func (p *Publisher) publishStats(s core.Stats, now time.Time) {
	if p.samples != nil {
		p.samples.WriteCoreSample(influxdb.CoreSample{
			HardwareTicks:  s.HardwareTicks,
			LogicTicks:     s.Logic.Ticks,
			Overruns:       s.HardwareOverruns + s.Logic.Overruns,
			MaxHardwareUS:  s.MaxHardwarePass.Microseconds(),
			MaxLogicUS:     s.Logic.MaxPass.Microseconds(),
			TotalCurrentMA: s.TotalCurrentMA,
			FaultCount:     int32(s.FaultCount), // #nosec G115 -- bounded by output and bridge count
			SafeState:      s.SafeState,
			Generation:     s.Generation,
			Time:           now,
		})
	}
	p.publishJSON(p.topics.Stats(), s, false)
}

// publishJSON returns false when a connected broker did not take the
// message, so the caller retries it on the next snapshot. While the broker
// is down nothing is sent; ClearStateCache on reconnect catches up.
func (p *Publisher) publishJSON(topic string, v any, retained bool) bool {
	if p.broker == nil || !p.broker.IsConnected() {
		return true
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.failed.Add(1)
		p.getLogger().Error("encoding telemetry message failed", "topic", topic, "error", err)
		return false
	}
	if err := p.broker.Publish(topic, payload, 1, retained); err != nil {
		p.failed.Add(1)
		p.getLogger().Warn("publishing telemetry failed", "topic", topic, "error", err)
		return false
	}
	p.published.Add(1)
	return true
}
