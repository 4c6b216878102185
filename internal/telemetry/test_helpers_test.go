package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pdm-core/internal/audit"
	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/hal"
	"github.com/nerrad567/pdm-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pdm-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pdm-core/internal/protection"
)

var testTopics = mqtt.NewTopics("van")

var fixedNow = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

type message struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeBroker records publishes and subscriptions.
type fakeBroker struct {
	mu        sync.Mutex
	connected bool
	fail      bool
	messages  []message
	handlers  map[string]mqtt.MessageHandler
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{connected: true, handlers: make(map[string]mqtt.MessageHandler)}
}

func (b *fakeBroker) Publish(topic string, payload []byte, _ byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return mqtt.ErrPublishFailed
	}
	b.messages = append(b.messages, message{topic: topic, payload: payload, retained: retained})
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) setConnected(on bool) {
	b.mu.Lock()
	b.connected = on
	b.mu.Unlock()
}

// take returns and forgets the messages published so far.
func (b *fakeBroker) take() []message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.messages
	b.messages = nil
	return out
}

func withPrefix(msgs []message, prefix string) []message {
	var out []message
	for _, m := range msgs {
		if strings.HasPrefix(m.topic, prefix) {
			out = append(out, m)
		}
	}
	return out
}

// fakeSamples records influx writes.
type fakeSamples struct {
	mu       sync.Mutex
	channels []influxdb.ChannelSample
	cores    []influxdb.CoreSample
	events   []string
}

func (f *fakeSamples) WriteChannelSample(s influxdb.ChannelSample) {
	f.mu.Lock()
	f.channels = append(f.channels, s)
	f.mu.Unlock()
}

func (f *fakeSamples) WriteCoreSample(s influxdb.CoreSample) {
	f.mu.Lock()
	f.cores = append(f.cores, s)
	f.mu.Unlock()
}

func (f *fakeSamples) WriteEvent(kind, _ string, _ int, _ string, _ int32, _ time.Time) {
	f.mu.Lock()
	f.events = append(f.events, kind)
	f.mu.Unlock()
}

// memRepo is an in-memory audit.Repository.
type memRepo struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *memRepo) Record(_ context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = "evt-test"
	r.events = append(r.events, *e)
	return nil
}

func (r *memRepo) List(context.Context, audit.Filter) (*audit.ListResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return &audit.ListResult{Events: r.events, Total: len(r.events)}, nil
}

func (r *memRepo) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func newCore(t *testing.T, sim *hal.Sim) *core.Core {
	t.Helper()
	c, err := core.New(sim.Adapters(), core.Options{Now: fixedNow})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

// heaterPlan configures output 0 as "heater" with the given retry budget.
func heaterPlan(retries int) core.Plan {
	return core.Plan{
		Channels: []channel.Descriptor{
			{ID: 100, Class: channel.ClassPowerOutput, Name: "heater", Max: 1, Flags: channel.FlagEnabled},
			{ID: 200, Class: channel.ClassVirtualNumber, Name: "setpoint", Max: 1000, Flags: channel.FlagEnabled},
		},
		Outputs: []protection.OutputConfig{
			{Index: 0, CurrentLimitMA: 15000, RetryCount: retries, RetryDelayMS: 2},
		},
	}
}

func applyPlan(t *testing.T, c *core.Core, p core.Plan) {
	t.Helper()
	if _, err := c.Apply(p, core.ModeReplace); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
}

func kinds(events []audit.Event) []audit.Kind {
	out := make([]audit.Kind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

func decode[T any](t *testing.T, payload []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		t.Fatalf("payload %s: %v", payload, err)
	}
	return v
}
