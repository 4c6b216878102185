package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/infrastructure/mqtt"
)

// Subscriber registers MQTT handlers. Satisfied by *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Controller is the part of the core that commands may reach.
// Satisfied by *core.Core.
type Controller interface {
	Registry() *channel.Registry
	ClearOutput(index int) error
	ClearBridge(k int) error
	ResetSafeState() error
}

// IngressMetrics counts handled commands.
type IngressMetrics struct {
	Applied  uint64 `json:"applied"`
	Rejected uint64 `json:"rejected"`
}

// Ingress applies MQTT commands to the core:
//
//	pdm/{site}/channel/{id}/set       integer, true/false/on/off, or {"value": n}
//	pdm/{site}/channel/{id}/enable    true/false/1/0, or {"enabled": b}
//	pdm/{site}/output/{index}/clear   any payload
//	pdm/{site}/bridge/{index}/clear   any payload
//	pdm/{site}/safe_state/reset       any payload
type Ingress struct {
	ctl    Controller
	sub    Subscriber
	topics mqtt.Topics

	applied  atomic.Uint64
	rejected atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewIngress creates an ingress. Call Start to subscribe.
func NewIngress(ctl Controller, sub Subscriber, topics mqtt.Topics) *Ingress {
	return &Ingress{ctl: ctl, sub: sub, topics: topics, logger: noopLogger{}}
}

// SetLogger sets the logger for applied commands.
func (in *Ingress) SetLogger(logger Logger) {
	in.loggerMu.Lock()
	in.logger = logger
	in.loggerMu.Unlock()
}

func (in *Ingress) getLogger() Logger {
	in.loggerMu.RLock()
	defer in.loggerMu.RUnlock()
	return in.logger
}

// Start subscribes to every command topic.
func (in *Ingress) Start() error {
	topics := []string{
		in.topics.AllChannel(mqtt.ActionSet),
		in.topics.AllChannel(mqtt.ActionEnable),
		in.topics.AllOutput(mqtt.ActionClear),
		in.topics.AllBridge(mqtt.ActionClear),
		in.topics.SafeStateReset(),
	}
	var errs []error
	for _, t := range topics {
		if err := in.sub.Subscribe(t, 1, in.Handle); err != nil {
			errs = append(errs, fmt.Errorf("subscribing %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

// Metrics returns command counters.
func (in *Ingress) Metrics() IngressMetrics {
	return IngressMetrics{Applied: in.applied.Load(), Rejected: in.rejected.Load()}
}

// Handle applies one command message. It is the MQTT handler for every
// command topic.
func (in *Ingress) Handle(topic string, payload []byte) error {
	err := in.handle(topic, payload)
	if err != nil {
		in.rejected.Add(1)
		return err
	}
	in.applied.Add(1)
	in.getLogger().Info("command applied", "topic", topic)
	return nil
}

func (in *Ingress) handle(topic string, payload []byte) error {
	if topic == in.topics.SafeStateReset() {
		return in.ctl.ResetSafeState()
	}

	kind, index, action, ok := in.topics.Parse(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	switch {
	case kind == "channel" && (action == mqtt.ActionSet || action == mqtt.ActionEnable):
		if index >= channel.MaxID {
			return fmt.Errorf("%w: %d", channel.ErrNotFound, index)
		}
		id := channel.ID(index) // #nosec G115 -- bounded by MaxID
		reg := in.ctl.Registry()
		if action == mqtt.ActionSet {
			v, err := ParseValue(payload)
			if err != nil {
				return err
			}
			return reg.Set(id, v)
		}
		on, err := ParseEnabled(payload)
		if err != nil {
			return err
		}
		return reg.SetEnabled(id, on)
	case kind == "output" && action == mqtt.ActionClear:
		return in.ctl.ClearOutput(index)
	case kind == "bridge" && action == mqtt.ActionClear:
		return in.ctl.ClearBridge(index)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

// ParseValue decodes a channel value payload.
func ParseValue(payload []byte) (int32, error) {
	s := strings.TrimSpace(string(payload))
	if strings.HasPrefix(s, "{") {
		var msg struct {
			Value *int64 `json:"value"`
		}
		if err := json.Unmarshal([]byte(s), &msg); err != nil || msg.Value == nil {
			return 0, fmt.Errorf("%w: expected {\"value\": n}", ErrInvalidPayload)
		}
		s = strconv.FormatInt(*msg.Value, 10)
	}
	switch strings.ToLower(s) {
	case "true", "on":
		return 1, nil
	case "false", "off":
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a 32-bit integer", ErrInvalidPayload, s)
	}
	return int32(v), nil
}

// ParseEnabled decodes an enable payload.
func ParseEnabled(payload []byte) (bool, error) {
	p := bytes.TrimSpace(payload)
	if bytes.HasPrefix(p, []byte("{")) {
		var msg struct {
			Enabled *bool `json:"enabled"`
		}
		if err := json.Unmarshal(p, &msg); err != nil || msg.Enabled == nil {
			return false, fmt.Errorf("%w: expected {\"enabled\": bool}", ErrInvalidPayload)
		}
		return *msg.Enabled, nil
	}
	switch strings.ToLower(string(p)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidPayload, p)
}
