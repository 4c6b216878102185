package telemetry

import (
	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/protection"
)

// ChannelState is the payload of pdm/{site}/channel/{id}/state.
type ChannelState struct {
	ID        channel.ID        `json:"id"`
	Name      string            `json:"name"`
	Class     channel.Class     `json:"class"`
	Direction channel.Direction `json:"direction"`
	Unit      string            `json:"unit,omitempty"`
	Value     int32             `json:"value"`
	Raw       int32             `json:"raw"`
	Flags     []string          `json:"flags"`
	Timestamp string            `json:"ts"`
}

func newChannelState(c channel.Channel, ts string) ChannelState {
	return ChannelState{
		ID:        c.ID,
		Name:      c.Name,
		Class:     c.Class,
		Direction: c.Direction,
		Unit:      c.Unit,
		Value:     c.Reading(),
		Raw:       c.Value,
		Flags:     c.Flags.Names(),
		Timestamp: ts,
	}
}

// stateKey is what a retained channel message is deduplicated on.
type stateKey struct {
	value int32
	flags channel.Flags
}

// OutputStatus is the payload of pdm/{site}/output/{index}/status.
type OutputStatus struct {
	protection.OutputInfo
	Name      string `json:"name,omitempty"`
	Timestamp string `json:"ts"`
}

// BridgeStatus is the payload of pdm/{site}/bridge/{index}/status.
type BridgeStatus struct {
	protection.BridgeInfo
	Name      string `json:"name,omitempty"`
	Timestamp string `json:"ts"`
}

// statusKey deduplicates output and bridge status messages. Current is
// left out: it moves every pass and is carried by the channel topics.
type statusKey struct {
	status  int32
	duty    int32
	retries int
	trips   uint64
}
