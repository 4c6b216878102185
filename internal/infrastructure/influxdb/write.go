package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementChannel = "pdm_channel"
	MeasurementCore    = "pdm_core"
	MeasurementEvent   = "pdm_event"
)

// ChannelSample is one channel reading taken from a registry snapshot.
type ChannelSample struct {
	ID      int
	Name    string
	Class   string
	Value   int32
	Fault   bool
	Enabled bool
	Time    time.Time
}

// CoreSample is a snapshot of the control core's counters.
type CoreSample struct {
	HardwareTicks  uint64
	LogicTicks     uint64
	Overruns       uint64
	MaxHardwareUS  int64
	MaxLogicUS     int64
	TotalCurrentMA int32
	FaultCount     int32
	SafeState      bool
	Generation     int32
	Time           time.Time
}

// WriteChannelSample writes one channel value.
//
// Tags: pdm, channel_id, name, class. Fields: value, fault, enabled.
func (c *Client) WriteChannelSample(s ChannelSample) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(
		MeasurementChannel,
		map[string]string{
			"pdm":        c.site,
			"channel_id": strconv.Itoa(s.ID),
			"name":       s.Name,
			"class":      s.Class,
		},
		map[string]any{
			"value":   int64(s.Value),
			"fault":   s.Fault,
			"enabled": s.Enabled,
		},
		at(s.Time),
	)
	c.writer.WritePoint(point)
}

// WriteCoreSample writes the core counters.
func (c *Client) WriteCoreSample(s CoreSample) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(
		MeasurementCore,
		map[string]string{"pdm": c.site},
		map[string]any{
			"hardware_ticks":   s.HardwareTicks,
			"logic_ticks":      s.LogicTicks,
			"overruns":         s.Overruns,
			"max_hardware_us":  s.MaxHardwareUS,
			"max_logic_us":     s.MaxLogicUS,
			"total_current_ma": int64(s.TotalCurrentMA),
			"fault_count":      int64(s.FaultCount),
			"safe_state":       s.SafeState,
			"generation":       int64(s.Generation),
		},
		at(s.Time),
	)
	c.writer.WritePoint(point)
}

// WriteEvent writes a protection event marker, so trips line up with the
// channel series on a dashboard.
func (c *Client) WriteEvent(kind, target string, channelID int, fault string, currentMA int32, t time.Time) {
	if !c.IsConnected() {
		return
	}
	point := write.NewPoint(
		MeasurementEvent,
		map[string]string{
			"pdm":        c.site,
			"kind":       kind,
			"target":     target,
			"channel_id": strconv.Itoa(channelID),
		},
		map[string]any{
			"fault":      fault,
			"current_ma": int64(currentMA),
		},
		at(t),
	)
	c.writer.WritePoint(point)
}

func at(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
