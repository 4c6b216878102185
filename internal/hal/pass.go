package hal

import (
	"slices"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// Channels is the registry surface used by the hardware pass.
// *channel.Registry satisfies it.
type Channels interface {
	Store(id channel.ID, v int32)
	Flags(id channel.ID) (channel.Flags, bool)
	Exists(id channel.ID) bool
	IDs(pred channel.Predicate) []channel.ID
}

// Pass is the 1 kHz hardware refresh. Sample runs at the start of the
// hardware tick, Drive at the end after protection has decided the duties.
//
// The set of inputs, outputs and bridges is cached by Refresh and must be
// refreshed after every registry shape change.
type Pass struct {
	ch Channels
	ad Adapters

	inputs  []input
	outputs []int
	bridges []int
}

type input struct {
	id      channel.ID
	digital bool
}

// NewPass creates a pass over the given registry and adapters.
func NewPass(ch Channels, ad Adapters) *Pass {
	p := &Pass{ch: ch, ad: ad}
	p.Refresh()
	return p
}

// Refresh rescans the registry for physical inputs, power outputs and
// H-bridges. Outputs and bridges that are no longer registered are driven
// off, since no later pass will reach them.
func (p *Pass) Refresh() {
	oldOutputs := append([]int(nil), p.outputs...)
	oldBridges := append([]int(nil), p.bridges...)

	p.inputs = p.inputs[:0]
	for _, id := range p.ch.IDs(func(c channel.Channel) bool { return c.Class.IsPhysicalInput() }) {
		p.inputs = append(p.inputs, input{
			id:      id,
			digital: channel.ClassAllowed(id, channel.ClassDigitalInput),
		})
	}

	p.outputs = p.outputs[:0]
	for i := 0; i < channel.MaxPowerOutputs; i++ {
		if p.ch.Exists(channel.PowerOutputID(i)) {
			p.outputs = append(p.outputs, i)
		}
	}
	p.bridges = p.bridges[:0]
	for k := 0; k < channel.MaxHBridges; k++ {
		if p.ch.Exists(channel.BridgeCommandID(k)) {
			p.bridges = append(p.bridges, k)
		}
	}

	if p.ad.Outputs != nil {
		for _, i := range oldOutputs {
			if !slices.Contains(p.outputs, i) {
				p.ad.Outputs.Drive(i, 0)
			}
		}
	}
	if p.ad.Bridges != nil {
		for _, k := range oldBridges {
			if !slices.Contains(p.bridges, k) {
				p.ad.Bridges.DriveBridge(k, BridgeCoast, 0)
			}
		}
	}
}

// InputCount returns the number of cached physical inputs.
func (p *Pass) InputCount() int { return len(p.inputs) }

// Sample reads every physical input, output measurement, bridge measurement
// and board measurement into the registry.
//
// Digital inputs with the inverted flag are inverted; inputs with the
// override flag are skipped so an external writer can force them.
func (p *Pass) Sample() {
	if p.ad.Inputs != nil {
		for _, in := range p.inputs {
			flags, ok := p.ch.Flags(in.id)
			if !ok || flags.Has(channel.FlagOverride) {
				continue
			}
			v := p.ad.Inputs.Sample(in.id)
			if in.digital && flags.Has(channel.FlagInverted) {
				v = b2i(v == 0)
			}
			p.ch.Store(in.id, v)
		}
	}

	if p.ad.Outputs != nil {
		for _, i := range p.outputs {
			m := p.ad.Outputs.Measure(i)
			p.ch.Store(channel.SubChannel(channel.CurrentBase, i), m.CurrentMA)
			p.ch.Store(channel.SubChannel(channel.VoltageBase, i), m.VoltageMV)
			p.ch.Store(channel.SubChannel(channel.DiagBase, i), m.Diag)
		}
	}

	if p.ad.Bridges != nil {
		for _, k := range p.bridges {
			m := p.ad.Bridges.MeasureBridge(k)
			p.ch.Store(channel.SysBridgeCurrent+channel.ID(k), m.CurrentMA)
			p.ch.Store(channel.SysBridgeDiag+channel.ID(k), m.Diag)
		}
	}

	if p.ad.System != nil {
		p.ch.Store(channel.SysSupplyMV, p.ad.System.SupplyMV())
		p.ch.Store(channel.SysBoardTempC, p.ad.System.BoardTempC())
	}
}

// Drive applies the commands from src to the adapters.
func (p *Pass) Drive(src DriveSource) {
	if p.ad.Outputs != nil {
		for _, i := range p.outputs {
			duty, ok := src.OutputDuty(i)
			if !ok {
				duty = 0
			}
			p.ad.Outputs.Drive(i, duty)
		}
	}
	if p.ad.Bridges != nil {
		for _, k := range p.bridges {
			mode, duty, ok := src.BridgeDrive(k)
			if !ok {
				mode, duty = BridgeCoast, 0
			}
			p.ad.Bridges.DriveBridge(k, mode, duty)
		}
	}
}

// DriveOff commands every known output off and every bridge to coast.
func (p *Pass) DriveOff() {
	if p.ad.Outputs != nil {
		for _, i := range p.outputs {
			p.ad.Outputs.Drive(i, 0)
		}
	}
	if p.ad.Bridges != nil {
		for _, k := range p.bridges {
			p.ad.Bridges.DriveBridge(k, BridgeCoast, 0)
		}
	}
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
