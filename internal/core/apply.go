package core

import (
	"errors"
	"fmt"
	"slices"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/engine"
	"github.com/nerrad567/pdm-core/internal/protection"
)

// Mode selects how Apply combines a plan with the running configuration.
type Mode uint8

// Apply modes.
const (
	// ModeReplace makes the plan the whole configuration: channels, slots,
	// outputs and bridges not named in it are removed.
	ModeReplace Mode = iota
	// ModeMerge upserts the plan into the running configuration and removes
	// only the ids listed in Plan.Remove.
	ModeMerge
)

func (m Mode) String() string {
	if m == ModeMerge {
		return "merge"
	}
	return "replace"
}

// ParseMode parses "replace" or "merge".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "replace":
		return ModeReplace, nil
	case "merge":
		return ModeMerge, nil
	}
	return ModeReplace, fmt.Errorf("%w: unknown apply mode %q", ErrInvalidPlan, s)
}

// Plan is a configuration batch: channel descriptors plus operator and
// protection configs.
//
// Telemetry sub-channels of configured outputs and the status channels of
// configured bridges are registered by Apply and need not be listed.
type Plan struct {
	Channels []channel.Descriptor
	// Remove lists ids to unregister; valid in ModeMerge only.
	Remove  []channel.ID
	Slots   []engine.SlotSpec
	Outputs []protection.OutputConfig
	Bridges []protection.BridgeConfig
}

// ApplyResult summarises a committed plan.
type ApplyResult struct {
	Generation int32 `json:"generation"`
	Upserted   int   `json:"upserted"`
	Removed    int   `json:"removed"`
	Slots      int   `json:"slots"`
	Outputs    int   `json:"outputs"`
	Bridges    int   `json:"bridges"`
}

// applied is the running slot and protection configuration.
type applied struct {
	slots   []engine.SlotSpec
	outputs []protection.OutputConfig
	bridges []protection.BridgeConfig
}

// Apply validates p against the running configuration and commits it to the
// registry, the slot table and output protection together. On any
// validation error nothing changes.
//
// Apply holds the shape lock for writing, so no tick runs while it commits.
func (c *Core) Apply(p Plan, mode Mode) (ApplyResult, error) {
	c.shape.Lock()
	defer c.shape.Unlock()

	next, batch, err := c.resolve(p, mode)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}

	var errs []error
	if err := c.reg.ValidateBatch(batch); err != nil {
		errs = append(errs, err)
	}
	classes := c.lookupAfter(batch)
	table, err := engine.Prepare(next.slots, classes)
	if err != nil {
		errs = append(errs, err)
	}
	prot, err := protection.Prepare(next.outputs, next.bridges)
	if err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, checkProtectionChannels(next, classes)...)
	if len(errs) > 0 {
		return ApplyResult{}, fmt.Errorf("%w: %w", ErrInvalidPlan, errors.Join(errs...))
	}

	if err := c.reg.ApplyBatch(batch); err != nil {
		return ApplyResult{}, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	c.eng.Commit(table)
	c.prot.Commit(prot)
	c.pass.Refresh()
	c.applied = next
	c.generation++
	c.reg.Store(channel.SysConfigGen, c.generation)

	res := ApplyResult{
		Generation: c.generation,
		Upserted:   len(batch.Upsert),
		Removed:    len(batch.Remove),
		Slots:      len(next.slots),
		Outputs:    len(next.outputs),
		Bridges:    len(next.bridges),
	}
	c.logger.Info("configuration applied",
		"mode", mode.String(),
		"generation", res.Generation,
		"upserted", res.Upserted,
		"removed", res.Removed,
		"slots", res.Slots,
		"outputs", res.Outputs,
		"bridges", res.Bridges,
	)

	if err := c.reg.Verify(); err != nil {
		c.enterSafeState(err)
	}
	return res, nil
}

// resolve computes the configuration that results from applying p, and the
// registry batch that gets there. Caller holds shape.
func (c *Core) resolve(p Plan, mode Mode) (applied, channel.Batch, error) {
	var errs []error
	for _, d := range p.Channels {
		if channel.IsSystemID(d.ID) || d.Class == channel.ClassSystem {
			errs = append(errs, fmt.Errorf("channel %d: %w", d.ID, ErrSystemChannel))
		}
	}
	for _, id := range p.Remove {
		if channel.IsSystemID(id) {
			errs = append(errs, fmt.Errorf("remove %d: %w", id, ErrSystemChannel))
		}
	}
	if mode == ModeReplace && len(p.Remove) > 0 {
		errs = append(errs, errors.New("remove is only valid in merge mode"))
	}
	if len(errs) > 0 {
		return applied{}, channel.Batch{}, errors.Join(errs...)
	}

	planned := make(map[channel.ID]channel.Descriptor, len(p.Channels))
	for _, d := range p.Channels {
		planned[d.ID] = d
	}

	var next applied
	removed := make(map[channel.ID]bool)

	switch mode {
	case ModeReplace:
		next = applied{
			slots:   slices.Clone(p.Slots),
			outputs: slices.Clone(p.Outputs),
			bridges: slices.Clone(p.Bridges),
		}
	case ModeMerge:
		for _, id := range p.Remove {
			removed[id] = true
			// Removing an output or bridge also removes its derived channels.
			if i, ok := channel.OutputIndex(id); ok {
				for _, sc := range channel.SubChannelBases {
					if sub := channel.SubChannel(sc.Base, i); c.reg.Exists(sub) {
						removed[sub] = true
					}
				}
			}
			if k, ok := bridgeIndex(id); ok && c.reg.Exists(channel.BridgeStatusID(k)) {
				removed[channel.BridgeStatusID(k)] = true
			}
		}
		next = c.merged(p, removed)
	}

	var batch channel.Batch
	batch.Upsert = append(batch.Upsert, p.Channels...)

	// Derived channels for configured outputs and bridges.
	name := func(id channel.ID) (string, bool) {
		if d, ok := planned[id]; ok {
			return d.Name, true
		}
		if removed[id] {
			return "", false
		}
		if ch, err := c.reg.Describe(id); err == nil && mode == ModeMerge {
			return ch.Name, true
		}
		return "", false
	}
	derived := make(map[channel.ID]bool)
	addDerived := func(d channel.Descriptor) {
		if _, explicit := planned[d.ID]; explicit {
			return
		}
		derived[d.ID] = true
		if mode == ModeMerge && c.reg.Exists(d.ID) && !removed[d.ID] {
			return
		}
		delete(removed, d.ID)
		batch.Upsert = append(batch.Upsert, d)
	}
	for _, o := range next.outputs {
		n, ok := name(channel.PowerOutputID(o.Index))
		if !ok {
			continue // reported by checkProtectionChannels
		}
		for _, d := range channel.TelemetryDescriptors(o.Index, n) {
			addDerived(d)
		}
	}
	for _, b := range next.bridges {
		n, ok := name(channel.BridgeCommandID(b.Index))
		if !ok {
			continue
		}
		addDerived(channel.Descriptor{
			ID:    channel.BridgeStatusID(b.Index),
			Class: channel.ClassHBridgeOutput,
			Name:  n + ".status",
			Flags: channel.FlagEnabled | channel.FlagReadOnly,
		})
	}

	if mode == ModeReplace {
		for _, id := range c.reg.IDs(func(ch channel.Channel) bool { return ch.Class != channel.ClassSystem }) {
			if _, keep := planned[id]; !keep && !derived[id] {
				removed[id] = true
			}
		}
	}
	for id := range removed {
		batch.Remove = append(batch.Remove, id)
	}
	slices.Sort(batch.Remove)
	return next, batch, nil
}

// merged overlays p onto the running configuration. Slots, outputs and
// bridges whose channels are removed are dropped.
func (c *Core) merged(p Plan, removed map[channel.ID]bool) applied {
	var next applied

	for _, s := range c.applied.slots {
		if !removed[s.Output] {
			next.slots = append(next.slots, s)
		}
	}
	for _, s := range p.Slots {
		if i := slices.IndexFunc(next.slots, func(x engine.SlotSpec) bool { return x.Output == s.Output }); i >= 0 {
			next.slots[i] = s
		} else {
			next.slots = append(next.slots, s)
		}
	}

	for _, o := range c.applied.outputs {
		if !removed[channel.PowerOutputID(o.Index)] {
			next.outputs = append(next.outputs, o)
		}
	}
	for _, o := range p.Outputs {
		if i := slices.IndexFunc(next.outputs, func(x protection.OutputConfig) bool { return x.Index == o.Index }); i >= 0 {
			next.outputs[i] = o
		} else {
			next.outputs = append(next.outputs, o)
		}
	}

	for _, b := range c.applied.bridges {
		if !removed[channel.BridgeCommandID(b.Index)] {
			next.bridges = append(next.bridges, b)
		}
	}
	for _, b := range p.Bridges {
		if i := slices.IndexFunc(next.bridges, func(x protection.BridgeConfig) bool { return x.Index == b.Index }); i >= 0 {
			next.bridges[i] = b
		} else {
			next.bridges = append(next.bridges, b)
		}
	}
	return next
}

// lookupAfter returns the class of each channel as it will be once batch is
// applied.
func (c *Core) lookupAfter(batch channel.Batch) engine.ClassLookup {
	upserted := make(map[channel.ID]channel.Class, len(batch.Upsert))
	for _, d := range batch.Upsert {
		upserted[d.ID] = d.Class
	}
	removed := make(map[channel.ID]bool, len(batch.Remove))
	for _, id := range batch.Remove {
		removed[id] = true
	}
	return func(id channel.ID) (channel.Class, bool) {
		if cl, ok := upserted[id]; ok {
			return cl, true
		}
		if removed[id] {
			return "", false
		}
		ch, err := c.reg.Describe(id)
		if err != nil {
			return "", false
		}
		return ch.Class, true
	}
}

// checkProtectionChannels verifies that every output and bridge has its
// command channel, and every output source exists.
func checkProtectionChannels(next applied, classes engine.ClassLookup) []error {
	var errs []error
	for _, o := range next.outputs {
		id := channel.PowerOutputID(o.Index)
		if cl, ok := classes(id); !ok || cl != channel.ClassPowerOutput {
			errs = append(errs, fmt.Errorf("output %d: channel %d is not a registered power output", o.Index, id))
		}
		if o.Source != nil {
			if _, ok := classes(*o.Source); !ok {
				errs = append(errs, fmt.Errorf("output %d: source channel %d not registered", o.Index, *o.Source))
			}
		}
	}
	for _, b := range next.bridges {
		id := channel.BridgeCommandID(b.Index)
		if cl, ok := classes(id); !ok || cl != channel.ClassHBridgeOutput {
			errs = append(errs, fmt.Errorf("bridge %d: channel %d is not a registered H-bridge", b.Index, id))
		}
	}
	return errs
}

// bridgeIndex returns k when id is the command channel of bridge k.
func bridgeIndex(id channel.ID) (int, bool) {
	if id < channel.HBridgeBase || id >= channel.HBridgeBase+2*channel.MaxHBridges || (id-channel.HBridgeBase)%2 != 0 {
		return 0, false
	}
	return int(id-channel.HBridgeBase) / 2, true
}

// Applied returns a copy of the running slot, output and bridge configs.
func (c *Core) Applied() Plan {
	c.shape.RLock()
	defer c.shape.RUnlock()
	return Plan{
		Slots:   slices.Clone(c.applied.slots),
		Outputs: slices.Clone(c.applied.outputs),
		Bridges: slices.Clone(c.applied.bridges),
	}
}

// Generation returns the number of plans committed so far.
func (c *Core) Generation() int32 {
	c.shape.RLock()
	defer c.shape.RUnlock()
	return c.generation
}
