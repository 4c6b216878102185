package layout

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/core"
	"github.com/nerrad567/pdm-core/internal/engine"
	"github.com/nerrad567/pdm-core/internal/operator"
	"github.com/nerrad567/pdm-core/internal/protection"
)

// Version is the only layout document version.
const Version = 1

// Document is the YAML form of a layout.
type Document struct {
	Version     int           `yaml:"version"`
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Mode        string        `yaml:"mode"`
	Channels    []ChannelSpec `yaml:"channels"`
	Slots       []SlotDoc     `yaml:"slots"`
	Outputs     []OutputSpec  `yaml:"outputs"`
	Bridges     []BridgeSpec  `yaml:"bridges"`
	Remove      []Ref         `yaml:"remove"`
}

// ChannelSpec declares one channel. Enabled defaults to true.
type ChannelSpec struct {
	ID       channel.ID    `yaml:"id"`
	Class    channel.Class `yaml:"class"`
	Name     string        `yaml:"name"`
	Unit     string        `yaml:"unit"`
	Min      int32         `yaml:"min"`
	Max      int32         `yaml:"max"`
	Enabled  *bool         `yaml:"enabled"`
	Inverted bool          `yaml:"inverted"`
	ReadOnly bool          `yaml:"readonly"`
	Hidden   bool          `yaml:"hidden"`
	Override bool          `yaml:"override"`
}

// Descriptor converts the entry to a registry descriptor.
func (s ChannelSpec) Descriptor() channel.Descriptor {
	var f channel.Flags
	if s.Enabled == nil || *s.Enabled {
		f |= channel.FlagEnabled
	}
	for _, b := range []struct {
		on  bool
		bit channel.Flags
	}{
		{s.Inverted, channel.FlagInverted},
		{s.ReadOnly, channel.FlagReadOnly},
		{s.Hidden, channel.FlagHidden},
		{s.Override, channel.FlagOverride},
	} {
		if b.on {
			f |= b.bit
		}
	}
	return channel.Descriptor{
		ID:    s.ID,
		Class: s.Class,
		Name:  s.Name,
		Unit:  s.Unit,
		Min:   s.Min,
		Max:   s.Max,
		Flags: f,
	}
}

// SlotDoc binds an operator to an output channel. Config is decoded once
// the kind is known.
type SlotDoc struct {
	Output   Ref           `yaml:"output"`
	Kind     operator.Kind `yaml:"kind"`
	Inputs   []Ref         `yaml:"inputs"`
	Disabled bool          `yaml:"disabled"`
	Config   yaml.Node     `yaml:"config"`
}

// OutputSpec is the protection config of one power output.
type OutputSpec struct {
	Index          int   `yaml:"index"`
	Source         *Ref  `yaml:"source"`
	CurrentLimitMA int32 `yaml:"current_limit_ma"`
	InrushLimitMA  int32 `yaml:"inrush_limit_ma"`
	SoftStartMS    int32 `yaml:"soft_start_ms"`
	PWM            bool  `yaml:"pwm"`
	RetryCount     int   `yaml:"retry_count"`
	RetryForever   bool  `yaml:"retry_forever"`
	RetryDelayMS   int32 `yaml:"retry_delay_ms"`
	RetryResetMS   int32 `yaml:"retry_reset_ms"`
	OpenLoadMA     int32 `yaml:"open_load_ma"`
	OpenLoadMS     int32 `yaml:"open_load_ms"`
}

// BridgeSpec is the protection config of one H-bridge.
type BridgeSpec struct {
	Index          int   `yaml:"index"`
	CurrentLimitMA int32 `yaml:"current_limit_ma"`
	DeadTimeMS     int32 `yaml:"dead_time_ms"`
	BrakeOnZero    bool  `yaml:"brake_on_zero"`
	RetryCount     int   `yaml:"retry_count"`
	RetryForever   bool  `yaml:"retry_forever"`
	RetryDelayMS   int32 `yaml:"retry_delay_ms"`
	RetryResetMS   int32 `yaml:"retry_reset_ms"`
}

// Ref is a channel reference: a numeric id or a channel name.
type Ref struct {
	ID   channel.ID
	Name string
}

// UnmarshalYAML accepts an integer id or a name.
func (r *Ref) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: channel reference must be an id or a name", node.Line)
	}
	if node.Tag == "!!int" {
		n, err := strconv.ParseUint(node.Value, 0, 16)
		if err != nil || n >= channel.MaxID {
			return fmt.Errorf("line %d: channel id %s out of range", node.Line, node.Value)
		}
		*r = Ref{ID: channel.ID(n)}
		return nil
	}
	*r = Ref{Name: node.Value}
	return nil
}

// MarshalYAML writes the name when set, else the id.
func (r Ref) MarshalYAML() (any, error) {
	if r.Name != "" {
		return r.Name, nil
	}
	return int(r.ID), nil
}

func (r Ref) String() string {
	if r.Name != "" {
		return r.Name
	}
	return strconv.Itoa(int(r.ID))
}

// Layout is a parsed, schema-checked layout file.
type Layout struct {
	Document
	// Source is where the layout was read from.
	Source string
	// Checksum is the hex SHA-256 of the raw file.
	Checksum string
}

// Load reads and parses the layout file at path.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- layout path is operator-provided
	if err != nil {
		return nil, fmt.Errorf("reading layout file: %w", err)
	}
	return Parse(data, path)
}

// Parse checks data against the layout schema and decodes it.
func Parse(data []byte, source string) (*Layout, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if err := validateSchema(tree); err != nil {
		return nil, err
	}

	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	sum := sha256.Sum256(data)
	return &Layout{
		Document: doc,
		Source:   source,
		Checksum: hex.EncodeToString(sum[:]),
	}, nil
}

// ModeOr returns the layout's apply mode, or fallback when the layout does
// not name one.
func (l *Layout) ModeOr(fallback core.Mode) (core.Mode, error) {
	if l.Mode == "" {
		return fallback, nil
	}
	return core.ParseMode(l.Mode)
}

// Lookup resolves a channel name outside the layout, typically against the
// running registry.
type Lookup func(name string) (channel.ID, bool)

// Plan converts the layout into a core plan. lookup may be nil.
func (l *Layout) Plan(lookup Lookup) (core.Plan, error) {
	names := l.names()
	resolve := func(r Ref) (channel.ID, error) {
		if r.Name == "" {
			return r.ID, nil
		}
		if id, ok := names[r.Name]; ok {
			return id, nil
		}
		if lookup != nil {
			if id, ok := lookup(r.Name); ok {
				return id, nil
			}
		}
		return 0, fmt.Errorf("%w: %q", ErrUnresolved, r.Name)
	}

	var (
		plan core.Plan
		errs []error
	)
	for _, c := range l.Channels {
		plan.Channels = append(plan.Channels, c.Descriptor())
	}

	for i, s := range l.Slots {
		spec, err := l.slot(s, resolve)
		if err != nil {
			errs = append(errs, fmt.Errorf("slot %d (%s): %w", i, s.Output, err))
			continue
		}
		plan.Slots = append(plan.Slots, spec)
	}

	for _, o := range l.Outputs {
		cfg := protection.OutputConfig{
			Index:          o.Index,
			CurrentLimitMA: o.CurrentLimitMA,
			InrushLimitMA:  o.InrushLimitMA,
			SoftStartMS:    o.SoftStartMS,
			PWM:            o.PWM,
			RetryCount:     o.RetryCount,
			RetryForever:   o.RetryForever,
			RetryDelayMS:   o.RetryDelayMS,
			RetryResetMS:   o.RetryResetMS,
			OpenLoadMA:     o.OpenLoadMA,
			OpenLoadMS:     o.OpenLoadMS,
		}
		if o.Source != nil {
			id, err := resolve(*o.Source)
			if err != nil {
				errs = append(errs, fmt.Errorf("output %d source: %w", o.Index, err))
				continue
			}
			cfg.Source = &id
		}
		plan.Outputs = append(plan.Outputs, cfg)
	}

	for _, b := range l.Bridges {
		plan.Bridges = append(plan.Bridges, protection.BridgeConfig{
			Index:          b.Index,
			CurrentLimitMA: b.CurrentLimitMA,
			DeadTimeMS:     b.DeadTimeMS,
			BrakeOnZero:    b.BrakeOnZero,
			RetryCount:     b.RetryCount,
			RetryForever:   b.RetryForever,
			RetryDelayMS:   b.RetryDelayMS,
			RetryResetMS:   b.RetryResetMS,
		})
	}

	for _, r := range l.Remove {
		id, err := resolve(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("remove: %w", err))
			continue
		}
		plan.Remove = append(plan.Remove, id)
	}

	if len(errs) > 0 {
		return core.Plan{}, fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return plan, nil
}

func (l *Layout) slot(s SlotDoc, resolve func(Ref) (channel.ID, error)) (engine.SlotSpec, error) {
	out, err := resolve(s.Output)
	if err != nil {
		return engine.SlotSpec{}, err
	}
	inputs := make([]channel.ID, 0, len(s.Inputs))
	for _, r := range s.Inputs {
		id, err := resolve(r)
		if err != nil {
			return engine.SlotSpec{}, err
		}
		inputs = append(inputs, id)
	}
	cfg, err := decodeConfig(s.Kind, &s.Config)
	if err != nil {
		return engine.SlotSpec{}, err
	}
	return engine.SlotSpec{Output: out, Inputs: inputs, Config: cfg, Disabled: s.Disabled}, nil
}

// decodeConfig decodes node into the config struct of kind, rejecting
// fields that kind does not have.
func decodeConfig(kind operator.Kind, node *yaml.Node) (operator.Config, error) {
	cfg, err := operator.NewConfig(kind)
	if err != nil {
		return nil, err
	}
	if node.Kind == 0 {
		return cfg, nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%s config: %w", kind, err)
	}
	return cfg, nil
}

// names maps every name the layout declares or derives to its id.
func (l *Layout) names() map[string]channel.ID {
	names := make(map[string]channel.ID, len(l.Channels)*2)
	for _, d := range channel.SystemDescriptors() {
		names[d.Name] = d.ID
	}
	declared := make(map[channel.ID]string, len(l.Channels))
	for _, c := range l.Channels {
		names[c.Name] = c.ID
		declared[c.ID] = c.Name
	}
	for _, o := range l.Outputs {
		if n, ok := declared[channel.PowerOutputID(o.Index)]; ok {
			for _, d := range channel.TelemetryDescriptors(o.Index, n) {
				if _, taken := names[d.Name]; !taken {
					names[d.Name] = d.ID
				}
			}
		}
	}
	for _, b := range l.Bridges {
		if n, ok := declared[channel.BridgeCommandID(b.Index)]; ok {
			if _, taken := names[n+".status"]; !taken {
				names[n+".status"] = channel.BridgeStatusID(b.Index)
			}
		}
	}
	return names
}
