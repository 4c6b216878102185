package channel

// ID addresses a channel in the registry. Id ranges are contracts: the class
// of a channel can be inferred from its id without a lookup (see ranges.go).
type ID uint16

// Class is the semantic class of a channel.
type Class string

// Channel classes.
const (
	ClassDigitalInput   Class = "digital_input"
	ClassAnalogInput    Class = "analog_input"
	ClassFrequencyInput Class = "frequency_input"
	ClassCANInput       Class = "can_input"
	ClassPowerOutput    Class = "power_output"
	ClassPWMOutput      Class = "pwm_output"
	ClassHBridgeOutput  Class = "hbridge_output"
	ClassCANOutput      Class = "can_output"
	ClassVirtualLogic   Class = "virtual_logic"
	ClassVirtualNumber  Class = "virtual_number"
	ClassVirtualTimer   Class = "virtual_timer"
	ClassVirtualFilter  Class = "virtual_filter"
	ClassVirtualTable   Class = "virtual_table"
	ClassVirtualPID     Class = "virtual_pid"
	ClassSystem         Class = "system"
	ClassTelemetry      Class = "telemetry"
)

// AllClasses returns every valid channel class.
func AllClasses() []Class {
	return []Class{
		ClassDigitalInput, ClassAnalogInput, ClassFrequencyInput, ClassCANInput,
		ClassPowerOutput, ClassPWMOutput, ClassHBridgeOutput, ClassCANOutput,
		ClassVirtualLogic, ClassVirtualNumber, ClassVirtualTimer, ClassVirtualFilter,
		ClassVirtualTable, ClassVirtualPID, ClassSystem, ClassTelemetry,
	}
}

// IsVirtual reports whether the class is computed by the logic engine.
func (c Class) IsVirtual() bool {
	switch c {
	case ClassVirtualLogic, ClassVirtualNumber, ClassVirtualTimer,
		ClassVirtualFilter, ClassVirtualTable, ClassVirtualPID:
		return true
	}
	return false
}

// IsPhysicalInput reports whether the class is sampled from a hardware adapter.
func (c Class) IsPhysicalInput() bool {
	switch c {
	case ClassDigitalInput, ClassAnalogInput, ClassFrequencyInput:
		return true
	}
	return false
}

// Direction is the data direction of a channel.
type Direction string

// Channel directions.
const (
	DirectionInput         Direction = "input"
	DirectionOutput        Direction = "output"
	DirectionBidirectional Direction = "bidirectional"
	DirectionVirtual       Direction = "virtual"
)

// Direction derives the data direction from the class.
func (c Class) Direction() Direction {
	switch c {
	case ClassDigitalInput, ClassAnalogInput, ClassFrequencyInput, ClassCANInput,
		ClassSystem, ClassTelemetry:
		return DirectionInput
	case ClassPowerOutput, ClassPWMOutput, ClassCANOutput:
		return DirectionOutput
	case ClassHBridgeOutput:
		return DirectionBidirectional
	default:
		return DirectionVirtual
	}
}

// Flags is a set of independent channel flag bits.
type Flags uint32

// Channel flag bits.
const (
	FlagEnabled Flags = 1 << iota
	FlagInverted
	FlagFault
	FlagOverride
	FlagReadOnly
	FlagHidden
)

// Has reports whether all bits of f2 are set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Names returns the names of the set flags, for display.
func (f Flags) Names() []string {
	names := make([]string, 0, 6)
	for _, fl := range []struct {
		bit  Flags
		name string
	}{
		{FlagEnabled, "enabled"},
		{FlagInverted, "inverted"},
		{FlagFault, "fault"},
		{FlagOverride, "override"},
		{FlagReadOnly, "readonly"},
		{FlagHidden, "hidden"},
	} {
		if f.Has(fl.bit) {
			names = append(names, fl.name)
		}
	}
	return names
}

// Descriptor is the static definition of a channel.
//
// Min and Max are advisory: the registry never clamps on write. Callers that
// need clamping apply it explicitly.
type Descriptor struct {
	ID    ID     `json:"id"`
	Class Class  `json:"class"`
	Name  string `json:"name"`
	Unit  string `json:"unit,omitempty"`
	Min   int32  `json:"min"`
	Max   int32  `json:"max"`
	Flags Flags  `json:"flags"`
}

// Channel is a point-in-time copy of a registered channel.
type Channel struct {
	Descriptor
	Direction Direction `json:"direction"`

	// Value is the last written value, including while the channel is
	// disabled. Use Reading for what Get would return.
	Value int32 `json:"value"`
}

// Reading returns the value a consumer observes through Get.
func (c Channel) Reading() int32 {
	if !c.Flags.Has(FlagEnabled) {
		return 0
	}
	return c.Value
}

// Predicate filters channels in List.
type Predicate func(Channel) bool

// ByClass matches channels of any of the given classes.
func ByClass(classes ...Class) Predicate {
	return func(c Channel) bool {
		for _, cl := range classes {
			if c.Class == cl {
				return true
			}
		}
		return false
	}
}

// Visible matches channels without the hidden flag.
func Visible() Predicate {
	return func(c Channel) bool { return !c.Flags.Has(FlagHidden) }
}

// InRange matches channels whose id lies in [lo, hi].
func InRange(lo, hi ID) Predicate {
	return func(c Channel) bool { return c.ID >= lo && c.ID <= hi }
}
