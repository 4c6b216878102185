package channel

import "fmt"

// Table geometry.
const (
	// MaxID is one past the highest addressable channel id.
	MaxID = 1280

	// MaxPowerOutputs is the number of high-side power outputs.
	MaxPowerOutputs = 30

	// MaxHBridges is the number of H-bridges; each owns two half channels.
	MaxHBridges = 4
)

// Fixed bases of the id map.
const (
	PowerOutputBase ID = 100
	HBridgeBase     ID = 150
	VirtualBase     ID = 200
	SystemBase      ID = 1000
)

// Per-output telemetry sub-channel bases. A sub-channel is addressed as
// base + output index.
const (
	StatusBase  ID = 1100
	CurrentBase ID = 1130
	VoltageBase ID = 1160
	ActiveBase  ID = 1190
	DutyBase    ID = 1220
	DiagBase    ID = 1250
)

// SubChannelBases lists telemetry bases in layout order.
var SubChannelBases = []struct {
	Base   ID
	Suffix string
	Unit   string
}{
	{StatusBase, "status", ""},
	{CurrentBase, "current", "mA"},
	{VoltageBase, "voltage", "mV"},
	{ActiveBase, "active", ""},
	{DutyBase, "duty", "permille"},
	{DiagBase, "diag", ""},
}

// idRange is an inclusive id interval reserved for a set of classes.
type idRange struct {
	lo, hi  ID
	classes []Class
}

var ranges = []idRange{
	{0, 49, []Class{ClassDigitalInput}},
	{50, 99, []Class{ClassAnalogInput}},
	{100, 129, []Class{ClassPowerOutput}},
	{130, 149, []Class{ClassPWMOutput}},
	{150, 157, []Class{ClassHBridgeOutput}},
	{160, 179, []Class{ClassFrequencyInput}},
	{200, 999, []Class{
		ClassVirtualLogic, ClassVirtualNumber, ClassVirtualTimer,
		ClassVirtualFilter, ClassVirtualTable, ClassVirtualPID,
	}},
	{1000, 1023, []Class{ClassSystem}},
	{1024, 1063, []Class{ClassCANInput}},
	{1064, 1099, []Class{ClassCANOutput}},
	{1100, 1279, []Class{ClassTelemetry}},
}

// ClassesFor returns the classes permitted at id, or nil for a reserved gap.
func ClassesFor(id ID) []Class {
	for _, r := range ranges {
		if id >= r.lo && id <= r.hi {
			return r.classes
		}
	}
	return nil
}

// ClassAllowed reports whether class may be registered at id.
func ClassAllowed(id ID, class Class) bool {
	for _, c := range ClassesFor(id) {
		if c == class {
			return true
		}
	}
	return false
}

// IsVirtualID reports whether id lies in the virtual range.
func IsVirtualID(id ID) bool { return id >= VirtualBase && id <= 999 }

// IsSystemID reports whether id lies in the system range.
func IsSystemID(id ID) bool { return id >= SystemBase && id <= 1023 }

// PowerOutputID returns the channel id of power output index.
func PowerOutputID(index int) ID { return PowerOutputBase + ID(index) }

// OutputIndex returns the power output index for a power output channel id.
func OutputIndex(id ID) (int, bool) {
	if id < PowerOutputBase || id >= PowerOutputBase+MaxPowerOutputs {
		return 0, false
	}
	return int(id - PowerOutputBase), true
}

// SubChannel returns base + index.
func SubChannel(base ID, index int) ID { return base + ID(index) }

// BridgeCommandID returns the command half channel of H-bridge k.
func BridgeCommandID(k int) ID { return HBridgeBase + ID(2*k) }

// BridgeStatusID returns the status half channel of H-bridge k.
func BridgeStatusID(k int) ID { return HBridgeBase + ID(2*k+1) }

// ValidateIDForClass returns ErrInvalidRange when class is not permitted at id.
func ValidateIDForClass(id ID, class Class) error {
	if int(id) >= MaxID {
		return fmt.Errorf("%w: id %d beyond table size %d", ErrInvalidRange, id, MaxID)
	}
	if !ClassAllowed(id, class) {
		return fmt.Errorf("%w: class %s not permitted at id %d", ErrInvalidRange, class, id)
	}
	return nil
}

// TelemetryDescriptors returns the readonly sub-channel descriptors of power
// output index, named "<name>.<suffix>".
func TelemetryDescriptors(index int, name string) []Descriptor {
	out := make([]Descriptor, 0, len(SubChannelBases))
	for _, sc := range SubChannelBases {
		out = append(out, Descriptor{
			ID:    SubChannel(sc.Base, index),
			Class: ClassTelemetry,
			Name:  name + "." + sc.Suffix,
			Unit:  sc.Unit,
			Flags: FlagEnabled | FlagReadOnly,
		})
	}
	return out
}
