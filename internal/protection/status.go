package protection

// State is the state of a power output protection machine.
type State uint8

// Power output states.
const (
	StateOff State = iota
	StateSoftStart
	StateOn
	StateFault
	StateRetryWait
)

var stateNames = [...]string{"off", "soft_start", "on", "fault", "retry_wait"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// BridgeState is the state of an H-bridge protection machine.
type BridgeState uint8

// H-bridge states.
const (
	BridgeCoast BridgeState = iota
	BridgeForward
	BridgeReverse
	BridgeBrake
	BridgeDeadTime
	BridgeFault
	BridgeRetryWait
)

var bridgeStateNames = [...]string{"coast", "forward", "reverse", "brake", "dead_time", "fault", "retry_wait"}

func (s BridgeState) String() string {
	if int(s) < len(bridgeStateNames) {
		return bridgeStateNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s BridgeState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// FaultCode identifies the condition that tripped an output.
type FaultCode uint8

// Fault codes.
const (
	FaultNone FaultCode = iota
	FaultOvercurrent
	FaultOvertemp
	FaultShort
	FaultOpenLoad
)

var faultNames = [...]string{"none", "overcurrent", "overtemp", "short", "open_load"}

func (f FaultCode) String() string {
	if int(f) < len(faultNames) {
		return faultNames[f]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (f FaultCode) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// Status word layout, shared by outputs and bridges:
//
//	bits 0-7   state
//	bits 8-14  fault code
//	bit  15    latched (terminal fault, cleared only by Clear)
const (
	statusFaultShift = 8
	statusLatched    = 1 << 15
)

// Status is the decoded form of a status channel value.
type Status struct {
	State   State     `json:"state"`
	Fault   FaultCode `json:"fault"`
	Latched bool      `json:"latched"`
}

// EncodeStatus packs s into a channel value.
func EncodeStatus(s Status) int32 { return encode(uint8(s.State), s.Fault, s.Latched) }

// DecodeStatus unpacks a status channel value.
func DecodeStatus(v int32) Status {
	st, f, l := decode(v)
	return Status{State: State(st), Fault: f, Latched: l}
}

// BridgeStatus is the decoded form of an H-bridge status channel value.
type BridgeStatus struct {
	State   BridgeState `json:"state"`
	Fault   FaultCode   `json:"fault"`
	Latched bool        `json:"latched"`
}

// EncodeBridgeStatus packs s into a channel value.
func EncodeBridgeStatus(s BridgeStatus) int32 { return encode(uint8(s.State), s.Fault, s.Latched) }

// DecodeBridgeStatus unpacks an H-bridge status channel value.
func DecodeBridgeStatus(v int32) BridgeStatus {
	st, f, l := decode(v)
	return BridgeStatus{State: BridgeState(st), Fault: f, Latched: l}
}

func encode(state uint8, f FaultCode, latched bool) int32 {
	v := int32(state) | int32(f&0x7f)<<statusFaultShift
	if latched {
		v |= statusLatched
	}
	return v
}

func decode(v int32) (uint8, FaultCode, bool) {
	return uint8(v & 0xff), FaultCode((v >> statusFaultShift) & 0x7f), v&statusLatched != 0
}
