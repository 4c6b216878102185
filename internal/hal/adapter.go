package hal

import "github.com/nerrad567/pdm-core/internal/channel"

// Diagnostic bits reported by output drivers in Measurement.Diag.
const (
	DiagOvertemp int32 = 1 << iota
	DiagShort
	DiagOpenLoad
)

// Measurement is one driver readback.
type Measurement struct {
	CurrentMA int32
	VoltageMV int32
	Diag      int32
}

// BridgeMode is the drive mode of an H-bridge.
type BridgeMode uint8

// H-bridge drive modes.
const (
	BridgeCoast BridgeMode = iota
	BridgeForward
	BridgeReverse
	BridgeBrake
)

func (m BridgeMode) String() string {
	switch m {
	case BridgeCoast:
		return "coast"
	case BridgeForward:
		return "forward"
	case BridgeReverse:
		return "reverse"
	case BridgeBrake:
		return "brake"
	}
	return "unknown"
}

// InputAdapter samples physical inputs. Sample is called once per hardware
// tick per registered physical input id.
type InputAdapter interface {
	Sample(id channel.ID) int32
}

// OutputAdapter drives high-side power outputs by index (0..29) and reads
// back their measurements. duty is per-mille, 0..1000.
type OutputAdapter interface {
	Drive(index int, duty int32)
	Measure(index int) Measurement
}

// BridgeAdapter drives H-bridges by index (0..3).
type BridgeAdapter interface {
	DriveBridge(k int, mode BridgeMode, duty int32)
	MeasureBridge(k int) Measurement
}

// SystemAdapter reports board-level measurements.
type SystemAdapter interface {
	SupplyMV() int32
	BoardTempC() int32
}

// Adapters groups the hardware adapters used by a Pass. Nil members are
// skipped.
type Adapters struct {
	Inputs  InputAdapter
	Outputs OutputAdapter
	Bridges BridgeAdapter
	System  SystemAdapter
}

// DriveSource supplies the commands applied at the end of a hardware pass.
type DriveSource interface {
	// OutputDuty returns the duty for output index, ok=false when the
	// output is not managed.
	OutputDuty(index int) (duty int32, ok bool)
	// BridgeDrive returns the mode and duty for bridge k.
	BridgeDrive(k int) (mode BridgeMode, duty int32, ok bool)
}
