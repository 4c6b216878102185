package protection

import "errors"

// Domain errors for output protection.
var (
	// ErrInvalidIndex is returned when an output or bridge index is out of range.
	ErrInvalidIndex = errors.New("protection: invalid index")

	// ErrInvalidConfig is returned when protection parameters are malformed.
	ErrInvalidConfig = errors.New("protection: invalid config")

	// ErrDuplicateIndex is returned when a plan configures an index twice.
	ErrDuplicateIndex = errors.New("protection: duplicate index")

	// ErrNotConfigured is returned when an operation targets an index with
	// no protection instance.
	ErrNotConfigured = errors.New("protection: not configured")
)
