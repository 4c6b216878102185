package engine

import "errors"

// Domain errors for the engine package.
var (
	// ErrInvalidPeriod is returned when a clock is built with an unusable
	// tick period.
	ErrInvalidPeriod = errors.New("engine: invalid tick period")

	// ErrTooManySlots is returned when a plan exceeds the slot capacity.
	ErrTooManySlots = errors.New("engine: too many slots")

	// ErrDuplicateOutput is returned when two slots write the same channel.
	ErrDuplicateOutput = errors.New("engine: duplicate output")

	// ErrInvalidOutput is returned when a slot output is not a registered
	// virtual channel of the class its operator produces.
	ErrInvalidOutput = errors.New("engine: invalid output channel")

	// ErrInvalidInput is returned when a slot input id is outside the table.
	ErrInvalidInput = errors.New("engine: invalid input channel")

	// ErrSlotNotFound is returned when no slot writes the given output.
	ErrSlotNotFound = errors.New("engine: slot not found")
)
