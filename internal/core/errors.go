package core

import "errors"

// Domain errors for the core runtime.
var (
	// ErrInvalidPlan is returned when a configuration plan fails validation.
	// Nothing is changed when it is returned.
	ErrInvalidPlan = errors.New("core: invalid plan")

	// ErrSystemChannel is returned when a plan touches a system channel.
	ErrSystemChannel = errors.New("core: system channels are managed by the core")

	// ErrSafeState is returned when the safe state cannot be left.
	ErrSafeState = errors.New("core: safe state")

	// ErrTickPanic wraps a panic recovered inside a tick.
	ErrTickPanic = errors.New("core: tick panic")
)
