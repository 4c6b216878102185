package operator

import "errors"

// Domain errors for the operator package.
var (
	// ErrUnknownKind is returned when an operator kind is not recognised.
	ErrUnknownKind = errors.New("operator: unknown kind")

	// ErrInvalidConfig is returned when operator parameters are malformed.
	ErrInvalidConfig = errors.New("operator: invalid config")

	// ErrInputCount is returned when the number of bound inputs is outside
	// the range accepted by the operator kind.
	ErrInputCount = errors.New("operator: wrong input count")
)
