package channel

import "errors"

// Domain errors for the channel package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, channel.ErrNotFound) {
//	    // handle unknown id
//	}
var (
	// ErrNotFound is returned when a channel id is not registered.
	ErrNotFound = errors.New("channel: not found")

	// ErrAlreadyExists is returned when registering an id that is in use.
	ErrAlreadyExists = errors.New("channel: already exists")

	// ErrInvalidRange is returned when an id does not fall in a range
	// consistent with the declared class.
	ErrInvalidRange = errors.New("channel: invalid range")

	// ErrReadOnly is returned when writing a readonly channel through Set.
	ErrReadOnly = errors.New("channel: readonly")

	// ErrInvalidName is returned when a channel name is empty, too long or
	// contains characters outside the allowed set.
	ErrInvalidName = errors.New("channel: invalid name")

	// ErrNameTaken is returned when a name is already used by another channel.
	ErrNameTaken = errors.New("channel: name taken")

	// ErrInvalidClass is returned when a class value is not recognised.
	ErrInvalidClass = errors.New("channel: invalid class")

	// ErrInvalidBounds is returned when min is greater than max.
	ErrInvalidBounds = errors.New("channel: invalid bounds")

	// ErrCorrupted is returned by Verify when a structural invariant of the
	// registry does not hold.
	ErrCorrupted = errors.New("channel: registry corrupted")
)
