package channel

import (
	"fmt"
	"regexp"
)

// Validation constants.
const (
	maxNameLength = 31
	namePattern   = `^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`
)

var nameRegex = regexp.MustCompile(namePattern)

// Pre-computed validation set for O(1) lookups.
var validClasses map[Class]struct{}

func init() {
	validClasses = make(map[Class]struct{}, len(AllClasses()))
	for _, c := range AllClasses() {
		validClasses[c] = struct{}{}
	}
}

// ValidateClass checks that a class is recognised.
func ValidateClass(c Class) error {
	if _, ok := validClasses[c]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidClass, c)
	}
	return nil
}

// ValidateName checks that a channel name is a short display string.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidName, name, maxNameLength)
	}
	if !nameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidName, name)
	}
	return nil
}

// ValidateDescriptor performs all static checks on a descriptor.
// It does not check for conflicts with registered channels.
func ValidateDescriptor(d Descriptor) error {
	if err := ValidateClass(d.Class); err != nil {
		return err
	}
	if err := ValidateIDForClass(d.ID, d.Class); err != nil {
		return err
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if d.Min > d.Max {
		return fmt.Errorf("%w: min %d > max %d on channel %d", ErrInvalidBounds, d.Min, d.Max, d.ID)
	}
	return nil
}
