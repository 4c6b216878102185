package engine

import (
	"errors"
	"fmt"

	"github.com/nerrad567/pdm-core/internal/channel"
	"github.com/nerrad567/pdm-core/internal/operator"
)

// MaxSlots is the fixed slot capacity of the engine.
const MaxSlots = 100

// SlotSpec binds one operator config to its output and input channels.
type SlotSpec struct {
	Output   channel.ID      `json:"output"`
	Inputs   []channel.ID    `json:"inputs"`
	Config   operator.Config `json:"config"`
	Disabled bool            `json:"disabled,omitempty"`
}

// ClassLookup reports the class of a channel as it will exist once the plan
// is committed.
type ClassLookup func(channel.ID) (channel.Class, bool)

// slot is one evaluated entry of the table.
type slot struct {
	output  channel.ID
	inputs  [operator.MaxInputs]channel.ID
	n       int
	buf     [operator.MaxInputs]int32
	cfg     operator.Config
	op      operator.Operator
	enabled bool
}

// Table is a validated slot plan ready to Commit. It is built by Prepare and
// has no effect until committed.
type Table struct {
	slots []*slot
}

// Len returns the number of slots in the table.
func (t *Table) Len() int { return len(t.slots) }

// Prepare validates a full slot plan in registration order and builds fresh
// operator instances for it. It changes nothing; all problems are reported
// together.
func Prepare(plan []SlotSpec, classes ClassLookup) (*Table, error) {
	if len(plan) > MaxSlots {
		return nil, fmt.Errorf("%w: %d slots, capacity %d", ErrTooManySlots, len(plan), MaxSlots)
	}

	var errs []error
	seen := make(map[channel.ID]int, len(plan))
	t := &Table{slots: make([]*slot, 0, len(plan))}

	for i, spec := range plan {
		if err := validateSlot(spec, classes); err != nil {
			errs = append(errs, fmt.Errorf("slot %d (output %d): %w", i, spec.Output, err))
			continue
		}
		if prev, dup := seen[spec.Output]; dup {
			errs = append(errs, fmt.Errorf("slot %d (output %d): %w: also written by slot %d",
				i, spec.Output, ErrDuplicateOutput, prev))
			continue
		}
		seen[spec.Output] = i

		s := &slot{
			output:  spec.Output,
			n:       len(spec.Inputs),
			cfg:     spec.Config,
			op:      spec.Config.New(),
			enabled: !spec.Disabled,
		}
		copy(s.inputs[:], spec.Inputs)
		t.slots = append(t.slots, s)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

func validateSlot(spec SlotSpec, classes ClassLookup) error {
	if err := operator.ValidateBinding(spec.Config, len(spec.Inputs)); err != nil {
		return err
	}
	if !channel.IsVirtualID(spec.Output) {
		return fmt.Errorf("%w: %d is outside the virtual range", ErrInvalidOutput, spec.Output)
	}
	class, ok := classes(spec.Output)
	if !ok {
		return fmt.Errorf("%w: %d is not registered", ErrInvalidOutput, spec.Output)
	}
	if class != spec.Config.Class() {
		return fmt.Errorf("%w: %s operator needs a %s channel, %d is %s",
			ErrInvalidOutput, spec.Config.Kind(), spec.Config.Class(), spec.Output, class)
	}
	for _, in := range spec.Inputs {
		if int(in) >= channel.MaxID {
			return fmt.Errorf("%w: %d", ErrInvalidInput, in)
		}
	}
	return nil
}
