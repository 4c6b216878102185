package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pdm-core/internal/operator"
)

// Clock is the single authoritative logic tick source. It counts passes,
// not wall time: Advance is called exactly once per logic pass and every
// duration an operator measures is Seq × Period.
type Clock struct {
	seq    atomic.Uint64
	period time.Duration
}

// NewClock creates a clock for the given tick period. The period must be a
// positive whole number of microseconds.
func NewClock(period time.Duration) (*Clock, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeriod, period)
	}
	if period%time.Microsecond != 0 {
		return nil, fmt.Errorf("%w: %v is not a whole number of microseconds", ErrInvalidPeriod, period)
	}
	return &Clock{period: period}, nil
}

// Advance moves the clock forward one tick and returns it.
func (c *Clock) Advance() operator.Tick {
	return operator.Tick{Seq: c.seq.Add(1), Period: c.period}
}

// Now returns the most recent tick without advancing.
func (c *Clock) Now() operator.Tick {
	return operator.Tick{Seq: c.seq.Load(), Period: c.period}
}

// Period returns the tick period.
func (c *Clock) Period() time.Duration { return c.period }

// Elapsed returns the logical time since the clock started.
func (c *Clock) Elapsed() time.Duration {
	return time.Duration(c.seq.Load()) * c.period
}
