package core

import (
	"context"
	"sync/atomic"
	"time"
)

// lateLogInterval rate-limits late tick log lines.
const lateLogInterval = 5 * time.Second

// Scheduler drives the hardware and logic ticks of a Core from one
// goroutine. Ticks never overlap: a pass that runs past the next tick time
// delays that tick, which is counted as late.
type Scheduler struct {
	core *Core

	hwLate    atomic.Uint64
	logicLate atomic.Uint64
	lastLog   time.Time
}

// NewScheduler creates a scheduler for c.
func NewScheduler(c *Core) *Scheduler {
	return &Scheduler{core: c}
}

// Run ticks until ctx is cancelled, then drives every output off and
// returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	hwPeriod := s.core.HardwarePeriod()
	logicPeriod := s.core.LogicPeriod()

	hw := time.NewTicker(hwPeriod)
	defer hw.Stop()
	logic := time.NewTicker(logicPeriod)
	defer logic.Stop()

	s.core.logger.Info("scheduler started", "hardware_period", hwPeriod, "logic_period", logicPeriod)

	for {
		select {
		case <-ctx.Done():
			s.core.Shutdown()
			s.core.logger.Info("scheduler stopped",
				"hardware_late", s.hwLate.Load(),
				"logic_late", s.logicLate.Load(),
			)
			return ctx.Err()
		case due := <-hw.C:
			s.core.HardwareTick()
			s.checkLate(due, hwPeriod, &s.hwLate, "hardware")
		case due := <-logic.C:
			s.core.LogicTick()
			s.checkLate(due, logicPeriod, &s.logicLate, "logic")
		}
	}
}

// checkLate counts a tick whose pass finished more than one period after
// it was due.
func (s *Scheduler) checkLate(due time.Time, period time.Duration, counter *atomic.Uint64, pass string) {
	now := time.Now()
	if now.Sub(due) <= period {
		return
	}
	n := counter.Add(1)
	if now.Sub(s.lastLog) < lateLogInterval {
		return
	}
	s.lastLog = now
	s.core.logger.Warn("tick overran its period", "pass", pass, "late", now.Sub(due), "late_ticks", n)
}

// Late returns the number of late hardware and logic ticks.
func (s *Scheduler) Late() (hardware, logic uint64) {
	return s.hwLate.Load(), s.logicLate.Load()
}
