package operator

import (
	"fmt"

	"github.com/nerrad567/pdm-core/internal/channel"
)

// MaxFilterWindow bounds the sample window of window-based filters.
const MaxFilterWindow = 64

// FilterType selects the filter algorithm.
type FilterType string

// Filter types.
const (
	FilterLowPass       FilterType = "low_pass"
	FilterMovingAverage FilterType = "moving_average"
	FilterMedian        FilterType = "median"
	FilterMin           FilterType = "min"
	FilterMax           FilterType = "max"
)

// FilterConfig configures a filter over in[0].
//
// low_pass is a single-pole IIR, y += Alpha*(x-y), seeded by the first
// sample. The window types keep the last Window samples; until the window
// has filled they use the samples seen so far.
type FilterConfig struct {
	Type   FilterType `yaml:"type" json:"type"`
	Window int        `yaml:"window" json:"window"`
	Alpha  float64    `yaml:"alpha" json:"alpha"`
}

func (c *FilterConfig) Kind() Kind           { return KindFilter }
func (c *FilterConfig) Class() channel.Class { return channel.ClassVirtualFilter }
func (c *FilterConfig) MinInputs() int       { return 1 }
func (c *FilterConfig) MaxInputs() int       { return 1 }

func (c *FilterConfig) Validate() error {
	switch c.Type {
	case FilterLowPass:
		if c.Alpha <= 0 || c.Alpha > 1 {
			return fmt.Errorf("%w: low_pass alpha %v outside (0, 1]", ErrInvalidConfig, c.Alpha)
		}
		return nil
	case FilterMovingAverage, FilterMedian, FilterMin, FilterMax:
		if c.Window < 1 || c.Window > MaxFilterWindow {
			return fmt.Errorf("%w: filter window %d outside 1..%d", ErrInvalidConfig, c.Window, MaxFilterWindow)
		}
		return nil
	}
	return fmt.Errorf("%w: filter type %q", ErrInvalidConfig, c.Type)
}

func (c *FilterConfig) New() Operator {
	o := &filterOp{cfg: *c}
	if c.Type != FilterLowPass {
		o.ring = make([]int32, c.Window)
		if c.Type == FilterMedian {
			o.scratch = make([]int32, c.Window)
		}
	}
	return o
}

type filterOp struct {
	cfg FilterConfig

	// low_pass
	seeded bool
	y      float64

	// window filters; allocated once at construction
	ring    []int32
	scratch []int32
	next    int
	filled  int
	sum     int64
}

func (o *filterOp) Evaluate(in []int32, _ Tick) int32 {
	x := at(in, 0)

	if o.cfg.Type == FilterLowPass {
		if !o.seeded {
			o.seeded = true
			o.y = float64(x)
		} else {
			o.y += o.cfg.Alpha * (float64(x) - o.y)
		}
		return roundSat(o.y)
	}

	if o.filled == len(o.ring) {
		o.sum -= int64(o.ring[o.next])
	} else {
		o.filled++
	}
	o.ring[o.next] = x
	o.sum += int64(x)
	o.next = (o.next + 1) % len(o.ring)

	window := o.window()
	switch o.cfg.Type {
	case FilterMovingAverage:
		return Saturate(o.sum / int64(o.filled))
	case FilterMin:
		m := window[0]
		for _, v := range window[1:] {
			m = min(m, v)
		}
		return m
	case FilterMax:
		m := window[0]
		for _, v := range window[1:] {
			m = max(m, v)
		}
		return m
	case FilterMedian:
		return o.median(window)
	}
	return x
}

// window returns the filled part of the ring in no particular order.
func (o *filterOp) window() []int32 {
	return o.ring[:o.filled]
}

// median sorts a copy of the window with insertion sort; the window is at
// most MaxFilterWindow long. Even counts average the two middle samples.
func (o *filterOp) median(window []int32) int32 {
	s := o.scratch[:len(window)]
	copy(s, window)
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return Saturate((int64(s[n/2-1]) + int64(s[n/2])) / 2)
}

func (o *filterOp) Reset() {
	o.seeded = false
	o.y = 0
	o.next = 0
	o.filled = 0
	o.sum = 0
}

// Retune accepts a new alpha, or the same window, for the same filter type.
func (o *filterOp) Retune(cfg Config) bool {
	c, ok := cfg.(*FilterConfig)
	if !ok || c.Type != o.cfg.Type {
		return false
	}
	if c.Type != FilterLowPass && c.Window != o.cfg.Window {
		return false
	}
	o.cfg = *c
	return true
}
