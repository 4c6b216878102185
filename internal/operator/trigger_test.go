package operator

import "testing"

// run feeds one single-input sample per tick starting at seq 1 and returns
// the outputs.
func run(op Operator, samples ...int32) []int32 {
	out := make([]int32, len(samples))
	for i, s := range samples {
		out[i] = op.Evaluate([]int32{s}, tick(uint64(i+1)))
	}
	return out
}

func equal(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEdge(t *testing.T) {
	tests := []struct {
		trigger Trigger
		in      []int32
		want    []int32
	}{
		{TriggerRising, []int32{1, 1, 0, 1, 1}, []int32{0, 0, 0, 1, 0}},
		{TriggerFalling, []int32{1, 0, 0, 1, 0}, []int32{0, 1, 0, 0, 1}},
		{TriggerBoth, []int32{0, 5, 5, 0}, []int32{0, 1, 0, 1}},
	}
	for _, tt := range tests {
		op := (&EdgeConfig{Trigger: tt.trigger}).New()
		if got := run(op, tt.in...); !equal(got, tt.want) {
			t.Errorf("%s %v = %v, want %v", tt.trigger, tt.in, got, tt.want)
		}
	}
}

func TestToggle(t *testing.T) {
	op := (&ToggleConfig{}).New()
	// First high sample is a seed, not an edge.
	got := run(op, 1, 0, 1, 1, 0, 1)
	want := []int32{0, 0, 1, 1, 1, 0}
	if !equal(got, want) {
		t.Errorf("toggle = %v, want %v", got, want)
	}

	op.Reset()
	op.Evaluate([]int32{0, 0}, tick(1))
	op.Evaluate([]int32{1, 0}, tick(2))
	if v := op.Evaluate([]int32{1, 1}, tick(3)); v != 0 {
		t.Errorf("reset input: output = %d, want 0", v)
	}
}

func TestLatch_ResetDominant(t *testing.T) {
	op := (&LatchConfig{}).New()
	steps := []struct {
		set, reset int32
		want       int32
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0, 0, 1},
		{1, 1, 0},
		{0, 0, 0},
	}
	for i, s := range steps {
		if got := op.Evaluate([]int32{s.set, s.reset}, tick(uint64(i+1))); got != s.want {
			t.Errorf("step %d: latch = %d, want %d", i, got, s.want)
		}
	}
}

func TestHysteresis(t *testing.T) {
	op := (&HysteresisConfig{Low: 100, High: 200}).New()
	got := run(op, 150, 200, 150, 101, 100, 150)
	want := []int32{0, 1, 1, 1, 0, 0}
	if !equal(got, want) {
		t.Errorf("hysteresis = %v, want %v", got, want)
	}

	inv := (&HysteresisConfig{Low: 100, High: 200, Invert: true}).New()
	if got := run(inv, 50, 250); !equal(got, []int32{1, 0}) {
		t.Errorf("inverted = %v, want [1 0]", got)
	}
}

func TestChanged(t *testing.T) {
	op := (&ChangedConfig{Threshold: 10}).New()
	got := run(op, 500, 505, 511, 511, 515, 522, 400)
	want := []int32{0, 0, 1, 0, 0, 1, 1}
	if !equal(got, want) {
		t.Errorf("changed = %v, want %v", got, want)
	}
}

func TestPulse(t *testing.T) {
	op := (&PulseConfig{DurationMS: 6}).New() // three ticks at 2 ms
	got := run(op, 1, 0, 1, 1, 0, 0, 0)
	want := []int32{0, 0, 1, 1, 1, 0, 0}
	if !equal(got, want) {
		t.Errorf("pulse = %v, want %v", got, want)
	}
}

func TestPulse_Retrigger(t *testing.T) {
	op := (&PulseConfig{DurationMS: 6, Retrigger: true}).New()
	got := run(op, 0, 1, 0, 1, 0, 0, 0)
	want := []int32{0, 1, 1, 1, 1, 1, 0}
	if !equal(got, want) {
		t.Errorf("pulse = %v, want %v", got, want)
	}
}

func TestFlash(t *testing.T) {
	op := (&FlashConfig{OnMS: 4, OffMS: 2}).New()
	got := run(op, 1, 1, 1, 1, 1, 1, 0, 1)
	want := []int32{1, 1, 0, 1, 1, 0, 0, 1}
	if !equal(got, want) {
		t.Errorf("flash = %v, want %v", got, want)
	}
}
