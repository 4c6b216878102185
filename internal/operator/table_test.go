package operator

import (
	"errors"
	"testing"
)

func TestTable1D(t *testing.T) {
	cfg := TableConfig{
		X:      []int32{0, 100, 200},
		Values: []int32{0, 1000, 1500},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	op := cfg.New()

	tests := []struct {
		in, want int32
	}{
		{0, 0},
		{50, 500},
		{100, 1000},
		{150, 1250},
		{200, 1500},
		{-50, 0},    // clamped
		{1000, 1500}, // clamped
	}
	for _, tt := range tests {
		if got := op.Evaluate([]int32{tt.in}, tick(1)); got != tt.want {
			t.Errorf("lookup(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}

	cfg.Extrapolate = true
	ext := cfg.New()
	if got := ext.Evaluate([]int32{300}, tick(1)); got != 2000 {
		t.Errorf("extrapolated lookup(300) = %d, want 2000", got)
	}
	if got := ext.Evaluate([]int32{-100}, tick(1)); got != -1000 {
		t.Errorf("extrapolated lookup(-100) = %d, want -1000", got)
	}
}

func TestTable2D(t *testing.T) {
	cfg := TableConfig{
		X: []int32{0, 10},
		Y: []int32{0, 100},
		Values: []int32{
			0, 100, // y = 0
			1000, 1100, // y = 100
		},
	}
	if err := ValidateBinding(&cfg, 2); err != nil {
		t.Fatalf("ValidateBinding() error = %v", err)
	}
	op := cfg.New()

	tests := []struct {
		x, y, want int32
	}{
		{0, 0, 0},
		{10, 100, 1100},
		{5, 0, 50},
		{5, 50, 550},
		{20, 200, 1100},
	}
	for _, tt := range tests {
		if got := op.Evaluate([]int32{tt.x, tt.y}, tick(1)); got != tt.want {
			t.Errorf("lookup(%d, %d) = %d, want %d", tt.x, tt.y, got, tt.want)
		}
	}
}

func TestTableValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  TableConfig
	}{
		{"one breakpoint", TableConfig{X: []int32{0}, Values: []int32{0}}},
		{"descending", TableConfig{X: []int32{10, 0}, Values: []int32{0, 0}}},
		{"value count", TableConfig{X: []int32{0, 1}, Values: []int32{0}}},
		{"2d value count", TableConfig{X: []int32{0, 1}, Y: []int32{0, 1}, Values: []int32{0, 1}}},
		{"too many breakpoints", TableConfig{X: make([]int32, 17), Values: make([]int32, 17)}},
	}
	for _, tt := range tests {
		if err := tt.cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: Validate() error = %v, want ErrInvalidConfig", tt.name, err)
		}
	}
}
