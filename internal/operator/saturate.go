package operator

import "math"

// Saturate narrows v to the int32 range.
func Saturate(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

// Div divides with saturation. Division by zero yields math.MaxInt32 when
// a >= 0 and math.MinInt32 otherwise.
func Div(a, b int32) int32 {
	if b == 0 {
		return zeroDivisor(a)
	}
	return Saturate(int64(a) / int64(b))
}

// Mod returns the remainder with the same division-by-zero saturation as Div.
func Mod(a, b int32) int32 {
	if b == 0 {
		return zeroDivisor(a)
	}
	return Saturate(int64(a) % int64(b))
}

func zeroDivisor(a int32) int32 {
	if a >= 0 {
		return math.MaxInt32
	}
	return math.MinInt32
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundSat rounds a float to the nearest int32 with saturation.
func roundSat(f float64) int32 {
	if math.IsNaN(f) {
		return 0
	}
	r := math.Round(f)
	if r >= math.MaxInt32 {
		return math.MaxInt32
	}
	if r <= math.MinInt32 {
		return math.MinInt32
	}
	return int32(r)
}
