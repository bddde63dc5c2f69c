package aggregation

import "math"

// SanitizeFloat maps NaN and infinities to nil. JSON has no representation
// for non-finite floats; an average over zero rows must serialize as null,
// not crash the encoder.
func SanitizeFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// SanitizePtr applies SanitizeFloat to an optional value.
func SanitizePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return SanitizeFloat(*v)
}

// SanitizeSeries replaces non-finite entries with nil in place-order.
func SanitizeSeries(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		out[i] = SanitizeFloat(v)
	}
	return out
}
