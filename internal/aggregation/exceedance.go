package aggregation

// DefaultBucketTolerance is the multiplier applied to the threshold when
// evaluating bucket-averaged values. Averaging smooths momentary spikes, so
// averaged data gets a 10% band the raw comparison does not.
const DefaultBucketTolerance = 1.10

// Limits holds the operational bounds for one installation. LowerBound is an
// explicit per-installation value; when nil no below-minimum flagging
// happens.
type Limits struct {
	Threshold  float64
	LowerBound *float64
}

// Exceedance is one tier's verdict. Margin is signed: positive means the
// value sits above the effective limit.
type Exceedance struct {
	Exceeded bool    `json:"exceeded"`
	Margin   float64 `json:"margin"`
}

// EvaluateRaw compares a raw reading against the threshold directly.
func (l Limits) EvaluateRaw(value float64) Exceedance {
	return Exceedance{
		Exceeded: value > l.Threshold,
		Margin:   value - l.Threshold,
	}
}

// EvaluateBucket compares a bucket average against the threshold widened by
// the tolerance multiplier. A tolerance <= 0 falls back to the default.
func (l Limits) EvaluateBucket(avg, tolerance float64) Exceedance {
	if tolerance <= 0 {
		tolerance = DefaultBucketTolerance
	}
	limit := l.Threshold * tolerance
	return Exceedance{
		Exceeded: avg > limit,
		Margin:   avg - limit,
	}
}

// EvaluateBelow flags a value under the configured lower bound. Without a
// lower bound the verdict is always negative.
func (l Limits) EvaluateBelow(value float64) Exceedance {
	if l.LowerBound == nil {
		return Exceedance{}
	}
	return Exceedance{
		Exceeded: value < *l.LowerBound,
		Margin:   value - *l.LowerBound,
	}
}

// Overall ORs any number of tier verdicts.
func Overall(tiers ...Exceedance) bool {
	for _, t := range tiers {
		if t.Exceeded {
			return true
		}
	}
	return false
}
