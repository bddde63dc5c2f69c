package aggregation

import "math"

// Availability is the outcome of comparing actual reading counts against the
// expected count for a window. Actual and Expected are kept so callers can
// audit the percentage.
type Availability struct {
	Expected int64   `json:"expected_readings"`
	Actual   int64   `json:"actual_readings"`
	Percent  float64 `json:"availability_percentage"`
}

// ExpectedDailyCount derives the expected number of readings in one day from
// the per-installation sampling interval, rounded up. A zero, missing or
// negative interval yields zero; callers must treat that as 0% availability,
// not an error.
func ExpectedDailyCount(samplingIntervalSeconds float64) int64 {
	return ExpectedCount(86400, samplingIntervalSeconds)
}

// ExpectedCount derives the expected reading count for an arbitrary window
// length, rounded up.
func ExpectedCount(windowSeconds, samplingIntervalSeconds float64) int64 {
	if samplingIntervalSeconds <= 0 || windowSeconds <= 0 {
		return 0
	}
	return int64(math.Ceil(windowSeconds / samplingIntervalSeconds))
}

// ComputeAvailability builds an Availability from counts. The percentage is
// clamped to [0, 100] so duplicate or backfilled readings never report above
// 100%, and expected <= 0 reports exactly 0%.
func ComputeAvailability(actual, expected int64) Availability {
	avail := Availability{Expected: expected, Actual: actual}
	if expected <= 0 {
		return avail
	}
	pct := float64(actual) / float64(expected) * 100
	avail.Percent = clampPercent(round2(pct))
	return avail
}

// SiteAvailability is the unweighted arithmetic mean of per-installation
// availability percentages. An installation sampled once a minute and one
// sampled once an hour contribute equally to the site score.
func SiteAvailability(perInstallation []Availability) float64 {
	if len(perInstallation) == 0 {
		return 0
	}
	var sum float64
	for _, a := range perInstallation {
		sum += a.Percent
	}
	return clampPercent(round2(sum / float64(len(perInstallation))))
}

func clampPercent(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
