package aggregation

import (
	"errors"
	"math"
	"time"
)

// HourBucket is one materialized hourly aggregate row.
type HourBucket struct {
	Start      time.Time
	Avg        float64
	StdDev     float64
	Count      int64
	Sum        float64
	SumSquares float64
}

// DayBucket is a daily aggregate derived from hourly buckets.
type DayBucket struct {
	Start  time.Time
	Avg    float64
	StdDev float64
	Count  int64
}

// ErrNoBuckets is returned when a roll-up has nothing to combine.
var ErrNoBuckets = errors.New("aggregation: no buckets to roll up")

// RollupDay combines already-aggregated hourly buckets into one daily
// bucket. The mean is the unweighted mean of hourly means and the stddev is
// sqrt(avg(stddev_i^2) + var(mean_i)), the law of total variance for
// equal-size groups. Exact only when hourly sample counts match; with
// materially uneven counts it is a documented approximation.
func RollupDay(dayStart time.Time, hours []HourBucket) (DayBucket, error) {
	if len(hours) == 0 {
		return DayBucket{}, ErrNoBuckets
	}

	var sumMean, sumMeanSq, sumVar float64
	var count int64
	for _, h := range hours {
		sumMean += h.Avg
		sumMeanSq += h.Avg * h.Avg
		sumVar += h.StdDev * h.StdDev
		count += h.Count
	}

	n := float64(len(hours))
	mean := sumMean / n
	withinVar := sumVar / n
	betweenVar := sumMeanSq/n - mean*mean
	if betweenVar < 0 {
		// float cancellation on near-constant series
		betweenVar = 0
	}

	return DayBucket{
		Start:  dayStart,
		Avg:    mean,
		StdDev: math.Sqrt(withinVar + betweenVar),
		Count:  count,
	}, nil
}

// WindowStdDev derives a whole-window standard deviation from summed hourly
// moments (n, sum_x, sum_x2), exact regardless of per-hour counts.
func WindowStdDev(n int64, sumX, sumX2 float64) float64 {
	if n <= 0 {
		return 0
	}
	mean := sumX / float64(n)
	variance := sumX2/float64(n) - mean*mean
	if variance <= 0 {
		return 0
	}
	return math.Sqrt(variance)
}
