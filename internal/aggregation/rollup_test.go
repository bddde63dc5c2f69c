package aggregation

import (
	"math"
	"testing"
	"time"
)

func TestRollupDay_ReproducesMeanUnderEqualCounts(t *testing.T) {
	dayStart := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	// 24 hourly buckets, 4 samples each, values known in closed form.
	var hours []HourBucket
	var all []float64
	for h := 0; h < 24; h++ {
		samples := []float64{
			10 + float64(h),
			12 + float64(h),
			14 + float64(h),
			16 + float64(h),
		}
		all = append(all, samples...)
		hours = append(hours, makeHourBucket(dayStart.Add(time.Duration(h)*time.Hour), samples))
	}

	day, err := RollupDay(dayStart, hours)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}

	wantMean := mean(all)
	if math.Abs(day.Avg-wantMean) > 1e-9 {
		t.Fatalf("mean: want %.6f, got %.6f", wantMean, day.Avg)
	}
	wantStd := popStdDev(all)
	if math.Abs(day.StdDev-wantStd) > 1e-9 {
		t.Fatalf("stddev: want %.6f, got %.6f", wantStd, day.StdDev)
	}
	if day.Count != int64(len(all)) {
		t.Fatalf("count: want %d, got %d", len(all), day.Count)
	}
}

func TestRollupDay_DivergesUnderUnequalCounts(t *testing.T) {
	dayStart := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	// One hour with many samples, one with few. The mean-of-means formula is
	// a deliberate approximation here and must differ from the true mean.
	heavy := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}
	light := []float64{100}
	hours := []HourBucket{
		makeHourBucket(dayStart, heavy),
		makeHourBucket(dayStart.Add(time.Hour), light),
	}

	day, err := RollupDay(dayStart, hours)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	trueMean := mean(append(append([]float64{}, heavy...), light...))
	if math.Abs(day.Avg-trueMean) < 1 {
		t.Fatalf("expected divergence from weighted mean %.3f, got %.3f", trueMean, day.Avg)
	}
	if day.Avg != 50.5 {
		t.Fatalf("mean-of-means must be 50.5, got %.3f", day.Avg)
	}
}

func TestRollupDay_Empty(t *testing.T) {
	if _, err := RollupDay(time.Now(), nil); err == nil {
		t.Fatal("expected ErrNoBuckets")
	}
}

func TestWindowStdDev_FromMoments(t *testing.T) {
	samples := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	var n int64
	var sumX, sumX2 float64
	for _, v := range samples {
		n++
		sumX += v
		sumX2 += v * v
	}
	got := WindowStdDev(n, sumX, sumX2)
	if math.Abs(got-2) > 1e-9 {
		t.Fatalf("expected 2, got %.6f", got)
	}
	if WindowStdDev(0, 0, 0) != 0 {
		t.Fatal("zero samples must report 0")
	}
}

func makeHourBucket(start time.Time, samples []float64) HourBucket {
	var sum, sumSq float64
	for _, v := range samples {
		sum += v
		sumSq += v * v
	}
	m := sum / float64(len(samples))
	return HourBucket{
		Start:      start,
		Avg:        m,
		StdDev:     popStdDev(samples),
		Count:      int64(len(samples)),
		Sum:        sum,
		SumSquares: sumSq,
	}
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func popStdDev(values []float64) float64 {
	m := mean(values)
	var acc float64
	for _, v := range values {
		acc += (v - m) * (v - m)
	}
	return math.Sqrt(acc / float64(len(values)))
}
