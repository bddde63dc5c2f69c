package aggregation

import (
	"testing"
	"time"
)

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestAlignBucket_HourStartsAtLocalBoundary(t *testing.T) {
	loc := kolkata(t)

	// 10:02 and 10:58 IST stored as UTC instants must land in the same
	// bucket starting 10:00 IST.
	first := time.Date(2025, 3, 10, 10, 2, 0, 0, loc).UTC()
	second := time.Date(2025, 3, 10, 10, 58, 30, 0, loc).UTC()

	b1, err := AlignBucket(first, Bucket1Hour, loc)
	if err != nil {
		t.Fatalf("align first: %v", err)
	}
	b2, err := AlignBucket(second, Bucket1Hour, loc)
	if err != nil {
		t.Fatalf("align second: %v", err)
	}

	want := time.Date(2025, 3, 10, 10, 0, 0, 0, loc)
	if !b1.Equal(want) || !b2.Equal(want) {
		t.Fatalf("expected both in bucket %v, got %v and %v", want, b1, b2)
	}
}

func TestAlignBucket_DiffersFromUTCAlignment(t *testing.T) {
	loc := kolkata(t)

	// 00:15 IST is 18:45 UTC of the previous day; local day alignment must
	// pick local midnight, not the UTC day boundary.
	instant := time.Date(2025, 3, 10, 0, 15, 0, 0, loc)
	bucket, err := AlignBucket(instant, Bucket1Day, loc)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	want := time.Date(2025, 3, 10, 0, 0, 0, 0, loc)
	if !bucket.Equal(want) {
		t.Fatalf("expected %v, got %v", want, bucket)
	}
	utcAligned := instant.UTC().Truncate(24 * time.Hour)
	if bucket.Equal(utcAligned) {
		t.Fatalf("local day bucket must not equal UTC truncation %v", utcAligned)
	}
}

func TestAlignBucket_FifteenMinuteBoundaries(t *testing.T) {
	loc := kolkata(t)
	cases := []struct {
		minute int
		want   int
	}{
		{0, 0}, {2, 0}, {14, 0}, {15, 15}, {29, 15}, {44, 30}, {59, 45},
	}
	for _, tc := range cases {
		instant := time.Date(2025, 6, 1, 9, tc.minute, 42, 0, loc)
		bucket, err := AlignBucket(instant, Bucket15Min, loc)
		if err != nil {
			t.Fatalf("align minute %d: %v", tc.minute, err)
		}
		if bucket.Minute() != tc.want || bucket.Second() != 0 {
			t.Fatalf("minute %d: expected bucket minute %d, got %v", tc.minute, tc.want, bucket)
		}
	}
}

func TestParseBucketWidth_Invalid(t *testing.T) {
	for _, value := range []string{"", "5min", "2hr", "week"} {
		if _, err := ParseBucketWidth(value); err == nil {
			t.Fatalf("expected error for %q", value)
		}
	}
	for _, value := range []string{"15min", "1hr", "1day"} {
		if _, err := ParseBucketWidth(value); err != nil {
			t.Fatalf("unexpected error for %q: %v", value, err)
		}
	}
}

func TestWindowValidate(t *testing.T) {
	now := time.Now()
	if err := (Window{From: now, To: now}).Validate(); err == nil {
		t.Fatal("expected error for empty window")
	}
	if err := (Window{From: now, To: now.Add(-time.Hour)}).Validate(); err == nil {
		t.Fatal("expected error for inverted window")
	}
	if err := (Window{From: now, To: now.Add(time.Hour)}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
