package aggregation

import (
	"errors"
	"fmt"
	"time"
)

// BucketWidth is a fixed wall-clock bucket size.
type BucketWidth string

const (
	Bucket15Min BucketWidth = "15min"
	Bucket1Hour BucketWidth = "1hr"
	Bucket1Day  BucketWidth = "1day"
)

// ErrInvalidBucketWidth is returned for unsupported bucket widths.
var ErrInvalidBucketWidth = errors.New("aggregation: invalid bucket width")

// ErrInvalidWindow is returned when a time window is empty or inverted.
var ErrInvalidWindow = errors.New("aggregation: to must be after from")

// ParseBucketWidth validates a bucket width string.
func ParseBucketWidth(value string) (BucketWidth, error) {
	switch BucketWidth(value) {
	case Bucket15Min, Bucket1Hour, Bucket1Day:
		return BucketWidth(value), nil
	default:
		return "", fmt.Errorf("%w: %q (valid: %s, %s, %s)",
			ErrInvalidBucketWidth, value, Bucket15Min, Bucket1Hour, Bucket1Day)
	}
}

// Duration returns the bucket span. Daily buckets are nominally 24h; DST is
// not a concern for the fixed-offset deployment zones this system runs in.
func (w BucketWidth) Duration() time.Duration {
	switch w {
	case Bucket15Min:
		return 15 * time.Minute
	case Bucket1Hour:
		return time.Hour
	case Bucket1Day:
		return 24 * time.Hour
	default:
		return 0
	}
}

// IsValid reports whether the width is one of the supported values.
func (w BucketWidth) IsValid() bool {
	_, err := ParseBucketWidth(string(w))
	return err == nil
}

// AlignBucket floors an instant to its bucket start in the given civil
// timezone. Hour buckets start at :00 local time and day buckets at local
// midnight regardless of the storage timezone of t.
func AlignBucket(t time.Time, width BucketWidth, loc *time.Location) (time.Time, error) {
	if !width.IsValid() {
		return time.Time{}, ErrInvalidBucketWidth
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	switch width {
	case Bucket15Min:
		minute := (local.Minute() / 15) * 15
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), minute, 0, 0, loc), nil
	case Bucket1Hour:
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc), nil
	default:
		return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc), nil
	}
}

// Window is a half-open [From, To) time range.
type Window struct {
	From time.Time
	To   time.Time
}

// Validate checks window invariants.
func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return ErrInvalidWindow
	}
	if !w.To.After(w.From) {
		return ErrInvalidWindow
	}
	return nil
}

// Seconds returns the window length in seconds.
func (w Window) Seconds() float64 {
	return w.To.Sub(w.From).Seconds()
}
