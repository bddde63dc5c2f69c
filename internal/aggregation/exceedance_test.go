package aggregation

import "testing"

func TestExceedance_ToleranceAsymmetry(t *testing.T) {
	limits := Limits{Threshold: 100}

	raw := limits.EvaluateRaw(105)
	if !raw.Exceeded {
		t.Fatal("raw 1.05*T must be flagged")
	}
	bucketLow := limits.EvaluateBucket(105, DefaultBucketTolerance)
	if bucketLow.Exceeded {
		t.Fatal("bucket average 1.05*T sits inside the 1.10 band")
	}
	bucketHigh := limits.EvaluateBucket(115, DefaultBucketTolerance)
	if !bucketHigh.Exceeded {
		t.Fatal("bucket average 1.15*T must be flagged")
	}
}

func TestExceedance_ThresholdFiftyScenario(t *testing.T) {
	limits := Limits{Threshold: 50}

	if got := limits.EvaluateBucket(54, 0); got.Exceeded {
		t.Fatalf("avg 54 is within the 55 tolerance limit, margin %.2f", got.Margin)
	}
	if got := limits.EvaluateBucket(56, 0); !got.Exceeded {
		t.Fatalf("avg 56 exceeds the 55 tolerance limit, margin %.2f", got.Margin)
	}
}

func TestExceedance_SignedMargins(t *testing.T) {
	limits := Limits{Threshold: 50}
	if got := limits.EvaluateRaw(47); got.Margin != -3 {
		t.Fatalf("expected margin -3, got %.2f", got.Margin)
	}
	if got := limits.EvaluateRaw(53); got.Margin != 3 {
		t.Fatalf("expected margin 3, got %.2f", got.Margin)
	}
}

func TestExceedance_LowerBoundExplicitOnly(t *testing.T) {
	noBound := Limits{Threshold: 50}
	if got := noBound.EvaluateBelow(1); got.Exceeded {
		t.Fatal("no lower bound configured, nothing may be flagged")
	}

	bound := 10.0
	withBound := Limits{Threshold: 50, LowerBound: &bound}
	if got := withBound.EvaluateBelow(9); !got.Exceeded {
		t.Fatal("value under the configured lower bound must be flagged")
	}
	if got := withBound.EvaluateBelow(10); got.Exceeded {
		t.Fatal("value at the lower bound is not below it")
	}
}

func TestOverall(t *testing.T) {
	if Overall(Exceedance{}, Exceedance{}) {
		t.Fatal("no tier exceeded")
	}
	if !Overall(Exceedance{}, Exceedance{Exceeded: true}) {
		t.Fatal("one exceeded tier is enough")
	}
}
