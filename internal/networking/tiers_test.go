package networking

import (
	"testing"
	"time"
)

func TestTierForPopulation(t *testing.T) {
	cases := map[int]TierName{
		0:   TierHigh,
		1:   TierHigh,
		4:   TierHigh,
		5:   TierMedium,
		8:   TierMedium,
		9:   TierLow,
		200: TierLow,
	}
	for population, want := range cases {
		if got := TierFor(population).Name; got != want {
			t.Fatalf("population %d: expected %s, got %s", population, want, got)
		}
	}
}

func TestTierClamp(t *testing.T) {
	tier := TierFor(6)
	if got := tier.Clamp(10 * time.Millisecond); got != tier.Interval {
		t.Fatalf("expected clamp to floor %s, got %s", tier.Interval, got)
	}
	if got := tier.Clamp(time.Hour); got != tier.MaxInterval {
		t.Fatalf("expected clamp to ceiling %s, got %s", tier.MaxInterval, got)
	}
	if got := tier.Clamp(150 * time.Millisecond); got != 150*time.Millisecond {
		t.Fatalf("expected in-range interval untouched, got %s", got)
	}
}
