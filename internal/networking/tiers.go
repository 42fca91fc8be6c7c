package networking

import "time"

// TierName labels an update-rate tier.
type TierName string

const (
	TierHigh   TierName = "high"
	TierMedium TierName = "medium"
	TierLow    TierName = "low"
)

// Tier is the target pacing for a room population band.
type Tier struct {
	Name TierName
	// MaxPopulation is the largest population served by this tier. Zero means unbounded.
	MaxPopulation int
	// Interval is the target spacing between sends, which is also the fastest allowed.
	Interval time.Duration
	// MaxInterval is the slowest pacing the tier may back off to.
	MaxInterval time.Duration
	// BudgetBytesPerSecond is the outbound byte rate the tier aims to stay under.
	BudgetBytesPerSecond float64
}

// Tiers lists the population bands from smallest to largest.
var Tiers = []Tier{
	{Name: TierHigh, MaxPopulation: 4, Interval: 50 * time.Millisecond, MaxInterval: 200 * time.Millisecond, BudgetBytesPerSecond: DefaultBandwidthLimitBytesPerSecond},
	{Name: TierMedium, MaxPopulation: 8, Interval: 100 * time.Millisecond, MaxInterval: 400 * time.Millisecond, BudgetBytesPerSecond: DefaultBandwidthLimitBytesPerSecond},
	{Name: TierLow, Interval: 200 * time.Millisecond, MaxInterval: 800 * time.Millisecond, BudgetBytesPerSecond: DefaultBandwidthLimitBytesPerSecond},
}

// TierFor selects the tier matching the room population.
func TierFor(population int) Tier {
	for _, tier := range Tiers {
		if tier.MaxPopulation == 0 || population <= tier.MaxPopulation {
			return tier
		}
	}
	return Tiers[len(Tiers)-1]
}

// Clamp bounds an interval to the tier's range.
func (t Tier) Clamp(interval time.Duration) time.Duration {
	if interval < t.Interval {
		return t.Interval
	}
	if t.MaxInterval > 0 && interval > t.MaxInterval {
		return t.MaxInterval
	}
	return interval
}
