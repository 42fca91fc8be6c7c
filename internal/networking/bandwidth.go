package networking

import (
	"math"
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
)

const (
	// DefaultBandwidthLimitBytesPerSecond caps per-connection best-effort throughput at 48 kbps (decimal).
	DefaultBandwidthLimitBytesPerSecond = 48000.0 / 8.0
	// DefaultPacerWindow is the rolling window used to estimate the outbound byte rate.
	DefaultPacerWindow = time.Second
	// DefaultPacerStep is the fraction by which the pacer nudges its interval per adjustment.
	DefaultPacerStep = 0.10
)

// BandwidthUsage captures the throttling state for a single connection.
type BandwidthUsage struct {
	ConnectionID         string
	AvailableBytes       float64
	BytesPerSecond       float64
	ObservedSeconds      float64
	DeniedDeliveries     int64
	LastUpdatedTimestamp time.Time
}

type bandwidthBucket struct {
	tokens float64
	last   time.Time
	window time.Time
	sent   int64
	denied int64
}

// BandwidthRegulator enforces a token-bucket budget per connection on the
// best-effort class. Frames that exceed the budget are dropped by the caller.
type BandwidthRegulator struct {
	mu       sync.Mutex
	buckets  map[string]*bandwidthBucket
	capacity float64
	refill   float64
	clock    clock.Clock
}

// NewBandwidthRegulator constructs a regulator enforcing the supplied byte rate.
func NewBandwidthRegulator(targetBytesPerSecond float64, c clock.Clock) *BandwidthRegulator {
	//1.- Normalise the configuration so downstream logic operates with sane defaults.
	if targetBytesPerSecond <= 0 {
		targetBytesPerSecond = DefaultBandwidthLimitBytesPerSecond
	}
	if c == nil {
		c = clock.System()
	}
	return &BandwidthRegulator{
		buckets:  make(map[string]*bandwidthBucket),
		capacity: targetBytesPerSecond,
		refill:   targetBytesPerSecond,
		clock:    c,
	}
}

func (r *BandwidthRegulator) replenish(bucket *bandwidthBucket, now time.Time) {
	//1.- Skip negative intervals to protect against clock skew.
	if now.Before(bucket.last) {
		return
	}
	elapsed := now.Sub(bucket.last).Seconds()
	if elapsed <= 0 {
		bucket.last = now
		return
	}
	bucket.tokens += elapsed * r.refill
	if bucket.tokens > r.capacity {
		bucket.tokens = r.capacity
	}
	bucket.last = now
}

// Allow charges the payload size against the connection's budget.
func (r *BandwidthRegulator) Allow(connectionID string, payloadBytes int) bool {
	if r == nil || connectionID == "" || payloadBytes <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	bucket := r.buckets[connectionID]
	now := r.clock.Now()
	if bucket == nil {
		//1.- Seed new connections with a full bucket so they can burst immediately.
		bucket = &bandwidthBucket{tokens: r.capacity, last: now, window: now}
		r.buckets[connectionID] = bucket
	}
	r.replenish(bucket, now)

	request := float64(payloadBytes)
	if request > bucket.tokens {
		bucket.denied++
		return false
	}
	bucket.tokens -= request
	bucket.sent += int64(payloadBytes)
	return true
}

// Forget removes the token bucket for a closed connection.
func (r *BandwidthRegulator) Forget(connectionID string) {
	if r == nil || connectionID == "" {
		return
	}
	r.mu.Lock()
	delete(r.buckets, connectionID)
	r.mu.Unlock()
}

// SnapshotUsage reports the most recent throttling statistics per connection.
func (r *BandwidthRegulator) SnapshotUsage() map[string]BandwidthUsage {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buckets) == 0 {
		return nil
	}

	now := r.clock.Now()
	snapshot := make(map[string]BandwidthUsage, len(r.buckets))
	for id, bucket := range r.buckets {
		r.replenish(bucket, now)
		observed := math.Max(now.Sub(bucket.window).Seconds(), 0)
		rate := 0.0
		if observed > 0 {
			rate = float64(bucket.sent) / observed
		}
		snapshot[id] = BandwidthUsage{
			ConnectionID:         id,
			AvailableBytes:       math.Max(bucket.tokens, 0),
			BytesPerSecond:       rate,
			ObservedSeconds:      observed,
			DeniedDeliveries:     bucket.denied,
			LastUpdatedTimestamp: bucket.last,
		}
	}
	return snapshot
}

type sentSample struct {
	at    time.Time
	bytes int
}

// Pacer adapts a client's send interval to the room population. The interval
// moves by a fixed fraction per adjustment: towards the tier target while the
// rolling byte rate is under budget, away from it while over.
type Pacer struct {
	mu       sync.Mutex
	clock    clock.Clock
	window   time.Duration
	step     float64
	tier     Tier
	interval time.Duration
	samples  []sentSample
	lastSend time.Time
}

// PacerOption customises pacer construction.
type PacerOption func(*Pacer)

// WithPacerClock overrides the pacer time source.
func WithPacerClock(c clock.Clock) PacerOption {
	return func(p *Pacer) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithPacerWindow overrides the rolling byte window.
func WithPacerWindow(window time.Duration) PacerOption {
	return func(p *Pacer) {
		if window > 0 {
			p.window = window
		}
	}
}

// WithPacerStep overrides the adjustment fraction.
func WithPacerStep(step float64) PacerOption {
	return func(p *Pacer) {
		if step > 0 && step < 1 {
			p.step = step
		}
	}
}

// NewPacer constructs a pacer starting at the target of the tier for population.
func NewPacer(population int, opts ...PacerOption) *Pacer {
	tier := TierFor(population)
	p := &Pacer{
		clock:    clock.System(),
		window:   DefaultPacerWindow,
		step:     DefaultPacerStep,
		tier:     tier,
		interval: tier.Interval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Record notes a sent message of the given size.
func (p *Pacer) Record(bytes int) {
	if p == nil || bytes <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	p.samples = append(p.samples, sentSample{at: now, bytes: bytes})
	p.lastSend = now
	p.pruneLocked(now)
}

// Ready reports whether the current interval has elapsed since the last send.
func (p *Pacer) Ready() bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSend.IsZero() || p.clock.Now().Sub(p.lastSend) >= p.interval
}

// Rate returns the rolling outbound byte rate.
func (p *Pacer) Rate() float64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(p.clock.Now())
	return p.rateLocked()
}

// Adjust re-selects the tier for population and nudges the interval one step.
// It returns the new interval.
func (p *Pacer) Adjust(population int) time.Duration {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tier = TierFor(population)
	p.pruneLocked(p.clock.Now())

	//1.- Nudge rather than snap so a population change does not cause a burst.
	current := float64(p.interval)
	if p.rateLocked() > p.tier.BudgetBytesPerSecond {
		//2.- Back off by one step; the tier ceiling bounds the back-off but an
		// interval already above it is held, not cut.
		ceiling := float64(p.tier.MaxInterval)
		if p.tier.MaxInterval <= 0 || current < ceiling {
			current *= 1 + p.step
			if p.tier.MaxInterval > 0 && current > ceiling {
				current = ceiling
			}
		}
	} else {
		//3.- Move one step toward the tier target from either side.
		target := float64(p.tier.Interval)
		current += (target - current) * p.step
		if math.Abs(current-target) < float64(time.Millisecond) {
			current = target
		}
	}
	p.interval = time.Duration(current)
	return p.interval
}

// Interval returns the current send interval.
func (p *Pacer) Interval() time.Duration {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Tier returns the tier selected by the last adjustment.
func (p *Pacer) Tier() Tier {
	if p == nil {
		return TierFor(0)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tier
}

func (p *Pacer) pruneLocked(now time.Time) {
	cutoff := now.Add(-p.window)
	idx := 0
	for idx < len(p.samples) && !p.samples[idx].at.After(cutoff) {
		idx++
	}
	if idx > 0 {
		p.samples = append([]sentSample(nil), p.samples[idx:]...)
	}
}

func (p *Pacer) rateLocked() float64 {
	total := 0
	for _, sample := range p.samples {
		total += sample.bytes
	}
	return float64(total) / p.window.Seconds()
}
