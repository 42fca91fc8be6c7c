package input

import (
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
)

// GateConfig controls the freshness and throughput gates applied to position updates.
type GateConfig struct {
	// MinInterval is the minimum spacing between accepted updates from one source.
	MinInterval time.Duration
	// MaxAge drops updates whose client timestamp lags arrival by more than this. Zero disables it.
	MaxAge time.Duration
}

// DropReason enumerates why an update was discarded by the gate.
type DropReason string

const (
	DropReasonNone        DropReason = ""
	DropReasonSequence    DropReason = "sequence"
	DropReasonStale       DropReason = "stale"
	DropReasonRateLimited DropReason = "rate_limit"
)

// String returns the textual representation of the drop reason.
func (r DropReason) String() string { return string(r) }

// Decision summarises whether an update passed the gate.
type Decision struct {
	Accepted bool
	Reason   DropReason
	Delay    time.Duration
}

// Frame captures the metadata required to gate a position update.
type Frame struct {
	SourceID string
	// SentAt is the client capture time, zero when the client did not stamp the update.
	SentAt time.Time
}

type sourceState struct {
	lastAccepted time.Time
	lastSentAt   time.Time
}

// DropCounters aggregates per-reason drop counts.
type DropCounters struct {
	Sequence    uint64 `json:"sequence"`
	Stale       uint64 `json:"stale"`
	RateLimited uint64 `json:"rate_limited"`
}

func (c *DropCounters) observe(reason DropReason) {
	switch reason {
	case DropReasonSequence:
		c.Sequence++
	case DropReasonStale:
		c.Stale++
	case DropReasonRateLimited:
		c.RateLimited++
	}
}

// Gate rate-limits position updates per source. Excess updates are dropped rather
// than queued.
type Gate struct {
	mu      sync.Mutex
	cfg     GateConfig
	clock   clock.Clock
	logger  *logging.Logger
	sources map[string]*sourceState
	drops   map[string]DropCounters
	total   DropCounters
}

// Option customises gate construction.
type Option func(*Gate)

// WithClock overrides the clock used for spacing and latency calculations.
func WithClock(c clock.Clock) Option {
	return func(g *Gate) {
		if c != nil {
			g.clock = c
		}
	}
}

// NewGate constructs a gate with the supplied configuration and logger.
func NewGate(cfg GateConfig, logger *logging.Logger, opts ...Option) *Gate {
	//1.- Normalise negative intervals to disable the corresponding checks.
	if cfg.MaxAge < 0 {
		cfg.MaxAge = 0
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	gate := &Gate{
		cfg:     cfg,
		clock:   clock.System(),
		logger:  logger,
		sources: make(map[string]*sourceState),
		drops:   make(map[string]DropCounters),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(gate)
		}
	}
	return gate
}

// Evaluate applies ordering, freshness, and throughput guards to the frame and
// records it as the latest accepted emission when it passes.
func (g *Gate) Evaluate(frame Frame) Decision {
	decision := Decision{Accepted: true}
	if g == nil || frame.SourceID == "" {
		return decision
	}
	now := g.clock.Now()
	if !frame.SentAt.IsZero() {
		if delay := now.Sub(frame.SentAt); delay > 0 {
			decision.Delay = delay
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.sources[frame.SourceID]
	if state == nil {
		//1.- The first update from a source always passes and seeds its history.
		g.sources[frame.SourceID] = &sourceState{lastAccepted: now, lastSentAt: frame.SentAt}
		return decision
	}

	switch {
	case !frame.SentAt.IsZero() && !state.lastSentAt.IsZero() && !frame.SentAt.After(state.lastSentAt):
		decision = Decision{Reason: DropReasonSequence, Delay: decision.Delay}
	case g.cfg.MaxAge > 0 && decision.Delay > g.cfg.MaxAge:
		decision = Decision{Reason: DropReasonStale, Delay: decision.Delay}
	case g.cfg.MinInterval > 0 && now.Sub(state.lastAccepted) < g.cfg.MinInterval:
		decision = Decision{Reason: DropReasonRateLimited, Delay: decision.Delay}
	default:
		//2.- Promote the frame as the latest accepted emission.
		state.lastAccepted = now
		if !frame.SentAt.IsZero() {
			state.lastSentAt = frame.SentAt
		}
		return decision
	}

	counters := g.drops[frame.SourceID]
	counters.observe(decision.Reason)
	g.drops[frame.SourceID] = counters
	g.total.observe(decision.Reason)
	return decision
}

// Forget clears cached state and counters for a departed source.
func (g *Gate) Forget(sourceID string) {
	if g == nil || sourceID == "" {
		return
	}
	g.mu.Lock()
	delete(g.sources, sourceID)
	delete(g.drops, sourceID)
	g.mu.Unlock()
}

// Metrics returns a snapshot of the per-source drop counters.
func (g *Gate) Metrics() map[string]DropCounters {
	if g == nil {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.drops) == 0 {
		return nil
	}
	clone := make(map[string]DropCounters, len(g.drops))
	for id, counters := range g.drops {
		clone[id] = counters
	}
	return clone
}

// Totals returns drop counts across every source ever seen.
func (g *Gate) Totals() DropCounters {
	if g == nil {
		return DropCounters{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.total
}
