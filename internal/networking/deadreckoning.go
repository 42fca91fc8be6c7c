// Package networking holds the client side of replication: extrapolating remote
// racers between updates, scoping work to nearby cells and pacing outbound sends
// to the room population.
package networking

import (
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
)

// DefaultInterpolationBuffer bounds how far ahead a remote racer is extrapolated.
const DefaultInterpolationBuffer = config.DefaultInterpolationBuffer

// Observation is one authoritative kinematic sample of a remote entity.
type Observation struct {
	EntityID  string
	Position  physics.Vec3
	Velocity  physics.Vec3
	Timestamp time.Time
}

// Correction describes how far the previous prediction was from a fresh update.
type Correction struct {
	Applied bool
	// Error is the distance between the prediction at the update's timestamp and the update.
	Error float64
}

// DeadReckoner extrapolates remote entities from their last authoritative sample.
type DeadReckoner struct {
	mu      sync.RWMutex
	buffer  time.Duration
	entries map[string]Observation
}

// NewDeadReckoner constructs a reckoner limited to the supplied interpolation buffer.
func NewDeadReckoner(buffer time.Duration) *DeadReckoner {
	if buffer <= 0 {
		buffer = DefaultInterpolationBuffer
	}
	return &DeadReckoner{buffer: buffer, entries: make(map[string]Observation)}
}

// Observe stores a new sample. Samples older than the stored one are ignored and
// reported as not applied.
func (d *DeadReckoner) Observe(sample Observation) Correction {
	if d == nil || sample.EntityID == "" {
		return Correction{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	previous, ok := d.entries[sample.EntityID]
	if ok && sample.Timestamp.Before(previous.Timestamp) {
		return Correction{}
	}
	correction := Correction{Applied: true}
	if ok {
		predicted := d.extrapolate(previous, sample.Timestamp)
		correction.Error = predicted.Distance(sample.Position)
	}
	d.entries[sample.EntityID] = sample
	return correction
}

// Predict returns the extrapolated position of the entity at now. Past the
// interpolation buffer the entity freezes at the buffer edge.
func (d *DeadReckoner) Predict(entityID string, now time.Time) (physics.Vec3, bool) {
	if d == nil {
		return physics.Vec3{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	sample, ok := d.entries[entityID]
	if !ok {
		return physics.Vec3{}, false
	}
	return d.extrapolate(sample, now), true
}

// Last returns the latest stored sample for the entity.
func (d *DeadReckoner) Last(entityID string) (Observation, bool) {
	if d == nil {
		return Observation{}, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	sample, ok := d.entries[entityID]
	return sample, ok
}

// Forget drops the entity.
func (d *DeadReckoner) Forget(entityID string) {
	if d == nil {
		return
	}
	d.mu.Lock()
	delete(d.entries, entityID)
	d.mu.Unlock()
}

// Len reports how many entities are tracked.
func (d *DeadReckoner) Len() int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

func (d *DeadReckoner) extrapolate(sample Observation, now time.Time) physics.Vec3 {
	elapsed := now.Sub(sample.Timestamp)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > d.buffer {
		elapsed = d.buffer
	}
	return physics.Extrapolate(sample.Position, sample.Velocity, elapsed.Seconds())
}
