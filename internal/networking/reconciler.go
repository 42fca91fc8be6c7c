package networking

import (
	"sort"
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
)

// Remote is the predicted state of one nearby racer.
type Remote struct {
	ID       string
	Position physics.Vec3
}

// Reconciler is the client-side partner of the room broadcaster. It feeds
// player_update messages into the dead reckoner and interest grid, and paces the
// local racer's own sends.
type Reconciler struct {
	mu       sync.Mutex
	selfID   string
	self     physics.Vec3
	clock    clock.Clock
	reckoner *DeadReckoner
	grid     *InterestGrid
	pacer    *Pacer
	ignored  uint64
}

// NewReconciler builds a reconciler from the race thresholds.
func NewReconciler(selfID string, cfg config.RaceConfig, c clock.Clock) *Reconciler {
	if c == nil {
		c = clock.System()
	}
	return &Reconciler{
		selfID:   selfID,
		clock:    c,
		reckoner: NewDeadReckoner(cfg.InterpolationBuffer),
		grid:     NewInterestGrid(cfg.InterestCellSize),
		pacer:    NewPacer(1, WithPacerClock(c)),
	}
}

// SetSelf records the local racer's position, which anchors the interest neighbourhood.
func (r *Reconciler) SetSelf(position physics.Vec3) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.self = position
	r.mu.Unlock()
	r.grid.Update(r.selfID, position)
}

// Apply ingests a relayed update. Updates for entities outside the local
// neighbourhood are tracked for membership but not extrapolated.
func (r *Reconciler) Apply(update protocol.PlayerUpdate) Correction {
	if r == nil || update.PlayerID == "" || update.PlayerID == r.selfID {
		return Correction{}
	}
	r.grid.Update(update.PlayerID, update.Position)
	r.mu.Lock()
	self := r.self
	r.mu.Unlock()
	if !r.grid.Interested(self, update.Position) {
		r.reckoner.Forget(update.PlayerID)
		r.mu.Lock()
		r.ignored++
		r.mu.Unlock()
		return Correction{}
	}
	stamp := time.UnixMilli(update.Timestamp)
	if update.Timestamp <= 0 {
		stamp = r.clock.Now()
	}
	return r.reckoner.Observe(Observation{
		EntityID:  update.PlayerID,
		Position:  update.Position,
		Velocity:  update.Velocity,
		Timestamp: stamp,
	})
}

// Remove forgets a racer that left the room.
func (r *Reconciler) Remove(playerID string) {
	if r == nil {
		return
	}
	r.grid.Remove(playerID)
	r.reckoner.Forget(playerID)
}

// Visible predicts every nearby racer at the current time, ordered by id.
func (r *Reconciler) Visible() []Remote {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	self := r.self
	r.mu.Unlock()
	now := r.clock.Now()
	var out []Remote
	for _, id := range r.grid.EntitiesNear(self) {
		if id == r.selfID {
			continue
		}
		if position, ok := r.reckoner.Predict(id, now); ok {
			out = append(out, Remote{ID: id, Position: position})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ShouldSend reports whether the pacer allows the next local update.
func (r *Reconciler) ShouldSend() bool {
	if r == nil {
		return false
	}
	return r.pacer.Ready()
}

// Sent records an outbound message and re-paces for the current population.
func (r *Reconciler) Sent(bytes int) time.Duration {
	if r == nil {
		return 0
	}
	r.pacer.Record(bytes)
	return r.pacer.Adjust(r.grid.Len())
}

// Interval returns the current pacing interval.
func (r *Reconciler) Interval() time.Duration {
	if r == nil {
		return 0
	}
	return r.pacer.Interval()
}

// Ignored reports how many updates were skipped as out of interest.
func (r *Reconciler) Ignored() uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignored
}
