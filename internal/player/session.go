// Package player holds the authoritative replicated state of each racer in a room.
//
// A Store belongs to exactly one room and is only touched from that room's
// dispatcher goroutine, so it carries no locking of its own.
package player

import (
	"errors"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
)

var (
	// ErrPlayerNotFound is returned when an operation references a player outside the store.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrDuplicatePlayer is returned when a player id is added twice.
	ErrDuplicatePlayer = errors.New("player already present")
	// ErrInvalidPlayerID is returned when a session omits its identifier.
	ErrInvalidPlayerID = errors.New("player id must not be empty")
)

// Session is the server-held record of one racer. Values are copied out of the
// store so callers can compare before/after states directly.
type Session struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Customization string       `json:"customization,omitempty"`
	Position      physics.Vec3 `json:"position"`
	Rotation      physics.Vec3 `json:"rotation"`
	Velocity      physics.Vec3 `json:"velocity"`
	// Positioned is false until the first position update is accepted.
	Positioned   bool      `json:"positioned"`
	Lap          int       `json:"lap"`
	Checkpoint   int       `json:"checkpoint"`
	Finished     bool      `json:"finished"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Disconnected bool      `json:"disconnected"`
	LastLapAt    time.Time `json:"last_lap_at,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

// NewSession returns a racer on lap 1 at checkpoint 0.
func NewSession(id, name, customization string, joinedAt time.Time) Session {
	return Session{
		ID:            id,
		Name:          name,
		Customization: customization,
		Lap:           1,
		JoinedAt:      joinedAt,
	}
}

// Active reports whether the racer still counts towards race completion.
func (s Session) Active() bool {
	return !s.Finished && !s.Disconnected
}
