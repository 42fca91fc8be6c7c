package player

import (
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
)

// Store keeps the sessions of a single room in join order.
type Store struct {
	sessions map[string]*Session
	order    []string
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Add inserts a new session.
func (s *Store) Add(session Session) error {
	if session.ID == "" {
		return ErrInvalidPlayerID
	}
	if _, ok := s.sessions[session.ID]; ok {
		return ErrDuplicatePlayer
	}
	clone := session
	s.sessions[session.ID] = &clone
	s.order = append(s.order, session.ID)
	return nil
}

// Remove deletes a session. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) {
	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (Session, bool) {
	session, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// Len returns the number of sessions, including finished and disconnected ones.
func (s *Store) Len() int { return len(s.sessions) }

// ActiveCount returns how many racers are neither finished nor disconnected.
func (s *Store) ActiveCount() int {
	count := 0
	for _, session := range s.sessions {
		if session.Active() {
			count++
		}
	}
	return count
}

// ConnectedCount returns how many racers still hold a connection.
func (s *Store) ConnectedCount() int {
	count := 0
	for _, session := range s.sessions {
		if !session.Disconnected {
			count++
		}
	}
	return count
}

// Snapshot copies every session in join order.
func (s *Store) Snapshot() []Session {
	out := make([]Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.sessions[id])
	}
	return out
}

// ApplyPosition records an accepted kinematic update.
func (s *Store) ApplyPosition(id string, position, rotation, velocity physics.Vec3) error {
	session, ok := s.sessions[id]
	if !ok {
		return ErrPlayerNotFound
	}
	session.Position = position
	session.Rotation = rotation
	session.Velocity = velocity
	session.Positioned = true
	return nil
}

// ApplyLap records an accepted lap completion and refreshes the lap clock.
func (s *Store) ApplyLap(id string, lap, checkpoint int, at time.Time) error {
	session, ok := s.sessions[id]
	if !ok {
		return ErrPlayerNotFound
	}
	session.Lap = lap
	session.Checkpoint = checkpoint
	session.LastLapAt = at
	return nil
}

// MarkFinished flags the racer as finished at the supplied time. Repeated calls keep
// the first finish time.
func (s *Store) MarkFinished(id string, at time.Time) error {
	session, ok := s.sessions[id]
	if !ok {
		return ErrPlayerNotFound
	}
	if session.Finished {
		return nil
	}
	session.Finished = true
	session.FinishedAt = at
	return nil
}

// MarkDisconnected flags the racer as gone without discarding its last known state.
func (s *Store) MarkDisconnected(id string) error {
	session, ok := s.sessions[id]
	if !ok {
		return ErrPlayerNotFound
	}
	session.Disconnected = true
	return nil
}

// MarkReconnected clears the disconnected flag after a successful resume.
func (s *Store) MarkReconnected(id string) error {
	session, ok := s.sessions[id]
	if !ok {
		return ErrPlayerNotFound
	}
	session.Disconnected = false
	return nil
}

// StartLapClocks seeds every racer's lap timer with the race start time.
func (s *Store) StartLapClocks(at time.Time) {
	for _, session := range s.sessions {
		session.LastLapAt = at
	}
}
