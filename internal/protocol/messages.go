// Package protocol defines the JSON envelope and message catalogue exchanged
// between racing clients and the server over websocket text frames.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
)

// Type names a message in the catalogue.
type Type string

// Client to server messages.
const (
	TypeJoinMatchmaking Type = "join_matchmaking"
	TypeUpdatePosition  Type = "update_position"
	TypeLapCompleted    Type = "lap_completed"
	TypeRaceFinished    Type = "race_finished"
	TypeResume          Type = "resume"
)

// Server to client messages.
const (
	TypeRoomJoined         Type = "room_joined"
	TypeRaceStart          Type = "race_start"
	TypeRaceBegin          Type = "race_begin"
	TypePlayerUpdate       Type = "player_update"
	TypeLapUpdate          Type = "lap_update"
	TypeRaceEnd            Type = "race_end"
	TypeCheatDetected      Type = "cheat_detected"
	TypeMatchmakingTimeout Type = "matchmaking_timeout"
	TypeError              Type = "error"
)

// TypeTimeSync travels in both directions.
const TypeTimeSync Type = "time_sync"

var (
	// ErrMalformed is returned for frames that are not a valid envelope.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned when the envelope names a message outside the catalogue.
	ErrUnknownType = errors.New("unknown message type")
)

var clientTypes = map[Type]struct{}{
	TypeJoinMatchmaking: {},
	TypeUpdatePosition:  {},
	TypeLapCompleted:    {},
	TypeRaceFinished:    {},
	TypeResume:          {},
	TypeTimeSync:        {},
}

// Envelope is the outer frame of every message.
type Envelope struct {
	Type    Type            `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PlayerInfo is the roster entry shared in room_joined and race_start.
type PlayerInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Customization string `json:"customization,omitempty"`
}

// JoinMatchmaking asks to be queued for the next room.
type JoinMatchmaking struct {
	Name          string `json:"name"`
	Customization string `json:"customization,omitempty"`
}

// RoomJoined tells a player which room it was seeded into.
type RoomJoined struct {
	RoomID   string       `json:"room_id"`
	PlayerID string       `json:"player_id"`
	Players  []PlayerInfo `json:"players"`
}

// RaceStart announces the countdown and the moment racing begins.
type RaceStart struct {
	StartTime int64        `json:"start_time"`
	Players   []PlayerInfo `json:"players"`
}

// RaceBegin carries no payload.
type RaceBegin struct{}

// UpdatePosition is a client's claimed kinematic state. Pointer fields let the
// validator tell a missing vector from a zero one.
type UpdatePosition struct {
	Position  *physics.Vec3 `json:"position"`
	Rotation  *physics.Vec3 `json:"rotation"`
	Velocity  *physics.Vec3 `json:"velocity"`
	Timestamp int64         `json:"timestamp,omitempty"`
}

// PlayerUpdate relays an accepted kinematic state to the rest of the room.
type PlayerUpdate struct {
	PlayerID  string       `json:"player_id"`
	Position  physics.Vec3 `json:"position"`
	Rotation  physics.Vec3 `json:"rotation"`
	Velocity  physics.Vec3 `json:"velocity"`
	Timestamp int64        `json:"timestamp"`
}

// LapCompleted is a client's claim to have finished a lap.
type LapCompleted struct {
	Lap        *int `json:"lap"`
	Checkpoint *int `json:"checkpoint"`
}

// LapUpdate relays an accepted lap to the room.
type LapUpdate struct {
	PlayerID   string `json:"player_id"`
	Lap        int    `json:"lap"`
	Checkpoint int    `json:"checkpoint"`
}

// RaceFinished carries no payload.
type RaceFinished struct{}

// RaceEnd carries the final standings.
type RaceEnd struct {
	Results []results.Standing `json:"results"`
}

// CheatDetected is sent only to the offending connection.
type CheatDetected struct {
	Reason string `json:"reason"`
}

// MatchmakingTimeout tells a player its ticket was dropped after waiting too long.
type MatchmakingTimeout struct {
	WaitedMS int64 `json:"waited_ms"`
}

// TimeSync echoes the client's clock next to the server's.
type TimeSync struct {
	ClientTime int64 `json:"client_time"`
	ServerTime int64 `json:"server_time,omitempty"`
}

// Resume asks the server to replay reliable messages after LastSeq.
type Resume struct {
	LastSeq uint64 `json:"last_seq"`
}

// ErrorMessage reports a protocol level failure to the client.
type ErrorMessage struct {
	Message string `json:"message"`
}

// Encode wraps payload in an envelope and serialises it.
func Encode(t Type, seq uint64, payload any) ([]byte, error) {
	envelope := Envelope{Type: t, Seq: seq}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		envelope.Payload = raw
	}
	return json.Marshal(envelope)
}

// Decode parses a frame into its envelope without interpreting the payload.
func Decode(frame []byte) (Envelope, error) {
	var envelope Envelope
	if len(bytes.TrimSpace(frame)) == 0 {
		return envelope, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return envelope, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == "" {
		return envelope, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return envelope, nil
}

// DecodeClient parses a frame and rejects types clients may not send.
func DecodeClient(frame []byte) (Envelope, error) {
	envelope, err := Decode(frame)
	if err != nil {
		return envelope, err
	}
	if _, ok := clientTypes[envelope.Type]; !ok {
		return envelope, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
	return envelope, nil
}

// Into decodes the payload into dst. An absent payload leaves dst untouched.
func (e Envelope) Into(dst any) error {
	if len(e.Payload) == 0 || bytes.Equal(bytes.TrimSpace(e.Payload), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
