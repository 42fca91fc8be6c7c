package main

import (
	"context"
	"errors"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/matchmaking"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/room"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/session"
)

// requestTimeout bounds synchronous room calls made on behalf of one frame.
const requestTimeout = 5 * time.Second

// dispatch decodes one inbound frame and routes it to matchmaking, the racer's
// room or the time sync service. It runs on the connection's read goroutine.
func (s *Server) dispatch(c *Client, frame []byte) {
	envelope, err := protocol.DecodeClient(frame)
	if err != nil {
		s.malformed(c, err)
		return
	}
	switch envelope.Type {
	case protocol.TypeJoinMatchmaking:
		var request protocol.JoinMatchmaking
		if err := envelope.Into(&request); err != nil {
			s.malformed(c, err)
			return
		}
		s.join(c, request)
	case protocol.TypeUpdatePosition:
		var update protocol.UpdatePosition
		if err := envelope.Into(&update); err != nil {
			s.malformed(c, err)
			return
		}
		s.withRoom(c, "update_position", func(seated *room.Room) error {
			return seated.UpdatePosition(c.id, update)
		})
	case protocol.TypeLapCompleted:
		var lap protocol.LapCompleted
		if err := envelope.Into(&lap); err != nil {
			s.malformed(c, err)
			return
		}
		s.withRoom(c, "lap_completed", func(seated *room.Room) error {
			return seated.CompleteLap(c.id, lap)
		})
	case protocol.TypeRaceFinished:
		s.withRoom(c, "race_finished", func(seated *room.Room) error {
			return seated.Finish(c.id)
		})
	case protocol.TypeTimeSync:
		var request protocol.TimeSync
		if err := envelope.Into(&request); err != nil {
			s.malformed(c, err)
			return
		}
		s.reply(c, protocol.TypeTimeSync, s.timesync.Respond(c.id, request))
	case protocol.TypeResume:
		var request protocol.Resume
		if err := envelope.Into(&request); err != nil {
			s.malformed(c, err)
			return
		}
		s.resume(c, request)
	}
}

// join queues the racer unless it already holds a live seat.
func (s *Server) join(c *Client, request protocol.JoinMatchmaking) {
	if c.Room() != nil || s.seatOf(c.id) != nil {
		s.replyError(c, "already seated in a room")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	_, err := s.queue.Enqueue(ctx, matchmaking.Ticket{
		PlayerID:      c.id,
		Name:          request.Name,
		Customization: request.Customization,
		Sink:          c,
	})
	switch {
	case err == nil:
	case errors.Is(err, matchmaking.ErrAlreadyQueued):
		s.replyError(c, "already queued")
	case errors.Is(err, matchmaking.ErrQueueClosed):
		s.replyError(c, shutdownReason)
	default:
		c.log.Warn("matchmaking failed", logging.Error(err))
		s.replyError(c, "matchmaking failed")
	}
}

// resume reattaches the connection to its seat and replays missed lifecycle events.
func (s *Server) resume(c *Client, request protocol.Resume) {
	seated := c.Room()
	if seated == nil {
		seated = s.seatOf(c.id)
	}
	if seated == nil {
		s.replyError(c, errNotSeated.Error())
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := seated.Resume(ctx, c.id, c, request.LastSeq); err != nil {
		s.roomError(c, err, "resume")
		s.replyError(c, "resume failed")
		return
	}
	c.assign(seated)
	c.log.Info("client resumed", logging.RoomID(seated.ID()), logging.Uint64("last_seq", request.LastSeq))
}

// malformed reports an undecodable frame. Inside a room the rejection counts
// toward the racer's violation budget.
func (s *Server) malformed(c *Client, cause error) {
	c.log.Debug("malformed frame", logging.Error(cause))
	if seated := c.Room(); seated != nil {
		if err := seated.RejectMalformed(c.id); err != nil {
			s.roomError(c, err, "malformed")
		}
		return
	}
	s.replyError(c, cause.Error())
}

func (s *Server) withRoom(c *Client, kind string, fn func(*room.Room) error) {
	seated := c.Room()
	if seated == nil {
		c.log.Debug("dropping frame outside a room", logging.String("type", kind))
		return
	}
	if err := fn(seated); err != nil {
		s.roomError(c, err, kind)
	}
}

// roomError classifies failures returned by a room. Stale references are routine
// once a race ends; a saturated inbox drops the frame.
func (s *Server) roomError(c *Client, err error, kind string) {
	fields := []logging.Field{logging.String("type", kind), logging.Error(err)}
	switch {
	case errors.Is(err, room.ErrRoomClosed), errors.Is(err, room.ErrPlayerNotFound), errors.Is(err, session.ErrRoomNotFound):
		c.log.Debug("stale room reference", fields...)
	case errors.Is(err, room.ErrInboxFull):
		c.log.Warn("room inbox full, frame dropped", fields...)
	default:
		c.log.Warn("room rejected frame", fields...)
	}
}

func (s *Server) reply(c *Client, t protocol.Type, payload any) {
	frame, err := protocol.Encode(t, 0, payload)
	if err != nil {
		c.log.Error("encode reply failed", logging.String("type", string(t)), logging.Error(err))
		return
	}
	_ = c.SendReliable(frame)
}

func (s *Server) replyError(c *Client, message string) {
	s.reply(c, protocol.TypeError, protocol.ErrorMessage{Message: message})
}
