// Package racebot is a headless racer that joins a race server over websocket,
// drives a circular line and reconciles the other racers it hears about.
package racebot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/networking"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/timesync"
)

const (
	// DefaultLaps is how many laps a bot drives before reporting race_finished.
	DefaultLaps = 3
	// DefaultSpeed keeps the bot comfortably below the server speed limit.
	DefaultSpeed = 30.0
	// trackRadius is the radius of the circle the bot drives.
	trackRadius = 40.0
)

var (
	// ErrMatchmakingTimeout is returned when the server dropped the bot's ticket.
	ErrMatchmakingTimeout = errors.New("matchmaking timed out")
	// ErrConnectionClosed is returned when the server closed the socket mid-race.
	ErrConnectionClosed = errors.New("connection closed")
)

// Options configures a bot.
type Options struct {
	URL     string
	Name    string
	Laps    int
	LapTime time.Duration
	Speed   float64
	Race    config.RaceConfig
	Logger  *logging.Logger
	Clock   clock.Clock
}

// Summary describes what the bot observed during one race.
type Summary struct {
	PlayerID       string              `json:"player_id"`
	RoomID         string              `json:"room_id"`
	Results        []results.Standing  `json:"results"`
	UpdatesSent    int                 `json:"updates_sent"`
	UpdatesPaced   int                 `json:"updates_paced"`
	RemoteUpdates  int                 `json:"remote_updates"`
	MaxCorrection  float64             `json:"max_correction"`
	ClockOffset    time.Duration       `json:"clock_offset"`
	RoundTrip      time.Duration       `json:"round_trip"`
	LastSequence   uint64              `json:"last_sequence"`
	CheatReports   []string            `json:"cheat_reports,omitempty"`
	Visible        []networking.Remote `json:"visible,omitempty"`
	OutOfInterest  uint64              `json:"out_of_interest"`
	SendInterval   time.Duration       `json:"send_interval"`
	StartLeadError time.Duration       `json:"start_lead_error"`
}

// Bot is one headless racer. It is not safe for concurrent use.
type Bot struct {
	opts       Options
	conn       *websocket.Conn
	log        *logging.Logger
	clock      clock.Clock
	reconciler *networking.Reconciler
	summary    Summary

	quit      chan struct{}
	closeOnce sync.Once
	angle     float64
	lap       int
	syncSent  time.Time
	startTime time.Time
}

// Dial connects a bot to the server at opts.URL.
func Dial(ctx context.Context, opts Options) (*Bot, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if opts.Name == "" {
		opts.Name = "racebot"
	}
	if opts.Laps <= 0 {
		opts.Laps = DefaultLaps
	}
	if opts.Race == (config.RaceConfig{}) {
		opts.Race = config.DefaultRace()
	}
	if opts.LapTime <= 0 {
		opts.LapTime = opts.Race.MinLapTime + time.Second
	}
	if opts.Speed <= 0 {
		opts.Speed = DefaultSpeed
	}
	if opts.Logger == nil {
		opts.Logger = logging.L()
	}
	if opts.Clock == nil {
		opts.Clock = clock.System()
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	return &Bot{
		opts:  opts,
		conn:  conn,
		log:   opts.Logger.With(logging.String("bot", opts.Name)),
		clock: opts.Clock,
		quit:  make(chan struct{}),
	}, nil
}

// Close drops the connection.
func (b *Bot) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	var err error
	b.closeOnce.Do(func() {
		close(b.quit)
		err = b.conn.Close()
	})
	return err
}

// Run queues the bot, drives the configured laps and returns once race_end arrives.
func (b *Bot) Run(ctx context.Context) (Summary, error) {
	inbound := make(chan protocol.Envelope, 64)
	readErr := make(chan error, 1)
	go b.readLoop(inbound, readErr)

	//1.- Sample the clock offset first so the countdown can be aligned.
	b.syncSent = b.clock.Now()
	if err := b.send(protocol.TypeTimeSync, protocol.TimeSync{ClientTime: b.syncSent.UnixMilli()}); err != nil {
		return b.summary, err
	}
	if err := b.send(protocol.TypeJoinMatchmaking, protocol.JoinMatchmaking{Name: b.opts.Name}); err != nil {
		return b.summary, err
	}

	var ticker *time.Ticker
	var drive <-chan time.Time
	var lapDone <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return b.summary, ctx.Err()
		case err := <-readErr:
			return b.summary, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		case envelope := <-inbound:
			began, done, err := b.handle(envelope)
			if err != nil || done {
				return b.finish(), err
			}
			if began {
				ticker = time.NewTicker(b.opts.Race.UpdateInterval())
				drive = ticker.C
				lapDone = time.After(b.opts.LapTime)
			}
		case <-drive:
			if err := b.drive(); err != nil {
				return b.summary, err
			}
		case <-lapDone:
			finished, err := b.completeLap()
			if err != nil {
				return b.summary, err
			}
			lapDone = nil
			if finished {
				ticker.Stop()
				drive = nil
				continue
			}
			lapDone = time.After(b.opts.LapTime)
		}
	}
}

func (b *Bot) readLoop(inbound chan<- protocol.Envelope, readErr chan<- error) {
	for {
		_, frame, err := b.conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		envelope, err := protocol.Decode(frame)
		if err != nil {
			b.log.Warn("undecodable frame from server", logging.Error(err))
			continue
		}
		select {
		case inbound <- envelope:
		case <-b.quit:
			return
		}
	}
}

// handle applies one server message. It reports whether racing began and
// whether the race is over.
func (b *Bot) handle(envelope protocol.Envelope) (began, done bool, err error) {
	if envelope.Seq > b.summary.LastSequence {
		b.summary.LastSequence = envelope.Seq
	}
	switch envelope.Type {
	case protocol.TypeTimeSync:
		var reply protocol.TimeSync
		if err := envelope.Into(&reply); err != nil {
			return false, false, err
		}
		sample := timesync.Estimate(b.syncSent, reply, b.clock.Now())
		b.summary.ClockOffset, b.summary.RoundTrip = sample.Offset, sample.RoundTrip
	case protocol.TypeRoomJoined:
		var joined protocol.RoomJoined
		if err := envelope.Into(&joined); err != nil {
			return false, false, err
		}
		b.summary.PlayerID, b.summary.RoomID = joined.PlayerID, joined.RoomID
		b.reconciler = networking.NewReconciler(joined.PlayerID, b.opts.Race, b.clock)
		b.reconciler.SetSelf(b.position())
		b.log.Info("seated", logging.RoomID(joined.RoomID), logging.PlayerID(joined.PlayerID), logging.Int("players", len(joined.Players)))
	case protocol.TypeRaceStart:
		var start protocol.RaceStart
		if err := envelope.Into(&start); err != nil {
			return false, false, err
		}
		//1.- Convert the server start time into the local clock using the offset sample.
		b.startTime = time.UnixMilli(start.StartTime).Add(-b.summary.ClockOffset)
	case protocol.TypeRaceBegin:
		if !b.startTime.IsZero() {
			b.summary.StartLeadError = b.clock.Now().Sub(b.startTime)
		}
		return true, false, nil
	case protocol.TypePlayerUpdate:
		var update protocol.PlayerUpdate
		if err := envelope.Into(&update); err != nil {
			return false, false, err
		}
		b.summary.RemoteUpdates++
		correction := b.reconciler.Apply(update)
		b.summary.MaxCorrection = math.Max(b.summary.MaxCorrection, correction.Error)
	case protocol.TypeCheatDetected:
		var report protocol.CheatDetected
		if err := envelope.Into(&report); err != nil {
			return false, false, err
		}
		b.summary.CheatReports = append(b.summary.CheatReports, report.Reason)
		b.log.Warn("server rejected input", logging.String("reason", report.Reason))
	case protocol.TypeMatchmakingTimeout:
		return false, true, ErrMatchmakingTimeout
	case protocol.TypeRaceEnd:
		var end protocol.RaceEnd
		if err := envelope.Into(&end); err != nil {
			return false, false, err
		}
		b.summary.Results = end.Results
		return false, true, nil
	case protocol.TypeError:
		var message protocol.ErrorMessage
		_ = envelope.Into(&message)
		b.log.Warn("server error", logging.String("message", message.Message))
	}
	return false, false, nil
}

// drive advances the bot around the circle and sends the new state when paced.
func (b *Bot) drive() error {
	step := b.opts.Race.UpdateInterval().Seconds()
	b.angle += b.opts.Speed * step / trackRadius
	position := b.position()
	b.reconciler.SetSelf(position)
	if !b.reconciler.ShouldSend() {
		b.summary.UpdatesPaced++
		return nil
	}
	rotation := physics.Vec3{Y: b.angle}
	velocity := b.velocity()
	frame, err := protocol.Encode(protocol.TypeUpdatePosition, 0, protocol.UpdatePosition{
		Position:  &position,
		Rotation:  &rotation,
		Velocity:  &velocity,
		Timestamp: b.clock.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	b.summary.UpdatesSent++
	b.reconciler.Sent(len(frame))
	return nil
}

// completeLap reports the next lap and, after the last one, race_finished.
func (b *Bot) completeLap() (bool, error) {
	b.lap++
	checkpoint := b.opts.Race.MaxCheckpoints
	if err := b.send(protocol.TypeLapCompleted, protocol.LapCompleted{Lap: &b.lap, Checkpoint: &checkpoint}); err != nil {
		return false, err
	}
	if b.lap < b.opts.Laps {
		return false, nil
	}
	return true, b.send(protocol.TypeRaceFinished, protocol.RaceFinished{})
}

func (b *Bot) finish() Summary {
	if b.reconciler != nil {
		b.summary.Visible = b.reconciler.Visible()
		b.summary.OutOfInterest = b.reconciler.Ignored()
		b.summary.SendInterval = b.reconciler.Interval()
	}
	return b.summary
}

func (b *Bot) position() physics.Vec3 {
	return physics.Vec3{X: trackRadius * math.Cos(b.angle), Z: trackRadius * math.Sin(b.angle)}
}

func (b *Bot) velocity() physics.Vec3 {
	return physics.Vec3{X: -b.opts.Speed * math.Sin(b.angle), Z: b.opts.Speed * math.Cos(b.angle)}
}

func (b *Bot) send(t protocol.Type, payload any) error {
	frame, err := protocol.Encode(t, 0, payload)
	if err != nil {
		return err
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}
