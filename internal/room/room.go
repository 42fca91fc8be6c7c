// Package room implements the authoritative race lifecycle. Each Room owns its
// racers and is driven by a single dispatcher goroutine that consumes a bounded
// inbox, so room state is never touched concurrently.
package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/input"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/player"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replication"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
)

// State enumerates the lifecycle phases of a room.
type State string

const (
	StateWaiting   State = "WAITING"
	StateCountdown State = "COUNTDOWN"
	StateRacing    State = "RACING"
	StateFinished  State = "FINISHED"
)

var (
	// ErrInvalidTransition marks a lifecycle change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid room transition")
	// ErrPlayerNotFound is returned when an event references a player outside the room.
	ErrPlayerNotFound = errors.New("player not in room")
	// ErrRoomFull is returned when a join would exceed the room capacity.
	ErrRoomFull = errors.New("room capacity reached")
	// ErrJoinClosed is returned when a join arrives after the room left WAITING.
	ErrJoinClosed = errors.New("room no longer accepts players")
	// ErrRoomClosed is returned for events submitted after teardown.
	ErrRoomClosed = errors.New("room closed")
	// ErrInboxFull is returned when the dispatcher is saturated; the event is dropped.
	ErrInboxFull = errors.New("room inbox full")
)

const (
	archiveTimeout = 5 * time.Second
	// slowDispatch flags events that hold the dispatcher longer than a broadcast tick.
	slowDispatch = 50 * time.Millisecond
)

var tracer = otel.Tracer("github.com/kawacukennedy/3d-racing-game-sub001/internal/room")

// legal lists the allowed lifecycle edges.
var legal = map[State]State{
	StateWaiting:   StateCountdown,
	StateCountdown: StateRacing,
	StateRacing:    StateFinished,
}

// Archiver persists the standings of a finished race.
type Archiver interface {
	Archive(ctx context.Context, race results.Race) error
}

// Recorder captures the room's event log.
type Recorder interface {
	Record(kind string, payload any) error
	Close() error
}

// RecorderFactory opens a recorder for a freshly created room.
type RecorderFactory func(roomID string) (Recorder, error)

// Seat pairs a new racer with the sink used to reach it.
type Seat struct {
	Session player.Session
	Sink    replication.Sink
}

// Snapshot is a read-only view of the room taken on the dispatcher.
type Snapshot struct {
	ID                string           `json:"id"`
	State             State            `json:"state"`
	Capacity          int              `json:"capacity"`
	CountdownDeadline time.Time        `json:"countdown_deadline,omitempty"`
	RaceBegan         time.Time        `json:"race_began,omitempty"`
	LastSequence      uint64           `json:"last_sequence"`
	Players           []player.Session `json:"players"`
	Dispatch          DispatchStats    `json:"dispatch"`
}

type event struct {
	kind  string
	apply func() error
}

// Option customises room construction.
type Option func(*Room)

// WithID overrides the generated room identifier.
func WithID(id string) Option {
	return func(r *Room) {
		if id != "" {
			r.id = id
		}
	}
}

// WithClock injects the time source used for countdowns and lap timing.
func WithClock(c clock.Clock) Option {
	return func(r *Room) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger injects the room logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Room) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithValidator shares a validator across rooms so violation totals aggregate.
func WithValidator(v *input.Validator) Option {
	return func(r *Room) {
		if v != nil {
			r.validator = v
		}
	}
}

// WithGate shares the per-source rate gate across rooms.
func WithGate(g *input.Gate) Option {
	return func(r *Room) {
		if g != nil {
			r.gate = g
		}
	}
}

// WithArchiver stores final standings once the race ends.
func WithArchiver(a Archiver) Option {
	return func(r *Room) { r.archiver = a }
}

// WithRecorderFactory records the room's events for replay.
func WithRecorderFactory(factory RecorderFactory) Option {
	return func(r *Room) { r.recorderFactory = factory }
}

// WithFinishedHandler is invoked on the dispatcher after race_end was broadcast.
func WithFinishedHandler(fn func(race results.Race)) Option {
	return func(r *Room) { r.onFinished = fn }
}

// WithEmptyHandler is invoked on the dispatcher when the last racer leaves before the race.
func WithEmptyHandler(fn func(roomID string)) Option {
	return func(r *Room) { r.onEmpty = fn }
}

// WithFaultHandler is invoked when the room hits a lifecycle invariant violation.
// The room closes itself afterwards.
func WithFaultHandler(fn func(roomID string, err error)) Option {
	return func(r *Room) { r.onFault = fn }
}

// Room is one isolated race.
type Room struct {
	id     string
	cfg    config.RaceConfig
	clock  clock.Clock
	logger *logging.Logger

	validator   *input.Validator
	gate        *input.Gate
	broadcaster *replication.Broadcaster
	archiver    Archiver
	recorder    Recorder

	recorderFactory RecorderFactory
	onFinished      func(results.Race)
	onEmpty         func(string)
	onFault         func(string, error)

	inbox chan event
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	timerMu   sync.Mutex
	countdown clock.Timer

	// Owned by the dispatcher goroutine.
	state             State
	players           *player.Store
	countdownDeadline time.Time
	raceBegan         time.Time
	faulted           bool

	monitor *DispatchMonitor
}

// New constructs a room in WAITING and starts its dispatcher.
func New(cfg config.RaceConfig, opts ...Option) *Room {
	if cfg.RoomCapacity <= 0 {
		cfg.RoomCapacity = config.DefaultRoomCapacity
	}
	if cfg.RoomInboxSize <= 0 {
		cfg.RoomInboxSize = config.DefaultRoomInboxSize
	}
	r := &Room{
		id:      uuid.NewString(),
		cfg:     cfg,
		clock:   clock.System(),
		logger:  logging.L(),
		state:   StateWaiting,
		players: player.NewStore(),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		monitor: NewDispatchMonitor(slowDispatch),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	//1.- Collaborators that were not shared get a room-local instance.
	r.logger = r.logger.With(logging.RoomID(r.id))
	if r.validator == nil {
		r.validator = input.NewValidator(cfg, r.logger, input.WithValidatorClock(r.clock))
	}
	if r.gate == nil {
		r.gate = input.NewGate(input.GateConfig{MinInterval: cfg.UpdateInterval()}, r.logger, input.WithClock(r.clock))
	}
	r.broadcaster = replication.NewBroadcaster(
		replication.WithRetention(cfg.ReliableRetention),
		replication.WithLogger(r.logger),
	)
	if r.recorderFactory != nil {
		recorder, err := r.recorderFactory(r.id)
		if err != nil {
			r.logger.Warn("replay recording disabled", logging.Error(err))
		} else {
			r.recorder = recorder
		}
	}
	r.inbox = make(chan event, cfg.RoomInboxSize)
	go r.run()
	return r
}

// ID returns the room identifier.
func (r *Room) ID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// Done is closed once the dispatcher has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Broadcaster exposes delivery counters for metrics.
func (r *Room) Broadcaster() *replication.Broadcaster { return r.broadcaster }

// Close tears the room down: the countdown is cancelled, the dispatcher stops and
// the replay recording is closed. It is safe to call from any goroutine,
// including room hooks, and more than once.
func (r *Room) Close() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		close(r.quit)
		r.stopCountdown()
	})
}

func (r *Room) run() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			r.shutdown()
			return
		case ev := <-r.inbox:
			r.handle(ev)
		}
	}
}

func (r *Room) shutdown() {
	for _, session := range r.players.Snapshot() {
		r.validator.Forget(session.ID)
		r.gate.Forget(session.ID)
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			r.logger.Warn("close replay recording", logging.Error(err))
		}
		r.recorder = nil
	}
	r.logger.Debug("room closed", logging.String("state", string(r.state)))
}

func (r *Room) handle(ev event) {
	if r.faulted {
		return
	}
	started := time.Now()
	defer func() {
		r.monitor.Observe(time.Since(started))
		if recovered := recover(); recovered != nil {
			r.fault(fmt.Errorf("%w: panic during %s: %v", ErrInvalidTransition, ev.kind, recovered))
		}
	}()
	if err := ev.apply(); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			r.fault(err)
			return
		}
		r.logger.Debug("room event rejected", logging.String("event", ev.kind), logging.Error(err))
	}
	r.settle()
}

func (r *Room) fault(err error) {
	r.faulted = true
	r.logger.Error("room lifecycle invariant violated", logging.String("state", string(r.state)), logging.Error(err))
	if r.onFault != nil {
		r.onFault(r.id, err)
	}
	r.Close()
}

// submit enqueues without blocking; a saturated inbox drops the event.
func (r *Room) submit(ev event) error {
	select {
	case <-r.quit:
		return ErrRoomClosed
	default:
	}
	select {
	case r.inbox <- ev:
		return nil
	case <-r.quit:
		return ErrRoomClosed
	default:
		return ErrInboxFull
	}
}

// post blocks until the dispatcher accepts the event. It is reserved for timer
// callbacks whose events must not be dropped.
func (r *Room) post(ev event) {
	select {
	case r.inbox <- ev:
	case <-r.quit:
	}
}

// call runs fn on the dispatcher and waits for its result.
func (r *Room) call(ctx context.Context, kind string, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	reply := make(chan error, 1)
	err := r.submit(event{kind: kind, apply: func() error {
		err := fn()
		reply <- err
		if errors.Is(err, ErrInvalidTransition) {
			return err
		}
		return nil
	}})
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join seats a racer while the room is WAITING. A join that fills the room
// starts the countdown.
func (r *Room) Join(ctx context.Context, seat Seat) error {
	return r.call(ctx, "join", func() error {
		if err := r.seat(seat); err != nil {
			return err
		}
		r.announce(seat.Session.ID)
		if r.players.Len() >= r.cfg.RoomCapacity {
			return r.beginCountdown()
		}
		return nil
	})
}

// Seed seats a matched batch of racers and starts the countdown in one step.
func (r *Room) Seed(ctx context.Context, seats []Seat) error {
	return r.call(ctx, "seed", func() error {
		if len(seats) == 0 {
			return fmt.Errorf("seed requires at least one racer")
		}
		if r.players.Len()+len(seats) > r.cfg.RoomCapacity {
			return ErrRoomFull
		}
		for _, seat := range seats {
			if err := r.seat(seat); err != nil {
				return err
			}
		}
		//1.- Announce only once the whole batch is seated so every roster is complete.
		for _, seat := range seats {
			r.announce(seat.Session.ID)
		}
		return r.beginCountdown()
	})
}

// Start forces WAITING to COUNTDOWN without waiting for the room to fill.
func (r *Room) Start() error {
	return r.submit(event{kind: "start", apply: r.beginCountdown})
}

// UpdatePosition submits a racer's claimed kinematic state.
func (r *Room) UpdatePosition(playerID string, update protocol.UpdatePosition) error {
	return r.submit(event{kind: "update_position", apply: func() error {
		return r.applyPosition(playerID, update)
	}})
}

// CompleteLap submits a racer's lap completion claim.
func (r *Room) CompleteLap(playerID string, lap protocol.LapCompleted) error {
	return r.submit(event{kind: "lap_completed", apply: func() error {
		return r.applyLap(playerID, lap)
	}})
}

// Finish marks the racer as having crossed the finish line.
func (r *Room) Finish(playerID string) error {
	return r.submit(event{kind: "race_finished", apply: func() error {
		return r.applyFinish(playerID)
	}})
}

// RejectMalformed reports a payload that could not be decoded for the racer.
func (r *Room) RejectMalformed(playerID string) error {
	return r.submit(event{kind: "malformed", apply: func() error {
		current, ok := r.players.Get(playerID)
		if !ok {
			return ErrPlayerNotFound
		}
		racing := r.state == StateRacing && current.Active()
		r.reject(playerID, r.validator.ValidatePosition(player.Session{ID: playerID}, racing, input.PositionClaim{}))
		return nil
	}})
}

// Disconnect flags the racer as gone. Before the race the seat is released.
func (r *Room) Disconnect(playerID string) error {
	return r.submit(event{kind: "disconnect", apply: func() error {
		return r.dropConnection(playerID)
	}})
}

// Resume reattaches a reconnecting racer and replays the reliable events after lastSeq.
func (r *Room) Resume(ctx context.Context, playerID string, sink replication.Sink, lastSeq uint64) error {
	return r.call(ctx, "resume", func() error {
		session, ok := r.players.Get(playerID)
		if !ok {
			return ErrPlayerNotFound
		}
		r.broadcaster.Add(playerID, sink)
		if session.Disconnected && r.state != StateFinished {
			_ = r.players.MarkReconnected(playerID)
		}
		_, err := r.broadcaster.ReplaySince(playerID, lastSeq)
		if errors.Is(err, replication.ErrHistoryTruncated) {
			return nil
		}
		return err
	})
}

// Snapshot returns a consistent view of the room.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	err := r.call(ctx, "snapshot", func() error {
		snapshot = Snapshot{
			ID:                r.id,
			State:             r.state,
			Capacity:          r.cfg.RoomCapacity,
			CountdownDeadline: r.countdownDeadline,
			RaceBegan:         r.raceBegan,
			LastSequence:      r.broadcaster.LastSequence(),
			Players:           r.players.Snapshot(),
			Dispatch:          r.monitor.Snapshot(),
		}
		return nil
	})
	return snapshot, err
}

func (r *Room) seat(seat Seat) error {
	if r.state != StateWaiting {
		return ErrJoinClosed
	}
	if r.players.Len() >= r.cfg.RoomCapacity {
		return ErrRoomFull
	}
	if seat.Session.JoinedAt.IsZero() {
		seat.Session.JoinedAt = r.clock.Now()
	}
	if err := r.players.Add(seat.Session); err != nil {
		return err
	}
	if seat.Sink != nil {
		r.broadcaster.Add(seat.Session.ID, seat.Sink)
	}
	r.logger.Info("player joined room", logging.PlayerID(seat.Session.ID), logging.Int("players", r.players.Len()))
	return nil
}

// announce sends room_joined with the current roster to one racer.
func (r *Room) announce(playerID string) {
	_ = r.sendTo(playerID, protocol.TypeRoomJoined, protocol.RoomJoined{
		RoomID:   r.id,
		PlayerID: playerID,
		Players:  r.roster(),
	})
}

func (r *Room) roster() []protocol.PlayerInfo {
	sessions := r.players.Snapshot()
	roster := make([]protocol.PlayerInfo, 0, len(sessions))
	for _, session := range sessions {
		roster = append(roster, protocol.PlayerInfo{ID: session.ID, Name: session.Name, Customization: session.Customization})
	}
	return roster
}

func (r *Room) transition(to State) (trace.Span, error) {
	from := r.state
	_, span := tracer.Start(context.Background(), "room.transition", trace.WithAttributes(
		attribute.String("room.id", r.id),
		attribute.String("room.from", string(from)),
		attribute.String("room.to", string(to)),
	))
	if next, ok := legal[from]; !ok || next != to {
		err := fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	r.state = to
	r.logger.Info("room transition", logging.String("from", string(from)), logging.String("to", string(to)))
	return span, nil
}

func (r *Room) beginCountdown() error {
	span, err := r.transition(StateCountdown)
	if err != nil {
		return err
	}
	defer span.End()

	now := r.clock.Now()
	r.countdownDeadline = now.Add(r.cfg.Countdown)
	r.publish(protocol.TypeRaceStart, protocol.RaceStart{
		StartTime: r.countdownDeadline.UnixMilli(),
		Players:   r.roster(),
	})

	//1.- The timer only posts an event; the dispatcher performs the transition.
	r.timerMu.Lock()
	select {
	case <-r.quit:
	default:
		r.countdown = r.clock.AfterFunc(r.cfg.Countdown, func() {
			r.post(event{kind: "countdown_elapsed", apply: r.beginRace})
		})
	}
	r.timerMu.Unlock()
	return nil
}

func (r *Room) stopCountdown() {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()
	if r.countdown != nil {
		r.countdown.Stop()
		r.countdown = nil
	}
}

func (r *Room) beginRace() error {
	r.timerMu.Lock()
	r.countdown = nil
	r.timerMu.Unlock()

	span, err := r.transition(StateRacing)
	if err != nil {
		return err
	}
	defer span.End()

	r.raceBegan = r.clock.Now()
	r.players.StartLapClocks(r.raceBegan)
	r.publish(protocol.TypeRaceBegin, protocol.RaceBegin{})
	return nil
}

func (r *Room) finishRace() error {
	span, err := r.transition(StateFinished)
	if err != nil {
		return err
	}
	defer span.End()

	finishedAt := r.clock.Now()
	standings := results.Aggregate(r.players.Snapshot(), r.raceBegan)
	r.publish(protocol.TypeRaceEnd, protocol.RaceEnd{Results: standings})
	span.SetAttributes(attribute.Int("room.standings", len(standings)))

	race := results.Race{RoomID: r.id, BeganAt: r.raceBegan, FinishedAt: finishedAt, Standings: standings}
	if r.archiver != nil {
		ctx, cancel := context.WithTimeout(trace.ContextWithSpan(context.Background(), span), archiveTimeout)
		if err := r.archiver.Archive(ctx, race); err != nil {
			r.logger.Warn("archive race results", logging.Error(err))
		}
		cancel()
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			r.logger.Warn("close replay recording", logging.Error(err))
		}
		r.recorder = nil
	}
	if r.onFinished != nil {
		r.onFinished(race)
	}
	return nil
}

func (r *Room) applyPosition(playerID string, update protocol.UpdatePosition) error {
	current, ok := r.players.Get(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	racing := r.state == StateRacing
	if racing && current.Active() {
		frame := input.Frame{SourceID: playerID}
		if update.Timestamp > 0 {
			frame.SentAt = time.UnixMilli(update.Timestamp)
		}
		if decision := r.gate.Evaluate(frame); !decision.Accepted {
			return nil
		}
	}
	claim := input.PositionClaim{Position: update.Position, Rotation: update.Rotation, Velocity: update.Velocity}
	decision := r.validator.ValidatePosition(current, racing && current.Active(), claim)
	if !decision.Accepted {
		r.reject(playerID, decision)
		return nil
	}
	position, rotation, velocity := claim.Resolved()
	if err := r.players.ApplyPosition(playerID, position, rotation, velocity); err != nil {
		return err
	}
	timestamp := update.Timestamp
	if timestamp <= 0 {
		timestamp = r.clock.Now().UnixMilli()
	}
	relay := protocol.PlayerUpdate{PlayerID: playerID, Position: position, Rotation: rotation, Velocity: velocity, Timestamp: timestamp}
	if _, err := r.broadcaster.PublishBestEffort(playerID, protocol.TypePlayerUpdate, relay); err != nil {
		return err
	}
	r.record(string(protocol.TypePlayerUpdate), relay)
	return nil
}

func (r *Room) applyLap(playerID string, claim protocol.LapCompleted) error {
	current, ok := r.players.Get(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	racing := r.state == StateRacing && current.Active()
	decision := r.validator.ValidateLap(current, racing, input.LapClaim{Lap: claim.Lap, Checkpoint: claim.Checkpoint})
	if !decision.Accepted {
		r.reject(playerID, decision)
		return nil
	}
	if err := r.players.ApplyLap(playerID, *claim.Lap, *claim.Checkpoint, r.clock.Now()); err != nil {
		return err
	}
	r.publish(protocol.TypeLapUpdate, protocol.LapUpdate{PlayerID: playerID, Lap: *claim.Lap, Checkpoint: *claim.Checkpoint})
	return nil
}

func (r *Room) applyFinish(playerID string) error {
	current, ok := r.players.Get(playerID)
	if !ok {
		return ErrPlayerNotFound
	}
	if r.state != StateRacing || !current.Active() {
		r.logger.Debug("finish ignored outside race", logging.PlayerID(playerID), logging.String("state", string(r.state)))
		return nil
	}
	if err := r.players.MarkFinished(playerID, r.clock.Now()); err != nil {
		return err
	}
	r.logger.Info("player finished", logging.PlayerID(playerID))
	r.record(string(protocol.TypeRaceFinished), map[string]string{"player_id": playerID})
	return nil
}

// reject applies the violation policy to a refused update.
func (r *Room) reject(playerID string, decision input.ValidationDecision) {
	if !decision.Punitive() {
		r.logger.Debug("update outside race ignored", logging.PlayerID(playerID), logging.String("state", string(r.state)))
		return
	}
	r.logger.Warn("input rejected",
		logging.PlayerID(playerID),
		logging.String("reason", string(decision.Reason)),
		logging.Bool("warn", decision.Warn),
	)
	_ = r.sendTo(playerID, protocol.TypeCheatDetected, protocol.CheatDetected{Reason: string(decision.Reason)})
	r.record(string(protocol.TypeCheatDetected), map[string]string{"player_id": playerID, "reason": string(decision.Reason)})
	if decision.Disconnect {
		if kicker, ok := r.sinkKicker(playerID); ok {
			kicker.Kick(string(decision.Reason))
		}
		_ = r.dropConnection(playerID)
	}
}

func (r *Room) sinkKicker(playerID string) (replication.Kicker, bool) {
	sink, ok := r.broadcaster.Sink(playerID)
	if !ok {
		return nil, false
	}
	kicker, ok := sink.(replication.Kicker)
	return kicker, ok
}

// dropConnection releases a seat before the race and flags the racer afterwards.
func (r *Room) dropConnection(playerID string) error {
	if _, ok := r.players.Get(playerID); !ok {
		return ErrPlayerNotFound
	}
	r.broadcaster.Remove(playerID)
	r.gate.Forget(playerID)
	switch r.state {
	case StateWaiting, StateCountdown:
		r.players.Remove(playerID)
		r.validator.Forget(playerID)
	default:
		//1.- Violation history stays with the seat so a reconnect cannot reset it.
		_ = r.players.MarkDisconnected(playerID)
	}
	r.logger.Info("player disconnected", logging.PlayerID(playerID))
	return nil
}

// settle runs after every event and applies the completion rules.
func (r *Room) settle() {
	if r.faulted {
		return
	}
	switch r.state {
	case StateRacing:
		if r.players.ActiveCount() == 0 {
			if err := r.finishRace(); err != nil {
				r.fault(err)
			}
		}
	case StateWaiting, StateCountdown:
		if r.players.Len() == 0 {
			r.stopCountdown()
			if r.onEmpty != nil {
				r.onEmpty(r.id)
			}
		}
	}
}

// publish broadcasts a reliable lifecycle event and flags members whose sink failed.
func (r *Room) publish(t protocol.Type, payload any) {
	_, err := r.broadcaster.PublishReliable(t, payload)
	r.record(string(t), payload)
	r.handleDeliveryError(err)
}

func (r *Room) sendTo(playerID string, t protocol.Type, payload any) error {
	err := r.broadcaster.SendReliableTo(playerID, t, payload)
	if errors.Is(err, replication.ErrUnknownMember) {
		return nil
	}
	r.handleDeliveryError(err)
	return nil
}

func (r *Room) handleDeliveryError(err error) {
	if err == nil {
		return
	}
	var delivery *replication.DeliveryError
	if !errors.As(err, &delivery) {
		r.logger.Warn("reliable publish failed", logging.Error(err))
		return
	}
	for _, id := range delivery.Members() {
		r.logger.Warn("reliable delivery failed", logging.PlayerID(id), logging.Error(delivery.Failed[id]))
		_ = r.dropConnection(id)
	}
}

func (r *Room) record(kind string, payload any) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(kind, payload); err != nil {
		r.logger.Warn("replay record failed, disabling recording", logging.Error(err))
		_ = r.recorder.Close()
		r.recorder = nil
	}
}
