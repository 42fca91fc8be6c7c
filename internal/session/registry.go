// Package session owns the set of live rooms. A Registry is an explicit
// instance handed to its collaborators; nothing in the process reaches rooms
// through global state, so several registries can coexist in one test binary.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/input"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replication"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/room"
)

var (
	// ErrRoomNotFound is returned when a room id does not resolve to a live room.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRegistryClosed is returned when rooms are requested after Close.
	ErrRegistryClosed = errors.New("registry closed")
)

// Stats summarises registry activity for metrics.
type Stats struct {
	Rooms    int    `json:"rooms"`
	Created  uint64 `json:"created"`
	Finished uint64 `json:"finished"`
	Emptied  uint64 `json:"emptied"`
	Faulted  uint64 `json:"faulted"`
}

// Option customises registry construction.
type Option func(*Registry)

// WithClock injects the clock passed to every room.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger injects the registry logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithArchiver persists results of every finished room.
func WithArchiver(a room.Archiver) Option {
	return func(r *Registry) { r.archiver = a }
}

// WithRecorderFactory records every room for replay.
func WithRecorderFactory(factory room.RecorderFactory) Option {
	return func(r *Registry) { r.recorderFactory = factory }
}

// Registry maps room ids to live rooms and tears rooms down when they end.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*room.Room
	closed bool
	stats  Stats

	cfg             config.RaceConfig
	clock           clock.Clock
	logger          *logging.Logger
	validator       *input.Validator
	gate            *input.Gate
	archiver        room.Archiver
	recorderFactory room.RecorderFactory

	listenerMu sync.RWMutex
	nextID     uint64
	listeners  map[uint64]func(results.Race)
}

// NewRegistry constructs an empty registry. Rooms share one validator and one
// rate gate so their counters aggregate process-wide.
func NewRegistry(cfg config.RaceConfig, opts ...Option) *Registry {
	r := &Registry{
		rooms:     make(map[string]*room.Room),
		cfg:       cfg,
		clock:     clock.System(),
		logger:    logging.L(),
		listeners: make(map[uint64]func(results.Race)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.validator = input.NewValidator(cfg, r.logger, input.WithValidatorClock(r.clock))
	r.gate = input.NewGate(input.GateConfig{MinInterval: cfg.UpdateInterval()}, r.logger, input.WithClock(r.clock))
	return r
}

// Validator exposes the shared validator for metrics.
func (r *Registry) Validator() *input.Validator { return r.validator }

// Gate exposes the shared rate gate for metrics.
func (r *Registry) Gate() *input.Gate { return r.gate }

// Create registers a new room and, when seats are supplied, seeds it and starts
// the countdown.
func (r *Registry) Create(ctx context.Context, seats []room.Seat) (*room.Room, error) {
	if r == nil {
		return nil, errors.New("nil registry")
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	created := room.New(r.cfg,
		room.WithClock(r.clock),
		room.WithLogger(r.logger),
		room.WithValidator(r.validator),
		room.WithGate(r.gate),
		room.WithArchiver(r.archiver),
		room.WithRecorderFactory(r.recorderFactory),
		room.WithFinishedHandler(r.handleFinished),
		room.WithEmptyHandler(r.handleEmpty),
		room.WithFaultHandler(r.handleFault),
	)
	r.rooms[created.ID()] = created
	r.stats.Created++
	r.mu.Unlock()

	r.logger.Info("room created", logging.RoomID(created.ID()), logging.Int("seats", len(seats)))
	if len(seats) == 0 {
		return created, nil
	}
	//1.- A batch that cannot be seated leaves no half-built room behind.
	if err := created.Seed(ctx, seats); err != nil {
		r.Remove(created.ID())
		return nil, fmt.Errorf("seed room %s: %w", created.ID(), err)
	}
	return created, nil
}

// Get resolves a room by id.
func (r *Registry) Get(id string) (*room.Room, error) {
	if r == nil {
		return nil, ErrRoomNotFound
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	found, ok := r.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, id)
	}
	return found, nil
}

// Remove unregisters and closes the room. It reports whether the room was live.
func (r *Registry) Remove(id string) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	found, ok := r.rooms[id]
	delete(r.rooms, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	found.Close()
	r.logger.Debug("room removed", logging.RoomID(id))
	return true
}

// List returns the live rooms ordered by id.
func (r *Registry) List() []*room.Room {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]*room.Room, 0, len(r.rooms))
	for _, live := range r.rooms {
		out = append(out, live)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Snapshots collects a snapshot of every live room. Rooms that close while
// being queried are skipped.
func (r *Registry) Snapshots(ctx context.Context) []room.Snapshot {
	rooms := r.List()
	out := make([]room.Snapshot, 0, len(rooms))
	for _, live := range rooms {
		snapshot, err := live.Snapshot(ctx)
		if err != nil {
			continue
		}
		out = append(out, snapshot)
	}
	return out
}

// Stats returns registry counters.
func (r *Registry) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := r.stats
	stats.Rooms = len(r.rooms)
	return stats
}

// Delivery sums the broadcaster counters of every live room.
func (r *Registry) Delivery() replication.Counters {
	var total replication.Counters
	for _, live := range r.List() {
		counters := live.Broadcaster().Counters()
		total.Reliable += counters.Reliable
		total.ReliableFailed += counters.ReliableFailed
		total.BestEffort += counters.BestEffort
		total.BestEffortFailed += counters.BestEffortFailed
		total.Replayed += counters.Replayed
	}
	return total
}

// OnResult registers a listener for finished races and returns its cancel func.
// Listeners run on the finishing room's dispatcher and must not block.
func (r *Registry) OnResult(fn func(results.Race)) func() {
	if r == nil || fn == nil {
		return func() {}
	}
	r.listenerMu.Lock()
	r.nextID++
	id := r.nextID
	r.listeners[id] = fn
	r.listenerMu.Unlock()
	return func() {
		r.listenerMu.Lock()
		delete(r.listeners, id)
		r.listenerMu.Unlock()
	}
}

// Close tears down every room and refuses new ones.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.closed = true
	rooms := r.rooms
	r.rooms = make(map[string]*room.Room)
	r.mu.Unlock()
	for _, live := range rooms {
		live.Close()
	}
}

func (r *Registry) handleFinished(race results.Race) {
	r.listenerMu.RLock()
	listeners := make([]func(results.Race), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(race)
	}
	r.mu.Lock()
	r.stats.Finished++
	r.mu.Unlock()
	r.logger.Info("race finished", logging.RoomID(race.RoomID), logging.Int("standings", len(race.Standings)))
	r.Remove(race.RoomID)
}

func (r *Registry) handleEmpty(roomID string) {
	r.mu.Lock()
	r.stats.Emptied++
	r.mu.Unlock()
	r.Remove(roomID)
}

func (r *Registry) handleFault(roomID string, err error) {
	r.mu.Lock()
	r.stats.Faulted++
	r.mu.Unlock()
	r.logger.Error("room torn down after fault", logging.RoomID(roomID), logging.Error(err))
	r.Remove(roomID)
}
