// Package matchmaking pairs waiting racers into rooms in strict arrival order.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/player"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replication"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/room"
)

// MinBatch is the smallest group of tickets that forms a room.
const MinBatch = 2

var (
	// ErrQueueClosed is returned for tickets submitted after Close.
	ErrQueueClosed = errors.New("matchmaking queue closed")
	// ErrAlreadyQueued is returned when a player enqueues twice.
	ErrAlreadyQueued = errors.New("player already queued")
	// ErrInvalidTicket is returned when a ticket omits its player id.
	ErrInvalidTicket = errors.New("ticket requires a player id")
)

// Ticket is one racer waiting for a room.
type Ticket struct {
	PlayerID      string
	Name          string
	Customization string
	EnqueuedAt    time.Time
	Sink          replication.Sink
}

// RoomCreator builds a room seeded with the given racers.
type RoomCreator interface {
	Create(ctx context.Context, seats []room.Seat) (*room.Room, error)
}

// Stats summarises queue activity for metrics.
type Stats struct {
	Waiting   int    `json:"waiting"`
	Enqueued  uint64 `json:"enqueued"`
	Matched   uint64 `json:"matched"`
	Solo      uint64 `json:"solo"`
	Expired   uint64 `json:"expired"`
	Cancelled uint64 `json:"cancelled"`
}

// Option customises queue construction.
type Option func(*Queue)

// WithClock injects the clock driving enqueue stamps and the max-wait timer.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) {
		if c != nil {
			q.clock = c
		}
	}
}

// WithLogger injects the queue logger.
func WithLogger(logger *logging.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithAssignHandler is told which room each ticket was seated in.
func WithAssignHandler(fn func(ticket Ticket, seated *room.Room)) Option {
	return func(q *Queue) { q.onAssign = fn }
}

// WithExpireHandler is told about tickets dropped by the expire policy.
func WithExpireHandler(fn func(ticket Ticket)) Option {
	return func(q *Queue) { q.onExpire = fn }
}

// Queue is a FIFO of tickets with a cancellable max-wait timer.
type Queue struct {
	mu      sync.Mutex
	cfg     config.RaceConfig
	clock   clock.Clock
	logger  *logging.Logger
	creator RoomCreator

	tickets []Ticket
	timer   clock.Timer
	closed  bool
	stats   Stats

	onAssign func(Ticket, *room.Room)
	onExpire func(Ticket)
}

// New constructs a queue that seeds rooms through creator.
func New(cfg config.RaceConfig, creator RoomCreator, opts ...Option) *Queue {
	if cfg.RoomCapacity < MinBatch {
		cfg.RoomCapacity = config.DefaultRoomCapacity
	}
	if cfg.MatchmakingWaitPolicy == "" {
		cfg.MatchmakingWaitPolicy = config.DefaultMatchmakingWaitPolicy
	}
	q := &Queue{
		cfg:     cfg,
		clock:   clock.System(),
		logger:  logging.L(),
		creator: creator,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

// Enqueue appends the ticket and immediately tries to form a room.
func (q *Queue) Enqueue(ctx context.Context, ticket Ticket) (*room.Room, error) {
	if q == nil {
		return nil, ErrQueueClosed
	}
	if ticket.PlayerID == "" {
		return nil, ErrInvalidTicket
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	for _, queued := range q.tickets {
		if queued.PlayerID == ticket.PlayerID {
			q.mu.Unlock()
			return nil, ErrAlreadyQueued
		}
	}
	ticket.EnqueuedAt = q.clock.Now()
	q.tickets = append(q.tickets, ticket)
	q.stats.Enqueued++
	q.mu.Unlock()

	q.logger.Debug("ticket enqueued", logging.PlayerID(ticket.PlayerID))
	formed, err := q.TryFormRoom(ctx)
	q.rearm()
	return formed, err
}

// TryFormRoom seats up to capacity tickets from the head of the queue. With fewer
// than two tickets waiting nothing happens and nil is returned.
func (q *Queue) TryFormRoom(ctx context.Context) (*room.Room, error) {
	if q == nil {
		return nil, ErrQueueClosed
	}
	q.mu.Lock()
	if q.closed || len(q.tickets) < MinBatch {
		q.mu.Unlock()
		return nil, nil
	}
	take := len(q.tickets)
	if take > q.cfg.RoomCapacity {
		take = q.cfg.RoomCapacity
	}
	batch := append([]Ticket(nil), q.tickets[:take]...)
	q.tickets = append([]Ticket(nil), q.tickets[take:]...)
	q.mu.Unlock()

	formed, err := q.seed(ctx, batch)
	if err != nil {
		//1.- Put the batch back at the head so arrival order is preserved.
		q.mu.Lock()
		q.tickets = append(batch, q.tickets...)
		q.mu.Unlock()
		return nil, err
	}
	q.mu.Lock()
	q.stats.Matched += uint64(len(batch))
	q.mu.Unlock()
	return formed, nil
}

// Cancel removes a still-queued ticket. It reports whether a ticket was removed.
func (q *Queue) Cancel(playerID string) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	removed := false
	for i, ticket := range q.tickets {
		if ticket.PlayerID == playerID {
			q.tickets = append(q.tickets[:i], q.tickets[i+1:]...)
			q.stats.Cancelled++
			removed = true
			break
		}
	}
	q.mu.Unlock()
	if removed {
		q.rearm()
	}
	return removed
}

// Len reports how many tickets are waiting.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tickets)
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	if q == nil {
		return Stats{}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.Waiting = len(q.tickets)
	return stats
}

// Close stops the max-wait timer and refuses further tickets. Waiting tickets are
// returned so the caller can notify their owners.
func (q *Queue) Close() []Ticket {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	remaining := q.tickets
	q.tickets = nil
	return remaining
}

func (q *Queue) seed(ctx context.Context, batch []Ticket) (*room.Room, error) {
	if q.creator == nil {
		return nil, errors.New("matchmaking queue has no room creator")
	}
	now := q.clock.Now()
	seats := make([]room.Seat, 0, len(batch))
	for _, ticket := range batch {
		seats = append(seats, room.Seat{
			Session: player.NewSession(ticket.PlayerID, ticket.Name, ticket.Customization, now),
			Sink:    ticket.Sink,
		})
	}
	formed, err := q.creator.Create(ctx, seats)
	if err != nil {
		return nil, fmt.Errorf("form room: %w", err)
	}
	q.logger.Info("room formed", logging.RoomID(formed.ID()), logging.Int("players", len(batch)))
	if q.onAssign != nil {
		for _, ticket := range batch {
			q.onAssign(ticket, formed)
		}
	}
	return formed, nil
}

// rearm schedules the max-wait timer for the oldest waiting ticket.
func (q *Queue) rearm() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if q.closed || len(q.tickets) == 0 || q.cfg.MatchmakingWaitPolicy == config.WaitPolicyWait || q.cfg.MatchmakingMaxWait <= 0 {
		return
	}
	deadline := q.tickets[0].EnqueuedAt.Add(q.cfg.MatchmakingMaxWait)
	delay := deadline.Sub(q.clock.Now())
	if delay < 0 {
		delay = 0
	}
	q.timer = q.clock.AfterFunc(delay, q.expire)
}

// expire applies the max-wait policy to every ticket that waited too long.
func (q *Queue) expire() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.timer = nil
	now := q.clock.Now()
	var overdue []Ticket
	kept := q.tickets[:0]
	for _, ticket := range q.tickets {
		if now.Sub(ticket.EnqueuedAt) >= q.cfg.MatchmakingMaxWait {
			overdue = append(overdue, ticket)
			continue
		}
		kept = append(kept, ticket)
	}
	q.tickets = kept
	policy := q.cfg.MatchmakingWaitPolicy
	q.mu.Unlock()

	for _, ticket := range overdue {
		waited := now.Sub(ticket.EnqueuedAt)
		switch policy {
		case config.WaitPolicySolo:
			if _, err := q.seed(context.Background(), []Ticket{ticket}); err != nil {
				q.logger.Warn("solo room failed", logging.PlayerID(ticket.PlayerID), logging.Error(err))
				q.notifyTimeout(ticket, waited)
				continue
			}
			q.mu.Lock()
			q.stats.Solo++
			q.mu.Unlock()
		default:
			q.notifyTimeout(ticket, waited)
		}
	}
	q.rearm()
}

func (q *Queue) notifyTimeout(ticket Ticket, waited time.Duration) {
	q.mu.Lock()
	q.stats.Expired++
	q.mu.Unlock()
	q.logger.Info("ticket expired", logging.PlayerID(ticket.PlayerID), logging.Duration("waited", waited))
	if ticket.Sink != nil {
		frame, err := protocol.Encode(protocol.TypeMatchmakingTimeout, 0, protocol.MatchmakingTimeout{WaitedMS: waited.Milliseconds()})
		if err == nil {
			_ = ticket.Sink.SendReliable(frame)
		}
	}
	if q.onExpire != nil {
		q.onExpire(ticket)
	}
}
