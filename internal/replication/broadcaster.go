package replication

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
)

// ErrUnknownMember is returned when a targeted send names a player outside the room.
var ErrUnknownMember = errors.New("unknown member")

// DeliveryError lists the members whose reliable send failed.
type DeliveryError struct {
	Failed map[string]error
}

// Error implements error.
func (e *DeliveryError) Error() string {
	if e == nil || len(e.Failed) == 0 {
		return "reliable delivery failed"
	}
	ids := e.Members()
	return fmt.Sprintf("reliable delivery failed for %s", strings.Join(ids, ", "))
}

// Members returns the failed member ids in sorted order.
func (e *DeliveryError) Members() []string {
	if e == nil {
		return nil
	}
	ids := make([]string, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Counters summarises broadcaster activity for metrics.
type Counters struct {
	Reliable         uint64 `json:"reliable"`
	ReliableFailed   uint64 `json:"reliable_failed"`
	BestEffort       uint64 `json:"best_effort"`
	BestEffortFailed uint64 `json:"best_effort_failed"`
	Replayed         uint64 `json:"replayed"`
}

// BroadcasterOption customises broadcaster construction.
type BroadcasterOption func(*Broadcaster)

// WithRetention overrides how many reliable events are kept for resumes.
func WithRetention(retain int) BroadcasterOption {
	return func(b *Broadcaster) {
		b.stream = NewStream(retain)
	}
}

// WithLogger injects a logger for delivery diagnostics.
func WithLogger(logger *logging.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Broadcaster delivers a room's events to its current members.
type Broadcaster struct {
	mu       sync.Mutex
	stream   *Stream
	logger   *logging.Logger
	members  map[string]Sink
	order    []string
	counters Counters
}

// NewBroadcaster constructs an empty broadcaster.
func NewBroadcaster(opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		stream:  NewStream(defaultRetention),
		logger:  logging.L(),
		members: make(map[string]Sink),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Add registers or replaces the sink for a member. Replacing keeps the join order.
func (b *Broadcaster) Add(playerID string, sink Sink) {
	if b == nil || playerID == "" || sink == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.members[playerID]; !ok {
		b.order = append(b.order, playerID)
	}
	b.members[playerID] = sink
}

// Remove drops the member's sink. Unknown ids are ignored.
func (b *Broadcaster) Remove(playerID string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.members[playerID]; !ok {
		return
	}
	delete(b.members, playerID)
	for i, id := range b.order {
		if id == playerID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Has reports whether the player currently holds a sink.
func (b *Broadcaster) Has(playerID string) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.members[playerID]
	return ok
}

// Sink returns the member's current sink.
func (b *Broadcaster) Sink(playerID string) (Sink, bool) {
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sink, ok := b.members[playerID]
	return sink, ok
}

// Members lists member ids in join order.
func (b *Broadcaster) Members() []string {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.order...)
}

type target struct {
	id   string
	sink Sink
}

func (b *Broadcaster) targetsLocked(exclude string) []target {
	targets := make([]target, 0, len(b.order))
	for _, id := range b.order {
		if id == exclude {
			continue
		}
		targets = append(targets, target{id: id, sink: b.members[id]})
	}
	return targets
}

// PublishReliable sequences the event, retains it for resumes and delivers it to
// every member in join order. Members whose sink failed are reported through a
// *DeliveryError; the event is still committed.
func (b *Broadcaster) PublishReliable(t protocol.Type, payload any) (uint64, error) {
	if b == nil {
		return 0, errors.New("nil broadcaster")
	}
	entry, err := b.stream.Append(t, payload)
	if err != nil {
		return 0, err
	}

	b.mu.Lock()
	targets := b.targetsLocked("")
	b.mu.Unlock()

	//1.- Deliver outside the lock so a slow sink cannot stall membership changes.
	failed := make(map[string]error)
	for _, item := range targets {
		if sendErr := item.sink.SendReliable(entry.Frame); sendErr != nil {
			failed[item.id] = sendErr
		}
	}
	b.mu.Lock()
	b.counters.Reliable += uint64(len(targets) - len(failed))
	b.counters.ReliableFailed += uint64(len(failed))
	b.mu.Unlock()

	if len(failed) > 0 {
		return entry.Sequence, &DeliveryError{Failed: failed}
	}
	return entry.Sequence, nil
}

// SendReliableTo delivers an unsequenced reliable message to a single member.
// Targeted messages are not retained because they only concern one racer.
func (b *Broadcaster) SendReliableTo(playerID string, t protocol.Type, payload any) error {
	if b == nil {
		return errors.New("nil broadcaster")
	}
	b.mu.Lock()
	sink, ok := b.members[playerID]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMember, playerID)
	}
	frame, err := protocol.Encode(t, 0, payload)
	if err != nil {
		return err
	}
	if err := sink.SendReliable(frame); err != nil {
		b.mu.Lock()
		b.counters.ReliableFailed++
		b.mu.Unlock()
		return &DeliveryError{Failed: map[string]error{playerID: err}}
	}
	b.mu.Lock()
	b.counters.Reliable++
	b.mu.Unlock()
	return nil
}

// PublishBestEffort delivers an unsequenced frame to every member except the
// source. Send failures are counted and otherwise ignored.
func (b *Broadcaster) PublishBestEffort(sourceID string, t protocol.Type, payload any) (int, error) {
	if b == nil {
		return 0, errors.New("nil broadcaster")
	}
	frame, err := protocol.Encode(t, 0, payload)
	if err != nil {
		return 0, err
	}
	b.mu.Lock()
	targets := b.targetsLocked(sourceID)
	b.mu.Unlock()

	delivered := 0
	for _, item := range targets {
		if item.sink.SendBestEffort(frame) == nil {
			delivered++
		}
	}
	b.mu.Lock()
	b.counters.BestEffort += uint64(delivered)
	b.counters.BestEffortFailed += uint64(len(targets) - delivered)
	b.mu.Unlock()
	return delivered, nil
}

// ReplaySince resends retained reliable events after the given sequence to one
// member. It returns how many frames were resent. ErrHistoryTruncated is
// returned alongside a partial replay.
func (b *Broadcaster) ReplaySince(playerID string, after uint64) (int, error) {
	if b == nil {
		return 0, errors.New("nil broadcaster")
	}
	b.mu.Lock()
	sink, ok := b.members[playerID]
	b.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMember, playerID)
	}

	entries, historyErr := b.stream.Since(after)
	sent := 0
	for _, entry := range entries {
		if err := sink.SendReliable(entry.Frame); err != nil {
			return sent, &DeliveryError{Failed: map[string]error{playerID: err}}
		}
		sent++
	}
	b.mu.Lock()
	b.counters.Replayed += uint64(sent)
	b.mu.Unlock()
	if historyErr != nil {
		b.logger.Warn("resume requested pruned history",
			logging.PlayerID(playerID),
			logging.Uint64("after", after),
			logging.Int("replayed", sent),
		)
	}
	return sent, historyErr
}

// LastSequence reports the latest reliable sequence number.
func (b *Broadcaster) LastSequence() uint64 {
	if b == nil {
		return 0
	}
	return b.stream.LastSequence()
}

// Counters returns a snapshot of delivery counters.
func (b *Broadcaster) Counters() Counters {
	if b == nil {
		return Counters{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counters
}
