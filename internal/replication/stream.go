package replication

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
)

// ErrHistoryTruncated signals that retention already discarded part of the
// range a resuming member asked for.
var ErrHistoryTruncated = errors.New("reliable history truncated")

// Default retention keeps the last 256 events if no explicit value is provided.
const defaultRetention = 256

// Entry is one sequenced reliable frame.
type Entry struct {
	Sequence uint64
	Type     protocol.Type
	Frame    []byte
}

// Stream assigns per-room sequence numbers to reliable events and retains a
// bounded tail so reconnecting members can catch up.
type Stream struct {
	mu        sync.Mutex
	nextSeq   uint64
	retention int
	logOrder  []uint64
	entries   map[uint64]Entry
}

// NewStream constructs a stream retaining at most retain entries.
func NewStream(retain int) *Stream {
	if retain <= 0 {
		retain = defaultRetention
	}
	return &Stream{
		retention: retain,
		entries:   make(map[uint64]Entry),
	}
}

// Append sequences and encodes the payload, retaining the resulting frame.
func (s *Stream) Append(t protocol.Type, payload any) (Entry, error) {
	if s == nil {
		return Entry{}, errors.New("nil stream")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- Encode before committing the sequence so a bad payload leaves no gap.
	seq := s.nextSeq + 1
	frame, err := protocol.Encode(t, seq, payload)
	if err != nil {
		return Entry{}, fmt.Errorf("append %s: %w", t, err)
	}
	s.nextSeq = seq
	entry := Entry{Sequence: seq, Type: t, Frame: frame}
	s.entries[seq] = entry
	s.logOrder = append(s.logOrder, seq)
	s.enforceRetentionLocked()
	return entry, nil
}

// Since returns every retained entry with a sequence greater than after. When
// retention dropped entries in that range the available tail is returned along
// with ErrHistoryTruncated.
func (s *Stream) Since(after uint64) ([]Entry, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := sort.Search(len(s.logOrder), func(i int) bool { return s.logOrder[i] > after })
	out := make([]Entry, 0, len(s.logOrder)-idx)
	for _, seq := range s.logOrder[idx:] {
		out = append(out, s.entries[seq])
	}
	var err error
	if len(s.logOrder) > 0 && s.logOrder[0] > after+1 {
		err = ErrHistoryTruncated
	}
	return out, err
}

// LastSequence reports the most recently assigned sequence number.
func (s *Stream) LastSequence() uint64 {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Len reports how many entries are retained.
func (s *Stream) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logOrder)
}

func (s *Stream) enforceRetentionLocked() {
	if len(s.logOrder) <= s.retention {
		return
	}
	drop := len(s.logOrder) - s.retention
	for _, seq := range s.logOrder[:drop] {
		delete(s.entries, seq)
	}
	s.logOrder = append([]uint64(nil), s.logOrder[drop:]...)
}
