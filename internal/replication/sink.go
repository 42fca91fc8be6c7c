// Package replication fans room events out to connected racers over two
// delivery classes: a sequenced reliable stream for lifecycle events and a
// best-effort class for kinematic updates.
package replication

import (
	"errors"
	"sync"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
)

// ErrSinkClosed is returned by sinks that no longer accept frames.
var ErrSinkClosed = errors.New("sink closed")

// Sink is the connection handle a room uses to reach one racer. Implementations
// must not block the caller for longer than it takes to enqueue the frame.
type Sink interface {
	SendReliable(frame []byte) error
	SendBestEffort(frame []byte) error
}

// Recorded captures a frame observed by a MemorySink.
type Recorded struct {
	Frame    []byte
	Reliable bool
}

// MemorySink records every frame it receives. It is intended for tests and for
// headless tooling.
type MemorySink struct {
	mu       sync.Mutex
	messages []Recorded
	closed   bool
	kicked   string
	// FailBestEffort makes best-effort sends fail, simulating a congested peer.
	FailBestEffort bool
}

// NewMemorySink constructs an empty recording sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// SendReliable implements Sink.
func (m *MemorySink) SendReliable(frame []byte) error {
	return m.record(frame, true)
}

// SendBestEffort implements Sink.
func (m *MemorySink) SendBestEffort(frame []byte) error {
	if m != nil {
		m.mu.Lock()
		fail := m.FailBestEffort
		m.mu.Unlock()
		if fail {
			return ErrSinkClosed
		}
	}
	return m.record(frame, false)
}

func (m *MemorySink) record(frame []byte, reliable bool) error {
	if m == nil {
		return ErrSinkClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrSinkClosed
	}
	clone := append([]byte(nil), frame...)
	m.messages = append(m.messages, Recorded{Frame: clone, Reliable: reliable})
	return nil
}

// Close makes every later send fail with ErrSinkClosed.
func (m *MemorySink) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

// Messages returns a copy of the recorded frames in arrival order.
func (m *MemorySink) Messages() []Recorded {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Recorded(nil), m.messages...)
}

// Envelopes decodes every recorded frame. Frames that fail to decode are skipped.
func (m *MemorySink) Envelopes() []protocol.Envelope {
	var out []protocol.Envelope
	for _, message := range m.Messages() {
		envelope, err := protocol.Decode(message.Frame)
		if err != nil {
			continue
		}
		out = append(out, envelope)
	}
	return out
}

// Types lists the message types received, in order.
func (m *MemorySink) Types() []protocol.Type {
	var out []protocol.Type
	for _, envelope := range m.Envelopes() {
		out = append(out, envelope.Type)
	}
	return out
}

// Last returns the most recent envelope of the given type.
func (m *MemorySink) Last(t protocol.Type) (protocol.Envelope, bool) {
	envelopes := m.Envelopes()
	for i := len(envelopes) - 1; i >= 0; i-- {
		if envelopes[i].Type == t {
			return envelopes[i], true
		}
	}
	return protocol.Envelope{}, false
}

// Count returns how many envelopes of the given type were received.
func (m *MemorySink) Count(t protocol.Type) int {
	count := 0
	for _, envelope := range m.Envelopes() {
		if envelope.Type == t {
			count++
		}
	}
	return count
}

// Reset discards recorded frames.
func (m *MemorySink) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}

// Kicker is implemented by sinks that can terminate the underlying connection.
type Kicker interface {
	Kick(reason string)
}

// Kick implements Kicker by recording the reason and closing the sink.
func (m *MemorySink) Kick(reason string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.kicked = reason
	m.closed = true
	m.mu.Unlock()
}

// Kicked returns the reason passed to Kick, or an empty string.
func (m *MemorySink) Kicked() string {
	if m == nil {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kicked
}
