// Package timesync answers time_sync requests so clients can align the race
// countdown with the server clock.
package timesync

import (
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
)

// DefaultDriftWarning is the client offset above which drift is logged at warn level.
const DefaultDriftWarning = 250 * time.Millisecond

// Sample is one completed round trip measured by a client.
type Sample struct {
	Offset     time.Duration
	RoundTrip  time.Duration
	ServerTime time.Time
}

// Estimate derives the client's clock offset from a time_sync exchange. sent and
// received are the client's own clock readings around the request.
func Estimate(sent time.Time, reply protocol.TimeSync, received time.Time) Sample {
	server := time.UnixMilli(reply.ServerTime)
	roundTrip := received.Sub(sent)
	if roundTrip < 0 {
		roundTrip = 0
	}
	//1.- Assume a symmetric path so the server stamped the reply halfway through.
	midpoint := sent.Add(roundTrip / 2)
	return Sample{Offset: server.Sub(midpoint), RoundTrip: roundTrip, ServerTime: server}
}

// Service stamps time_sync replies and keeps the last drift reported per client.
type Service struct {
	mu      sync.Mutex
	clock   clock.Clock
	log     *logging.Logger
	warn    time.Duration
	offsets map[string]time.Duration
}

// Option customises the service.
type Option func(*Service)

// WithClock overrides the server time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDriftWarning overrides the drift warning threshold.
func WithDriftWarning(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.warn = d
		}
	}
}

// NewService constructs a time sync responder.
func NewService(logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.L()
	}
	s := &Service{clock: clock.System(), log: logger, warn: DefaultDriftWarning, offsets: make(map[string]time.Duration)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Respond echoes the client's timestamp next to the server's and records the
// apparent one-way drift for the client.
func (s *Service) Respond(clientID string, request protocol.TimeSync) protocol.TimeSync {
	if s == nil {
		return protocol.TimeSync{ClientTime: request.ClientTime, ServerTime: time.Now().UnixMilli()}
	}
	now := s.clock.Now()
	reply := protocol.TimeSync{ClientTime: request.ClientTime, ServerTime: now.UnixMilli()}
	if request.ClientTime > 0 && clientID != "" {
		s.LogTimeDrift(clientID, now.Sub(time.UnixMilli(request.ClientTime)))
	}
	return reply
}

// LogTimeDrift records the offset observed for clientID.
func (s *Service) LogTimeDrift(clientID string, offset time.Duration) {
	if s == nil || clientID == "" {
		return
	}
	s.mu.Lock()
	s.offsets[clientID] = offset
	s.mu.Unlock()

	magnitude := offset
	if magnitude < 0 {
		magnitude = -magnitude
	}
	fields := []logging.Field{logging.String("client_id", clientID), logging.Duration("offset", offset)}
	if magnitude >= s.warn {
		s.log.Warn("client clock drift", fields...)
		return
	}
	s.log.Debug("client clock drift", fields...)
}

// Offset returns the last drift recorded for clientID.
func (s *Service) Offset(clientID string) (time.Duration, bool) {
	if s == nil {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.offsets[clientID]
	return offset, ok
}

// Forget drops a disconnected client's drift.
func (s *Service) Forget(clientID string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	delete(s.offsets, clientID)
	s.mu.Unlock()
}
