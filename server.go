package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	httpapi "github.com/kawacukennedy/3d-racing-game-sub001/internal/http"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/matchmaking"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/networking"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/room"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/session"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/timesync"
)

const (
	// DefaultBestEffortBudget is the per-connection byte rate for player_update relays.
	DefaultBestEffortBudget = 64 << 10
	// shutdownReason is sent to every client when the server stops.
	shutdownReason = "server shutting down"
	// supersededReason is sent to a connection replaced by a newer one for the same player.
	supersededReason = "superseded by a newer connection"
)

// ServerOption customises server construction.
type ServerOption func(*Server)

// WithLogger injects the server logger.
func WithLogger(logger *logging.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithClock overrides the clock used by the matchmaking queue and time sync.
func WithClock(c clock.Clock) ServerOption {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithBandwidthRegulator overrides the per-connection best-effort budget.
func WithBandwidthRegulator(regulator *networking.BandwidthRegulator) ServerOption {
	return func(s *Server) {
		if regulator != nil {
			s.bandwidth = regulator
		}
	}
}

// WithUpgradeLimiter overrides the per-address upgrade limiter.
func WithUpgradeLimiter(limiter *httpapi.KeyedLimiter) ServerOption {
	return func(s *Server) {
		if limiter != nil {
			s.upgrades = limiter
		}
	}
}

// Server accepts racer connections and routes their messages to the matchmaking
// queue and the rooms owned by the registry.
type Server struct {
	cfg           *config.Config
	log           *logging.Logger
	clock         clock.Clock
	registry      *session.Registry
	queue         *matchmaking.Queue
	timesync      *timesync.Service
	authenticator websocketAuthenticator
	upgrades      *httpapi.KeyedLimiter
	bandwidth     *networking.BandwidthRegulator
	upgrader      websocket.Upgrader
	started       time.Time

	mu         sync.Mutex
	clients    map[string]*Client
	seats      map[string]*room.Room
	pending    int
	closed     bool
	startupErr error
	wg         sync.WaitGroup
}

// NewServer wires a server around the registry. The matchmaking queue seeds rooms
// through the registry and reports seat assignments back to the server.
func NewServer(cfg *config.Config, registry *session.Registry, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	s := &Server{
		cfg:           cfg,
		log:           logging.L(),
		clock:         clock.System(),
		registry:      registry,
		authenticator: anonymousAuthenticator{},
		clients:       make(map[string]*Client),
		seats:         make(map[string]*room.Room),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.upgrades == nil {
		s.upgrades = httpapi.NewKeyedLimiter(cfg.UpgradeWindow, cfg.UpgradeBurst, s.clock)
	}
	if s.bandwidth == nil {
		s.bandwidth = networking.NewBandwidthRegulator(DefaultBestEffortBudget, s.clock)
	}
	s.started = s.clock.Now()
	s.timesync = timesync.NewService(s.log, timesync.WithClock(s.clock))
	s.queue = matchmaking.New(cfg.Race, registry,
		matchmaking.WithClock(s.clock),
		matchmaking.WithLogger(s.log),
		matchmaking.WithAssignHandler(s.assigned),
	)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Register attaches the websocket endpoint to mux.
func (s *Server) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/ws", s.serveWS)
}

// Queue exposes the matchmaking queue for metrics.
func (s *Server) Queue() *matchmaking.Queue { return s.queue }

// Bandwidth exposes the best-effort budget for metrics.
func (s *Server) Bandwidth() *networking.BandwidthRegulator { return s.bandwidth }

// SnapshotClientCounts reports connected clients and upgrades still in flight.
func (s *Server) SnapshotClientCounts() (clients, pending int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients), s.pending
}

// StartupError reports a fatal problem that should fail readiness.
func (s *Server) StartupError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startupErr
}

// SetStartupError records a fatal problem discovered after construction.
func (s *Server) SetStartupError(err error) {
	s.mu.Lock()
	s.startupErr = err
	s.mu.Unlock()
}

// Uptime reports how long the server has been running.
func (s *Server) Uptime() time.Duration {
	return s.clock.Now().Sub(s.started)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	addr := remoteHost(r.RemoteAddr)
	reqLogger := s.log.With(logging.String("remote_addr", addr))

	//1.- Throttle upgrade storms per address before doing any work.
	if !s.upgrades.Allow(addr) {
		reqLogger.Warn("websocket upgrade rate limited")
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}
	playerID, err := s.authenticator.Authenticate(r)
	if err != nil {
		reqLogger.Warn("websocket authentication failed", logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	//2.- Reserve a slot so concurrent upgrades cannot overshoot the client cap.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, shutdownReason, http.StatusServiceUnavailable)
		return
	}
	if limit := s.cfg.MaxClients; limit > 0 && len(s.clients)+s.pending >= limit {
		s.mu.Unlock()
		reqLogger.Warn("websocket client limit reached", logging.Int("limit", limit))
		http.Error(w, "server full", http.StatusServiceUnavailable)
		return
	}
	s.pending++
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.mu.Lock()
		s.pending--
		s.mu.Unlock()
		reqLogger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	client := newClient(s, conn, playerID, addr)
	s.mu.Lock()
	s.pending--
	previous := s.clients[playerID]
	s.clients[playerID] = client
	s.wg.Add(1)
	s.mu.Unlock()
	if previous != nil {
		previous.Kick(supersededReason)
	}
	if seated := s.seatOf(playerID); seated != nil {
		client.assign(seated)
	}
	client.log.Info("client connected")

	go client.writePump()
	go func() {
		defer s.wg.Done()
		client.readPump()
		s.disconnected(client)
	}()
}

// disconnected releases everything the connection held. A connection that was
// superseded leaves the player's seat to its replacement.
func (s *Server) disconnected(c *Client) {
	s.mu.Lock()
	current := s.clients[c.id] == c
	if current {
		delete(s.clients, c.id)
	}
	s.mu.Unlock()
	c.Kick("read closed")
	if !current {
		return
	}
	s.bandwidth.Forget(c.id)
	s.timesync.Forget(c.id)
	s.queue.Cancel(c.id)
	if seated := c.Room(); seated != nil {
		if err := seated.Disconnect(c.id); err != nil {
			s.roomError(c, err, "disconnect")
		}
	}
	c.log.Info("client disconnected")
}

// assigned runs on the matchmaking path once a ticket is seated.
func (s *Server) assigned(ticket matchmaking.Ticket, seated *room.Room) {
	s.mu.Lock()
	s.seats[ticket.PlayerID] = seated
	client := s.clients[ticket.PlayerID]
	s.mu.Unlock()
	if client != nil {
		client.assign(seated)
	}
	go s.releaseSeat(ticket.PlayerID, seated)
}

// releaseSeat forgets the player's seat once its room is torn down.
func (s *Server) releaseSeat(playerID string, seated *room.Room) {
	<-seated.Done()
	s.mu.Lock()
	if s.seats[playerID] == seated {
		delete(s.seats, playerID)
	}
	s.mu.Unlock()
}

func (s *Server) seatOf(playerID string) *room.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	seated := s.seats[playerID]
	if seated == nil {
		return nil
	}
	select {
	case <-seated.Done():
		delete(s.seats, playerID)
		return nil
	default:
		return seated
	}
}

// Close stops matchmaking, disconnects every client and waits for their
// goroutines to finish or ctx to expire.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	clients := make([]*Client, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.Unlock()

	for _, ticket := range s.queue.Close() {
		frame, err := protocol.Encode(protocol.TypeError, 0, protocol.ErrorMessage{Message: shutdownReason})
		if err == nil && ticket.Sink != nil {
			_ = ticket.Sink.SendReliable(frame)
		}
	}
	for _, client := range clients {
		client.Kick(shutdownReason)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return addr
	}
	return host
}

var errNotSeated = errors.New("player is not seated in a room")

var _ httpapi.ReadinessProvider = (*Server)(nil)
