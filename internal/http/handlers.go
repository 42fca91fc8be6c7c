// Package httpapi serves the operational endpoints of the race server.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/input"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/matchmaking"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/networking"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replay"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replication"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/session"
)

const (
	defaultResultsLimit = 20
	maxResultsLimit     = 200
)

// ReadinessProvider exposes server state required for readiness checks.
type ReadinessProvider interface {
	SnapshotClientCounts() (clients, pending int)
	StartupError() error
	Uptime() time.Duration
}

// ResultsLister returns recently archived races.
type ResultsLister interface {
	Recent(ctx context.Context, limit int) ([]results.Race, error)
}

// RateLimiter gates how frequently sensitive operations may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger      *logging.Logger
	Readiness   ReadinessProvider
	Rooms       func() session.Stats
	Queue       func() matchmaking.Stats
	Delivery    func() replication.Counters
	Rejections  func() map[input.ValidationReason]uint64
	Bandwidth   *networking.BandwidthRegulator
	ReplayStats func() replay.Stats
	Storage     func() replay.StorageStats
	Results     ResultsLister
	AdminToken  string
	RateLimiter RateLimiter
	Clock       clock.Clock
}

// HandlerSet bundles the server operational handlers.
type HandlerSet struct {
	logger      *logging.Logger
	readiness   ReadinessProvider
	rooms       func() session.Stats
	queue       func() matchmaking.Stats
	delivery    func() replication.Counters
	rejections  func() map[input.ValidationReason]uint64
	bandwidth   *networking.BandwidthRegulator
	replayStats func() replay.Stats
	storage     func() replay.StorageStats
	results     ResultsLister
	adminToken  string
	rateLimiter RateLimiter
	clock       clock.Clock
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	c := opts.Clock
	if c == nil {
		c = clock.System()
	}
	return &HandlerSet{
		logger:      logger,
		readiness:   opts.Readiness,
		rooms:       opts.Rooms,
		queue:       opts.Queue,
		delivery:    opts.Delivery,
		rejections:  opts.Rejections,
		bandwidth:   opts.Bandwidth,
		replayStats: opts.ReplayStats,
		storage:     opts.Storage,
		results:     opts.Results,
		adminToken:  strings.TrimSpace(opts.AdminToken),
		rateLimiter: opts.RateLimiter,
		clock:       c,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/admin/results", h.ResultsHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.clock.Now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness, including client counts and startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status         string  `json:"status"`
		Message        string  `json:"message,omitempty"`
		UptimeSeconds  float64 `json:"uptime_seconds"`
		Clients        int     `json:"clients"`
		PendingClients int     `json:"pending_clients"`
		Rooms          int     `json:"rooms"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok"}
		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			resp.Clients = clients
			resp.PendingClients = pending
			resp.UptimeSeconds = h.readiness.Uptime().Seconds()
			if err := h.readiness.StartupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		if h.rooms != nil {
			resp.Rooms = h.rooms().Rooms
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		if h.readiness != nil {
			clients, pending := h.readiness.SnapshotClientCounts()
			gauge(w, "racesync_uptime_seconds", "Server uptime in seconds.", fmt.Sprintf("%.0f", h.readiness.Uptime().Seconds()))
			gauge(w, "racesync_clients", "Current connected websocket clients.", strconv.Itoa(clients))
			gauge(w, "racesync_pending_clients", "Websocket handshakes awaiting upgrade.", strconv.Itoa(pending))
		}
		if h.rooms != nil {
			stats := h.rooms()
			gauge(w, "racesync_rooms", "Rooms currently registered.", strconv.Itoa(stats.Rooms))
			header(w, "racesync_rooms_closed_total", "Rooms removed from the registry by cause.", "counter")
			fmt.Fprintf(w, "racesync_rooms_closed_total{cause=%q} %d\n", "finished", stats.Finished)
			fmt.Fprintf(w, "racesync_rooms_closed_total{cause=%q} %d\n", "emptied", stats.Emptied)
			fmt.Fprintf(w, "racesync_rooms_closed_total{cause=%q} %d\n", "faulted", stats.Faulted)
			counter(w, "racesync_rooms_created_total", "Rooms created.", stats.Created)
		}
		if h.queue != nil {
			stats := h.queue()
			gauge(w, "racesync_matchmaking_waiting", "Tickets waiting in the matchmaking queue.", strconv.Itoa(stats.Waiting))
			header(w, "racesync_matchmaking_tickets_total", "Matchmaking tickets by outcome.", "counter")
			fmt.Fprintf(w, "racesync_matchmaking_tickets_total{outcome=%q} %d\n", "matched", stats.Matched)
			fmt.Fprintf(w, "racesync_matchmaking_tickets_total{outcome=%q} %d\n", "solo", stats.Solo)
			fmt.Fprintf(w, "racesync_matchmaking_tickets_total{outcome=%q} %d\n", "expired", stats.Expired)
			fmt.Fprintf(w, "racesync_matchmaking_tickets_total{outcome=%q} %d\n", "cancelled", stats.Cancelled)
		}
		if h.rejections != nil {
			totals := h.rejections()
			header(w, "racesync_validation_rejects_total", "Rejected client updates by reason.", "counter")
			//1.- Emit every reason so dashboards see explicit zeroes.
			for _, reason := range input.Reasons {
				fmt.Fprintf(w, "racesync_validation_rejects_total{reason=%q} %d\n", string(reason), totals[reason])
			}
		}
		if h.delivery != nil {
			counters := h.delivery()
			header(w, "racesync_messages_total", "Outbound messages by delivery class and result.", "counter")
			fmt.Fprintf(w, "racesync_messages_total{class=%q,result=%q} %d\n", "reliable", "sent", counters.Reliable)
			fmt.Fprintf(w, "racesync_messages_total{class=%q,result=%q} %d\n", "reliable", "failed", counters.ReliableFailed)
			fmt.Fprintf(w, "racesync_messages_total{class=%q,result=%q} %d\n", "best_effort", "sent", counters.BestEffort)
			fmt.Fprintf(w, "racesync_messages_total{class=%q,result=%q} %d\n", "best_effort", "dropped", counters.BestEffortFailed)
			counter(w, "racesync_reliable_replayed_total", "Reliable messages replayed to resuming clients.", counters.Replayed)
		}
		if h.bandwidth != nil {
			h.writeBandwidth(w)
		}
		if h.replayStats != nil {
			stats := h.replayStats()
			gauge(w, "racesync_replay_open", "Room recordings currently open.", strconv.Itoa(stats.Open))
			counter(w, "racesync_replay_archived_total", "Room recordings sealed into archives.", uint64(stats.Archived))
			counter(w, "racesync_replay_events_total", "Events written to sealed recordings.", uint64(stats.Events))
		}
		if h.storage != nil {
			stats := h.storage()
			gauge(w, "racesync_replay_storage_bytes", "Disk footprint of retained recordings.", strconv.FormatInt(stats.Bytes, 10))
			gauge(w, "racesync_replay_storage_rooms", "Retained room recordings.", strconv.Itoa(stats.Rooms))
		}
	}
}

// ResultsHandler authorises and lists recently archived races.
func (h *HandlerSet) ResultsHandler() http.HandlerFunc {
	type response struct {
		Races []results.Race `json:"races"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := h.logger.With(
			logging.String("handler", "admin_results"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if h.adminToken == "" {
			reqLogger.Warn("results request denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("results request denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if h.rateLimiter != nil && !h.rateLimiter.Allow() {
			reqLogger.Warn("results request denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if h.results == nil {
			http.Error(w, "results archive is unavailable", http.StatusServiceUnavailable)
			return
		}
		limit := defaultResultsLimit
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
				return
			}
			limit = min(parsed, maxResultsLimit)
		}
		races, err := h.results.Recent(r.Context(), limit)
		if err != nil {
			reqLogger.Error("results lookup failed", logging.Error(err))
			http.Error(w, "failed to load results", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, response{Races: races})
	}
}

func (h *HandlerSet) writeBandwidth(w http.ResponseWriter) {
	usage := h.bandwidth.SnapshotUsage()
	if len(usage) == 0 {
		return
	}
	ids := make([]string, 0, len(usage))
	for id := range usage {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	header(w, "racesync_bandwidth_bytes_per_second", "Observed best-effort bandwidth per client in bytes per second.", "gauge")
	for _, id := range ids {
		fmt.Fprintf(w, "racesync_bandwidth_bytes_per_second{client=%q} %.2f\n", id, usage[id].BytesPerSecond)
	}
	header(w, "racesync_bandwidth_denied_total", "Best-effort frames dropped by the per-client budget.", "counter")
	for _, id := range ids {
		fmt.Fprintf(w, "racesync_bandwidth_denied_total{client=%q} %d\n", id, usage[id].DeniedDeliveries)
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	value := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(value) > 7 && strings.EqualFold(value[:7], "Bearer ") {
		token = strings.TrimSpace(value[7:])
	} else if value != "" {
		token = value
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func header(w http.ResponseWriter, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
}

func gauge(w http.ResponseWriter, name, help, value string) {
	header(w, name, help, "gauge")
	fmt.Fprintf(w, "%s %s\n", name, value)
}

func counter(w http.ResponseWriter, name, help string, value uint64) {
	header(w, name, help, "counter")
	fmt.Fprintf(w, "%s %d\n", name, value)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
