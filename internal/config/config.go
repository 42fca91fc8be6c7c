package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix namespaces every environment override consumed by the server.
const EnvPrefix = "RACE_"

const (
	// DefaultAddr is the default TCP address the race server listens on.
	DefaultAddr = ":43127"
	// DefaultPingInterval controls the keepalive cadence for WebSocket connections.
	DefaultPingInterval = 30 * time.Second
	// DefaultMaxPayloadBytes limits inbound WebSocket frame size.
	DefaultMaxPayloadBytes int64 = 64 << 10
	// DefaultMaxClients bounds concurrent WebSocket connections. Zero disables the limit.
	DefaultMaxClients = 512
	// DefaultUpgradeWindow is the sliding window used to throttle upgrade attempts per address.
	DefaultUpgradeWindow = 10 * time.Second
	// DefaultUpgradeBurst is how many upgrades a single address may attempt per window.
	DefaultUpgradeBurst = 20

	// DefaultRoomCapacity is the maximum number of racers seeded into one room.
	DefaultRoomCapacity = 8
	// DefaultCountdown is the delay between race_start and race_begin.
	DefaultCountdown = 3000 * time.Millisecond
	// DefaultUpdateRateHz is the baseline position broadcast frequency.
	DefaultUpdateRateHz = 20.0
	// DefaultMaxDistancePerUpdate bounds the displacement accepted in one position update.
	DefaultMaxDistancePerUpdate = 10.0
	// DefaultMaxSpeed bounds the velocity magnitude a client may claim.
	DefaultMaxSpeed = 50.0
	// DefaultMinHeight is the lowest vertical coordinate accepted.
	DefaultMinHeight = -5.0
	// DefaultMaxHeight is the highest vertical coordinate accepted.
	DefaultMaxHeight = 10.0
	// DefaultMaxCheckpoints is the highest checkpoint index on a lap.
	DefaultMaxCheckpoints = 10
	// DefaultMinLapTime is the shortest plausible lap.
	DefaultMinLapTime = 10 * time.Second
	// DefaultMaxLapTime is the longest lap still credited.
	DefaultMaxLapTime = 300 * time.Second
	// DefaultInterpolationBuffer bounds how far clients extrapolate remote racers.
	DefaultInterpolationBuffer = 100 * time.Millisecond
	// DefaultInterestCellSize is the edge length of a spatial interest cell.
	DefaultInterestCellSize = 50.0

	// DefaultMatchmakingMaxWait is how long a ticket waits before the wait policy applies.
	DefaultMatchmakingMaxWait = 30 * time.Second
	// DefaultMatchmakingWaitPolicy decides what happens to tickets that waited too long.
	DefaultMatchmakingWaitPolicy = WaitPolicySolo

	// DefaultViolationLimit is the number of rejected updates tolerated per window.
	DefaultViolationLimit = 3
	// DefaultViolationWindow is the window over which violations are counted.
	DefaultViolationWindow = 10 * time.Second
	// DefaultDisconnectOnViolation keeps offenders connected and only notifies them.
	DefaultDisconnectOnViolation = false

	// DefaultRoomInboxSize bounds the per-room event channel.
	DefaultRoomInboxSize = 256
	// DefaultReliableRetention is how many lifecycle events a room keeps for resumes.
	DefaultReliableRetention = 256

	// DefaultReplayMaxRooms caps how many room recordings are kept on disk.
	DefaultReplayMaxRooms = 500
	// DefaultReplayMaxAge removes recordings older than this.
	DefaultReplayMaxAge = 7 * 24 * time.Hour

	// DefaultLogLevel controls verbosity for server logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "racesync.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true
)

// Matchmaking wait policies.
const (
	// WaitPolicyWait leaves lone tickets queued indefinitely.
	WaitPolicyWait = "wait"
	// WaitPolicySolo seeds a ticket that waited too long into a room of its own.
	WaitPolicySolo = "solo"
	// WaitPolicyExpire drops a ticket that waited too long and notifies the player.
	WaitPolicyExpire = "expire"
)

// Config captures all runtime tunables for the race server.
type Config struct {
	Address          string        `env:"ADDR"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxPayloadBytes  int64         `env:"MAX_PAYLOAD_BYTES"`
	PingInterval     time.Duration `env:"PING_INTERVAL"`
	MaxClients       int           `env:"MAX_CLIENTS"`
	TLSCertPath      string        `env:"TLS_CERT"`
	TLSKeyPath       string        `env:"TLS_KEY"`
	JoinSecret       string        `env:"JOIN_SECRET"`
	AdminToken       string        `env:"ADMIN_TOKEN"`
	UpgradeWindow    time.Duration `env:"UPGRADE_WINDOW"`
	UpgradeBurst     int           `env:"UPGRADE_BURST"`
	GRPCAddress      string        `env:"GRPC_ADDR"`
	GRPCSharedSecret string        `env:"GRPC_SHARED_SECRET"`
	GRPCServerCert   string        `env:"GRPC_SERVER_CERT"`
	GRPCServerKey    string        `env:"GRPC_SERVER_KEY"`
	GRPCClientCA     string        `env:"GRPC_CLIENT_CA"`
	ResultsDBPath    string        `env:"RESULTS_DB"`
	ReplayDir        string        `env:"REPLAY_DIR"`
	ReplayMaxRooms   int           `env:"REPLAY_MAX_ROOMS"`
	ReplayMaxAge     time.Duration `env:"REPLAY_MAX_AGE"`

	Race    RaceConfig
	Logging LoggingConfig `envPrefix:"LOG_"`
}

// RaceConfig holds every gameplay and anti-cheat threshold in one place.
type RaceConfig struct {
	RoomCapacity          int           `env:"ROOM_CAPACITY"`
	Countdown             time.Duration `env:"COUNTDOWN"`
	UpdateRateHz          float64       `env:"UPDATE_RATE_HZ"`
	MaxDistancePerUpdate  float64       `env:"MAX_DISTANCE_PER_UPDATE"`
	MaxSpeed              float64       `env:"MAX_SPEED"`
	MinHeight             float64       `env:"MIN_HEIGHT"`
	MaxHeight             float64       `env:"MAX_HEIGHT"`
	MaxCheckpoints        int           `env:"MAX_CHECKPOINTS"`
	MinLapTime            time.Duration `env:"MIN_LAP_TIME"`
	MaxLapTime            time.Duration `env:"MAX_LAP_TIME"`
	InterpolationBuffer   time.Duration `env:"INTERPOLATION_BUFFER"`
	InterestCellSize      float64       `env:"INTEREST_CELL_SIZE"`
	MatchmakingMaxWait    time.Duration `env:"MATCHMAKING_MAX_WAIT"`
	MatchmakingWaitPolicy string        `env:"MATCHMAKING_WAIT_POLICY"`
	ViolationLimit        int           `env:"VIOLATION_LIMIT"`
	ViolationWindow       time.Duration `env:"VIOLATION_WINDOW"`
	DisconnectOnViolation bool          `env:"DISCONNECT_ON_VIOLATION"`
	RoomInboxSize         int           `env:"ROOM_INBOX_SIZE"`
	ReliableRetention     int           `env:"RELIABLE_RETENTION"`
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string `env:"LEVEL"`
	Path       string `env:"PATH"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB"`
	MaxBackups int    `env:"MAX_BACKUPS"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS"`
	Compress   bool   `env:"COMPRESS"`
}

// DefaultRace returns the baseline gameplay thresholds.
func DefaultRace() RaceConfig {
	return RaceConfig{
		RoomCapacity:          DefaultRoomCapacity,
		Countdown:             DefaultCountdown,
		UpdateRateHz:          DefaultUpdateRateHz,
		MaxDistancePerUpdate:  DefaultMaxDistancePerUpdate,
		MaxSpeed:              DefaultMaxSpeed,
		MinHeight:             DefaultMinHeight,
		MaxHeight:             DefaultMaxHeight,
		MaxCheckpoints:        DefaultMaxCheckpoints,
		MinLapTime:            DefaultMinLapTime,
		MaxLapTime:            DefaultMaxLapTime,
		InterpolationBuffer:   DefaultInterpolationBuffer,
		InterestCellSize:      DefaultInterestCellSize,
		MatchmakingMaxWait:    DefaultMatchmakingMaxWait,
		MatchmakingWaitPolicy: DefaultMatchmakingWaitPolicy,
		ViolationLimit:        DefaultViolationLimit,
		ViolationWindow:       DefaultViolationWindow,
		DisconnectOnViolation: DefaultDisconnectOnViolation,
		RoomInboxSize:         DefaultRoomInboxSize,
		ReliableRetention:     DefaultReliableRetention,
	}
}

// Default returns a fully populated configuration without consulting the environment.
func Default() *Config {
	return &Config{
		Address:         DefaultAddr,
		MaxPayloadBytes: DefaultMaxPayloadBytes,
		PingInterval:    DefaultPingInterval,
		MaxClients:      DefaultMaxClients,
		UpgradeWindow:   DefaultUpgradeWindow,
		UpgradeBurst:    DefaultUpgradeBurst,
		ReplayMaxRooms:  DefaultReplayMaxRooms,
		ReplayMaxAge:    DefaultReplayMaxAge,
		Race:            DefaultRace(),
		Logging: LoggingConfig{
			Level:      DefaultLogLevel,
			Path:       DefaultLogPath,
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}
}

// UpdateInterval converts the broadcast frequency into the minimum spacing between emissions.
func (r RaceConfig) UpdateInterval() time.Duration {
	if r.UpdateRateHz <= 0 {
		return time.Duration(float64(time.Second) / DefaultUpdateRateHz)
	}
	return time.Duration(float64(time.Second) / r.UpdateRateHz)
}

// Load reads the server configuration from RACE_* environment variables, applying
// defaults and returning one descriptive error for every invalid override.
func Load() (*Config, error) {
	cfg := Default()

	var problems []string
	//1.- Overlay the environment on top of the defaults; unset variables keep their default.
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		var aggregate env.AggregateError
		if errors.As(err, &aggregate) {
			for _, item := range aggregate.Errors {
				problems = append(problems, item.Error())
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	//2.- Normalise free-form strings before validation.
	cfg.Address = strings.TrimSpace(cfg.Address)
	cfg.TLSCertPath = strings.TrimSpace(cfg.TLSCertPath)
	cfg.TLSKeyPath = strings.TrimSpace(cfg.TLSKeyPath)
	cfg.GRPCAddress = strings.TrimSpace(cfg.GRPCAddress)
	cfg.GRPCSharedSecret = strings.TrimSpace(cfg.GRPCSharedSecret)
	cfg.Race.MatchmakingWaitPolicy = strings.ToLower(strings.TrimSpace(cfg.Race.MatchmakingWaitPolicy))
	cfg.AllowedOrigins = compactList(cfg.AllowedOrigins)

	problems = append(problems, cfg.validate()...)
	if len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, "; "))
	}
	return cfg, nil
}

// Validate reports every inconsistent setting in the race thresholds.
func (r RaceConfig) Validate() error {
	if problems := r.problems(); len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validate() []string {
	var problems []string
	if c.Address == "" {
		problems = append(problems, "RACE_ADDR must not be empty")
	}
	if c.MaxPayloadBytes <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_MAX_PAYLOAD_BYTES must be a positive integer, got %d", c.MaxPayloadBytes))
	}
	if c.PingInterval <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_PING_INTERVAL must be a positive duration, got %s", c.PingInterval))
	}
	if c.MaxClients < 0 {
		problems = append(problems, fmt.Sprintf("RACE_MAX_CLIENTS must be a non-negative integer, got %d", c.MaxClients))
	}
	if c.UpgradeWindow <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_UPGRADE_WINDOW must be a positive duration, got %s", c.UpgradeWindow))
	}
	if c.UpgradeBurst <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_UPGRADE_BURST must be a positive integer, got %d", c.UpgradeBurst))
	}
	if c.ReplayMaxRooms < 0 {
		problems = append(problems, fmt.Sprintf("RACE_REPLAY_MAX_ROOMS must be a non-negative integer, got %d", c.ReplayMaxRooms))
	}
	if c.ReplayMaxAge < 0 {
		problems = append(problems, fmt.Sprintf("RACE_REPLAY_MAX_AGE must be a non-negative duration, got %s", c.ReplayMaxAge))
	}
	if (c.TLSCertPath == "") != (c.TLSKeyPath == "") {
		problems = append(problems, "RACE_TLS_CERT and RACE_TLS_KEY must be provided together")
	}
	if c.GRPCAddress != "" {
		//1.- The admin API is never served unauthenticated.
		mtls := c.GRPCServerCert != "" || c.GRPCServerKey != "" || c.GRPCClientCA != ""
		if mtls && (c.GRPCServerCert == "" || c.GRPCServerKey == "" || c.GRPCClientCA == "") {
			problems = append(problems, "RACE_GRPC_SERVER_CERT, RACE_GRPC_SERVER_KEY and RACE_GRPC_CLIENT_CA must be provided together")
		}
		if !mtls && c.GRPCSharedSecret == "" {
			problems = append(problems, "RACE_GRPC_ADDR requires RACE_GRPC_SHARED_SECRET or mTLS material")
		}
	}
	if c.Logging.MaxSizeMB <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_LOG_MAX_SIZE_MB must be a positive integer, got %d", c.Logging.MaxSizeMB))
	}
	if c.Logging.MaxBackups < 0 {
		problems = append(problems, fmt.Sprintf("RACE_LOG_MAX_BACKUPS must be a non-negative integer, got %d", c.Logging.MaxBackups))
	}
	if c.Logging.MaxAgeDays < 0 {
		problems = append(problems, fmt.Sprintf("RACE_LOG_MAX_AGE_DAYS must be a non-negative integer, got %d", c.Logging.MaxAgeDays))
	}
	return append(problems, c.Race.problems()...)
}

func (r RaceConfig) problems() []string {
	var problems []string
	if r.RoomCapacity < 2 {
		problems = append(problems, fmt.Sprintf("RACE_ROOM_CAPACITY must be at least 2, got %d", r.RoomCapacity))
	}
	if r.Countdown <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_COUNTDOWN must be a positive duration, got %s", r.Countdown))
	}
	if r.UpdateRateHz <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_UPDATE_RATE_HZ must be positive, got %g", r.UpdateRateHz))
	}
	if r.MaxDistancePerUpdate <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_MAX_DISTANCE_PER_UPDATE must be positive, got %g", r.MaxDistancePerUpdate))
	}
	if r.MaxSpeed <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_MAX_SPEED must be positive, got %g", r.MaxSpeed))
	}
	if r.MinHeight >= r.MaxHeight {
		problems = append(problems, fmt.Sprintf("RACE_MIN_HEIGHT (%g) must be below RACE_MAX_HEIGHT (%g)", r.MinHeight, r.MaxHeight))
	}
	if r.MaxCheckpoints < 0 {
		problems = append(problems, fmt.Sprintf("RACE_MAX_CHECKPOINTS must be non-negative, got %d", r.MaxCheckpoints))
	}
	if r.MinLapTime < 0 || r.MinLapTime >= r.MaxLapTime {
		problems = append(problems, fmt.Sprintf("RACE_MIN_LAP_TIME (%s) must be non-negative and below RACE_MAX_LAP_TIME (%s)", r.MinLapTime, r.MaxLapTime))
	}
	if r.InterpolationBuffer <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_INTERPOLATION_BUFFER must be a positive duration, got %s", r.InterpolationBuffer))
	}
	if r.InterestCellSize <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_INTEREST_CELL_SIZE must be positive, got %g", r.InterestCellSize))
	}
	if r.MatchmakingMaxWait <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_MATCHMAKING_MAX_WAIT must be a positive duration, got %s", r.MatchmakingMaxWait))
	}
	switch r.MatchmakingWaitPolicy {
	case WaitPolicyWait, WaitPolicySolo, WaitPolicyExpire:
	default:
		problems = append(problems, fmt.Sprintf("RACE_MATCHMAKING_WAIT_POLICY must be one of wait, solo, expire, got %q", r.MatchmakingWaitPolicy))
	}
	if r.ViolationLimit <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_VIOLATION_LIMIT must be a positive integer, got %d", r.ViolationLimit))
	}
	if r.ViolationWindow <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_VIOLATION_WINDOW must be a positive duration, got %s", r.ViolationWindow))
	}
	if r.RoomInboxSize <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_ROOM_INBOX_SIZE must be a positive integer, got %d", r.RoomInboxSize))
	}
	if r.ReliableRetention <= 0 {
		problems = append(problems, fmt.Sprintf("RACE_RELIABLE_RETENTION must be a positive integer, got %d", r.ReliableRetention))
	}
	return problems
}

func compactList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, value := range values {
		if item := strings.TrimSpace(value); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
