package input

import (
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/player"
)

// ValidationReason identifies why an inbound update was rejected.
type ValidationReason string

const (
	ValidationReasonNone                   ValidationReason = ""
	ValidationReasonMalformedInput         ValidationReason = "MalformedInput"
	ValidationReasonImpossibleDisplacement ValidationReason = "ImpossibleDisplacement"
	ValidationReasonExcessiveSpeed         ValidationReason = "ExcessiveSpeed"
	ValidationReasonOutOfBounds            ValidationReason = "OutOfBounds"
	ValidationReasonLapSkipped             ValidationReason = "LapSkipped"
	ValidationReasonInvalidCheckpoint      ValidationReason = "InvalidCheckpoint"
	ValidationReasonLapTooFast             ValidationReason = "LapTooFast"
	ValidationReasonLapTooSlow             ValidationReason = "LapTooSlow"
	// ValidationReasonRaceNotActive covers updates outside the RACING phase. It is
	// not treated as cheating.
	ValidationReasonRaceNotActive ValidationReason = "RaceNotActive"
)

// Reasons lists every rejection reason that counts as a violation, in check order.
var Reasons = []ValidationReason{
	ValidationReasonMalformedInput,
	ValidationReasonImpossibleDisplacement,
	ValidationReasonExcessiveSpeed,
	ValidationReasonOutOfBounds,
	ValidationReasonLapSkipped,
	ValidationReasonInvalidCheckpoint,
	ValidationReasonLapTooFast,
	ValidationReasonLapTooSlow,
}

// ValidationDecision summarises the result of a Validate call.
type ValidationDecision struct {
	Accepted bool
	Reason   ValidationReason
	// Warn is set when the next violation inside the window will hit the limit.
	Warn bool
	// Disconnect is set when the violation limit was reached and the policy disconnects offenders.
	Disconnect bool
	Details    string
}

// Punitive reports whether the rejection should be surfaced to the client as cheating.
func (d ValidationDecision) Punitive() bool {
	return !d.Accepted && d.Reason != ValidationReasonRaceNotActive
}

// PositionClaim is the untrusted kinematic state carried by update_position.
type PositionClaim struct {
	Position *physics.Vec3
	Rotation *physics.Vec3
	Velocity *physics.Vec3
}

// Resolved returns the claim with a missing velocity treated as stationary.
func (c PositionClaim) Resolved() (position, rotation, velocity physics.Vec3) {
	if c.Position != nil {
		position = *c.Position
	}
	if c.Rotation != nil {
		rotation = *c.Rotation
	}
	if c.Velocity != nil {
		velocity = *c.Velocity
	}
	return position, rotation, velocity
}

// LapClaim is the untrusted payload carried by lap_completed.
type LapClaim struct {
	Lap        *int
	Checkpoint *int
}

// ValidationCounters aggregates per-player violation statistics.
type ValidationCounters struct {
	Violations  map[ValidationReason]uint64 `json:"violations,omitempty"`
	Warnings    uint64                      `json:"warnings"`
	Disconnects uint64                      `json:"disconnects"`
}

// ValidatorOption customises validator construction.
type ValidatorOption func(*Validator)

// Validator enforces the physical and temporal plausibility bounds on racer input
// and tracks repeated offenders.
type Validator struct {
	mu      sync.Mutex
	cfg     config.RaceConfig
	clock   clock.Clock
	logger  *logging.Logger
	players map[string]*violationState
	metrics map[string]ValidationCounters
	totals  map[ValidationReason]uint64
}

type violationState struct {
	firstInvalid time.Time
	invalidCount int
}

// WithValidatorClock overrides the clock used to compute lap durations and violation windows.
func WithValidatorClock(c clock.Clock) ValidatorOption {
	return func(v *Validator) {
		if c != nil {
			v.clock = c
		}
	}
}

// WithValidatorLogger injects a logger for diagnostics.
func WithValidatorLogger(logger *logging.Logger) ValidatorOption {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewValidator builds a validator around the race thresholds.
func NewValidator(cfg config.RaceConfig, logger *logging.Logger, opts ...ValidatorOption) *Validator {
	//1.- Fall back to the baseline for any limit left unset.
	defaults := config.DefaultRace()
	if cfg.MaxDistancePerUpdate <= 0 {
		cfg.MaxDistancePerUpdate = defaults.MaxDistancePerUpdate
	}
	if cfg.MaxSpeed <= 0 {
		cfg.MaxSpeed = defaults.MaxSpeed
	}
	if cfg.MinHeight >= cfg.MaxHeight {
		cfg.MinHeight, cfg.MaxHeight = defaults.MinHeight, defaults.MaxHeight
	}
	if cfg.MaxLapTime <= 0 {
		cfg.MaxLapTime = defaults.MaxLapTime
	}
	if cfg.ViolationLimit <= 0 {
		cfg.ViolationLimit = defaults.ViolationLimit
	}
	if cfg.ViolationWindow <= 0 {
		cfg.ViolationWindow = defaults.ViolationWindow
	}
	validator := &Validator{
		cfg:     cfg,
		clock:   clock.System(),
		logger:  logger,
		players: make(map[string]*violationState),
		metrics: make(map[string]ValidationCounters),
		totals:  make(map[ValidationReason]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}
	return validator
}

// ValidatePosition gates an update_position claim against the racer's last
// accepted state. It never mutates current.
func (v *Validator) ValidatePosition(current player.Session, racing bool, claim PositionClaim) ValidationDecision {
	if v == nil {
		return ValidationDecision{Accepted: true}
	}
	if !racing {
		return ValidationDecision{Reason: ValidationReasonRaceNotActive}
	}
	if reason := v.checkPosition(current, claim); reason != ValidationReasonNone {
		return v.registerViolation(current.ID, reason)
	}
	return ValidationDecision{Accepted: true}
}

// ValidateLap gates a lap_completed claim. It never mutates current.
func (v *Validator) ValidateLap(current player.Session, racing bool, claim LapClaim) ValidationDecision {
	if v == nil {
		return ValidationDecision{Accepted: true}
	}
	if !racing {
		return ValidationDecision{Reason: ValidationReasonRaceNotActive}
	}
	if reason := v.checkLap(current, claim, v.clock.Now()); reason != ValidationReasonNone {
		return v.registerViolation(current.ID, reason)
	}
	return ValidationDecision{Accepted: true}
}

// Forget clears all violation history for the player.
func (v *Validator) Forget(playerID string) {
	if v == nil || playerID == "" {
		return
	}
	v.mu.Lock()
	delete(v.players, playerID)
	delete(v.metrics, playerID)
	v.mu.Unlock()
}

// Metrics returns a snapshot of per-player counters for diagnostics.
func (v *Validator) Metrics() map[string]ValidationCounters {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.metrics) == 0 {
		return nil
	}
	snapshot := make(map[string]ValidationCounters, len(v.metrics))
	for key, counters := range v.metrics {
		clone := ValidationCounters{Warnings: counters.Warnings, Disconnects: counters.Disconnects}
		if len(counters.Violations) > 0 {
			clone.Violations = make(map[ValidationReason]uint64, len(counters.Violations))
			for reason, count := range counters.Violations {
				clone.Violations[reason] = count
			}
		}
		snapshot[key] = clone
	}
	return snapshot
}

// Totals returns process-wide rejection counts by reason. Counts survive Forget.
func (v *Validator) Totals() map[ValidationReason]uint64 {
	if v == nil {
		return nil
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[ValidationReason]uint64, len(v.totals))
	for reason, count := range v.totals {
		out[reason] = count
	}
	return out
}

func (v *Validator) checkPosition(current player.Session, claim PositionClaim) ValidationReason {
	//1.- Schema: position and rotation must be present and finite; velocity may be omitted.
	if claim.Position == nil || claim.Rotation == nil {
		return ValidationReasonMalformedInput
	}
	if !claim.Position.Finite() || !claim.Rotation.Finite() {
		return ValidationReasonMalformedInput
	}
	if claim.Velocity != nil && !claim.Velocity.Finite() {
		return ValidationReasonMalformedInput
	}
	position, _, velocity := claim.Resolved()

	//2.- Teleport: only meaningful once a position has been accepted.
	if current.Positioned && position.Distance(current.Position) > v.cfg.MaxDistancePerUpdate {
		return ValidationReasonImpossibleDisplacement
	}
	//3.- Speed.
	if velocity.Length() > v.cfg.MaxSpeed {
		return ValidationReasonExcessiveSpeed
	}
	//4.- Vertical bounds cover both flying and falling through the track.
	if position.Y < v.cfg.MinHeight || position.Y > v.cfg.MaxHeight {
		return ValidationReasonOutOfBounds
	}
	return ValidationReasonNone
}

func (v *Validator) checkLap(current player.Session, claim LapClaim, now time.Time) ValidationReason {
	if claim.Lap == nil || claim.Checkpoint == nil {
		return ValidationReasonMalformedInput
	}
	//1.- Laps advance one at a time; a repeat of the current lap is also refused so
	// duplicate delivery cannot double count.
	if *claim.Lap != current.Lap+1 {
		return ValidationReasonLapSkipped
	}
	if *claim.Checkpoint < 0 || *claim.Checkpoint > v.cfg.MaxCheckpoints {
		return ValidationReasonInvalidCheckpoint
	}
	//2.- Lap duration is measured from the previous accepted lap, or race begin.
	elapsed := now.Sub(current.LastLapAt)
	if elapsed < v.cfg.MinLapTime {
		return ValidationReasonLapTooFast
	}
	if elapsed > v.cfg.MaxLapTime {
		return ValidationReasonLapTooSlow
	}
	return ValidationReasonNone
}

func (v *Validator) registerViolation(playerID string, reason ValidationReason) ValidationDecision {
	now := v.clock.Now()
	decision := ValidationDecision{Accepted: false, Reason: reason}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.totals[reason]++
	counters := v.metrics[playerID]
	if counters.Violations == nil {
		counters.Violations = make(map[ValidationReason]uint64)
	}
	counters.Violations[reason]++

	state := v.players[playerID]
	if state == nil {
		state = &violationState{}
		v.players[playerID] = state
	}
	//1.- Count violations inside a sliding window that restarts after it lapses.
	if state.invalidCount == 0 || now.Sub(state.firstInvalid) > v.cfg.ViolationWindow {
		state.firstInvalid = now
		state.invalidCount = 1
	} else {
		state.invalidCount++
	}

	remaining := v.cfg.ViolationLimit - state.invalidCount
	if remaining == 1 {
		decision.Warn = true
		counters.Warnings++
	}
	if remaining <= 0 {
		//2.- The limit was reached; disconnection only happens when the policy asks for it.
		state.invalidCount = 0
		state.firstInvalid = time.Time{}
		if v.cfg.DisconnectOnViolation {
			decision.Disconnect = true
			counters.Disconnects++
		}
		if v.logger != nil {
			v.logger.Warn("violation limit reached",
				logging.PlayerID(playerID),
				logging.String("reason", string(reason)),
				logging.Bool("disconnect", decision.Disconnect),
			)
		}
	}
	v.metrics[playerID] = counters
	return decision
}
