package room

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/input"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/player"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replication"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
)

var epoch = time.UnixMilli(1_700_000_000_000)

type finishedLog struct {
	mu    sync.Mutex
	races []results.Race
}

func (f *finishedLog) record(race results.Race) {
	f.mu.Lock()
	f.races = append(f.races, race)
	f.mu.Unlock()
}

func (f *finishedLog) all() []results.Race {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]results.Race(nil), f.races...)
}

type memoryArchiver struct{ finishedLog }

func (m *memoryArchiver) Archive(_ context.Context, race results.Race) error {
	m.record(race)
	return nil
}

func newTestRoom(t *testing.T, cfg config.RaceConfig, opts ...Option) (*Room, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	base := []Option{WithClock(clk), WithLogger(logging.NewTestLogger())}
	r := New(cfg, append(base, opts...)...)
	t.Cleanup(r.Close)
	return r, clk
}

func snapshot(t *testing.T, r *Room) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func findPlayer(t *testing.T, snap Snapshot, id string) player.Session {
	t.Helper()
	for _, session := range snap.Players {
		if session.ID == id {
			return session
		}
	}
	t.Fatalf("player %s not in room", id)
	return player.Session{}
}

func seats(ids ...string) ([]Seat, map[string]*replication.MemorySink) {
	sinks := make(map[string]*replication.MemorySink, len(ids))
	out := make([]Seat, 0, len(ids))
	for _, id := range ids {
		sink := replication.NewMemorySink()
		sinks[id] = sink
		out = append(out, Seat{Session: player.NewSession(id, "Racer "+id, "", epoch), Sink: sink})
	}
	return out, sinks
}

// racingRoom seeds the racers and runs the countdown down.
func racingRoom(t *testing.T, cfg config.RaceConfig, opts []Option, ids ...string) (*Room, *clock.Manual, map[string]*replication.MemorySink) {
	t.Helper()
	r, clk := newTestRoom(t, cfg, opts...)
	batch, sinks := seats(ids...)
	if err := r.Seed(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	clk.Advance(cfg.Countdown)
	if snap := snapshot(t, r); snap.State != StateRacing {
		t.Fatalf("expected RACING after countdown, got %s", snap.State)
	}
	return r, clk, sinks
}

func position(x, y, z float64) protocol.UpdatePosition {
	return protocol.UpdatePosition{
		Position: &physics.Vec3{X: x, Y: y, Z: z},
		Rotation: &physics.Vec3{},
		Velocity: &physics.Vec3{X: 10},
	}
}

func intPtr(v int) *int { return &v }

func decodeCheat(t *testing.T, sink *replication.MemorySink) string {
	t.Helper()
	envelope, ok := sink.Last(protocol.TypeCheatDetected)
	if !ok {
		t.Fatalf("expected cheat_detected, got %v", sink.Types())
	}
	var payload protocol.CheatDetected
	if err := envelope.Into(&payload); err != nil {
		t.Fatalf("decode cheat_detected: %v", err)
	}
	return payload.Reason
}

func TestSeedStartsCountdownAndRaceBegins(t *testing.T) {
	cfg := config.DefaultRace()
	r, clk := newTestRoom(t, cfg)
	batch, sinks := seats("p1", "p2")
	if err := r.Seed(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}

	snap := snapshot(t, r)
	if snap.State != StateCountdown || len(snap.Players) != 2 || snap.Capacity != 8 {
		t.Fatalf("unexpected snapshot after seed: %+v", snap)
	}
	start, ok := sinks["p1"].Last(protocol.TypeRaceStart)
	if !ok {
		t.Fatalf("expected race_start, got %v", sinks["p1"].Types())
	}
	var payload protocol.RaceStart
	if err := start.Into(&payload); err != nil {
		t.Fatalf("decode race_start: %v", err)
	}
	if payload.StartTime != epoch.Add(cfg.Countdown).UnixMilli() || len(payload.Players) != 2 {
		t.Fatalf("unexpected race_start payload: %+v", payload)
	}

	//1.- The countdown fires only once its full duration elapsed.
	clk.Advance(cfg.Countdown - time.Millisecond)
	if snapshot(t, r).State != StateCountdown {
		t.Fatalf("race began early")
	}
	clk.Advance(time.Millisecond)
	if snapshot(t, r).State != StateRacing {
		t.Fatalf("expected RACING once countdown elapsed")
	}
	want := []protocol.Type{protocol.TypeRoomJoined, protocol.TypeRaceStart, protocol.TypeRaceBegin}
	if got := sinks["p2"].Types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestJoinFillingRoomStartsCountdown(t *testing.T) {
	cfg := config.DefaultRace()
	cfg.RoomCapacity = 2
	r, _ := newTestRoom(t, cfg)
	batch, _ := seats("p1", "p2", "p3")

	if err := r.Join(context.Background(), batch[0]); err != nil {
		t.Fatalf("join p1: %v", err)
	}
	if snapshot(t, r).State != StateWaiting {
		t.Fatalf("room must wait until filled")
	}
	if err := r.Join(context.Background(), batch[0]); !errors.Is(err, player.ErrDuplicatePlayer) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if err := r.Join(context.Background(), batch[1]); err != nil {
		t.Fatalf("join p2: %v", err)
	}
	if snapshot(t, r).State != StateCountdown {
		t.Fatalf("expected full room to count down")
	}
	if err := r.Join(context.Background(), batch[2]); !errors.Is(err, ErrJoinClosed) {
		t.Fatalf("expected join to be closed, got %v", err)
	}
	if n := len(snapshot(t, r).Players); n != 2 {
		t.Fatalf("room exceeded capacity: %d players", n)
	}
}

func TestSeedRejectsOverCapacity(t *testing.T) {
	cfg := config.DefaultRace()
	cfg.RoomCapacity = 2
	r, _ := newTestRoom(t, cfg)
	batch, _ := seats("p1", "p2", "p3")
	if err := r.Seed(context.Background(), batch); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
	if snap := snapshot(t, r); len(snap.Players) != 0 || snap.State != StateWaiting {
		t.Fatalf("rejected seed must leave the room untouched: %+v", snap)
	}
}

func TestPositionUpdatesOutsideRaceAreIgnored(t *testing.T) {
	r, _ := newTestRoom(t, config.DefaultRace())
	batch, sinks := seats("p1", "p2")
	if err := r.Seed(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := r.UpdatePosition("p1", position(1, 0, 1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := snapshot(t, r)
	if findPlayer(t, snap, "p1").Positioned {
		t.Fatalf("countdown update must not be applied")
	}
	if sinks["p1"].Count(protocol.TypeCheatDetected) != 0 || sinks["p2"].Count(protocol.TypePlayerUpdate) != 0 {
		t.Fatalf("countdown update must be dropped quietly")
	}
}

func TestAcceptedPositionRelaysToOthers(t *testing.T) {
	cfg := config.DefaultRace()
	r, clk, sinks := racingRoom(t, cfg, nil, "p1", "p2")

	if err := r.UpdatePosition("p1", position(1, 0, 1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	//1.- A second update inside the 50ms window is dropped without a cheat notice.
	if err := r.UpdatePosition("p1", position(2, 0, 1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	clk.Advance(cfg.UpdateInterval())
	if err := r.UpdatePosition("p1", position(3, 0, 1)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	snap := snapshot(t, r)
	if got := findPlayer(t, snap, "p1").Position; got != (physics.Vec3{X: 3, Z: 1}) {
		t.Fatalf("unexpected stored position %+v", got)
	}
	if sinks["p2"].Count(protocol.TypePlayerUpdate) != 2 {
		t.Fatalf("expected two relayed updates, got %v", sinks["p2"].Types())
	}
	if sinks["p1"].Count(protocol.TypePlayerUpdate) != 0 || sinks["p1"].Count(protocol.TypeCheatDetected) != 0 {
		t.Fatalf("sender must not receive its own update or a cheat notice")
	}
	envelope, _ := sinks["p2"].Last(protocol.TypePlayerUpdate)
	var relay protocol.PlayerUpdate
	if err := json.Unmarshal(envelope.Payload, &relay); err != nil {
		t.Fatalf("decode relay: %v", err)
	}
	if relay.PlayerID != "p1" || relay.Velocity.X != 10 {
		t.Fatalf("unexpected relay %+v", relay)
	}
}

func TestTeleportIsRejected(t *testing.T) {
	cfg := config.DefaultRace()
	r, clk, sinks := racingRoom(t, cfg, nil, "p1", "p2")

	if err := r.UpdatePosition("p1", position(0, 0, 0)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	before := findPlayer(t, snapshot(t, r), "p1")

	clk.Advance(cfg.UpdateInterval())
	if err := r.UpdatePosition("p1", position(50, 0, 0)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	after := findPlayer(t, snapshot(t, r), "p1")

	if !reflect.DeepEqual(before, after) {
		t.Fatalf("rejected update mutated the session: %+v -> %+v", before, after)
	}
	if reason := decodeCheat(t, sinks["p1"]); reason != "ImpossibleDisplacement" {
		t.Fatalf("expected ImpossibleDisplacement, got %q", reason)
	}
	if sinks["p2"].Count(protocol.TypeCheatDetected) != 0 {
		t.Fatalf("cheat notice must only reach the offender")
	}
	if sinks["p2"].Count(protocol.TypePlayerUpdate) != 1 {
		t.Fatalf("rejected update must not be relayed")
	}
}

func TestLapTooFastThenAccepted(t *testing.T) {
	cfg := config.DefaultRace()
	r, clk, sinks := racingRoom(t, cfg, nil, "p1", "p2")

	clk.Advance(5 * time.Second)
	if err := r.CompleteLap("p1", protocol.LapCompleted{Lap: intPtr(2), Checkpoint: intPtr(3)}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if lap := findPlayer(t, snapshot(t, r), "p1").Lap; lap != 1 {
		t.Fatalf("expected lap to remain 1, got %d", lap)
	}
	if reason := decodeCheat(t, sinks["p1"]); reason != "LapTooFast" {
		t.Fatalf("expected LapTooFast, got %q", reason)
	}

	clk.Advance(10 * time.Second)
	if err := r.CompleteLap("p1", protocol.LapCompleted{Lap: intPtr(2), Checkpoint: intPtr(3)}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	//1.- Redelivery of the same lap must not advance it again.
	if err := r.CompleteLap("p1", protocol.LapCompleted{Lap: intPtr(2), Checkpoint: intPtr(3)}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	session := findPlayer(t, snapshot(t, r), "p1")
	if session.Lap != 2 || session.Checkpoint != 3 {
		t.Fatalf("expected lap 2 checkpoint 3, got %d/%d", session.Lap, session.Checkpoint)
	}
	if !session.LastLapAt.Equal(epoch.Add(cfg.Countdown + 15*time.Second)) {
		t.Fatalf("expected lap clock refresh, got %s", session.LastLapAt)
	}
	if sinks["p2"].Count(protocol.TypeLapUpdate) != 1 || sinks["p1"].Count(protocol.TypeLapUpdate) != 1 {
		t.Fatalf("expected one lap_update to every member")
	}
	if reason := decodeCheat(t, sinks["p1"]); reason != "LapSkipped" {
		t.Fatalf("expected duplicate lap to be flagged, got %q", reason)
	}
}

func TestAllFinishedEndsRace(t *testing.T) {
	cfg := config.DefaultRace()
	finished := &finishedLog{}
	archive := &memoryArchiver{}
	opts := []Option{WithFinishedHandler(finished.record), WithArchiver(archive)}
	r, clk, sinks := racingRoom(t, cfg, opts, "p1", "p2")

	clk.Advance(time.Second)
	if err := r.Finish("p2"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snapshot(t, r).State != StateRacing {
		t.Fatalf("race must continue while a racer is active")
	}
	clk.Advance(time.Second)
	if err := r.Finish("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snapshot(t, r).State != StateFinished {
		t.Fatalf("expected FINISHED once every racer finished")
	}

	envelope, ok := sinks["p1"].Last(protocol.TypeRaceEnd)
	if !ok {
		t.Fatalf("expected race_end, got %v", sinks["p1"].Types())
	}
	var end protocol.RaceEnd
	if err := envelope.Into(&end); err != nil {
		t.Fatalf("decode race_end: %v", err)
	}
	if len(end.Results) != 2 || end.Results[0].PlayerID != "p2" || end.Results[1].PlayerID != "p1" {
		t.Fatalf("unexpected standings %+v", end.Results)
	}
	if end.Results[0].FinishTimeMS != 1000 || end.Results[1].FinishTimeMS != 2000 {
		t.Fatalf("unexpected finish times %+v", end.Results)
	}
	if len(finished.all()) != 1 || len(archive.all()) != 1 {
		t.Fatalf("expected finished hook and archive to run once")
	}
	if archive.all()[0].RoomID != r.ID() {
		t.Fatalf("archived race must carry the room id")
	}
}

func TestDisconnectLeavingNoActiveRacerEndsRace(t *testing.T) {
	cfg := config.DefaultRace()
	finished := &finishedLog{}
	r, _, _ := racingRoom(t, cfg, []Option{WithFinishedHandler(finished.record)}, "p1", "p2")

	if err := r.Disconnect("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snap := snapshot(t, r)
	if snap.State != StateRacing || !findPlayer(t, snap, "p1").Disconnected {
		t.Fatalf("expected p1 flagged while p2 races on: %+v", snap)
	}
	if err := r.Disconnect("p2"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snapshot(t, r).State != StateFinished {
		t.Fatalf("expected FINISHED with zero active racers")
	}
	races := finished.all()
	if len(races) != 1 || len(races[0].Standings) != 2 || !races[0].Standings[0].Disconnected {
		t.Fatalf("unexpected standings %+v", races)
	}
}

func TestDisconnectBeforeRaceReleasesSeat(t *testing.T) {
	emptied := make(chan string, 1)
	r, clk := newTestRoom(t, config.DefaultRace(), WithEmptyHandler(func(id string) { emptied <- id }))
	batch, _ := seats("p1")
	if err := r.Seed(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := r.Disconnect("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap := snapshot(t, r); len(snap.Players) != 0 {
		t.Fatalf("expected seat released, got %+v", snap.Players)
	}
	select {
	case id := <-emptied:
		if id != r.ID() {
			t.Fatalf("unexpected room id %q", id)
		}
	default:
		t.Fatalf("expected empty handler to run")
	}
	if clk.Pending() != 0 {
		t.Fatalf("empty room must cancel its countdown")
	}
}

func TestCloseCancelsCountdown(t *testing.T) {
	r, clk := newTestRoom(t, config.DefaultRace())
	batch, sinks := seats("p1", "p2")
	if err := r.Seed(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if clk.Pending() != 1 {
		t.Fatalf("expected an armed countdown, got %d timers", clk.Pending())
	}
	r.Close()
	<-r.Done()
	if clk.Pending() != 0 {
		t.Fatalf("close must cancel the countdown")
	}
	clk.Advance(time.Minute)
	if sinks["p1"].Count(protocol.TypeRaceBegin) != 0 {
		t.Fatalf("closed room must not begin the race")
	}
	if err := r.Start(); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
	r.Close()
}

func TestIllegalTransitionFaultsRoom(t *testing.T) {
	faults := make(chan error, 1)
	r, _, _ := racingRoom(t, config.DefaultRace(), []Option{WithFaultHandler(func(_ string, err error) { faults <- err })}, "p1")

	if err := r.Start(); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case err := <-faults:
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected fault handler to run")
	}
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("faulted room must shut down")
	}
}

func TestMalformedPayloadIsReported(t *testing.T) {
	r, _, sinks := racingRoom(t, config.DefaultRace(), nil, "p1", "p2")
	if err := r.UpdatePosition("p1", protocol.UpdatePosition{Position: &physics.Vec3{}}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snapshot(t, r)
	if reason := decodeCheat(t, sinks["p1"]); reason != "MalformedInput" {
		t.Fatalf("expected MalformedInput, got %q", reason)
	}
	sinks["p1"].Reset()
	if err := r.RejectMalformed("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	snapshot(t, r)
	if reason := decodeCheat(t, sinks["p1"]); reason != "MalformedInput" {
		t.Fatalf("expected MalformedInput for undecodable payload, got %q", reason)
	}
}

func TestRepeatedViolationsDisconnectWhenConfigured(t *testing.T) {
	cfg := config.DefaultRace()
	cfg.DisconnectOnViolation = true
	r, clk, sinks := racingRoom(t, cfg, nil, "p1", "p2")

	if err := r.UpdatePosition("p1", position(0, 0, 0)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i := 0; i < cfg.ViolationLimit; i++ {
		clk.Advance(cfg.UpdateInterval())
		if err := r.UpdatePosition("p1", position(100, 0, 0)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	snap := snapshot(t, r)
	if !findPlayer(t, snap, "p1").Disconnected {
		t.Fatalf("expected offender to be disconnected")
	}
	if sinks["p1"].Kicked() != "ImpossibleDisplacement" {
		t.Fatalf("expected connection to be kicked, got %q", sinks["p1"].Kicked())
	}
	if snap.State != StateRacing {
		t.Fatalf("remaining racer keeps the race alive")
	}
}

func TestResumeReplaysMissedEvents(t *testing.T) {
	r, _, _ := racingRoom(t, config.DefaultRace(), nil, "p1", "p2")
	if err := r.Disconnect("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fresh := replication.NewMemorySink()
	if err := r.Resume(context.Background(), "p1", fresh, 1); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if got := fresh.Types(); len(got) != 1 || got[0] != protocol.TypeRaceBegin {
		t.Fatalf("expected race_begin replay, got %v", got)
	}
	if findPlayer(t, snapshot(t, r), "p1").Disconnected {
		t.Fatalf("resume must clear the disconnected flag")
	}
	if err := r.Resume(context.Background(), "ghost", fresh, 0); !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("expected ErrPlayerNotFound, got %v", err)
	}
}

func TestSeedAnnouncesCompleteRoster(t *testing.T) {
	r, _ := newTestRoom(t, config.DefaultRace())
	batch, sinks := seats("p1", "p2", "p3")
	if err := r.Seed(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}
	snapshot(t, r)

	//1.- The first racer seated must see the whole batch, not only itself.
	for _, id := range []string{"p1", "p2", "p3"} {
		envelope, ok := sinks[id].Last(protocol.TypeRoomJoined)
		if !ok {
			t.Fatalf("expected room_joined for %s", id)
		}
		var joined protocol.RoomJoined
		if err := envelope.Into(&joined); err != nil {
			t.Fatalf("decode room_joined: %v", err)
		}
		if joined.PlayerID != id || len(joined.Players) != 3 {
			t.Fatalf("expected full roster for %s, got %+v", id, joined)
		}
	}
}

func TestMalformedOutsideRaceIsNotPunished(t *testing.T) {
	cfg := config.DefaultRace()
	validator := input.NewValidator(cfg, logging.NewTestLogger())
	r, _ := newTestRoom(t, cfg, WithValidator(validator))
	batch, sinks := seats("p1", "p2")
	if err := r.Seed(context.Background(), batch); err != nil {
		t.Fatalf("seed: %v", err)
	}

	//1.- During COUNTDOWN an undecodable frame is ignored like any early update.
	if err := r.RejectMalformed("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if snap := snapshot(t, r); snap.State != StateCountdown {
		t.Fatalf("expected COUNTDOWN, got %s", snap.State)
	}
	if count := sinks["p1"].Count(protocol.TypeCheatDetected); count != 0 {
		t.Fatalf("expected no cheat_detected before the race, got %d", count)
	}
	if strikes := validator.Totals()[input.ValidationReasonMalformedInput]; strikes != 0 {
		t.Fatalf("expected no strike before the race, got %d", strikes)
	}
}

func TestViolationHistorySurvivesReconnect(t *testing.T) {
	cfg := config.DefaultRace()
	cfg.DisconnectOnViolation = true
	r, clk, _ := racingRoom(t, cfg, nil, "p1", "p2")

	if err := r.UpdatePosition("p1", position(0, 0, 0)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for i := 0; i < cfg.ViolationLimit-1; i++ {
		clk.Advance(cfg.UpdateInterval())
		if err := r.UpdatePosition("p1", position(100, 0, 0)); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	//1.- Dropping and resuming the connection must not clear the strikes.
	if err := r.Disconnect("p1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	fresh := replication.NewMemorySink()
	if err := r.Resume(context.Background(), "p1", fresh, 0); err != nil {
		t.Fatalf("resume: %v", err)
	}
	clk.Advance(cfg.UpdateInterval())
	if err := r.UpdatePosition("p1", position(100, 0, 0)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !findPlayer(t, snapshot(t, r), "p1").Disconnected {
		t.Fatalf("expected the limit to be reached across the reconnect")
	}
	if fresh.Kicked() != "ImpossibleDisplacement" {
		t.Fatalf("expected resumed connection to be kicked, got %q", fresh.Kicked())
	}
}
