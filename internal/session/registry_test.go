package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/config"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/player"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replication"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/room"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func newTestRegistry(t *testing.T) (*Registry, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(epoch)
	registry := NewRegistry(config.DefaultRace(), WithClock(clk), WithLogger(logging.NewTestLogger()))
	t.Cleanup(registry.Close)
	return registry, clk
}

func seat(id string) room.Seat {
	return room.Seat{Session: player.NewSession(id, id, "", epoch), Sink: replication.NewMemorySink()}
}

func waitClosed(t *testing.T, r *room.Room) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("room %s was not torn down", r.ID())
	}
}

func TestCreateRegistersSeededRoom(t *testing.T) {
	registry, _ := newTestRegistry(t)
	created, err := registry.Create(context.Background(), []room.Seat{seat("p1"), seat("p2")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	found, err := registry.Get(created.ID())
	if err != nil || found != created {
		t.Fatalf("expected to resolve created room, got %v", err)
	}
	snapshot, err := found.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.State != room.StateCountdown || len(snapshot.Players) != 2 {
		t.Fatalf("unexpected room state %+v", snapshot)
	}
	if stats := registry.Stats(); stats.Rooms != 1 || stats.Created != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if _, err := registry.Get("missing"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	first, _ := newTestRegistry(t)
	second, _ := newTestRegistry(t)
	created, err := first.Create(context.Background(), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := second.Get(created.ID()); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("rooms must not leak between registries")
	}
}

func TestCreateRollsBackFailedSeed(t *testing.T) {
	registry, _ := newTestRegistry(t)
	if _, err := registry.Create(context.Background(), []room.Seat{seat("p1"), seat("p1")}); !errors.Is(err, player.ErrDuplicatePlayer) {
		t.Fatalf("expected duplicate seat error, got %v", err)
	}
	if len(registry.List()) != 0 {
		t.Fatalf("failed seed must not leave a room behind")
	}
}

func TestFinishedRoomIsRemovedAndPublished(t *testing.T) {
	registry, clk := newTestRegistry(t)
	finished := make(chan results.Race, 1)
	cancel := registry.OnResult(func(race results.Race) { finished <- race })
	defer cancel()

	created, err := registry.Create(context.Background(), []room.Seat{seat("solo")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clk.Advance(config.DefaultCountdown)
	clk.Advance(20 * time.Second)
	if err := created.Finish("solo"); err != nil {
		t.Fatalf("finish: %v", err)
	}

	select {
	case race := <-finished:
		if race.RoomID != created.ID() || len(race.Standings) != 1 || !race.Standings[0].Finished {
			t.Fatalf("unexpected race %+v", race)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected result listener to fire")
	}
	waitClosed(t, created)
	if _, err := registry.Get(created.ID()); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("finished room must be destroyed")
	}
	if stats := registry.Stats(); stats.Finished != 1 || stats.Rooms != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestEmptiedRoomIsRemoved(t *testing.T) {
	registry, clk := newTestRegistry(t)
	created, err := registry.Create(context.Background(), []room.Seat{seat("p1")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := created.Disconnect("p1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitClosed(t, created)
	if clk.Pending() != 0 {
		t.Fatalf("destroyed room must not leave timers behind")
	}
	if stats := registry.Stats(); stats.Emptied != 1 || stats.Rooms != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestFaultIsolatesRoom(t *testing.T) {
	registry, clk := newTestRegistry(t)
	faulty, err := registry.Create(context.Background(), []room.Seat{seat("p1")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	healthy, err := registry.Create(context.Background(), []room.Seat{seat("p2")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	clk.Advance(config.DefaultCountdown)

	//1.- Starting a racing room is an illegal transition.
	if err := faulty.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitClosed(t, faulty)

	snapshot, err := healthy.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("healthy room must survive: %v", err)
	}
	if snapshot.State != room.StateRacing {
		t.Fatalf("expected healthy room to keep racing, got %s", snapshot.State)
	}
	if stats := registry.Stats(); stats.Faulted != 1 || stats.Rooms != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCloseRefusesNewRooms(t *testing.T) {
	registry, _ := newTestRegistry(t)
	created, err := registry.Create(context.Background(), nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	registry.Close()
	waitClosed(t, created)
	if _, err := registry.Create(context.Background(), nil); !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
}
