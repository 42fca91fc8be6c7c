package player

import (
	"errors"
	"testing"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/physics"
)

func TestStoreKeepsJoinOrder(t *testing.T) {
	store := NewStore()
	now := time.UnixMilli(0)
	for _, id := range []string{"c", "a", "b"} {
		if err := store.Add(NewSession(id, id, "", now)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if err := store.Add(NewSession("a", "dup", "", now)); !errors.Is(err, ErrDuplicatePlayer) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	snapshot := store.Snapshot()
	if len(snapshot) != 3 || snapshot[0].ID != "c" || snapshot[1].ID != "a" || snapshot[2].ID != "b" {
		t.Fatalf("unexpected order %+v", snapshot)
	}

	store.Remove("a")
	if store.Len() != 2 {
		t.Fatalf("expected two sessions after removal, got %d", store.Len())
	}
	if _, ok := store.Get("a"); ok {
		t.Fatalf("expected removed session to be absent")
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := NewStore()
	if err := store.Add(NewSession("p1", "Racer", "red", time.UnixMilli(0))); err != nil {
		t.Fatalf("add: %v", err)
	}
	copy, _ := store.Get("p1")
	copy.Lap = 99

	stored, _ := store.Get("p1")
	if stored.Lap != 1 {
		t.Fatalf("expected store to be isolated from caller mutation, got lap %d", stored.Lap)
	}
}

func TestStoreMutations(t *testing.T) {
	store := NewStore()
	start := time.UnixMilli(1000)
	_ = store.Add(NewSession("p1", "Racer", "", start))
	_ = store.Add(NewSession("p2", "Rival", "", start))
	store.StartLapClocks(start)

	if err := store.ApplyPosition("p1", physics.Vec3{X: 1}, physics.Vec3{}, physics.Vec3{Z: 2}); err != nil {
		t.Fatalf("apply position: %v", err)
	}
	if err := store.ApplyLap("p1", 2, 4, start.Add(20*time.Second)); err != nil {
		t.Fatalf("apply lap: %v", err)
	}
	session, _ := store.Get("p1")
	if !session.Positioned || session.Position.X != 1 || session.Lap != 2 || session.Checkpoint != 4 {
		t.Fatalf("unexpected session %+v", session)
	}
	if !session.LastLapAt.Equal(start.Add(20 * time.Second)) {
		t.Fatalf("expected lap clock refresh, got %s", session.LastLapAt)
	}

	finishAt := start.Add(time.Minute)
	_ = store.MarkFinished("p1", finishAt)
	_ = store.MarkFinished("p1", finishAt.Add(time.Minute))
	session, _ = store.Get("p1")
	if !session.FinishedAt.Equal(finishAt) {
		t.Fatalf("expected first finish time to stick, got %s", session.FinishedAt)
	}

	_ = store.MarkDisconnected("p2")
	if store.ActiveCount() != 0 {
		t.Fatalf("expected no active racers, got %d", store.ActiveCount())
	}
	if store.ConnectedCount() != 1 {
		t.Fatalf("expected one connected racer, got %d", store.ConnectedCount())
	}
	if err := store.MarkDisconnected("ghost"); !errors.Is(err, ErrPlayerNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}
