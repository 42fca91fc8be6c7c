package results

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreArchiveAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	began := time.UnixMilli(1_700_000_000_000).UTC()

	first := Race{
		RoomID:     "room-a",
		BeganAt:    began,
		FinishedAt: began.Add(2 * time.Minute),
		Standings: []Standing{
			{Position: 1, PlayerID: "p1", Name: "One", Finished: true, FinishTimeMS: 90_000, Lap: 3},
			{Position: 2, PlayerID: "p2", Name: "Two", Lap: 2, Checkpoint: 4, Disconnected: true},
		},
	}
	second := Race{RoomID: "room-b", BeganAt: began, FinishedAt: began.Add(5 * time.Minute)}

	if err := store.Archive(ctx, first); err != nil {
		t.Fatalf("archive first: %v", err)
	}
	if err := store.Archive(ctx, second); err != nil {
		t.Fatalf("archive second: %v", err)
	}

	races, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(races) != 2 || races[0].RoomID != "room-b" || races[1].RoomID != "room-a" {
		t.Fatalf("expected newest first, got %+v", races)
	}
	got := races[1]
	if !got.FinishedAt.Equal(first.FinishedAt) {
		t.Fatalf("expected finished_at to round trip, got %s", got.FinishedAt)
	}
	if len(got.Standings) != 2 || got.Standings[0] != first.Standings[0] || got.Standings[1] != first.Standings[1] {
		t.Fatalf("unexpected standings %+v", got.Standings)
	}
}

func TestStoreRejectsDuplicateRoom(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	race := Race{RoomID: "room-a", FinishedAt: time.UnixMilli(1000)}
	if err := store.Archive(ctx, race); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := store.Archive(ctx, race); !errors.Is(err, ErrAlreadyArchived) {
		t.Fatalf("expected ErrAlreadyArchived, got %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	_ = store.Close()
	store, err = Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	_ = store.Close()
}
