package replayplayer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replay"
)

func recordRoom(t *testing.T, root string, seal bool) string {
	t.Helper()
	manual := clock.NewManual(time.Date(2024, 7, 10, 15, 0, 0, 0, time.UTC))
	writer, _, err := replay.NewWriter(root, "room-1", manual)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	//1.- Two position updates and one lap make the tally ordering observable.
	for _, kind := range []string{"player_update", "lap_completed", "player_update"} {
		manual.Advance(50 * time.Millisecond)
		if err := writer.Record(kind, map[string]any{"player_id": "p-1"}); err != nil {
			t.Fatalf("Record(%s): %v", kind, err)
		}
	}
	if seal {
		if err := writer.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	} else {
		t.Cleanup(func() { _ = writer.Close() })
	}
	return writer.Directory()
}

func TestInspectSealedRecording(t *testing.T) {
	dir := recordRoom(t, t.TempDir(), true)

	bundle, err := Inspect(filepath.Join(dir, replay.HeaderFile))
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !bundle.Sealed {
		t.Fatalf("expected sealed recording")
	}
	if bundle.Header.RoomID != "room-1" || bundle.Header.Events != 3 {
		t.Fatalf("unexpected header: %+v", bundle.Header)
	}
	if len(bundle.Events) != 3 {
		t.Fatalf("expected three events, got %d", len(bundle.Events))
	}
	if len(bundle.Counts) != 2 || bundle.Counts[0].Type != "player_update" || bundle.Counts[0].Count != 2 {
		t.Fatalf("unexpected counts: %+v", bundle.Counts)
	}
	if laps := bundle.Filter("lap_completed"); len(laps) != 1 {
		t.Fatalf("expected one lap event, got %d", len(laps))
	}
}

func TestInspectOpenRecordingFallsBackToLiveLog(t *testing.T) {
	dir := recordRoom(t, t.TempDir(), false)

	bundle, err := Inspect(dir)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if bundle.Sealed {
		t.Fatalf("expected live recording")
	}
	if len(bundle.Events) != 3 {
		t.Fatalf("expected three events from live log, got %d", len(bundle.Events))
	}
}

func TestInspectRequiresPath(t *testing.T) {
	if _, err := Inspect(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
