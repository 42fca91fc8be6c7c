package replication

import (
	"errors"
	"testing"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/protocol"
)

func TestStreamAssignsSequentialNumbers(t *testing.T) {
	//1.- Append three lifecycle events and check their sequencing.
	stream := NewStream(8)
	for expected := uint64(1); expected <= 3; expected++ {
		entry, err := stream.Append(protocol.TypeRaceBegin, protocol.RaceBegin{})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
		if entry.Sequence != expected {
			t.Fatalf("expected sequence %d, got %d", expected, entry.Sequence)
		}
		envelope, err := protocol.Decode(entry.Frame)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		if envelope.Seq != expected {
			t.Fatalf("expected frame to carry sequence %d, got %d", expected, envelope.Seq)
		}
	}
	if stream.LastSequence() != 3 {
		t.Fatalf("expected last sequence 3, got %d", stream.LastSequence())
	}
}

func TestStreamSinceReturnsTail(t *testing.T) {
	stream := NewStream(8)
	for i := 0; i < 4; i++ {
		if _, err := stream.Append(protocol.TypeLapUpdate, protocol.LapUpdate{PlayerID: "p1", Lap: i + 2}); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	entries, err := stream.Since(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].Sequence != 3 || entries[1].Sequence != 4 {
		t.Fatalf("unexpected tail: %+v", entries)
	}
	if entries, _ := stream.Since(4); len(entries) != 0 {
		t.Fatalf("expected empty tail when caught up, got %d", len(entries))
	}
}

func TestStreamRetentionTruncatesHistory(t *testing.T) {
	stream := NewStream(2)
	for i := 0; i < 5; i++ {
		if _, err := stream.Append(protocol.TypeRaceBegin, nil); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if stream.Len() != 2 {
		t.Fatalf("expected two retained entries, got %d", stream.Len())
	}
	entries, err := stream.Since(1)
	if !errors.Is(err, ErrHistoryTruncated) {
		t.Fatalf("expected truncated history, got %v", err)
	}
	if len(entries) != 2 || entries[0].Sequence != 4 {
		t.Fatalf("expected the retained tail, got %+v", entries)
	}
	if _, err := stream.Since(3); err != nil {
		t.Fatalf("expected contiguous resume to succeed, got %v", err)
	}
}

func TestStreamRejectsUnencodablePayload(t *testing.T) {
	stream := NewStream(4)
	if _, err := stream.Append(protocol.TypeRaceBegin, make(chan int)); err == nil {
		t.Fatalf("expected encode error")
	}
	if stream.LastSequence() != 0 {
		t.Fatalf("failed append must not consume a sequence number")
	}
}
