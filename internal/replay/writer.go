package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
)

const (
	// LiveLogFile holds events while the room is open, framed with snappy.
	LiveLogFile = "events.jsonl.sz"
	// ArchiveFile holds the same events recompressed with zstd once the room closes.
	ArchiveFile = "events.jsonl.zst"
	// ManifestFile describes the layout of a recording directory.
	ManifestFile = "manifest.json"
)

var roomIDCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ErrWriterClosed is returned when recording into a closed writer.
var ErrWriterClosed = errors.New("replay: writer closed")

// Manifest describes the replay bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version     int    `json:"version"`
	RoomID      string `json:"room_id"`
	CreatedAt   string `json:"created_at"`
	LivePath    string `json:"live_path"`
	ArchivePath string `json:"archive_path"`
}

// Event is one recorded line of the room's event log.
type Event struct {
	Sequence   uint64          `json:"seq"`
	CapturedAt time.Time       `json:"captured_at"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Writer streams one room's events to disk. Lines are appended to a snappy
// framed log while the room runs and recompressed into a zstd archive on Close.
type Writer struct {
	mu       sync.Mutex
	dir      string
	roomID   string
	clock    clock.Clock
	created  time.Time
	liveFile *os.File
	live     *snappy.Writer
	events   uint64
	bytes    int64
	closed   bool
	onClose  func(*Writer, error)
}

// NewWriter prepares the recording directory for roomID below root.
func NewWriter(root, roomID string, c clock.Clock) (*Writer, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("replay root must be provided")
	}
	if c == nil {
		c = clock.System()
	}
	cleaned := roomIDCleaner.ReplaceAllString(roomID, "")
	if cleaned == "" {
		cleaned = "room"
	}
	created := c.Now().UTC()
	path := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:     1,
		RoomID:      roomID,
		CreatedAt:   created.Format(time.RFC3339Nano),
		LivePath:    LiveLogFile,
		ArchivePath: ArchiveFile,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, Manifest{}, err
	}
	if err := os.WriteFile(filepath.Join(path, ManifestFile), data, 0o644); err != nil {
		return nil, Manifest{}, err
	}

	liveFile, err := os.Create(filepath.Join(path, LiveLogFile))
	if err != nil {
		return nil, Manifest{}, err
	}
	return &Writer{
		dir:      path,
		roomID:   roomID,
		clock:    c,
		created:  created,
		liveFile: liveFile,
		live:     snappy.NewBufferedWriter(liveFile),
	}, manifest, nil
}

// Directory exposes the directory backing the replay bundle.
func (w *Writer) Directory() string {
	if w == nil {
		return ""
	}
	return w.dir
}

// Events reports how many events were recorded.
func (w *Writer) Events() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

// Record appends a single JSON event line to the live log.
func (w *Writer) Record(kind string, payload any) error {
	if w == nil {
		return fmt.Errorf("writer not initialised")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}
	captured := w.clock.Now().UTC()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	w.events++
	line, err := json.Marshal(Event{Sequence: w.events, CapturedAt: captured, Type: kind, Payload: raw})
	if err != nil {
		w.events--
		return err
	}
	line = append(line, '\n')
	if _, err := w.live.Write(line); err != nil {
		return err
	}
	w.bytes += int64(len(line))
	//1.- Flush every line so a crash loses at most the event being written.
	return w.live.Flush()
}

// Close seals the live log, recompresses it into the zstd archive and writes
// the header. Later calls are no-ops.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true

	//1.- Attempt every close and surface the first failure for callers to inspect.
	var firstErr error
	if err := w.live.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := w.liveFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr == nil {
		firstErr = w.archiveLocked()
	}
	if firstErr == nil {
		header := Header{
			SchemaVersion: HeaderSchemaVersion,
			RoomID:        w.roomID,
			CreatedAt:     w.created,
			ClosedAt:      w.clock.Now().UTC(),
			Events:        int(w.events),
			FilePointer:   ArchiveFile,
		}
		firstErr = WriteHeader(filepath.Join(w.dir, HeaderFile), header)
	}
	onClose := w.onClose
	w.mu.Unlock()

	if onClose != nil {
		onClose(w, firstErr)
	}
	return firstErr
}

// archiveLocked streams the snappy log into the zstd archive and removes the
// live log once the archive is durable.
func (w *Writer) archiveLocked() error {
	livePath := filepath.Join(w.dir, LiveLogFile)
	source, err := os.Open(livePath)
	if err != nil {
		return err
	}
	defer source.Close()

	target, err := os.Create(filepath.Join(w.dir, ArchiveFile))
	if err != nil {
		return err
	}
	encoder, err := zstd.NewWriter(target)
	if err != nil {
		target.Close()
		return err
	}
	if _, err := io.Copy(encoder, snappy.NewReader(source)); err != nil {
		encoder.Close()
		target.Close()
		return err
	}
	if err := encoder.Close(); err != nil {
		target.Close()
		return err
	}
	if err := target.Close(); err != nil {
		return err
	}
	return os.Remove(livePath)
}
