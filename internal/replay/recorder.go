package replay

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
)

// Stats summarises recorder health for monitoring endpoints.
type Stats struct {
	Open         int
	Opened       int64
	Archived     int64
	Failed       int64
	Events       int64
	Bytes        int64
	LastArchive  string
	LastArchived time.Time
}

// Recorder opens one Writer per room below a shared root directory and keeps
// aggregate statistics across them.
type Recorder struct {
	mu    sync.Mutex
	dir   string
	clock clock.Clock
	log   *logging.Logger
	open  map[*Writer]struct{}
	stats Stats
}

// NewRecorder constructs a replay recorder that writes room bundles into dir.
func NewRecorder(dir string, c clock.Clock, logger *logging.Logger) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("replay directory must be provided")
	}
	if c == nil {
		c = clock.System()
	}
	if logger == nil {
		logger = logging.L()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir, clock: c, log: logger, open: make(map[*Writer]struct{})}, nil
}

// Directory returns the root of all recordings.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Open starts recording a room.
func (r *Recorder) Open(roomID string) (*Writer, error) {
	if r == nil {
		return nil, fmt.Errorf("recorder not configured")
	}
	writer, _, err := NewWriter(r.dir, roomID, r.clock)
	if err != nil {
		return nil, err
	}
	writer.onClose = r.closed

	r.mu.Lock()
	r.open[writer] = struct{}{}
	r.stats.Opened++
	r.mu.Unlock()
	return writer, nil
}

// Close seals every writer that is still open, typically on shutdown.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	writers := make([]*Writer, 0, len(r.open))
	for writer := range r.open {
		writers = append(writers, writer)
	}
	r.mu.Unlock()

	var firstErr error
	for _, writer := range writers {
		if err := writer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Snapshot returns statistics describing the recorder state.
func (r *Recorder) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := r.stats
	stats.Open = len(r.open)
	return stats
}

func (r *Recorder) closed(writer *Writer, err error) {
	r.mu.Lock()
	delete(r.open, writer)
	r.stats.Events += int64(writer.events)
	r.stats.Bytes += writer.bytes
	if err != nil {
		r.stats.Failed++
	} else {
		r.stats.Archived++
		r.stats.LastArchive = writer.dir
		r.stats.LastArchived = r.clock.Now().UTC()
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("replay archive failed", logging.RoomID(writer.roomID), logging.Error(err))
		return
	}
	r.log.Debug("replay archived", logging.RoomID(writer.roomID), logging.String("directory", writer.dir))
}

func (r *Recorder) openDirectories() map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]struct{}, len(r.open))
	for writer := range r.open {
		out[writer.dir] = struct{}{}
	}
	return out
}
