package replay

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
)

// RetentionPolicy defines how many room recordings are retained on disk.
type RetentionPolicy struct {
	MaxRooms int
	MaxAge   time.Duration
}

// StorageStats summarises the disk footprint of persisted recordings.
type StorageStats struct {
	Rooms     int
	Sealed    int
	Bytes     int64
	Removed   int
	LastSweep time.Time
}

// Cleaner periodically prunes replay artefacts according to a retention policy.
type Cleaner struct {
	mu     sync.RWMutex
	dir    string
	policy RetentionPolicy
	log    *logging.Logger
	clock  clock.Clock
	open   func() map[string]struct{}
	stats  StorageStats
}

// CleanerOption customises cleaner construction.
type CleanerOption func(*Cleaner)

// WithCleanerClock overrides the time source used for age checks.
func WithCleanerClock(c clock.Clock) CleanerOption {
	return func(cl *Cleaner) {
		if c != nil {
			cl.clock = c
		}
	}
}

// WithOpenRecordings protects directories still being written by the recorder.
func WithOpenRecordings(r *Recorder) CleanerOption {
	return func(cl *Cleaner) {
		if r != nil {
			cl.open = r.openDirectories
		}
	}
}

// NewCleaner constructs a cleaner for the provided replay directory.
func NewCleaner(dir string, policy RetentionPolicy, logger *logging.Logger, opts ...CleanerOption) *Cleaner {
	if logger == nil {
		logger = logging.L()
	}
	cleaner := &Cleaner{dir: dir, policy: policy, log: logger, clock: clock.System()}
	for _, opt := range opts {
		if opt != nil {
			opt(cleaner)
		}
	}
	return cleaner
}

// Run executes retention sweeps until the context is cancelled.
func (c *Cleaner) Run(ctx context.Context, interval time.Duration) {
	if c == nil || ctx == nil {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	//1.- Perform an eager sweep so retention applies immediately on startup.
	c.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			//2.- Trigger periodic sweeps while the context remains active.
			c.sweep()
		}
	}
}

// RunOnce performs a single retention sweep, primarily used for tests.
func (c *Cleaner) RunOnce() {
	if c == nil {
		return
	}
	//1.- Delegate to sweep so tests exercise identical logic as the background loop.
	c.sweep()
}

// Stats returns the last recorded storage statistics.
func (c *Cleaner) Stats() StorageStats {
	if c == nil {
		return StorageStats{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	//1.- Return a copy so callers cannot mutate internal state.
	return c.stats
}

type artefact struct {
	name    string
	path    string
	size    int64
	modTime time.Time
	sealed  bool
}

func (c *Cleaner) sweep() {
	if c == nil || strings.TrimSpace(c.dir) == "" {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn("replay retention scan failed", logging.Error(err), logging.String("directory", c.dir))
		return
	}
	var open map[string]struct{}
	if c.open != nil {
		open = c.open()
	}
	//1.- Each room recording is a directory; stray files are left alone.
	artefacts := c.collect(entries)
	now := c.clock.Now()
	kept := 0
	stats := StorageStats{LastSweep: now}
	for _, art := range artefacts {
		if _, writing := open[art.path]; !writing {
			if remove, reasons := c.shouldRemove(art, now, kept); remove {
				err := os.RemoveAll(art.path)
				if err == nil {
					stats.Removed++
					c.log.Info("replay retention removed recording", logging.String("recording", art.name), logging.String("reason", reasons))
					continue
				}
				c.log.Warn("replay retention removal failed", logging.Error(err), logging.String("recording", art.name))
			}
		}
		kept++
		stats.Rooms++
		stats.Bytes += art.size
		if art.sealed {
			stats.Sealed++
		}
	}
	c.mu.Lock()
	//2.- Publish the refreshed statistics so metrics handlers can report storage usage.
	c.stats = stats
	c.mu.Unlock()
}

func (c *Cleaner) collect(entries []os.DirEntry) []*artefact {
	list := make([]*artefact, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			c.log.Warn("replay retention stat failed", logging.Error(err), logging.String("path", path))
			continue
		}
		size, err := directorySize(path)
		if err != nil {
			c.log.Warn("replay retention size failed", logging.Error(err), logging.String("path", path))
			continue
		}
		_, headerErr := os.Stat(filepath.Join(path, HeaderFile))
		list = append(list, &artefact{
			name:    entry.Name(),
			path:    path,
			size:    size,
			modTime: info.ModTime(),
			sealed:  headerErr == nil,
		})
	}
	//1.- Sort newest-first so retention limits favour recent rooms.
	sort.Slice(list, func(i, j int) bool { return list[i].modTime.After(list[j].modTime) })
	return list
}

func (c *Cleaner) shouldRemove(art *artefact, now time.Time, kept int) (bool, string) {
	reasons := make([]string, 0, 2)
	if c.policy.MaxAge > 0 && now.Sub(art.modTime) > c.policy.MaxAge {
		reasons = append(reasons, fmt.Sprintf("age>%s", c.policy.MaxAge))
	}
	if c.policy.MaxRooms > 0 && kept >= c.policy.MaxRooms {
		//1.- Enforce the maximum retained room count after accounting for age removals.
		reasons = append(reasons, fmt.Sprintf(">=%d rooms", c.policy.MaxRooms))
	}
	return len(reasons) > 0, strings.Join(reasons, ", ")
}

func directorySize(root string) (int64, error) {
	var total int64
	walkErr := filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, walkErr
}
