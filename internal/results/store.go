package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/results/migrations"
)

// ErrAlreadyArchived is returned when a room's results were stored before.
var ErrAlreadyArchived = errors.New("race results already archived")

// Race is an archived race with its standings.
type Race struct {
	RoomID     string     `json:"room_id"`
	BeganAt    time.Time  `json:"began_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Standings  []Standing `json:"standings"`
}

// Store persists finished races in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Open opens the results database at path and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Archive stores one finished race atomically.
func (s *Store) Archive(ctx context.Context, race Race) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	roomID := strings.TrimSpace(race.RoomID)
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO races (room_id, began_at, finished_at, racers) VALUES (?, ?, ?, ?)`,
		roomID, toMillis(race.BeganAt), toMillis(race.FinishedAt), len(race.Standings),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("archive %s: %w", roomID, ErrAlreadyArchived)
		}
		return fmt.Errorf("insert race %s: %w", roomID, err)
	}
	for _, standing := range race.Standings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO race_results (room_id, position, player_id, name, finished, finish_time_ms, lap, checkpoint, disconnected)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			roomID, standing.Position, standing.PlayerID, standing.Name, boolToInt(standing.Finished),
			standing.FinishTimeMS, standing.Lap, standing.Checkpoint, boolToInt(standing.Disconnected),
		); err != nil {
			return fmt.Errorf("insert standing %s/%d: %w", roomID, standing.Position, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive %s: %w", roomID, err)
	}
	return nil
}

// Recent returns the most recently finished races, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Race, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT room_id, began_at, finished_at FROM races ORDER BY finished_at DESC, room_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query races: %w", err)
	}
	var races []Race
	for rows.Next() {
		var (
			race     Race
			began    int64
			finished int64
		)
		if err := rows.Scan(&race.RoomID, &began, &finished); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan race: %w", err)
		}
		race.BeganAt = fromMillis(began)
		race.FinishedAt = fromMillis(finished)
		races = append(races, race)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range races {
		standings, err := s.standings(ctx, races[i].RoomID)
		if err != nil {
			return nil, err
		}
		races[i].Standings = standings
	}
	return races, nil
}

func (s *Store) standings(ctx context.Context, roomID string) ([]Standing, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT position, player_id, name, finished, finish_time_ms, lap, checkpoint, disconnected
		 FROM race_results WHERE room_id = ? ORDER BY position ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query standings %s: %w", roomID, err)
	}
	defer rows.Close()

	var standings []Standing
	for rows.Next() {
		var (
			standing     Standing
			finished     int
			disconnected int
		)
		if err := rows.Scan(&standing.Position, &standing.PlayerID, &standing.Name, &finished,
			&standing.FinishTimeMS, &standing.Lap, &standing.Checkpoint, &disconnected); err != nil {
			return nil, fmt.Errorf("scan standing %s: %w", roomID, err)
		}
		standing.Finished = finished != 0
		standing.Disconnected = disconnected != 0
		standings = append(standings, standing)
	}
	return standings, rows.Err()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
