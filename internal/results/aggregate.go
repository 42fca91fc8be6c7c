// Package results ranks racers when a room finishes and archives the outcome.
package results

import (
	"sort"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/player"
)

// Standing is one row of a race result.
type Standing struct {
	Position     int    `json:"position"`
	PlayerID     string `json:"player_id"`
	Name         string `json:"name"`
	Finished     bool   `json:"finished"`
	FinishTimeMS int64  `json:"finish_time_ms,omitempty"`
	Lap          int    `json:"lap"`
	Checkpoint   int    `json:"checkpoint"`
	Disconnected bool   `json:"disconnected,omitempty"`
}

// Aggregate orders racers: finishers first by ascending finish time, then everyone
// else by descending lap and checkpoint. Player id breaks any remaining tie so the
// order is total. Finish times are reported relative to raceBegan.
func Aggregate(sessions []player.Session, raceBegan time.Time) []Standing {
	ordered := make([]player.Session, len(sessions))
	copy(ordered, sessions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return less(ordered[i], ordered[j])
	})

	standings := make([]Standing, 0, len(ordered))
	for i, session := range ordered {
		standing := Standing{
			Position:     i + 1,
			PlayerID:     session.ID,
			Name:         session.Name,
			Finished:     session.Finished,
			Lap:          session.Lap,
			Checkpoint:   session.Checkpoint,
			Disconnected: session.Disconnected,
		}
		if session.Finished && !raceBegan.IsZero() {
			standing.FinishTimeMS = session.FinishedAt.Sub(raceBegan).Milliseconds()
		}
		standings = append(standings, standing)
	}
	return standings
}

func less(a, b player.Session) bool {
	//1.- Finishers always outrank racers still on track.
	if a.Finished != b.Finished {
		return a.Finished
	}
	if a.Finished {
		//2.- Two finishers compare by who crossed the line first.
		if !a.FinishedAt.Equal(b.FinishedAt) {
			return a.FinishedAt.Before(b.FinishedAt)
		}
		return a.ID < b.ID
	}
	//3.- Unfinished racers compare by progress, furthest first.
	if a.Lap != b.Lap {
		return a.Lap > b.Lap
	}
	if a.Checkpoint != b.Checkpoint {
		return a.Checkpoint > b.Checkpoint
	}
	return a.ID < b.ID
}
