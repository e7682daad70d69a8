package game

import (
	"slices"
	"time"

	"github.com/scythe504/drawguess/internal"
)

// finalResults compiles the leaderboard: highest score first, ties kept in
// rotation order.
func (r *Room) finalResults(now time.Time) internal.FinalResults {
	leaderboard := make([]internal.PlayerScore, 0, len(r.members))
	for _, m := range r.members {
		leaderboard = append(leaderboard, internal.PlayerScore{
			PlayerID: m.Id,
			Username: m.Username,
			Score:    m.Score,
		})
	}

	slices.SortStableFunc(leaderboard, func(a, b internal.PlayerScore) int {
		return b.Score - a.Score
	})
	for idx := range leaderboard {
		leaderboard[idx].Position = idx + 1
	}

	return internal.FinalResults{
		RoomID:       r.id,
		RoomName:     r.name,
		Leaderboard:  leaderboard,
		RoundsPlayed: r.roundSettled,
		FinishedAt:   now,
	}
}
