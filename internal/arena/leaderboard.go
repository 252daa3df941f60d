package arena

import (
	"context"
	"sort"

	"github.com/prepdeck/arena/internal/events"
	"github.com/prepdeck/arena/internal/models"
)

// Leaderboard returns the full ranked snapshot for a room: live submissions
// for an open room, the persisted set otherwise. Ranks are assigned by sorted
// position, descending by total score, ties broken by earliest submission.
func (a *App) Leaderboard(ctx context.Context, roomID string) ([]events.LeaderboardEntry, error) {
	if e := a.reg.get(roomID); e != nil {
		e.mu.Lock()
		subs := e.submissionsLocked()
		live := e.room != nil
		e.mu.Unlock()
		if live {
			return rankEntries(subs), nil
		}
	}

	sctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	subs, err := a.store.ListSubmissions(sctx, roomID)
	if err != nil {
		return nil, a.mapStoreErr(err)
	}
	return rankEntries(subs), nil
}

// refreshLeaderboardLocked pushes the refresh signal plus a full replacement
// snapshot to the room after a score change. Caller holds the entry lock.
func (a *App) refreshLeaderboardLocked(e *roomEntry) {
	roomID := e.room.RoomID
	a.emit(roomID, events.TypeLeaderboardRefresh, events.LeaderboardRefreshPayload{RoomID: roomID})
	a.emit(roomID, events.TypeLeaderboardUpdated, events.LeaderboardUpdatedPayload{
		Leaderboard: rankEntries(e.submissionsLocked()),
	})
}

// rankEntries orders submissions into leaderboard rows. The ordering is total
// score descending with first-to-submit winning ties, so repeated computation
// over the same set is always the same permutation.
func rankEntries(subs []*models.Submission) []events.LeaderboardEntry {
	sorted := append([]*models.Submission(nil), subs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].TotalScore != sorted[j].TotalScore {
			return sorted[i].TotalScore > sorted[j].TotalScore
		}
		if sorted[i].Seq != sorted[j].Seq {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].SubmittedAt.Before(sorted[j].SubmittedAt)
	})

	entries := make([]events.LeaderboardEntry, len(sorted))
	for i, s := range sorted {
		entries[i] = events.LeaderboardEntry{
			UserID:        s.UserID,
			UserName:      s.UserName,
			TotalScore:    s.TotalScore,
			Rank:          i + 1,
			Clarity:       s.Scores.Clarity,
			Confidence:    s.Scores.Confidence,
			Applicability: s.Scores.Applicability,
		}
	}
	return entries
}
