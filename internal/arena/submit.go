package arena

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prepdeck/arena/internal/events"
	"github.com/prepdeck/arena/internal/models"
)

// Combined-score weights, fixed by contract.
const (
	weightClarity       = 0.4
	weightConfidence    = 0.3
	weightApplicability = 0.3
)

// CombinedScore computes the weighted total for one submission:
// round(clarity*0.4 + confidence*0.3 + applicability*0.3).
func CombinedScore(s models.ComponentScores) int {
	return int(math.Round(
		float64(s.Clarity)*weightClarity +
			float64(s.Confidence)*weightConfidence +
			float64(s.Applicability)*weightApplicability))
}

// SubmitRequest carries one submit-answer operation. Identity has already been
// verified by the gateway or the REST auth middleware.
type SubmitRequest struct {
	RoomID      string
	UserID      string
	Scores      models.ComponentScores
	InterviewID string
}

// SubmitAnswer records the caller's single scored answer. The precondition
// checks, the insert, the persistence, and the completion evaluation run as
// one atomic unit under the room's lock, so two racing submissions from the
// same user can never both succeed and a concurrent disconnect can never make
// the completion check read torn counts.
func (a *App) SubmitAnswer(ctx context.Context, req SubmitRequest) (*models.Submission, error) {
	if err := validateScores(req.Scores); err != nil {
		return nil, err
	}

	e := a.reg.get(req.RoomID)
	if e == nil {
		return nil, ErrRoomNotActive
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	room := e.room
	if room == nil || room.Status != models.RoomStatusActive {
		return nil, ErrRoomNotActive
	}
	if !room.HasUser(req.UserID) {
		return nil, ErrNotAParticipant
	}
	if _, exists := e.submissions[req.UserID]; exists {
		return nil, ErrDuplicateSubmission
	}

	sub := &models.Submission{
		ID:          uuid.New(),
		RoomID:      req.RoomID,
		UserID:      req.UserID,
		UserName:    userName(room, req.UserID),
		InterviewID: req.InterviewID,
		Scores:      req.Scores,
		TotalScore:  CombinedScore(req.Scores),
		Seq:         e.nextSeq,
		SubmittedAt: a.clock.Now(),
	}

	sctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	err := a.store.CreateSubmission(sctx, sub)
	cancel()
	if err != nil {
		// No state change: the failed persist leaves the room untouched for
		// everyone else and the caller may retry.
		return nil, a.mapStoreErr(err)
	}
	e.submissions[req.UserID] = sub
	e.nextSeq++

	log.Info().
		Str("room_id", req.RoomID).
		Str("user_id", req.UserID).
		Int("total_score", sub.TotalScore).
		Msg("answer submitted")

	a.emit(req.RoomID, events.TypeAnswerSubmitted, events.AnswerSubmittedPayload{
		UserID:        req.UserID,
		Scores:        req.Scores,
		CombinedScore: sub.TotalScore,
		TotalScore:    sub.TotalScore,
	})
	a.refreshLeaderboardLocked(e)

	// Completion: both counts read under the same lock that guarded the insert.
	if len(e.submissions) == len(room.Users) {
		if err := a.finalizeLocked(ctx, e); err != nil {
			return sub, err
		}
	}
	return sub, nil
}

// CompleteRoom forces completion out of band (REST facade), ranking whatever
// submissions exist. Completed rooms return their stored result unchanged.
func (a *App) CompleteRoom(ctx context.Context, roomID string) ([]events.LeaderboardEntry, error) {
	e := a.reg.get(roomID)
	if e == nil {
		// Not live: completed rooms answer from the store, anything else 404s.
		room, err := a.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if room.Status != models.RoomStatusCompleted {
			return nil, ErrRoomNotActive
		}
		return a.Leaderboard(ctx, roomID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room == nil {
		return nil, ErrRoomNotFound
	}
	if err := a.finalizeLocked(ctx, e); err != nil {
		return nil, err
	}
	return rankEntries(e.submissionsLocked()), nil
}

// finalizeLocked performs the completion transition exactly once: ranks every
// submission, attaches ranks, flips the room to completed, persists, and
// broadcasts the final rankings. Persistence failures here are retried and
// then surfaced as ErrFinalize — never silently swallowed — while the
// in-memory result stays authoritative for the live room.
func (a *App) finalizeLocked(ctx context.Context, e *roomEntry) error {
	room := e.room
	if room.Status.Terminal() {
		return nil
	}

	ranked := rankEntries(e.submissionsLocked())
	ranks := make(map[string]int, len(ranked))
	for _, entry := range ranked {
		ranks[entry.UserID] = entry.Rank
		e.submissions[entry.UserID].Rank = entry.Rank
	}

	now := a.clock.Now()
	room.Status = models.RoomStatusCompleted
	room.CompletedAt = &now

	persistErr := a.persistFinal(ctx, room, ranks)

	a.emit(room.RoomID, events.TypeCompetitionCompleted, events.CompetitionCompletedPayload{Rankings: ranked})
	a.reg.remove(room.RoomID, e)

	log.Info().
		Str("room_id", room.RoomID).
		Int("submissions", len(ranked)).
		Msg("competition completed")

	if persistErr != nil {
		return fmt.Errorf("%w: %v", ErrFinalize, persistErr)
	}
	return nil
}

// persistFinal writes ranks and the completed room with bounded retries.
func (a *App) persistFinal(ctx context.Context, room *models.Room, ranks map[string]int) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			a.clock.Sleep(time.Duration(i) * 100 * time.Millisecond)
		}
		sctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
		if err = a.store.UpdateRanks(sctx, room.RoomID, ranks); err == nil {
			err = a.store.SaveRoom(sctx, room)
		}
		cancel()
		if err == nil {
			return nil
		}
		log.Error().
			Err(err).
			Str("room_id", room.RoomID).
			Int("attempt", i+1).
			Msg("failed to persist final rankings")
	}
	return err
}

func validateScores(s models.ComponentScores) error {
	for _, v := range []int{s.Clarity, s.Confidence, s.Applicability} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%w: component scores must be within [0,100]", ErrValidation)
		}
	}
	return nil
}

func userName(room *models.Room, userID string) string {
	for _, u := range room.Users {
		if u.UserID == userID {
			return u.Name
		}
	}
	return ""
}
