package arena

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/prepdeck/arena/internal/events"
	"github.com/prepdeck/arena/internal/models"
	"github.com/prepdeck/arena/internal/store"
)

// flakyStore wraps a real store with switchable write failures.
type flakyStore struct {
	RoomStore

	mu           sync.Mutex
	failSaves    bool
	failRanks    bool
	rankAttempts int
}

func (s *flakyStore) setFailures(saves, ranks bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = saves
	s.failRanks = ranks
}

func (s *flakyStore) rankAttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rankAttempts
}

func (s *flakyStore) SaveRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	fail := s.failSaves
	s.mu.Unlock()
	if fail {
		return errors.New("store write refused")
	}
	return s.RoomStore.SaveRoom(ctx, room)
}

func (s *flakyStore) UpdateRanks(ctx context.Context, roomID string, ranks map[string]int) error {
	s.mu.Lock()
	fail := s.failRanks
	if fail {
		s.rankAttempts++
	}
	s.mu.Unlock()
	if fail {
		return errors.New("store write refused")
	}
	return s.RoomStore.UpdateRanks(ctx, roomID, ranks)
}

// newFlakyApp uses a real clock: the finalization retry path sleeps between
// attempts, which would park forever on a fake clock.
func newFlakyApp(t *testing.T) (*App, *captureBroadcaster, *flakyStore, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	fs := &flakyStore{RoomStore: store.NewRedisStore(rdb)}
	bc := &captureBroadcaster{}
	app := NewApp(fs, bc, nil, clockwork.NewRealClock(), Config{StoreTimeout: time.Second})
	cleanup := func() {
		rdb.Close()
		mr.Close()
	}
	return app, bc, fs, cleanup
}

func TestFinalizePersistenceFailureSurfaced(t *testing.T) {
	app, bc, fs, cleanup := newFlakyApp(t)
	defer cleanup()

	join(t, app, "roomA", "u1")
	join(t, app, "roomA", "u2")
	if _, err := app.StartRoom(context.Background(), "roomA"); err != nil {
		t.Fatalf("StartRoom: %v", err)
	}
	submit(t, app, "roomA", "u1", uniformScores(90))

	// The completing submission hits a store that refuses rank writes.
	fs.setFailures(false, true)
	sub, err := app.SubmitAnswer(context.Background(), SubmitRequest{
		RoomID: "roomA",
		UserID: "u2",
		Scores: uniformScores(80),
	})
	if !errors.Is(err, ErrFinalize) {
		t.Fatalf("expected ErrFinalize, got %v", err)
	}
	if sub == nil || sub.TotalScore != 80 {
		t.Fatalf("the submission itself must still be recorded: %+v", sub)
	}
	if got := fs.rankAttemptCount(); got != 3 {
		t.Fatalf("expected 3 rank persistence attempts, got %d", got)
	}

	// The final rankings are still broadcast exactly once.
	if got := bc.count(events.TypeCompetitionCompleted); got != 1 {
		t.Fatalf("expected 1 competition-completed, got %d", got)
	}
	payload, _ := bc.last(events.TypeCompetitionCompleted)
	rankings := payload.(events.CompetitionCompletedPayload).Rankings
	if len(rankings) != 2 || rankings[0].UserID != "u1" || rankings[0].Rank != 1 {
		t.Fatalf("unexpected rankings: %+v", rankings)
	}

	// The room is retired despite the failed persist.
	if _, err := app.SubmitAnswer(context.Background(), SubmitRequest{RoomID: "roomA", UserID: "u1", Scores: uniformScores(10)}); !errors.Is(err, ErrRoomNotActive) {
		t.Fatalf("expected ErrRoomNotActive after completion, got %v", err)
	}
}

func TestFourthJoinRollsBackOnPersistFailure(t *testing.T) {
	app, bc, fs, cleanup := newFlakyApp(t)
	defer cleanup()

	for _, u := range []string{"u1", "u2", "u3"} {
		join(t, app, "roomA", u)
	}

	fs.setFailures(true, false)
	if _, err := app.JoinRoom(context.Background(), JoinRequest{RoomID: "roomA", UserID: "u4", Name: "name-u4"}); err == nil {
		t.Fatalf("expected join to fail when the room cannot be persisted")
	}
	if got := bc.count(events.TypeCompetitionStarted); got != 0 {
		t.Fatalf("failed activation must not broadcast competition-started")
	}

	room, err := app.GetRoom(context.Background(), "roomA")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if room.Status != models.RoomStatusWaiting {
		t.Fatalf("failed 4th join left status %s, want waiting", room.Status)
	}
	if len(room.Users) != 3 || room.HasUser("u4") {
		t.Fatalf("failed join left roster %+v", room.Users)
	}
	if room.StartedAt != nil {
		t.Fatalf("failed activation left a start time")
	}

	// Once the store recovers, the retried join activates exactly once.
	fs.setFailures(false, false)
	room = join(t, app, "roomA", "u4")
	if room.Status != models.RoomStatusActive {
		t.Fatalf("retried 4th join did not activate: %s", room.Status)
	}
	if got := bc.count(events.TypeCompetitionStarted); got != 1 {
		t.Fatalf("expected exactly 1 competition-started, got %d", got)
	}
}
