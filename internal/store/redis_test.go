package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/prepdeck/arena/internal/models"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb)
}

func testRoom(roomID string, status models.RoomStatus, createdAt time.Time, userIDs ...string) *models.Room {
	users := make([]models.Participant, len(userIDs))
	for i, id := range userIDs {
		users[i] = models.Participant{UserID: id, Name: "name-" + id}
	}
	return &models.Room{
		RoomID:    roomID,
		Users:     users,
		Status:    status,
		Questions: []models.Question{{Question: "Tell me about yourself.", Order: 0}},
		CreatedAt: createdAt,
	}
}

func TestRoomRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	room := testRoom("roomA", models.RoomStatusWaiting, now, "u1", "u2")
	if err := s.SaveRoom(ctx, room); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}

	got, err := s.GetRoom(ctx, "roomA")
	if err != nil {
		t.Fatalf("GetRoom: %v", err)
	}
	if got.RoomID != "roomA" || got.Status != models.RoomStatusWaiting {
		t.Fatalf("unexpected room: %+v", got)
	}
	if len(got.Users) != 2 || got.Users[1].UserID != "u2" {
		t.Fatalf("roster lost in round trip: %+v", got.Users)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at lost in round trip: %v", got.CreatedAt)
	}
	if len(got.Questions) != 1 || got.Questions[0].Question == "" {
		t.Fatalf("questions lost in round trip: %+v", got.Questions)
	}
}

func TestGetRoomNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetRoom(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListRoomsByUserNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"roomA", "roomB", "roomC"} {
		room := testRoom(id, models.RoomStatusWaiting, base.Add(time.Duration(i)*time.Minute), "u1")
		if err := s.SaveRoom(ctx, room); err != nil {
			t.Fatalf("SaveRoom(%s): %v", id, err)
		}
	}
	// A room u1 is not in must not appear.
	if err := s.SaveRoom(ctx, testRoom("roomD", models.RoomStatusWaiting, base, "u2")); err != nil {
		t.Fatalf("SaveRoom(roomD): %v", err)
	}

	rooms, err := s.ListRoomsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListRoomsByUser: %v", err)
	}
	if len(rooms) != 3 {
		t.Fatalf("expected 3 rooms, got %d", len(rooms))
	}
	for i, want := range []string{"roomC", "roomB", "roomA"} {
		if rooms[i].RoomID != want {
			t.Fatalf("rooms[%d] = %s, want %s", i, rooms[i].RoomID, want)
		}
	}
}

func TestCreateSubmissionEnforcesUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub := &models.Submission{
		ID:          uuid.New(),
		RoomID:      "roomA",
		UserID:      "u1",
		UserName:    "Alice",
		Scores:      models.ComponentScores{Clarity: 80, Confidence: 70, Applicability: 90},
		TotalScore:  80,
		Seq:         0,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	dup := *sub
	dup.ID = uuid.New()
	dup.TotalScore = 99
	if err := s.CreateSubmission(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	subs, err := s.ListSubmissions(ctx, "roomA")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 1 || subs[0].TotalScore != 80 {
		t.Fatalf("duplicate overwrote original: %+v", subs)
	}
}

func TestListSubmissionsOrderedBySeq(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Insert out of seq order; listing must come back in seq order.
	for _, sub := range []*models.Submission{
		{ID: uuid.New(), RoomID: "roomA", UserID: "u3", TotalScore: 70, Seq: 2},
		{ID: uuid.New(), RoomID: "roomA", UserID: "u1", TotalScore: 90, Seq: 0},
		{ID: uuid.New(), RoomID: "roomA", UserID: "u2", TotalScore: 80, Seq: 1},
	} {
		if err := s.CreateSubmission(ctx, sub); err != nil {
			t.Fatalf("CreateSubmission(%s): %v", sub.UserID, err)
		}
	}

	subs, err := s.ListSubmissions(ctx, "roomA")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	for i, want := range []string{"u1", "u2", "u3"} {
		if subs[i].UserID != want {
			t.Fatalf("subs[%d] = %s, want %s", i, subs[i].UserID, want)
		}
		if subs[i].Seq != i {
			t.Fatalf("seq lost in round trip: %+v", subs[i])
		}
	}
}

func TestUpdateRanks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"u1", "u2"} {
		sub := &models.Submission{ID: uuid.New(), RoomID: "roomA", UserID: id, TotalScore: 90 - i*10, Seq: i}
		if err := s.CreateSubmission(ctx, sub); err != nil {
			t.Fatalf("CreateSubmission: %v", err)
		}
	}

	if err := s.UpdateRanks(ctx, "roomA", map[string]int{"u1": 1, "u2": 2}); err != nil {
		t.Fatalf("UpdateRanks: %v", err)
	}

	subs, err := s.ListSubmissions(ctx, "roomA")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if subs[0].Rank != 1 || subs[1].Rank != 2 {
		t.Fatalf("ranks not persisted: %+v", subs)
	}
}

func TestAbandonOpenRooms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.SaveRoom(ctx, testRoom("waiting", models.RoomStatusWaiting, now, "u1")); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	if err := s.SaveRoom(ctx, testRoom("active", models.RoomStatusActive, now, "u2")); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}
	if err := s.SaveRoom(ctx, testRoom("done", models.RoomStatusCompleted, now, "u3")); err != nil {
		t.Fatalf("SaveRoom: %v", err)
	}

	n, err := s.AbandonOpenRooms(ctx)
	if err != nil {
		t.Fatalf("AbandonOpenRooms: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 abandoned rooms, got %d", n)
	}

	for _, id := range []string{"waiting", "active"} {
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			t.Fatalf("GetRoom(%s): %v", id, err)
		}
		if room.Status != models.RoomStatusAbandoned {
			t.Fatalf("room %s status = %s, want abandoned", id, room.Status)
		}
	}
	done, err := s.GetRoom(ctx, "done")
	if err != nil {
		t.Fatalf("GetRoom(done): %v", err)
	}
	if done.Status != models.RoomStatusCompleted {
		t.Fatalf("completed room was touched: %s", done.Status)
	}

	// Idempotent: nothing open remains.
	n, err = s.AbandonOpenRooms(ctx)
	if err != nil {
		t.Fatalf("AbandonOpenRooms again: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 on second pass, got %d", n)
	}
}
