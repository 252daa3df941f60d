package arena

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/prepdeck/arena/internal/events"
	"github.com/prepdeck/arena/internal/models"
)

// RoomStore defines what the core needs from the durable room store.
type RoomStore interface {
	SaveRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	ListRoomsByUser(ctx context.Context, userID string) ([]*models.Room, error)
	CreateSubmission(ctx context.Context, sub *models.Submission) error
	ListSubmissions(ctx context.Context, roomID string) ([]*models.Submission, error)
	UpdateRanks(ctx context.Context, roomID string, ranks map[string]int) error
	AbandonOpenRooms(ctx context.Context) (int64, error)
}

// Broadcaster pushes an event to every live connection in a room.
// Broadcasts are fire-and-forget and must never block the caller.
type Broadcaster interface {
	ToRoom(roomID string, event events.EventType, payload any)
}

// EventRelay republishes room events to an external bus for consumers outside
// this process. Optional; may be nil.
type EventRelay interface {
	Publish(roomID string, event events.EventType, payload any)
}

// Config carries the tunables the core app needs.
type Config struct {
	Questions    []models.Question
	StoreTimeout time.Duration
}

// App owns the room registry, the lifecycle state machine, the submission
// coordinator, and the leaderboard. One instance owns every live room for its
// lifetime (sticky routing); scaling past one process needs coordination at
// the store, not here.
type App struct {
	store        RoomStore
	broadcaster  Broadcaster
	relay        EventRelay
	clock        clockwork.Clock
	questions    []models.Question
	storeTimeout time.Duration

	reg *registry
}

// NewApp creates the core room-coordination app.
func NewApp(store RoomStore, broadcaster Broadcaster, relay EventRelay, clock clockwork.Clock, cfg Config) *App {
	timeout := cfg.StoreTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	questions := cfg.Questions
	if len(questions) == 0 {
		questions = DefaultQuestions()
	}
	return &App{
		store:        store,
		broadcaster:  broadcaster,
		relay:        relay,
		clock:        clock,
		questions:    questions,
		storeTimeout: timeout,
		reg:          newRegistry(),
	}
}

// DefaultQuestions is the stock interview question set used when neither the
// config file nor the create request supplies one.
func DefaultQuestions() []models.Question {
	texts := []string{
		"Tell me about yourself.",
		"What are your greatest strengths?",
		"Why do you want to work here?",
		"Where do you see yourself in 5 years?",
	}
	qs := make([]models.Question, len(texts))
	for i, t := range texts {
		qs[i] = models.Question{Question: t, Order: i}
	}
	return qs
}

// JoinRequest carries one join-room operation. UserID has already been checked
// against the connection's verified identity by the gateway.
type JoinRequest struct {
	RoomID       string
	UserID       string
	Name         string
	ConnectionID string
}

// JoinRoom finds or creates the room and appends the participant. A join by an
// already-joined user is idempotent: it rebinds the live connection and
// returns the current snapshot without re-triggering activation. The 4th
// distinct join activates the room as one atomic step.
func (a *App) JoinRoom(ctx context.Context, req JoinRequest) (*models.Room, error) {
	if req.RoomID == "" || req.UserID == "" {
		return nil, fmt.Errorf("%w: roomId and userId are required", ErrValidation)
	}

	for {
		e := a.reg.getOrCreate(req.RoomID)
		e.mu.Lock()

		// Entry already retired by a racing completion/abandon: drop it and
		// start over with a fresh room under the same ID.
		if e.room != nil && e.room.Status.Terminal() {
			e.mu.Unlock()
			a.reg.remove(req.RoomID, e)
			continue
		}

		room, err := a.joinLocked(ctx, e, req)
		e.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return room, nil
	}
}

func (a *App) joinLocked(ctx context.Context, e *roomEntry, req JoinRequest) (*models.Room, error) {
	if e.room == nil {
		room := &models.Room{
			RoomID:    req.RoomID,
			Users:     []models.Participant{{UserID: req.UserID, Name: req.Name, ConnectionID: req.ConnectionID}},
			Status:    models.RoomStatusWaiting,
			Questions: append([]models.Question(nil), a.questions...),
			CreatedAt: a.clock.Now(),
		}
		if err := a.persistRoom(ctx, room); err != nil {
			a.reg.remove(req.RoomID, e)
			return nil, err
		}
		e.room = room
		log.Info().Str("room_id", req.RoomID).Str("user_id", req.UserID).Msg("room created")
		a.emitRoomUpdated(e)
		return e.snapshotLocked(), nil
	}

	room := e.room

	// Idempotent re-join: rebind the live connection, nothing else changes.
	if room.HasUser(req.UserID) {
		if req.ConnectionID != "" {
			for i := range room.Users {
				if room.Users[i].UserID == req.UserID {
					room.Users[i].ConnectionID = req.ConnectionID
				}
			}
		}
		a.emitRoomUpdated(e)
		return e.snapshotLocked(), nil
	}

	if room.Status != models.RoomStatusWaiting || len(room.Users) >= models.MaxRoomUsers {
		return nil, ErrRoomNotJoinable
	}

	room.Users = append(room.Users, models.Participant{
		UserID:       req.UserID,
		Name:         req.Name,
		ConnectionID: req.ConnectionID,
	})

	activate := len(room.Users) == models.MaxRoomUsers
	if activate {
		now := a.clock.Now()
		room.Status = models.RoomStatusActive
		room.StartedAt = &now
	}

	if err := a.persistRoom(ctx, room); err != nil {
		// The join fails atomically: roll back the append and, if this was
		// the 4th join, the activation with it.
		room.Users = room.Users[:len(room.Users)-1]
		if activate {
			room.Status = models.RoomStatusWaiting
			room.StartedAt = nil
		}
		return nil, err
	}

	log.Info().
		Str("room_id", room.RoomID).
		Str("user_id", req.UserID).
		Int("user_count", len(room.Users)).
		Msg("user joined room")

	a.emitRoomUpdated(e)
	if activate {
		a.emitCompetitionStarted(e)
	}
	return e.snapshotLocked(), nil
}

// StartRoom activates a waiting room out of band (REST facade). Requires at
// least one participant. Activation through the 4th join is unaffected.
func (a *App) StartRoom(ctx context.Context, roomID string) (*models.Room, error) {
	e := a.reg.get(roomID)
	if e == nil {
		return nil, ErrRoomNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	room := e.room
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if room.Status != models.RoomStatusWaiting || len(room.Users) == 0 {
		return nil, ErrRoomNotJoinable
	}

	now := a.clock.Now()
	room.Status = models.RoomStatusActive
	room.StartedAt = &now
	if err := a.persistRoom(ctx, room); err != nil {
		room.Status = models.RoomStatusWaiting
		room.StartedAt = nil
		return nil, err
	}

	log.Info().Str("room_id", roomID).Int("user_count", len(room.Users)).Msg("room started manually")
	a.emitCompetitionStarted(e)
	return e.snapshotLocked(), nil
}

// CreateRoom creates a fresh waiting room with the caller as sole participant
// and an externally routable generated ID (REST facade).
func (a *App) CreateRoom(ctx context.Context, userID, name string, questions []string) (*models.Room, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrValidation)
	}

	qs := a.questions
	if len(questions) > 0 {
		qs = make([]models.Question, len(questions))
		for i, q := range questions {
			qs[i] = models.Question{Question: q, Order: i}
		}
	}

	roomID := newRoomID(a.clock.Now())
	e := a.reg.getOrCreate(roomID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.room != nil {
		// Generated IDs carry a random suffix; a live collision is a bug.
		return nil, fmt.Errorf("room id collision: %s", roomID)
	}

	room := &models.Room{
		RoomID:    roomID,
		Users:     []models.Participant{{UserID: userID, Name: name}},
		Status:    models.RoomStatusWaiting,
		Questions: qs,
		CreatedAt: a.clock.Now(),
	}
	if err := a.persistRoom(ctx, room); err != nil {
		a.reg.remove(roomID, e)
		return nil, err
	}
	e.room = room

	log.Info().Str("room_id", roomID).Str("user_id", userID).Msg("room created via API")
	return e.snapshotLocked(), nil
}

// LeaveRoom removes the participant from the roster on a voluntary leave.
// Identity has already been verified by the caller.
func (a *App) LeaveRoom(ctx context.Context, roomID, userID string) error {
	e := a.reg.get(roomID)
	if e == nil {
		return ErrRoomNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return a.removeParticipantLocked(ctx, e, func(p models.Participant) bool {
		return p.UserID == userID
	})
}

// HandleDisconnect removes the participant bound to connID from the room. The
// gateway calls this once per room the connection was a member of.
func (a *App) HandleDisconnect(ctx context.Context, roomID, connID string) error {
	e := a.reg.get(roomID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return a.removeParticipantLocked(ctx, e, func(p models.Participant) bool {
		return p.ConnectionID != "" && p.ConnectionID == connID
	})
}

// removeParticipantLocked drops the first participant matching the predicate,
// transitions to abandoned when the roster empties, and re-evaluates the
// completion condition otherwise. Runs under the entry lock so a disconnect
// racing a submission always sees consistent membership and submission counts.
func (a *App) removeParticipantLocked(ctx context.Context, e *roomEntry, match func(models.Participant) bool) error {
	room := e.room
	if room == nil || room.Status.Terminal() {
		return nil
	}

	idx := -1
	for i, u := range room.Users {
		if match(u) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	left := room.Users[idx]
	room.Users = append(room.Users[:idx], room.Users[idx+1:]...)

	if len(room.Users) == 0 {
		room.Status = models.RoomStatusAbandoned
		if err := a.persistRoom(ctx, room); err != nil {
			log.Error().Err(err).Str("room_id", room.RoomID).Msg("failed to persist abandoned room")
		}
		a.reg.remove(room.RoomID, e)
		log.Info().Str("room_id", room.RoomID).Str("user_id", left.UserID).Msg("room abandoned")
		return nil
	}

	if err := a.persistRoom(ctx, room); err != nil {
		log.Error().Err(err).Str("room_id", room.RoomID).Msg("failed to persist reduced roster")
	}

	log.Info().
		Str("room_id", room.RoomID).
		Str("user_id", left.UserID).
		Int("user_count", len(room.Users)).
		Msg("user left room")
	a.emitRoomUpdated(e)

	// A departure can satisfy "all current participants submitted".
	if room.Status == models.RoomStatusActive && len(e.submissions) >= len(room.Users) {
		return a.finalizeLocked(ctx, e)
	}
	return nil
}

// GetRoom returns the live snapshot when the room is open, falling back to the
// durable store for completed or historical rooms.
func (a *App) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	if e := a.reg.get(roomID); e != nil {
		e.mu.Lock()
		snap := e.snapshotLocked()
		e.mu.Unlock()
		if snap != nil {
			return snap, nil
		}
	}

	sctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	room, err := a.store.GetRoom(sctx, roomID)
	if err != nil {
		return nil, a.mapStoreErr(err)
	}
	return room, nil
}

// UserRooms lists every room the user has participated in, newest first.
func (a *App) UserRooms(ctx context.Context, userID string) ([]*models.Room, error) {
	sctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	rooms, err := a.store.ListRoomsByUser(sctx, userID)
	if err != nil {
		return nil, a.mapStoreErr(err)
	}
	return rooms, nil
}

// AbandonOrphans marks rooms left open by a previous process run as abandoned.
// Live state never survives a restart, so those rooms cannot resume.
func (a *App) AbandonOrphans(ctx context.Context) error {
	sctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	n, err := a.store.AbandonOpenRooms(sctx)
	if err != nil {
		return a.mapStoreErr(err)
	}
	if n > 0 {
		log.Warn().Int64("rooms", n).Msg("abandoned orphaned rooms from previous run")
	}
	return nil
}

func (a *App) persistRoom(ctx context.Context, room *models.Room) error {
	sctx, cancel := context.WithTimeout(ctx, a.storeTimeout)
	defer cancel()
	if err := a.store.SaveRoom(sctx, room); err != nil {
		return a.mapStoreErr(err)
	}
	return nil
}

func (a *App) mapStoreErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStoreTimeout, err)
	}
	return err
}

// emit fans an event out to the room's live connections and, when a relay is
// configured, to the external bus. Both paths are non-blocking.
func (a *App) emit(roomID string, event events.EventType, payload any) {
	a.broadcaster.ToRoom(roomID, event, payload)
	if a.relay != nil {
		a.relay.Publish(roomID, event, payload)
	}
}

func (a *App) emitRoomUpdated(e *roomEntry) {
	room := e.room
	a.emit(room.RoomID, events.TypeRoomUpdated, events.RoomUpdatedPayload{
		Users:     events.RosterOf(room),
		Status:    room.Status,
		RoomID:    room.RoomID,
		UserCount: len(room.Users),
		MaxUsers:  models.MaxRoomUsers,
	})
}

func (a *App) emitCompetitionStarted(e *roomEntry) {
	room := e.room
	first := ""
	if len(room.Questions) > 0 {
		first = room.Questions[0].Question
	}
	a.emit(room.RoomID, events.TypeCompetitionStarted, events.CompetitionStartedPayload{
		RoomID:         room.RoomID,
		Question:       first,
		QuestionIndex:  0,
		TotalQuestions: len(room.Questions),
		Users:          events.RosterOf(room),
	})
	log.Info().Str("room_id", room.RoomID).Msg("competition started")
}

// newRoomID mirrors the historical external format: room_<unix ms>_<suffix>.
func newRoomID(now time.Time) string {
	var b [5]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("room_%d_%s", now.UnixMilli(), hex.EncodeToString(b[:]))
}
