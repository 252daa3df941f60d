// Package httpapi is the request/response facade over the same registry and
// coordinator operations the WebSocket surface uses, for out-of-band clients
// (room creation, polling, history).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/prepdeck/arena/internal/arena"
	"github.com/prepdeck/arena/internal/auth"
	"github.com/prepdeck/arena/internal/events"
	"github.com/prepdeck/arena/internal/models"
	"github.com/prepdeck/arena/internal/store"
)

// Core defines what the REST facade needs from the room core.
type Core interface {
	CreateRoom(ctx context.Context, userID, name string, questions []string) (*models.Room, error)
	JoinRoom(ctx context.Context, req arena.JoinRequest) (*models.Room, error)
	StartRoom(ctx context.Context, roomID string) (*models.Room, error)
	SubmitAnswer(ctx context.Context, req arena.SubmitRequest) (*models.Submission, error)
	CompleteRoom(ctx context.Context, roomID string) ([]events.LeaderboardEntry, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	Leaderboard(ctx context.Context, roomID string) ([]events.LeaderboardEntry, error)
	UserRooms(ctx context.Context, userID string) ([]*models.Room, error)
}

// Handler serves the room REST API.
type Handler struct {
	core     Core
	verifier auth.Verifier
}

// NewHandler wires the REST facade.
func NewHandler(core Core, verifier auth.Verifier) *Handler {
	return &Handler{core: core, verifier: verifier}
}

// Register mounts every route on the router.
func (h *Handler) Register(router *httprouter.Router) {
	router.POST("/api/rooms", h.authed(h.createRoom))
	router.GET("/api/rooms", h.authed(h.userRooms))
	router.GET("/api/rooms/:roomId", h.authed(h.getRoom))
	router.POST("/api/rooms/:roomId/join", h.authed(h.joinRoom))
	router.PUT("/api/rooms/:roomId/start", h.authed(h.startRoom))
	router.POST("/api/rooms/:roomId/answer", h.authed(h.submitAnswer))
	router.PUT("/api/rooms/:roomId/complete", h.authed(h.completeRoom))
	router.GET("/api/rooms/:roomId/leaderboard", h.authed(h.leaderboard))
}

type authedHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, id auth.Identity)

// authed verifies the bearer credential before the handler runs.
func (h *Handler) authed(next authedHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		identity, err := h.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication failed")
			return
		}
		next(w, r, ps, identity)
	}
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params, id auth.Identity) {
	var body struct {
		Questions []string `json:"questions"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed request body")
			return
		}
	}

	room, err := h.core.CreateRoom(r.Context(), id.UserID, id.Name, body.Questions)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"room":    room,
		"roomId":  room.RoomID,
	})
}

func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params, id auth.Identity) {
	room, err := h.core.JoinRoom(r.Context(), arena.JoinRequest{
		RoomID: ps.ByName("roomId"),
		UserID: id.UserID,
		Name:   id.Name,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Joined room successfully",
		"room":    room,
	})
}

func (h *Handler) startRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ auth.Identity) {
	room, err := h.core.StartRoom(r.Context(), ps.ByName("roomId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Room started",
		"room":      room,
		"startTime": room.StartedAt,
	})
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request, ps httprouter.Params, id auth.Identity) {
	var body struct {
		Scores      models.ComponentScores `json:"scores"`
		InterviewID string                 `json:"interviewId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	sub, err := h.core.SubmitAnswer(r.Context(), arena.SubmitRequest{
		RoomID:      ps.ByName("roomId"),
		UserID:      id.UserID,
		Scores:      body.Scores,
		InterviewID: body.InterviewID,
	})
	if err != nil && !errors.Is(err, arena.ErrFinalize) {
		h.writeDomainError(w, err)
		return
	}
	if err != nil {
		// The submission was recorded and the room completed, but the final
		// rankings could not be persisted. Callers must know.
		log.Error().Err(err).Str("room_id", ps.ByName("roomId")).Msg("completion persistence failed")
		writeError(w, http.StatusInternalServerError, "submission recorded but final rankings could not be persisted")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Answer submitted",
		"currentScore": sub.TotalScore,
	})
}

func (h *Handler) completeRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ auth.Identity) {
	board, err := h.core.CompleteRoom(r.Context(), ps.ByName("roomId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Room completed",
		"leaderboard": board,
	})
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ auth.Identity) {
	room, err := h.core.GetRoom(r.Context(), ps.ByName("roomId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "room": room})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ auth.Identity) {
	board, err := h.core.Leaderboard(r.Context(), ps.ByName("roomId"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "leaderboard": board})
}

func (h *Handler) userRooms(w http.ResponseWriter, r *http.Request, _ httprouter.Params, id auth.Identity) {
	rooms, err := h.core.UserRooms(r.Context(), id.UserID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rooms": rooms})
}

// writeDomainError maps core errors onto HTTP statuses. Every per-operation
// failure stays with this request; nothing here touches other room members.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, arena.ErrRoomNotFound) || errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Room not found")
	case errors.Is(err, arena.ErrRoomNotJoinable),
		errors.Is(err, arena.ErrRoomNotActive),
		errors.Is(err, arena.ErrDuplicateSubmission),
		errors.Is(err, arena.ErrValidation),
		errors.Is(err, store.ErrDuplicate):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, arena.ErrNotAParticipant), errors.Is(err, arena.ErrIdentityMismatch):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, arena.ErrStoreTimeout):
		writeError(w, http.StatusGatewayTimeout, "room store unavailable")
	default:
		log.Error().Err(err).Msg("unhandled API error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "message": msg})
}
