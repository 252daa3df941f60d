package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/prepdeck/arena/internal/arena"
	"github.com/prepdeck/arena/internal/auth"
	"github.com/prepdeck/arena/internal/events"
	"github.com/prepdeck/arena/internal/models"
)

// Coordinator defines what the gateway needs from the room core.
type Coordinator interface {
	JoinRoom(ctx context.Context, req arena.JoinRequest) (*models.Room, error)
	SubmitAnswer(ctx context.Context, req arena.SubmitRequest) (*models.Submission, error)
	Leaderboard(ctx context.Context, roomID string) ([]events.LeaderboardEntry, error)
	LeaveRoom(ctx context.Context, roomID, userID string) error
	HandleDisconnect(ctx context.Context, roomID, connID string) error
}

// WebSocketHandler authenticates connection attempts, binds each connection to
// its verified identity, and routes inbound room operations through a closed
// dispatch table. Unverifiable connections are rejected outright.
type WebSocketHandler struct {
	manager  *ConnectionManager
	core     Coordinator
	verifier auth.Verifier
	upgrader websocket.Upgrader

	handlers  map[events.EventType]func(context.Context, *Connection, json.RawMessage) error
	opTimeout time.Duration
}

// NewWebSocketHandler wires the gateway's inbound side.
func NewWebSocketHandler(cm *ConnectionManager, core Coordinator, verifier auth.Verifier) *WebSocketHandler {
	h := &WebSocketHandler{
		manager:  cm,
		core:     core,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cm.config.ReadBufferSize,
			WriteBufferSize: cm.config.WriteBufferSize,
			CheckOrigin:     cm.config.CheckOrigin,
		},
		opTimeout: 10 * time.Second,
	}
	// The closed set of inbound operations. Anything else is rejected.
	h.handlers = map[events.EventType]func(context.Context, *Connection, json.RawMessage) error{
		events.TypeJoinRoom:       h.handleJoinRoom,
		events.TypeSubmitAnswer:   h.handleSubmitAnswer,
		events.TypeGetLeaderboard: h.handleGetLeaderboard,
		events.TypeLeaveRoom:      h.handleLeaveRoom,
	}
	return h
}

// HandleConnection upgrades an HTTP request to a WebSocket after verifying the
// supplied credential. The verified identity, not any later client claim, is
// what every subsequent operation is checked against.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity, err := h.verifier.Verify(r.Context(), bearerToken(r))
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("rejected connection attempt")
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	c := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     h.manager,
		rooms:       make(map[string]bool),
		ConnectedAt: time.Now(),
	}
	h.manager.register(c)

	go c.writePump()
	go c.readPump(h.dispatch, h.onClose)

	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", identity.UserID).
		Msg("WebSocket connection established")
}

// dispatch decodes one inbound envelope and runs its handler. Failures are
// delivered as an error event to this connection only.
func (h *WebSocketHandler) dispatch(c *Connection, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendError(c, "malformed message")
		return
	}

	handle, ok := h.handlers[env.Event]
	if !ok {
		h.sendError(c, fmt.Sprintf("unknown event: %s", env.Event))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
	defer cancel()
	if err := handle(ctx, c, env.Data); err != nil {
		log.Debug().
			Err(err).
			Str("event", string(env.Event)).
			Str("connection_id", c.ID).
			Msg("operation rejected")
		h.sendError(c, err.Error())
	}
}

func (h *WebSocketHandler) handleJoinRoom(ctx context.Context, c *Connection, data json.RawMessage) error {
	var p JoinRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: bad join-room payload", arena.ErrValidation)
	}
	if p.UserID != c.Identity.UserID {
		return arena.ErrIdentityMismatch
	}

	name := p.UserName
	if name == "" {
		name = c.Identity.Name
	}

	// Pool membership first, so the joiner sees its own room-updated.
	h.manager.joinPool(p.RoomID, c)
	room, err := h.core.JoinRoom(ctx, arena.JoinRequest{
		RoomID:       p.RoomID,
		UserID:       p.UserID,
		Name:         name,
		ConnectionID: c.ID,
	})
	if err != nil {
		h.manager.leavePool(p.RoomID, c)
		return err
	}
	c.rooms[p.RoomID] = true

	h.manager.ToConn(c.ID, events.TypeJoinedRoom, events.JoinedRoomPayload{
		RoomID: room.RoomID,
		Users:  events.RosterOf(room),
		Status: room.Status,
	})
	return nil
}

func (h *WebSocketHandler) handleSubmitAnswer(ctx context.Context, c *Connection, data json.RawMessage) error {
	var p SubmitAnswerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: bad submit-answer payload", arena.ErrValidation)
	}
	if p.UserID != c.Identity.UserID {
		return arena.ErrIdentityMismatch
	}

	_, err := h.core.SubmitAnswer(ctx, arena.SubmitRequest{
		RoomID:      p.RoomID,
		UserID:      p.UserID,
		Scores:      p.Scores,
		InterviewID: p.InterviewID,
	})
	return err
}

func (h *WebSocketHandler) handleGetLeaderboard(ctx context.Context, c *Connection, data json.RawMessage) error {
	var p GetLeaderboardPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: bad get-leaderboard payload", arena.ErrValidation)
	}

	board, err := h.core.Leaderboard(ctx, p.RoomID)
	if err != nil {
		return err
	}
	h.manager.ToConn(c.ID, events.TypeLeaderboardUpdated, events.LeaderboardUpdatedPayload{Leaderboard: board})
	return nil
}

func (h *WebSocketHandler) handleLeaveRoom(ctx context.Context, c *Connection, data json.RawMessage) error {
	var p LeaveRoomPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("%w: bad leave-room payload", arena.ErrValidation)
	}

	if err := h.core.LeaveRoom(ctx, p.RoomID, c.Identity.UserID); err != nil {
		return err
	}
	delete(c.rooms, p.RoomID)
	h.manager.leavePool(p.RoomID, c)
	h.manager.ToConn(c.ID, events.TypeLeftRoom, events.LeftRoomPayload{RoomID: p.RoomID})
	return nil
}

// onClose notifies the core for every room the dying connection was in.
func (h *WebSocketHandler) onClose(c *Connection) {
	for roomID := range c.rooms {
		ctx, cancel := context.WithTimeout(context.Background(), h.opTimeout)
		if err := h.core.HandleDisconnect(ctx, roomID, c.ID); err != nil {
			log.Error().
				Err(err).
				Str("room_id", roomID).
				Str("connection_id", c.ID).
				Msg("disconnect handling failed")
		}
		cancel()
	}
	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.Identity.UserID).
		Msg("user disconnected")
}

func (h *WebSocketHandler) sendError(c *Connection, msg string) {
	h.manager.ToConn(c.ID, events.TypeError, events.ErrorPayload{Message: msg})
}

// HandleStats reports live connection counts.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	conns, rooms := h.manager.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"totalConnections": conns,
		"activeRooms":      rooms,
	})
}

// bearerToken pulls the credential from the Authorization header or, for
// browser WebSocket clients that cannot set headers, the token query param.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
