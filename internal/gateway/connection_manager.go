package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/prepdeck/arena/internal/auth"
	"github.com/prepdeck/arena/internal/events"
)

// ConnectionManager owns every live WebSocket connection and the per-room
// connection pools broadcasts fan out over. It implements arena.Broadcaster.
type ConnectionManager struct {
	mu        sync.RWMutex
	roomConns map[string]map[*Connection]bool
	conns     map[string]*Connection

	config      ConnectionConfig
	broadcastCh chan broadcastMessage
}

// Connection is one client's live WebSocket bound to a verified identity.
type Connection struct {
	ID       string
	Identity auth.Identity
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	// rooms this connection has joined; touched only from the read pump.
	rooms map[string]bool

	ConnectedAt time.Time
}

// ConnectionConfig holds the WebSocket tunables.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns the default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

type broadcastMessage struct {
	RoomID string // fan out to a room pool
	ConnID string // or to a single connection
	Data   []byte
}

// envelope is the wire shape for every message in both directions.
type envelope struct {
	Event events.EventType `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

// NewConnectionManager creates the manager. Start must be called before any
// broadcast is delivered.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConns:   make(map[string]map[*Connection]bool),
		conns:       make(map[string]*Connection),
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1024),
	}
}

// Start processes queued broadcasts until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case msg := <-cm.broadcastCh:
			cm.deliver(msg)
		}
	}
}

// ToRoom queues an event for every connection in the room. Fire-and-forget:
// a full queue drops the message rather than blocking room operations.
func (cm *ConnectionManager) ToRoom(roomID string, event events.EventType, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal broadcast")
		return
	}
	select {
	case cm.broadcastCh <- broadcastMessage{RoomID: roomID, Data: data}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

// ToConn queues an event for a single connection.
func (cm *ConnectionManager) ToConn(connID string, event events.EventType, payload any) {
	data, err := encodeEnvelope(event, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal message")
		return
	}
	select {
	case cm.broadcastCh <- broadcastMessage{ConnID: connID, Data: data}:
	default:
		log.Warn().Str("connection_id", connID).Msg("broadcast channel full, dropping message")
	}
}

func encodeEnvelope(event events.EventType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}

// deliver pushes one queued message to its targets. Sends run under the read
// lock so they serialize with unregister's close of the Send channel; a
// disconnect racing a broadcast can therefore never hit a closed channel. The
// enqueue is non-blocking, so holding the lock across it is cheap.
func (cm *ConnectionManager) deliver(msg broadcastMessage) {
	cm.mu.RLock()
	var slow []*Connection
	if msg.ConnID != "" {
		if c, ok := cm.conns[msg.ConnID]; ok && !trySend(c, msg.Data) {
			slow = append(slow, c)
		}
	} else {
		for c := range cm.roomConns[msg.RoomID] {
			if !trySend(c, msg.Data) {
				slow = append(slow, c)
			}
		}
	}
	cm.mu.RUnlock()

	// Slow or dead clients: drop them rather than stall the room. unregister
	// takes the write lock, so this happens after the read lock is released.
	for _, c := range slow {
		log.Warn().
			Str("connection_id", c.ID).
			Str("user_id", c.Identity.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregister(c)
		c.Conn.Close()
	}
}

func trySend(c *Connection, data []byte) bool {
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) register(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conns[c.ID] = c
}

func (cm *ConnectionManager) unregister(c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if _, ok := cm.conns[c.ID]; !ok {
		return
	}
	delete(cm.conns, c.ID)
	for roomID, pool := range cm.roomConns {
		if pool[c] {
			delete(pool, c)
			if len(pool) == 0 {
				delete(cm.roomConns, roomID)
			}
		}
	}
	close(c.Send)
	log.Info().
		Str("connection_id", c.ID).
		Str("user_id", c.Identity.UserID).
		Msg("connection unregistered")
}

// joinPool adds the connection to a room's broadcast pool.
func (cm *ConnectionManager) joinPool(roomID string, c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.roomConns[roomID] == nil {
		cm.roomConns[roomID] = make(map[*Connection]bool)
	}
	cm.roomConns[roomID][c] = true
}

// leavePool removes the connection from a room's broadcast pool.
func (cm *ConnectionManager) leavePool(roomID string, c *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if pool, ok := cm.roomConns[roomID]; ok {
		delete(pool, c)
		if len(pool) == 0 {
			delete(cm.roomConns, roomID)
		}
	}
}

// Stats returns connection counts for the stats endpoint.
func (cm *ConnectionManager) Stats() (totalConns, activeRooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns), len(cm.roomConns)
}

// writePump sends queued messages and pings until the connection dies.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads inbound messages and dispatches them until the connection
// dies, then runs onClose for room cleanup.
func (c *Connection) readPump(handle func(*Connection, []byte), onClose func(*Connection)) {
	defer func() {
		onClose(c)
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close")
			}
			return
		}
		handle(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
