// Package relay republishes room events to NATS for consumers outside this
// process. The live WebSocket fan-out never depends on it; the relay is the
// hook for history consumers and for scaling beyond one process.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/prepdeck/arena/internal/events"
)

// NATSRelay publishes one message per room event on
// arena.rooms.<roomId>.<event>.
type NATSRelay struct {
	nc      *nats.Conn
	subject string
}

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig(url string) Config {
	return Config{
		URL:           url,
		SubjectPrefix: "arena.rooms",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// envelope matches the shape the WebSocket surface uses, plus routing fields.
type envelope struct {
	EventID   string          `json:"eventId"`
	Event     string          `json:"event"`
	RoomID    string          `json:"roomId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New connects to NATS and returns the relay.
func New(cfg Config) (*NATSRelay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Info().Str("url", cfg.URL).Msg("event relay connected")
	return &NATSRelay{nc: nc, subject: cfg.SubjectPrefix}, nil
}

// Publish implements arena.EventRelay. Failures are logged, never propagated:
// the relay is at-least-once best effort and must not fail room operations.
func (r *NATSRelay) Publish(roomID string, event events.EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal relay payload")
		return
	}
	msg, err := json.Marshal(envelope{
		EventID:   uuid.New().String(),
		Event:     string(event),
		RoomID:    roomID,
		Timestamp: time.Now(),
		Data:      data,
	})
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal relay envelope")
		return
	}

	subject := fmt.Sprintf("%s.%s.%s", r.subject, roomID, event)
	if err := r.nc.Publish(subject, msg); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("failed to publish relay event")
	}
}

// Close drains the connection.
func (r *NATSRelay) Close() {
	if r.nc != nil {
		r.nc.Close()
	}
}
