// Package events defines the closed set of real-time events exchanged with
// competition clients. Every server→room payload is a full-state snapshot,
// never a delta, so consumers don't reconcile ordering across broadcasts.
package events

import "github.com/prepdeck/arena/internal/models"

// EventType identifies one event on the real-time surface.
type EventType string

// Client → server.
const (
	TypeJoinRoom       EventType = "join-room"
	TypeSubmitAnswer   EventType = "submit-answer"
	TypeGetLeaderboard EventType = "get-leaderboard"
	TypeLeaveRoom      EventType = "leave-room"
)

// Server → client / room.
const (
	TypeJoinedRoom           EventType = "joined-room"
	TypeRoomUpdated          EventType = "room-updated"
	TypeCompetitionStarted   EventType = "competition-started"
	TypeAnswerSubmitted      EventType = "answer-submitted"
	TypeLeaderboardRefresh   EventType = "leaderboard-refresh"
	TypeLeaderboardUpdated   EventType = "leaderboard-updated"
	TypeCompetitionCompleted EventType = "competition-completed"
	TypeLeftRoom             EventType = "left-room"
	TypeError                EventType = "error"
)

// RoomUser is the roster entry shape broadcast to clients.
type RoomUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// JoinedRoomPayload answers the joining client only.
type JoinedRoomPayload struct {
	RoomID string            `json:"roomId"`
	Users  []RoomUser        `json:"users"`
	Status models.RoomStatus `json:"status"`
}

// RoomUpdatedPayload is the full roster snapshot sent on every membership change.
type RoomUpdatedPayload struct {
	Users     []RoomUser        `json:"users"`
	Status    models.RoomStatus `json:"status"`
	RoomID    string            `json:"roomId"`
	UserCount int               `json:"userCount"`
	MaxUsers  int               `json:"maxUsers"`
}

// CompetitionStartedPayload fires exactly once per room, on activation.
type CompetitionStartedPayload struct {
	RoomID         string     `json:"roomId"`
	Question       string     `json:"question"`
	QuestionIndex  int        `json:"questionIndex"`
	TotalQuestions int        `json:"totalQuestions"`
	Users          []RoomUser `json:"users"`
}

// AnswerSubmittedPayload notifies the room of one participant's recorded score.
type AnswerSubmittedPayload struct {
	UserID        string                 `json:"userId"`
	Scores        models.ComponentScores `json:"scores"`
	CombinedScore int                    `json:"combinedScore"`
	TotalScore    int                    `json:"totalScore"`
}

// LeaderboardRefreshPayload is a signal only; clients re-request state.
type LeaderboardRefreshPayload struct {
	RoomID string `json:"roomId"`
}

// LeaderboardEntry is one ranked row of a leaderboard snapshot.
type LeaderboardEntry struct {
	UserID        string `json:"userId"`
	UserName      string `json:"userName"`
	TotalScore    int    `json:"totalScore"`
	Rank          int    `json:"rank"`
	Clarity       int    `json:"clarity"`
	Confidence    int    `json:"confidence"`
	Applicability int    `json:"applicability"`
}

// LeaderboardUpdatedPayload is a full replacement snapshot.
type LeaderboardUpdatedPayload struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

// CompetitionCompletedPayload carries the final, authoritative rankings.
type CompetitionCompletedPayload struct {
	Rankings []LeaderboardEntry `json:"rankings"`
}

// LeftRoomPayload confirms a voluntary leave to the leaving client.
type LeftRoomPayload struct {
	RoomID string `json:"roomId"`
}

// ErrorPayload is delivered only to the connection whose operation failed.
type ErrorPayload struct {
	Message string `json:"message"`
}

// RosterOf converts room participants to the broadcast roster shape.
func RosterOf(room *models.Room) []RoomUser {
	users := make([]RoomUser, 0, len(room.Users))
	for _, u := range room.Users {
		users = append(users, RoomUser{UserID: u.UserID, Name: u.Name})
	}
	return users
}
