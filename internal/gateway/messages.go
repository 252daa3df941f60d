package gateway

import (
	"github.com/prepdeck/arena/internal/models"
)

// Inbound payloads. The gateway validates the claimed userId against the
// connection's verified identity before any of these reach the core.

// JoinRoomPayload is the client's join-room request.
type JoinRoomPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	RoomID   string `json:"roomId"`
}

// SubmitAnswerPayload is the client's submit-answer request. Question and
// answer text ride along for the record; scoring happened upstream.
type SubmitAnswerPayload struct {
	RoomID      string                 `json:"roomId"`
	UserID      string                 `json:"userId"`
	Question    string                 `json:"question"`
	Answer      string                 `json:"answer"`
	Scores      models.ComponentScores `json:"scores"`
	InterviewID string                 `json:"interviewId,omitempty"`
}

// GetLeaderboardPayload requests the current full snapshot.
type GetLeaderboardPayload struct {
	RoomID string `json:"roomId"`
}

// LeaveRoomPayload is the client's voluntary leave.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}
