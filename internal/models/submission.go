package models

import (
	"time"

	"github.com/google/uuid"
)

// ComponentScores are the three externally scored answer dimensions, each in
// [0,100]. Scoring itself is a collaborator; the coordinator only validates.
type ComponentScores struct {
	Clarity       int `json:"clarity"`
	Confidence    int `json:"confidence"`
	Applicability int `json:"applicability"`
}

// Submission is one participant's single recorded scored answer for a room.
// At most one exists per (RoomID, UserID). Rank is attached once, when the
// room completes; nothing else is ever mutated after creation.
type Submission struct {
	ID          uuid.UUID       `json:"id"`
	RoomID      string          `json:"roomId"`
	UserID      string          `json:"userId"`
	UserName    string          `json:"userName"`
	InterviewID string          `json:"interviewId,omitempty"`
	Scores      ComponentScores `json:"scores"`
	TotalScore  int             `json:"totalScore"`
	Rank        int             `json:"rank,omitempty"`
	Seq         int             `json:"-"`
	SubmittedAt time.Time       `json:"submittedAt"`
}
