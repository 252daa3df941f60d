package models

import "time"

// RoomStatus represents the lifecycle state of a competition room
type RoomStatus string

const (
	RoomStatusWaiting   RoomStatus = "waiting"
	RoomStatusActive    RoomStatus = "active"
	RoomStatusCompleted RoomStatus = "completed"
	RoomStatusAbandoned RoomStatus = "abandoned"
)

// MaxRoomUsers is the participant capacity of a room, fixed by contract.
const MaxRoomUsers = 4

// Participant is an authenticated identity bound to a room. ConnectionID is a
// non-owning routing reference; it is empty while the user has no live
// connection and is never used for identity.
type Participant struct {
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	ConnectionID string `json:"-"`
}

// Question is one interview question with its position in the room's set.
type Question struct {
	Question string `json:"question"`
	Order    int    `json:"order"`
}

// Room is a bounded coordination unit for one competition instance.
// Participant order is join order. Status transitions are monotonic.
type Room struct {
	RoomID      string        `json:"roomId"`
	Users       []Participant `json:"users"`
	Status      RoomStatus    `json:"status"`
	Questions   []Question    `json:"questions"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// HasUser reports whether userID is a current participant.
func (r *Room) HasUser(userID string) bool {
	for _, u := range r.Users {
		if u.UserID == userID {
			return true
		}
	}
	return false
}

// Open reports whether the room still admits live operations.
func (s RoomStatus) Open() bool {
	return s == RoomStatusWaiting || s == RoomStatusActive
}

// Terminal reports whether no further transition is allowed out of s.
func (s RoomStatus) Terminal() bool {
	return s == RoomStatusCompleted || s == RoomStatusAbandoned
}
