package arena

import (
	"sync"

	"github.com/prepdeck/arena/internal/models"
)

// roomEntry is the serialization unit for one room. Every mutation of
// membership, status, or the submission set — and every read that feeds the
// completion check — happens under mu. Unrelated rooms never contend.
type roomEntry struct {
	mu          sync.Mutex
	room        *models.Room
	submissions map[string]*models.Submission // userID -> submission
	nextSeq     int                           // per-room submission order, tie-break authority
}

// registry is the authoritative in-memory map of open rooms. Entries for
// completed or abandoned rooms are removed; a later join with the same roomID
// starts a fresh room.
type registry struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

func newRegistry() *registry {
	return &registry{rooms: make(map[string]*roomEntry)}
}

// get returns the live entry for roomID, or nil.
func (r *registry) get(roomID string) *roomEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// getOrCreate returns the live entry for roomID, creating an empty one if
// absent. The entry's room is nil until the first join initializes it under
// the entry lock.
func (r *registry) getOrCreate(roomID string) *roomEntry {
	r.mu.RLock()
	e := r.rooms[roomID]
	r.mu.RUnlock()
	if e != nil {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e = r.rooms[roomID]; e == nil {
		e = &roomEntry{submissions: make(map[string]*models.Submission)}
		r.rooms[roomID] = e
	}
	return e
}

// remove drops the entry for roomID if it is still the same entry. Called
// when a room reaches a terminal state or its creation could not be persisted.
func (r *registry) remove(roomID string, e *roomEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] == e {
		delete(r.rooms, roomID)
	}
}

// snapshotLocked deep-copies the room for handing outside the entry lock.
func (e *roomEntry) snapshotLocked() *models.Room {
	if e.room == nil {
		return nil
	}
	cp := *e.room
	cp.Users = append([]models.Participant(nil), e.room.Users...)
	cp.Questions = append([]models.Question(nil), e.room.Questions...)
	return &cp
}

// submissionsLocked returns the submission set in no particular order;
// callers order it themselves (rankEntries sorts by score and seq).
func (e *roomEntry) submissionsLocked() []*models.Submission {
	subs := make([]*models.Submission, 0, len(e.submissions))
	for _, s := range e.submissions {
		subs = append(subs, s)
	}
	return subs
}
