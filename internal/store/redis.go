package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/prepdeck/arena/internal/models"
)

// RedisStore persists rooms and submissions in Redis. Same contract as the
// Postgres store; chosen by configuration for deployments without Postgres
// and used by the unit tests through miniredis.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func keyRoom(roomID string) string      { return "room:" + roomID }
func keySubs(roomID string) string      { return keyRoom(roomID) + ":subs" }
func keyUserRooms(userID string) string { return "user:" + userID + ":rooms" }

const keyOpenRooms = "rooms:open"

// SaveRoom writes the full room record and maintains the open-room and
// per-user indexes.
func (s *RedisStore) SaveRoom(ctx context.Context, room *models.Room) error {
	raw, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	if err := s.rdb.Set(ctx, keyRoom(room.RoomID), raw, 0).Err(); err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}

	if room.Status.Open() {
		if err := s.rdb.SAdd(ctx, keyOpenRooms, room.RoomID).Err(); err != nil {
			return fmt.Errorf("failed to index open room: %w", err)
		}
	} else {
		if err := s.rdb.SRem(ctx, keyOpenRooms, room.RoomID).Err(); err != nil {
			return fmt.Errorf("failed to unindex open room: %w", err)
		}
	}

	score := float64(room.CreatedAt.UnixMilli())
	for _, u := range room.Users {
		if err := s.rdb.ZAdd(ctx, keyUserRooms(u.UserID), redis.Z{Score: score, Member: room.RoomID}).Err(); err != nil {
			return fmt.Errorf("failed to index user room: %w", err)
		}
	}
	return nil
}

// GetRoom loads one room by ID.
func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	raw, err := s.rdb.Get(ctx, keyRoom(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	var room models.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("corrupt room payload: %w", err)
	}
	return &room, nil
}

// ListRoomsByUser returns the user's rooms, newest first.
func (s *RedisStore) ListRoomsByUser(ctx context.Context, userID string) ([]*models.Room, error) {
	ids, err := s.rdb.ZRevRange(ctx, keyUserRooms(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list user rooms: %w", err)
	}

	var rooms []*models.Room
	for _, id := range ids {
		room, err := s.GetRoom(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

// CreateSubmission inserts one submission; HSetNX backs up the at-most-once
// invariant per (room, user).
func (s *RedisStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	raw, err := json.Marshal(withSeq(sub))
	if err != nil {
		return fmt.Errorf("failed to marshal submission: %w", err)
	}
	set, err := s.rdb.HSetNX(ctx, keySubs(sub.RoomID), sub.UserID, raw).Result()
	if err != nil {
		return fmt.Errorf("failed to create submission: %w", err)
	}
	if !set {
		return ErrDuplicate
	}
	return nil
}

// ListSubmissions returns a room's submissions in submission order.
func (s *RedisStore) ListSubmissions(ctx context.Context, roomID string) ([]*models.Submission, error) {
	raws, err := s.rdb.HGetAll(ctx, keySubs(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}

	subs := make([]*models.Submission, 0, len(raws))
	for _, raw := range raws {
		var sr storedSubmission
		if err := json.Unmarshal([]byte(raw), &sr); err != nil {
			return nil, fmt.Errorf("corrupt submission payload: %w", err)
		}
		sub := sr.Submission
		sub.Seq = sr.Seq
		subs = append(subs, &sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Seq < subs[j].Seq })
	return subs, nil
}

// UpdateRanks attaches final ranks to a room's submissions.
func (s *RedisStore) UpdateRanks(ctx context.Context, roomID string, ranks map[string]int) error {
	subs, err := s.ListSubmissions(ctx, roomID)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		rank, ok := ranks[sub.UserID]
		if !ok {
			continue
		}
		sub.Rank = rank
		raw, err := json.Marshal(withSeq(sub))
		if err != nil {
			return fmt.Errorf("failed to marshal submission: %w", err)
		}
		if err := s.rdb.HSet(ctx, keySubs(roomID), sub.UserID, raw).Err(); err != nil {
			return fmt.Errorf("failed to update rank: %w", err)
		}
	}
	return nil
}

// AbandonOpenRooms marks every indexed open room abandoned.
func (s *RedisStore) AbandonOpenRooms(ctx context.Context) (int64, error) {
	ids, err := s.rdb.SMembers(ctx, keyOpenRooms).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list open rooms: %w", err)
	}

	var n int64
	for _, id := range ids {
		room, err := s.GetRoom(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.rdb.SRem(ctx, keyOpenRooms, id)
			continue
		}
		if err != nil {
			return n, err
		}
		room.Status = models.RoomStatusAbandoned
		if err := s.SaveRoom(ctx, room); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// storedSubmission re-exposes the in-memory-only Seq field for persistence,
// since tie-break order must survive recovery.
type storedSubmission struct {
	models.Submission
	Seq int `json:"seq"`
}

func withSeq(sub *models.Submission) storedSubmission {
	return storedSubmission{Submission: *sub, Seq: sub.Seq}
}
