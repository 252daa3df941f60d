package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prepdeck/arena/internal/models"
)

// PostgresStore persists rooms and submissions in Postgres via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	room_id      text PRIMARY KEY,
	status       text NOT NULL,
	users        jsonb NOT NULL DEFAULT '[]',
	questions    jsonb NOT NULL DEFAULT '[]',
	created_at   timestamptz NOT NULL,
	started_at   timestamptz,
	completed_at timestamptz
);

CREATE TABLE IF NOT EXISTS submissions (
	id            uuid PRIMARY KEY,
	room_id       text NOT NULL,
	user_id       text NOT NULL,
	user_name     text NOT NULL DEFAULT '',
	interview_id  text,
	clarity       int NOT NULL,
	confidence    int NOT NULL,
	applicability int NOT NULL,
	total_score   int NOT NULL,
	rank          int,
	seq           int NOT NULL,
	submitted_at  timestamptz NOT NULL,
	UNIQUE (room_id, user_id)
);

CREATE INDEX IF NOT EXISTS submissions_room_idx ON submissions (room_id);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveRoom upserts the room row, roster and questions included.
func (s *PostgresStore) SaveRoom(ctx context.Context, room *models.Room) error {
	users, err := json.Marshal(room.Users)
	if err != nil {
		return fmt.Errorf("failed to marshal room users: %w", err)
	}
	questions, err := json.Marshal(room.Questions)
	if err != nil {
		return fmt.Errorf("failed to marshal room questions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rooms (room_id, status, users, questions, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (room_id) DO UPDATE SET
			status = EXCLUDED.status,
			users = EXCLUDED.users,
			questions = EXCLUDED.questions,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		room.RoomID, room.Status, users, questions, room.CreatedAt, room.StartedAt, room.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// GetRoom loads one room by ID.
func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT room_id, status, users, questions, created_at, started_at, completed_at
		FROM rooms WHERE room_id = $1`, roomID)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// ListRoomsByUser returns every room whose roster contains userID, newest first.
func (s *PostgresStore) ListRoomsByUser(ctx context.Context, userID string) ([]*models.Room, error) {
	member, _ := json.Marshal([]map[string]string{{"userId": userID}})
	rows, err := s.pool.Query(ctx, `
		SELECT room_id, status, users, questions, created_at, started_at, completed_at
		FROM rooms WHERE users @> $1::jsonb ORDER BY created_at DESC`, member)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*models.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// CreateSubmission inserts one submission. The unique (room_id, user_id)
// constraint backs up the core's at-most-once invariant.
func (s *PostgresStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	var interviewID *string
	if sub.InterviewID != "" {
		interviewID = &sub.InterviewID
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO submissions
			(id, room_id, user_id, user_name, interview_id, clarity, confidence, applicability, total_score, seq, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		sub.ID, sub.RoomID, sub.UserID, sub.UserName, interviewID,
		sub.Scores.Clarity, sub.Scores.Confidence, sub.Scores.Applicability,
		sub.TotalScore, sub.Seq, sub.SubmittedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create submission: %w", err)
	}
	return nil
}

// ListSubmissions returns a room's submissions in submission order.
func (s *PostgresStore) ListSubmissions(ctx context.Context, roomID string) ([]*models.Submission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, user_id, user_name, interview_id, clarity, confidence, applicability, total_score, rank, seq, submitted_at
		FROM submissions WHERE room_id = $1 ORDER BY seq`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Submission
	for rows.Next() {
		var sub models.Submission
		var interviewID *string
		var rank *int
		if err := rows.Scan(&sub.ID, &sub.RoomID, &sub.UserID, &sub.UserName, &interviewID,
			&sub.Scores.Clarity, &sub.Scores.Confidence, &sub.Scores.Applicability,
			&sub.TotalScore, &rank, &sub.Seq, &sub.SubmittedAt); err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		if interviewID != nil {
			sub.InterviewID = *interviewID
		}
		if rank != nil {
			sub.Rank = *rank
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// UpdateRanks attaches final ranks to a room's submissions in one transaction.
func (s *PostgresStore) UpdateRanks(ctx context.Context, roomID string, ranks map[string]int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rank update: %w", err)
	}
	defer tx.Rollback(ctx)

	for userID, rank := range ranks {
		if _, err := tx.Exec(ctx,
			`UPDATE submissions SET rank = $1 WHERE room_id = $2 AND user_id = $3`,
			rank, roomID, userID); err != nil {
			return fmt.Errorf("failed to update rank: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// AbandonOpenRooms marks every waiting or active room abandoned. Used at boot:
// live state does not survive a restart.
func (s *PostgresStore) AbandonOpenRooms(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE rooms SET status = $1 WHERE status = ANY($2)`,
		models.RoomStatusAbandoned,
		[]string{string(models.RoomStatusWaiting), string(models.RoomStatusActive)})
	if err != nil {
		return 0, fmt.Errorf("failed to abandon open rooms: %w", err)
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var room models.Room
	var users, questions []byte
	if err := row.Scan(&room.RoomID, &room.Status, &users, &questions,
		&room.CreatedAt, &room.StartedAt, &room.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(users, &room.Users); err != nil {
		return nil, fmt.Errorf("corrupt users payload: %w", err)
	}
	if err := json.Unmarshal(questions, &room.Questions); err != nil {
		return nil, fmt.Errorf("corrupt questions payload: %w", err)
	}
	return &room, nil
}
