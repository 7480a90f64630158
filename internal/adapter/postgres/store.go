package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steward-ai/steward/internal/domain"
	"github.com/steward-ai/steward/internal/domain/session"
	"github.com/steward-ai/steward/internal/port/repository"
)

// Store implements repository.SessionRepository using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

func (s *Store) SaveSession(ctx context.Context, rec repository.SessionRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, objective, status, final_reply, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, rec.Objective, string(rec.Status), rec.FinalReply, rec.StartedAt, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, sessionID string, status session.Status, finalReply string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, final_reply = $3,
		 completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END,
		 updated_at = now()
		 WHERE id = $1`,
		sessionID, string(status), finalReply)
	if err != nil {
		return fmt.Errorf("update session status %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update session status %s: %w", sessionID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*repository.SessionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, objective, status, final_reply, started_at, completed_at
		 FROM sessions WHERE id = $1`, sessionID)

	rec, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get session %s: %w", sessionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]repository.SessionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, objective, status, final_reply, started_at, completed_at
		 FROM sessions WHERE user_id = $1 ORDER BY started_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var records []repository.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) AppendRound(ctx context.Context, userID, sessionID string, round repository.RoundSnapshot) error {
	messagesJSON, err := json.Marshal(round.Messages)
	if err != nil {
		return fmt.Errorf("marshal round messages: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO session_rounds (session_id, user_id, round, messages, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		sessionID, userID, round.Round, messagesJSON, round.CreatedAt)
	if err != nil {
		return fmt.Errorf("append round %d for session %s: %w", round.Round, sessionID, err)
	}
	return nil
}

// ListRounds returns the persisted round snapshots for a session in order.
func (s *Store) ListRounds(ctx context.Context, sessionID string) ([]repository.RoundSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, round, messages, created_at
		 FROM session_rounds WHERE session_id = $1 ORDER BY round ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()

	var snapshots []repository.RoundSnapshot
	for rows.Next() {
		var snap repository.RoundSnapshot
		var messagesJSON []byte
		if err := rows.Scan(&snap.SessionID, &snap.Round, &messagesJSON, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		if err := json.Unmarshal(messagesJSON, &snap.Messages); err != nil {
			return nil, fmt.Errorf("unmarshal round messages: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

func scanSession(row scannable) (repository.SessionRecord, error) {
	var rec repository.SessionRecord
	var status string
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Objective, &status, &rec.FinalReply, &rec.StartedAt, &rec.CompletedAt)
	rec.Status = session.Status(status)
	return rec, err
}
