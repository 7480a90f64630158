// Package repository defines the persistence port for session history.
// All writes are best-effort from the orchestrator's point of view: a
// failed append is logged, never a session failure.
package repository

import (
	"context"
	"time"

	"github.com/steward-ai/steward/internal/domain/session"
)

// RoundMessage is the persisted shape of one conversation message:
// role plus truncated content, enough to replay what happened without
// storing full transcripts.
type RoundMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RoundSnapshot captures one round of a session.
type RoundSnapshot struct {
	SessionID string         `json:"session_id"`
	Round     int            `json:"round"`
	Messages  []RoundMessage `json:"messages"`
	CreatedAt time.Time      `json:"created_at"`
}

// SessionRecord is the persisted projection of a session.
type SessionRecord struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Objective     string         `json:"objective"`
	Status        session.Status `json:"status"`
	FinalReply    string         `json:"final_reply,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// SessionRepository persists sessions and their round snapshots.
type SessionRepository interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	UpdateStatus(ctx context.Context, sessionID string, status session.Status, finalReply string) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]SessionRecord, error)
	AppendRound(ctx context.Context, userID, sessionID string, round RoundSnapshot) error
}
