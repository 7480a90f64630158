package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/steward-ai/steward/internal/adapter/postgres"
	"github.com/steward-ai/steward/internal/config"
	"github.com/steward-ai/steward/internal/domain"
	"github.com/steward-ai/steward/internal/domain/session"
	"github.com/steward-ai/steward/internal/port/repository"
)

// setupStore creates a pgxpool connection, runs all migrations, and
// returns a ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	cfg := config.Defaults().Postgres
	cfg.DSN = dsn
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func testRecord(userID string) repository.SessionRecord {
	return repository.SessionRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Objective: "summarize the quarterly report",
		Status:    session.StatusRunning,
		StartedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestSessionLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	rec := testRecord("user-" + uuid.NewString())
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	got, err := store.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Objective != rec.Objective || got.Status != session.StatusRunning {
		t.Fatalf("got %+v", got)
	}
	if got.CompletedAt != nil {
		t.Fatal("CompletedAt should be nil for a running session")
	}

	if err := store.UpdateStatus(ctx, rec.ID, session.StatusCompleted, "all done"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	got, err = store.GetSession(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetSession after update: %v", err)
	}
	if got.Status != session.StatusCompleted || got.FinalReply != "all done" {
		t.Fatalf("got %+v after completion", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("CompletedAt should be set for a completed session")
	}
}

func TestUpdateStatusNotFound(t *testing.T) {
	store := setupStore(t)

	err := store.UpdateStatus(context.Background(), uuid.NewString(), session.StatusFailed, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListByUserOrdersNewestFirst(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	userID := "user-" + uuid.NewString()
	older := testRecord(userID)
	older.StartedAt = older.StartedAt.Add(-time.Hour)
	newer := testRecord(userID)
	for _, rec := range []repository.SessionRecord{older, newer} {
		if err := store.SaveSession(ctx, rec); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	records, err := store.ListByUser(ctx, userID, 10)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ID != newer.ID {
		t.Fatalf("newest session should come first, got %s", records[0].ID)
	}
}

func TestAppendAndListRounds(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	rec := testRecord("user-" + uuid.NewString())
	if err := store.SaveSession(ctx, rec); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	for round := 1; round <= 2; round++ {
		snap := repository.RoundSnapshot{
			SessionID: rec.ID,
			Round:     round,
			Messages: []repository.RoundMessage{
				{Role: "assistant", Content: "working on it"},
				{Role: "tool", Content: "file contents"},
			},
			CreatedAt: time.Now().UTC(),
		}
		if err := store.AppendRound(ctx, rec.UserID, rec.ID, snap); err != nil {
			t.Fatalf("AppendRound %d: %v", round, err)
		}
	}

	snapshots, err := store.ListRounds(ctx, rec.ID)
	if err != nil {
		t.Fatalf("ListRounds: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snapshots))
	}
	if snapshots[0].Round != 1 || snapshots[1].Round != 2 {
		t.Fatalf("rounds out of order: %d, %d", snapshots[0].Round, snapshots[1].Round)
	}
	if len(snapshots[0].Messages) != 2 || snapshots[0].Messages[0].Role != "assistant" {
		t.Fatalf("messages not preserved: %+v", snapshots[0].Messages)
	}
}
