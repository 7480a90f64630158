package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/steward-ai/steward/internal/domain/audit"
	"github.com/steward-ai/steward/internal/domain/policy"
	"github.com/steward-ai/steward/internal/port/auditsink"
)

// AuditTrail appends hash-chained entries to a sink. The chain demands a
// single linear append order, so all writes serialize on one mutex even
// across concurrent sessions.
type AuditTrail struct {
	log  *slog.Logger
	sink auditsink.Sink

	mu       sync.Mutex
	prevHash string
}

// NewAuditTrail creates a trail, recovering the chain tail from the last
// persisted entry. An empty or unreadable sink starts a fresh chain at
// the zero sentinel.
func NewAuditTrail(ctx context.Context, log *slog.Logger, sink auditsink.Sink) *AuditTrail {
	t := &AuditTrail{log: log, sink: sink, prevHash: audit.ZeroHash}

	last, err := sink.Last(ctx)
	switch {
	case err != nil:
		log.Warn("audit tail unreadable, starting fresh chain", "error", err)
	case last != nil:
		t.prevHash = last.EntryHash
		log.Info("audit chain recovered", "tail_hash", last.EntryHash)
	}
	return t
}

// Record seals one entry onto the chain and persists it. The in-memory
// chain pointer advances even when persistence fails; callers may rely
// only on the returned entry's hash being reproducible from its fields.
func (t *AuditTrail) Record(ctx context.Context, tool string, args map[string]any, decision policy.Decision, result string) audit.Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := audit.Entry{
		Timestamp: time.Now().UTC(),
		Tool:      tool,
		Arguments: args,
		Decision:  string(decision.Action),
		Reason:    decision.Reason,
		Result:    result,
		PrevHash:  t.prevHash,
	}
	e.Seal()
	t.prevHash = e.EntryHash

	if err := t.sink.Append(ctx, e); err != nil {
		t.log.Error("audit append failed", "tool", tool, "error", err)
	}
	return e
}

// Verify replays the persisted log and checks the chain invariant.
func (t *AuditTrail) Verify(ctx context.Context) error {
	entries, err := t.sink.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	if err := audit.VerifyChain(entries); err != nil {
		return fmt.Errorf("audit chain broken: %w", err)
	}
	return nil
}
