package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/steward-ai/steward/internal/domain/audit"
	"github.com/steward-ai/steward/internal/domain/policy"
)

// memSink is an in-memory audit sink; failNext makes the next append fail.
type memSink struct {
	entries  []audit.Entry
	failNext bool
	lastErr  error
}

func (m *memSink) Append(_ context.Context, e audit.Entry) error {
	if m.failNext {
		m.failNext = false
		return errors.New("disk full")
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *memSink) Last(_ context.Context) (*audit.Entry, error) {
	if m.lastErr != nil {
		return nil, m.lastErr
	}
	if len(m.entries) == 0 {
		return nil, nil
	}
	e := m.entries[len(m.entries)-1]
	return &e, nil
}

func (m *memSink) ReadAll(_ context.Context) ([]audit.Entry, error) {
	return m.entries, nil
}

func allowDecision() policy.Decision {
	return policy.Decision{Action: policy.ActionAllow, Reason: "matched rule", RuleID: "r1"}
}

func TestRecordChainsEntries(t *testing.T) {
	sink := &memSink{}
	trail := NewAuditTrail(context.Background(), slog.Default(), sink)

	first := trail.Record(context.Background(), "read_file", map[string]any{"path": "/a"}, allowDecision(), "contents")
	second := trail.Record(context.Background(), "search", map[string]any{"q": "x"}, allowDecision(), "hits")

	if first.PrevHash != audit.ZeroHash {
		t.Fatalf("first PrevHash = %s, want zero sentinel", first.PrevHash)
	}
	if second.PrevHash != first.EntryHash {
		t.Fatalf("second PrevHash = %s, want %s", second.PrevHash, first.EntryHash)
	}
	if !first.Verify() || !second.Verify() {
		t.Fatal("entry hashes must be reproducible")
	}
	if err := trail.Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestChainAdvancesOnPersistFailure(t *testing.T) {
	sink := &memSink{failNext: true}
	trail := NewAuditTrail(context.Background(), slog.Default(), sink)

	dropped := trail.Record(context.Background(), "read_file", nil, allowDecision(), "")
	next := trail.Record(context.Background(), "search", nil, allowDecision(), "")

	if len(sink.entries) != 1 {
		t.Fatalf("got %d persisted entries, want 1", len(sink.entries))
	}
	// The in-memory chain still advanced past the dropped entry.
	if next.PrevHash != dropped.EntryHash {
		t.Fatalf("next PrevHash = %s, want %s", next.PrevHash, dropped.EntryHash)
	}
}

func TestTrailRecoversTail(t *testing.T) {
	sink := &memSink{}
	first := NewAuditTrail(context.Background(), slog.Default(), sink)
	tail := first.Record(context.Background(), "read_file", nil, allowDecision(), "")

	restarted := NewAuditTrail(context.Background(), slog.Default(), sink)
	next := restarted.Record(context.Background(), "search", nil, allowDecision(), "")

	if next.PrevHash != tail.EntryHash {
		t.Fatalf("recovered chain PrevHash = %s, want %s", next.PrevHash, tail.EntryHash)
	}
	if err := restarted.Verify(context.Background()); err != nil {
		t.Fatalf("Verify after restart: %v", err)
	}
}

func TestUnreadableTailStartsFreshChain(t *testing.T) {
	sink := &memSink{lastErr: errors.New("corrupt")}
	trail := NewAuditTrail(context.Background(), slog.Default(), sink)

	e := trail.Record(context.Background(), "read_file", nil, allowDecision(), "")
	if e.PrevHash != audit.ZeroHash {
		t.Fatalf("PrevHash = %s, want zero sentinel", e.PrevHash)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	sink := &memSink{}
	trail := NewAuditTrail(context.Background(), slog.Default(), sink)
	trail.Record(context.Background(), "read_file", nil, allowDecision(), "secret")
	trail.Record(context.Background(), "search", nil, allowDecision(), "")

	sink.entries[0].Result = "redacted"

	if err := trail.Verify(context.Background()); err == nil {
		t.Fatal("Verify should detect a modified entry")
	}
}
