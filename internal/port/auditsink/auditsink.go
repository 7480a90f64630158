// Package auditsink defines the persistence port for the audit trail.
package auditsink

import (
	"context"

	"github.com/steward-ai/steward/internal/domain/audit"
)

// Sink is an append-only store of audit entries, one JSON object per
// line. Append failures are surfaced but must not roll back the caller's
// in-memory chain pointer.
type Sink interface {
	// Append persists one sealed entry.
	Append(ctx context.Context, entry audit.Entry) error

	// Last returns the most recently persisted entry, or nil if the
	// sink is empty or its tail is unreadable.
	Last(ctx context.Context) (*audit.Entry, error)

	// ReadAll returns every persisted entry in append order.
	ReadAll(ctx context.Context) ([]audit.Entry, error)
}
