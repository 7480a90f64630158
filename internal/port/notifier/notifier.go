// Package notifier defines the notification port used to reach users
// outside the session's own reply channel (HITL questions, warnings).
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Notifier delivers a text message to one user. Delivery is best-effort;
// callers must never fail a session on a notifier error.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "nats", "log").
	Name() string

	// Send delivers a message to the given user.
	Send(ctx context.Context, userID, text string) error
}
