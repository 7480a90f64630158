package nats

import (
	"context"
	"fmt"

	"github.com/steward-ai/steward/internal/port/notifier"
)

// activeConn is set by UseForNotifier so the registered factory can hand
// out notifiers bound to the live connection.
var activeConn *Conn

func init() {
	notifier.Register("nats", func(_ map[string]string) (notifier.Notifier, error) {
		if activeConn == nil {
			return nil, notifier.ErrNotConfigured
		}
		return &Notifier{conn: activeConn}, nil
	})
}

// UseForNotifier binds the factory-registered "nats" notifier to conn.
func UseForNotifier(conn *Conn) {
	activeConn = conn
}

// Notifier delivers user notifications over steward.notify.<user>.
type Notifier struct {
	conn *Conn
}

// Name implements notifier.Notifier.
func (n *Notifier) Name() string { return "nats" }

// Send publishes one message to the user's notify subject.
func (n *Notifier) Send(ctx context.Context, userID, text string) error {
	subject := notifyPrefix + userID
	if _, err := n.conn.js.Publish(ctx, subject, []byte(text)); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}
