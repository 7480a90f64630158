// Package service implements the orchestration core: session lifecycle,
// planning, worker dispatch, tool execution, policy enforcement, audit
// logging and human-in-the-loop escalation.
package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/steward-ai/steward/internal/port/notifier"
)

// TimeoutReply is the synthetic answer produced when an approval request
// expires without a human response.
const TimeoutReply = "TIMEOUT: proceed with the safest option"

// HITLBroker suspends a session until a human answers, keyed by user id.
// A second concurrent request for the same user orphans the first wait.
type HITLBroker struct {
	log     *slog.Logger
	timeout time.Duration
	waits   sync.Map // userID -> chan string (buffer 1)
}

// NewHITLBroker creates a broker with the given approval timeout.
func NewHITLBroker(log *slog.Logger, timeout time.Duration) *HITLBroker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HITLBroker{log: log, timeout: timeout}
}

// RequestApproval registers a fresh wait for the user, sends the question
// through the notifier and blocks until Resolve wakes it, the timeout
// elapses (yielding TimeoutReply) or ctx is cancelled. The wait entry is
// removed on every outcome.
func (b *HITLBroker) RequestApproval(ctx context.Context, userID, question string, n notifier.Notifier) (string, error) {
	ch := make(chan string, 1)
	b.waits.Store(userID, ch)
	defer b.waits.CompareAndDelete(userID, ch)

	if n != nil {
		if err := n.Send(ctx, userID, question); err != nil {
			b.log.Warn("hitl notification failed", "user_id", userID, "error", err)
		}
	}

	b.log.Info("hitl approval requested", "user_id", userID, "timeout", b.timeout)

	select {
	case text := <-ch:
		return text, nil
	case <-time.After(b.timeout):
		b.log.Warn("hitl approval timed out", "user_id", userID)
		return TimeoutReply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Resolve delivers a human answer to the user's pending wait. Returns
// false when no wait is active, letting the message-intake path treat
// the inbound text as a normal chat message instead.
func (b *HITLBroker) Resolve(userID, text string) bool {
	val, ok := b.waits.LoadAndDelete(userID)
	if !ok {
		return false
	}
	ch, _ := val.(chan string)
	if ch == nil {
		return false
	}
	select {
	case ch <- text:
		return true
	default:
		return false
	}
}

// Approved interprets a human (or timeout) answer as an approval verdict.
// The timeout reply counts as a refusal: the safest option is not to act.
func Approved(answer string) bool {
	s := strings.ToLower(strings.TrimSpace(answer))
	switch {
	case strings.HasPrefix(s, "yes"), strings.HasPrefix(s, "approve"),
		strings.HasPrefix(s, "allow"), strings.HasPrefix(s, "ok"):
		return true
	}
	return false
}
