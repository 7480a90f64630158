// Package broadcast defines the port for pushing real-time session events
// to connected observers.
package broadcast

import "context"

// Event type constants published by the session services. Clients use
// these to route frames; payload shapes are documented per type.
const (
	// EventSessionStarted carries {session_id, user_id}.
	EventSessionStarted = "session.started"
	// EventSessionFinished carries {session_id, user_id, status}.
	EventSessionFinished = "session.finished"
	// EventTaskFinished carries {session_id, task_id, status}.
	EventTaskFinished = "task.finished"
	// EventToolCall carries {tool, decision, reason}.
	EventToolCall = "tool.call"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}
