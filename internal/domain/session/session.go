// Package session defines the AgentSession entity and its state machine.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steward-ai/steward/internal/domain/plan"
)

// Status represents the current state of an agent session.
type Status string

const (
	StatusRunning     Status = "running"
	StatusWaitingUser Status = "waiting_user"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// validTransitions encodes the session state machine:
// Running ⇄ WaitingUser → {Completed | Failed | Cancelled}.
var validTransitions = map[Status]map[Status]bool{
	StatusRunning: {
		StatusWaitingUser: true,
		StatusCompleted:   true,
		StatusFailed:      true,
		StatusCancelled:   true,
	},
	StatusWaitingUser: {
		StatusRunning:   true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// AgentSession represents one end-to-end handling of a user objective.
// Status is read from the admin API while the session goroutine mutates it,
// so access goes through the mutex-guarded methods.
type AgentSession struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Objective     string    `json:"objective"`
	MaxIterations int       `json:"max_iterations"`
	StartedAt     time.Time `json:"started_at"`

	mu         sync.Mutex
	status     Status
	iterations int

	// plan is the structured plan when planner mode succeeds;
	// markdownPlan holds the legacy checklist used by the reactive loop.
	// The session goroutine writes both while the admin API reads them,
	// so they stay behind the mutex like status.
	plan         *plan.Plan
	markdownPlan string
}

// New creates a session in the Running state.
func New(userID, objective string, maxIterations int) *AgentSession {
	return &AgentSession{
		ID:            uuid.NewString(),
		UserID:        userID,
		Objective:     objective,
		MaxIterations: maxIterations,
		StartedAt:     time.Now().UTC(),
		status:        StatusRunning,
	}
}

// Status returns the current status.
func (s *AgentSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Transition moves the session to the given status, enforcing the state
// machine. Transitions out of a terminal status are rejected.
func (s *AgentSession) Transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validTransitions[s.status][to] {
		return fmt.Errorf("invalid session transition %s -> %s", s.status, to)
	}
	s.status = to
	return nil
}

// IsTerminal reports whether the session has reached a final state.
func (s *AgentSession) IsTerminal() bool {
	switch s.Status() {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NextIteration increments the round counter and returns the new value.
func (s *AgentSession) NextIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations++
	return s.iterations
}

// Iterations returns the number of rounds completed so far.
func (s *AgentSession) Iterations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.iterations
}

// Plan returns the structured plan, or nil when none was produced.
func (s *AgentSession) Plan() *plan.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// SetPlan installs the structured plan.
func (s *AgentSession) SetPlan(p *plan.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = p
}

// MarkdownPlan returns the current markdown checklist.
func (s *AgentSession) MarkdownPlan() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markdownPlan
}

// SetMarkdownPlan replaces the markdown checklist.
func (s *AgentSession) SetMarkdownPlan(md string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markdownPlan = md
}
