// Package plan defines the structured task plan produced by the planner.
package plan

import "fmt"

// Role scopes a task step to a capability subset.
type Role string

const (
	RoleReader   Role = "reader"
	RoleAnalyzer Role = "analyzer"
	RoleCoder    Role = "coder"
	RoleReporter Role = "reporter"
	RoleGeneral  Role = "general"
)

// validRoles enumerates all valid task roles.
var validRoles = map[Role]bool{
	RoleReader:   true,
	RoleAnalyzer: true,
	RoleCoder:    true,
	RoleReporter: true,
	RoleGeneral:  true,
}

// ParseRole normalizes a role string; unknown values fall back to general.
func ParseRole(s string) Role {
	r := Role(s)
	if validRoles[r] {
		return r
	}
	return RoleGeneral
}

// StepStatus represents the lifecycle state of an individual task step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepDone       StepStatus = "done"
	StepFailed     StepStatus = "failed"
)

// TaskStep is one unit of work in a plan. History is append-only: steps
// are never removed, only their status and result advance.
type TaskStep struct {
	ID           string     `json:"id"`
	Description  string     `json:"description"`
	Role         Role       `json:"role"`
	Capabilities []string   `json:"capabilities,omitempty"` // explicit capability hints
	DependsOn    []string   `json:"depends_on,omitempty"`   // advisory ordering metadata
	Status       StepStatus `json:"status"`
	Result       string     `json:"result,omitempty"`
}

// IsTerminal returns true if the step is in a final state.
func (s StepStatus) IsTerminal() bool {
	return s == StepDone || s == StepFailed
}

// DefaultMaxTasks caps the number of steps a plan may carry.
const DefaultMaxTasks = 6

// Plan is an ordered list of task steps toward one objective.
type Plan struct {
	Objective  string     `json:"objective"`
	Context    string     `json:"context,omitempty"`
	Tasks      []TaskStep `json:"tasks"`
	Replans    int        `json:"replans"`
	MaxReplans int        `json:"max_replans"`
}

// Fallback returns a single-task plan carrying the raw objective,
// used when the model's plan cannot be parsed.
func Fallback(objective string, maxReplans int) *Plan {
	return &Plan{
		Objective:  objective,
		MaxReplans: maxReplans,
		Tasks: []TaskStep{{
			ID:          "task-1",
			Description: objective,
			Role:        RoleGeneral,
			Status:      StepPending,
		}},
	}
}

// NextPending returns the first step that has not started yet, or nil.
func (p *Plan) NextPending() *TaskStep {
	for i := range p.Tasks {
		if p.Tasks[i].Status == StepPending {
			return &p.Tasks[i]
		}
	}
	return nil
}

// Swept reports whether every step has reached a terminal status.
func (p *Plan) Swept() bool {
	for i := range p.Tasks {
		if !p.Tasks[i].Status.IsTerminal() {
			return false
		}
	}
	return len(p.Tasks) > 0
}

// CanReplan reports whether the replan budget allows another revision.
func (p *Plan) CanReplan() bool {
	return p.Replans < p.MaxReplans
}

// MarkAllDone marks every non-terminal step done with the given summary.
func (p *Plan) MarkAllDone(summary string) {
	for i := range p.Tasks {
		if !p.Tasks[i].Status.IsTerminal() {
			p.Tasks[i].Status = StepDone
			if p.Tasks[i].Result == "" {
				p.Tasks[i].Result = summary
			}
		}
	}
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *TaskStep {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// normalizeIDs assigns sequential ids to steps with missing or duplicate ids.
func (p *Plan) normalizeIDs() {
	seen := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		id := p.Tasks[i].ID
		if id == "" || seen[id] {
			id = fmt.Sprintf("task-%d", i+1)
		}
		p.Tasks[i].ID = id
		seen[id] = true
	}
}
