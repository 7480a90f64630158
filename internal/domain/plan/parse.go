package plan

import (
	"encoding/json"
	"strings"
)

// ExtractJSON attempts to extract a JSON object from model text that may
// contain markdown fences or other surrounding prose. Contract: fenced
// JSON is unwrapped; otherwise the first-{ to last-} span is returned;
// failing both, the trimmed input comes back unchanged.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)

	// Strip markdown code fences
	if strings.HasPrefix(s, "```json") {
		s = strings.TrimPrefix(s, "```json")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s)
	}

	// Find first { and last }
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}

	return s
}

// planPayload is the wire shape the planner prompt asks the model for.
type planPayload struct {
	Context string        `json:"context"`
	Tasks   []taskPayload `json:"tasks"`
}

type taskPayload struct {
	ID           string   `json:"id"`
	Description  string   `json:"description"`
	Role         string   `json:"role"`
	Capabilities []string `json:"capabilities"`
	DependsOn    []string `json:"depends_on"`
}

// Parse builds a Plan from raw model text. Unparsable text or an empty
// task list yields the single-task fallback plan; the task list is capped
// at maxTasks with excess dropped.
func Parse(text, objective string, maxTasks, maxReplans int) *Plan {
	if maxTasks <= 0 {
		maxTasks = DefaultMaxTasks
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &payload); err != nil {
		return Fallback(objective, maxReplans)
	}
	if len(payload.Tasks) == 0 {
		return Fallback(objective, maxReplans)
	}
	if len(payload.Tasks) > maxTasks {
		payload.Tasks = payload.Tasks[:maxTasks]
	}

	p := &Plan{
		Objective:  objective,
		Context:    payload.Context,
		MaxReplans: maxReplans,
		Tasks:      make([]TaskStep, 0, len(payload.Tasks)),
	}
	for _, t := range payload.Tasks {
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			continue
		}
		p.Tasks = append(p.Tasks, TaskStep{
			ID:           t.ID,
			Description:  desc,
			Role:         ParseRole(t.Role),
			Capabilities: t.Capabilities,
			DependsOn:    t.DependsOn,
			Status:       StepPending,
		})
	}
	if len(p.Tasks) == 0 {
		return Fallback(objective, maxReplans)
	}
	p.normalizeIDs()
	return p
}
