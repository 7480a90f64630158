package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/steward-ai/steward/internal/domain/plan"
	"github.com/steward-ai/steward/internal/port/chat"
)

const planSystemPrompt = `You are a planning assistant. Decompose the user's objective into a short ordered task list.
Respond with a single JSON object:
{"context": "<one-line situation summary>", "tasks": [{"description": "...", "role": "reader|analyzer|coder|reporter|general", "capabilities": ["optional capability names"], "depends_on": ["optional task ids"]}]}
Use at most %d tasks. No prose outside the JSON.`

const replanSystemPrompt = `You are reviewing an in-flight task plan. Given the objective, completed and failed tasks, and the remaining tasks, answer with a single JSON object:
{"verdict": "done"} with "summary" when the objective is already satisfied;
{"verdict": "continue"} when the remaining tasks should run as-is;
{"verdict": "replan", "tasks": [...]} with a replacement task list (same shape as planning) when the remaining tasks no longer fit.
No prose outside the JSON.`

const synthesizeSystemPrompt = `You are writing the final reply to the user. Summarize what was done and the results, concisely and in plain language. Do not mention internal task ids.`

// Planner produces, revises and summarizes structured task plans.
// Every model failure degrades softly: a fallback plan, an unchanged
// plan, or a mechanical digest — never an error to the session.
type Planner struct {
	log        *slog.Logger
	maxTasks   int
	maxReplans int
}

// NewPlanner creates a planner with the given plan-size and replan caps.
func NewPlanner(log *slog.Logger, maxTasks, maxReplans int) *Planner {
	if maxTasks <= 0 {
		maxTasks = plan.DefaultMaxTasks
	}
	return &Planner{log: log, maxTasks: maxTasks, maxReplans: maxReplans}
}

// CreatePlan asks the model to decompose the objective. Unparsable
// output yields the single-task fallback plan.
func (p *Planner) CreatePlan(ctx context.Context, client chat.Client, objective, contextInfo string) *plan.Plan {
	user := "Objective: " + objective
	if contextInfo != "" {
		user += "\nContext: " + contextInfo
	}
	msgs := []chat.Message{
		chat.SystemMessage(fmt.Sprintf(planSystemPrompt, p.maxTasks)),
		chat.UserMessage(user),
	}

	reply, err := client.Send(ctx, msgs, nil)
	if err != nil {
		p.log.Warn("plan creation failed, using fallback plan", "error", err)
		return plan.Fallback(objective, p.maxReplans)
	}

	pl := plan.Parse(reply.Text, objective, p.maxTasks, p.maxReplans)
	p.log.Info("plan created", "tasks", len(pl.Tasks))
	return pl
}

// replanPayload is the wire shape of the replan verdict.
type replanPayload struct {
	Verdict string          `json:"verdict"`
	Summary string          `json:"summary"`
	Tasks   json.RawMessage `json:"tasks"`
}

// Replan reviews a fully swept plan. It returns a replacement plan, or
// nil when the current plan stands (verdict done/continue, exhausted
// replan budget, or any failure).
func (p *Planner) Replan(ctx context.Context, client chat.Client, pl *plan.Plan) *plan.Plan {
	if !pl.CanReplan() {
		p.log.Info("replan budget exhausted", "replans", pl.Replans)
		return nil
	}

	msgs := []chat.Message{
		chat.SystemMessage(replanSystemPrompt),
		chat.UserMessage(reviewDigest(pl)),
	}
	reply, err := client.Send(ctx, msgs, nil)
	if err != nil {
		p.log.Warn("replan failed, continuing with current plan", "error", err)
		return nil
	}

	var payload replanPayload
	if err := json.Unmarshal([]byte(plan.ExtractJSON(reply.Text)), &payload); err != nil {
		p.log.Warn("replan verdict unparsable, continuing", "error", err)
		return nil
	}

	switch payload.Verdict {
	case "done":
		pl.MarkAllDone(payload.Summary)
		return nil
	case "replan":
		wrapped := fmt.Sprintf(`{"tasks": %s}`, string(payload.Tasks))
		next := plan.Parse(wrapped, pl.Objective, p.maxTasks, p.maxReplans)
		next.Context = pl.Context
		next.Replans = pl.Replans + 1
		p.log.Info("plan revised", "tasks", len(next.Tasks), "replans", next.Replans)
		return next
	default: // "continue" and anything unexpected
		return nil
	}
}

// Synthesize asks the model for a final user-facing summary of the plan's
// results, falling back to a mechanical digest on failure.
func (p *Planner) Synthesize(ctx context.Context, client chat.Client, pl *plan.Plan) string {
	msgs := []chat.Message{
		chat.SystemMessage(synthesizeSystemPrompt),
		chat.UserMessage(resultDigest(pl)),
	}
	reply, err := client.Send(ctx, msgs, nil)
	if err != nil || strings.TrimSpace(reply.Text) == "" {
		p.log.Warn("synthesis failed, using mechanical digest", "error", err)
		return mechanicalSummary(pl)
	}
	return reply.Text
}

// reviewDigest renders the plan state for the replan review.
func reviewDigest(pl *plan.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n", pl.Objective)
	for i := range pl.Tasks {
		t := &pl.Tasks[i]
		fmt.Fprintf(&b, "- [%s] %s (%s)", t.Status, t.Description, t.ID)
		if t.Result != "" {
			fmt.Fprintf(&b, ": %s", truncate(t.Result, 200))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// resultDigest renders per-task results for synthesis.
func resultDigest(pl *plan.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n\nTask results:\n", pl.Objective)
	for i := range pl.Tasks {
		t := &pl.Tasks[i]
		fmt.Fprintf(&b, "%d. %s [%s]\n%s\n\n", i+1, t.Description, t.Status, truncate(t.Result, 500))
	}
	return b.String()
}

// mechanicalSummary concatenates per-task results when the model cannot.
func mechanicalSummary(pl *plan.Plan) string {
	var parts []string
	for i := range pl.Tasks {
		t := &pl.Tasks[i]
		if t.Result != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", t.Description, t.Result))
		}
	}
	if len(parts) == 0 {
		return "No results were produced for: " + pl.Objective
	}
	return strings.Join(parts, "\n\n")
}

// truncate shortens s to max runes with an ellipsis.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
