package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/steward-ai/steward/internal/domain/capability"
	"github.com/steward-ai/steward/internal/domain/plan"
	"github.com/steward-ai/steward/internal/port/chat"
)

// rolePrompts are the fixed system-prompt templates per task role.
var rolePrompts = map[plan.Role]string{
	plan.RoleReader:   "You are a careful reader. Gather the requested information using your capabilities and report it faithfully. Do not modify anything.",
	plan.RoleAnalyzer: "You are an analyst. Examine the available information, draw conclusions and explain your reasoning briefly.",
	plan.RoleCoder:    "You are an implementer. Make the requested changes using your capabilities, verifying your work where possible.",
	plan.RoleReporter: "You are a reporter. Compose clear, well-structured output from the information gathered so far.",
	plan.RoleGeneral:  "You are a capable assistant. Complete the task using the capabilities offered.",
}

// roleCategories is the static role to capability-category table.
// A nil entry means every category is allowed.
var roleCategories = map[plan.Role][]string{
	plan.RoleReader:   {"read", "search"},
	plan.RoleAnalyzer: {"read", "search", "analysis"},
	plan.RoleCoder:    {"read", "write", "system"},
	plan.RoleReporter: {"read", "report"},
	plan.RoleGeneral:  nil,
}

// Worker executes one task step through the tool loop with a role-scoped
// capability subset.
type Worker struct {
	log      *slog.Logger
	loop     *ToolLoop
	maxTools int
}

// NewWorker creates a dispatcher capping each task at maxTools offered
// capabilities.
func NewWorker(log *slog.Logger, loop *ToolLoop, maxTools int) *Worker {
	if maxTools <= 0 {
		maxTools = 8
	}
	return &Worker{log: log, loop: loop, maxTools: maxTools}
}

// Dispatch runs one task step to completion, updating its status and
// result in place. Side effects are confined to invoked capabilities.
func (w *Worker) Dispatch(ctx context.Context, task *plan.TaskStep, objective string, client chat.Client, reg *capability.Registry, st *LoopState, hitl HITLCallback) (string, error) {
	task.Status = plan.StepInProgress
	offered := w.resolveCapabilities(reg, task)

	w.log.Info("dispatching task",
		"task_id", task.ID,
		"role", task.Role,
		"capabilities", len(offered),
	)

	msgs := []chat.Message{
		chat.SystemMessage(fmt.Sprintf("%s\n\nOverall objective: %s", rolePrompts[task.Role], objective)),
		chat.UserMessage(task.Description),
	}

	text, _, err := w.loop.Run(ctx, client, msgs, reg, offered, st, hitl)
	if err != nil {
		task.Status = plan.StepFailed
		task.Result = fmt.Sprintf("task failed: %v", err)
		return "", fmt.Errorf("dispatch task %s: %w", task.ID, err)
	}

	task.Status = plan.StepDone
	task.Result = text
	return text, nil
}

// resolveCapabilities picks the capability subset for one task: explicit
// hints first (deduped, unknown names skipped), remaining budget filled
// from the role's categories. No re-classification happens downstream.
func (w *Worker) resolveCapabilities(reg *capability.Registry, task *plan.TaskStep) []capability.Descriptor {
	seen := make(map[string]bool)
	var offered []capability.Descriptor

	for _, name := range task.Capabilities {
		if seen[name] || len(offered) >= w.maxTools {
			continue
		}
		if d, ok := reg.Get(name); ok {
			offered = append(offered, d)
			seen[name] = true
		}
	}

	var pool []capability.Descriptor
	if cats := roleCategories[task.Role]; cats == nil {
		pool = reg.List()
	} else {
		pool = reg.ByGroups(cats...)
	}
	for _, d := range pool {
		if len(offered) >= w.maxTools {
			break
		}
		if !seen[d.Name] {
			offered = append(offered, d)
			seen[d.Name] = true
		}
	}
	return offered
}
