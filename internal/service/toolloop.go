package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/steward-ai/steward/internal/domain"
	"github.com/steward-ai/steward/internal/domain/capability"
	"github.com/steward-ai/steward/internal/domain/policy"
	"github.com/steward-ai/steward/internal/domain/session"
	"github.com/steward-ai/steward/internal/port/broadcast"
	"github.com/steward-ai/steward/internal/port/chat"
)

// HITLCallback asks a human whether a flagged invocation may proceed.
// Returning false behaves exactly like a policy block.
type HITLCallback func(ctx context.Context, name string, args map[string]any, reason string) bool

// LoopState carries per-session state shared by every tool-loop run in
// that session: the loop tracker and which capability groups have had
// their usage instructions injected.
type LoopState struct {
	Tracker    *session.LoopTracker
	seenGroups map[string]bool
}

// NewLoopState creates the per-session loop state.
func NewLoopState(tracker *session.LoopTracker) *LoopState {
	return &LoopState{Tracker: tracker, seenGroups: make(map[string]bool)}
}

// ToolLoop runs bounded rounds of "ask model, maybe invoke capabilities,
// feed results back", enforcing policy and audit on every invocation.
type ToolLoop struct {
	log       *slog.Logger
	policy    *PolicyService
	audit     *AuditTrail
	bcast     broadcast.Broadcaster
	maxRounds int
}

// NewToolLoop wires the execution loop. bcast may be nil.
func NewToolLoop(log *slog.Logger, policySvc *PolicyService, trail *AuditTrail, bcast broadcast.Broadcaster, maxRounds int) *ToolLoop {
	if maxRounds <= 0 {
		maxRounds = 5
	}
	return &ToolLoop{log: log, policy: policySvc, audit: trail, bcast: bcast, maxRounds: maxRounds}
}

// Run executes rounds until the model answers without invocations or the
// round budget runs out, in which case one final call with no
// capabilities offered guarantees termination with text. The returned
// message slice is the full running history including tool results.
//
// A fatal loop verdict surfaces as domain.ErrLoopDetected; chat-client
// errors propagate for the caller to classify.
func (l *ToolLoop) Run(ctx context.Context, client chat.Client, msgs []chat.Message, reg *capability.Registry, offered []capability.Descriptor, st *LoopState, hitl HITLCallback) (string, []chat.Message, error) {
	for round := 0; round < l.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return "", msgs, err
		}

		reply, err := client.Send(ctx, msgs, offered)
		if err != nil {
			return "", msgs, fmt.Errorf("chat client: %w", err)
		}
		if len(reply.Invocations) == 0 {
			return reply.Text, msgs, nil
		}

		msgs = append(msgs, chat.Message{
			Role:      chat.RoleAssistant,
			Content:   reply.Text,
			ToolCalls: reply.Invocations,
		})

		for _, inv := range reply.Invocations {
			result := l.executeOne(ctx, reg, inv, hitl)

			// Inject the group's usage instructions once per session,
			// before its first result.
			if d, ok := reg.Get(inv.Name); ok && !st.seenGroups[d.Group] {
				st.seenGroups[d.Group] = true
				if instr := reg.GroupInstructions(d.Group); instr != "" {
					msgs = append(msgs, chat.SystemMessage(instr))
				}
			}
			msgs = append(msgs, chat.ToolResult(inv.ID, result))
			st.Tracker.Record(inv.Name, inv.Arguments)
		}

		verdict, detail := st.Tracker.Check()
		switch verdict {
		case session.VerdictFatal:
			return "", msgs, fmt.Errorf("%s: %w", detail, domain.ErrLoopDetected)
		case session.VerdictWarn:
			l.log.Warn("loop pattern detected", "detail", detail)
			msgs = append(msgs, chat.SystemMessage(
				"WARNING: you appear to be repeating yourself ("+detail+"). Change approach or finish with your best answer."))
		}
	}

	// Round budget exhausted: force a final reply with no capabilities.
	reply, err := client.Send(ctx, msgs, nil)
	if err != nil {
		return "", msgs, fmt.Errorf("forced final reply: %w", err)
	}
	return reply.Text, msgs, nil
}

// executeOne runs one invocation through policy, HITL and the handler,
// producing exactly one result string and one audit entry. Handler
// panics become error results, never escapes.
func (l *ToolLoop) executeOne(ctx context.Context, reg *capability.Registry, inv chat.Invocation, hitl HITLCallback) string {
	desc, ok := reg.Get(inv.Name)
	if !ok {
		result := fmt.Sprintf("ERROR: unknown capability %q", inv.Name)
		l.audit.Record(ctx, inv.Name, inv.Arguments, policy.Decision{
			Action: policy.ActionBlock,
			Reason: "unknown capability",
		}, result)
		return result
	}

	decision := l.policy.Evaluate(inv.Name, inv.Arguments)
	l.broadcastCall(ctx, inv, decision)

	switch decision.Action {
	case policy.ActionBlock:
		result := fmt.Sprintf("BLOCKED by security policy: %s", decision.Reason)
		l.audit.Record(ctx, inv.Name, inv.Arguments, decision, result)
		return result

	case policy.ActionFlag:
		approved := false
		if hitl != nil {
			approved = hitl(ctx, inv.Name, inv.Arguments, decision.Reason)
		}
		if !approved {
			result := fmt.Sprintf("DENIED by human review: %s", decision.Reason)
			l.audit.Record(ctx, inv.Name, inv.Arguments, decision, result)
			return result
		}
	}

	result, err := invokeHandler(ctx, desc.Handler, inv.Arguments)
	if err != nil {
		result = fmt.Sprintf("ERROR: %v", err)
	}
	l.audit.Record(ctx, inv.Name, inv.Arguments, decision, result)
	return result
}

// invokeHandler calls a capability handler, converting panics into errors.
func invokeHandler(ctx context.Context, h capability.Handler, args map[string]any) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("capability handler panicked: %v", r)
		}
	}()
	return h(ctx, args)
}

func (l *ToolLoop) broadcastCall(ctx context.Context, inv chat.Invocation, d policy.Decision) {
	if l.bcast == nil {
		return
	}
	l.bcast.BroadcastEvent(ctx, broadcast.EventToolCall, map[string]any{
		"tool":     inv.Name,
		"decision": string(d.Action),
		"reason":   d.Reason,
	})
}
