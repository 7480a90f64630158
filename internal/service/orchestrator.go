package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	stotel "github.com/steward-ai/steward/internal/adapter/otel"
	"github.com/steward-ai/steward/internal/config"
	"github.com/steward-ai/steward/internal/domain"
	"github.com/steward-ai/steward/internal/domain/capability"
	"github.com/steward-ai/steward/internal/domain/session"
	"github.com/steward-ai/steward/internal/port/broadcast"
	"github.com/steward-ai/steward/internal/port/chat"
	"github.com/steward-ai/steward/internal/port/notifier"
	"github.com/steward-ai/steward/internal/port/repository"
	"github.com/steward-ai/steward/internal/port/toolprovider"
)

// completionPhrase ends the reactive loop when no plan is available.
const completionPhrase = "OBJECTIVE COMPLETE"

const reactiveSystemPrompt = `You are an autonomous assistant working toward the user's objective.
Maintain a markdown checklist of steps ("- [ ] step" / "- [x] step") in your replies and keep it updated.
Use the offered capabilities as needed. When the objective is fully achieved, reply with "` + completionPhrase + `" followed by your final answer.`

// Orchestrator owns session lifecycle: it runs the planner loop with a
// reactive fallback, arbitrates HITL escalation, and exposes
// cancel/status through the session registry.
type Orchestrator struct {
	log      *slog.Logger
	cfg      config.Session
	loopCfg  config.Loop
	planner  *Planner
	worker   *Worker
	loop     *ToolLoop
	hitl     *HITLBroker
	registry *SessionRegistry
	repo     repository.SessionRepository
	bcast    broadcast.Broadcaster
}

// NewOrchestrator wires the session orchestrator. repo and bcast may be nil.
func NewOrchestrator(
	log *slog.Logger,
	cfg config.Session,
	loopCfg config.Loop,
	planner *Planner,
	worker *Worker,
	loop *ToolLoop,
	hitl *HITLBroker,
	registry *SessionRegistry,
	repo repository.SessionRepository,
	bcast broadcast.Broadcaster,
) *Orchestrator {
	return &Orchestrator{
		log:      log,
		cfg:      cfg,
		loopCfg:  loopCfg,
		planner:  planner,
		worker:   worker,
		loop:     loop,
		hitl:     hitl,
		registry: registry,
		repo:     repo,
		bcast:    bcast,
	}
}

// Create builds a new session in the Running state.
func (o *Orchestrator) Create(userID, objective string) *session.AgentSession {
	return session.New(userID, objective, o.cfg.MaxIterations)
}

// Cancel interrupts the user's active session. Safe to call from any
// goroutine; returns false when no cancellable session exists.
func (o *Orchestrator) Cancel(userID string) bool {
	return o.registry.Cancel(userID)
}

// Status returns the user's active session, or nil.
func (o *Orchestrator) Status(userID string) *session.AgentSession {
	return o.registry.Get(userID)
}

// Run drives one session to a terminal state and blocks until done.
// Callers start it on its own goroutine; cancellation arrives through
// the registry's stored cancel function and interrupts the next
// suspension point.
func (o *Orchestrator) Run(
	ctx context.Context,
	sess *session.AgentSession,
	client chat.Client,
	baseReg *capability.Registry,
	notif notifier.Notifier,
	providers []toolprovider.Provider,
	usePlanner bool,
) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.registry.Put(sess, cancel); err != nil {
		o.log.Warn("session rejected", "user_id", sess.UserID, "error", err)
		_ = sess.Transition(session.StatusFailed)
		o.notify(ctx, notif, sess.UserID, "You already have an active session. Cancel it first or wait for it to finish.")
		return
	}
	defer o.registry.Remove(sess.UserID, sess.ID)

	ctx, span := stotel.StartSessionSpan(ctx, sess.ID, sess.UserID)
	defer span.End()

	log := o.log.With("session_id", sess.ID, "user_id", sess.UserID)
	log.Info("session started", "objective", truncate(sess.Objective, 120), "planner", usePlanner)
	o.persistStart(ctx, sess)
	o.broadcast(ctx, broadcast.EventSessionStarted, map[string]any{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
	})

	reg := baseReg.SessionCopy()
	o.mergeProviders(ctx, reg, providers)

	st := NewLoopState(session.NewLoopTracker(o.loopCfg.Window, o.loopCfg.WarnThreshold, o.loopCfg.FatalThreshold))
	hitlCb := o.hitlCallback(sess, notif)

	var final string
	var err error
	if usePlanner {
		final, err = o.runPlanner(ctx, sess, client, reg, st, hitlCb)
		if err != nil && ctx.Err() == nil {
			log.Warn("planner mode failed, falling back to reactive loop", "error", err)
			final, err = o.runReactive(ctx, sess, client, reg, st, hitlCb)
		}
	} else {
		final, err = o.runReactive(ctx, sess, client, reg, st, hitlCb)
	}

	o.finish(ctx, sess, notif, final, err)
}

// finish resolves the terminal state and notifies the user. Cancellation
// is not an error: it gets its own status and message.
func (o *Orchestrator) finish(ctx context.Context, sess *session.AgentSession, notif notifier.Notifier, final string, err error) {
	// The session context is cancelled by now; persistence and
	// notification still need a live context.
	done := context.WithoutCancel(ctx)

	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		_ = sess.Transition(session.StatusCancelled)
		o.log.Info("session cancelled", "session_id", sess.ID)
		o.notify(done, notif, sess.UserID, "Your session was cancelled.")
	case err != nil:
		_ = sess.Transition(session.StatusFailed)
		o.log.Error("session failed", "session_id", sess.ID, "error", err)
		o.notify(done, notif, sess.UserID, "Something went wrong while working on your request. Please try again.")
	default:
		_ = sess.Transition(session.StatusCompleted)
		o.log.Info("session completed", "session_id", sess.ID, "iterations", sess.Iterations())
		o.notify(done, notif, sess.UserID, final)
	}

	if o.repo != nil {
		if rerr := o.repo.UpdateStatus(done, sess.ID, sess.Status(), final); rerr != nil {
			o.log.Warn("session status persist failed", "session_id", sess.ID, "error", rerr)
		}
	}
	o.broadcast(done, broadcast.EventSessionFinished, map[string]any{
		"session_id": sess.ID,
		"user_id":    sess.UserID,
		"status":     string(sess.Status()),
	})
}

// runPlanner executes the 3-phase planner loop: plan, sweep tasks, then
// replan or synthesize. Unexpected panics surface as errors so Run can
// fall back to the reactive loop.
func (o *Orchestrator) runPlanner(ctx context.Context, sess *session.AgentSession, client chat.Client, reg *capability.Registry, st *LoopState, hitlCb HITLCallback) (final string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("planner mode panicked: %v", r)
		}
	}()

	pl := o.planner.CreatePlan(ctx, client, sess.Objective, "")
	sess.SetPlan(pl)

	runaway := false
	for !runaway {
		for task := pl.NextPending(); task != nil; task = pl.NextPending() {
			if cerr := ctx.Err(); cerr != nil {
				return "", cerr
			}
			round := sess.NextIteration()

			tctx, tspan := stotel.StartTaskSpan(ctx, sess.ID, task.ID, string(task.Role))
			_, derr := o.worker.Dispatch(tctx, task, sess.Objective, client, reg, st, hitlCb)
			tspan.End()

			o.persistRound(ctx, sess, round, []repository.RoundMessage{
				{Role: "task", Content: truncate(task.Description, 500)},
				{Role: "result", Content: truncate(task.Result, 500)},
			})
			o.broadcast(ctx, broadcast.EventTaskFinished, map[string]any{
				"session_id": sess.ID,
				"task_id":    task.ID,
				"status":     string(task.Status),
			})

			if derr != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				if errors.Is(derr, domain.ErrLoopDetected) {
					o.log.Error("runaway loop, abandoning plan sweep", "session_id", sess.ID, "task_id", task.ID)
					runaway = true
					break
				}
				// Transient failure: the task is marked failed, the
				// sweep continues with the remaining tasks.
				o.log.Warn("task failed", "session_id", sess.ID, "task_id", task.ID, "error", derr)
			}
		}
		if runaway {
			break
		}

		next := o.planner.Replan(ctx, client, pl)
		if next == nil {
			break
		}
		pl = next
		sess.SetPlan(pl)
	}

	final = o.planner.Synthesize(ctx, client, pl)
	if runaway {
		final = "Execution was stopped early after repeated capability calls without progress. Partial results:\n\n" + final
	}
	return final, nil
}

// runReactive is the fallback loop: no structured plan, just bounded
// iterations of the tool loop with a re-injected markdown checklist,
// heuristic completion checks and history trimming.
func (o *Orchestrator) runReactive(ctx context.Context, sess *session.AgentSession, client chat.Client, reg *capability.Registry, st *LoopState, hitlCb HITLCallback) (string, error) {
	offered := reg.List()
	msgs := []chat.Message{
		chat.SystemMessage(reactiveSystemPrompt),
		chat.UserMessage(sess.Objective),
	}

	var lastText string
	for iter := 1; iter <= o.cfg.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		round := sess.NextIteration()

		text, history, err := o.loop.Run(ctx, client, msgs, reg, offered, st, hitlCb)
		msgs = history
		if err != nil {
			if errors.Is(err, domain.ErrLoopDetected) {
				o.log.Error("runaway loop in reactive mode", "session_id", sess.ID)
				return "Execution was stopped early after repeated capability calls without progress.\n\n" + lastText, nil
			}
			return "", err
		}
		lastText = text

		if md := extractChecklist(text); md != "" {
			sess.SetMarkdownPlan(md)
		}
		o.persistRound(ctx, sess, round, snapshotTail(msgs, 4))

		if o.reactiveDone(sess, text) {
			return text, nil
		}

		msgs = trimToolHistory(msgs, o.cfg.HistoryKeep)
		msgs = append(msgs, chat.Message{Role: chat.RoleAssistant, Content: text})
		msgs = append(msgs, chat.UserMessage(o.nudge(sess)))
	}
	return lastText, nil
}

// nudge re-injects the current plan each reactive round.
func (o *Orchestrator) nudge(sess *session.AgentSession) string {
	var b strings.Builder
	b.WriteString("Continue working toward the objective.")
	if md := sess.MarkdownPlan(); md != "" {
		b.WriteString("\nCurrent plan:\n")
		b.WriteString(md)
	}
	fmt.Fprintf(&b, "\nWhen everything is done, reply with %q followed by your final answer.", completionPhrase)
	return b.String()
}

// reactiveDone applies the completion heuristics in order: structured
// plan exhausted, markdown checklist fully checked, or, absent any plan,
// the completion phrase in the reply.
func (o *Orchestrator) reactiveDone(sess *session.AgentSession, text string) bool {
	if pl := sess.Plan(); pl != nil && pl.Swept() {
		return true
	}
	if md := sess.MarkdownPlan(); md != "" {
		return checklistDone(md)
	}
	return strings.Contains(strings.ToUpper(text), completionPhrase)
}

// hitlCallback builds the approval hook handed to the tool loop. It
// toggles the session into WaitingUser for the duration of the wait.
func (o *Orchestrator) hitlCallback(sess *session.AgentSession, notif notifier.Notifier) HITLCallback {
	return func(ctx context.Context, name string, args map[string]any, reason string) bool {
		if err := sess.Transition(session.StatusWaitingUser); err != nil {
			o.log.Warn("waiting_user transition rejected", "session_id", sess.ID, "error", err)
		}
		defer func() { _ = sess.Transition(session.StatusRunning) }()

		argsJSON, _ := json.Marshal(args)
		question := fmt.Sprintf(
			"Approval needed: capability %q was flagged (%s).\nArguments: %s\nReply \"yes\" to allow or anything else to deny.",
			name, reason, truncate(string(argsJSON), 300),
		)

		answer, err := o.hitl.RequestApproval(ctx, sess.UserID, question, notif)
		if err != nil {
			return false
		}
		return Approved(answer)
	}
}

// mergeProviders discovers external capabilities and adds them to the
// session's registry copy. Provider failures are logged, never fatal.
func (o *Orchestrator) mergeProviders(ctx context.Context, reg *capability.Registry, providers []toolprovider.Provider) {
	for _, p := range providers {
		descs, err := p.Discover(ctx)
		if err != nil {
			o.log.Warn("capability provider discovery failed", "provider", p.Name(), "error", err)
			continue
		}
		for _, d := range descs {
			if err := reg.Add(d); err != nil {
				o.log.Warn("capability provider returned invalid descriptor", "provider", p.Name(), "error", err)
			}
		}
		o.log.Info("capability provider merged", "provider", p.Name(), "capabilities", len(descs))
	}
}

func (o *Orchestrator) persistStart(ctx context.Context, sess *session.AgentSession) {
	if o.repo == nil {
		return
	}
	rec := repository.SessionRecord{
		ID:        sess.ID,
		UserID:    sess.UserID,
		Objective: sess.Objective,
		Status:    sess.Status(),
		StartedAt: sess.StartedAt,
	}
	if err := o.repo.SaveSession(ctx, rec); err != nil {
		o.log.Warn("session persist failed", "session_id", sess.ID, "error", err)
	}
}

func (o *Orchestrator) persistRound(ctx context.Context, sess *session.AgentSession, round int, messages []repository.RoundMessage) {
	if o.repo == nil {
		return
	}
	snap := repository.RoundSnapshot{
		SessionID: sess.ID,
		Round:     round,
		Messages:  messages,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.repo.AppendRound(ctx, sess.UserID, sess.ID, snap); err != nil {
		o.log.Warn("round snapshot persist failed", "session_id", sess.ID, "round", round, "error", err)
	}
}

func (o *Orchestrator) notify(ctx context.Context, notif notifier.Notifier, userID, text string) {
	if notif == nil || text == "" {
		return
	}
	if err := notif.Send(ctx, userID, text); err != nil {
		o.log.Warn("notification failed", "user_id", userID, "error", err)
	}
}

func (o *Orchestrator) broadcast(ctx context.Context, eventType string, payload any) {
	if o.bcast == nil {
		return
	}
	o.bcast.BroadcastEvent(ctx, eventType, payload)
}

// snapshotTail converts the last n messages into persistable form.
func snapshotTail(msgs []chat.Message, n int) []repository.RoundMessage {
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]repository.RoundMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, repository.RoundMessage{
			Role:    m.Role,
			Content: truncate(m.Content, 500),
		})
	}
	return out
}

// trimToolHistory drops the oldest tool-result messages beyond keep,
// bounding context growth across reactive rounds.
func trimToolHistory(msgs []chat.Message, keep int) []chat.Message {
	if keep <= 0 {
		return msgs
	}
	total := 0
	for _, m := range msgs {
		if m.Role == chat.RoleTool {
			total++
		}
	}
	drop := total - keep
	if drop <= 0 {
		return msgs
	}
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == chat.RoleTool && drop > 0 {
			drop--
			continue
		}
		out = append(out, m)
	}
	return out
}

// extractChecklist pulls markdown checklist lines out of a reply.
func extractChecklist(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- [ ]") || strings.HasPrefix(trimmed, "- [x]") || strings.HasPrefix(trimmed, "- [X]") {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n")
}

// checklistDone reports whether a markdown checklist is fully checked.
func checklistDone(md string) bool {
	if !strings.Contains(md, "- [x]") && !strings.Contains(md, "- [X]") {
		return false
	}
	return !strings.Contains(md, "- [ ]")
}
