package service

import (
	"context"
	"log/slog"

	"github.com/steward-ai/steward/internal/domain/capability"
	"github.com/steward-ai/steward/internal/domain/session"
	"github.com/steward-ai/steward/internal/port/chat"
	"github.com/steward-ai/steward/internal/port/notifier"
	"github.com/steward-ai/steward/internal/port/toolprovider"
)

// Intake routes inbound user messages: text resolving a pending HITL
// wait is consumed as the approval answer; anything else starts a new
// session with the text as its objective.
type Intake struct {
	log       *slog.Logger
	orch      *Orchestrator
	hitl      *HITLBroker
	client    chat.Client
	registry  *capability.Registry
	notif     notifier.Notifier
	providers []toolprovider.Provider
	baseCtx   context.Context
}

// NewIntake wires the message intake path. baseCtx is the process
// lifetime context sessions detach onto; shutting it down interrupts
// every running session.
func NewIntake(
	baseCtx context.Context,
	log *slog.Logger,
	orch *Orchestrator,
	hitl *HITLBroker,
	client chat.Client,
	registry *capability.Registry,
	notif notifier.Notifier,
	providers []toolprovider.Provider,
) *Intake {
	return &Intake{
		log:       log,
		orch:      orch,
		hitl:      hitl,
		client:    client,
		registry:  registry,
		notif:     notif,
		providers: providers,
		baseCtx:   baseCtx,
	}
}

// Handle processes one inbound message for a user.
func (i *Intake) Handle(userID, text string) {
	if i.hitl.Resolve(userID, text) {
		i.log.Info("message consumed as hitl answer", "user_id", userID)
		return
	}
	i.Start(userID, text)
}

// Start launches a new session with text as its objective and returns
// the session immediately; execution continues in the background.
func (i *Intake) Start(userID, text string) *session.AgentSession {
	sess := i.orch.Create(userID, text)
	i.log.Info("starting session from inbound message", "user_id", userID, "session_id", sess.ID)
	go i.orch.Run(i.baseCtx, sess, i.client, i.registry, i.notif, i.providers, true)
	return sess
}
