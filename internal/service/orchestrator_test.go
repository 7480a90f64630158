package service

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/steward-ai/steward/internal/config"
	"github.com/steward-ai/steward/internal/domain/capability"
	"github.com/steward-ai/steward/internal/domain/session"
	"github.com/steward-ai/steward/internal/port/chat"
)

// memNotifier records every delivered message.
type memNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *memNotifier) Name() string { return "mem" }

func (n *memNotifier) Send(_ context.Context, _ string, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return nil
}

func (n *memNotifier) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return ""
	}
	return n.sent[len(n.sent)-1]
}

// blockingClient parks every request until the context is cancelled.
type blockingClient struct{}

func (blockingClient) Send(ctx context.Context, _ []chat.Message, _ []capability.Descriptor) (*chat.Reply, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *memSink) {
	t.Helper()
	log := slog.Default()
	loop, sink := newTestLoop(t, basicRules)
	sessCfg := config.Session{
		MaxIterations:   5,
		MaxToolRounds:   5,
		MaxTasks:        6,
		MaxReplans:      0,
		MaxToolsPerTask: 8,
		HistoryKeep:     4,
	}
	loopCfg := config.Loop{Window: 20, WarnThreshold: 3, FatalThreshold: 5}
	return NewOrchestrator(
		log,
		sessCfg,
		loopCfg,
		NewPlanner(log, sessCfg.MaxTasks, sessCfg.MaxReplans),
		NewWorker(log, loop, sessCfg.MaxToolsPerTask),
		loop,
		NewHITLBroker(log, time.Second),
		NewSessionRegistry(),
		nil,
		nil,
	), sink
}

func TestRunPlannerModeCompletes(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	notif := &memNotifier{}
	client := &scriptedClient{replies: []*chat.Reply{
		{Text: `{"tasks": [
			{"description": "read the config", "role": "reader"},
			{"description": "report the port", "role": "reporter"}
		]}`},
		{Text: "port is 8080"},          // task 1
		{Text: "the answer is port 8080"}, // task 2
		{Text: "The configured port is 8080."}, // synthesis
	}}

	sess := o.Create("alice", "find the port")
	o.Run(context.Background(), sess, client, capability.NewRegistry(), notif, nil, true)

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s", sess.Status())
	}
	if pl := sess.Plan(); pl == nil || !pl.Swept() {
		t.Fatalf("plan = %+v, want fully swept", pl)
	}
	if got := notif.last(); got != "The configured port is 8080." {
		t.Fatalf("final notification = %q", got)
	}
	if o.Status("alice") != nil {
		t.Fatal("registry entry should be removed after the run")
	}
}

func TestRunReactiveModeCompletes(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	notif := &memNotifier{}
	client := &scriptedClient{replies: []*chat.Reply{
		{Text: "OBJECTIVE COMPLETE\nThe port is 8080."},
	}}

	sess := o.Create("alice", "find the port")
	o.Run(context.Background(), sess, client, capability.NewRegistry(), notif, nil, false)

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s", sess.Status())
	}
	if !strings.Contains(notif.last(), "The port is 8080.") {
		t.Fatalf("final notification = %q", notif.last())
	}
}

func TestRunReactiveChecklistCompletion(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	client := &scriptedClient{replies: []*chat.Reply{
		{Text: "- [x] locate config\n- [ ] read port"},
		{Text: "- [x] locate config\n- [x] read port\nDone."},
	}}

	sess := o.Create("alice", "find the port")
	o.Run(context.Background(), sess, client, capability.NewRegistry(), nil, nil, false)

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s", sess.Status())
	}
	if got := sess.MarkdownPlan(); got != "- [x] locate config\n- [x] read port" {
		t.Fatalf("markdown plan = %q", got)
	}
	if len(client.requests) != 2 {
		t.Fatalf("rounds = %d, want 2", len(client.requests))
	}
}

func TestRunRejectsSecondSessionForUser(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	notif := &memNotifier{}

	running := o.Create("alice", "first")
	if err := o.registry.Put(running, func() {}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	sess := o.Create("alice", "second")
	o.Run(context.Background(), sess, &scriptedClient{}, capability.NewRegistry(), notif, nil, false)

	if sess.Status() != session.StatusFailed {
		t.Fatalf("status = %s", sess.Status())
	}
	if !strings.Contains(notif.last(), "already have an active session") {
		t.Fatalf("notification = %q", notif.last())
	}
	// The original session stays registered.
	if o.Status("alice") != running {
		t.Fatal("running session lost from the registry")
	}
}

func TestCancelInterruptsRunningSession(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	notif := &memNotifier{}
	sess := o.Create("alice", "slow work")

	done := make(chan struct{})
	go func() {
		o.Run(context.Background(), sess, blockingClient{}, capability.NewRegistry(), notif, nil, false)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for o.Status("alice") == nil {
		if time.Now().After(deadline) {
			t.Fatal("session never registered")
		}
		time.Sleep(time.Millisecond)
	}

	if !o.Cancel("alice") {
		t.Fatal("Cancel should find the running session")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not unblock on cancel")
	}

	if sess.Status() != session.StatusCancelled {
		t.Fatalf("status = %s", sess.Status())
	}
	if !strings.Contains(notif.last(), "cancelled") {
		t.Fatalf("notification = %q", notif.last())
	}
}

func TestRunPlannerRunawayStopsEarly(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	notif := &memNotifier{}

	// A runaway sweep abandons the plan; synthesis still produces a reply
	// prefixed with the early-stop notice.
	reply := &chat.Reply{}
	for i := 0; i < 5; i++ {
		reply.Invocations = append(reply.Invocations, chat.Invocation{
			ID: "c", Name: "read_file", Arguments: map[string]any{"path": "/same"},
		})
	}
	client := &scriptedClient{replies: []*chat.Reply{
		{Text: `{"tasks": [{"description": "read the config", "role": "reader"}]}`},
		reply,                         // task 1 spirals
		{Text: "partial information"}, // synthesis
	}}

	reg := registryWith(t, echoCap("read_file", "read", nil))
	sess := o.Create("alice", "find the port")
	o.Run(context.Background(), sess, client, reg, notif, nil, true)

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s", sess.Status())
	}
	final := notif.last()
	if !strings.Contains(final, "stopped early") || !strings.Contains(final, "partial information") {
		t.Fatalf("final notification = %q", final)
	}
}

func TestRunPlannerModeExecutesCapability(t *testing.T) {
	o, sink := newTestOrchestrator(t)
	notif := &memNotifier{}
	calls := 0
	reg := registryWith(t, echoCap("read_file", "read", &calls))
	client := &scriptedClient{replies: []*chat.Reply{
		{Text: `{"tasks": [
			{"description": "read the config", "role": "reader"},
			{"description": "report the port", "role": "reporter"}
		]}`},
		invoke("c1", "read_file", map[string]any{"path": "/etc/app.yaml"}), // task 1 round 1
		{Text: "the config sets port 8080"},                                // task 1 round 2
		{Text: "the answer is port 8080"},                                  // task 2
		{Text: "The configured port is 8080."},                             // synthesis
	}}

	sess := o.Create("alice", "find the port")
	o.Run(context.Background(), sess, client, reg, notif, nil, true)

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status = %s", sess.Status())
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d", calls)
	}
	if len(sink.entries) != 1 || sink.entries[0].Decision != "allow" || sink.entries[0].Tool != "read_file" {
		t.Fatalf("audit entries = %+v", sink.entries)
	}
	if pl := sess.Plan(); pl == nil || !pl.Swept() {
		t.Fatalf("plan = %+v, want fully swept", pl)
	}
	if got := notif.last(); got != "The configured port is 8080." {
		t.Fatalf("final notification = %q", got)
	}
}

// pacedClient rewrites the checklist over several rounds, slowly enough
// for a concurrent status poll to overlap the writes.
type pacedClient struct{ round int }

func (c *pacedClient) Send(context.Context, []chat.Message, []capability.Descriptor) (*chat.Reply, error) {
	c.round++
	time.Sleep(2 * time.Millisecond)
	if c.round < 4 {
		return &chat.Reply{Text: "- [x] locate config\n- [ ] read port"}, nil
	}
	return &chat.Reply{Text: "- [x] locate config\n- [x] read port"}, nil
}

func TestStatusReadsPlanWhileSessionRuns(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	sess := o.Create("alice", "find the port")

	done := make(chan struct{})
	go func() {
		o.Run(context.Background(), sess, &pacedClient{}, capability.NewRegistry(), nil, nil, false)
		close(done)
	}()

	// Poll the admin-facing view while the session goroutine rewrites
	// the checklist; the race detector flags any unguarded access.
	for {
		select {
		case <-done:
			if sess.Status() != session.StatusCompleted {
				t.Fatalf("status = %s", sess.Status())
			}
			if got := sess.MarkdownPlan(); strings.Contains(got, "- [ ]") {
				t.Fatalf("final checklist = %q", got)
			}
			return
		default:
			if s := o.Status("alice"); s != nil {
				_ = s.MarkdownPlan()
				_ = s.Plan()
			}
		}
	}
}
