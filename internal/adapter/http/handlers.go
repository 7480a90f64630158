package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/steward-ai/steward/internal/port/notifier"
	"github.com/steward-ai/steward/internal/port/repository"
	"github.com/steward-ai/steward/internal/resilience"
	"github.com/steward-ai/steward/internal/service"
)

// EventSocket is the subset of the WebSocket hub the API needs.
type EventSocket interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	ConnectionCount() int
}

// Handlers carries the service dependencies for all API endpoints.
type Handlers struct {
	log      *slog.Logger
	intake   *service.Intake
	orch     *service.Orchestrator
	hitl     *service.HITLBroker
	policy   *service.PolicyService
	audit    *service.AuditTrail
	registry *service.SessionRegistry
	repo     repository.SessionRepository
	breaker  *resilience.Breaker
	hub      EventSocket
	dbPing   func(ctx context.Context) error
}

// NewHandlers wires the API handlers. dbPing may be nil when persistence
// is disabled; readiness then only covers the process itself.
func NewHandlers(
	log *slog.Logger,
	intake *service.Intake,
	orch *service.Orchestrator,
	hitl *service.HITLBroker,
	policy *service.PolicyService,
	audit *service.AuditTrail,
	registry *service.SessionRegistry,
	repo repository.SessionRepository,
	breaker *resilience.Breaker,
	hub EventSocket,
	dbPing func(ctx context.Context) error,
) *Handlers {
	return &Handlers{
		log:      log,
		intake:   intake,
		orch:     orch,
		hitl:     hitl,
		policy:   policy,
		audit:    audit,
		registry: registry,
		repo:     repo,
		breaker:  breaker,
		hub:      hub,
		dbPing:   dbPing,
	}
}

// Health reports process liveness.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether dependencies are reachable.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if h.dbPing != nil {
		if err := h.dbPing(r.Context()); err != nil {
			h.log.Warn("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createSessionRequest struct {
	UserID    string `json:"user_id"`
	Objective string `json:"objective"`
}

// CreateSession starts a new agent session for a user.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createSessionRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserID, "user_id") || !requireField(w, req.Objective, "objective") {
		return
	}

	sess := h.intake.Start(req.UserID, req.Objective)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sess.ID,
		"status":     string(sess.Status()),
	})
}

// GetSession returns the persisted record of one session.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	rec, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListUserSessions returns a user's sessions, newest first.
func (h *Handlers) ListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "userID")
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	records, err := h.repo.ListByUser(r.Context(), userID, limit)
	if err != nil {
		writeDomainError(w, err, "sessions not found")
		return
	}
	if records == nil {
		records = []repository.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ActiveSession returns the user's in-flight session, if any.
func (h *Handlers) ActiveSession(w http.ResponseWriter, r *http.Request) {
	sess := h.orch.Status(urlParam(r, "userID"))
	if sess == nil {
		writeError(w, http.StatusNotFound, "no active session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"objective":  sess.Objective,
		"status":     string(sess.Status()),
		"iterations": sess.Iterations(),
		"plan":       sess.MarkdownPlan(),
	})
}

// CancelSession interrupts the user's active session.
func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "userID")
	cancelled := h.orch.Cancel(userID)
	if !cancelled {
		writeError(w, http.StatusNotFound, "no cancellable session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

type answerRequest struct {
	Text string `json:"text"`
}

// Answer feeds a user's reply to a pending approval request.
func (h *Handlers) Answer(w http.ResponseWriter, r *http.Request) {
	userID := urlParam(r, "userID")
	req, ok := readJSON[answerRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Text, "text") {
		return
	}

	if !h.hitl.Resolve(userID, req.Text) {
		writeError(w, http.StatusNotFound, "no pending approval for user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"consumed": true})
}

// PolicyInfo returns the size of the active rule set.
func (h *Handlers) PolicyInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"rules": h.policy.RuleCount()})
}

// ReloadPolicy re-reads the rule file. On failure the previous set stays
// active and the error is reported.
func (h *Handlers) ReloadPolicy(w http.ResponseWriter, _ *http.Request) {
	if err := h.policy.Reload(); err != nil {
		h.log.Error("policy reload failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, "policy reload failed; previous rules remain active")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rules": h.policy.RuleCount()})
}

// VerifyAudit replays the audit log and checks the hash chain.
func (h *Handlers) VerifyAudit(w http.ResponseWriter, r *http.Request) {
	if err := h.audit.Verify(r.Context()); err != nil {
		h.log.Error("audit verification failed", "error", err)
		writeJSON(w, http.StatusConflict, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// Status reports runtime counters for operators.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": h.registry.Len(),
		"ws_connections":  h.hub.ConnectionCount(),
		"breaker":         h.breaker.State().String(),
		"notifiers":       notifier.Available(),
	})
}
