package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/steward-ai/steward/internal/config"
	"github.com/steward-ai/steward/internal/domain"
	"github.com/steward-ai/steward/internal/domain/audit"
	"github.com/steward-ai/steward/internal/domain/session"
	"github.com/steward-ai/steward/internal/port/repository"
	"github.com/steward-ai/steward/internal/resilience"
	"github.com/steward-ai/steward/internal/service"
)

type fakeHub struct{ conns int }

func (f *fakeHub) HandleWS(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
func (f *fakeHub) ConnectionCount() int                            { return f.conns }

type memSink struct{ entries []audit.Entry }

func (m *memSink) Append(_ context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memSink) Last(_ context.Context) (*audit.Entry, error) {
	if len(m.entries) == 0 {
		return nil, nil
	}
	e := m.entries[len(m.entries)-1]
	return &e, nil
}

func (m *memSink) ReadAll(_ context.Context) ([]audit.Entry, error) {
	return m.entries, nil
}

type memRepo struct{ records map[string]repository.SessionRecord }

func (m *memRepo) SaveSession(_ context.Context, rec repository.SessionRecord) error {
	m.records[rec.ID] = rec
	return nil
}

func (m *memRepo) UpdateStatus(context.Context, string, session.Status, string) error { return nil }

func (m *memRepo) GetSession(_ context.Context, id string) (*repository.SessionRecord, error) {
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("get session %s: %w", id, domain.ErrNotFound)
	}
	return &rec, nil
}

func (m *memRepo) ListByUser(_ context.Context, userID string, _ int) ([]repository.SessionRecord, error) {
	var out []repository.SessionRecord
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memRepo) AppendRound(context.Context, string, string, repository.RoundSnapshot) error {
	return nil
}

func testRouter(t *testing.T) (*chi.Mux, *service.HITLBroker) {
	t.Helper()
	log := slog.Default()

	rulesFile := filepath.Join(t.TempDir(), "policy.yaml")
	rules := "default_action: block\nrules:\n  - id: allow-read\n    target_tool: read_file\n    action: allow\n"
	if err := os.WriteFile(rulesFile, []byte(rules), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	hitl := service.NewHITLBroker(log, time.Second)
	policySvc := service.NewPolicyService(log, rulesFile, nil)
	trail := service.NewAuditTrail(context.Background(), log, &memSink{})
	registry := service.NewSessionRegistry()
	repo := &memRepo{records: map[string]repository.SessionRecord{
		"s1": {ID: "s1", UserID: "alice", Objective: "do things", Status: session.StatusCompleted},
	}}
	breaker := resilience.NewBreaker(3, time.Second)

	orch := service.NewOrchestrator(log, config.Session{}, config.Loop{}, nil, nil, nil, hitl, registry, nil, nil)

	h := NewHandlers(log, nil, orch, hitl, policySvc, trail, registry, repo, breaker, &fakeHub{conns: 2}, nil)

	r := chi.NewRouter()
	MountRoutes(r, h)
	return r, hitl
}

func do(t *testing.T, router *chi.Mux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	router, _ := testRouter(t)

	rec := do(t, router, http.MethodPost, "/api/v1/sessions", `{"user_id":"","objective":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty user_id: status = %d", rec.Code)
	}

	rec = do(t, router, http.MethodPost, "/api/v1/sessions", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status = %d", rec.Code)
	}
}

func TestGetSession(t *testing.T) {
	router, _ := testRouter(t)

	rec := do(t, router, http.MethodGet, "/api/v1/sessions/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "do things") {
		t.Fatalf("body = %s", rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/api/v1/sessions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing session: status = %d", rec.Code)
	}
}

func TestActiveSessionNone(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodGet, "/api/v1/users/alice/active", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAnswerWithoutPendingApproval(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodPost, "/api/v1/users/alice/answer", `{"text":"yes"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAnswerResolvesPendingApproval(t *testing.T) {
	router, hitl := testRouter(t)

	type result struct {
		answer string
		err    error
	}
	got := make(chan result, 1)
	go func() {
		answer, err := hitl.RequestApproval(context.Background(), "alice", "approve shell_exec?", nil)
		got <- result{answer, err}
	}()

	// Wait for the approval wait to register before answering.
	deadline := time.Now().Add(time.Second)
	for {
		rec := do(t, router, http.MethodPost, "/api/v1/users/alice/answer", `{"text":"yes, go ahead"}`)
		if rec.Code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("answer endpoint never found the pending approval")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case res := <-got:
		if res.err != nil {
			t.Fatalf("RequestApproval: %v", res.err)
		}
		if res.answer != "yes, go ahead" {
			t.Fatalf("answer = %q", res.answer)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("approval never resolved")
	}
}

func TestPolicyInfoAndReload(t *testing.T) {
	router, _ := testRouter(t)

	rec := do(t, router, http.MethodGet, "/api/v1/policy", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"rules":1`) {
		t.Fatalf("policy info: status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/api/v1/policy/reload", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reload: status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyAuditEmptyChain(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodGet, "/api/v1/audit/verify", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"valid":true`) {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	router, _ := testRouter(t)
	rec := do(t, router, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"ws_connections":2`) || !strings.Contains(body, `"breaker":"closed"`) {
		t.Fatalf("body = %s", body)
	}
}
