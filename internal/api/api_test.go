package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/herbalis/salesbot/internal/alerts"
	"github.com/herbalis/salesbot/internal/knowledge"
	"github.com/herbalis/salesbot/internal/models"
	"github.com/herbalis/salesbot/internal/store"
)

type stubAdmin struct {
	lastTarget  string
	lastCommand string
	reply       string
	err         error
}

func (s *stubAdmin) Interpret(ctx context.Context, targetPhone, command string) (string, error) {
	s.lastTarget = targetPhone
	s.lastCommand = command
	return s.reply, s.err
}

func newTestServer(t *testing.T) (*Server, store.Store, *alerts.Manager, *stubAdmin) {
	t.Helper()
	st := store.NewInMemoryStore()
	am := alerts.NewManager(nil, nil)
	admin := &stubAdmin{reply: "hecho"}
	srv, err := NewServer(st, am, admin, nil)
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}
	return srv, st, am, admin
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) apiResponse {
	t.Helper()
	var resp apiResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v\nbody: %s", err, w.Body.String())
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Status != "ok" {
		t.Errorf("unexpected status %q", resp.Status)
	}
}

func TestAlertsListAndClear(t *testing.T) {
	srv, _, am, _ := newTestServer(t)
	am.Raise("⏰ Cliente estancado 40 min", "549300", "Pedro", "", nil, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/alerts", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "549300") {
		t.Errorf("alert list should include the customer, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("DELETE", "/api/alerts/549300", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on clear, got %d", w.Code)
	}
	if len(am.List()) != 0 {
		t.Error("alerts should be cleared")
	}
}

func TestConversationListAndDetail(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	now := time.Now()
	state := models.NewConversationState("549301", now)
	state.Step = models.StepWaitingData
	state.Name = "Lucía"
	state.AppendHistory(models.RoleUser, "hola")
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/conversations", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "waiting_data") {
		t.Errorf("summary should expose the step, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/conversations/549301", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "hola") {
		t.Errorf("detail should include history, got %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/conversations/549999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown phone should 404, got %d", w.Code)
	}
}

func TestConversationDetailFlagsOpenAlert(t *testing.T) {
	srv, st, am, _ := newTestServer(t)
	state := models.NewConversationState("549302", time.Now())
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}
	am.Raise("🤷 Mensaje sin respuesta del guión", "549302", "", "", nil, nil)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/conversations/549302", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"alert_pending":true`) {
		t.Errorf("detail should flag the open alert, got %s", w.Body.String())
	}
}

func TestPauseAndResume(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	state := models.NewConversationState("549302", time.Now())
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/conversations/549302/pause", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	reloaded, _ := st.GetConversation("549302")
	if !reloaded.Paused {
		t.Error("conversation should be paused")
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/conversations/549302/resume", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	reloaded, _ = st.GetConversation("549302")
	if reloaded.Paused {
		t.Error("conversation should be resumed")
	}
}

func TestAdminCommandEndpoint(t *testing.T) {
	srv, _, _, admin := newTestServer(t)
	body := strings.NewReader(`{"target":"549303","command":"me encargo"}`)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/admin/command", body))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if admin.lastTarget != "549303" || admin.lastCommand != "me encargo" {
		t.Errorf("command not forwarded, got target=%q command=%q", admin.lastTarget, admin.lastCommand)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("POST", "/api/admin/command", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty command should 400, got %d", w.Code)
	}
}

func TestAPIKeyGuard(t *testing.T) {
	st := store.NewInMemoryStore()
	srv, err := NewServer(st, nil, nil, nil, WithAPIKey("secret"))
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/conversations", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest("GET", "/api/conversations", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}

	// health stays open for probes
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health should not require auth, got %d", w.Code)
	}
}

func TestOrdersEndpoint(t *testing.T) {
	srv, st, _, _ := newTestServer(t)
	if err := st.AddOrder(models.Order{
		ID: "ord-9", UserPhone: "549304", Total: 48900,
		Status: models.OrderStatusPending, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/orders", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ord-9") {
		t.Errorf("orders list should include the ledger entry, got %s", w.Body.String())
	}
}

func TestKnowledgeEditorRoundTrip(t *testing.T) {
	kb, err := knowledge.Load("")
	if err != nil {
		t.Fatalf("failed to load knowledge: %v", err)
	}
	st := store.NewInMemoryStore()
	srv, err := NewServer(st, nil, nil, nil, WithKnowledge(kb))
	if err != nil {
		t.Fatalf("failed to build server: %v", err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/knowledge", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "flow") {
		t.Errorf("snapshot should include the flow nodes, got %s", w.Body.String())
	}

	edited := kb.Snapshot()
	node := edited.Flow["greeting"]
	node.Response = "¡Hola! Soy la nueva bienvenida 😊"
	edited.Flow["greeting"] = node
	body, _ := json.Marshal(edited)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("PUT", "/api/knowledge", strings.NewReader(string(body))))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d: %s", w.Code, w.Body.String())
	}
	got, err := kb.Node("greeting")
	if err != nil {
		t.Fatalf("greeting node missing after update: %v", err)
	}
	if got.Response != node.Response {
		t.Errorf("update did not take: %q", got.Response)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("PUT", "/api/knowledge", strings.NewReader(`{"flow":{}}`)))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty flow should be rejected, got %d", w.Code)
	}
}

func TestKnowledgeEndpointsUnconfigured(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/knowledge", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without a knowledge store, got %d", w.Code)
	}
}
