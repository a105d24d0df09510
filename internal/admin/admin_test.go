package admin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/herbalis/salesbot/internal/alerts"
	"github.com/herbalis/salesbot/internal/models"
	"github.com/herbalis/salesbot/internal/store"
	"github.com/herbalis/salesbot/internal/timeutil"
)

var adminNow = time.Date(2025, 6, 10, 15, 0, 0, 0, timeutil.ZoneAR)

type captureSender struct {
	sent map[string][]string
}

func (c *captureSender) Send(ctx context.Context, phone, text string) error {
	if c.sent == nil {
		c.sent = make(map[string][]string)
	}
	c.sent[phone] = append(c.sent[phone], text)
	return nil
}

type stubReporter struct {
	rewritten string
	report    string
}

func (s *stubReporter) RewriteSuggestion(ctx context.Context, instruction string, history []models.HistoryEntry) string {
	if s.rewritten != "" {
		return s.rewritten
	}
	return instruction
}

func (s *stubReporter) DailyReport(ctx context.Context, activity string) (string, error) {
	s.report = activity
	return "Resumen del día: todo en orden.", nil
}

func strp(s string) *string { return &s }

func newTestInterpreter(t *testing.T) (*Interpreter, store.Store, *captureSender, *alerts.Manager, *stubReporter) {
	t.Helper()
	st := store.NewInMemoryStore()
	sender := &captureSender{}
	am := alerts.NewManager(nil, nil)
	model := &stubReporter{}
	in, err := New(Deps{
		Store:  st,
		Alerts: am,
		Model:  model,
		Sender: sender,
		Clock:  timeutil.FixedClock{T: adminNow},
	})
	if err != nil {
		t.Fatalf("failed to build interpreter: %v", err)
	}
	return in, st, sender, am, model
}

func seedReviewState(t *testing.T, st store.Store, phone string) *models.ConversationState {
	t.Helper()
	state := models.NewConversationState(phone, adminNow.Add(-10*time.Minute))
	state.Step = models.StepWaitingAdminOK
	state.Cart = []models.CartItem{{Product: models.ProductSemillas, PlanDays: 60, Price: 36900}}
	state.TotalPrice = 36900
	state.PendingOrder = &models.PendingOrder{
		Cart: state.Cart,
		Address: models.PartialAddress{
			Name: strp("Ana López"), Street: strp("Rivadavia 1200"),
			City: strp("CABA"), PostalCode: strp("1406"),
		},
		Total:     36900,
		CreatedAt: adminNow.Add(-10 * time.Minute),
	}
	if err := st.SaveConversation(state); err != nil {
		t.Fatalf("failed to seed state: %v", err)
	}
	return state
}

func TestApprovalReleasesOrderInReview(t *testing.T) {
	in, st, sender, am, _ := newTestInterpreter(t)
	seedReviewState(t, st, "549200")
	am.Raise("🛒 Pedido listo para revisar", "549200", "Ana", "", nil, nil)

	reply, err := in.Interpret(context.Background(), "549200", "ok")
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if !strings.Contains(reply, "confirmado") {
		t.Errorf("operator feedback should confirm, got %q", reply)
	}
	state, _ := st.GetConversation("549200")
	if state.Step != models.StepWaitingFinalOK {
		t.Errorf("expected step %s, got %s", models.StepWaitingFinalOK, state.Step)
	}
	msgs := sender.sent["549200"]
	if len(msgs) != 1 || !strings.Contains(msgs[0], "Pedido en preparación") {
		t.Errorf("customer should receive the confirmation message, got %v", msgs)
	}
	if len(am.List()) != 0 {
		t.Error("alert should be cleared after approval")
	}
}

func TestApprovalConfirmsLedgerOrder(t *testing.T) {
	in, st, sender, _, _ := newTestInterpreter(t)
	state := models.NewConversationState("549201", adminNow.Add(-time.Hour))
	state.Step = models.StepCompleted
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}
	order := models.Order{
		ID: "ord-1", UserPhone: "549201", Total: 46900,
		Status: models.OrderStatusPending, CreatedAt: adminNow.Add(-time.Hour),
	}
	if err := st.AddOrder(order); err != nil {
		t.Fatal(err)
	}

	if _, err := in.Interpret(context.Background(), "549201", "confirmar"); err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	orders, _ := st.GetOrders()
	if len(orders) != 1 || orders[0].Status != models.OrderStatusConfirmed {
		t.Errorf("expected confirmed ledger order, got %+v", orders)
	}
	msgs := sender.sent["549201"]
	if len(msgs) != 1 || !strings.Contains(msgs[0], "ya fue ingresado") {
		t.Errorf("customer should be notified of confirmation, got %v", msgs)
	}
}

func TestApprovalWithoutOrderFails(t *testing.T) {
	in, st, _, _, _ := newTestInterpreter(t)
	state := models.NewConversationState("549202", adminNow)
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}
	if _, err := in.Interpret(context.Background(), "549202", "dale"); err == nil {
		t.Error("approving with nothing pending should fail")
	}
}

func TestTakeoverPausesBot(t *testing.T) {
	in, st, _, am, _ := newTestInterpreter(t)
	state := models.NewConversationState("549203", adminNow)
	state.Step = models.StepWaitingData
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}
	am.Raise("🤷 Mensaje sin respuesta del guión", "549203", "", "", nil, nil)

	reply, err := in.Interpret(context.Background(), "549203", "me encargo")
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if !strings.Contains(reply, "pausado") {
		t.Errorf("unexpected feedback: %q", reply)
	}
	reloaded, _ := st.GetConversation("549203")
	if !reloaded.Paused {
		t.Error("conversation should be paused after takeover")
	}
	if len(am.List()) != 0 {
		t.Error("alert should be cleared after takeover")
	}
}

func TestResumeReactivatesBot(t *testing.T) {
	in, st, _, _, _ := newTestInterpreter(t)
	state := models.NewConversationState("549203", adminNow)
	state.Step = models.StepWaitingData
	state.Paused = true
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}

	reply, err := in.Interpret(context.Background(), "549203", "reactivar")
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if !strings.Contains(reply, "reactivado") {
		t.Errorf("unexpected feedback: %q", reply)
	}
	reloaded, _ := st.GetConversation("549203")
	if reloaded.Paused {
		t.Error("conversation should be unpaused after resume")
	}
}

func TestFreeTextIsRewrittenAndRelayed(t *testing.T) {
	in, st, sender, am, model := newTestInterpreter(t)
	model.rewritten = "¡Hola! Te cuento que el envío sale mañana 😊"
	state := models.NewConversationState("549204", adminNow)
	state.Step = models.StepWaitingOK
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}
	am.Raise("⏰ Cliente estancado 45 min", "549204", "", "", nil, nil)

	reply, err := in.Interpret(context.Background(), "549204", "decile que el envio sale mañana")
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	msgs := sender.sent["549204"]
	if len(msgs) != 1 || msgs[0] != model.rewritten {
		t.Errorf("expected rewritten text relayed, got %v", msgs)
	}
	if !strings.Contains(reply, model.rewritten) {
		t.Errorf("operator feedback should echo the relayed text, got %q", reply)
	}
	reloaded, _ := st.GetConversation("549204")
	if last := reloaded.LastBotMessage(); last != model.rewritten {
		t.Errorf("relay should enter history, got %q", last)
	}
	if len(am.List()) != 0 {
		t.Error("alert should be cleared after relay")
	}
}

func TestImplicitTargetUsesNewestAlert(t *testing.T) {
	in, st, _, am, _ := newTestInterpreter(t)
	seedReviewState(t, st, "549205")
	am.Raise("⏰ Cliente estancado", "549999", "", "", nil, nil)
	am.Raise("🛒 Pedido listo para revisar", "549205", "", "", nil, nil)

	if _, err := in.Interpret(context.Background(), "", "ok"); err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	state, _ := st.GetConversation("549205")
	if state.Step != models.StepWaitingFinalOK {
		t.Errorf("implicit target should resolve to the newest alert, got step %s", state.Step)
	}
}

func TestNoTargetAndNoAlertsFails(t *testing.T) {
	in, _, _, _, _ := newTestInterpreter(t)
	if _, err := in.Interpret(context.Background(), "", "dale"); err == nil {
		t.Error("expected error when no target can be resolved")
	}
}

func TestDailyReportDigestsActivity(t *testing.T) {
	in, st, _, _, model := newTestInterpreter(t)
	state := models.NewConversationState("549206", adminNow.Add(-time.Hour))
	state.Step = models.StepWaitingPriceOK
	state.LastActivityAt = adminNow.Add(-time.Hour)
	if err := st.SaveConversation(state); err != nil {
		t.Fatal(err)
	}
	if err := st.AddOrder(models.Order{
		ID: "ord-2", UserPhone: "549206", Total: 66900,
		Status: models.OrderStatusConfirmed, CreatedAt: adminNow.Add(-2 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	reply, err := in.Interpret(context.Background(), "", "!resumen")
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if reply == "" {
		t.Error("expected a report")
	}
	if !strings.Contains(model.report, "ord-2") || !strings.Contains(model.report, "66900") {
		t.Errorf("activity digest should include today's orders, got %q", model.report)
	}
}
