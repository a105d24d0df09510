// Package admin interprets operator commands sent from the control
// channel (an operator WhatsApp line or the dashboard).
//
// Commands are resolved in priority order: report requests, manual
// takeover, resume, order approval, and finally free-text instructions
// that are rewritten by the model and relayed to the customer.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/herbalis/salesbot/internal/alerts"
	"github.com/herbalis/salesbot/internal/flow"
	"github.com/herbalis/salesbot/internal/models"
	"github.com/herbalis/salesbot/internal/store"
	"github.com/herbalis/salesbot/internal/timeutil"
)

// confirmedOrderMessage is sent to the customer when the operator
// approves an order that already left the review step.
const confirmedOrderMessage = "¡Excelente! Tu pedido ya fue ingresado 🚀\n\n" +
	"Te vamos a avisar cuando lo despachemos con el número de seguimiento.\n\n" +
	"¡Muchas gracias por confiar en Herbalis!"

// Reporter generates operator-facing text with the model.
type Reporter interface {
	RewriteSuggestion(ctx context.Context, instruction string, history []models.HistoryEntry) string
	DailyReport(ctx context.Context, activity string) (string, error)
}

// Deps carries the collaborators an Interpreter needs.
type Deps struct {
	Store  store.Store
	Alerts *alerts.Manager
	Model  Reporter
	Sender flow.Sender
	Clock  timeutil.Clock
	Logger *slog.Logger
}

// Interpreter executes operator commands against customer conversations.
type Interpreter struct {
	store  store.Store
	alerts *alerts.Manager
	model  Reporter
	sender flow.Sender
	clock  timeutil.Clock
	logger *slog.Logger
}

// New builds an Interpreter. Store and Sender are required; the model is
// optional (report and relay commands degrade without it).
func New(deps Deps) (*Interpreter, error) {
	if deps.Store == nil {
		return nil, errors.New("admin: store is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("admin: sender is required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Interpreter{
		store:  deps.Store,
		alerts: deps.Alerts,
		model:  deps.Model,
		sender: deps.Sender,
		clock:  deps.Clock,
		logger: deps.Logger,
	}, nil
}

// Interpret runs one operator command. targetPhone names the customer the
// command applies to; when empty, the most recent alert's customer is
// used. The returned string is feedback for the operator channel.
func (i *Interpreter) Interpret(ctx context.Context, targetPhone, command string) (string, error) {
	text := strings.TrimSpace(command)
	if text == "" {
		return "", errors.New("admin: empty command")
	}
	lower := strings.ToLower(text)

	if lower == "!resumen" || lower == "!analisis" || lower == "!análisis" {
		return i.dailyReport(ctx)
	}

	phone := targetPhone
	if phone == "" {
		phone = i.lastAlertedPhone()
	}
	if phone == "" {
		return "", errors.New("admin: no target customer; reply to an alert or include the number")
	}

	if isTakeover(lower) {
		return i.takeover(phone)
	}
	if isResume(lower) {
		return i.resume(phone)
	}
	if isApproval(lower) {
		return i.approve(ctx, phone)
	}
	return i.relay(ctx, phone, text)
}

func isTakeover(lower string) bool {
	return strings.Contains(lower, "me encargo") || strings.Contains(lower, "intervenir")
}

func isResume(lower string) bool {
	return strings.Contains(lower, "reactivar") || strings.Contains(lower, "reanudar")
}

var approvalWords = map[string]bool{
	"ok": true, "dale": true, "si": true, "sí": true,
	"confirmar": true, "confirmado": true, "aprobar": true, "aprobado": true,
}

func isApproval(lower string) bool {
	return approvalWords[strings.TrimRight(lower, ".!")]
}

// takeover pauses the bot for the customer so the operator can answer
// directly. The alert is cleared so the queue reflects who handled it.
func (i *Interpreter) takeover(phone string) (string, error) {
	state, err := i.store.GetConversation(phone)
	if err != nil {
		return "", fmt.Errorf("admin: load conversation: %w", err)
	}
	if state == nil {
		return "", fmt.Errorf("admin: no conversation for %s", phone)
	}
	state.Paused = true
	if err := i.store.SaveConversation(state); err != nil {
		return "", fmt.Errorf("admin: save conversation: %w", err)
	}
	i.clearAlert(phone)
	i.logger.Info("Interpreter.takeover: bot paused", "phone", phone)
	return fmt.Sprintf("👤 Listo, el bot queda pausado para %s. Todo tuyo.", phone), nil
}

// resume hands the conversation back to the bot after a manual takeover.
func (i *Interpreter) resume(phone string) (string, error) {
	state, err := i.store.GetConversation(phone)
	if err != nil {
		return "", fmt.Errorf("admin: load conversation: %w", err)
	}
	if state == nil {
		return "", fmt.Errorf("admin: no conversation for %s", phone)
	}
	if !state.Paused {
		return fmt.Sprintf("El bot ya estaba activo para %s.", phone), nil
	}
	state.Paused = false
	state.LastActivityAt = i.clock.Now()
	if err := i.store.SaveConversation(state); err != nil {
		return "", fmt.Errorf("admin: save conversation: %w", err)
	}
	i.logger.Info("Interpreter.resume: bot reactivated", "phone", phone)
	return fmt.Sprintf("🤖 Bot reactivado para %s.", phone), nil
}

// approve confirms an order. A conversation sitting in human review gets
// the confirmation message and moves to the final-confirmation step;
// otherwise the newest unconfirmed order in the ledger is marked
// confirmed and the customer is notified.
func (i *Interpreter) approve(ctx context.Context, phone string) (string, error) {
	now := i.clock.Now()
	state, err := i.store.GetConversation(phone)
	if err != nil {
		return "", fmt.Errorf("admin: load conversation: %w", err)
	}

	if state != nil && state.Step == models.StepWaitingAdminOK && state.PendingOrder != nil {
		msg := flow.ConfirmationMessage(state)
		if err := i.sender.Send(ctx, phone, msg); err != nil {
			return "", fmt.Errorf("admin: send confirmation: %w", err)
		}
		state.AppendHistory(models.RoleBot, msg)
		state.TransitionTo(models.StepWaitingFinalOK, now)
		if err := i.store.SaveConversation(state); err != nil {
			return "", fmt.Errorf("admin: save conversation: %w", err)
		}
		i.clearAlert(phone)
		i.logger.Info("Interpreter.approve: order released to customer", "phone", phone)
		return fmt.Sprintf("✅ Pedido de %s confirmado y enviado al cliente.", phone), nil
	}

	order, err := i.store.FindPendingOrderByPhone(phone)
	if err != nil {
		return "", fmt.Errorf("admin: find pending order: %w", err)
	}
	if order == nil {
		return "", fmt.Errorf("admin: %s has no pending order to approve", phone)
	}
	if err := i.store.UpdateOrderStatus(order.ID, models.OrderStatusConfirmed); err != nil {
		return "", fmt.Errorf("admin: update order status: %w", err)
	}
	if err := i.sender.Send(ctx, phone, confirmedOrderMessage); err != nil {
		i.logger.Error("Interpreter.approve: send failed", "phone", phone, "error", err)
	}
	if state != nil {
		state.AppendHistory(models.RoleBot, confirmedOrderMessage)
		state.TransitionTo(models.StepCompleted, now)
		if err := i.store.SaveConversation(state); err != nil {
			return "", fmt.Errorf("admin: save conversation: %w", err)
		}
	}
	i.clearAlert(phone)
	i.logger.Info("Interpreter.approve: ledger order confirmed", "phone", phone, "order_id", order.ID)
	return fmt.Sprintf("✅ Pedido %s de %s marcado como confirmado.", order.ID, phone), nil
}

// relay rewrites the operator's free-text instruction in the assistant's
// voice and sends it to the customer.
func (i *Interpreter) relay(ctx context.Context, phone, instruction string) (string, error) {
	state, err := i.store.GetConversation(phone)
	if err != nil {
		return "", fmt.Errorf("admin: load conversation: %w", err)
	}
	if state == nil {
		return "", fmt.Errorf("admin: no conversation for %s", phone)
	}

	msg := instruction
	if i.model != nil {
		msg = i.model.RewriteSuggestion(ctx, instruction, state.History)
	}
	if err := i.sender.Send(ctx, phone, msg); err != nil {
		return "", fmt.Errorf("admin: send relay: %w", err)
	}
	state.AppendHistory(models.RoleBot, msg)
	state.LastActivityAt = i.clock.Now()
	if err := i.store.SaveConversation(state); err != nil {
		return "", fmt.Errorf("admin: save conversation: %w", err)
	}
	i.clearAlert(phone)
	i.logger.Info("Interpreter.relay: message relayed", "phone", phone)
	return fmt.Sprintf("📨 Enviado a %s:\n%s", phone, msg), nil
}

// dailyReport summarizes the day's activity for the operator.
func (i *Interpreter) dailyReport(ctx context.Context) (string, error) {
	if i.model == nil {
		return "", errors.New("admin: reports need the model configured")
	}
	activity, err := i.collectActivity()
	if err != nil {
		return "", err
	}
	report, err := i.model.DailyReport(ctx, activity)
	if err != nil {
		return "", fmt.Errorf("admin: daily report: %w", err)
	}
	return report, nil
}

// collectActivity builds the plain-text digest the report prompt works
// from: today's conversations by step plus the recorded orders.
func (i *Interpreter) collectActivity() (string, error) {
	now := i.clock.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, timeutil.ZoneAR)

	states, err := i.store.ListConversations()
	if err != nil {
		return "", fmt.Errorf("admin: list conversations: %w", err)
	}
	byStep := make(map[models.Step]int)
	active := 0
	for _, st := range states {
		if st.LastActivityAt.Before(dayStart) {
			continue
		}
		active++
		byStep[st.Step]++
	}

	orders, err := i.store.GetOrders()
	if err != nil {
		return "", fmt.Errorf("admin: list orders: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Fecha: %s\n", now.In(timeutil.ZoneAR).Format("2006-01-02"))
	fmt.Fprintf(&b, "Conversaciones activas hoy: %d\n", active)
	for step, n := range byStep {
		fmt.Fprintf(&b, "- %s: %d\n", step, n)
	}
	todays := 0
	var total int
	for _, o := range orders {
		if o.CreatedAt.Before(dayStart) {
			continue
		}
		todays++
		total += o.Total
		fmt.Fprintf(&b, "Pedido %s (%s): $%d [%s]\n", o.ID, o.UserPhone, o.Total, o.Status)
	}
	fmt.Fprintf(&b, "Pedidos del día: %d por $%d\n", todays, total)
	return b.String(), nil
}

// lastAlertedPhone resolves the implicit target: the customer behind the
// newest open alert.
func (i *Interpreter) lastAlertedPhone() string {
	if i.alerts == nil {
		return ""
	}
	list := i.alerts.List()
	if len(list) == 0 {
		return ""
	}
	return list[len(list)-1].UserPhone
}

func (i *Interpreter) clearAlert(phone string) {
	if i.alerts != nil {
		i.alerts.ClearForUser(phone)
	}
}
