// Package scheduler runs the periodic conversation sweeps: auto-approval
// of unreviewed orders, stale-conversation alerts, cold-lead re-engagement,
// and cleanup of abandoned state.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/herbalis/salesbot/internal/alerts"
	"github.com/herbalis/salesbot/internal/flow"
	"github.com/herbalis/salesbot/internal/models"
	"github.com/herbalis/salesbot/internal/store"
	"github.com/herbalis/salesbot/internal/timeutil"
	"github.com/herbalis/salesbot/internal/util"
)

// Sweep thresholds.
const (
	StaleThreshold       = 30 * time.Minute
	ColdLeadThreshold    = 24 * time.Hour
	AbandonedCartMin     = 24 * time.Hour
	AbandonedCartMax     = 48 * time.Hour
	AutoApproveThreshold = 15 * time.Minute
	CleanupThreshold     = 30 * 24 * time.Hour
)

// DefaultCronSpec runs the sweep every 10 minutes.
const DefaultCronSpec = "*/10 * * * *"

// contextualFollowUps holds the cold-lead nudges per funnel stage; one is
// picked at random so repeat leads do not all get the same text.
var contextualFollowUps = map[models.Step][]string{
	models.StepWaitingWeight: {
		"¡Hola! 😊 Quedó pendiente saber cuántos kilos te gustaría bajar para recomendarte lo mejor. ¿Estás por ahí?",
		"¡Hola! Vi que consultaste. Seguimos acá para ayudarte. ¿Cuántos kilos buscás bajar más o menos?",
	},
	models.StepWaitingPreference: {
		"¡Hola! 😊 ¿Pudiste pensar con cuál preferís arrancar, cápsulas o semillas? Acordate que el envío es gratis.",
		"Hola 👋 Vi que estabas viendo las opciones. Cualquier duda sobre cuál es mejor para vos, decime y te ayudo.",
	},
	models.StepWaitingPriceOK: {
		"¡Hola! 😊 Quedaste a un pasito de ver los precios. ¿Querés que te los pase así los vas mirando?",
		"Hola 👋 Si querés te paso los precios sin compromiso para que los tengas. ¿Te los mando?",
	},
	models.StepWaitingPlanChoice: {
		"¡Hola! 😊 ¿Pudiste revisar los tratamientos? Avisame si querés arrancar con el de 60 o el de 120 días.",
		"Hola 👋 Te escribo cortito por si te quedó alguna duda con los planes. ¿Con cuál te gustaría avanzar?",
	},
	models.StepWaitingOK: {
		"¡Hola! 😊 Tengo anotado tu producto pero me faltó tu confirmación para armar el pedido. ¿Avanzamos?",
		"Hola 👋 ¿Todo bien? Avisame si confirmamos tu pedido de Herbalis así ya te lo preparamos 📦",
	},
	models.StepWaitingData: {
		"¡Hola! 😊 Solo me faltaban tus datitos de envío (nombre, dirección, ciudad, CP) para prepararte el paquete. ¿Me los pasás?",
		"Hola 👋 Vi que nos faltó completar los datos para el envío gratis. Cuando tengas un segundito pasamelos así ya te lo despacho 📦",
	},
}

var genericFollowUps = []string{
	"¡Hola! 😊 Quedó algo pendiente de tu consulta. ¿Querés que te ayude a terminar?",
	"¡Hola! Vi que quedaste a medio camino. ¿Te puedo ayudar con algo? 😊",
}

// Deps collects the sweep's collaborators.
type Deps struct {
	Store  store.Store
	Alerts *alerts.Manager
	Orders flow.OrderLedger
	Sender flow.Sender
	Clock  timeutil.Clock
	Logger *slog.Logger
}

// Scheduler owns the cron runner and the sweep passes.
type Scheduler struct {
	cron   *cron.Cron
	store  store.Store
	alerts *alerts.Manager
	orders flow.OrderLedger
	sender flow.Sender
	clock  timeutil.Clock
	logger *slog.Logger
}

// New builds a Scheduler. Call Start to begin sweeping.
func New(deps Deps) (*Scheduler, error) {
	if deps.Store == nil || deps.Sender == nil {
		return nil, fmt.Errorf("scheduler.New: store and sender are required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{
		cron:   c,
		store:  deps.Store,
		alerts: deps.Alerts,
		orders: deps.Orders,
		sender: deps.Sender,
		clock:  deps.Clock,
		logger: deps.Logger,
	}, nil
}

// Start registers the sweep on the cron spec and starts the runner.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultCronSpec
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("scheduler.Start: %w", err)
	}
	s.cron.Start()
	s.logger.Info("Scheduler.Start: sweep scheduled", "spec", spec)
	return nil
}

// Stop stops the cron runner and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs all the passes over every conversation. Auto-approval runs
// first so a just-approved conversation is not also flagged as stale.
func (s *Scheduler) Sweep(ctx context.Context) {
	states, err := s.store.ListConversations()
	if err != nil {
		s.logger.Error("Scheduler.Sweep: list conversations failed", "error", err)
		return
	}
	now := s.clock.Now()
	for _, state := range states {
		approved := s.autoApprove(ctx, state, now)
		stale := s.checkStale(state, now)
		cold := s.checkColdLead(ctx, state, now)
		cart := s.checkAbandonedCart(ctx, state, now)
		if approved || stale || cold || cart {
			if err := s.store.SaveConversation(state); err != nil {
				s.logger.Error("Scheduler.Sweep: save failed", "phone", state.Phone, "error", err)
			}
		}
	}
	s.cleanup(states, now)
}

// autoApprove releases orders that sat in human review too long. The order
// is recorded with an explicit auto-approved status so the operator can
// audit it later.
func (s *Scheduler) autoApprove(ctx context.Context, state *models.ConversationState, now time.Time) bool {
	if state.Step != models.StepWaitingAdminOK || state.PendingOrder == nil {
		return false
	}
	if now.Sub(state.StepEnteredAt) <= AutoApproveThreshold {
		return false
	}

	msg := flow.ConfirmationMessage(state)
	if err := s.sender.Send(ctx, state.Phone, msg); err != nil {
		s.logger.Error("Scheduler.autoApprove: send failed", "phone", state.Phone, "error", err)
	}
	state.AppendHistory(models.RoleBot, msg)

	if s.orders != nil {
		s.orders.Append(flow.OrderFromState(state, models.OrderStatusAutoApproved, now))
	}
	state.TransitionTo(models.StepWaitingFinalOK, now)

	if s.alerts != nil {
		s.alerts.Raise("⚡ Pedido auto-aprobado sin revisión", state.Phone, state.Name,
			fmt.Sprintf("Aprobado automáticamente tras %d min sin revisión.\n%s\n⚠️ Revisar en el panel de ventas.",
				int(AutoApproveThreshold.Minutes()), flow.OrderDetails(state)),
			state.PendingOrder, nil)
	}
	s.logger.Info("Scheduler.autoApprove: order auto-approved",
		"phone", state.Phone, "waited", now.Sub(state.LastActivityAt))
	return true
}

// checkStale raises a one-time alert for conversations stuck on a step.
// The admin-review step is excluded; autoApprove owns it.
func (s *Scheduler) checkStale(state *models.ConversationState, now time.Time) bool {
	switch state.Step {
	case models.StepCompleted, models.StepGreeting, models.StepWaitingAdminOK:
		return false
	}
	if state.Paused || state.StaleAlerted {
		return false
	}
	elapsed := now.Sub(state.StepEnteredAt)
	if elapsed <= StaleThreshold {
		return false
	}

	if s.alerts != nil {
		s.alerts.Raise(fmt.Sprintf("⏰ Cliente estancado %d min", int(elapsed.Minutes())),
			state.Phone, state.Name,
			fmt.Sprintf("Paso: %s\nProducto: %s", state.Step, orFallback(state.SelectedProduct, "?")),
			state.PendingOrder, nil)
	}
	state.StaleAlerted = true
	s.logger.Info("Scheduler.checkStale: stale conversation flagged",
		"phone", state.Phone, "step", state.Step, "elapsed", elapsed)
	return true
}

// checkColdLead sends one follow-up to inactive leads on recoverable
// steps, only during business hours.
func (s *Scheduler) checkColdLead(ctx context.Context, state *models.ConversationState, now time.Time) bool {
	if !models.ReengageableSteps[state.Step] {
		return false
	}
	if state.Paused || state.ReengagementSent {
		return false
	}
	if !timeutil.IsBusinessHours(now) {
		return false
	}
	if now.Sub(state.LastActivityAt) <= ColdLeadThreshold {
		return false
	}

	msgs := contextualFollowUps[state.Step]
	if len(msgs) == 0 {
		msgs = genericFollowUps
	}
	msg := util.PickRandom(msgs)
	if err := s.sender.Send(ctx, state.Phone, msg); err != nil {
		s.logger.Error("Scheduler.checkColdLead: send failed", "phone", state.Phone, "error", err)
	}
	state.AppendHistory(models.RoleBot, msg)
	state.ReengagementSent = true
	s.logger.Info("Scheduler.checkColdLead: follow-up sent", "phone", state.Phone, "step", state.Step)
	return true
}

// abandonedCartMessage is the one retargeting nudge for leads stuck in
// the 24-48h window; past 48h the lead is considered lost.
const abandonedCartMessage = "Hola, ¿te quedó alguna duda con los planes? Avisame que te guardo la promo con envío gratis."

// checkAbandonedCart sends one recovery message to funnel leads inactive
// between 24 and 48 hours, only during business hours.
func (s *Scheduler) checkAbandonedCart(ctx context.Context, state *models.ConversationState, now time.Time) bool {
	if !models.ReengageableSteps[state.Step] {
		return false
	}
	if state.Paused || state.CartRecovered {
		return false
	}
	if !timeutil.IsBusinessHours(now) {
		return false
	}
	elapsed := now.Sub(state.LastActivityAt)
	if elapsed <= AbandonedCartMin || elapsed >= AbandonedCartMax {
		return false
	}

	if err := s.sender.Send(ctx, state.Phone, abandonedCartMessage); err != nil {
		s.logger.Error("Scheduler.checkAbandonedCart: send failed", "phone", state.Phone, "error", err)
	}
	state.AppendHistory(models.RoleBot, abandonedCartMessage)
	state.CartRecovered = true
	s.logger.Info("Scheduler.checkAbandonedCart: recovery sent",
		"phone", state.Phone, "step", state.Step, "inactive", elapsed)
	return true
}

// cleanup deletes conversations abandoned past the retention threshold,
// keeping completed ones for order reference.
func (s *Scheduler) cleanup(states []*models.ConversationState, now time.Time) {
	removed := 0
	for _, state := range states {
		if state.Step == models.StepCompleted {
			continue
		}
		if now.Sub(state.LastActivityAt) <= CleanupThreshold {
			continue
		}
		if err := s.store.DeleteConversation(state.Phone); err != nil {
			s.logger.Error("Scheduler.cleanup: delete failed", "phone", state.Phone, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Scheduler.cleanup: abandoned conversations removed", "count", removed)
	}
}

func orFallback(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
