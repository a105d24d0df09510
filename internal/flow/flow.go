// Package flow implements the sales conversation state machine.
//
// Each inbound message runs through a fixed decision cascade: safety
// interrupt, global FAQ match, step-scripted logic, AI fallback, and
// finally a pause-and-alert safety net so no message is ever dropped
// silently. The engine owns the per-user ConversationState and shares it
// with the scheduler and the admin command interpreter through the store.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/herbalis/salesbot/internal/address"
	"github.com/herbalis/salesbot/internal/alerts"
	"github.com/herbalis/salesbot/internal/genai"
	"github.com/herbalis/salesbot/internal/knowledge"
	"github.com/herbalis/salesbot/internal/models"
	"github.com/herbalis/salesbot/internal/store"
	"github.com/herbalis/salesbot/internal/timeutil"
)

// fallbackReply is sent when a model call fails mid-turn; the turn itself
// never crashes on an external failure.
const fallbackReply = "Estoy teniendo un pequeño problema técnico, ¿me repetís? 🙏"

// ModelClient is the slice of the model gateway the engine consumes.
type ModelClient interface {
	Chat(ctx context.Context, systemPrompt, goal string, history []models.HistoryEntry, userMessage string) (genai.ChatResult, error)
	ExtractAddress(ctx context.Context, text string) (*models.PartialAddress, error)
	Summarize(ctx context.Context, history []models.HistoryEntry) (string, error)
	ClassifyPostSale(ctx context.Context, message string, history []models.HistoryEntry) (genai.PostSaleAction, error)
	SafetyReply(ctx context.Context, message string, history []models.HistoryEntry) (string, error)
}

// Sender delivers outbound messages to the customer.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// OrderLedger records finalized orders. *store.OrderWriter satisfies it.
type OrderLedger interface {
	Append(order models.Order)
	UpdateStatus(orderID string, status models.OrderStatus)
}

// Deps collects the engine's collaborators.
type Deps struct {
	Store     store.Store
	Model     ModelClient
	Knowledge *knowledge.Store
	Validator *address.Validator
	Alerts    *alerts.Manager
	Orders    OrderLedger
	Sender    Sender
	Clock     timeutil.Clock
	Logger    *slog.Logger
}

// Engine is the per-user finite-state machine driving the sales funnel.
type Engine struct {
	store     store.Store
	model     ModelClient
	kb        *knowledge.Store
	validator *address.Validator
	alerts    *alerts.Manager
	orders    OrderLedger
	sender    Sender
	clock     timeutil.Clock
	logger    *slog.Logger

	mu    sync.Mutex
	turns map[string]*sync.Mutex
}

// NewEngine wires an Engine from its dependencies.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Store == nil || deps.Model == nil || deps.Knowledge == nil || deps.Sender == nil {
		return nil, fmt.Errorf("flow.NewEngine: store, model, knowledge and sender are required")
	}
	if deps.Validator == nil {
		deps.Validator = address.NewValidator(nil, deps.Logger)
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Engine{
		store:     deps.Store,
		model:     deps.Model,
		kb:        deps.Knowledge,
		validator: deps.Validator,
		alerts:    deps.Alerts,
		orders:    deps.Orders,
		sender:    deps.Sender,
		clock:     deps.Clock,
		logger:    deps.Logger,
		turns:     make(map[string]*sync.Mutex),
	}, nil
}

// turnLock returns the per-user mutex so a turn is never re-entered for
// the same phone while an earlier one is still running.
func (e *Engine) turnLock(phone string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.turns[phone]
	if !ok {
		l = &sync.Mutex{}
		e.turns[phone] = l
	}
	return l
}

// HandleMessage processes one debounced inbound message. Paused users get
// no automatic reply; everything else ends in either a sent response or an
// operator alert.
func (e *Engine) HandleMessage(ctx context.Context, phone, text string) error {
	text = strings.TrimSpace(text)
	if phone == "" {
		return models.ErrEmptyRecipient
	}
	if text == "" {
		return nil
	}

	lock := e.turnLock(phone)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.store.GetConversation(phone)
	if err != nil {
		return fmt.Errorf("Engine.HandleMessage: load conversation: %w", err)
	}
	now := e.clock.Now()
	if state == nil {
		state = models.NewConversationState(phone, now)
	}
	if state.Paused {
		e.logger.Debug("Engine.HandleMessage: user paused, skipping", "phone", phone)
		state.AppendHistory(models.RoleUser, text)
		state.LastActivityAt = now
		if err := e.store.SaveConversation(state); err != nil {
			return err
		}
		return models.ErrUserPaused
	}

	state.LastActivityAt = now
	state.AppendHistory(models.RoleUser, text)

	// Self-heal persisted legacy or corrupt step values, then reprocess
	// the same message once against the corrected step.
	if migrated, clean := models.MigrateStep(state.Step); !clean {
		e.logger.Warn("Engine.HandleMessage: migrating unknown step",
			"phone", phone, "from", state.Step, "to", migrated)
		if migrated == models.StepGreeting {
			state.ResetOrderFields()
		}
		state.TransitionTo(migrated, now)
	}

	matched, err := e.dispatch(ctx, state, text)
	if err != nil {
		e.logger.Error("Engine.HandleMessage: dispatch failed", "phone", phone, "step", state.Step, "error", err)
		e.send(ctx, state, fallbackReply)
		matched = true
	}
	if !matched {
		e.pauseAndAlert(ctx, state, "🤷 Mensaje sin respuesta del guión", text)
	}

	e.compactHistory(ctx, state)

	// The turn suspends across model calls and send delays; an operator
	// may pause the conversation in the meantime. Re-check so the final
	// save never overwrites a takeover.
	if latest, err := e.store.GetConversation(phone); err == nil && latest != nil && latest.Paused {
		state.Paused = true
	}
	if err := e.store.SaveConversation(state); err != nil {
		return fmt.Errorf("Engine.HandleMessage: save conversation: %w", err)
	}
	return nil
}

// dispatch runs the decision cascade for one message.
func (e *Engine) dispatch(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if handled := e.offensiveFilter(state, text); handled {
		return true, nil
	}
	if handled, err := e.safetyInterrupt(ctx, state, text); handled || err != nil {
		return handled, err
	}
	if handled := e.faqMatch(ctx, state, text); handled {
		return true, nil
	}
	return e.handleStep(ctx, state, text)
}

// faqMatch checks the knowledge-base FAQ list and the delivery-day
// question pattern. After an FAQ answer the engine nudges the user back to
// the current step, unless the FAQ itself forced a step change.
func (e *Engine) faqMatch(ctx context.Context, state *models.ConversationState, text string) bool {
	if asksForDeliveryDay(text) {
		e.send(ctx, state, "El día exacto de entrega depende de Correo Argentino y no lo podemos garantizar 😅 Lo que sí podemos es postdatar el despacho para que te llegue a partir de una fecha. ¡Avisame si querés!")
		e.sendRedirect(ctx, state)
		return true
	}

	faq, ok := e.kb.MatchFAQ(text)
	if !ok {
		return false
	}
	e.send(ctx, state, faq.Response)
	if faq.TriggerStep != "" {
		state.TransitionTo(faq.TriggerStep, e.clock.Now())
		e.logger.Info("Engine.faqMatch: FAQ forced step change", "phone", state.Phone, "step", faq.TriggerStep)
		return true
	}
	e.sendRedirect(ctx, state)
	return true
}

// sendRedirect sends the step's nudge phrase, when one is configured.
func (e *Engine) sendRedirect(ctx context.Context, state *models.ConversationState) {
	if nudge := e.kb.Redirect(state.Step); nudge != "" {
		e.send(ctx, state, nudge)
	}
}

// send delivers one message and records it in history. Delivery errors are
// logged, not retried; the turn continues.
func (e *Engine) send(ctx context.Context, state *models.ConversationState, text string) {
	if text == "" {
		return
	}
	if err := e.sender.Send(ctx, state.Phone, text); err != nil {
		e.logger.Error("Engine.send: delivery failed", "phone", state.Phone, "error", err)
	}
	state.AppendHistory(models.RoleBot, text)
}

// sendUnlessRepeat delivers an AI-sourced message unless it is a
// near-identical repeat of the most recent bot message.
func (e *Engine) sendUnlessRepeat(ctx context.Context, state *models.ConversationState, text string) {
	if isNearRepeat(state.LastBotMessage(), text) {
		e.logger.Debug("Engine.sendUnlessRepeat: duplicate reply suppressed", "phone", state.Phone)
		return
	}
	e.send(ctx, state, text)
}

// isNearRepeat compares two messages case-insensitively on a prefix so
// trailing variation does not defeat the check.
func isNearRepeat(last, next string) bool {
	a := strings.ToLower(strings.TrimSpace(last))
	b := strings.ToLower(strings.TrimSpace(next))
	if a == "" || b == "" {
		return false
	}
	const prefix = 80
	if len(a) > prefix {
		a = a[:prefix]
	}
	if len(b) > prefix {
		b = b[:prefix]
	}
	return a == b
}

// aiChat calls the model gateway, degrading to the generic fallback reply
// when the model is unavailable so the turn always produces something.
func (e *Engine) aiChat(ctx context.Context, state *models.ConversationState, text, goal string) genai.ChatResult {
	history := state.History
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser && history[n-1].Content == text {
		history = history[:n-1]
	}
	res, err := e.model.Chat(ctx, personaPrompt(), goal, history, text)
	if err != nil {
		e.logger.Warn("Engine.aiChat: model unavailable, degrading", "phone", state.Phone, "error", err)
		return genai.ChatResult{Response: fallbackReply}
	}
	return res
}

// compactHistory condenses long transcripts to a summary plus the most
// recent entries. A failed summarization leaves history untouched for the
// next turn to retry.
func (e *Engine) compactHistory(ctx context.Context, state *models.ConversationState) {
	if len(state.History) <= models.HistoryMaxEntries {
		return
	}
	summary, err := e.model.Summarize(ctx, state.History)
	if err != nil {
		e.logger.Warn("Engine.compactHistory: summarize failed", "phone", state.Phone, "error", err)
		return
	}
	state.Summary = summary
	state.History = append([]models.HistoryEntry(nil), state.History[len(state.History)-models.HistoryKeepRecent:]...)
	e.logger.Info("Engine.compactHistory: history compacted", "phone", state.Phone, "kept", len(state.History))
}
