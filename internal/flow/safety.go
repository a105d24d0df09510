package flow

import (
	"context"
	"strings"

	"github.com/herbalis/salesbot/internal/models"
)

// offensiveWords pauses the conversation on sight; the customer gets no
// automatic reply, only the operator is told.
var offensiveWords = []string{
	"puto", "pito", "chupa", "idiota", "estupido", "mierda", "verga",
	"concha", "tarado", "salame", "boludo", "trolo", "culo", "pija", "orto",
}

// offensiveFilter runs before everything else in the cascade. A match
// pauses the bot and alerts the operator without answering the customer.
func (e *Engine) offensiveFilter(state *models.ConversationState, text string) bool {
	lower := strings.ToLower(text)
	for _, w := range offensiveWords {
		if strings.Contains(lower, w) {
			state.Paused = true
			if e.alerts != nil {
				e.alerts.Raise("🤬 Lenguaje ofensivo detectado", state.Phone, state.Name, text, nil, nil)
			}
			e.logger.Warn("Engine.offensiveFilter: conversation paused", "phone", state.Phone)
			return true
		}
	}
	return false
}

// safetyInterrupt preempts all step logic while a minor/pregnancy/risk
// mention remains unresolved. An explicit adult-age disclosure resolves it
// permanently for the conversation.
func (e *Engine) safetyInterrupt(ctx context.Context, state *models.ConversationState, text string) (bool, error) {
	if state.SafetyResolved {
		return false, nil
	}

	if isAdultDisclosure(text) {
		if !state.SafetyFlagged {
			return false, nil
		}
		state.SafetyResolved = true
		e.logger.Info("Engine.safetyInterrupt: resolved by adult disclosure", "phone", state.Phone)
		reply, err := e.model.SafetyReply(ctx, text, state.History)
		if err != nil {
			reply = "¡Gracias por la aclaración! 😊 Siendo mayor de edad no hay problema. Sigamos con tu consulta."
		}
		e.sendUnlessRepeat(ctx, state, reply)
		return true, nil
	}

	if !isSafetyRisk(text) && !state.SafetyFlagged {
		return false, nil
	}

	state.SafetyFlagged = true
	reply, err := e.model.SafetyReply(ctx, text, state.History)
	if err != nil {
		e.logger.Warn("Engine.safetyInterrupt: model unavailable", "phone", state.Phone, "error", err)
		reply = "Este producto es solo para personas adultas y no se recomienda durante el embarazo o la lactancia 🙏 ¿Me confirmás que es para una persona mayor de 18 años?"
	}
	e.sendUnlessRepeat(ctx, state, reply)
	return true, nil
}
