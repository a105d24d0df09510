package flow

import (
	"context"
	"strings"

	"github.com/herbalis/salesbot/internal/models"
	"github.com/herbalis/salesbot/internal/timeutil"
)

// pauseAndAlert hands the conversation to a human: the engine stops
// auto-responding until an operator clears the pause. Outside business
// hours the customer gets a polite deferral so the silence is explained.
func (e *Engine) pauseAndAlert(ctx context.Context, state *models.ConversationState, reason, details string) {
	state.Paused = true

	now := e.clock.Now()
	if !timeutil.IsBusinessHours(now) {
		e.send(ctx, state, "¡Gracias por escribirnos! 😊 A esta hora mi compañero no está disponible, pero mañana a primera hora te responde personalmente.")
	}

	if e.alerts != nil {
		e.alerts.Raise(reason, state.Phone, state.Name, details, state.PendingOrder, suggestionsFor(state.Step, details))
	}
	e.logger.Warn("Engine.pauseAndAlert: conversation escalated",
		"phone", state.Phone, "step", state.Step, "reason", reason)
}

// suggestionsFor proposes quick replies for the operator based on the
// objection category detected in the customer's message.
func suggestionsFor(step models.Step, message string) []string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "estafa") || strings.Contains(lower, "confianza") ||
		strings.Contains(lower, "no confio") || strings.Contains(lower, "no confío") ||
		strings.Contains(lower, "engaño") || strings.Contains(lower, "verdad"):
		return []string{
			"Entiendo tu duda 😊 Por eso no pedimos ningún pago anticipado: pagás recién cuando tenés el paquete en la mano.",
			"Trabajamos hace más de 13 años con envíos a todo el país. Si querés te paso el detalle del pedido antes de confirmar nada.",
		}
	case strings.Contains(lower, "datos") || strings.Contains(lower, "privacidad") ||
		strings.Contains(lower, "para que quer") || strings.Contains(lower, "para qué quer"):
		return []string{
			"Tus datos se usan únicamente para la etiqueta del envío de Correo Argentino, nada más 😊",
			"Solo necesitamos nombre y dirección para el despacho; no se comparten con nadie.",
		}
	case isPickupRequest(lower):
		return []string{
			"Por el momento trabajamos solo con envío a domicilio por Correo Argentino, ¡y es gratis! 📦",
			"No tenemos punto de retiro, pero el cartero te lo lleva a tu casa sin costo.",
		}
	case isNegative(message) || strings.Contains(lower, "no quiero"):
		return []string{
			"¡No hay problema! Si más adelante querés retomarlo, escribinos y seguimos desde donde quedamos 😊",
			"Dale, quedamos a disposición. ¿Hay algo puntual que te hizo dudar? Capaz te lo puedo aclarar.",
		}
	}
	if step == models.StepWaitingData {
		return []string{"Cuando puedas pasame nombre, calle y número, ciudad y código postal, y lo dejamos listo 📦"}
	}
	return nil
}
