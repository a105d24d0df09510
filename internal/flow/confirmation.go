package flow

import (
	"fmt"
	"strings"

	"github.com/herbalis/salesbot/internal/knowledge"
	"github.com/herbalis/salesbot/internal/models"
)

// ConfirmationMessage builds the shipping-confirmation text sent when an
// order is approved, manually or by the auto-approve sweep.
func ConfirmationMessage(state *models.ConversationState) string {
	if state.PendingOrder == nil {
		return "Pedido confirmado."
	}

	var lines []string
	for _, item := range state.PendingOrder.Cart {
		lines = append(lines, fmt.Sprintf("%s - Plan %d días", item.Product, item.PlanDays))
	}
	if len(lines) == 0 && state.SelectedProduct != "" {
		lines = append(lines, fmt.Sprintf("%s - Plan %d días", state.SelectedProduct, state.SelectedPlan))
	}

	addr := state.PendingOrder.Address
	deref := func(s *string) string {
		if s == nil {
			return "?"
		}
		return *s
	}
	cityLine := deref(addr.City)
	if addr.Province != nil && *addr.Province != "" {
		cityLine += ", " + *addr.Province
	}

	var sb strings.Builder
	sb.WriteString("✅ *¡Genial! Pedido en preparación.*\n\n")
	sb.WriteString("Recibís este mensaje porque tu pedido fue aprobado.\n\n")
	sb.WriteString("*Detalle:*\n")
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n\n*Envío a:*\n")
	sb.WriteString(deref(addr.Name) + "\n")
	sb.WriteString(deref(addr.Street) + "\n")
	sb.WriteString(cityLine + "\n")
	sb.WriteString("CP: " + deref(addr.PostalCode) + "\n")
	sb.WriteString("Total a pagar al recibir: $" + knowledge.FormatPrice(state.PendingOrder.Total))
	if state.Postdated != "" {
		sb.WriteString("\n\n📌 *Nota de entrega:* despacho postdatado para el " + state.Postdated)
	}
	sb.WriteString("\n\nEn las próximas 24/48hs hábiles te enviaremos el código de seguimiento. ¡Gracias por confiar en Herbalis! 🌱")
	return sb.String()
}

// OrderDetails renders an operator-facing one-paragraph order summary for
// alerts.
func OrderDetails(state *models.ConversationState) string {
	if state.PendingOrder == nil {
		return ""
	}
	var products []string
	for _, item := range state.PendingOrder.Cart {
		products = append(products, fmt.Sprintf("%s (%d días)", item.Product, item.PlanDays))
	}
	addr := state.PendingOrder.Address
	get := func(s *string) string {
		if s == nil {
			return "?"
		}
		return *s
	}
	return fmt.Sprintf("Pedido: %s\nEnvío: %s, %s, %s, CP %s\nTotal: $%s",
		strings.Join(products, " + "),
		get(addr.Name), get(addr.Street), get(addr.City), get(addr.PostalCode),
		knowledge.FormatPrice(state.PendingOrder.Total))
}
