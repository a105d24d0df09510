package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/herbalis/salesbot/internal/models"
)

// alertSendTimeout bounds each operator delivery.
const alertSendTimeout = 15 * time.Second

// AlertNotifier forwards new alerts to the operator WhatsApp numbers.
// It satisfies the alerts emitter contract: calls never block, delivery
// happens in a background goroutine.
type AlertNotifier struct {
	service Service
	numbers []string
	logger  *slog.Logger
}

// NewAlertNotifier builds a notifier for the given operator numbers.
func NewAlertNotifier(service Service, numbers []string, logger *slog.Logger) *AlertNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	valid := make([]string, 0, len(numbers))
	for _, n := range numbers {
		canonical, err := CanonicalizePhone(n)
		if err != nil {
			logger.Warn("AlertNotifier: skipping invalid operator number", "number", n, "error", err)
			continue
		}
		valid = append(valid, canonical)
	}
	return &AlertNotifier{service: service, numbers: valid, logger: logger}
}

// NewAlert fans the alert out to every operator number.
func (n *AlertNotifier) NewAlert(alert models.Alert) {
	if len(n.numbers) == 0 {
		return
	}
	text := FormatAlert(alert)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), alertSendTimeout)
		defer cancel()
		for _, number := range n.numbers {
			if err := n.service.SendMessage(ctx, number, text); err != nil {
				n.logger.Error("AlertNotifier.NewAlert: delivery failed",
					"operator", number, "error", err)
			}
		}
	}()
}

// AlertsUpdated is a dashboard concern; the WhatsApp channel ignores it.
func (n *AlertNotifier) AlertsUpdated(alerts []models.Alert) {}

// FormatAlert renders an alert as an operator WhatsApp message.
func FormatAlert(alert models.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 *%s*\n", alert.Reason)
	fmt.Fprintf(&b, "Cliente: %s", alert.UserPhone)
	if alert.UserName != "" {
		fmt.Fprintf(&b, " (%s)", alert.UserName)
	}
	b.WriteString("\n")
	if alert.Details != "" {
		fmt.Fprintf(&b, "\n%s\n", alert.Details)
	}
	if len(alert.Suggestions) > 0 {
		b.WriteString("\nRespuestas sugeridas:\n")
		for i, s := range alert.Suggestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
	}
	b.WriteString("\nRespondé acá para contestarle al cliente, o \"me encargo\" para tomar la conversación.")
	return b.String()
}
