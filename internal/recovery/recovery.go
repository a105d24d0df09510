// Package recovery restores conversation state after a restart.
//
// The store is the source of truth, but two things go sour across a
// restart: conversations persisted under legacy step names, and orders
// that were sitting in human review when the process died. The startup
// pass migrates the former and re-alerts the operator about the latter.
package recovery

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/herbalis/salesbot/internal/alerts"
	"github.com/herbalis/salesbot/internal/flow"
	"github.com/herbalis/salesbot/internal/models"
	"github.com/herbalis/salesbot/internal/store"
	"github.com/herbalis/salesbot/internal/timeutil"
)

// Deps carries the collaborators the startup pass needs.
type Deps struct {
	Store  store.Store
	Alerts *alerts.Manager
	Clock  timeutil.Clock
	Logger *slog.Logger
}

// Report summarizes what the pass touched.
type Report struct {
	Scanned   int
	Migrated  int
	Realerted int
}

// Run scans every persisted conversation once. It is called before the
// transports start consuming messages.
func Run(deps Deps) (Report, error) {
	if deps.Store == nil {
		return Report{}, errors.New("recovery: store is required")
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.RealClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	states, err := deps.Store.ListConversations()
	if err != nil {
		return Report{}, fmt.Errorf("recovery: list conversations: %w", err)
	}

	var report Report
	now := deps.Clock.Now()
	for _, state := range states {
		report.Scanned++
		changed := migrateStep(state, logger)
		if realertReview(state, deps.Alerts, now) {
			report.Realerted++
		}
		if changed {
			report.Migrated++
			if err := deps.Store.SaveConversation(state); err != nil {
				logger.Error("recovery.Run: save failed", "phone", state.Phone, "error", err)
			}
		}
	}
	logger.Info("recovery.Run: startup pass finished",
		"scanned", report.Scanned, "migrated", report.Migrated, "realerted", report.Realerted)
	return report, nil
}

// migrateStep rewrites legacy or unknown step names to the current set.
func migrateStep(state *models.ConversationState, logger *slog.Logger) bool {
	migrated, ok := models.MigrateStep(state.Step)
	if ok {
		return false
	}
	old := state.Step
	state.Step = migrated
	if migrated == models.StepGreeting {
		state.ResetOrderFields()
	}
	logger.Warn("recovery.migrateStep: step migrated", "phone", state.Phone, "from", old, "to", migrated)
	return true
}

// realertReview re-raises the review alert for orders that were waiting
// on the operator when the process stopped. The in-memory alert ring
// does not survive restarts.
func realertReview(state *models.ConversationState, am *alerts.Manager, now time.Time) bool {
	if am == nil || state.Step != models.StepWaitingAdminOK || state.PendingOrder == nil {
		return false
	}
	waited := int(now.Sub(state.StepEnteredAt).Minutes())
	_, added := am.Raise("🛒 Pedido pendiente de revisión (reinicio)",
		state.Phone, state.Name,
		fmt.Sprintf("Esperando revisión hace %d min.\n%s", waited, flow.OrderDetails(state)),
		state.PendingOrder, nil)
	return added
}
