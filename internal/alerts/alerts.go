// Package alerts manages the operator alert feed: a bounded in-memory
// ring plus fire-and-forget fan-out to the dashboard channel.
package alerts

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/herbalis/salesbot/internal/models"
)

// MaxAlerts bounds the ring; older alerts fall off the front.
const MaxAlerts = 50

// DedupeWindow suppresses a repeat alert for the same user and reason.
const DedupeWindow = 8 * time.Second

// Emitter receives alert events for the dashboard. Implementations must
// not block; delivery is best-effort.
type Emitter interface {
	NewAlert(alert models.Alert)
	AlertsUpdated(alerts []models.Alert)
}

// Manager owns the alert ring.
type Manager struct {
	mu      sync.Mutex
	alerts  []models.Alert
	emitter Emitter
	logger  *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

// NewManager creates a Manager. emitter may be nil.
func NewManager(emitter Emitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{emitter: emitter, logger: logger, now: time.Now}
}

// Raise appends an alert unless an identical user+reason alert landed
// within the dedupe window. It returns the stored alert and whether it
// was actually added.
func (m *Manager) Raise(reason, userPhone, userName, details string, orderData *models.PendingOrder, suggestions []string) (models.Alert, bool) {
	m.mu.Lock()
	now := m.now()
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if a.UserPhone == userPhone && a.Reason == reason && now.Sub(a.Timestamp) < DedupeWindow {
			m.mu.Unlock()
			m.logger.Debug("Manager.Raise: duplicate alert suppressed", "reason", reason, "phone", userPhone)
			return a, false
		}
	}

	alert := models.Alert{
		ID:          uuid.NewString(),
		Timestamp:   now,
		Reason:      reason,
		UserPhone:   userPhone,
		UserName:    userName,
		Details:     details,
		OrderData:   orderData,
		Suggestions: suggestions,
	}
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > MaxAlerts {
		m.alerts = m.alerts[len(m.alerts)-MaxAlerts:]
	}
	snapshot := append([]models.Alert(nil), m.alerts...)
	m.mu.Unlock()

	m.logger.Info("Manager.Raise: alert raised", "reason", reason, "phone", userPhone)
	if m.emitter != nil {
		m.emitter.NewAlert(alert)
		m.emitter.AlertsUpdated(snapshot)
	}
	return alert, true
}

// ClearForUser drops every alert for a phone, returning how many were
// removed. Called when a human takes over or resolves the conversation.
func (m *Manager) ClearForUser(userPhone string) int {
	m.mu.Lock()
	kept := m.alerts[:0]
	removed := 0
	for _, a := range m.alerts {
		if a.UserPhone == userPhone {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	snapshot := append([]models.Alert(nil), m.alerts...)
	m.mu.Unlock()

	if removed > 0 && m.emitter != nil {
		m.emitter.AlertsUpdated(snapshot)
	}
	return removed
}

// PendingForUser reports whether any alert is outstanding for a phone.
func (m *Manager) PendingForUser(userPhone string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.UserPhone == userPhone {
			return true
		}
	}
	return false
}

// List returns a copy of the current alerts, oldest first.
func (m *Manager) List() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Alert(nil), m.alerts...)
}
