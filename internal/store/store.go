// Package store provides storage backends for the sales assistant.
//
// Conversations and orders persist through a common Store interface with
// SQLite, PostgreSQL, and in-memory implementations, selected by DSN.
package store

import (
	"strings"

	"github.com/herbalis/salesbot/internal/models"
)

// Store is the persistence surface shared by the flow engine, the
// scheduler, and the admin command interpreter.
type Store interface {
	// GetConversation returns the state for a phone, or (nil, nil) when
	// the user has never written.
	GetConversation(phone string) (*models.ConversationState, error)
	SaveConversation(state *models.ConversationState) error
	ListConversations() ([]*models.ConversationState, error)
	DeleteConversation(phone string) error

	AddOrder(order models.Order) error
	UpdateOrderStatus(orderID string, status models.OrderStatus) error
	GetOrders() ([]models.Order, error)
	// FindPendingOrderByPhone returns the newest non-confirmed order for a
	// customer, or (nil, nil) when there is none.
	FindPendingOrderByPhone(phone string) (*models.Order, error)

	Close() error
}

// Opts holds configuration collected from functional options.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN: a postgres:// URL selects PostgreSQL,
// anything else is treated as a SQLite file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// FromDSN builds the backend matching the DSN scheme. An empty DSN yields
// the in-memory store (useful for tests and dry runs).
func FromDSN(dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(WithDSN(dsn))
	default:
		return NewSQLiteStore(WithDSN(dsn))
	}
}
