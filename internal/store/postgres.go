// Package store provides storage backends for the sales assistant.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"

	"github.com/herbalis/salesbot/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore ready")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetConversation(phone string) (*models.ConversationState, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT state FROM conversations WHERE phone = $1`, phone).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to load conversation %s: %w", phone, err)
	}
	var state models.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", phone, err)
	}
	return &state, nil
}

func (s *PostgresStore) SaveConversation(state *models.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", state.Phone, err)
	}
	_, err = s.db.Exec(`INSERT INTO conversations (phone, state, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		state.Phone, raw, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SaveConversation failed", "error", err, "phone", state.Phone)
		return fmt.Errorf("failed to save conversation %s: %w", state.Phone, err)
	}
	return nil
}

func (s *PostgresStore) ListConversations() ([]*models.ConversationState, error) {
	rows, err := s.db.Query(`SELECT state FROM conversations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var states []*models.ConversationState
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		var state models.ConversationState
		if err := json.Unmarshal(raw, &state); err != nil {
			slog.Error("PostgresStore ListConversations unmarshal failed, skipping row", "error", err)
			continue
		}
		states = append(states, &state)
	}
	return states, rows.Err()
}

func (s *PostgresStore) DeleteConversation(phone string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE phone = $1`, phone)
	if err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) AddOrder(order models.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", order.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO orders (id, user_phone, status, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, order.UserPhone, order.Status, raw, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore AddOrder failed", "error", err, "orderID", order.ID)
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}
	return nil
}

func (s *PostgresStore) UpdateOrderStatus(orderID string, status models.OrderStatus) error {
	var raw []byte
	err := s.db.QueryRow(`SELECT data FROM orders WHERE id = $1`, orderID).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	var order models.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return fmt.Errorf("failed to decode order %s: %w", orderID, err)
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	updated, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", orderID, err)
	}
	_, err = s.db.Exec(`UPDATE orders SET status = $1, data = $2, updated_at = $3 WHERE id = $4`,
		status, updated, order.UpdatedAt, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order %s: %w", orderID, err)
	}
	return nil
}

func (s *PostgresStore) GetOrders() ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT data FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		var order models.Order
		if err := json.Unmarshal(raw, &order); err != nil {
			slog.Error("PostgresStore GetOrders unmarshal failed, skipping row", "error", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) FindPendingOrderByPhone(phone string) (*models.Order, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT data FROM orders WHERE user_phone = $1 AND status != $2 ORDER BY created_at DESC LIMIT 1`,
		phone, models.OrderStatusConfirmed).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pending order for %s: %w", phone, err)
	}
	var order models.Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("failed to decode pending order for %s: %w", phone, err)
	}
	return &order, nil
}

// Close closes the PostgreSQL connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
