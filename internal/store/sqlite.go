// Package store provides storage backends for the sales assistant.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"

	"github.com/herbalis/salesbot/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file
// path). Missing directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore ready", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetConversation(phone string) (*models.ConversationState, error) {
	var raw string
	err := s.db.QueryRow(`SELECT state FROM conversations WHERE phone = ?`, phone).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to load conversation %s: %w", phone, err)
	}
	var state models.ConversationState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		slog.Error("SQLiteStore GetConversation unmarshal failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to decode conversation %s: %w", phone, err)
	}
	return &state, nil
}

func (s *SQLiteStore) SaveConversation(state *models.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		slog.Error("SQLiteStore SaveConversation marshal failed", "error", err, "phone", state.Phone)
		return fmt.Errorf("failed to encode conversation %s: %w", state.Phone, err)
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO conversations (phone, state, updated_at) VALUES (?, ?, ?)`,
		state.Phone, string(raw), time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveConversation failed", "error", err, "phone", state.Phone)
		return fmt.Errorf("failed to save conversation %s: %w", state.Phone, err)
	}
	return nil
}

func (s *SQLiteStore) ListConversations() ([]*models.ConversationState, error) {
	rows, err := s.db.Query(`SELECT state FROM conversations`)
	if err != nil {
		slog.Error("SQLiteStore ListConversations query failed", "error", err)
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var states []*models.ConversationState
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			slog.Error("SQLiteStore ListConversations scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		var state models.ConversationState
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			// Skip corrupt rows rather than failing the whole sweep.
			slog.Error("SQLiteStore ListConversations unmarshal failed, skipping row", "error", err)
			continue
		}
		states = append(states, &state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversation rows: %w", err)
	}
	return states, nil
}

func (s *SQLiteStore) DeleteConversation(phone string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE phone = ?`, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteConversation failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete conversation %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) AddOrder(order models.Order) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", order.ID, err)
	}
	_, err = s.db.Exec(`INSERT INTO orders (id, user_phone, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.UserPhone, order.Status, string(raw), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddOrder failed", "error", err, "orderID", order.ID)
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}
	slog.Debug("SQLiteStore AddOrder succeeded", "orderID", order.ID, "phone", order.UserPhone)
	return nil
}

func (s *SQLiteStore) UpdateOrderStatus(orderID string, status models.OrderStatus) error {
	order, err := s.getOrder(orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order %s: %w", orderID, err)
	}
	_, err = s.db.Exec(`UPDATE orders SET status = ?, data = ?, updated_at = ? WHERE id = ?`,
		status, string(raw), order.UpdatedAt, orderID)
	if err != nil {
		slog.Error("SQLiteStore UpdateOrderStatus failed", "error", err, "orderID", orderID)
		return fmt.Errorf("failed to update order %s: %w", orderID, err)
	}
	return nil
}

func (s *SQLiteStore) getOrder(orderID string) (*models.Order, error) {
	var raw string
	err := s.db.QueryRow(`SELECT data FROM orders WHERE id = ?`, orderID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	var order models.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, fmt.Errorf("failed to decode order %s: %w", orderID, err)
	}
	return &order, nil
}

func (s *SQLiteStore) GetOrders() ([]models.Order, error) {
	rows, err := s.db.Query(`SELECT data FROM orders ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		var order models.Order
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			slog.Error("SQLiteStore GetOrders unmarshal failed, skipping row", "error", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (s *SQLiteStore) FindPendingOrderByPhone(phone string) (*models.Order, error) {
	rows, err := s.db.Query(`SELECT data FROM orders WHERE user_phone = ? AND status != ? ORDER BY created_at DESC LIMIT 1`,
		phone, models.OrderStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending order for %s: %w", phone, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var raw string
	if err := rows.Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to scan pending order row: %w", err)
	}
	var order models.Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return nil, fmt.Errorf("failed to decode pending order for %s: %w", phone, err)
	}
	return &order, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
