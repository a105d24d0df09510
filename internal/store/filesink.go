package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/herbalis/salesbot/internal/models"
)

// FileSink exports orders to an append-only JSONL ledger file. Each line
// is either a full order record or a status change, so the file replays
// into the same end state the database holds.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// sinkRecord is one exported ledger line.
type sinkRecord struct {
	Event   string        `json:"event"` // "order" or "status"
	Order   *models.Order `json:"order,omitempty"`
	OrderID string        `json:"order_id,omitempty"`
	Status  string        `json:"status,omitempty"`
	At      time.Time     `json:"at"`
}

// NewFileSink creates the sink. The file is created on first write.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Append exports a new order.
func (s *FileSink) Append(order models.Order) error {
	return s.write(sinkRecord{Event: "order", Order: &order, At: time.Now()})
}

// UpdateStatus exports a status change for an already exported order.
func (s *FileSink) UpdateStatus(orderID string, status models.OrderStatus) error {
	return s.write(sinkRecord{Event: "status", OrderID: orderID, Status: string(status), At: time.Now()})
}

func (s *FileSink) write(record sinkRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open ledger file %s: %w", s.path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write ledger record: %w", err)
	}
	return nil
}
