package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/herbalis/salesbot/internal/models"
)

// InMemoryStore keeps everything in maps; used by tests and dry runs.
// States are copied through JSON on the way in and out so callers never
// alias stored data.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]byte
	orders        map[string]models.Order
	orderSeq      []string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		conversations: make(map[string][]byte),
		orders:        make(map[string]models.Order),
	}
}

func (s *InMemoryStore) GetConversation(phone string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.conversations[phone]
	if !ok {
		return nil, nil
	}
	var state models.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", phone, err)
	}
	return &state, nil
}

func (s *InMemoryStore) SaveConversation(state *models.ConversationState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", state.Phone, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[state.Phone] = raw
	return nil
}

func (s *InMemoryStore) ListConversations() ([]*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	phones := make([]string, 0, len(s.conversations))
	for phone := range s.conversations {
		phones = append(phones, phone)
	}
	sort.Strings(phones)

	states := make([]*models.ConversationState, 0, len(phones))
	for _, phone := range phones {
		var state models.ConversationState
		if err := json.Unmarshal(s.conversations[phone], &state); err != nil {
			return nil, fmt.Errorf("failed to decode conversation %s: %w", phone, err)
		}
		states = append(states, &state)
	}
	return states, nil
}

func (s *InMemoryStore) DeleteConversation(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, phone)
	return nil
}

func (s *InMemoryStore) AddOrder(order models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = order
	s.orderSeq = append(s.orderSeq, order.ID)
	return nil
}

func (s *InMemoryStore) UpdateOrderStatus(orderID string, status models.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = order
	return nil
}

func (s *InMemoryStore) GetOrders() ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]models.Order, 0, len(s.orderSeq))
	for _, id := range s.orderSeq {
		orders = append(orders, s.orders[id])
	}
	return orders, nil
}

func (s *InMemoryStore) FindPendingOrderByPhone(phone string) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.orderSeq) - 1; i >= 0; i-- {
		order := s.orders[s.orderSeq[i]]
		if order.UserPhone == phone && order.Status != models.OrderStatusConfirmed {
			o := order
			return &o, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) Close() error { return nil }
