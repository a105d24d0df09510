// Package models defines the core data structures for the sales assistant.
//
// It includes the per-user conversation state, cart and order records,
// operator alerts, and the shared error variables used across modules.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient        = errors.New("recipient cannot be empty")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrOrderNotFound         = errors.New("order not found")
	ErrRateLimited           = errors.New("model rate limited")
	ErrServiceUnavailable    = errors.New("model service unavailable after retries")
	ErrGeocodeUnavailable    = errors.New("geocoding service unavailable")
	ErrUserPaused            = errors.New("user is paused for human handling")
	ErrNoChoicesReturned     = errors.New("no choices returned from model")
	ErrMissingProductOrPlan  = errors.New("product or plan not selected")
	ErrAddressIncomplete     = errors.New("address is incomplete")
	ErrKnowledgeStepNotFound = errors.New("knowledge base has no node for step")
)

// HistoryRole identifies who produced a history entry.
type HistoryRole string

const (
	RoleUser   HistoryRole = "user"
	RoleBot    HistoryRole = "bot"
	RoleAdmin  HistoryRole = "admin"
	RoleSystem HistoryRole = "system"
)

// HistoryEntry is one message in a conversation transcript.
type HistoryEntry struct {
	Role    HistoryRole `json:"role"`
	Content string      `json:"content"`
}

// History compaction thresholds: once a transcript exceeds
// HistoryMaxEntries it is condensed to the HistoryKeepRecent most recent
// entries plus a summary.
const (
	HistoryMaxEntries = 15
	HistoryKeepRecent = 5
)

// CartItem is one product+plan line selected by the customer.
type CartItem struct {
	Product  string `json:"product"`
	PlanDays int    `json:"plan_days"`
	Price    int    `json:"price"`
}

// PartialAddress accumulates address fields across turns. Nil pointers mean
// the field has not been captured yet.
type PartialAddress struct {
	Name       *string `json:"name,omitempty"`
	Street     *string `json:"street,omitempty"`
	City       *string `json:"city,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
	Province   *string `json:"province,omitempty"`
}

// Complete reports whether enough fields are present to attempt an order:
// all four core fields, or street+city with at most one other field missing.
func (a *PartialAddress) Complete() bool {
	if a == nil {
		return false
	}
	missing := 0
	for _, f := range []*string{a.Name, a.Street, a.City, a.PostalCode} {
		if f == nil || *f == "" {
			missing++
		}
	}
	if missing == 0 {
		return true
	}
	hasStreet := a.Street != nil && *a.Street != ""
	hasCity := a.City != nil && *a.City != ""
	return hasStreet && hasCity && missing <= 1
}

// Merge copies non-empty fields of other into a, never overwriting a field
// that is already set.
func (a *PartialAddress) Merge(other *PartialAddress) {
	if other == nil {
		return
	}
	merge := func(dst **string, src *string) {
		if (*dst == nil || **dst == "") && src != nil && *src != "" {
			*dst = src
		}
	}
	merge(&a.Name, other.Name)
	merge(&a.Street, other.Street)
	merge(&a.City, other.City)
	merge(&a.PostalCode, other.PostalCode)
	merge(&a.Province, other.Province)
}

// PendingOrder snapshots the cart and delivery address at the moment the
// customer finished data collection, awaiting human or automatic approval.
type PendingOrder struct {
	Cart      []CartItem     `json:"cart"`
	Address   PartialAddress `json:"address"`
	Total     int            `json:"total"`
	CreatedAt time.Time      `json:"created_at"`
}

// ConversationState is the per-user record owned by the sales flow engine
// and shared with the scheduler and the admin command interpreter.
type ConversationState struct {
	Phone          string         `json:"phone"`
	Name           string         `json:"name,omitempty"`
	Step           Step           `json:"step"`
	StepEnteredAt  time.Time      `json:"step_entered_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	History        []HistoryEntry `json:"history"`
	Summary        string         `json:"summary,omitempty"`

	SelectedProduct string          `json:"selected_product,omitempty"`
	SelectedPlan    int             `json:"selected_plan,omitempty"`
	Cart            []CartItem      `json:"cart,omitempty"`
	PartialAddress  *PartialAddress `json:"partial_address,omitempty"`
	PendingOrder    *PendingOrder   `json:"pending_order,omitempty"`
	TotalPrice      int             `json:"total_price,omitempty"`
	ContraMAX       bool            `json:"contra_reembolso_max,omitempty"`
	AdicionalMAX    int             `json:"adicional_max,omitempty"`
	Postdated       string          `json:"postdated,omitempty"`

	AddressAttempts  int  `json:"address_attempts,omitempty"`
	WeightRefusals   int  `json:"weight_refusals,omitempty"`
	StaleAlerted     bool `json:"stale_alerted,omitempty"`
	ReengagementSent bool `json:"reengagement_sent,omitempty"`
	CartRecovered    bool `json:"cart_recovered,omitempty"`
	Paused           bool `json:"paused,omitempty"`
	SafetyFlagged    bool `json:"safety_flagged,omitempty"`
	SafetyResolved   bool `json:"safety_resolved,omitempty"`
}

// NewConversationState creates a fresh conversation at the greeting step.
func NewConversationState(phone string, now time.Time) *ConversationState {
	return &ConversationState{
		Phone:          phone,
		Step:           StepGreeting,
		StepEnteredAt:  now,
		LastActivityAt: now,
	}
}

// TransitionTo moves the conversation to a new step, resetting the step
// timestamp and the per-step scheduler flags.
func (c *ConversationState) TransitionTo(step Step, now time.Time) {
	c.Step = step
	c.StepEnteredAt = now
	c.StaleAlerted = false
	c.ReengagementSent = false
	c.CartRecovered = false
}

// AppendHistory appends one transcript entry.
func (c *ConversationState) AppendHistory(role HistoryRole, content string) {
	c.History = append(c.History, HistoryEntry{Role: role, Content: content})
}

// LastBotMessage returns the most recent bot entry, or "" when none exists.
func (c *ConversationState) LastBotMessage() string {
	for i := len(c.History) - 1; i >= 0; i-- {
		if c.History[i].Role == RoleBot {
			return c.History[i].Content
		}
	}
	return ""
}

// ResetOrderFields clears the in-progress selection so the funnel can
// restart from product preference (used by re-purchase and step resets).
func (c *ConversationState) ResetOrderFields() {
	c.SelectedProduct = ""
	c.SelectedPlan = 0
	c.Cart = nil
	c.PartialAddress = nil
	c.PendingOrder = nil
	c.TotalPrice = 0
	c.ContraMAX = false
	c.AdicionalMAX = 0
	c.Postdated = ""
	c.AddressAttempts = 0
}

// OrderStatus tracks the lifecycle of a recorded order.
type OrderStatus string

const (
	OrderStatusPending      OrderStatus = "pendiente"
	OrderStatusConfirmed    OrderStatus = "confirmado"
	OrderStatusAutoApproved OrderStatus = "auto_aprobado"
	OrderStatusPostdated    OrderStatus = "postergado"
)

// Order is a finalized sale recorded in the local ledger and exported to
// the external order sink.
type Order struct {
	ID        string         `json:"id"`
	UserPhone string         `json:"user_phone"`
	UserName  string         `json:"user_name,omitempty"`
	Cart      []CartItem     `json:"cart"`
	Address   PartialAddress `json:"address"`
	Total     int            `json:"total"`
	Status    OrderStatus    `json:"status"`
	Postdated string         `json:"postdated,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Alert notifies the human operator that a conversation needs attention.
type Alert struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	Reason      string        `json:"reason"`
	UserPhone   string        `json:"user_phone"`
	UserName    string        `json:"user_name,omitempty"`
	Details     string        `json:"details,omitempty"`
	OrderData   *PendingOrder `json:"order_data,omitempty"`
	Suggestions []string      `json:"suggestions,omitempty"`
}

// Response represents an inbound message from a customer.
type Response struct {
	From string `json:"from"`
	Body string `json:"body"`
	Kind string `json:"kind,omitempty"` // "text" or "audio"
	Time int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt represents a delivery/read receipt for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}
