// Package messaging connects transport channels (Whatsmeow, Twilio) to
// the conversation engine.
//
// A Service abstracts one delivery channel; the Dispatcher consumes its
// inbound stream, coalesces message bursts per customer, and drives the
// flow engine. Operator numbers are routed to the admin interpreter
// instead.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/herbalis/salesbot/internal/models"
)

const (
	// DefaultChannelBufferSize is the buffer for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds non-blocking channel writes.
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped is returned when sending through a stopped service.
var ErrServiceStopped = errors.New("messaging: service stopped")

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service is a pluggable message delivery channel.
type Service interface {
	// ValidateAndCanonicalizeRecipient normalizes a recipient identifier
	// to the channel's wire format.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Start begins background processing (event polling, webhooks).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts streams delivery receipts for outbound messages.
	Receipts() <-chan models.Receipt

	// Responses streams inbound customer messages.
	Responses() <-chan models.Response
}

// CanonicalizePhone strips formatting and validates a bare phone number.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("messaging: recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", errors.New("messaging: no digits in recipient")
	}
	if len(canonical) < 6 {
		return "", errors.New("messaging: recipient number too short")
	}
	return canonical, nil
}
