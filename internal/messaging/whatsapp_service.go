package messaging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/herbalis/salesbot/internal/models"
	"github.com/herbalis/salesbot/internal/whatsapp"
)

// Transcriber converts a voice note into text.
type Transcriber interface {
	TranscribeAudio(ctx context.Context, audio io.Reader) (string, error)
}

// WhatsAppService implements Service over the Whatsmeow-based client.
// Voice notes are transcribed at the edge when a Transcriber is wired,
// so the rest of the pipeline only sees text.
type WhatsAppService struct {
	client      whatsapp.Sender
	waClient    *whatsapp.Client // nil when running against a mock
	transcriber Transcriber
	receipts    chan models.Receipt
	responses   chan models.Response
	done        chan struct{}
}

// NewWhatsAppService wraps a whatsapp sender. transcriber may be nil;
// voice notes are then acknowledged with a canned reply upstream.
func NewWhatsAppService(client whatsapp.Sender, transcriber Transcriber) *WhatsAppService {
	service := &WhatsAppService{
		client:      client,
		transcriber: transcriber,
		receipts:    make(chan models.Receipt, DefaultChannelBufferSize),
		responses:   make(chan models.Response, DefaultChannelBufferSize),
		done:        make(chan struct{}),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
	}
	return service
}

func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhone(recipient)
}

// Start registers the event handler when a full client is available.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil {
		slog.Debug("WhatsAppService.Start: no live client, skipping event handling")
		return nil
	}
	go s.handleEvents(ctx)
	return nil
}

func (s *WhatsAppService) Stop() error {
	close(s.done)
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendMessage sends a text and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := s.client.SendMessage(ctx, canonical, body); err != nil {
		return err
	}
	s.emitReceipt(models.Receipt{To: canonical, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

func (s *WhatsAppService) Receipts() <-chan models.Receipt   { return s.receipts }
func (s *WhatsAppService) Responses() <-chan models.Response { return s.responses }

func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService.handleEvents: no client available")
		return
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		}
	})
	select {
	case <-ctx.Done():
	case <-s.done:
	}
}

// handleIncomingMessage extracts text from an inbound event. Group chats
// and non-text, non-audio payloads are ignored.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil || evt.Info.IsGroup || evt.Info.IsFromMe {
		return
	}

	kind := "text"
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.AudioMessage != nil:
		kind = "audio"
		text = s.transcribeVoiceNote(ctx, evt)
		if text == "" {
			return
		}
	default:
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message",
			"from", evt.Info.Sender.User)
		return
	}

	response := models.Response{
		From: evt.Info.Sender.User,
		Body: text,
		Kind: kind,
		Time: evt.Info.Timestamp.Unix(),
	}
	if s.stopped() {
		return
	}
	select {
	case s.responses <- response:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.handleIncomingMessage: responses channel blocked, dropping",
			"from", response.From)
	}
}

// stopped reports whether Stop already closed the outbound channels.
func (s *WhatsAppService) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// transcribeVoiceNote downloads and transcribes an audio message. Errors
// degrade to an empty transcript; the caller drops the event.
func (s *WhatsAppService) transcribeVoiceNote(ctx context.Context, evt *events.Message) string {
	if s.transcriber == nil || s.waClient == nil {
		slog.Debug("WhatsAppService.transcribeVoiceNote: transcription not configured",
			"from", evt.Info.Sender.User)
		return ""
	}
	data, err := s.waClient.DownloadAudio(ctx, evt.Message.AudioMessage)
	if err != nil {
		slog.Error("WhatsAppService.transcribeVoiceNote: download failed",
			"from", evt.Info.Sender.User, "error", err)
		return ""
	}
	text, err := s.transcriber.TranscribeAudio(ctx, bytes.NewReader(data))
	if err != nil {
		slog.Error("WhatsAppService.transcribeVoiceNote: transcription failed",
			"from", evt.Info.Sender.User, "error", err)
		return ""
	}
	slog.Info("WhatsAppService.transcribeVoiceNote: voice note transcribed",
		"from", evt.Info.Sender.User, "length", len(text))
	return text
}

func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.emitReceipt(models.Receipt{
		To:     evt.MessageSource.Sender.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	})
}

func (s *WhatsAppService) emitReceipt(receipt models.Receipt) {
	if s.stopped() {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService.emitReceipt: receipts channel blocked, dropping",
			"to", receipt.To)
	}
}
