package messaging

import (
	"context"
	"testing"

	"github.com/herbalis/salesbot/internal/whatsapp"
)

func TestWhatsAppServiceEmitsSentReceipt(t *testing.T) {
	svc := NewWhatsAppService(&whatsapp.MockClient{}, nil)
	if err := svc.SendMessage(context.Background(), "5491155550000", "hola"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	select {
	case receipt := <-svc.Receipts():
		if receipt.To != "5491155550000" {
			t.Errorf("unexpected receipt recipient %q", receipt.To)
		}
	default:
		t.Fatal("expected a sent receipt")
	}
}

func TestWhatsAppServiceStopSuppressesEmits(t *testing.T) {
	svc := NewWhatsAppService(&whatsapp.MockClient{}, nil)
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	// A send after Stop must drop its receipt, not panic on the closed
	// channel.
	if err := svc.SendMessage(context.Background(), "5491155550000", "hola"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
}
