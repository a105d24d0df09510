package main

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/herbalis/salesbot/internal/genai"
	"github.com/herbalis/salesbot/internal/messaging"
)

func TestSplitNumbers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"single", "5491155550000", []string{"5491155550000"}},
		{"multiple with spaces", "5491155550000, 5491155550001 ,5491155550002", []string{"5491155550000", "5491155550001", "5491155550002"}},
		{"trailing comma", "5491155550000,", []string{"5491155550000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := splitNumbers(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitNumbers(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestEnvironmentConfigDefaults(t *testing.T) {
	t.Setenv("SALESBOT_STATE_DIR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WHATSAPP_DB_DSN", "")
	t.Setenv("ORDERS_EXPORT_PATH", "")
	t.Setenv("CHANNEL", "")
	t.Setenv("DEBOUNCE_WINDOW", "")
	t.Setenv("MODEL_MAX_RETRIES", "")

	config := loadEnvironmentConfig()
	if config.StateDir != DefaultStateDir {
		t.Errorf("expected default state dir, got %q", config.StateDir)
	}
	if config.DatabaseURL != filepath.Join(DefaultStateDir, DefaultDBFileName) {
		t.Errorf("conversation DB should default into the state dir, got %q", config.DatabaseURL)
	}
	if config.WhatsAppDSN != filepath.Join(DefaultStateDir, DefaultWhatsAppDBFileName) {
		t.Errorf("session DB should default into the state dir, got %q", config.WhatsAppDSN)
	}
	if config.OrdersExport != filepath.Join(DefaultStateDir, DefaultOrdersExport) {
		t.Errorf("orders export should default into the state dir, got %q", config.OrdersExport)
	}
	if config.Channel != "whatsmeow" {
		t.Errorf("channel should default to whatsmeow, got %q", config.Channel)
	}
	if config.Debounce != messaging.DefaultDebounceWindow {
		t.Errorf("debounce should default to the messaging window, got %v", config.Debounce)
	}
	if config.ModelRetries != genai.DefaultMaxRetries {
		t.Errorf("model retries should default to the gateway budget, got %d", config.ModelRetries)
	}
}

func TestEnvironmentConfigOverrides(t *testing.T) {
	t.Setenv("SALESBOT_STATE_DIR", "/tmp/bot-state")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/bot")
	t.Setenv("CHANNEL", "twilio")
	t.Setenv("DEBOUNCE_WINDOW", "5s")
	t.Setenv("MODEL_MAX_RETRIES", "2")

	config := loadEnvironmentConfig()
	if config.StateDir != "/tmp/bot-state" {
		t.Errorf("state dir override ignored, got %q", config.StateDir)
	}
	if config.DatabaseURL != "postgres://u:p@localhost/bot" {
		t.Errorf("database URL override ignored, got %q", config.DatabaseURL)
	}
	if config.Channel != "twilio" {
		t.Errorf("channel override ignored, got %q", config.Channel)
	}
	if config.WhatsAppDSN != filepath.Join("/tmp/bot-state", DefaultWhatsAppDBFileName) {
		t.Errorf("session DB should follow the state dir, got %q", config.WhatsAppDSN)
	}
	if config.Debounce != 5*time.Second {
		t.Errorf("debounce override ignored, got %v", config.Debounce)
	}
	if config.ModelRetries != 2 {
		t.Errorf("model retries override ignored, got %d", config.ModelRetries)
	}
}
